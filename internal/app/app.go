// Package app wires the session, the push channel and the three stores into one
// synchronization layer with a single lifecycle.
package app

import (
	"context"
	"net/http"
	"sync"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"golang.org/x/sync/errgroup"

	"ailearning/client/internal/api"
	"ailearning/client/internal/channel"
	"ailearning/client/internal/config"
	"ailearning/client/internal/durable"
	"ailearning/client/internal/idle"
	"ailearning/client/internal/metrics"
	"ailearning/client/internal/model"
	"ailearning/client/internal/notifications"
	"ailearning/client/internal/progress"
	"ailearning/client/internal/session"
	"ailearning/client/internal/wallet"
)

var logger = loggo.GetLogger("ailearning.client.app")

// LandingPath is where the user is sent when a session ends.
const LandingPath = "/"

// Notifier shows a message to the user.
type Notifier interface {
	Notice(message string)
}

// Navigator moves the user to an in-app path.
type Navigator interface {
	Navigate(path string)
}

type Options struct {
	Config     config.Config
	Store      durable.Store
	Transport  channel.Transport
	HTTPClient *http.Client
	Clock      clock.Clock
	Metrics    *metrics.Metrics
	Notifier   Notifier
	Navigator  Navigator
}

type App struct {
	cfg       config.Config
	metrics   *metrics.Metrics
	notifier  Notifier
	navigator Navigator

	Session       *session.Manager
	API           *api.Client
	Channel       *channel.Manager
	Notifications *notifications.Service
	Bell          *notifications.Bell
	Progress      *progress.Service
	Wallet        *wallet.Service
	Landing       *wallet.Landing
	Idle          *idle.Guard

	background sync.WaitGroup
}

func New(opts Options) (*App, error) {
	if opts.Store == nil {
		return nil, errors.NotValidf("nil durable store")
	}
	if opts.Transport == nil {
		return nil, errors.NotValidf("nil push transport")
	}
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	if opts.Notifier == nil {
		opts.Notifier = logNotifier{}
	}
	if opts.Navigator == nil {
		opts.Navigator = logNavigator{}
	}

	a := &App{
		cfg:       opts.Config,
		metrics:   opts.Metrics,
		notifier:  opts.Notifier,
		navigator: opts.Navigator,
	}
	a.Session = session.NewManager(opts.Store, opts.Clock)
	a.API = api.New(opts.Config.APIBaseURL, opts.HTTPClient, a.Session.Credential)
	a.API.OnRejected(a.onRejected)

	a.Notifications = notifications.NewService(notifications.NewStore(), a.API, opts.Metrics)
	a.Bell = notifications.NewBell(a.Notifications)
	a.Progress = progress.NewService(progress.NewStore(), a.API)

	reconciler := wallet.NewReconciler(a.API, opts.Metrics)
	intents := wallet.NewIntents(opts.Store)
	a.Wallet = wallet.NewService(a.API, reconciler, intents)
	a.Landing = wallet.NewLanding(reconciler, intents, opts.Navigator, opts.Clock, opts.Config.RedirectDelay)

	ch, err := channel.NewManager(channel.Config{
		Transport: opts.Transport,
		Handler:   a.Notifications.HandlePush,
		Topic: func(id session.Identity) string {
			return opts.Config.Topic(id.Principal())
		},
		Clock:          opts.Clock,
		ReconnectDelay: opts.Config.ReconnectDelay,
		OnConnected:    a.onChannelConnected,
		Metrics:        opts.Metrics,
	})
	if err != nil {
		return nil, errors.Annotate(err, "building push channel")
	}
	a.Channel = ch
	a.Idle = idle.NewGuard(opts.Clock, opts.Config.IdleTimeout, func() {
		a.Session.End(context.Background(), session.ReasonIdle)
	})

	a.Session.OnStart(a.sessionStarted)
	a.Session.OnEnd(a.sessionEnded)
	return a, nil
}

// Start resumes a session persisted by an earlier run, if there is one.
func (a *App) Start(ctx context.Context) (session.Identity, bool, error) {
	return a.Session.Restore(ctx)
}

func (a *App) Login(ctx context.Context, email, password string) (session.Identity, error) {
	res, err := a.API.Login(ctx, email, password)
	if err != nil {
		return session.Identity{}, errors.Annotate(err, "login")
	}
	id := session.FromLogin(res)
	if err := a.Session.Begin(ctx, id); err != nil {
		return session.Identity{}, errors.Trace(err)
	}
	current, ok := a.Session.Current()
	if !ok {
		return session.Identity{}, errors.Unauthorizedf("session ended during start-up")
	}
	return current, nil
}

// Logout tells the server, then tears the session down whatever it answered.
func (a *App) Logout(ctx context.Context) error {
	if _, ok := a.Session.Current(); !ok {
		return nil
	}
	if err := a.API.Logout(ctx); err != nil && !errors.Is(err, errors.Unauthorized) {
		logger.Warningf("server logout failed: %v", err)
	}
	a.Session.End(ctx, session.ReasonLogout)
	return nil
}

// Activity feeds user input to the idle guard.
func (a *App) Activity(kind idle.Activity) {
	a.Idle.Record(kind)
}

// Resync reloads the notification snapshot while a session is active.
func (a *App) Resync(ctx context.Context) error {
	if _, ok := a.Session.Current(); !ok {
		return nil
	}
	return a.Notifications.Refresh(ctx)
}

// Close releases the process-local resources. The persisted session survives so
// the next run can restore it.
func (a *App) Close() {
	a.Idle.Stop()
	a.Channel.Disconnect()
	a.background.Wait()
}

func (a *App) sessionStarted(id session.Identity) {
	if err := a.Channel.Connect(id); err != nil {
		logger.Errorf("connecting push channel: %v", err)
	}
	a.Idle.Start()

	ctx, cancel := a.loadContext()
	defer cancel()
	if err := a.loadInitial(ctx, id); err != nil {
		logger.Warningf("initial load for %s: %v", id.UserID, err)
	}
}

// loadInitial fetches every store the role can see, concurrently.
func (a *App) loadInitial(ctx context.Context, id session.Identity) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Notifications.Refresh(ctx)
	})
	if id.Role == model.RoleStudent {
		g.Go(func() error {
			_, err := a.Progress.FetchAll(ctx)
			return err
		})
	}
	if id.Role.HasWallet() {
		g.Go(func() error {
			_, err := a.Wallet.Reconciler().Fetch(ctx)
			return err
		})
	}
	return g.Wait()
}

// sessionEnded tears down in dependency order: input, channel, stores, then the
// user is told and moved to the landing path.
func (a *App) sessionEnded(id session.Identity, reason session.Reason) {
	logger.Debugf("tearing down state of %s", id.UserID)
	a.Idle.Stop()
	a.Channel.Disconnect()
	a.Notifications.Store().Reset()
	a.Bell.Close()
	a.Progress.Store().Reset()
	a.Wallet.Reconciler().Reset()
	a.metrics.SessionEnded(string(reason))

	if reason == session.ReasonReplaced {
		return
	}
	if reason.Forced() {
		a.notifier.Notice(noticeFor(reason))
	}
	a.navigator.Navigate(LandingPath)
}

func noticeFor(reason session.Reason) string {
	switch reason {
	case session.ReasonIdle:
		return "You were signed out after a period of inactivity."
	case session.ReasonRejected:
		return "Your session is no longer valid. Please sign in again."
	case session.ReasonExpired:
		return "Your session has expired. Please sign in again."
	}
	return "You have been signed out."
}

func (a *App) onRejected(credential string, statusCode int) {
	if !a.Session.EndIfCredential(context.Background(), credential, session.ReasonRejected) {
		logger.Debugf("ignoring %d for a credential that is no longer active", statusCode)
		return
	}
	logger.Infof("credential rejected with %d, session ended", statusCode)
}

// onChannelConnected runs on the channel's delivery goroutine, so the reload
// happens elsewhere: a rejection inside it ends the session, which waits for that
// goroutine to exit.
func (a *App) onChannelConnected(reconnect bool) {
	if !reconnect {
		return
	}
	a.background.Add(1)
	go func() {
		defer a.background.Done()
		ctx, cancel := a.loadContext()
		defer cancel()
		if err := a.Resync(ctx); err != nil {
			logger.Warningf("reloading notifications after reconnect: %v", err)
		}
	}()
}

func (a *App) loadContext() (context.Context, context.CancelFunc) {
	if a.cfg.ResyncTimeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), a.cfg.ResyncTimeout)
}

type logNotifier struct{}

func (logNotifier) Notice(message string) { logger.Infof("notice: %s", message) }

type logNavigator struct{}

func (logNavigator) Navigate(path string) { logger.Infof("navigate: %s", path) }
