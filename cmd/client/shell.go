package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/juju/errors"
	"github.com/juju/webbrowser"

	"ailearning/client/internal/app"
	"ailearning/client/internal/idle"
	"ailearning/client/internal/model"
)

// terminal is the user-facing side: notices, navigation and the payment page.
type terminal struct {
	out         io.Writer
	openBrowser bool

	mu   sync.Mutex
	path string
}

func newTerminal(out io.Writer, openBrowser bool) *terminal {
	return &terminal{out: out, openBrowser: openBrowser, path: app.LandingPath}
}

func (t *terminal) printf(format string, args ...interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}

func (t *terminal) Notice(message string) {
	t.printf("! %s\n", message)
}

func (t *terminal) Navigate(path string) {
	t.mu.Lock()
	t.path = path
	t.mu.Unlock()
	t.printf("-> %s\n", path)
}

func (t *terminal) location() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.path
}

func (t *terminal) visit(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.path = path
}

func (t *terminal) openPayment(raw string) {
	t.printf("continue the payment at %s\n", raw)
	if !t.openBrowser {
		return
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.printf("! cannot open %q: %v\n", raw, err)
		return
	}
	if err := webbrowser.Open(u); err != nil {
		t.printf("! cannot open a browser: %v\n", err)
	}
}

type shell struct {
	app  *app.App
	term *terminal
}

const usage = `commands:
  login <email> <password>   sign in
  logout                     sign out
  whoami                     show the session
  notifications              list notifications
  bell                       open or close the notification bell
  progress [course]          show progress for all courses or one
  complete <course> <lesson> mark a lesson completed
  balance                    refresh and show the wallet balance
  topup <amount>             top up the wallet
  buy <course>               purchase a course
  quit                       exit
`

// run reads one command per line until EOF, quit, or ctx ends. Every line counts
// as a key press for the idle guard.
func (s *shell) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		s.app.Activity(idle.KeyPress)
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		quit, err := s.exec(ctx, strings.Fields(line))
		if err != nil {
			s.term.printf("error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
	return scanner.Err()
}

func (s *shell) exec(ctx context.Context, args []string) (bool, error) {
	switch args[0] {
	case "quit", "exit":
		return true, nil
	case "help":
		s.term.printf("%s", usage)
	case "login":
		if len(args) != 3 {
			return false, errors.NotValidf("usage: login <email> <password>")
		}
		id, err := s.app.Login(ctx, args[1], args[2])
		if err != nil {
			return false, err
		}
		s.term.printf("signed in as %s (%s)\n", id.Principal(), id.Role)
	case "logout":
		return false, s.app.Logout(ctx)
	case "whoami":
		id, ok := s.app.Session.Current()
		if !ok {
			s.term.printf("anonymous\n")
			return false, nil
		}
		s.term.printf("%s %s role=%s push=%v\n", id.UserID, id.Principal(), id.Role, s.app.Channel.Connected())
	case "notifications":
		s.printNotifications(s.app.Notifications.Store().List())
	case "bell":
		open, err := s.app.Bell.Toggle(ctx)
		if err != nil {
			return false, err
		}
		if open {
			s.printNotifications(s.app.Notifications.Store().List())
		}
	case "progress":
		return false, s.progress(ctx, args[1:])
	case "complete":
		if len(args) != 3 {
			return false, errors.NotValidf("usage: complete <course> <lesson>")
		}
		rec, err := s.app.Progress.CompleteLesson(ctx, args[1], args[2])
		if err != nil {
			return false, err
		}
		s.printProgress(rec)
	case "balance":
		balance, err := s.app.Wallet.Reconciler().Fetch(ctx)
		if err != nil {
			return false, err
		}
		s.term.printf("balance: %s\n", formatAmount(balance))
	case "topup":
		if len(args) != 2 {
			return false, errors.NotValidf("usage: topup <amount>")
		}
		amount, err := parseAmount(args[1])
		if err != nil {
			return false, err
		}
		res, err := s.app.Wallet.TopUp(ctx, amount, s.term.location())
		if err != nil {
			return false, err
		}
		switch {
		case res.Balance != nil:
			s.term.printf("balance: %s\n", formatAmount(*res.Balance))
		case res.RedirectURL != "":
			s.term.openPayment(res.RedirectURL)
		default:
			s.term.printf("%s\n", res.Message)
		}
	case "buy":
		if len(args) != 2 {
			return false, errors.NotValidf("usage: buy <course>")
		}
		res, err := s.app.Wallet.Purchase(ctx, args[1])
		if err != nil {
			return false, err
		}
		s.term.printf("%s\n", res.Message)
		if res.Balance != nil {
			s.term.printf("balance: %s\n", formatAmount(*res.Balance))
		}
	default:
		return false, errors.NotValidf("command %q (try help)", args[0])
	}
	return false, nil
}

func (s *shell) progress(ctx context.Context, args []string) error {
	if len(args) == 0 {
		s.term.visit("/student/progress")
		list, err := s.app.Progress.FetchAll(ctx)
		if err != nil {
			return err
		}
		for _, rec := range list {
			s.printProgress(rec)
		}
		return nil
	}
	s.term.visit("/student/courses/" + args[0])
	rec, err := s.app.Progress.FetchOne(ctx, args[0])
	if err != nil {
		return err
	}
	s.printProgress(rec)
	return nil
}

func (s *shell) printNotifications(list []model.Notification) {
	if len(list) == 0 {
		s.term.printf("no notifications\n")
		return
	}
	for _, n := range list {
		mark := "*"
		if n.IsRead {
			mark = " "
		}
		s.term.printf("%s %d %s\n", mark, n.ID, n.Message)
	}
}

func (s *shell) printProgress(rec model.Progress) {
	s.term.printf("%s %d/%d %s %v\n", rec.CourseID, rec.CompletedLessons, rec.TotalLessons, rec.Status, rec.CompletedLessonIDs)
}

func parseAmount(raw string) (float64, error) {
	amount, err := strconv.ParseFloat(raw, 64)
	if err != nil || amount <= 0 {
		return 0, errors.NotValidf("amount %q", raw)
	}
	return amount, nil
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
