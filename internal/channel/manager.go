// Package channel keeps one push connection open for the active session.
//
// The channel is best effort: while connected, payloads reach the handler once and
// in transport order. Nothing is replayed after a drop; callers close the gap by
// reloading their snapshot when OnConnected reports a reconnect.
package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"

	"ailearning/client/internal/metrics"
	"ailearning/client/internal/session"
)

var logger = loggo.GetLogger("ailearning.client.channel")

// Conn is one established subscription.
type Conn interface {
	// Next blocks until the next payload arrives or the connection fails.
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// Transport dials a subscription to topic on behalf of credential.
type Transport interface {
	Dial(ctx context.Context, topic, credential string) (Conn, error)
}

// Handler consumes one payload. A returned error marks the payload as dropped.
type Handler func(payload []byte) error

// Logger represents the methods used by the manager to log information.
type Logger interface {
	Debugf(string, ...interface{})
	Infof(string, ...interface{})
	Warningf(string, ...interface{})
}

type Config struct {
	Transport      Transport
	Handler        Handler
	Topic          func(session.Identity) string
	Clock          clock.Clock
	ReconnectDelay time.Duration
	// OnConnected runs on the delivery goroutine after every successful dial.
	// It must not block and must not call Disconnect.
	OnConnected func(reconnect bool)
	Metrics     *metrics.Metrics
	Logger      Logger
}

func (c Config) Validate() error {
	if c.Transport == nil {
		return errors.NotValidf("nil Transport")
	}
	if c.Handler == nil {
		return errors.NotValidf("nil Handler")
	}
	if c.Topic == nil {
		return errors.NotValidf("nil Topic")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if c.ReconnectDelay <= 0 {
		return errors.NotValidf("reconnect delay %s", c.ReconnectDelay)
	}
	return nil
}

type Manager struct {
	cfg Config

	mu     sync.Mutex
	active *connection
}

func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger
	}
	return &Manager{cfg: cfg}, nil
}

type connection struct {
	identity session.Identity
	topic    string
	cancel   context.CancelFunc
	done     chan struct{}

	mu        sync.Mutex
	conn      Conn
	connected bool
}

func (c *connection) setConn(conn Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
	c.connected = conn != nil
}

func (c *connection) closeConn() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Connect binds the channel to id. It returns once the delivery loop is running;
// dialing and redialing happen in the background.
func (m *Manager) Connect(id session.Identity) error {
	m.mu.Lock()
	if m.active != nil && m.active.identity.Same(id) {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()
	m.Disconnect()

	topic := m.cfg.Topic(id)
	if topic == "" {
		return errors.NotValidf("empty topic for %s", id.UserID)
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &connection{
		identity: id,
		topic:    topic,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	m.mu.Lock()
	if m.active != nil {
		// Lost a race with a concurrent Connect; keep the winner.
		m.mu.Unlock()
		cancel()
		return m.Connect(id)
	}
	m.active = c
	m.mu.Unlock()

	go m.run(ctx, c)
	return nil
}

// Disconnect tears the connection down and waits for the delivery loop to exit.
// It must not be called from the handler.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	c := m.active
	m.active = nil
	m.mu.Unlock()
	if c == nil {
		return
	}
	c.cancel()
	c.closeConn()
	<-c.done
	m.cfg.Logger.Debugf("push channel for %s closed", c.topic)
}

// Connected reports whether a subscription is currently established.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	c := m.active
	m.mu.Unlock()
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Topic returns the topic of the bound identity, or "" when disconnected.
func (m *Manager) Topic() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return ""
	}
	return m.active.topic
}

func (m *Manager) run(ctx context.Context, c *connection) {
	defer close(c.done)
	established := false
	for {
		conn, err := m.cfg.Transport.Dial(ctx, c.topic, c.identity.Credential)
		if ctx.Err() != nil {
			if conn != nil {
				_ = conn.Close()
			}
			return
		}
		if err != nil {
			m.cfg.Metrics.DialFailed()
			m.cfg.Logger.Debugf("push channel dial %s failed: %v", c.topic, err)
		} else {
			c.setConn(conn)
			m.cfg.Metrics.ChannelConnected(established)
			m.cfg.Logger.Infof("push channel subscribed to %s", c.topic)
			if m.cfg.OnConnected != nil {
				m.cfg.OnConnected(established)
			}
			established = true

			err = m.pump(ctx, conn)
			c.closeConn()
			if ctx.Err() != nil {
				return
			}
			m.cfg.Logger.Infof("push channel %s dropped: %v", c.topic, err)
		}

		select {
		case <-ctx.Done():
			return
		case <-m.cfg.Clock.After(m.cfg.ReconnectDelay):
		}
	}
}

func (m *Manager) pump(ctx context.Context, conn Conn) error {
	for {
		payload, err := conn.Next(ctx)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.deliver(payload)
	}
}

func (m *Manager) deliver(payload []byte) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panic: %v", r)
			}
		}()
		return m.cfg.Handler(payload)
	}()
	if err != nil {
		m.cfg.Metrics.PushDropped()
		m.cfg.Logger.Warningf("dropping push payload: %v", err)
		return
	}
	m.cfg.Metrics.PushDelivered()
}
