package channel

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"

	"ailearning/client/internal/metrics"
	"ailearning/client/internal/session"
)

const waitTimeout = 5 * time.Second

type fakeConn struct {
	msgs   chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{msgs: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) Next(ctx context.Context) ([]byte, error) {
	select {
	case <-c.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg := <-c.msgs:
		return msg, nil
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type fakeTransport struct {
	conns chan *fakeConn

	mu       sync.Mutex
	dials    []string
	failures int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{conns: make(chan *fakeConn, 8)}
}

func (f *fakeTransport) Dial(_ context.Context, topic, credential string) (Conn, error) {
	f.mu.Lock()
	f.dials = append(f.dials, topic+"|"+credential)
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	f.conns <- c
	return c, nil
}

func (f *fakeTransport) dialed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.dials...)
}

func (f *fakeTransport) next(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-f.conns:
		return c
	case <-time.After(waitTimeout):
		t.Fatalf("no connection dialed")
	}
	return nil
}

func topicFor(id session.Identity) string {
	return "/user/" + id.Principal() + "/queue/notifications"
}

type harness struct {
	manager   *Manager
	transport *fakeTransport
	clock     *testclock.Clock
	received  chan string
	connected chan bool
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		transport: newFakeTransport(),
		clock:     testclock.NewClock(time.Date(2026, 1, 25, 9, 0, 0, 0, time.UTC)),
		received:  make(chan string, 16),
		connected: make(chan bool, 16),
	}
	m, err := NewManager(Config{
		Transport: h.transport,
		Handler: func(payload []byte) error {
			switch string(payload) {
			case "bad":
				return errors.NotValidf("payload")
			case "panic":
				panic("boom")
			}
			h.received <- string(payload)
			return nil
		},
		Topic:          topicFor,
		Clock:          h.clock,
		ReconnectDelay: 5 * time.Second,
		OnConnected:    func(reconnect bool) { h.connected <- reconnect },
		Metrics:        metrics.New(),
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	h.manager = m
	t.Cleanup(m.Disconnect)
	return h
}

func (h *harness) expectConnected(t *testing.T, reconnect bool) {
	t.Helper()
	select {
	case got := <-h.connected:
		if got != reconnect {
			t.Fatalf("expected reconnect=%v, got %v", reconnect, got)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("channel never connected")
	}
}

func (h *harness) expectPayload(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-h.received:
		if got != want {
			t.Fatalf("expected payload %q, got %q", want, got)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("payload %q never delivered", want)
	}
}

var alice = session.Identity{UserID: "u1", Email: "alice@demo.local", Credential: "tok-1"}

func TestDeliversInOrderAndSurvivesBadPayloads(t *testing.T) {
	h := newHarness(t)
	if err := h.manager.Connect(alice); err != nil {
		t.Fatalf("connect: %v", err)
	}
	conn := h.transport.next(t)
	h.expectConnected(t, false)

	for _, msg := range []string{"1", "bad", "panic", "2", "3"} {
		conn.msgs <- []byte(msg)
	}
	h.expectPayload(t, "1")
	h.expectPayload(t, "2")
	h.expectPayload(t, "3")

	if !h.manager.Connected() {
		t.Fatalf("expected channel to stay connected")
	}
	if dials := h.transport.dialed(); len(dials) != 1 || dials[0] != "/user/alice@demo.local/queue/notifications|tok-1" {
		t.Fatalf("unexpected dials %v", dials)
	}
}

func TestConnectSameIdentityIsNoOp(t *testing.T) {
	h := newHarness(t)
	_ = h.manager.Connect(alice)
	first := h.transport.next(t)
	h.expectConnected(t, false)

	_ = h.manager.Connect(alice)
	if n := len(h.transport.dialed()); n != 1 {
		t.Fatalf("expected one dial, got %d", n)
	}

	bob := session.Identity{UserID: "u2", Email: "bob@demo.local", Credential: "tok-2"}
	if err := h.manager.Connect(bob); err != nil {
		t.Fatalf("connect bob: %v", err)
	}
	select {
	case <-first.closed:
	case <-time.After(waitTimeout):
		t.Fatalf("expected previous connection closed")
	}
	h.transport.next(t)
	h.expectConnected(t, false)
	if got := h.manager.Topic(); got != "/user/bob@demo.local/queue/notifications" {
		t.Fatalf("unexpected topic %q", got)
	}
}

func TestReconnectsAfterFixedDelay(t *testing.T) {
	h := newHarness(t)
	_ = h.manager.Connect(alice)
	conn := h.transport.next(t)
	h.expectConnected(t, false)

	_ = conn.Close()
	if err := h.clock.WaitAdvance(4*time.Second, waitTimeout, 1); err != nil {
		t.Fatalf("advance: %v", err)
	}
	select {
	case <-h.transport.conns:
		t.Fatalf("redialed before the reconnect delay")
	case <-time.After(50 * time.Millisecond):
	}
	if err := h.clock.WaitAdvance(time.Second, waitTimeout, 1); err != nil {
		t.Fatalf("advance: %v", err)
	}
	again := h.transport.next(t)
	h.expectConnected(t, true)

	again.msgs <- []byte("after")
	h.expectPayload(t, "after")
	dials := h.transport.dialed()
	if len(dials) != 2 || dials[0] != dials[1] {
		t.Fatalf("expected resubscription to the same topic, got %v", dials)
	}
}

func TestRetriesFailedDials(t *testing.T) {
	h := newHarness(t)
	h.transport.failures = 2
	_ = h.manager.Connect(alice)

	for i := 0; i < 2; i++ {
		if err := h.clock.WaitAdvance(5*time.Second, waitTimeout, 1); err != nil {
			t.Fatalf("advance %d: %v", i, err)
		}
	}
	h.transport.next(t)
	h.expectConnected(t, false)
	if !h.manager.Connected() {
		t.Fatalf("expected connected after retries")
	}
	if n := len(h.transport.dialed()); n != 3 {
		t.Fatalf("expected three dials, got %d", n)
	}
}

func TestDisconnectStopsRedialing(t *testing.T) {
	h := newHarness(t)
	h.transport.failures = 1
	_ = h.manager.Connect(alice)

	// Waits for the loop to sit in its backoff without firing it.
	if err := h.clock.WaitAdvance(time.Second, waitTimeout, 1); err != nil {
		t.Fatalf("advance: %v", err)
	}
	h.manager.Disconnect()
	h.clock.Advance(time.Minute)

	if n := len(h.transport.dialed()); n != 1 {
		t.Fatalf("expected no redial after disconnect, got %d dials", n)
	}
	if h.manager.Connected() || h.manager.Topic() != "" {
		t.Fatalf("expected disconnected manager")
	}
}

func TestDisconnectClosesLiveConnection(t *testing.T) {
	h := newHarness(t)
	_ = h.manager.Connect(alice)
	conn := h.transport.next(t)
	h.expectConnected(t, false)

	h.manager.Disconnect()
	select {
	case <-conn.closed:
	default:
		t.Fatalf("expected connection closed when Disconnect returns")
	}
	h.manager.Disconnect()
}

func TestConfigValidate(t *testing.T) {
	_, err := NewManager(Config{})
	if !errors.Is(err, errors.NotValid) {
		t.Fatalf("expected not valid, got %v", err)
	}
}
