package channel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"
)

// fakeBroker accepts one STOMP session per connection and pushes the given bodies.
func fakeBroker(t *testing.T, bodies ...string) (string, chan frame) {
	t.Helper()
	seen := make(chan frame, 4)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		send := func(data []byte) { _ = ws.WriteMessage(websocket.TextMessage, data) }

		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		connect, err := decodeFrame(data)
		if err != nil {
			return
		}
		seen <- connect
		if connect.headers["Authorization"] != "Bearer tok" {
			send(newFrame(cmdError, "message", "invalid credential").encode())
			return
		}
		send(newFrame(cmdConnected, "version", "1.2").encode())

		_, data, err = ws.ReadMessage()
		if err != nil {
			return
		}
		sub, err := decodeFrame(data)
		if err != nil {
			return
		}
		seen <- sub

		send([]byte("\n"))
		for _, body := range bodies {
			if body == "" {
				send([]byte("garbage"))
				continue
			}
			msg := newFrame(cmdMessage,
				"destination", sub.headers["destination"],
				"subscription", sub.headers["id"],
			)
			msg.body = []byte(body)
			send(msg.encode())
		}
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), seen
}

func TestWebsocketTransportSubscribesAndReads(t *testing.T) {
	url, seen := fakeBroker(t, `{"id":1}`, "", `{"id":2}`)
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	tr := &WebsocketTransport{URL: url}
	conn, err := tr.Dial(ctx, "/user/alice@demo.local/queue/notifications", "tok")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	connect := <-seen
	if connect.command != cmdConnect || connect.headers["accept-version"] != "1.2" {
		t.Fatalf("unexpected connect frame %+v", connect)
	}
	sub := <-seen
	if sub.command != cmdSubscribe || sub.headers["destination"] != "/user/alice@demo.local/queue/notifications" {
		t.Fatalf("unexpected subscribe frame %+v", sub)
	}
	if !strings.HasPrefix(sub.headers["id"], "sub-") {
		t.Fatalf("expected subscription id, got %q", sub.headers["id"])
	}

	for _, want := range []string{`{"id":1}`, `{"id":2}`} {
		got, err := conn.Next(ctx)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if string(got) != want {
			t.Fatalf("expected %s, got %s", want, got)
		}
	}
}

func TestWebsocketTransportRefusedCredential(t *testing.T) {
	url, _ := fakeBroker(t)
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	_, err := (&WebsocketTransport{URL: url}).Dial(ctx, "/topic", "wrong")
	if !errors.Is(err, errors.Unauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestWebsocketTransportWithManager(t *testing.T) {
	url, _ := fakeBroker(t, "hello")
	h := newHarness(t)
	h.manager.cfg.Transport = &WebsocketTransport{URL: url, Dialer: &websocket.Dialer{HandshakeTimeout: time.Second}}

	id := alice
	id.Credential = "tok"
	if err := h.manager.Connect(id); err != nil {
		t.Fatalf("connect: %v", err)
	}
	h.expectConnected(t, false)
	h.expectPayload(t, "hello")
}

// silentBroker upgrades every connection but never answers CONNECT.
func silentBroker(t *testing.T) (string, chan struct{}) {
	t.Helper()
	accepted := make(chan struct{}, 4)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		accepted <- struct{}{}
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), accepted
}

func TestDisconnectDuringSilentHandshake(t *testing.T) {
	url, accepted := silentBroker(t)
	h := newHarness(t)
	h.manager.cfg.Transport = &WebsocketTransport{URL: url, HandshakeTimeout: time.Hour}

	id := alice
	id.Credential = "tok"
	if err := h.manager.Connect(id); err != nil {
		t.Fatalf("connect: %v", err)
	}
	select {
	case <-accepted:
	case <-time.After(waitTimeout):
		t.Fatalf("broker never saw the dial")
	}

	done := make(chan struct{})
	go func() {
		h.manager.Disconnect()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatalf("disconnect blocked while the handshake waited for CONNECTED")
	}
	if h.manager.Connected() {
		t.Fatalf("expected disconnected")
	}
}

func TestHandshakeTimeoutBoundsSilentBroker(t *testing.T) {
	url, _ := silentBroker(t)
	tr := &WebsocketTransport{URL: url, HandshakeTimeout: 200 * time.Millisecond}

	result := make(chan error, 1)
	go func() {
		conn, err := tr.Dial(context.Background(), "/topic", "tok")
		if conn != nil {
			_ = conn.Close()
		}
		result <- err
	}()
	select {
	case err := <-result:
		if err == nil {
			t.Fatalf("expected handshake timeout")
		}
	case <-time.After(waitTimeout):
		t.Fatalf("dial did not give up on a silent broker")
	}
}
