package channel

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/juju/errors"
)

const (
	stompWriteWait        = 10 * time.Second
	stompHandshakeTimeout = 10 * time.Second
)

// WebsocketTransport speaks STOMP over a websocket. The credential travels as an
// Authorization header on the CONNECT frame.
type WebsocketTransport struct {
	URL    string
	Dialer *websocket.Dialer
	Header http.Header
	// Host is sent as the STOMP virtual host. Empty means the URL host.
	Host string
	// HandshakeTimeout bounds the wait for CONNECTED. Zero means the dialer's
	// HandshakeTimeout, or 10s when that is unset too.
	HandshakeTimeout time.Duration
}

func (t *WebsocketTransport) Dial(ctx context.Context, topic, credential string) (Conn, error) {
	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, resp, err := dialer.DialContext(ctx, t.URL, t.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, errors.Annotatef(err, "dialing %s", t.URL)
	}
	c := &stompConn{ws: ws}
	// A cancelled dial must not wait on a broker that never answers.
	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	err = c.handshake(time.Now().Add(t.handshakeTimeout(dialer)), t.host(), topic, credential)
	if !stop() {
		_ = ws.Close()
		if err == nil {
			err = ctx.Err()
		}
		return nil, errors.Annotate(err, "dial cancelled during handshake")
	}
	if err != nil {
		_ = ws.Close()
		return nil, errors.Trace(err)
	}
	return c, nil
}

func (t *WebsocketTransport) handshakeTimeout(dialer *websocket.Dialer) time.Duration {
	if t.HandshakeTimeout > 0 {
		return t.HandshakeTimeout
	}
	if dialer.HandshakeTimeout > 0 {
		return dialer.HandshakeTimeout
	}
	return stompHandshakeTimeout
}

func (t *WebsocketTransport) host() string {
	if t.Host != "" {
		return t.Host
	}
	if u, err := url.Parse(t.URL); err == nil {
		return u.Host
	}
	return ""
}

type stompConn struct {
	ws *websocket.Conn

	writeMu sync.Mutex
	closed  bool
}

func (c *stompConn) handshake(deadline time.Time, host, topic, credential string) error {
	connect := newFrame(cmdConnect,
		"accept-version", "1.2",
		"host", host,
		"heart-beat", "0,0",
	)
	if credential != "" {
		connect.headers["Authorization"] = "Bearer " + credential
	}
	if err := c.write(connect); err != nil {
		return errors.Annotate(err, "sending CONNECT")
	}

	_ = c.ws.SetReadDeadline(deadline)
	defer func() { _ = c.ws.SetReadDeadline(time.Time{}) }()
	for {
		f, err := c.read()
		if err != nil {
			return errors.Annotate(err, "awaiting CONNECTED")
		}
		switch f.command {
		case cmdConnected:
			sub := newFrame(cmdSubscribe,
				"id", "sub-"+uuid.NewString(),
				"destination", topic,
				"ack", "auto",
			)
			return errors.Annotate(c.write(sub), "sending SUBSCRIBE")
		case cmdError:
			return errors.Unauthorizedf("broker refused connection: %s", brokerMessage(f))
		}
	}
}

func (c *stompConn) Next(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := c.read()
		if err != nil {
			return nil, err
		}
		switch f.command {
		case cmdMessage:
			return f.body, nil
		case cmdError:
			return nil, errors.Errorf("broker error: %s", brokerMessage(f))
		case cmdReceipt:
		default:
			logger.Debugf("ignoring stomp %s frame", f.command)
		}
	}
}

// read returns the next non-heart-beat frame. Frames that fail to parse are
// skipped so a single bad message cannot take the connection down.
func (c *stompConn) read() (frame, error) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return frame{}, err
		}
		if len(trimEOL(data)) == 0 {
			continue
		}
		f, err := decodeFrame(data)
		if err != nil {
			logger.Warningf("skipping malformed stomp frame: %v", err)
			continue
		}
		return f, nil
	}
}

func (c *stompConn) write(f frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(stompWriteWait))
	return c.ws.WriteMessage(websocket.TextMessage, f.encode())
}

func (c *stompConn) Close() error {
	_ = c.write(newFrame(cmdDisconnect))
	c.writeMu.Lock()
	c.closed = true
	c.writeMu.Unlock()
	return c.ws.Close()
}

func brokerMessage(f frame) string {
	if msg := f.headers["message"]; msg != "" {
		return msg
	}
	return string(f.body)
}

func trimEOL(data []byte) []byte {
	for len(data) > 0 && (data[0] == '\n' || data[0] == '\r') {
		data = data[1:]
	}
	return data
}
