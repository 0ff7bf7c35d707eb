package app

import (
	"io"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"
	"github.com/redis/go-redis/v9"

	"ailearning/client/internal/channel"
	"ailearning/client/internal/config"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewTransport builds the push transport cfg selects. The closer releases any
// client the transport owns.
func NewTransport(cfg config.Config) (channel.Transport, io.Closer, error) {
	switch cfg.PushTransport {
	case config.TransportWebsocket:
		return &channel.WebsocketTransport{
			URL: cfg.PushURL,
			Dialer: &websocket.Dialer{
				Proxy:            http.ProxyFromEnvironment,
				HandshakeTimeout: cfg.ResyncTimeout,
			},
		}, nopCloser{}, nil
	case config.TransportRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return &channel.RedisTransport{Client: client}, client, nil
	}
	return nil, nil, errors.NotValidf("push transport %q", cfg.PushTransport)
}
