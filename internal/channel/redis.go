package channel

import (
	"context"

	"github.com/juju/errors"
	"github.com/redis/go-redis/v9"
)

// RedisTransport subscribes to a pub/sub channel named after the topic. Redis has
// no per-subscriber auth, so the credential is not sent.
type RedisTransport struct {
	Client redis.UniversalClient
}

func (t *RedisTransport) Dial(ctx context.Context, topic, _ string) (Conn, error) {
	if t.Client == nil {
		return nil, errors.NotValidf("nil redis client")
	}
	sub := t.Client.Subscribe(ctx, topic)
	// Receive blocks until the subscription is confirmed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, errors.Annotatef(err, "subscribing to %s", topic)
	}
	return &redisConn{sub: sub}, nil
}

type redisConn struct {
	sub *redis.PubSub
}

func (c *redisConn) Next(ctx context.Context) ([]byte, error) {
	msg, err := c.sub.ReceiveMessage(ctx)
	if err != nil {
		return nil, err
	}
	return []byte(msg.Payload), nil
}

func (c *redisConn) Close() error {
	return c.sub.Close()
}
