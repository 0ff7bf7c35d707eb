// Package durable keeps the small amount of client state that has to outlive the
// process: the session identity and the pending payment redirect.
package durable

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/juju/errors"
	"github.com/redis/go-redis/v9"

	"ailearning/client/internal/config"
)

// Store is a string key-value store that survives a restart of the client.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
	// Take reads and removes key in one step. Two concurrent Takes of the same
	// key never both observe the value.
	Take(ctx context.Context, key string) (string, bool, error)
	Close() error
}

// Open builds the backend selected by cfg.DurableBackend.
func Open(ctx context.Context, cfg config.Config) (Store, error) {
	switch cfg.DurableBackend {
	case config.BackendFile:
		return NewFileStore(cfg.StatePath), nil
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, errors.Annotate(err, "redis ping failed")
		}
		return NewRedisStore(client, ""), nil
	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Annotate(err, "postgres connection failed")
		}
		store := NewPostgresStore(pool)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, errors.Trace(err)
		}
		return store, nil
	}
	return nil, errors.NotValidf("durable backend %q", cfg.DurableBackend)
}
