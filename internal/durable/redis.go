package durable

import (
	"context"

	"github.com/juju/errors"
	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "ailearning:client:"

type RedisStore struct {
	redis  *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{redis: client, prefix: prefix}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.redis.Get(ctx, s.prefix+key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Trace(err)
	}
	return value, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	return errors.Trace(s.redis.Set(ctx, s.prefix+key, value, 0).Err())
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, 0, len(keys))
	for _, key := range keys {
		full = append(full, s.prefix+key)
	}
	return errors.Trace(s.redis.Del(ctx, full...).Err())
}

func (s *RedisStore) Take(ctx context.Context, key string) (string, bool, error) {
	value, err := s.redis.GetDel(ctx, s.prefix+key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Trace(err)
	}
	return value, true, nil
}

func (s *RedisStore) Close() error {
	return s.redis.Close()
}
