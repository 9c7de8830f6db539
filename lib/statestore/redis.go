package statestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var _ Store = (*RedisStore)(nil)

// RedisStore stores handles as Redis string values, with keys prefixed by the configured prefix.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(config RedisConfig) (*RedisStore, error) {
	if config.Addr == "" {
		return nil, errors.New("redis state backend requires an address")
	}
	client := redis.NewClient(&redis.Options{
		Addr: config.Addr,
	})
	return &RedisStore{
		client: client,
		prefix: config.Prefix,
	}, nil
}

func (r *RedisStore) Put(ctx context.Context, key string, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("store handle %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	value, err := r.client.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", notFound(key)
	} else if err != nil {
		return "", fmt.Errorf("load handle %s: %w", key, err)
	}
	return value, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
