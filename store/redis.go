package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisKV persists keys in Redis, for kiosk and terminal deployments where
// several storefront processes on one till share a session.
type RedisKV struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisKV creates a Redis-backed KV. All keys are namespaced under
// prefix; an empty prefix defaults to "sk".
func NewRedisKV(client redis.UniversalClient, prefix string) *RedisKV {
	if prefix == "" {
		prefix = "sk"
	}
	return &RedisKV{client: client, prefix: prefix}
}

func (r *RedisKV) key(key string) string {
	return r.prefix + ":" + key
}

// Get implements [KV].
func (r *RedisKV) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get: %w: %w", ErrUnavailable, err)
	}
	return v, true, nil
}

// Set implements [KV].
func (r *RedisKV) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w: %w", ErrUnavailable, err)
	}
	return nil
}

// Delete implements [KV].
func (r *RedisKV) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w: %w", ErrUnavailable, err)
	}
	return nil
}
