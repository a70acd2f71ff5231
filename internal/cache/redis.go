package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// scanBatch is the COUNT hint passed to SCAN when deleting by pattern.
const scanBatch = 100

// RedisBackend is a [Backend] on top of a go-redis client.
type RedisBackend struct {
	client *redis.Client
}

// NewRedis creates a client for addr. No connection is made until the
// first command, and a lost connection is re-dialled on the next one.
func NewRedis(addr string) *RedisBackend {
	return &RedisBackend{client: redis.NewClient(&redis.Options{
		Addr: addr,
	})}
}

// Ping checks that the server answers.
func (r *RedisBackend) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis at %s: %w", r.client.Options().Addr, err)
	}
	return nil
}

// NewRedisBackend wraps an existing client.
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

// Close closes the underlying client.
func (r *RedisBackend) Close() error {
	return r.client.Close()
}

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s from Redis: %w", key, err)
	}
	return data, nil
}

func (r *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s in Redis: %w", key, err)
	}
	return nil
}

func (r *RedisBackend) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete keys from Redis: %w", err)
	}
	return nil
}

// DeletePattern walks the keyspace with SCAN and deletes each batch of
// matches. KEYS is avoided so large keyspaces do not block the server.
func (r *RedisBackend) DeletePattern(ctx context.Context, pattern string) error {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return fmt.Errorf("failed to scan %s in Redis: %w", pattern, err)
		}
		if err := r.Del(ctx, keys...); err != nil {
			return err
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
