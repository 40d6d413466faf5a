package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces every cache key stored in Redis.
const KeyPrefix = "skyembed:cache:"

// RedisBackend stores entries in Redis with native TTLs.
type RedisBackend struct {
	client *redis.Client
}

func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

// RedisKey returns the namespaced Redis key for a cache key.
func RedisKey(key string) string {
	return KeyPrefix + key
}

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := r.client.Get(ctx, RedisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil // Cache miss
		}
		return nil, false, fmt.Errorf("failed to get cache entry: %w", err)
	}
	return raw, true, nil
}

func (r *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, RedisKey(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache entry: %w", err)
	}
	return nil
}

func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, RedisKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// DeletePrefix treats prefix literally: glob metacharacters in it are
// escaped before the SCAN pattern is built.
func (r *RedisBackend) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	return r.deleteMatching(ctx, RedisKey(escapeGlob(prefix))+"*")
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}

func (r *RedisBackend) Clear(ctx context.Context) error {
	_, err := r.deleteMatching(ctx, KeyPrefix+"*")
	return err
}

func (r *RedisBackend) Len(ctx context.Context) int {
	n := 0
	iter := r.client.Scan(ctx, 0, KeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		n++
	}
	return n
}

func (r *RedisBackend) deleteMatching(ctx context.Context, pattern string) (int, error) {
	n := 0
	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return n, fmt.Errorf("failed to delete cache key: %w", err)
		}
		n++
	}
	if err := iter.Err(); err != nil {
		return n, fmt.Errorf("failed to scan cache keys: %w", err)
	}
	return n, nil
}
