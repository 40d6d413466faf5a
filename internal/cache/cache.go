package cache

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/MrSnakeDoc/skyembed/internal/logger"
)

// Backend stores encoded values with an expiry. Implementations must be
// safe for concurrent use.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	Clear(ctx context.Context) error
	Len(ctx context.Context) int
}

// Observer is notified of hits and misses (metrics hook).
type Observer interface {
	CacheHit()
	CacheMiss()
}

// Cache is a process-wide TTL cache keyed by string.
//
// A disabled cache behaves as always-miss and never stores, but Delete,
// DeletePrefix and Clear keep working so invalidation stays correct when
// the cache is switched back on.
type Cache struct {
	backend    Backend
	enabled    atomic.Bool
	defaultTTL time.Duration
	logger     logger.Logger
	observer   Observer
}

type Options struct {
	Enabled    bool
	DefaultTTL time.Duration
	Observer   Observer // optional
}

func New(backend Backend, opts Options, log logger.Logger) *Cache {
	c := &Cache{
		backend:    backend,
		defaultTTL: opts.DefaultTTL,
		logger:     log,
		observer:   opts.Observer,
	}
	c.enabled.Store(opts.Enabled)
	return c
}

func (c *Cache) Enabled() bool { return c.enabled.Load() }

func (c *Cache) SetEnabled(on bool) { c.enabled.Store(on) }

// DefaultTTL is the TTL used when Put is called with ttl <= 0.
func (c *Cache) DefaultTTL() time.Duration { return c.defaultTTL }

// Get decodes the live entry for key into dst. It reports false on miss,
// expiry, disabled cache, or a value that no longer decodes.
func (c *Cache) Get(ctx context.Context, key string, dst any) bool {
	if !c.Enabled() {
		return false
	}
	raw, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache read failed", logger.String("key", key), logger.Error(err))
		c.miss()
		return false
	}
	if !ok {
		c.miss()
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.logger.Warn("cache entry undecodable, dropping", logger.String("key", key), logger.Error(err))
		_ = c.backend.Delete(ctx, key)
		c.miss()
		return false
	}
	c.hit()
	c.logger.Debug("cache hit", logger.String("key", key))
	return true
}

// Put stores value under key for ttl. Write errors are logged and swallowed.
func (c *Cache) Put(ctx context.Context, key string, value any, ttl time.Duration) {
	if !c.Enabled() {
		return
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("cache encode failed", logger.String("key", key), logger.Error(err))
		return
	}
	if err := c.backend.Set(ctx, key, raw, ttl); err != nil {
		c.logger.Warn("cache write failed", logger.String("key", key), logger.Error(err))
		return
	}
	c.logger.Debug("cache stored", logger.String("key", key), logger.Duration("ttl", ttl))
}

func (c *Cache) Delete(ctx context.Context, key string) {
	if err := c.backend.Delete(ctx, key); err != nil {
		c.logger.Warn("cache delete failed", logger.String("key", key), logger.Error(err))
	}
}

// DeletePrefix removes every key starting with prefix and returns how many went.
func (c *Cache) DeletePrefix(ctx context.Context, prefix string) int {
	n, err := c.backend.DeletePrefix(ctx, prefix)
	if err != nil {
		c.logger.Warn("cache prefix delete failed", logger.String("prefix", prefix), logger.Error(err))
	}
	return n
}

func (c *Cache) Clear(ctx context.Context) {
	if err := c.backend.Clear(ctx); err != nil {
		c.logger.Warn("cache clear failed", logger.Error(err))
		return
	}
	c.logger.Info("cache cleared")
}

// Len is the number of stored entries, expired ones included until pruned.
func (c *Cache) Len(ctx context.Context) int { return c.backend.Len(ctx) }

func (c *Cache) hit() {
	if c.observer != nil {
		c.observer.CacheHit()
	}
}

func (c *Cache) miss() {
	if c.observer != nil {
		c.observer.CacheMiss()
	}
}

// ReadWriter is the part of a cache Wrap needs. *Cache implements it.
type ReadWriter interface {
	Get(ctx context.Context, key string, dst any) bool
	Put(ctx context.Context, key string, value any, ttl time.Duration)
}

// Wrap returns the cached value for key, or runs produce and stores its
// result. bypass skips the read but not the write. Producer errors are
// returned as-is and nothing is stored.
func Wrap[T any](ctx context.Context, c ReadWriter, key string, ttl time.Duration, bypass bool, produce func(context.Context) (T, error)) (T, error) {
	if !bypass {
		var cached T
		if c.Get(ctx, key, &cached) {
			return cached, nil
		}
	}
	v, err := produce(ctx)
	if err != nil {
		return v, err
	}
	c.Put(ctx, key, v, ttl)
	return v, nil
}
