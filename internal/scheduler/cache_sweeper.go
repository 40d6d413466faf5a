package scheduler

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/skyembed/internal/logger"
)

// Sweeper removes expired entries from a cache backend.
type Sweeper interface {
	Sweep(ctx context.Context) int
}

// CacheSweeper periodically drops expired entries of the in-memory cache,
// which otherwise only expires entries lazily on read.
type CacheSweeper struct {
	backend  Sweeper
	logger   logger.Logger
	interval time.Duration
	stopCh   chan struct{}
}

// NewCacheSweeper creates a new sweeper
func NewCacheSweeper(backend Sweeper, log logger.Logger, interval time.Duration) *CacheSweeper {
	return &CacheSweeper{
		backend:  backend,
		logger:   log,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic sweep
func (s *CacheSweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Collect(ctx)
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the sweeper
func (s *CacheSweeper) Stop() {
	close(s.stopCh)
}

// Collect runs one sweep and returns the number of removed entries.
func (s *CacheSweeper) Collect(ctx context.Context) int {
	start := time.Now()
	n := s.backend.Sweep(ctx)
	if n > 0 {
		s.logger.Info("expired cache entries swept",
			logger.Int("removed", n),
			logger.Duration("took", time.Since(start)))
	} else {
		s.logger.Debug("no expired cache entries")
	}
	return n
}
