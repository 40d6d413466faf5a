package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrSnakeDoc/skyembed/internal/logger"
	"github.com/redis/go-redis/v9"
)

// ConnectOptions describes the shared cache connection and how hard startup
// tries to reach it.
type ConnectOptions struct {
	Addr         string
	User         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int

	ConnectTimeout time.Duration // budget for all startup attempts
	RetryInterval  time.Duration // first wait, doubled after each failure
	MaxWait        time.Duration // cap on the wait between attempts
	PingTimeout    time.Duration // per-attempt ping deadline
	WarnThreshold  int           // failures logged as warnings before they become errors
}

func (o ConnectOptions) validate() error {
	var errs []error
	positive := map[string]time.Duration{
		"ConnectTimeout": o.ConnectTimeout,
		"RetryInterval":  o.RetryInterval,
		"MaxWait":        o.MaxWait,
		"PingTimeout":    o.PingTimeout,
	}
	for name, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0, got %v", name, d))
		}
	}
	if o.WarnThreshold < 0 {
		errs = append(errs, fmt.Errorf("WarnThreshold must be >= 0, got %d", o.WarnThreshold))
	}
	if o.Addr == "" {
		errs = append(errs, errors.New("Addr is required"))
	}
	return errors.Join(errs...)
}

func (o ConnectOptions) client() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         o.Addr,
		Username:     o.User,
		Password:     o.Password,
		DB:           o.DB,
		DialTimeout:  o.DialTimeout,
		ReadTimeout:  o.ReadTimeout,
		WriteTimeout: o.WriteTimeout,
		PoolSize:     o.PoolSize,
	})
}

// backoff doubles its wait up to max.
type backoff struct {
	wait time.Duration
	max  time.Duration
}

func (b *backoff) next() time.Duration {
	w := b.wait
	b.wait = min(b.wait*2, b.max)
	return w
}

// Connect returns a client once the server answers a ping. Attempts repeat
// with exponential backoff until ConnectTimeout or ctx runs out.
func Connect(ctx context.Context, opts ConnectOptions, log logger.Logger) (*redis.Client, error) {
	if err := opts.validate(); err != nil {
		log.Error("invalid redis options", logger.Error(err))
		return nil, fmt.Errorf("redis options: %w", err)
	}

	client := opts.client()
	if err := waitReady(ctx, client, opts, log); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func waitReady(ctx context.Context, client *redis.Client, opts ConnectOptions, log logger.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	log.Info("connecting to redis",
		logger.String("addr", opts.Addr),
		logger.Duration("budget", opts.ConnectTimeout))

	start := time.Now()
	b := backoff{wait: opts.RetryInterval, max: opts.MaxWait}

	for attempt := 1; ; attempt++ {
		pingCtx, pingCancel := context.WithTimeout(ctx, opts.PingTimeout)
		err := client.Ping(pingCtx).Err()
		pingCancel()

		if err == nil {
			if attempt > 1 {
				log.Warn("redis reachable after retries",
					logger.String("addr", opts.Addr),
					logger.Int("attempts", attempt),
					logger.Duration("elapsed", time.Since(start)))
			} else {
				log.Info("redis reachable", logger.String("addr", opts.Addr))
			}
			return nil
		}

		wait := b.next()
		if attempt <= opts.WarnThreshold {
			log.Warn("redis ping failed, retrying",
				logger.String("addr", opts.Addr),
				logger.Int("attempt", attempt),
				logger.Duration("next_retry_in", wait),
				logger.Error(err))
		} else {
			log.Error("redis still unreachable",
				logger.String("addr", opts.Addr),
				logger.Int("attempt", attempt),
				logger.Duration("remaining", remaining(ctx)),
				logger.Duration("next_retry_in", wait),
				logger.Error(err))
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Error("giving up on redis",
				logger.String("addr", opts.Addr),
				logger.Int("attempts", attempt),
				logger.Duration("elapsed", time.Since(start)))
			return fmt.Errorf("redis at %s unreachable after %d attempts: %w", opts.Addr, attempt, err)
		case <-timer.C:
		}
	}
}

func remaining(ctx context.Context) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 0
	}
	return time.Until(deadline)
}
