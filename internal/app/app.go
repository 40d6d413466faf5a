package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/skyembed/internal/bluesky"
	"github.com/MrSnakeDoc/skyembed/internal/cache"
	"github.com/MrSnakeDoc/skyembed/internal/config"
	"github.com/MrSnakeDoc/skyembed/internal/feed"
	"github.com/MrSnakeDoc/skyembed/internal/httpserver"
	"github.com/MrSnakeDoc/skyembed/internal/httpserver/deps"
	"github.com/MrSnakeDoc/skyembed/internal/logger"
	"github.com/MrSnakeDoc/skyembed/internal/metrics"
	"github.com/MrSnakeDoc/skyembed/internal/redis"
	"github.com/MrSnakeDoc/skyembed/internal/render"
	"github.com/MrSnakeDoc/skyembed/internal/scheduler"
	"github.com/MrSnakeDoc/skyembed/internal/sources/fallback"
	"github.com/MrSnakeDoc/skyembed/internal/utils"
	"github.com/MrSnakeDoc/skyembed/internal/version"
)

type App struct {
	cfg         *config.Config
	logger      logger.Logger
	server      *httpserver.Server
	client      *bluesky.Client
	redisClient *goredis.Client
	sweeper     *scheduler.CacheSweeper // nil unless the memory backend sweeps
}

func New() *App {
	cfg := config.Load()

	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog,
		logger.String("service", "skyembed"), logger.String("version", version.Version))
	m := metrics.New()

	backend, redisClient := newCacheBackend(cfg, loggerClient)
	store := cache.New(backend, cache.Options{
		Enabled:    cfg.CacheEnabled,
		DefaultTTL: cfg.CacheTTL,
		Observer:   m,
	}, loggerClient.With(logger.Component("cache")))

	var sweeper *scheduler.CacheSweeper
	if mem, ok := backend.(*cache.MemoryBackend); ok && cfg.SweepInterval > 0 {
		sweeper = scheduler.NewCacheSweeper(mem, loggerClient.With(logger.Component("sweeper")), cfg.SweepInterval)
	}

	fallbacks, err := fallback.Load(cfg.FallbackFile)
	if err != nil {
		loggerClient.Errorf("Failed to load fallback file: %v", err)
		os.Exit(1)
	}
	if n := fallbacks.Len(); n > 0 {
		loggerClient.Info("fallback allow-list loaded",
			logger.String("file", cfg.FallbackFile), logger.Int("accounts", n))
	}

	client := bluesky.New(bluesky.Options{
		ServiceURL:  cfg.ServiceURL,
		Username:    cfg.Username,
		DID:         cfg.DID,
		AppPassword: cfg.AppPassword,
		Timeout:     cfg.HTTPTimeout,
		RPS:         cfg.RPS,
		Burst:       cfg.Burst,
		MaxAttempts: cfg.MaxAttempts,
		BaseBackoff: cfg.BaseBackoff,
		Fallbacks:   fallbacks,
		Metrics:     m,
	}, bluesky.NewSession(), loggerClient.With(logger.Component("bluesky")))

	renderer, err := render.New(render.Config{
		WebURL:       cfg.WebURL,
		DefaultTheme: cfg.DefaultTheme,
		DefaultWidth: cfg.DefaultWidth,
		Metrics:      m,
	}, loggerClient.With(logger.Component("render")))
	if err != nil {
		loggerClient.Errorf("Failed to parse templates: %v", err)
		os.Exit(1)
	}

	fetcher := feed.NewFetcher(client, store, renderer, cfg.EffectiveFeedTTL(), m, loggerClient.With(logger.Component("feed")))

	// Dependencies passed to routes (extend as needed).
	d := deps.Deps{
		Logger:       loggerClient,
		StartTime:    time.Now(),
		Version:      version.Version,
		Commit:       version.Commit,
		BuildDate:    version.BuildDate,
		GoVersion:    version.GoVersion,
		TimeNow:      time.Now,
		AdminToken:   cfg.AdminToken,
		AdminCIDRS:   cfg.AdminCIDRS,
		TrustProxy:   cfg.TrustProxy,
		CacheBackend: cfg.CacheBackend,
		PostTTL:      cfg.CacheTTL,
		FeedTTL:      cfg.EffectiveFeedTTL(),
		Client:       client,
		Fetcher:      fetcher,
		Renderer:     renderer,
		Cache:        store,
		Metrics:      m,
		RedisClient:  redisClient,
		Fallbacks:    fallbacks,
		RetryPolicy:  feed.DefaultRetryPolicy(),
	}

	server := httpserver.New(cfg, loggerClient, d)

	return &App{
		cfg:         cfg,
		logger:      loggerClient,
		server:      server,
		client:      client,
		redisClient: redisClient,
		sweeper:     sweeper,
	}
}

// newCacheBackend picks the cache backend. Redis is connected eagerly and
// the process exits when it stays unreachable.
func newCacheBackend(cfg *config.Config, log logger.Logger) (cache.Backend, *goredis.Client) {
	if cfg.CacheBackend != config.CacheBackendRedis {
		log.Info("using in-memory cache", logger.Int("max_entries", cfg.CacheMaxEntries))
		return cache.NewMemoryBackend(cfg.CacheMaxEntries), nil
	}

	log.Infof("Connecting to Redis at %s", cfg.RedisAddr)
	client, err := redis.Connect(context.Background(), redis.ConnectOptions{
		Addr:           cfg.RedisAddr,
		User:           cfg.RedisUser,
		Password:       cfg.RedisPassword,
		DB:             cfg.RedisDB,
		DialTimeout:    cfg.RedisDT,
		ReadTimeout:    cfg.RedisRT,
		WriteTimeout:   cfg.RedisWT,
		PoolSize:       cfg.RedisPoolSize,
		ConnectTimeout: cfg.RedisConnectTimeout,
		RetryInterval:  cfg.RedisRetryInterval,
		MaxWait:        cfg.RedisMaxWait,
		PingTimeout:    cfg.RedisPingTimeout,
		WarnThreshold:  cfg.RedisWarnThreshold,
	}, log)
	if err != nil {
		log.Errorf("Failed to connect to Redis: %v", err)
		os.Exit(1)
	}
	log.Info("Redis initialized successfully")
	return cache.NewRedisBackend(client), client
}

func (a *App) Run() error {
	a.logger.Infof("🚀 Starting skyembed v%s on %s", version.Version, a.cfg.ListenPort)
	a.logger.Info(version.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Establish the session up front; failure leaves the service in public mode.
	if a.client.HasCredentials() {
		authCtx, cancel := context.WithTimeout(ctx, a.cfg.HTTPTimeout)
		if a.client.Authenticate(authCtx) {
			a.logger.Info("bluesky session established", logger.String("handle", a.client.HomeHandle()))
		} else {
			a.logger.Warn("bluesky login failed, serving public data only")
		}
		cancel()
	} else {
		a.logger.Info("no bluesky credentials, serving public data only")
	}

	if a.sweeper != nil {
		a.sweeper.Start(ctx)
		a.logger.Info("cache sweeper started", logger.Duration("interval", a.cfg.SweepInterval))
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
	case err := <-errCh:
		return err
	}

	if a.sweeper != nil {
		a.sweeper.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	if a.redisClient != nil {
		utils.MustClose(a.redisClient, "redis", a.logger)
	}

	a.logger.Info("✅ skyembed stopped cleanly")
	_ = a.logger.Sync()
	return nil
}
