// internal/httpserver/server.go
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrSnakeDoc/skyembed/internal/config"
	"github.com/MrSnakeDoc/skyembed/internal/httpserver/deps"
	"github.com/MrSnakeDoc/skyembed/internal/httpserver/mw"
	"github.com/MrSnakeDoc/skyembed/internal/httpserver/routes"
	"github.com/MrSnakeDoc/skyembed/internal/logger"
)

// Server wraps the HTTP server and its dependencies.
type Server struct {
	http    *http.Server
	logger  logger.Logger
	started time.Time
}

// NewRouter builds the router (middlewares, route registration).
func NewRouter(cfg *config.Config, loggerClient logger.Logger, d deps.Deps) chi.Router {
	r := chi.NewRouter()

	// --- Global middlewares (safe defaults)
	r.Use(middleware.GetHead)
	r.Use(middleware.RequestID)                   // X-Request-ID on each request
	r.Use(middleware.Recoverer)                   // never crash the process on panic
	r.Use(middleware.Timeout(cfg.RequestTimeout)) // per-request timeout
	r.Use(mw.Log(loggerClient))                   // structured access logs
	r.Use(mw.Observe(d.Metrics))                  // request durations per route
	r.Use(mw.CORS(cfg.AllowedOrigins))            // embeds are fetched cross-origin

	if d.Limiter == nil {
		d.Limiter = mw.RateLimit(mw.RateLimitConfig{
			Burst:             cfg.RateLimitBurst,
			RefillPerIPPerMin: cfg.RateLimitPerMin,
			MaxEntries:        10000,
			TrustProxy:        cfg.TrustProxy,
		})
	}

	routes.RegisterAll(r, d)
	return r
}

// New builds the HTTP server.
func New(cfg *config.Config, loggerClient logger.Logger, d deps.Deps) *Server {
	s := &http.Server{
		Addr:              cfg.ListenPort,
		Handler:           NewRouter(cfg, loggerClient, d),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 10*time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return &Server{
		http:    s,
		logger:  loggerClient,
		started: d.StartTime,
	}
}

// Start runs the HTTP server (blocks until error or shutdown).
func (s *Server) Start() error {
	s.logger.Infof("HTTP server listening on %s", s.http.Addr)
	err := s.http.ListenAndServe()
	// http.ErrServerClosed is expected on graceful shutdown.
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts down the server with the provided context deadline.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("HTTP server shutting down...", logger.Duration("uptime", time.Since(s.started)))
	return s.http.Shutdown(ctx)
}
