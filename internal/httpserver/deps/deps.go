package deps

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/skyembed/internal/bluesky"
	"github.com/MrSnakeDoc/skyembed/internal/cache"
	"github.com/MrSnakeDoc/skyembed/internal/domain"
	"github.com/MrSnakeDoc/skyembed/internal/feed"
	"github.com/MrSnakeDoc/skyembed/internal/logger"
	"github.com/MrSnakeDoc/skyembed/internal/metrics"
	"github.com/MrSnakeDoc/skyembed/internal/render"
	"github.com/MrSnakeDoc/skyembed/internal/sources/fallback"
)

// Upstream is the part of the Bluesky client the handlers call directly.
type Upstream interface {
	FetchPost(ctx context.Context, identifier string) (*domain.Post, error)
	CreatePost(ctx context.Context, text string) (*domain.PostRef, error)
	FetchProfile(ctx context.Context, handle string) (*domain.Profile, error)
	HomeHandle() string
	HasCredentials() bool
	Session() *bluesky.Session
}

type Deps struct {
	Logger    logger.Logger
	StartTime time.Time
	Version   string
	Commit    string
	BuildDate string
	GoVersion string
	TimeNow   func() time.Time // for testing, defaults to time.Now

	AdminToken string   // bearer token for mutating routes
	AdminCIDRS []string // IPs allowed on admin and ops routes
	TrustProxy bool     // true if running behind a trusted reverse proxy (e.g., cloudflared)

	// Limiter throttles public routes. Nil means unlimited.
	Limiter func(http.Handler) http.Handler

	CacheBackend string        // "memory" | "redis", reported by /infra
	PostTTL      time.Duration // cached post responses
	FeedTTL      time.Duration // cached feed responses

	Client      Upstream
	Fetcher     *feed.Fetcher
	Renderer    *render.Renderer
	Cache       *cache.Cache
	Metrics     *metrics.Metrics
	RedisClient *redis.Client       // nil with the memory backend
	Fallbacks   *fallback.AllowList // may be empty
	RetryPolicy feed.RetryPolicy
}

// Now returns the injected clock or time.Now.
func (d Deps) Now() time.Time {
	if d.TimeNow != nil {
		return d.TimeNow()
	}
	return time.Now()
}
