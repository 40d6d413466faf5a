package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

type Config struct {
	ListenPort      string        // ex: ":3000"
	ShutdownTimeout time.Duration // ex: 5s
	RequestTimeout  time.Duration // per-request handler timeout

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	// Bluesky
	ServiceURL  string        // XRPC host, ex: https://bsky.social
	WebURL      string        // public web app, ex: https://bsky.app
	Username    string        // home handle (optional, empty = public mode only)
	DID         string        // home DID, skips resolution for the home handle
	AppPassword string        // optional
	HTTPTimeout time.Duration // per upstream call
	RPS         float64       // upstream rate limit
	Burst       int           // upstream burst
	MaxAttempts int           // upstream attempts on 429/5xx
	BaseBackoff time.Duration // first retry wait, doubles each attempt

	// Cache
	CacheEnabled    bool
	CacheTTL        time.Duration // posts, profiles, responses
	FeedCacheTTL    time.Duration // feed pages, capped at CacheTTL
	CacheMaxEntries int           // memory backend prune threshold, 0 = unbounded
	CacheBackend    string        // "memory" | "redis"
	SweepInterval   time.Duration // opt-in memory reclaim of expired entries, 0 = off

	// Redis (only when CacheBackend == "redis")
	RedisAddr             string        // ex: "localhost:6379"
	RedisUser             string        // optional
	RedisPassword         string        // optional
	RedisPasswordRequired bool          // true => require password, false => allow empty password
	RedisDB               int           // Redis DB number
	RedisDT               time.Duration // Redis dial timeout (ex: 5s)
	RedisRT               time.Duration // Redis read timeout (ex: 3s)
	RedisWT               time.Duration // Redis write timeout (ex: 3s)
	RedisMaxWait          time.Duration // max wait between retries (ex: 10s)
	RedisPingTimeout      time.Duration // timeout for each ping attempt (ex: 5s)
	RedisPoolSize         int           // Redis connection pool size
	RedisConnectTimeout   time.Duration // Total time to retry connecting (ex: 30s)
	RedisRetryInterval    time.Duration // Initial wait between retries (ex: 2s, grows exponentially)
	RedisWarnThreshold    int           // warn after this many attempts

	// Rendering
	DefaultTheme string // "light" | "dark"
	DefaultWidth string // CSS width, ex: "100%"

	FallbackFile string // optional YAML allow-list of degraded-account fallbacks

	// Access restrictions
	AdminToken      string   // bearer token for POST /api/posts and /cache/clear
	AdminCIDRS      []string // optional, restrict admin routes to specific IPs
	TrustProxy      bool     // true => trust X-Forwarded-For headers (e.g. cloudflared)
	RateLimitBurst  int      // per-IP burst on public routes
	RateLimitPerMin int      // per-IP refill on public routes
	AllowedOrigins  []string // CORS origins, empty = "*"
}

// Load reads the environment and panics on an invalid configuration.
func Load() *Config {
	cfg, err := Parse()
	if err != nil {
		panic(fmt.Sprintf("❌ FATAL: %v", err))
	}

	// Log config only in debug mode with redacted sensitive fields
	if cfg.LogLevel == "debug" {
		log.Printf("[DEBUG] cfg: %+v\n", cfg.Redacted())
	}

	return cfg
}

// Parse reads the environment and validates the result.
func Parse() (*Config, error) {
	cfg := &Config{
		// Server settings
		ListenPort:      getenv("SKYEMBED_LISTEN_PORT", ":3000"),
		ShutdownTimeout: mustDuration("SKYEMBED_SHUTDOWN_TIMEOUT", 5*time.Second),
		RequestTimeout:  mustDuration("SKYEMBED_REQUEST_TIMEOUT", 20*time.Second),

		// Logging
		LogLevel:  getenv("SKYEMBED_LOG_LEVEL", "info"),
		PrettyLog: mustBool("SKYEMBED_PRETTY_LOG", true),

		// Bluesky
		ServiceURL:  strings.TrimRight(getenv("BSKY_SERVICE_URL", "https://bsky.social"), "/"),
		WebURL:      strings.TrimRight(getenv("BSKY_WEB_URL", "https://bsky.app"), "/"),
		Username:    strings.TrimPrefix(getenv("BSKY_USERNAME", ""), "@"),
		DID:         getenv("BSKY_DID", ""),
		AppPassword: getenv("BSKY_APP_PASSWORD", ""),
		HTTPTimeout: mustDuration("BSKY_HTTP_TIMEOUT", 10*time.Second),
		RPS:         mustFloat("BSKY_RPS", 5),
		Burst:       getenvInt("BSKY_BURST", 10),
		MaxAttempts: getenvInt("BSKY_MAX_ATTEMPTS", 3),
		BaseBackoff: mustDuration("BSKY_BASE_BACKOFF", 500*time.Millisecond),

		// Cache
		CacheEnabled:    mustBool("SKYEMBED_CACHE_ENABLED", true),
		CacheTTL:        mustDuration("SKYEMBED_CACHE_TTL", time.Hour),
		FeedCacheTTL:    mustDuration("SKYEMBED_FEED_CACHE_TTL", 5*time.Minute),
		CacheMaxEntries: getenvInt("SKYEMBED_CACHE_MAX_ENTRIES", 10000),
		CacheBackend:    strings.ToLower(getenv("SKYEMBED_CACHE_BACKEND", CacheBackendMemory)),
		SweepInterval:   mustDuration("SKYEMBED_CACHE_SWEEP_INTERVAL", 0),

		// Redis settings
		RedisAddr:             getenv("SKYEMBED_REDIS_ADDR", ""),
		RedisUser:             getenv("SKYEMBED_REDIS_USERNAME", "default"),
		RedisPasswordRequired: mustBool("SKYEMBED_REDIS_PASSWORD_REQUIRED", false),
		RedisPassword:         getenv("SKYEMBED_REDIS_PASSWORD", ""),
		RedisDB:               getenvInt("SKYEMBED_REDIS_DB", 0),
		RedisDT:               mustDuration("SKYEMBED_REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisRT:               mustDuration("SKYEMBED_REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWT:               mustDuration("SKYEMBED_REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisMaxWait:          mustDuration("SKYEMBED_REDIS_MAX_WAIT", 10*time.Second),
		RedisPingTimeout:      mustDuration("SKYEMBED_REDIS_PING_TIMEOUT", 5*time.Second),
		RedisPoolSize:         getenvInt("SKYEMBED_REDIS_POOL_SIZE", 10),
		RedisConnectTimeout:   mustDuration("SKYEMBED_REDIS_CONNECT_TIMEOUT", 30*time.Second),
		RedisRetryInterval:    mustDuration("SKYEMBED_REDIS_RETRY_INTERVAL", 2*time.Second),
		RedisWarnThreshold:    getenvInt("SKYEMBED_REDIS_WARN_THRESHOLD", 3),

		// Rendering
		DefaultTheme: getenv("SKYEMBED_DEFAULT_THEME", "light"),
		DefaultWidth: getenv("SKYEMBED_DEFAULT_WIDTH", "100%"),

		FallbackFile: getenv("SKYEMBED_FALLBACK_FILE", ""),

		// Access restrictions
		AdminToken:      getenv("SKYEMBED_ADMIN_TOKEN", ""),
		AdminCIDRS:      parseAllowedIPs(getenv("SKYEMBED_ADMIN_CIDRS", "")),
		TrustProxy:      mustBool("SKYEMBED_TRUST_PROXY", false),
		RateLimitBurst:  getenvInt("SKYEMBED_RATE_LIMIT_BURST", 30),
		RateLimitPerMin: getenvInt("SKYEMBED_RATE_LIMIT_PER_MIN", 120),
		AllowedOrigins:  splitAndTrim(getenv("SKYEMBED_ALLOWED_ORIGINS", "")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() Config {
	cp := *c
	for _, s := range []*string{&cp.RedisPassword, &cp.AppPassword, &cp.AdminToken} {
		if *s != "" {
			*s = "***REDACTED***"
		}
	}
	return cp
}

// Validate rejects combinations the service cannot run with.
func (c *Config) Validate() error {
	switch c.CacheBackend {
	case CacheBackendMemory:
	case CacheBackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("SKYEMBED_REDIS_ADDR is required when SKYEMBED_CACHE_BACKEND=redis")
		}
		if c.RedisPasswordRequired && c.RedisPassword == "" {
			return fmt.Errorf("SKYEMBED_REDIS_PASSWORD is required when SKYEMBED_REDIS_PASSWORD_REQUIRED=true")
		}
	default:
		return fmt.Errorf("unknown SKYEMBED_CACHE_BACKEND %q (want memory or redis)", c.CacheBackend)
	}

	if c.DefaultTheme != "light" && c.DefaultTheme != "dark" {
		return fmt.Errorf("SKYEMBED_DEFAULT_THEME must be light or dark, got %q", c.DefaultTheme)
	}
	if c.AppPassword != "" && c.Username == "" {
		return fmt.Errorf("BSKY_APP_PASSWORD is set but BSKY_USERNAME is empty")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("BSKY_MAX_ATTEMPTS must be >= 1, got %d", c.MaxAttempts)
	}
	return nil
}

// HasCredentials reports whether a session can be established.
func (c *Config) HasCredentials() bool {
	return c.Username != "" && c.AppPassword != ""
}

// EffectiveFeedTTL is the feed TTL capped at the general cache TTL.
func (c *Config) EffectiveFeedTTL() time.Duration {
	if c.FeedCacheTTL <= 0 || c.FeedCacheTTL > c.CacheTTL {
		return c.CacheTTL
	}
	return c.FeedCacheTTL
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func mustFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			return f
		}
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func parseAllowedIPs(allowed string) []string {
	if allowed == "" {
		return nil
	}
	ips := make([]string, 0, 4)
	for _, ip := range splitAndTrim(allowed) {
		if ip != "" {
			ips = append(ips, ip)
		}
	}
	return ips
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
