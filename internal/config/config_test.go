package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestMustDuration(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		value    string
		def      time.Duration
		expected time.Duration
	}{
		{
			name:     "valid duration",
			key:      "TEST_DURATION",
			value:    "5s",
			def:      1 * time.Second,
			expected: 5 * time.Second,
		},
		{
			name:     "invalid duration uses default",
			key:      "TEST_DURATION_INVALID",
			value:    "invalid",
			def:      10 * time.Second,
			expected: 10 * time.Second,
		},
		{
			name:     "missing variable uses default",
			key:      "TEST_DURATION_MISSING",
			value:    "",
			def:      15 * time.Second,
			expected: 15 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != "" {
				if err := os.Setenv(tt.key, tt.value); err != nil {
					t.Fatalf("failed to set env var: %v", err)
				}
				defer func() {
					if err := os.Unsetenv(tt.key); err != nil {
						t.Errorf("failed to unset env var: %v", err)
					}
				}()
			}

			result := mustDuration(tt.key, tt.def)
			if result != tt.expected {
				t.Errorf("mustDuration() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestMustBool(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		value    string
		def      bool
		expected bool
	}{
		{
			name:     "true value",
			key:      "TEST_BOOL",
			value:    "true",
			def:      false,
			expected: true,
		},
		{
			name:     "false value",
			key:      "TEST_BOOL_FALSE",
			value:    "false",
			def:      true,
			expected: false,
		},
		{
			name:     "invalid value uses default",
			key:      "TEST_BOOL_INVALID",
			value:    "invalid",
			def:      true,
			expected: true,
		},
		{
			name:     "missing variable uses default",
			key:      "TEST_BOOL_MISSING",
			value:    "",
			def:      false,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != "" {
				if err := os.Setenv(tt.key, tt.value); err != nil {
					t.Fatalf("failed to set env var: %v", err)
				}
				defer func() {
					if err := os.Unsetenv(tt.key); err != nil {
						t.Errorf("failed to unset env var: %v", err)
					}
				}()
			}

			result := mustBool(tt.key, tt.def)
			if result != tt.expected {
				t.Errorf("mustBool() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestMustFloat(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		value    string
		def      float64
		expected float64
	}{
		{name: "valid float", key: "TEST_FLOAT", value: "2.5", def: 1, expected: 2.5},
		{name: "non-positive uses default", key: "TEST_FLOAT_ZERO", value: "0", def: 5, expected: 5},
		{name: "invalid uses default", key: "TEST_FLOAT_INVALID", value: "fast", def: 5, expected: 5},
		{name: "missing uses default", key: "TEST_FLOAT_MISSING", value: "", def: 3, expected: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != "" {
				t.Setenv(tt.key, tt.value)
			}
			if got := mustFloat(tt.key, tt.def); got != tt.expected {
				t.Errorf("mustFloat() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestSplitAndTrim(t *testing.T) {
	got := splitAndTrim(` "10.0.0.0/8", 127.0.0.1 ,, 'fd00::/8' `)
	want := []string{"10.0.0.0/8", "127.0.0.1", "fd00::/8"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("splitAndTrim() = %v, want %v", got, want)
	}
	if splitAndTrim("") != nil {
		t.Error("splitAndTrim(\"\") should be nil")
	}
}

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"SKYEMBED_CACHE_BACKEND", "SKYEMBED_DEFAULT_THEME", "BSKY_USERNAME", "BSKY_APP_PASSWORD", "BSKY_SERVICE_URL"} {
		t.Setenv(k, "")
	}

	cfg := Load()
	if cfg.CacheBackend != CacheBackendMemory {
		t.Errorf("CacheBackend = %q, want memory", cfg.CacheBackend)
	}
	if cfg.ServiceURL != "https://bsky.social" {
		t.Errorf("ServiceURL = %q", cfg.ServiceURL)
	}
	if cfg.DefaultTheme != "light" || cfg.DefaultWidth != "100%" {
		t.Errorf("render defaults = %q/%q", cfg.DefaultTheme, cfg.DefaultWidth)
	}
	if cfg.HasCredentials() {
		t.Error("HasCredentials() should be false without username/password")
	}
}

func TestLoadStripsHandleSigil(t *testing.T) {
	t.Setenv("BSKY_USERNAME", "@alice.test")
	t.Setenv("BSKY_APP_PASSWORD", "app-pass")

	cfg := Load()
	if cfg.Username != "alice.test" {
		t.Errorf("Username = %q, want alice.test", cfg.Username)
	}
	if !cfg.HasCredentials() {
		t.Error("HasCredentials() should be true")
	}
}

func TestLoadPanicsOnInvalidCombos(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "redis without address", env: map[string]string{"SKYEMBED_CACHE_BACKEND": "redis", "SKYEMBED_REDIS_ADDR": ""}},
		{name: "unknown backend", env: map[string]string{"SKYEMBED_CACHE_BACKEND": "memcached"}},
		{name: "bad theme", env: map[string]string{"SKYEMBED_DEFAULT_THEME": "sepia"}},
		{name: "password without username", env: map[string]string{"BSKY_USERNAME": "", "BSKY_APP_PASSWORD": "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			defer func() {
				if r := recover(); r == nil {
					t.Errorf("Load() should have panicked")
				}
			}()
			Load()
		})
	}
}

func TestEffectiveFeedTTL(t *testing.T) {
	tests := []struct {
		name      string
		cacheTTL  time.Duration
		feedTTL   time.Duration
		wantFeedT time.Duration
	}{
		{name: "feed shorter", cacheTTL: time.Hour, feedTTL: 5 * time.Minute, wantFeedT: 5 * time.Minute},
		{name: "feed capped", cacheTTL: time.Minute, feedTTL: 5 * time.Minute, wantFeedT: time.Minute},
		{name: "feed unset", cacheTTL: time.Hour, feedTTL: 0, wantFeedT: time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{CacheTTL: tt.cacheTTL, FeedCacheTTL: tt.feedTTL}
			if got := cfg.EffectiveFeedTTL(); got != tt.wantFeedT {
				t.Errorf("EffectiveFeedTTL() = %v, want %v", got, tt.wantFeedT)
			}
		})
	}
}

func TestParseReturnsError(t *testing.T) {
	t.Setenv("SKYEMBED_CACHE_BACKEND", "memcached")
	cfg, err := Parse()
	if err == nil || cfg != nil {
		t.Fatalf("Parse() = %v, %v; want error", cfg, err)
	}
	if !strings.Contains(err.Error(), "memcached") {
		t.Errorf("error = %v", err)
	}
}

func TestRedacted(t *testing.T) {
	cfg := &Config{AppPassword: "app", AdminToken: "tok", Username: "alice.test"}
	r := cfg.Redacted()
	if r.AppPassword != "***REDACTED***" || r.AdminToken != "***REDACTED***" {
		t.Errorf("secrets leaked: %+v", r)
	}
	if r.RedisPassword != "" || r.Username != "alice.test" {
		t.Errorf("unexpected change: %+v", r)
	}
	if cfg.AppPassword != "app" {
		t.Error("Redacted() modified the receiver")
	}
}
