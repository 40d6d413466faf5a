package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/skyembed/internal/httpserver/deps"
)

type componentStatus struct {
	OK      bool   `json:"ok"`
	Mode    string `json:"mode,omitempty"`
	Entries *int   `json:"entries,omitempty"`
	Impact  string `json:"impact,omitempty"`
	Error   string `json:"error,omitempty"`
}

type infraResponse struct {
	ServiceMode string                     `json:"service_mode"`
	Components  map[string]componentStatus `json:"components"`
}

func Infra(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")

		components := map[string]componentStatus{
			"upstream": checkUpstream(d),
			"cache":    checkCache(r.Context(), d),
			"fallback": checkFallbacks(d),
		}
		if d.RedisClient != nil {
			components["redis"] = checkRedis(r.Context(), d)
		}

		writeJSON(d, w, http.StatusOK, infraResponse{
			ServiceMode: determineServiceMode(components),
			Components:  components,
		})
	}
}

func determineServiceMode(components map[string]componentStatus) string {
	// Redis down = every lookup misses and goes upstream.
	if redis, exists := components["redis"]; exists && !redis.OK {
		return "degraded"
	}
	if up := components["upstream"]; up.Mode == "public" {
		return "public"
	}
	return "optimal"
}

func checkUpstream(d deps.Deps) componentStatus {
	switch {
	case d.Client == nil:
		return componentStatus{OK: false, Error: "client not initialized"}
	case d.Client.Session().Authenticated():
		return componentStatus{OK: true, Mode: "authenticated"}
	case d.Client.HasCredentials():
		return componentStatus{OK: true, Mode: "public", Impact: "timeline-unavailable", Error: "session not established"}
	default:
		return componentStatus{OK: true, Mode: "public", Impact: "timeline-unavailable"}
	}
}

func checkCache(ctx context.Context, d deps.Deps) componentStatus {
	if d.Cache == nil {
		return componentStatus{OK: false, Error: "cache not initialized"}
	}
	mode := d.CacheBackend
	if !d.Cache.Enabled() {
		mode = "disabled"
	}
	n := d.Cache.Len(ctx)
	return componentStatus{OK: true, Mode: mode, Entries: &n}
}

func checkFallbacks(d deps.Deps) componentStatus {
	n := d.Fallbacks.Len()
	return componentStatus{OK: true, Entries: &n}
}

func checkRedis(ctx context.Context, d deps.Deps) componentStatus {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := d.RedisClient.Ping(ctx).Err(); err != nil {
		return componentStatus{
			OK:     false,
			Mode:   "degraded",
			Impact: "cache-misses",
			Error:  "timeout",
		}
	}
	return componentStatus{OK: true, Mode: "optimal"}
}
