package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/skyembed/internal/httpserver/deps"
)

type readyzResponse struct {
	Ready  bool   `json:"ready"`
	Reason string `json:"reason,omitempty"`
}

// Readyz is ready once the renderer exists and, with the redis backend,
// redis answers a ping.
func Readyz(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		if d.Renderer == nil || d.Fetcher == nil {
			writeJSON(d, w, http.StatusServiceUnavailable, readyzResponse{Reason: "not initialized"})
			return
		}
		if d.RedisClient != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := d.RedisClient.Ping(ctx).Err(); err != nil {
				writeJSON(d, w, http.StatusServiceUnavailable, readyzResponse{Reason: "redis unreachable"})
				return
			}
		}
		writeJSON(d, w, http.StatusOK, readyzResponse{Ready: true})
	}
}
