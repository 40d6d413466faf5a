package handlers

import (
	"net/http"

	"github.com/MrSnakeDoc/skyembed/internal/httpserver/deps"
)

type buildInfo struct {
	Version   string `json:"version,omitempty"`
	Commit    string `json:"commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
	GoVersion string `json:"go_version,omitempty"`
}

type healthzResponse struct {
	Status        string    `json:"status"`
	Service       string    `json:"service"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	Session       string    `json:"session"`
	Build         buildInfo `json:"build"`
}

// Healthz is liveness only: it never touches the upstream or the cache.
func Healthz(d deps.Deps) http.HandlerFunc {
	build := buildInfo{
		Version:   d.Version,
		Commit:    d.Commit,
		BuildDate: d.BuildDate,
		GoVersion: d.GoVersion,
	}
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		writeJSON(d, w, http.StatusOK, healthzResponse{
			Status:        "ok",
			Service:       "skyembed",
			UptimeSeconds: d.Now().Sub(d.StartTime).Seconds(),
			Session:       sessionState(d),
			Build:         build,
		})
	}
}

// sessionState reports whether posts are read with an authenticated
// session, with credentials not yet exchanged, or anonymously.
func sessionState(d deps.Deps) string {
	switch {
	case d.Client == nil || !d.Client.HasCredentials():
		return "anonymous"
	case d.Client.Session() != nil && d.Client.Session().Authenticated():
		return "authenticated"
	default:
		return "pending"
	}
}
