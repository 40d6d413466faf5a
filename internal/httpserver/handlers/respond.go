package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/MrSnakeDoc/skyembed/internal/domain"
	"github.com/MrSnakeDoc/skyembed/internal/httpserver/deps"
	"github.com/MrSnakeDoc/skyembed/internal/logger"
	"github.com/MrSnakeDoc/skyembed/internal/render"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(d deps.Deps, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		d.Logger.Debug("failed to write response", logger.Error(err))
	}
}

func writeHTML(d deps.Deps, w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if status != http.StatusOK {
		w.Header().Set("Cache-Control", "no-store")
	}
	w.WriteHeader(status)
	if _, err := w.Write([]byte(body)); err != nil {
		d.Logger.Debug("failed to write response", logger.Error(err))
	}
}

// renderOptions reads theme and width from the query.
func renderOptions(r *http.Request) render.Options {
	q := r.URL.Query()
	return render.Options{Theme: q.Get("theme"), Width: q.Get("width")}
}

func queryBool(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(key))
	return err == nil && v
}

func queryInt(r *http.Request, key string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return v
}

// publicMessage phrases err for a visitor.
func publicMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidIdentifier):
		return "That does not look like a Bluesky post URL or post URI."
	case errors.Is(err, domain.ErrAuthRequired):
		return "This post needs a signed-in Bluesky account."
	case errors.Is(err, domain.ErrResolution), errors.Is(err, domain.ErrNotFound):
		return "The post could not be found. It may have been deleted or you may not have permission to view it."
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		return "Bluesky is not responding right now. Please try again later."
	default:
		return "The post could not be loaded right now."
	}
}
