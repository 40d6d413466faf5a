package handlers

import (
	"net/http"

	"github.com/MrSnakeDoc/skyembed/internal/httpserver/deps"
)

func Metrics(d deps.Deps) http.Handler {
	return d.Metrics.Handler()
}
