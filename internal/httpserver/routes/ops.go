package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/skyembed/internal/httpserver/deps"
	"github.com/MrSnakeDoc/skyembed/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/skyembed/internal/httpserver/mw"
)

func init() { Register(registerOps) }

func registerOps(r chi.Router, d deps.Deps) {
	r.Get("/healthz", handlers.Healthz(d))
	r.Get("/readyz", handlers.Readyz(d))

	restricted := r.With(mw.AllowOnlyCIDRS(d.AdminCIDRS, d.TrustProxy, d.Logger))
	restricted.Get("/infra", handlers.Infra(d))
	restricted.Method("GET", "/metrics", handlers.Metrics(d))
}
