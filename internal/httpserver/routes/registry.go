package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/skyembed/internal/cache"
	"github.com/MrSnakeDoc/skyembed/internal/httpserver/deps"
	"github.com/MrSnakeDoc/skyembed/internal/httpserver/mw"
)

type (
	Registrar  func(r chi.Router, d deps.Deps)
	Middleware = func(http.Handler) http.Handler
)

type entry struct {
	reg Registrar
	mws []Middleware
}

var registry []entry

// Register a registrar with optional per-route middlewares.
func Register(reg Registrar, mws ...Middleware) {
	registry = append(registry, entry{reg: reg, mws: mws})
}

// Called once from server.New()
func RegisterAll(r chi.Router, d deps.Deps) {
	for _, e := range registry {
		if len(e.mws) == 0 {
			e.reg(r, d)
			continue
		}
		sub := r.With(e.mws...) // apply per-route middlewares
		e.reg(sub, d)
	}
}

// public is the middleware stack of cached public GET routes.
func public(d deps.Deps, ttl time.Duration) []Middleware {
	var mws []Middleware
	if d.Limiter != nil {
		mws = append(mws, d.Limiter)
	}
	if d.Cache != nil {
		mws = append(mws, mw.CacheResponses(d.Cache, cache.ResponseKey, ttl, d.Logger))
	}
	return mws
}
