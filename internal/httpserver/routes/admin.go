package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/skyembed/internal/httpserver/deps"
	"github.com/MrSnakeDoc/skyembed/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/skyembed/internal/httpserver/mw"
)

func init() { Register(registerAdmin) }

func registerAdmin(r chi.Router, d deps.Deps) {
	admin := r.With(mw.RequireAdmin(mw.AdminConfig{
		Token:      d.AdminToken,
		CIDRS:      d.AdminCIDRS,
		TrustProxy: d.TrustProxy,
	}, d.Logger))
	admin.Post("/api/posts", handlers.CreatePost(d))
	admin.Post("/cache/clear", handlers.ClearCache(d))
}
