package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/skyembed/internal/httpserver/deps"
	"github.com/MrSnakeDoc/skyembed/internal/httpserver/handlers"
)

func init() { Register(registerPost) }

func registerPost(r chi.Router, d deps.Deps) {
	cached := r.With(public(d, d.PostTTL)...)
	cached.Get("/embed", handlers.Embed(d))
	cached.Get("/api/post", handlers.Post(d))
	cached.Get("/api/post/raw", handlers.PostRaw(d))
	cached.Get("/oembed", handlers.OEmbed(d))
}
