package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/skyembed/internal/httpserver/deps"
	"github.com/MrSnakeDoc/skyembed/internal/httpserver/handlers"
)

func init() { Register(registerFeed) }

func registerFeed(r chi.Router, d deps.Deps) {
	cached := r.With(public(d, d.FeedTTL)...)
	cached.Get("/feed", handlers.Feed(d))
	cached.Get("/user-posts", handlers.UserPosts(d))
	cached.Get("/api/feed", handlers.APIFeed(d))
}
