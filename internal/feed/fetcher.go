package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrSnakeDoc/skyembed/internal/cache"
	"github.com/MrSnakeDoc/skyembed/internal/domain"
	"github.com/MrSnakeDoc/skyembed/internal/logger"
	"github.com/MrSnakeDoc/skyembed/internal/metrics"
	"github.com/MrSnakeDoc/skyembed/internal/render"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100

	PathAuthorFeed = "author_feed"
	PathTimeline   = "timeline"
	PathEmpty      = "empty"
)

// Upstream is the part of the Bluesky client the fetcher relies on.
type Upstream interface {
	IsHome(handle string) bool
	FetchAuthorFeed(ctx context.Context, actor string, limit int, cursor string) (*domain.FeedPage, error)
	FetchTimeline(ctx context.Context, limit int, cursor string) (*domain.FeedPage, error)
	FetchAuthoredOnly(ctx context.Context, actor string, limit int, cursor string) (*domain.FeedPage, error)
}

// Store is the cache surface used for feed pages.
type Store interface {
	Get(ctx context.Context, key string, dst any) bool
	Put(ctx context.Context, key string, value any, ttl time.Duration)
	DeletePrefix(ctx context.Context, prefix string) int
}

// Renderer produces the markup of a rendered feed.
type Renderer interface {
	Post(post *domain.Post, opts render.Options) string
	ItemError(message string, opts render.Options) string
	NoPosts(handle string, opts render.Options) string
	FeedError(message string, opts render.Options) string
}

// Options selects one page of a raw feed.
type Options struct {
	Limit       int
	Cursor      string
	BypassCache bool
}

// RenderOptions selects and presents one page of a rendered feed.
type RenderOptions struct {
	Limit        int
	Cursor       string
	Theme        string
	Width        string
	SkipReplies  bool
	SkipReposts  bool
	AuthoredOnly bool
	BypassCache  bool
}

// Rendered is a page of post fragments. Failed marks the single
// error-placeholder page produced when the whole fetch failed.
type Rendered struct {
	Posts  []string
	Cursor string
	Failed bool
}

// Fetcher reads feeds through the cache and turns them into markup. Its
// methods never return errors; failures degrade to empty pages or
// placeholders.
type Fetcher struct {
	upstream Upstream
	store    Store
	renderer Renderer
	feedTTL  time.Duration
	metrics  *metrics.Metrics
	logger   logger.Logger
}

func NewFetcher(up Upstream, store Store, rend Renderer, feedTTL time.Duration, m *metrics.Metrics, log logger.Logger) *Fetcher {
	return &Fetcher{
		upstream: up,
		store:    store,
		renderer: rend,
		feedTTL:  feedTTL,
		metrics:  m,
		logger:   log,
	}
}

// ClampLimit maps a requested page size onto [1, MaxLimit], 0 meaning the
// default.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// ─────────────────────────────
// Raw feeds
// ─────────────────────────────

// GetFeed returns one page of handle's feed. The author feed is tried
// first; the home account falls back to its timeline. When both fail the
// result is an empty page that is not cached.
func (f *Fetcher) GetFeed(ctx context.Context, handle string, opts Options) *domain.FeedPage {
	page, err := f.feed(ctx, domain.NormalizeHandle(handle), opts)
	if err != nil {
		return domain.EmptyFeedPage()
	}
	return page
}

func (f *Fetcher) feed(ctx context.Context, handle string, opts Options) (*domain.FeedPage, error) {
	limit := ClampLimit(opts.Limit)
	key := cache.FeedKey(handle, limit, opts.Cursor)

	return cache.Wrap(ctx, f.store, key, f.feedTTL, opts.BypassCache, func(ctx context.Context) (*domain.FeedPage, error) {
		page, path, err := f.fetchFeed(ctx, handle, limit, opts.Cursor)
		f.metrics.FeedServedBy(path)
		return page, err
	})
}

func (f *Fetcher) fetchFeed(ctx context.Context, handle string, limit int, cursor string) (*domain.FeedPage, string, error) {
	page, err := f.upstream.FetchAuthorFeed(ctx, handle, limit, cursor)
	if err == nil && page != nil {
		return page, PathAuthorFeed, nil
	}
	err = orShape(err)
	f.logger.Warn("author feed failed", logger.String("handle", handle), logger.Error(err))

	if f.upstream.IsHome(handle) {
		tl, terr := f.upstream.FetchTimeline(ctx, limit, cursor)
		if terr == nil && tl != nil {
			f.logger.Info("home feed served from timeline", logger.String("handle", handle))
			return tl, PathTimeline, nil
		}
		err = orShape(terr)
		f.logger.Warn("timeline fallback failed", logger.String("handle", handle), logger.Error(err))
	}

	f.logger.Error("all feed paths failed", logger.String("handle", handle), logger.Error(err))
	return nil, PathEmpty, err
}

// authored returns the actor's own posts, cached under the user-posts keys.
func (f *Fetcher) authored(ctx context.Context, handle string, limit int, cursor string, bypass bool) (*domain.FeedPage, error) {
	key := cache.UserPostsKey(handle, limit, cursor)
	return cache.Wrap(ctx, f.store, key, f.feedTTL, bypass, func(ctx context.Context) (*domain.FeedPage, error) {
		page, err := f.upstream.FetchAuthoredOnly(ctx, handle, limit, cursor)
		if err == nil && page == nil {
			err = domain.ErrInvalidFeedShape
		}
		return page, err
	})
}

// InvalidateActor drops every cached feed page of handle and returns how
// many entries were removed.
func (f *Fetcher) InvalidateActor(ctx context.Context, handle string) int {
	h := domain.NormalizeHandle(handle)
	if h == "" {
		return 0
	}
	n := 0
	for _, prefix := range cache.ActorPrefixes(h) {
		n += f.store.DeletePrefix(ctx, prefix)
	}
	f.logger.Info("feed cache invalidated", logger.String("handle", h), logger.Int("entries", n))
	return n
}

// ─────────────────────────────
// Rendered feeds
// ─────────────────────────────

// GetRenderedFeed fetches a page and renders every item. A failing item is
// replaced by an inline placeholder; a failing page becomes a single error
// placeholder with no cursor.
func (f *Fetcher) GetRenderedFeed(ctx context.Context, handle string, opts RenderOptions) (out Rendered) {
	h := domain.NormalizeHandle(handle)
	ropts := render.Options{Theme: opts.Theme, Width: opts.Width}

	defer func() {
		if rec := recover(); rec != nil {
			out = f.failedPage(h, ropts, fmt.Errorf("panic: %v", rec))
		}
	}()

	var (
		page *domain.FeedPage
		err  error
	)
	limit := ClampLimit(opts.Limit)
	if opts.AuthoredOnly {
		page, err = f.authored(ctx, h, limit, opts.Cursor, opts.BypassCache)
	} else {
		page, err = f.feed(ctx, h, Options{Limit: limit, Cursor: opts.Cursor, BypassCache: opts.BypassCache})
	}
	if err != nil {
		return f.failedPage(h, ropts, err)
	}
	if page == nil || page.Feed == nil {
		return f.failedPage(h, ropts, domain.ErrInvalidFeedShape)
	}

	posts := make([]string, 0, len(page.Feed))
	for i, item := range page.Feed {
		switch {
		case item.Malformed != "":
			f.logger.Warn("malformed feed item",
				logger.String("handle", h), logger.Int("index", i), logger.String("reason", item.Malformed))
			posts = append(posts, f.renderer.ItemError(item.Malformed, ropts))
		case opts.SkipReplies && item.Reply:
		case opts.SkipReposts && item.Repost:
		case item.Post == nil:
			f.logger.Debug("feed item without post", logger.String("handle", h), logger.Int("index", i))
		default:
			posts = append(posts, f.renderItem(item.Post, ropts))
		}
	}

	cursor := page.Cursor
	if len(posts) == 0 {
		posts = append(posts, f.renderer.NoPosts(h, ropts))
		if opts.AuthoredOnly {
			cursor = ""
		}
	}
	return Rendered{Posts: posts, Cursor: cursor}
}

func (f *Fetcher) renderItem(post *domain.Post, opts render.Options) (out string) {
	defer func() {
		if rec := recover(); rec != nil {
			f.metrics.RenderFailure("item_panic")
			f.logger.Error("rendering feed item panicked",
				logger.String("uri", post.URI), logger.String("panic", fmt.Sprint(rec)))
			out = f.renderer.ItemError(fmt.Sprint(rec), opts)
		}
	}()
	return f.renderer.Post(post, opts)
}

func (f *Fetcher) failedPage(handle string, opts render.Options, err error) Rendered {
	f.logger.Error("rendered feed failed", logger.String("handle", handle), logger.Error(err))
	return Rendered{
		Posts:  []string{f.renderer.FeedError(userMessage(err), opts)},
		Failed: true,
	}
}

// userMessage phrases a fetch failure for the feed error card.
func userMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrAuthRequired):
		return "This feed needs a signed-in Bluesky account."
	case errors.Is(err, domain.ErrResolution), errors.Is(err, domain.ErrNotFound):
		return "This Bluesky account could not be found."
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		return "Bluesky is not responding right now. Please try again later."
	default:
		return "The feed could not be loaded right now. Please try again later."
	}
}

func orShape(err error) error {
	if err == nil {
		return domain.ErrInvalidFeedShape
	}
	return err
}
