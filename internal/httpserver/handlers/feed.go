package handlers

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/MrSnakeDoc/skyembed/internal/domain"
	"github.com/MrSnakeDoc/skyembed/internal/feed"
	"github.com/MrSnakeDoc/skyembed/internal/httpserver/deps"
	"github.com/MrSnakeDoc/skyembed/internal/httpserver/mw"
	"github.com/MrSnakeDoc/skyembed/internal/logger"
	"github.com/MrSnakeDoc/skyembed/internal/render"
)

type feedResponse struct {
	Posts  []string `json:"posts"`
	Cursor *string  `json:"cursor"`
}

// feedRequest reads the shared feed query parameters. handle is validated
// unless it is already a DID.
func feedRequest(r *http.Request) (string, feed.RenderOptions, error) {
	q := r.URL.Query()
	handle := domain.NormalizeHandle(q.Get("handle"))
	if !domain.IsActorID(handle) {
		if err := domain.ValidateHandle(handle); err != nil {
			return "", feed.RenderOptions{}, err
		}
	}
	return handle, feed.RenderOptions{
		Limit:        queryInt(r, "limit"),
		Cursor:       q.Get("cursor"),
		Theme:        q.Get("theme"),
		Width:        q.Get("width"),
		SkipReplies:  queryBool(r, "skipReplies"),
		SkipReposts:  queryBool(r, "skipReposts"),
		AuthoredOnly: queryBool(r, "authoredOnly"),
		BypassCache:  mw.NoCache(r),
	}, nil
}

// pageParams are the query parameters the load-more link carries over.
func pageParams(opts feed.RenderOptions) url.Values {
	v := url.Values{}
	v.Set("limit", strconv.Itoa(feed.ClampLimit(opts.Limit)))
	if opts.Width != "" {
		v.Set("width", opts.Width)
	}
	if opts.SkipReplies {
		v.Set("skipReplies", "true")
	}
	if opts.SkipReposts {
		v.Set("skipReposts", "true")
	}
	return v
}

func invalidHandle(d deps.Deps, w http.ResponseWriter, r *http.Request, err error) {
	d.Logger.Debug("invalid feed handle",
		logger.String("handle", r.URL.Query().Get("handle")), logger.Error(err))
	writeHTML(d, w, http.StatusBadRequest,
		d.Renderer.ErrorPage("A valid Bluesky handle is required, e.g. ?handle=alice.bsky.social", renderOptions(r)))
}

func markFailed(w http.ResponseWriter, out feed.Rendered) {
	if out.Failed {
		w.Header().Set("Cache-Control", "no-store")
	}
}

// Feed serves a page of an account's feed. A failed fetch is retried once
// with a reduced page before the error card is shown.
func Feed(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		handle, opts, err := feedRequest(r)
		if err != nil {
			invalidHandle(d, w, r, err)
			return
		}
		opts.AuthoredOnly = false

		out := d.Fetcher.GetRenderedFeedWithRetry(r.Context(), handle, opts, d.RetryPolicy)
		markFailed(w, out)
		page := d.Renderer.FeedPage(render.FeedPageData{
			Handle: handle,
			Posts:  out.Posts,
			Cursor: out.Cursor,
			Path:   "/feed",
			Params: pageParams(opts),
		}, render.Options{Theme: opts.Theme, Width: opts.Width})
		writeHTML(d, w, http.StatusOK, page)
	}
}

// UserPosts serves the posts an account authored, under its profile.
func UserPosts(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		handle, opts, err := feedRequest(r)
		if err != nil {
			invalidHandle(d, w, r, err)
			return
		}
		opts.AuthoredOnly = true

		out := d.Fetcher.GetRenderedFeedWithRetry(r.Context(), handle, opts, d.RetryPolicy)
		markFailed(w, out)

		profile, err := d.Client.FetchProfile(r.Context(), handle)
		if err != nil {
			d.Logger.Debug("profile header unavailable", logger.String("handle", handle), logger.Error(err))
			profile = nil
		}

		page := d.Renderer.FeedPage(render.FeedPageData{
			Handle:  handle,
			Title:   "Posts by @" + strings.TrimPrefix(handle, "@"),
			Posts:   out.Posts,
			Cursor:  out.Cursor,
			Profile: profile,
			Path:    "/user-posts",
			Params:  pageParams(opts),
		}, render.Options{Theme: opts.Theme, Width: opts.Width})
		writeHTML(d, w, http.StatusOK, page)
	}
}

// APIFeed serves rendered fragments and the next cursor as JSON.
func APIFeed(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		handle, opts, err := feedRequest(r)
		if err != nil {
			writeJSON(d, w, http.StatusBadRequest, errorResponse{Error: "a valid handle is required"})
			return
		}

		out := d.Fetcher.GetRenderedFeed(r.Context(), handle, opts)
		markFailed(w, out)
		resp := feedResponse{Posts: out.Posts}
		if out.Cursor != "" {
			c := out.Cursor
			resp.Cursor = &c
		}
		writeJSON(d, w, http.StatusOK, resp)
	}
}
