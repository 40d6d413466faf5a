package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/MrSnakeDoc/skyembed/internal/cache"
	"github.com/MrSnakeDoc/skyembed/internal/domain"
	"github.com/MrSnakeDoc/skyembed/internal/httpserver/deps"
	"github.com/MrSnakeDoc/skyembed/internal/logger"
)

const maxPostBody = 16 << 10

type createPostRequest struct {
	Text string `json:"text"`
}

type createPostResponse struct {
	URI         string `json:"uri"`
	CID         string `json:"cid"`
	Invalidated int    `json:"invalidated"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiErrorResponse struct {
	Error apiError `json:"error"`
}

// errorCode is the machine-readable class of err.
func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidIdentifier):
		return "invalid_request"
	case errors.Is(err, domain.ErrAuthRequired):
		return "auth_required"
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		return "upstream_unavailable"
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrResolution):
		return "not_found"
	default:
		return "internal"
	}
}

// CreatePost publishes a post as the home account and drops its cached
// feed pages and responses.
func CreatePost(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createPostRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPostBody))
		if err := dec.Decode(&req); err != nil {
			writeJSON(d, w, http.StatusBadRequest, apiErrorResponse{Error: apiError{
				Code: "invalid_request", Message: "body must be a JSON object with a text field",
			}})
			return
		}

		ref, err := d.Client.CreatePost(r.Context(), strings.TrimSpace(req.Text))
		if err != nil {
			d.Logger.Error("create post failed", logger.Error(err))
			writeJSON(d, w, domain.HTTPStatus(err), apiErrorResponse{Error: apiError{
				Code: errorCode(err), Message: err.Error(),
			}})
			return
		}

		n := d.Fetcher.InvalidateActor(r.Context(), d.Client.HomeHandle())
		if did := d.Client.Session().DID(); did != "" {
			n += d.Fetcher.InvalidateActor(r.Context(), did)
		}
		n += d.Cache.DeletePrefix(r.Context(), cache.KeyPrefixResponse)

		d.Logger.Info("post created", logger.String("uri", ref.URI), logger.Int("invalidated", n))
		writeJSON(d, w, http.StatusCreated, createPostResponse{URI: ref.URI, CID: ref.CID, Invalidated: n})
	}
}

type clearCacheResponse struct {
	Scope   string `json:"scope"`
	Cleared int    `json:"cleared"`
}

// ClearCache forces a refresh: of one actor with ?handle=, of everything
// otherwise.
func ClearCache(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		handle := domain.NormalizeHandle(r.URL.Query().Get("handle"))

		if handle == "" {
			n := d.Cache.Len(ctx)
			d.Cache.Clear(ctx)
			d.Logger.Info("cache cleared", logger.Int("entries", n), logger.String("remote_ip", r.RemoteAddr))
			writeJSON(d, w, http.StatusOK, clearCacheResponse{Scope: "all", Cleared: n})
			return
		}

		if !domain.IsActorID(handle) {
			if err := domain.ValidateHandle(handle); err != nil {
				writeJSON(d, w, http.StatusBadRequest, apiErrorResponse{Error: apiError{
					Code: errorCode(err), Message: err.Error(),
				}})
				return
			}
		}

		// Response keys are URLs, so per-actor entries cannot be singled out.
		n := d.Fetcher.InvalidateActor(ctx, handle)
		n += d.Cache.DeletePrefix(ctx, cache.KeyPrefixResponse)
		writeJSON(d, w, http.StatusOK, clearCacheResponse{Scope: handle, Cleared: n})
	}
}
