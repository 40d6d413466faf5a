package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/MrSnakeDoc/skyembed/internal/domain"
	"github.com/MrSnakeDoc/skyembed/internal/httpserver/deps"
	"github.com/MrSnakeDoc/skyembed/internal/logger"
)

// postParam returns the post identifier: a web URL in url, or an at:// URI
// in uri.
func postParam(r *http.Request) string {
	q := r.URL.Query()
	if v := strings.TrimSpace(q.Get("url")); v != "" {
		return v
	}
	return strings.TrimSpace(q.Get("uri"))
}

func fetchPost(d deps.Deps, r *http.Request) (*domain.Post, error) {
	id := postParam(r)
	if id == "" {
		return nil, domain.ErrInvalidIdentifier
	}
	post, err := d.Client.FetchPost(r.Context(), id)
	if err != nil {
		d.Logger.Warn("post fetch failed",
			logger.String("identifier", id),
			logger.Int("status", domain.HTTPStatus(err)),
			logger.Error(err))
		return nil, err
	}
	return post, nil
}

// Embed serves a standalone HTML page for one post.
func Embed(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts := renderOptions(r)
		post, err := fetchPost(d, r)
		if err != nil {
			writeHTML(d, w, domain.HTTPStatus(err), d.Renderer.ErrorPage(publicMessage(err), opts))
			return
		}
		writeHTML(d, w, http.StatusOK, d.Renderer.StandalonePage(post, opts))
	}
}

// Post serves the embeddable fragment for one post.
func Post(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		post, err := fetchPost(d, r)
		if err != nil {
			writeJSON(d, w, domain.HTTPStatus(err), errorResponse{Error: publicMessage(err)})
			return
		}
		writeHTML(d, w, http.StatusOK, d.Renderer.Post(post, renderOptions(r)))
	}
}

// PostRaw serves the upstream post view the fragment is built from.
func PostRaw(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		post, err := fetchPost(d, r)
		if err != nil {
			writeJSON(d, w, domain.HTTPStatus(err), errorResponse{Error: publicMessage(err)})
			return
		}
		if len(post.Raw) == 0 {
			writeJSON(d, w, http.StatusOK, post)
			return
		}
		writeJSON(d, w, http.StatusOK, json.RawMessage(post.Raw))
	}
}

// OEmbed answers oEmbed discovery requests. Only the json format exists.
func OEmbed(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if f := r.URL.Query().Get("format"); f != "" && f != "json" {
			writeJSON(d, w, http.StatusNotImplemented, errorResponse{Error: "only format=json is supported"})
			return
		}
		post, err := fetchPost(d, r)
		if err != nil {
			writeJSON(d, w, domain.HTTPStatus(err), errorResponse{Error: publicMessage(err)})
			return
		}
		doc := d.Renderer.OEmbed(post, queryInt(r, "maxwidth"), r.URL.Query().Get("theme"))
		writeJSON(d, w, http.StatusOK, doc)
	}
}
