package mw

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrSnakeDoc/skyembed/internal/logger"
)

// NoCacheParam forces a fresh response when set to a true value.
const NoCacheParam = "_nocache"

// ResponseStore is the cache surface used for whole responses.
type ResponseStore interface {
	Get(ctx context.Context, key string, dst any) bool
	Put(ctx context.Context, key string, value any, ttl time.Duration)
	Delete(ctx context.Context, key string)
}

type cachedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// captureWriter tees the body so a 200 response can be stored.
type captureWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (w *captureWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *captureWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

// NoCache reports whether the request asks to skip cached data.
func NoCache(r *http.Request) bool {
	switch r.URL.Query().Get(NoCacheParam) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// CanonicalURL is the request path plus its sorted query, without the
// no-cache parameter.
func CanonicalURL(r *http.Request) string {
	q := r.URL.Query()
	q.Del(NoCacheParam)
	u := url.URL{Path: r.URL.Path, RawQuery: q.Encode()}
	return u.String()
}

// CacheResponses serves GET responses from store under key(canonical URL).
// With the no-cache parameter the entry is dropped, rebuilt and stored
// again. Only 200 responses not marked no-store are stored.
func CacheResponses(store ResponseStore, key func(string) string, ttl time.Duration, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet && r.Method != http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			k := key(CanonicalURL(r))
			ctx := r.Context()

			if NoCache(r) {
				store.Delete(ctx, k)
				log.Debug("response cache bypassed", logger.String("key", k))
			} else {
				var hit cachedResponse
				if store.Get(ctx, k, &hit) {
					w.Header().Set("Content-Type", hit.ContentType)
					w.Header().Set("X-Cache", "HIT")
					w.WriteHeader(hit.Status)
					_, _ = w.Write(hit.Body)
					return
				}
			}

			w.Header().Set("X-Cache", "MISS")
			cw := &captureWriter{ResponseWriter: w}
			next.ServeHTTP(cw, r)

			if cw.status == http.StatusOK && r.Method == http.MethodGet &&
				!strings.Contains(w.Header().Get("Cache-Control"), "no-store") {
				store.Put(ctx, k, cachedResponse{
					Status:      cw.status,
					ContentType: w.Header().Get("Content-Type"),
					Body:        cw.buf.Bytes(),
				}, ttl)
			}
		})
	}
}
