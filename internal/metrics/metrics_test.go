package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.CacheHit()
	m.CacheMiss()
	m.FeedServedBy("empty")
	m.ObserveUpstream("app.bsky.feed.getPosts", "ok", time.Now())
	m.IncUpstreamRetry("app.bsky.feed.getPosts")
	m.RenderFailure("panic")
	m.ObserveWebRequest("/feed", time.Now())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Errorf("nil metrics handler status = %d, want 404", rec.Code)
	}
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.CacheHit()
	m.CacheHit()
	m.CacheMiss()
	m.FeedServedBy("timeline")
	m.ObserveUpstream("app.bsky.feed.getAuthorFeed", "error", time.Now())
	m.ObserveWebRequest("/embed", time.Now())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{
		"skyembed_cache_hits_total 2",
		"skyembed_cache_misses_total 1",
		`skyembed_feed_source_total{path="timeline"} 1`,
		`skyembed_upstream_requests_total{endpoint="app.bsky.feed.getAuthorFeed",outcome="error"} 1`,
		`skyembed_web_requests_duration_seconds_count{route="/embed"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestIndependentRegistries(t *testing.T) {
	// Two instances must not collide on registration.
	a, b := New(), New()
	a.CacheHit()

	mfs, err := b.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == "skyembed_cache_hits_total" && mf.GetMetric()[0].GetCounter().GetValue() != 0 {
			t.Error("registries share state")
		}
	}
}
