package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every collector the service exports. A nil *Metrics is
// valid and records nothing, so packages can take one unconditionally.
type Metrics struct {
	registry *prometheus.Registry

	upstreamRequests *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	upstreamRetries  *prometheus.CounterVec
	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
	feedFallbacks    *prometheus.CounterVec
	renderFailures   *prometheus.CounterVec
	webRequests      *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry, along with the Go and
// process collectors.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.upstreamRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "skyembed_upstream_requests_total",
		Help: "Upstream XRPC calls by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})

	m.upstreamDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "skyembed_upstream_request_duration_seconds",
		Help:    "Duration in seconds of upstream XRPC calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	m.upstreamRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "skyembed_upstream_retries_total",
		Help: "Upstream retry attempts after 429/5xx or transport errors.",
	}, []string{"endpoint"})

	m.cacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "skyembed_cache_hits_total",
		Help: "Cache lookups that returned a live entry.",
	})

	m.cacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "skyembed_cache_misses_total",
		Help: "Cache lookups that found nothing usable.",
	})

	m.feedFallbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "skyembed_feed_source_total",
		Help: "Which path served a feed request (author_feed, timeline, empty).",
	}, []string{"path"})

	m.renderFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "skyembed_render_failures_total",
		Help: "Items replaced by an inline error placeholder.",
	}, []string{"reason"})

	m.webRequests = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "skyembed_web_requests_duration_seconds",
		Help: "Duration in seconds of HTTP requests served.",
	}, []string{"route"})

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.upstreamRequests,
		m.upstreamDuration,
		m.upstreamRetries,
		m.cacheHits,
		m.cacheMisses,
		m.feedFallbacks,
		m.renderFailures,
		m.webRequests,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is used by tests to gather values.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveUpstream records one finished upstream call.
func (m *Metrics) ObserveUpstream(endpoint, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.upstreamRequests.WithLabelValues(endpoint, outcome).Inc()
	m.upstreamDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncUpstreamRetry(endpoint string) {
	if m == nil {
		return
	}
	m.upstreamRetries.WithLabelValues(endpoint).Inc()
}

func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

// FeedServedBy counts which fallback path produced a feed page.
func (m *Metrics) FeedServedBy(path string) {
	if m == nil {
		return
	}
	m.feedFallbacks.WithLabelValues(path).Inc()
}

func (m *Metrics) RenderFailure(reason string) {
	if m == nil {
		return
	}
	m.renderFailures.WithLabelValues(reason).Inc()
}

// ObserveWebRequest records one served HTTP request under its route pattern.
func (m *Metrics) ObserveWebRequest(route string, start time.Time) {
	if m == nil {
		return
	}
	m.webRequests.WithLabelValues(route).Observe(time.Since(start).Seconds())
}
