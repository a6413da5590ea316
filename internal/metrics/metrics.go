// Package metrics exposes Prometheus collectors for the catalog crawler.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch attempt outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeExhausted = "exhausted"
)

var (
	fetchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_fetch_attempts_total",
			Help: "Fetch attempts, labeled by site and outcome.",
		},
		[]string{"site", "outcome"},
	)

	fetchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_fetch_duration_seconds",
			Help:    "Histogram of single fetch attempt latencies, labeled by site.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 12},
		},
		[]string{"site"},
	)

	fetchBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_fetch_bytes_total",
			Help: "Total number of bytes fetched, labeled by site.",
		},
		[]string{"site"},
	)

	limiterInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_limiter_in_flight",
			Help: "Fetches currently holding a concurrency slot.",
		},
	)

	limiterWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "catalog_limiter_wait_seconds",
			Help:    "Time spent waiting for a concurrency slot.",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 60},
		},
	)

	leafOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_leaf_outcomes_total",
			Help: "Leaf page outcomes, labeled by category and kind (record, fetch_exhausted, extraction_miss).",
		},
		[]string{"category", "kind"},
	)

	categoriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_categories_total",
			Help: "Finished category crawls, labeled by final state.",
		},
		[]string{"state"},
	)

	rateLimitDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_rate_limit_delay_seconds",
			Help:    "Histogram of politeness rate limit waits.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"domain"},
	)

	promotionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_transport_promotions_total",
			Help: "Hosts promoted from the plain to the rendered transport.",
		},
		[]string{"site"},
	)

	progressDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_progress_events_dropped_total",
			Help: "Progress events dropped because the hub buffer was full.",
		},
	)

	outputWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_output_writes_total",
			Help: "Result document writes, labeled by backend and outcome.",
		},
		[]string{"backend", "outcome"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_http_requests_total",
			Help: "Requests served by the metrics endpoint, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_http_request_duration_seconds",
			Help:    "Histogram of metrics endpoint latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

// SanitizeSite extracts a lowercase hostname from a URL for use as a label.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetchAttempt records one transport attempt.
func ObserveFetchAttempt(rawURL, outcome string, duration time.Duration, bytesFetched int) {
	site := SanitizeSite(rawURL)
	fetchAttemptsTotal.WithLabelValues(site, outcome).Inc()
	fetchDurationSeconds.WithLabelValues(site).Observe(duration.Seconds())
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObserveFetchExhausted records a URL whose every attempt failed.
func ObserveFetchExhausted(rawURL string) {
	fetchAttemptsTotal.WithLabelValues(SanitizeSite(rawURL), OutcomeExhausted).Inc()
}

// SetInFlight publishes the limiter's current in-flight count.
func SetInFlight(n int64) {
	limiterInFlight.Set(float64(n))
}

// ObserveLimiterWait records how long a caller waited for a slot.
func ObserveLimiterWait(d time.Duration) {
	limiterWaitSeconds.Observe(d.Seconds())
}

// ObserveLeaf counts one leaf outcome for a category.
func ObserveLeaf(category, kind string) {
	leafOutcomesTotal.WithLabelValues(category, kind).Inc()
}

// ObserveCategory counts a finished category crawl.
func ObserveCategory(state string) {
	categoriesTotal.WithLabelValues(state).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObservePromotion counts a host switched to the rendered transport.
func ObservePromotion(rawURL string) {
	promotionsTotal.WithLabelValues(SanitizeSite(rawURL)).Inc()
}

// ObserveProgressDropped counts one dropped progress event.
func ObserveProgressDropped() {
	progressDroppedTotal.Inc()
}

// ObserveOutputWrite counts one result document write.
func ObserveOutputWrite(backend, outcome string) {
	outputWritesTotal.WithLabelValues(backend, outcome).Inc()
}

// ObserveHTTPRequest records metrics for one served HTTP request.
func ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
