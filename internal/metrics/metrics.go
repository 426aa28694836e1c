// Package metrics exposes Prometheus collectors for the catalog pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	upstreamRequestsTotal      *prometheus.CounterVec
	upstreamRequestDuration    *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	rateLimitedTotal           *prometheus.CounterVec
	rateLimitStrikes           *prometheus.GaugeVec
	safeModeActive             *prometheus.GaugeVec
	discoveryQueriesTotal      *prometheus.CounterVec
	discoveryItemsTotal        prometheus.Counter
	enrichmentOutcomesTotal    *prometheus.CounterVec
	enrichmentInflight         prometheus.Gauge
	thumbnailRowsTotal         *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times; every Observe helper calls it.
func Init() {
	once.Do(func() {
		upstreamRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_upstream_requests_total",
				Help: "Total upstream API calls, labeled by host class and status class.",
			},
			[]string{"host_class", "status"},
		)

		upstreamRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "catalog_upstream_request_duration_seconds",
				Help:    "Histogram of upstream API latencies, labeled by host class.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"host_class"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "catalog_rate_limit_delays_seconds",
				Help:    "Histogram of time callers spent waiting in the rate controller.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"host_class"},
		)

		rateLimitedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_rate_limited_total",
				Help: "Total rate-limit responses reported to the controller.",
			},
			[]string{"host_class"},
		)

		rateLimitStrikes = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "catalog_rate_limit_strikes",
				Help: "Current strike count per host class.",
			},
			[]string{"host_class"},
		)

		safeModeActive = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "catalog_safe_mode_active",
				Help: "1 when the controller for the host class has entered safe mode.",
			},
			[]string{"host_class"},
		)

		discoveryQueriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_discovery_queries_total",
				Help: "Discovery queries by terminal state.",
			},
			[]string{"state"},
		)

		discoveryItemsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "catalog_discovery_items_total",
				Help: "Total item sightings persisted by discovery.",
			},
		)

		enrichmentOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_enrichment_outcomes_total",
				Help: "Enrichment results, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		enrichmentInflight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "catalog_enrichment_inflight",
				Help: "Number of items currently being enriched.",
			},
		)

		thumbnailRowsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_thumbnail_rows_total",
				Help: "Thumbnail rows written, labeled by image state.",
			},
			[]string{"state"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// StatusClass buckets an upstream status code. Zero means the call never produced a response.
func StatusClass(code int) string {
	switch {
	case code == 0:
		return "error"
	case code == http.StatusTooManyRequests:
		return "429"
	case code == http.StatusNotFound:
		return "404"
	case code >= 200 && code < 600:
		return strconv.Itoa(code/100) + "xx"
	default:
		return "unknown"
	}
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveUpstream records one upstream call.
func ObserveUpstream(hostClass string, code int, duration time.Duration) {
	Init()
	upstreamRequestsTotal.WithLabelValues(hostClass, StatusClass(code)).Inc()
	upstreamRequestDuration.WithLabelValues(hostClass).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate controller wait.
func ObserveRateLimitDelay(hostClass string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(hostClass).Observe(duration.Seconds())
}

// ObserveRateLimited counts one rate-limit response and records the resulting strike count.
func ObserveRateLimited(hostClass string, strikes int) {
	Init()
	rateLimitedTotal.WithLabelValues(hostClass).Inc()
	rateLimitStrikes.WithLabelValues(hostClass).Set(float64(strikes))
}

// SetStrikes records the strike count after a decay.
func SetStrikes(hostClass string, strikes int) {
	Init()
	rateLimitStrikes.WithLabelValues(hostClass).Set(float64(strikes))
}

// SetSafeMode flips the safe mode gauge.
func SetSafeMode(hostClass string, on bool) {
	Init()
	v := 0.0
	if on {
		v = 1
	}
	safeModeActive.WithLabelValues(hostClass).Set(v)
}

// ObserveQuery counts one discovery query reaching a terminal state.
func ObserveQuery(state string) {
	Init()
	discoveryQueriesTotal.WithLabelValues(state).Inc()
}

// ObserveDiscoveredItems adds item sightings persisted by discovery.
func ObserveDiscoveredItems(n int) {
	Init()
	if n > 0 {
		discoveryItemsTotal.Add(float64(n))
	}
}

// ObserveEnrichment counts one enrichment outcome.
func ObserveEnrichment(outcome string) {
	Init()
	enrichmentOutcomesTotal.WithLabelValues(outcome).Inc()
}

// IncInflight increments the in-flight enrichment gauge.
func IncInflight() {
	Init()
	enrichmentInflight.Inc()
}

// DecInflight decrements the in-flight enrichment gauge.
func DecInflight() {
	Init()
	enrichmentInflight.Dec()
}

// ObserveThumbnails adds thumbnail rows written for one state.
func ObserveThumbnails(state string, n int) {
	Init()
	thumbnailRowsTotal.WithLabelValues(state).Add(float64(n))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
