// Package metrics exposes Prometheus collectors for the sync service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	syncsTotal                 *prometheus.CounterVec
	syncDurationSeconds        *prometheus.HistogramVec
	documentsCreatedTotal      *prometheus.CounterVec
	itemsSkippedTotal          *prometheus.CounterVec
	fanoutTotal                *prometheus.CounterVec
	dispatchSkippedTotal       *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	fetchTotal                 *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	robotsFallbackTotal        *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the Prometheus collectors. It is safe to call repeatedly.
func Init() {
	once.Do(func() {
		syncsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sourcesync_syncs_total",
				Help: "Collections finished, labeled by source type and status.",
			},
			[]string{"source_type", "status"},
		)

		syncDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sourcesync_sync_duration_seconds",
				Help:    "Wall time of one collection from dispatch to recorded outcome.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"source_type"},
		)

		documentsCreatedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sourcesync_documents_created_total",
				Help: "Documents persisted for the first time, labeled by source type.",
			},
			[]string{"source_type"},
		)

		itemsSkippedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sourcesync_items_skipped_total",
				Help: "Collected items not persisted, labeled by reason.",
			},
			[]string{"reason"},
		)

		fanoutTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sourcesync_fanout_total",
				Help: "Fan-out deliveries, labeled by target and status.",
			},
			[]string{"target", "status"},
		)

		dispatchSkippedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sourcesync_dispatch_skipped_total",
				Help: "Due sources not dispatched on a tick, labeled by reason.",
			},
			[]string{"reason"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sourcesync_active_workers",
				Help: "Number of collections currently in flight.",
			},
		)

		fetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sourcesync_fetch_total",
				Help: "HTTP fetches issued by collectors, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sourcesync_fetch_bytes_total",
				Help: "Bytes fetched by collectors, labeled by site.",
			},
			[]string{"site"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sourcesync_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		robotsFallbackTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sourcesync_robots_fallback_total",
				Help: "robots.txt fetches that gave up and assumed allow-all, labeled by reason.",
			},
			[]string{"reason"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of admin HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of admin HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname from a URL.
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

// ObserveSync records a finished collection.
func ObserveSync(sourceType, status string, duration time.Duration) {
	Init()
	syncsTotal.WithLabelValues(sourceType, status).Inc()
	syncDurationSeconds.WithLabelValues(sourceType).Observe(duration.Seconds())
}

// AddDocumentsCreated counts newly persisted documents.
func AddDocumentsCreated(sourceType string, n int) {
	if n <= 0 {
		return
	}
	Init()
	documentsCreatedTotal.WithLabelValues(sourceType).Add(float64(n))
}

// ObserveItemSkipped counts an item dropped by the pipeline.
func ObserveItemSkipped(reason string) {
	Init()
	itemsSkippedTotal.WithLabelValues(reason).Inc()
}

// ObserveFanout counts one indexer or notifier delivery.
func ObserveFanout(target, status string) {
	Init()
	fanoutTotal.WithLabelValues(target, status).Inc()
}

// ObserveDispatchSkipped counts a due source left for a later tick.
func ObserveDispatchSkipped(reason string) {
	Init()
	dispatchSkippedTotal.WithLabelValues(reason).Inc()
}

// IncActiveWorkers increments the in-flight gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the in-flight gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveFetch counts a collector fetch.
func ObserveFetch(site, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	fetchTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveRobotsFallback counts a robots.txt fetch that fell back to allow-all.
func ObserveRobotsFallback(reason string) {
	Init()
	robotsFallbackTotal.WithLabelValues(reason).Inc()
}

// ObserveHTTPRequest records one admin API request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
