// Package metrics exposes Prometheus collectors for the harvester.
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
	harvestFetchesTotal             *prometheus.CounterVec
	harvestFetchDurationSeconds     prometheus.Histogram
	harvestItemsTotal               *prometheus.CounterVec
	harvestUpsertsTotal             *prometheus.CounterVec
	harvestRowWarningsTotal         *prometheus.CounterVec
	harvestActiveWorkers            prometheus.Gauge
	harvestPhaseDurationSeconds     *prometheus.HistogramVec
	harvestRateLimitDelaysSeconds   prometheus.Histogram
	harvestClassCacheEvictionsTotal prometheus.Counter
	httpRequestsTotal               *prometheus.CounterVec
	httpRequestDurationSeconds      *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		harvestFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_fetches_total",
				Help: "Total number of upstream fetches, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		harvestFetchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harvest_fetch_duration_seconds",
				Help:    "Histogram of upstream fetch latencies.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
		)

		harvestItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_items_total",
				Help: "Total number of work items processed, labeled by phase and outcome.",
			},
			[]string{"phase", "outcome"},
		)

		harvestUpsertsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_upserts_total",
				Help: "Total number of store upserts, labeled by entity and result.",
			},
			[]string{"entity", "result"},
		)

		harvestRowWarningsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_row_warnings_total",
				Help: "Malformed rows skipped during extraction, labeled by phase.",
			},
			[]string{"phase"},
		)

		harvestActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvest_active_workers",
				Help: "Number of pool workers currently running a crawl function.",
			},
		)

		harvestPhaseDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvest_phase_duration_seconds",
				Help:    "Histogram of phase durations.",
				Buckets: prometheus.ExponentialBuckets(1, 4, 10),
			},
			[]string{"phase"},
		)

		harvestRateLimitDelaysSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harvest_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)

		harvestClassCacheEvictionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvest_class_cache_evictions_total",
				Help: "Times the partial class cache was cleared wholesale.",
			},
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

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one upstream fetch.
func ObserveFetch(outcome string, duration time.Duration) {
	Init()
	harvestFetchesTotal.WithLabelValues(outcome).Inc()
	harvestFetchDurationSeconds.Observe(duration.Seconds())
}

// ObserveItem records the outcome of one work item.
func ObserveItem(phase, outcome string) {
	Init()
	harvestItemsTotal.WithLabelValues(phase, outcome).Inc()
}

// ObserveUpsert records the result of one store upsert.
func ObserveUpsert(entity, result string) {
	Init()
	harvestUpsertsTotal.WithLabelValues(entity, result).Inc()
}

// ObserveRowWarnings adds skipped rows for a phase.
func ObserveRowWarnings(phase string, n int) {
	if n <= 0 {
		return
	}
	Init()
	harvestRowWarningsTotal.WithLabelValues(phase).Add(float64(n))
}

// ObservePhase records how long a phase took.
func ObservePhase(phase string, duration time.Duration) {
	Init()
	harvestPhaseDurationSeconds.WithLabelValues(phase).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(duration time.Duration) {
	Init()
	harvestRateLimitDelaysSeconds.Observe(duration.Seconds())
}

// ObserveClassCacheEviction counts a wholesale class cache clear.
func ObserveClassCacheEviction() {
	Init()
	harvestClassCacheEvictionsTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	harvestActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	harvestActiveWorkers.Dec()
}
