// Package metrics defines the Prometheus collectors used by the archive
// search services and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors. A nil *Metrics is valid and
// records nothing, so components can run without a registry in tests.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	SearchQueriesTotal   *prometheus.CounterVec
	SearchLatency        *prometheus.HistogramVec
	SearchResultsCount   prometheus.Histogram
	PartialResultsTotal  prometheus.Counter
	QueriesCancelled     prometheus.Counter
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	IndexBuildsTotal     *prometheus.CounterVec
	IndexBuildDuration   *prometheus.HistogramVec
	IndexedDocs          *prometheus.GaugeVec
	ProtocolErrorsTotal  *prometheus.CounterVec
	WorkerFallbacks      prometheus.Counter
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates all collectors and registers them with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates all collectors and registers them with reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archive_search_queries_total",
				Help: "Total archive queries by parse state (valid, warning, invalid).",
			},
			[]string{"parse_state"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archive_search_latency_seconds",
				Help:    "Archive query latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.15, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "archive_search_results_count",
				Help:    "Total matches per archive query before the limit.",
				Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000, 5000},
			},
		),
		PartialResultsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "archive_search_partial_results_total",
				Help: "Queries that stopped early on their time budget.",
			},
		),
		QueriesCancelled: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "archive_search_queries_cancelled_total",
				Help: "Queries skipped or superseded before delivery.",
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of cache misses.",
			},
		),
		IndexBuildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archive_index_builds_total",
				Help: "Corpus rebuilds by kind (full, patch) and source.",
			},
			[]string{"kind", "source"},
		),
		IndexBuildDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archive_index_build_seconds",
				Help:    "Corpus rebuild latency in seconds.",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"kind"},
		),
		IndexedDocs: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "archive_indexed_documents",
				Help: "Number of indexed documents per source.",
			},
			[]string{"source"},
		),
		ProtocolErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archive_worker_protocol_errors_total",
				Help: "Worker protocol errors by code.",
			},
			[]string{"code"},
		),
		WorkerFallbacks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "archive_worker_fallbacks_total",
				Help: "Times a search manager fell back to an in-process worker.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.PartialResultsTotal,
		m.QueriesCancelled,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.IndexBuildsTotal,
		m.IndexBuildDuration,
		m.IndexedDocs,
		m.ProtocolErrorsTotal,
		m.WorkerFallbacks,
		m.CircuitBreakerState,
	)

	return m
}

// ObserveQuery records one executed query.
func (m *Metrics) ObserveQuery(parseState, cacheStatus string, total int, partial bool, took time.Duration) {
	if m == nil {
		return
	}
	m.SearchQueriesTotal.WithLabelValues(parseState).Inc()
	m.SearchLatency.WithLabelValues(cacheStatus).Observe(took.Seconds())
	m.SearchResultsCount.Observe(float64(total))
	if partial {
		m.PartialResultsTotal.Inc()
	}
}

// ObserveIndexBuild records one corpus rebuild.
func (m *Metrics) ObserveIndexBuild(kind, source string, docs int, took time.Duration) {
	if m == nil {
		return
	}
	m.IndexBuildsTotal.WithLabelValues(kind, source).Inc()
	m.IndexBuildDuration.WithLabelValues(kind).Observe(took.Seconds())
	m.IndexedDocs.WithLabelValues(source).Set(float64(docs))
}

func (m *Metrics) ProtocolError(code string) {
	if m == nil {
		return
	}
	m.ProtocolErrorsTotal.WithLabelValues(code).Inc()
}

func (m *Metrics) QueryCancelled() {
	if m == nil {
		return
	}
	m.QueriesCancelled.Inc()
}

func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.CacheHitsTotal.Inc()
}

func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.CacheMissesTotal.Inc()
}

func (m *Metrics) Fallback() {
	if m == nil {
		return
	}
	m.WorkerFallbacks.Inc()
}

// BreakerState records a circuit breaker transition.
func (m *Metrics) BreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
