// Package metrics provides Prometheus metrics for the divergence service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector exported by the service.
type Manager struct {
	namespace      string
	subsystem      string
	latencyBuckets []float64
	registry       prometheus.Registerer

	// Comparison metrics
	comparisons          *prometheus.CounterVec
	comparisonLatency    *prometheus.HistogramVec
	candidatePoolSize    prometheus.Histogram
	candidateSource      *prometheus.CounterVec
	pairwiseFailures     *prometheus.CounterVec
	pairwiseLatency      prometheus.Histogram
	coalescedComparisons prometheus.Counter

	// Cluster cache
	clusterCacheHits   prometheus.Counter
	clusterCacheMisses prometheus.Counter

	// Store
	storeQueryLatency *prometheus.HistogramVec
	storeErrors       *prometheus.CounterVec

	// Worker pool
	poolRunningWorkers prometheus.Gauge
	poolWaitingTasks   prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	errorRateByEndpoint *prometheus.CounterVec
	errorRateByType     *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// Init replaces the global manager with one built from opts on a fresh
// registry, which GetRegistry returns from then on. Call it at startup,
// before any recorder runs.
func Init(opts ...Option) {
	registry := prometheus.NewRegistry()
	globalManager = NewManager(append(opts, WithPrometheusRegistry(registry))...)
	customRegistry = registry
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:      "divergence",
		subsystem:      "engine",
		latencyBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		registry:       prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)

	m.comparisons = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "comparisons_total",
		Help:      "Comparisons served, by scope and outcome",
	}, []string{"scope", "outcome"})

	m.comparisonLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "comparison_latency_milliseconds",
		Help:      "End-to-end comparison latency in milliseconds",
		Buckets:   m.latencyBuckets,
	}, []string{"scope"})

	m.candidatePoolSize = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "candidate_pool_size",
		Help:      "Number of engaged candidates considered per comparison",
		Buckets:   []float64{0, 1, 5, 10, 20, 40, 60, 80, 100},
	})

	m.candidateSource = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "candidate_source_total",
		Help:      "Candidate searches by the data source that produced them (snapshot or live)",
	}, []string{"source"})

	m.pairwiseFailures = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "pairwise_failures_total",
		Help:      "Per-candidate delta computations that failed and were settled as no interaction",
	}, []string{"scope"})

	m.pairwiseLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "pairwise_latency_milliseconds",
		Help:      "Latency of a single candidate delta computation in milliseconds",
		Buckets:   m.latencyBuckets,
	})

	m.coalescedComparisons = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "coalesced_comparisons_total",
		Help:      "Comparisons answered by an identical in-flight request",
	})

	m.clusterCacheHits = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "cluster_cache_hits_total",
		Help:      "Cluster lookups served from cache",
	})

	m.clusterCacheMisses = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "cluster_cache_misses_total",
		Help:      "Cluster lookups that went to the store",
	})

	m.storeQueryLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "store_query_latency_milliseconds",
		Help:      "Store query latency in milliseconds, by query",
		Buckets:   m.latencyBuckets,
	}, []string{"query"})

	m.storeErrors = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "store_errors_total",
		Help:      "Store query failures, by query",
	}, []string{"query"})

	m.poolRunningWorkers = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "pool_running_workers",
		Help:      "Workers currently computing candidate deltas",
	})

	m.poolWaitingTasks = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "pool_waiting_tasks",
		Help:      "Candidate delta tasks queued behind busy workers",
	})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests by endpoint and method",
	}, []string{"endpoint", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_request_duration_milliseconds",
		Help:      "HTTP request duration in milliseconds",
		Buckets:   m.latencyBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.errorRateByEndpoint = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "errors_by_endpoint_total",
		Help:      "HTTP errors by endpoint, method and error type",
	}, []string{"endpoint", "method", "error_type"})

	m.errorRateByType = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "errors_by_type_total",
		Help:      "Errors by type and severity",
	}, []string{"error_type", "severity"})

	m.systemMemoryUsage = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "system_memory_usage_bytes",
		Help:      "System memory usage in bytes",
	})

	m.systemGoroutineCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "system_goroutine_count",
		Help:      "Number of goroutines",
	})
}

// RecordComparison counts a finished comparison. outcome is "ok", "empty" or "error".
func RecordComparison(scope, outcome string) {
	globalManager.comparisons.WithLabelValues(scope, outcome).Inc()
}

// RecordComparisonLatency records end-to-end comparison latency in milliseconds.
func RecordComparisonLatency(scope string, latencyMs float64) {
	globalManager.comparisonLatency.WithLabelValues(scope).Observe(latencyMs)
}

// RecordCandidatePoolSize records how many candidates a comparison considered.
func RecordCandidatePoolSize(size int) {
	globalManager.candidatePoolSize.Observe(float64(size))
}

// RecordCandidateSource counts which data source produced a candidate list.
func RecordCandidateSource(source string) {
	globalManager.candidateSource.WithLabelValues(source).Inc()
}

// RecordPairwiseFailure counts a candidate whose delta computation failed.
func RecordPairwiseFailure(scope string) {
	globalManager.pairwiseFailures.WithLabelValues(scope).Inc()
}

// RecordPairwiseLatency records one candidate computation in milliseconds.
func RecordPairwiseLatency(latencyMs float64) {
	globalManager.pairwiseLatency.Observe(latencyMs)
}

// RecordCoalescedComparison counts a comparison that shared an in-flight result.
func RecordCoalescedComparison() {
	globalManager.coalescedComparisons.Inc()
}

// RecordClusterCacheHit increments the cluster cache hit counter.
func RecordClusterCacheHit() {
	globalManager.clusterCacheHits.Inc()
}

// RecordClusterCacheMiss increments the cluster cache miss counter.
func RecordClusterCacheMiss() {
	globalManager.clusterCacheMisses.Inc()
}

// RecordStoreQueryLatency records a store query latency in milliseconds.
func RecordStoreQueryLatency(query string, latencyMs float64) {
	globalManager.storeQueryLatency.WithLabelValues(query).Observe(latencyMs)
}

// RecordStoreError counts a failed store query.
func RecordStoreError(query string) {
	globalManager.storeErrors.WithLabelValues(query).Inc()
}

// UpdatePoolStats publishes worker pool occupancy.
func UpdatePoolStats(running int, waiting uint64) {
	globalManager.poolRunningWorkers.Set(float64(running))
	globalManager.poolWaitingTasks.Set(float64(waiting))
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByEndpoint records an error by endpoint.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorByType records an error by type and severity.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
}

// UpdateSystemMemoryUsage updates system memory usage.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount updates the goroutine count.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
