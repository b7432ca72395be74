// Package metrics provides Prometheus metrics for the dataset query service.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Request metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Query metrics
	QueriesTotal    *prometheus.CounterVec
	QueryDuration   *prometheus.HistogramVec
	QueryRowsTotal  *prometheus.CounterVec
	AdmissionRejections *prometheus.CounterVec

	// Storage metrics
	StorageOperations *prometheus.CounterVec
	StorageLatency    *prometheus.HistogramVec
	StorageErrors     *prometheus.CounterVec
	PoolOpenConns     prometheus.Gauge
	PoolInUseConns    prometheus.Gauge

	// Cache metrics
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec
	CacheSize   *prometheus.GaugeVec

	// Loader metrics
	LoadsTotal     *prometheus.CounterVec
	LoadDuration   *prometheus.HistogramVec
	LoadedRows     *prometheus.CounterVec
	DatasetsLoaded prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all collectors registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ddf_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	m.RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ddf_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	m.RequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ddf_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	m.QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ddf_queries_total",
			Help: "Total number of dataset queries by from clause and result",
		},
		[]string{"from", "result"},
	)

	m.QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ddf_query_duration_seconds",
			Help:    "Query compile-and-execute latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"from"},
	)

	m.QueryRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ddf_query_rows_total",
			Help: "Total number of rows streamed to clients",
		},
		[]string{"from"},
	)

	m.AdmissionRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ddf_admission_rejections_total",
			Help: "Total number of requests rejected by the admission controller",
		},
		[]string{"reason"},
	)

	m.StorageOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ddf_storage_operations_total",
			Help: "Total number of catalog/table storage operations",
		},
		[]string{"backend", "operation"},
	)

	m.StorageLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ddf_storage_latency_seconds",
			Help:    "Storage operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	m.StorageErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ddf_storage_errors_total",
			Help: "Total number of storage errors",
		},
		[]string{"backend", "operation"},
	)

	m.PoolOpenConns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ddf_pool_open_connections",
			Help: "Current number of open connections in the database pool",
		},
	)

	m.PoolInUseConns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ddf_pool_in_use_connections",
			Help: "Current number of connections checked out of the database pool",
		},
	)

	m.CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ddf_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache"},
	)

	m.CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ddf_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache"},
	)

	m.CacheSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ddf_cache_size",
			Help: "Current cache size",
		},
		[]string{"cache"},
	)

	m.LoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ddf_loads_total",
			Help: "Total number of ingestion runs by result",
		},
		[]string{"result"},
	)

	m.LoadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ddf_load_duration_seconds",
			Help:    "Ingestion run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"result"},
	)

	m.LoadedRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ddf_loaded_rows_total",
			Help: "Total number of rows bulk loaded during ingestion",
		},
		[]string{"dataset"},
	)

	m.DatasetsLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ddf_datasets_loaded",
			Help: "Total number of distinct (name, version) pairs in the catalog",
		},
	)

	m.registry.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.QueriesTotal,
		m.QueryDuration,
		m.QueryRowsTotal,
		m.AdmissionRejections,
		m.StorageOperations,
		m.StorageLatency,
		m.StorageErrors,
		m.PoolOpenConns,
		m.PoolInUseConns,
		m.CacheHits,
		m.CacheMisses,
		m.CacheSize,
		m.LoadsTotal,
		m.LoadDuration,
		m.LoadedRows,
		m.DatasetsLoaded,
	)

	m.registry.MustRegister(prometheus.NewGoCollector())
	m.registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	return m
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Middleware returns HTTP middleware that records request metrics.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		m.RequestsInFlight.Inc()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		m.RequestsInFlight.Dec()
		duration := time.Since(start).Seconds()

		path := normalizePath(r.URL.Path)

		m.RequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		m.RequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizePath normalizes a URL path to reduce cardinality: dataset name
// and version path segments collapse to fixed placeholders.
func normalizePath(path string) string {
	switch {
	case path == "/" || path == "":
		return "/"
	case path == "/ddf-service-directory", path == "/metrics", path == "/docs", path == "/openapi.yaml":
		return path
	}
	segs := strings.Split(strings.Trim(path, "/"), "/")
	switch len(segs) {
	case 1:
		return "/{name}"
	case 2:
		return "/{name}/{version}"
	default:
		if segs[2] == "assets" {
			return "/{name}/{version}/assets/{asset}"
		}
	}
	return path
}

// RecordQuery records a completed query's outcome, latency, and row count.
func (m *Metrics) RecordQuery(from string, err error, duration time.Duration, rows int) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.QueriesTotal.WithLabelValues(from, result).Inc()
	m.QueryDuration.WithLabelValues(from).Observe(duration.Seconds())
	m.QueryRowsTotal.WithLabelValues(from).Add(float64(rows))
}

// RecordAdmissionRejection records an admission-control rejection.
func (m *Metrics) RecordAdmissionRejection(reason string) {
	m.AdmissionRejections.WithLabelValues(reason).Inc()
}

// RecordStorageOperation records a storage operation.
func (m *Metrics) RecordStorageOperation(backend, operation string, duration time.Duration, err error) {
	m.StorageOperations.WithLabelValues(backend, operation).Inc()
	m.StorageLatency.WithLabelValues(backend, operation).Observe(duration.Seconds())
	if err != nil {
		m.StorageErrors.WithLabelValues(backend, operation).Inc()
	}
}

// UpdatePoolStats records the database pool's current open/in-use counts.
func (m *Metrics) UpdatePoolStats(open, inUse int) {
	m.PoolOpenConns.Set(float64(open))
	m.PoolInUseConns.Set(float64(inUse))
}

// RecordCacheAccess records a cache access.
func (m *Metrics) RecordCacheAccess(cache string, hit bool) {
	if hit {
		m.CacheHits.WithLabelValues(cache).Inc()
	} else {
		m.CacheMisses.WithLabelValues(cache).Inc()
	}
}

// UpdateCacheSize updates the cache size.
func (m *Metrics) UpdateCacheSize(cache string, size float64) {
	m.CacheSize.WithLabelValues(cache).Set(size)
}

// RecordLoad records a completed ingestion run.
func (m *Metrics) RecordLoad(dataset string, err error, duration time.Duration, rows int64) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.LoadsTotal.WithLabelValues(result).Inc()
	m.LoadDuration.WithLabelValues(result).Observe(duration.Seconds())
	m.LoadedRows.WithLabelValues(dataset).Add(float64(rows))
}

// UpdateDatasetsLoaded updates the total count of catalog entries.
func (m *Metrics) UpdateDatasetsLoaded(count float64) {
	m.DatasetsLoaded.Set(count)
}
