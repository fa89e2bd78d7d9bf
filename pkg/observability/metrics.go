package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics (daemon status API)
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Resolution metrics
	ResolveDuration     *prometheus.HistogramVec
	ResolvedAssetsTotal prometheus.Counter

	// Import metrics
	ImportsTotal   *prometheus.CounterVec
	ImportDuration *prometheus.HistogramVec

	// Transfer metrics
	TransferBytesTotal   prometheus.Counter
	TransferFilesTotal   prometheus.Counter
	TransferErrorsTotal  prometheus.Counter
	TransfersInFlight    prometheus.Gauge

	// Conflict metrics
	ConflictsDetectedTotal prometheus.Counter
	ConflictDecisionsTotal *prometheus.CounterVec

	// Remote metadata cache metrics
	RemoteCacheHitsTotal   prometheus.Counter
	RemoteCacheMissesTotal prometheus.Counter

	// Index metrics
	TrackedAssetsTotal  prometheus.Gauge
	IndexWritesTotal    *prometheus.CounterVec
	IndexWriteErrsTotal prometheus.Counter

	// Removal metrics
	RemovalsTotal          *prometheus.CounterVec
	RemovalFailedPathsTotal prometheus.Counter

	// Drift metrics
	DriftEventsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stash_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stash_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		ResolveDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stash_resolve_duration_seconds",
				Help:    "Dependency resolution duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"kind"},
		),
		ResolvedAssetsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "stash_resolved_assets_total",
				Help: "Total number of assets yielded by dependency resolution",
			},
		),

		ImportsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stash_imports_total",
				Help: "Total number of finished import operations",
			},
			[]string{"kind", "status"},
		),
		ImportDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stash_import_duration_seconds",
				Help:    "Import operation duration in seconds",
				Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"kind"},
		),

		TransferBytesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "stash_transfer_bytes_total",
				Help: "Total bytes downloaded from the remote repository",
			},
		),
		TransferFilesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "stash_transfer_files_total",
				Help: "Total files downloaded from the remote repository",
			},
		),
		TransferErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "stash_transfer_errors_total",
				Help: "Total file transfer failures",
			},
		),
		TransfersInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "stash_transfers_in_flight",
				Help: "Number of file transfers currently in flight",
			},
		),

		ConflictsDetectedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "stash_conflicts_detected_total",
				Help: "Total assets classified as existing or file-conflicting",
			},
		),
		ConflictDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stash_conflict_decisions_total",
				Help: "Total conflict decisions by outcome",
			},
			[]string{"decision"},
		),

		RemoteCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "stash_remote_cache_hits_total",
				Help: "Total remote metadata cache hits",
			},
		),
		RemoteCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "stash_remote_cache_misses_total",
				Help: "Total remote metadata cache misses",
			},
		),

		TrackedAssetsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "stash_tracked_assets_total",
				Help: "Number of assets currently tracked by the local index",
			},
		),
		IndexWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stash_index_writes_total",
				Help: "Total index mutations by operation",
			},
			[]string{"operation"},
		),
		IndexWriteErrsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "stash_index_write_errors_total",
				Help: "Total persisted index write failures",
			},
		),

		RemovalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stash_removals_total",
				Help: "Total asset removals by status",
			},
			[]string{"status"},
		),
		RemovalFailedPathsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "stash_removal_failed_paths_total",
				Help: "Total on-disk paths that failed to delete during removal",
			},
		),

		DriftEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stash_drift_events_total",
				Help: "Total external file-system drift events by type",
			},
			[]string{"type"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ResolveDuration,
		m.ResolvedAssetsTotal,
		m.ImportsTotal,
		m.ImportDuration,
		m.TransferBytesTotal,
		m.TransferFilesTotal,
		m.TransferErrorsTotal,
		m.TransfersInFlight,
		m.ConflictsDetectedTotal,
		m.ConflictDecisionsTotal,
		m.RemoteCacheHitsTotal,
		m.RemoteCacheMissesTotal,
		m.TrackedAssetsTotal,
		m.IndexWritesTotal,
		m.IndexWriteErrsTotal,
		m.RemovalsTotal,
		m.RemovalFailedPathsTotal,
		m.DriftEventsTotal,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
		})
	}
}
