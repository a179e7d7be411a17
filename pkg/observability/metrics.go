package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Engine metrics
	OperationsTotal         *prometheus.CounterVec
	OperationDuration       *prometheus.HistogramVec
	ProfileConflictsTotal   prometheus.Counter
	DanglingReferencesTotal *prometheus.CounterVec

	// Effective-set cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Analytics metrics
	ReportDuration      prometheus.Histogram
	ReportEventsScanned prometheus.Histogram
	SkippedRecordsTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsOpen  prometheus.Gauge
	DBConnectionsInUse prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wrench_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wrench_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wrench_rbac_operations_total",
				Help: "Total number of permission engine operations",
			},
			[]string{"operation", "status"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wrench_rbac_operation_duration_seconds",
				Help:    "Permission engine operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		ProfileConflictsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "wrench_rbac_profile_conflicts_total",
				Help: "Profile updates rejected because another writer committed first",
			},
		),
		DanglingReferencesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wrench_rbac_dangling_references_total",
				Help: "References skipped by the resolver because they no longer resolve",
			},
			[]string{"kind"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wrench_effective_cache_hits_total",
				Help: "Effective permission set cache hits",
			},
			[]string{"tier"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wrench_effective_cache_misses_total",
				Help: "Effective permission set cache misses",
			},
			[]string{"tier"},
		),

		ReportDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "wrench_analytics_report_duration_seconds",
				Help:    "Analytics report generation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		ReportEventsScanned: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "wrench_analytics_report_events_scanned",
				Help:    "Number of RBAC log events scanned per report",
				Buckets: []float64{0, 10, 50, 100, 250, 500, 1000},
			},
		),
		SkippedRecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wrench_analytics_skipped_records_total",
				Help: "Malformed records skipped during aggregation",
			},
			[]string{"record"},
		),

		DBConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "wrench_db_connections_open",
				Help: "Number of open database connections",
			},
		),
		DBConnectionsInUse: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "wrench_db_connections_in_use",
				Help: "Number of database connections in use",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.OperationsTotal,
		m.OperationDuration,
		m.ProfileConflictsTotal,
		m.DanglingReferencesTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.ReportDuration,
		m.ReportEventsScanned,
		m.SkippedRecordsTotal,
		m.DBConnectionsOpen,
		m.DBConnectionsInUse,
	)

	return m
}

// ObserveOperation records the outcome and latency of an engine operation
func (m *Metrics) ObserveOperation(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.OperationsTotal.WithLabelValues(operation, status).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// RecordConflict counts a lost compare-and-swap
func (m *Metrics) RecordConflict() {
	if m == nil {
		return
	}
	m.ProfileConflictsTotal.Inc()
}

// RecordDangling counts skipped references by kind
func (m *Metrics) RecordDangling(kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.DanglingReferencesTotal.WithLabelValues(kind).Add(float64(n))
}

// RecordCacheHit counts a hit in the given cache tier (l1 or l2)
func (m *Metrics) RecordCacheHit(tier string) {
	if m == nil {
		return
	}
	m.CacheHitsTotal.WithLabelValues(tier).Inc()
}

// RecordCacheMiss counts a miss in the given cache tier
func (m *Metrics) RecordCacheMiss(tier string) {
	if m == nil {
		return
	}
	m.CacheMissesTotal.WithLabelValues(tier).Inc()
}

// RecordReport records one analytics report run
func (m *Metrics) RecordReport(duration time.Duration, eventsScanned int, skipped map[string]int) {
	if m == nil {
		return
	}
	m.ReportDuration.Observe(duration.Seconds())
	m.ReportEventsScanned.Observe(float64(eventsScanned))
	for record, n := range skipped {
		if n > 0 {
			m.SkippedRecordsTotal.WithLabelValues(record).Add(float64(n))
		}
	}
}

// ObserveDBStats copies pool statistics into the gauges
func (m *Metrics) ObserveDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
	m.DBConnectionsInUse.Set(float64(stats.InUse))
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Requests are labelled by their mux route template to keep cardinality
// bounded.
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			if metrics == nil {
				return
			}

			route := "unmatched"
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
