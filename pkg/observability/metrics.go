package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics exported by the permission service.
// They mirror the monitoring service's in-process counters so operations
// dashboards can scrape the same signals.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Permission check metrics
	PermissionChecksTotal  *prometheus.CounterVec
	PermissionCheckLatency *prometheus.HistogramVec

	// Cache metrics
	CacheHitsTotal          prometheus.Counter
	CacheMissesTotal        prometheus.Counter
	CacheInvalidationsTotal prometheus.Counter
	CacheEntries            prometheus.Gauge

	// Role mutation metrics
	RoleMutationsTotal *prometheus.CounterVec

	// Security metrics
	UnauthorizedAttemptsTotal prometheus.Counter

	// Edge function metrics
	EdgeFunctionCallsTotal   *prometheus.CounterVec
	EdgeFunctionCallDuration *prometheus.HistogramVec

	// Alerting metrics
	AlertsFiredTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessctl_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "accessctl_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		PermissionChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessctl_permission_checks_total",
				Help: "Total number of permission checks by outcome",
			},
			[]string{"resource", "action", "outcome"},
		),
		PermissionCheckLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "accessctl_permission_check_duration_seconds",
				Help:    "Permission check duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"resource"},
		),

		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "accessctl_cache_hits_total",
				Help: "Total number of permission cache hits",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "accessctl_cache_misses_total",
				Help: "Total number of permission cache misses",
			},
		),
		CacheInvalidationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "accessctl_cache_invalidations_total",
				Help: "Total number of permission cache invalidations",
			},
		),
		CacheEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "accessctl_cache_entries",
				Help: "Current number of permission cache entries",
			},
		),

		RoleMutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessctl_role_mutations_total",
				Help: "Total number of role assignments and removals",
			},
			[]string{"operation", "role"},
		),

		UnauthorizedAttemptsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "accessctl_unauthorized_attempts_total",
				Help: "Denied checks against sensitive resources",
			},
		),

		EdgeFunctionCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessctl_edge_function_calls_total",
				Help: "Total number of edge function calls by status",
			},
			[]string{"function", "status"},
		),
		EdgeFunctionCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "accessctl_edge_function_call_duration_seconds",
				Help:    "Edge function call duration in seconds",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"function"},
		),

		AlertsFiredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessctl_alerts_fired_total",
				Help: "Total number of monitoring alerts fired",
			},
			[]string{"type", "severity"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.PermissionChecksTotal,
		m.PermissionCheckLatency,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheInvalidationsTotal,
		m.CacheEntries,
		m.RoleMutationsTotal,
		m.UnauthorizedAttemptsTotal,
		m.EdgeFunctionCallsTotal,
		m.EdgeFunctionCallDuration,
		m.AlertsFiredTotal,
	)

	return m
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

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
