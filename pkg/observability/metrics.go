package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Permission metrics
	PermissionChecksTotal *prometheus.CounterVec

	// Role registry metrics
	RolesRegistered   prometheus.Gauge
	RoleRefreshTotal  *prometheus.CounterVec
	RoleRefreshDuration prometheus.Histogram

	// Cache metrics
	CacheOperationsTotal *prometheus.CounterVec
	CacheLockWaitSeconds prometheus.Histogram

	// Moderation metrics
	ViolationsCreatedTotal prometheus.Counter
	DisputesResolvedTotal  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vortex_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vortex_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		PermissionChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vortex_permission_checks_total",
				Help: "Total permission checks by result",
			},
			[]string{"result"},
		),
		RolesRegistered: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "vortex_roles_registered",
				Help: "Number of roles currently registered",
			},
		),
		RoleRefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vortex_role_refresh_total",
				Help: "Total role refresh operations by outcome",
			},
			[]string{"outcome"},
		),
		RoleRefreshDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "vortex_role_refresh_duration_seconds",
				Help:    "Role refresh duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		CacheOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vortex_cache_operations_total",
				Help: "Total cache operations by operation and result",
			},
			[]string{"op", "result"},
		),
		CacheLockWaitSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "vortex_cache_lock_wait_seconds",
				Help:    "Time spent waiting for the distributed lock",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),
		ViolationsCreatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "vortex_violations_created_total",
				Help: "Total violations created",
			},
		),
		DisputesResolvedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vortex_disputes_resolved_total",
				Help: "Total disputes resolved by status",
			},
			[]string{"status"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.PermissionChecksTotal,
		m.RolesRegistered,
		m.RoleRefreshTotal,
		m.RoleRefreshDuration,
		m.CacheOperationsTotal,
		m.CacheLockWaitSeconds,
		m.ViolationsCreatedTotal,
		m.DisputesResolvedTotal,
	)

	return m
}

// Handler returns an HTTP handler exposing the metrics registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records metrics for a completed HTTP request
func (m *Metrics) ObserveRequest(method, path string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// ObserveCacheOp records a cache operation outcome. Safe on a nil receiver
// so the cache can run without metrics in tests.
func (m *Metrics) ObserveCacheOp(op string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.CacheOperationsTotal.WithLabelValues(op, result).Inc()
}

// ObservePermissionCheck records a permission check outcome. Nil-safe.
func (m *Metrics) ObservePermissionCheck(allowed bool) {
	if m == nil {
		return
	}
	result := "denied"
	if allowed {
		result = "allowed"
	}
	m.PermissionChecksTotal.WithLabelValues(result).Inc()
}
