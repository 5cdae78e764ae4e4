package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the federation service.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// SSO flow metrics
	SSOAuthInitiatedTotal *prometheus.CounterVec
	SSOAuthSuccessTotal   *prometheus.CounterVec
	SSOAuthFailureTotal   *prometheus.CounterVec
	SSOLogoutTotal        *prometheus.CounterVec
	SSOSessionsActive     prometheus.Gauge
	SSOSessionsSweptTotal prometheus.Counter

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates and registers all metrics on the given registry.
// A nil registry gets a fresh one.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fedgate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fedgate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		SSOAuthInitiatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fedgate_sso_auth_initiated_total",
				Help: "Total number of initiated SSO authentication flows",
			},
			[]string{"protocol", "provider"},
		),
		SSOAuthSuccessTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fedgate_sso_auth_success_total",
				Help: "Total number of successful SSO authentications",
			},
			[]string{"protocol", "provider"},
		),
		SSOAuthFailureTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fedgate_sso_auth_failure_total",
				Help: "Total number of failed SSO authentications by stage",
			},
			[]string{"protocol", "stage"},
		),
		SSOLogoutTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fedgate_sso_logout_total",
				Help: "Total number of SSO logouts",
			},
			[]string{"protocol"},
		),
		SSOSessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fedgate_sso_sessions_active",
				Help: "Number of active SSO sessions",
			},
		),
		SSOSessionsSweptTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fedgate_sso_sessions_swept_total",
				Help: "Total number of expired SSO sessions removed by the sweeper",
			},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fedgate_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fedgate_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fedgate_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fedgate_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.SSOAuthInitiatedTotal,
		m.SSOAuthSuccessTotal,
		m.SSOAuthFailureTotal,
		m.SSOLogoutTotal,
		m.SSOSessionsActive,
		m.SSOSessionsSweptTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// Handler returns the Prometheus scrape handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// statusRecorder captures the response status for metrics middleware.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// HTTPMiddleware records request counts and latencies.
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}
