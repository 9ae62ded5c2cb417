package observability

import (
	"context"
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

	// Store metrics
	StoreQueriesTotal  *prometheus.CounterVec
	StoreQueryDuration *prometheus.HistogramVec
	StoreErrorsTotal   *prometheus.CounterVec

	// Resolver cache metrics
	CacheHitsTotal     *prometheus.CounterVec
	CacheMissesTotal   *prometheus.CounterVec
	CacheInvalidations *prometheus.CounterVec
	FailOpenTotal      *prometheus.CounterVec
	ResolutionDuration *prometheus.HistogramVec

	// Business metrics
	ActiveLicenses *prometheus.GaugeVec
	ActiveModules  *prometheus.GaugeVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	// OTLP mirror, nil unless OpenTelemetry export is enabled
	otel *OTelMetrics
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alignex_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "alignex_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		StoreQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alignex_store_queries_total",
				Help: "Total number of licensing store queries",
			},
			[]string{"operation"},
		),
		StoreQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "alignex_store_query_duration_seconds",
				Help:    "Licensing store query duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation"},
		),
		StoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alignex_store_errors_total",
				Help: "Total number of licensing store errors",
			},
			[]string{"operation"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alignex_resolver_cache_hits_total",
				Help: "Resolver cache hits by cache kind",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alignex_resolver_cache_misses_total",
				Help: "Resolver cache misses by cache kind",
			},
			[]string{"cache"},
		),
		CacheInvalidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alignex_resolver_cache_invalidations_total",
				Help: "Explicit resolver cache invalidations by scope",
			},
			[]string{"scope"},
		),
		FailOpenTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alignex_resolver_fail_open_total",
				Help: "Resolutions that degraded to a permissive default",
			},
			[]string{"operation"},
		),
		ResolutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "alignex_resolution_duration_seconds",
				Help:    "End-to-end resolution duration in seconds",
				Buckets: []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"operation"},
		),
		ActiveLicenses: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "alignex_active_licenses",
				Help: "Active licenses by tier",
			},
			[]string{"tier"},
		),
		ActiveModules: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "alignex_active_org_modules",
				Help: "Active organization modules by module key",
			},
			[]string{"module"},
		),
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "alignex_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "alignex_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.StoreQueriesTotal,
		m.StoreQueryDuration,
		m.StoreErrorsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheInvalidations,
		m.FailOpenTotal,
		m.ResolutionDuration,
		m.ActiveLicenses,
		m.ActiveModules,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// AttachOTel mirrors recordings onto OTel instruments so metrics also export
// over OTLP.
func (m *Metrics) AttachOTel(otel *OTelMetrics) {
	m.otel = otel
}

// Handler returns an HTTP handler for the metrics endpoint
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// HTTPMiddleware instruments HTTP handlers with request metrics
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		duration := time.Since(start)
		m.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rw.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration.Seconds())
		if m.otel != nil {
			m.otel.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, rw.status, duration)
		}
	})
}

// ObserveStoreQuery records a store query with duration and error outcome
func (m *Metrics) ObserveStoreQuery(ctx context.Context, operation string, start time.Time, err error) {
	duration := time.Since(start)
	m.StoreQueriesTotal.WithLabelValues(operation).Inc()
	m.StoreQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.StoreErrorsTotal.WithLabelValues(operation).Inc()
	}
	if m.otel != nil {
		m.otel.RecordStoreQuery(ctx, operation, duration, err)
	}
}

// RecordCacheHit records a resolver cache hit
func (m *Metrics) RecordCacheHit(ctx context.Context, cache string) {
	m.CacheHitsTotal.WithLabelValues(cache).Inc()
	if m.otel != nil {
		m.otel.RecordCacheHit(ctx, cache)
	}
}

// RecordCacheMiss records a resolver cache miss
func (m *Metrics) RecordCacheMiss(ctx context.Context, cache string) {
	m.CacheMissesTotal.WithLabelValues(cache).Inc()
	if m.otel != nil {
		m.otel.RecordCacheMiss(ctx, cache)
	}
}

// RecordCacheInvalidation records an explicit resolver cache invalidation
func (m *Metrics) RecordCacheInvalidation(ctx context.Context, scope string) {
	m.CacheInvalidations.WithLabelValues(scope).Inc()
	if m.otel != nil {
		m.otel.RecordCacheInvalidation(ctx, scope)
	}
}

// RecordFailOpen records a resolution that fell back to a permissive default
func (m *Metrics) RecordFailOpen(ctx context.Context, operation string) {
	m.FailOpenTotal.WithLabelValues(operation).Inc()
	if m.otel != nil {
		m.otel.RecordFailOpen(ctx, operation)
	}
}

// ObserveResolution records the duration of a resolver operation
func (m *Metrics) ObserveResolution(ctx context.Context, operation string, start time.Time) {
	duration := time.Since(start)
	m.ResolutionDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if m.otel != nil {
		m.otel.RecordResolution(ctx, operation, duration)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
