package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics mirrors the Prometheus metrics over OTLP so the same signals
// reach both the scrape endpoint and the collector.
type OTelMetrics struct {
	// HTTP metrics
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram

	// Store metrics
	storeQueriesTotal  metric.Int64Counter
	storeQueryDuration metric.Float64Histogram

	// Resolver metrics
	cacheHitsTotal     metric.Int64Counter
	cacheMissesTotal   metric.Int64Counter
	cacheInvalidations metric.Int64Counter
	failOpenTotal      metric.Int64Counter
	resolutionDuration metric.Float64Histogram
}

// NewOTelMetrics creates a new OTel metrics instance
func NewOTelMetrics() (*OTelMetrics, error) {
	meter := otel.Meter("github.com/alignex/entitlements")

	m := &OTelMetrics{}
	var err error

	m.httpRequestsTotal, err = meter.Int64Counter(
		"http.server.requests",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	m.httpRequestDuration, err = meter.Float64Histogram(
		"http.server.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_request_duration histogram: %w", err)
	}

	m.storeQueriesTotal, err = meter.Int64Counter(
		"licensing.store.queries",
		metric.WithDescription("Total number of licensing store queries"),
		metric.WithUnit("{query}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store_queries counter: %w", err)
	}

	m.storeQueryDuration, err = meter.Float64Histogram(
		"licensing.store.query.duration",
		metric.WithDescription("Licensing store query duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store_query_duration histogram: %w", err)
	}

	m.cacheHitsTotal, err = meter.Int64Counter(
		"licensing.resolver.cache.hits",
		metric.WithDescription("Resolver cache hits"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache_hits counter: %w", err)
	}

	m.cacheMissesTotal, err = meter.Int64Counter(
		"licensing.resolver.cache.misses",
		metric.WithDescription("Resolver cache misses"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache_misses counter: %w", err)
	}

	m.cacheInvalidations, err = meter.Int64Counter(
		"licensing.resolver.cache.invalidations",
		metric.WithDescription("Explicit resolver cache invalidations"),
		metric.WithUnit("{invalidation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache_invalidations counter: %w", err)
	}

	m.failOpenTotal, err = meter.Int64Counter(
		"licensing.resolver.fail_open",
		metric.WithDescription("Resolutions that degraded to a permissive default"),
		metric.WithUnit("{resolution}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create fail_open counter: %w", err)
	}

	m.resolutionDuration, err = meter.Float64Histogram(
		"licensing.resolution.duration",
		metric.WithDescription("End-to-end resolution duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resolution_duration histogram: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request metric
func (m *OTelMetrics) RecordHTTPRequest(ctx context.Context, method, route string, statusCode int, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("http.method", method),
		attribute.String("http.route", route),
		attribute.Int("http.status_code", statusCode),
	}

	m.httpRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.httpRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordStoreQuery records a licensing store query metric
func (m *OTelMetrics) RecordStoreQuery(ctx context.Context, operation string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("db.operation", operation),
		attribute.Bool("error", err != nil),
	}

	m.storeQueriesTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.storeQueryDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordCacheHit records a resolver cache hit
func (m *OTelMetrics) RecordCacheHit(ctx context.Context, cache string) {
	m.cacheHitsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("cache.type", cache)))
}

// RecordCacheMiss records a resolver cache miss
func (m *OTelMetrics) RecordCacheMiss(ctx context.Context, cache string) {
	m.cacheMissesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("cache.type", cache)))
}

// RecordCacheInvalidation records an explicit cache invalidation
func (m *OTelMetrics) RecordCacheInvalidation(ctx context.Context, scope string) {
	m.cacheInvalidations.Add(ctx, 1, metric.WithAttributes(attribute.String("scope", scope)))
}

// RecordFailOpen records a resolution that fell back to a permissive default
func (m *OTelMetrics) RecordFailOpen(ctx context.Context, operation string) {
	m.failOpenTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}

// RecordResolution records the duration of a resolver operation
func (m *OTelMetrics) RecordResolution(ctx context.Context, operation string, duration time.Duration) {
	m.resolutionDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("operation", operation)))
}
