package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Cache operations for labelhub_cache_errors_total.
const (
	CacheOpGet    = "get"
	CacheOpSet    = "set"
	CacheOpRecord = "record"
)

var allowedCacheOps = map[string]bool{CacheOpGet: true, CacheOpSet: true, CacheOpRecord: true}

// CacheMetrics records lookups against the answer and query-embedding caches, and failed cache
// operations. A failed operation never fails the request, so the error counter is the only trace
// of a degraded Redis.
type CacheMetrics interface {
	RecordHit(ctx context.Context, cacheName string)
	RecordMiss(ctx context.Context, cacheName string)
	RecordError(ctx context.Context, cacheName, op string)
}

type cacheMetrics struct {
	hits    metric.Int64Counter
	misses  metric.Int64Counter
	errors  metric.Int64Counter
}

// NewCacheMetrics creates CacheMetrics. Returns (nil, nil) when meter is nil (metrics disabled).
func NewCacheMetrics(meter metric.Meter) (CacheMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	hits, err := meter.Int64Counter(MetricNameCacheHits,
		metric.WithDescription("Cache lookups served from the cache (cache: answer, query_embedding)."),
		metric.WithUnit("1"))
	if err != nil {
		return nil, fmt.Errorf("create cache hits counter: %w", err)
	}

	misses, err := meter.Int64Counter(MetricNameCacheMisses,
		metric.WithDescription("Cache lookups that missed: an answer was generated or a query was embedded."),
		metric.WithUnit("1"))
	if err != nil {
		return nil, fmt.Errorf("create cache misses counter: %w", err)
	}

	errs, err := meter.Int64Counter(MetricNameCacheErrors,
		metric.WithDescription("Failed cache operations (op: get, set, record). The request continues uncached."),
		metric.WithUnit("1"))
	if err != nil {
		return nil, fmt.Errorf("create cache errors counter: %w", err)
	}

	return &cacheMetrics{hits: hits, misses: misses, errors: errs}, nil
}

func attrCache(name string) attribute.KeyValue {
	return attribute.String("cache", NormalizeCacheName(name))
}

func (c *cacheMetrics) RecordHit(ctx context.Context, cacheName string) {
	c.hits.Add(ctx, 1, metric.WithAttributes(attrCache(cacheName)))
}

func (c *cacheMetrics) RecordMiss(ctx context.Context, cacheName string) {
	c.misses.Add(ctx, 1, metric.WithAttributes(attrCache(cacheName)))
}

func (c *cacheMetrics) RecordError(ctx context.Context, cacheName, op string) {
	c.errors.Add(ctx, 1, metric.WithAttributes(
		attrCache(cacheName),
		attribute.String("op", NormalizeReason(op, allowedCacheOps)),
	))
}
