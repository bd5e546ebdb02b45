package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RetrievalMetrics records semantic search metrics. A keyword-mode search carries the reason
// semantic search was abandoned.
type RetrievalMetrics interface {
	RecordSearch(ctx context.Context, mode, reason string, duration time.Duration)
	RecordStoreError(ctx context.Context)
}

type retrievalMetrics struct {
	searches    metric.Int64Counter
	duration    metric.Float64Histogram
	storeErrors metric.Int64Counter
}

// NewRetrievalMetrics creates RetrievalMetrics. Returns (nil, nil) when meter is nil (metrics disabled).
func NewRetrievalMetrics(meter metric.Meter) (RetrievalMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	searches, err := meter.Int64Counter(
		MetricNameRetrievalSearches,
		metric.WithDescription("Searches by mode (semantic or keyword fallback) and fallback reason"),
	)
	if err != nil {
		return nil, fmt.Errorf("create retrieval searches counter: %w", err)
	}

	duration, err := meter.Float64Histogram(
		MetricNameRetrievalDuration,
		metric.WithDescription("Search duration (seconds)"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create retrieval duration histogram: %w", err)
	}

	storeErrors, err := meter.Int64Counter(
		MetricNameRetrievalStoreErrors,
		metric.WithDescription("Vector store query failures, counted per attempt"),
	)
	if err != nil {
		return nil, fmt.Errorf("create retrieval store errors counter: %w", err)
	}

	return &retrievalMetrics{searches: searches, duration: duration, storeErrors: storeErrors}, nil
}

func (r *retrievalMetrics) RecordSearch(ctx context.Context, mode, reason string, duration time.Duration) {
	mode = NormalizeReason(mode, AllowedRetrievalModes)
	if reason != "" {
		reason = NormalizeReason(reason, AllowedRetrievalReasons)
	}

	r.searches.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrMode, mode),
		attribute.String(AttrReason, reason),
	))
	r.duration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String(AttrMode, mode)))
}

func (r *retrievalMetrics) RecordStoreError(ctx context.Context) {
	r.storeErrors.Add(ctx, 1)
}
