package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// GenerationMetrics records orchestrator metrics: one attempt per provider call and one result
// per request.
type GenerationMetrics interface {
	RecordAttempt(ctx context.Context, contentType, outcome string)
	RecordResult(ctx context.Context, contentType, providerUsed, fallbackReason string, duration time.Duration)
}

type generationMetrics struct {
	attempts metric.Int64Counter
	results  metric.Int64Counter
	duration metric.Float64Histogram
}

// NewGenerationMetrics creates GenerationMetrics. Returns (nil, nil) when meter is nil (metrics disabled).
func NewGenerationMetrics(meter metric.Meter) (GenerationMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	attempts, err := meter.Int64Counter(
		MetricNameGenerationAttempts,
		metric.WithDescription("Completion provider calls by content type and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("create generation attempts counter: %w", err)
	}

	results, err := meter.Int64Counter(
		MetricNameGenerationResults,
		metric.WithDescription("Generation results by content type, provider used (primary or fallback-template) and fallback reason"),
	)
	if err != nil {
		return nil, fmt.Errorf("create generation results counter: %w", err)
	}

	duration, err := meter.Float64Histogram(
		MetricNameGenerationDuration,
		metric.WithDescription("End-to-end generation time including retries and backoff (seconds)"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create generation duration histogram: %w", err)
	}

	return &generationMetrics{attempts: attempts, results: results, duration: duration}, nil
}

func normalizeContentType(contentType string) string {
	switch contentType {
	case "title", "summary", "faq", "explanation", "related-content", "answer":
		return contentType
	default:
		return "other"
	}
}

func (g *generationMetrics) RecordAttempt(ctx context.Context, contentType, outcome string) {
	g.attempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrContentType, normalizeContentType(contentType)),
		attribute.String(AttrOutcome, NormalizeReason(outcome, AllowedGenerationOutcomes)),
	))
}

func (g *generationMetrics) RecordResult(
	ctx context.Context, contentType, providerUsed, fallbackReason string, duration time.Duration,
) {
	if fallbackReason != "" {
		fallbackReason = NormalizeReason(fallbackReason, AllowedFallbackReasons)
	}

	contentType = normalizeContentType(contentType)

	g.results.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrContentType, contentType),
		attribute.String(AttrProviderUsed, providerUsed),
		attribute.String(AttrReason, fallbackReason),
	))
	g.duration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String(AttrContentType, contentType),
		attribute.String(AttrProviderUsed, providerUsed),
	))
}
