package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// BatchMetrics records per-entity batch outcomes.
type BatchMetrics interface {
	RecordEntities(ctx context.Context, task, status string, count int)
}

type batchMetrics struct {
	entities metric.Int64Counter
}

// NewBatchMetrics creates BatchMetrics. Returns (nil, nil) when meter is nil (metrics disabled).
func NewBatchMetrics(meter metric.Meter) (BatchMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	entities, err := meter.Int64Counter(
		MetricNameBatchEntities,
		metric.WithDescription("Entities processed by batch runs, by task and status"),
	)
	if err != nil {
		return nil, fmt.Errorf("create batch entities counter: %w", err)
	}

	return &batchMetrics{entities: entities}, nil
}

func (b *batchMetrics) RecordEntities(ctx context.Context, task, status string, count int) {
	if count <= 0 {
		return
	}

	b.entities.Add(ctx, int64(count), metric.WithAttributes(
		attribute.String(AttrTask, task),
		attribute.String(AttrStatus, NormalizeReason(status, AllowedBatchStatuses)),
	))
}
