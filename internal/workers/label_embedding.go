// Package workers provides River job workers (label embedding).
package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"

	"github.com/rxlabels/labelhub/internal/huberrors"
	"github.com/rxlabels/labelhub/internal/models"
	"github.com/rxlabels/labelhub/internal/observability"
	"github.com/rxlabels/labelhub/internal/service"
)

const labelEmbeddingTimeout = 2 * time.Minute

// labelLoader is the minimal label read needed by the worker.
type labelLoader interface {
	GetByID(ctx context.Context, id string) (models.Label, error)
}

// labelEmbedder embeds every category of a label.
type labelEmbedder interface {
	EmbedLabel(ctx context.Context, label models.Label) service.EmbedLabelResult
}

// LabelEmbeddingWorker (re-)embeds every content category of one label.
type LabelEmbeddingWorker struct {
	river.WorkerDefaults[service.LabelEmbeddingArgs]

	labels   labelLoader
	embedder labelEmbedder
	metrics  observability.EmbeddingMetrics
}

// NewLabelEmbeddingWorker creates the worker. metrics may be nil when metrics are disabled.
func NewLabelEmbeddingWorker(
	labels labelLoader,
	embedder labelEmbedder,
	metrics observability.EmbeddingMetrics,
) *LabelEmbeddingWorker {
	return &LabelEmbeddingWorker{
		labels:   labels,
		embedder: embedder,
		metrics:  metrics,
	}
}

// Timeout limits how long a single label can take (three provider calls).
func (w *LabelEmbeddingWorker) Timeout(*river.Job[service.LabelEmbeddingArgs]) time.Duration {
	return labelEmbeddingTimeout
}

// Work loads the label and embeds it. Missing labels and permanent failures complete the job;
// transient provider or store failures are retried until the last attempt.
func (w *LabelEmbeddingWorker) Work(ctx context.Context, job *river.Job[service.LabelEmbeddingArgs]) error {
	entityID := job.Args.EntityID
	isLastAttempt := job.Attempt >= job.MaxAttempts

	label, err := w.labels.GetByID(ctx, entityID)
	if err != nil {
		if errors.Is(err, huberrors.ErrNotFound) {
			slog.Warn("embedding: label not found, dropping job", "entity_id", entityID)

			return nil
		}

		w.recordError(ctx, "get_label_failed")

		if isLastAttempt {
			slog.Error("embedding: get label failed (final attempt)", "entity_id", entityID, "error", err)

			return nil
		}

		return fmt.Errorf("get label %s: %w", entityID, err)
	}

	res := w.embedder.EmbedLabel(ctx, label)

	if status := res.Status(); status == "success" || status == "skipped" {
		slog.Info("embedding: label stored",
			"entity_id", entityID,
			"stored", len(res.Stored),
			"skipped", len(res.Skipped),
		)

		return nil
	}

	if !retryable(res) || isLastAttempt {
		slog.Error("embedding: label failed",
			"entity_id", entityID,
			"status", res.Status(),
			"final", true,
			"error", res.Err(),
		)

		return nil
	}

	return fmt.Errorf("embed label %s (%s): %w", entityID, res.Status(), res.Err())
}

// retryable reports whether at least one failed category may succeed on retry.
func retryable(res service.EmbedLabelResult) bool {
	for _, e := range res.Errors {
		if huberrors.IsTransient(e.Err) {
			return true
		}
	}

	return false
}

func (w *LabelEmbeddingWorker) recordError(ctx context.Context, reason string) {
	if w.metrics != nil {
		w.metrics.RecordProviderError(ctx, reason)
	}
}
