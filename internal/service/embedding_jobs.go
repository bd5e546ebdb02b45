package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/rxlabels/labelhub/internal/observability"
	"github.com/rxlabels/labelhub/internal/repository"
)

const (
	labelEmbeddingKind = "label_embedding"
	// EmbeddingsQueueName is the River queue used for label embedding jobs.
	EmbeddingsQueueName = "embeddings"

	uniqueByPeriodEmbedding = 10 * time.Minute
	backfillPageSize        = 500
	// embeddingInsertBatch bounds the jobs of one InsertMany call.
	embeddingInsertBatch = 100
)

// EmbeddingJobInserter inserts embedding jobs (the River client).
type EmbeddingJobInserter interface {
	InsertMany(ctx context.Context, params []river.InsertManyParams) ([]*rivertype.JobInsertResult, error)
}

// LabelEmbeddingArgs is the job payload for (re-)embedding every category of one label.
// Uniqueness is by EntityID so repeated requests for one label within the unique period
// collapse into a single job.
type LabelEmbeddingArgs struct {
	EntityID string `json:"entity_id" river:"unique"`
}

// Kind returns the River job kind.
func (LabelEmbeddingArgs) Kind() string { return labelEmbeddingKind }

var _ river.JobArgs = LabelEmbeddingArgs{}

// EmbeddingEnqueuer enqueues label embedding jobs.
type EmbeddingEnqueuer struct {
	inserter    EmbeddingJobInserter
	queueName   string
	maxAttempts int
	metrics     observability.EmbeddingMetrics
	logger      *slog.Logger
}

// NewEmbeddingEnqueuer creates an enqueuer. metrics may be nil when metrics are disabled.
func NewEmbeddingEnqueuer(
	inserter EmbeddingJobInserter,
	queueName string,
	maxAttempts int,
	metrics observability.EmbeddingMetrics,
	logger *slog.Logger,
) *EmbeddingEnqueuer {
	if queueName == "" {
		queueName = EmbeddingsQueueName
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &EmbeddingEnqueuer{
		inserter:    inserter,
		queueName:   queueName,
		maxAttempts: maxAttempts,
		metrics:     metrics,
		logger:      logger,
	}
}

// Enqueue inserts one job per id through InsertMany, embeddingInsertBatch jobs per call, and
// returns how many were inserted (duplicates skipped by River's uniqueness are not counted).
// It stops at the first failed call.
func (e *EmbeddingEnqueuer) Enqueue(ctx context.Context, ids []string) (int, error) {
	opts := &river.InsertOpts{
		Queue:       e.queueName,
		MaxAttempts: e.maxAttempts,
		UniqueOpts:  river.UniqueOpts{ByArgs: true, ByPeriod: uniqueByPeriodEmbedding},
	}

	ids = dedupeIDs(ids)
	inserted := 0

	for start := 0; start < len(ids); start += embeddingInsertBatch {
		chunk := ids[start:min(start+embeddingInsertBatch, len(ids))]

		params := make([]river.InsertManyParams, 0, len(chunk))
		for _, id := range chunk {
			params = append(params, river.InsertManyParams{Args: LabelEmbeddingArgs{EntityID: id}, InsertOpts: opts})
		}

		results, err := e.inserter.InsertMany(ctx, params)
		if err != nil {
			if e.metrics != nil {
				e.metrics.RecordProviderError(ctx, "enqueue_failed")
				e.metrics.RecordJobsEnqueued(ctx, int64(inserted))
			}

			e.logger.ErrorContext(ctx, "embedding: enqueue failed",
				"first_entity_id", chunk[0], "jobs", len(chunk), "error", err)

			return inserted, fmt.Errorf("enqueue %d embedding job(s) starting at %s: %w", len(chunk), chunk[0], err)
		}

		for _, res := range results {
			if res != nil && res.UniqueSkippedAsDuplicate {
				continue
			}

			inserted++
		}
	}

	if e.metrics != nil {
		e.metrics.RecordJobsEnqueued(ctx, int64(inserted))
	}

	e.logger.InfoContext(ctx, "embedding: jobs enqueued", "count", inserted, "skipped", len(ids)-inserted)

	return inserted, nil
}

// BackfillStats holds statistics from a backfill run.
type BackfillStats struct {
	Scanned  int `json:"scanned"`
	Missing  int `json:"missing"`
	Enqueued int `json:"enqueued"`
	Embedded int `json:"embedded,omitempty"`
}

// MissingEmbeddings pages through every label id and calls fn with the ids that have no
// embedding produced by modelID.
func MissingEmbeddings(
	ctx context.Context, labels LabelReader, store repository.VectorStore, modelID string,
	fn func(ctx context.Context, ids []string) error,
) (BackfillStats, error) {
	var (
		stats   BackfillStats
		afterID string
	)

	for {
		ids, err := labels.ListIDs(ctx, afterID, backfillPageSize)
		if err != nil {
			return stats, fmt.Errorf("list label ids after %q: %w", afterID, err)
		}

		if len(ids) == 0 {
			return stats, nil
		}

		stats.Scanned += len(ids)
		afterID = ids[len(ids)-1]

		embedded, err := store.EmbeddedEntityIDs(ctx, modelID, ids)
		if err != nil {
			return stats, fmt.Errorf("check embedded ids: %w", err)
		}

		missing := make([]string, 0, len(ids))
		for _, id := range ids {
			if !embedded[id] {
				missing = append(missing, id)
			}
		}

		stats.Missing += len(missing)

		if len(missing) > 0 {
			if err := fn(ctx, missing); err != nil {
				return stats, err
			}
		}

		if len(ids) < backfillPageSize {
			return stats, nil
		}
	}
}

// BackfillEmbeddings enqueues an embedding job for every label without embeddings of modelID.
func BackfillEmbeddings(
	ctx context.Context, labels LabelReader, store repository.VectorStore, modelID string, enqueuer *EmbeddingEnqueuer,
) (BackfillStats, error) {
	enqueued := 0

	stats, err := MissingEmbeddings(ctx, labels, store, modelID, func(ctx context.Context, ids []string) error {
		n, err := enqueuer.Enqueue(ctx, ids)
		enqueued += n

		return err
	})
	stats.Enqueued = enqueued

	return stats, err
}

// EmbedMissing embeds every label without embeddings of modelID in place through runner, for
// deployments without a job queue. Embedded counts labels with at least one stored category.
func EmbedMissing(
	ctx context.Context, labels LabelReader, store repository.VectorStore, task EmbedTask, runner *BatchRunner,
) (BackfillStats, error) {
	embedded := 0

	stats, err := MissingEmbeddings(ctx, labels, store, task.Generator.ModelID(), func(ctx context.Context, ids []string) error {
		report, err := runner.Run(ctx, ids, task, BatchOptions{})
		embedded += report.Succeeded + report.Partial

		return err
	})
	stats.Embedded = embedded

	return stats, err
}
