package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/rxlabels/labelhub/internal/huberrors"
	"github.com/rxlabels/labelhub/internal/models"
	"github.com/rxlabels/labelhub/internal/observability"
	"github.com/rxlabels/labelhub/pkg/backoff"
)

const (
	// DefaultBatchSize is the number of labels processed concurrently per chunk.
	DefaultBatchSize = 4
	// MaxBatchSize caps BatchOptions.BatchSize.
	MaxBatchSize = 10
	// MaxBatchEntities caps the number of ids of one Run.
	MaxBatchEntities = 1000

	defaultBatchPause = time.Second
)

// BatchStatus is the outcome of one entity in a batch.
type BatchStatus string

// Batch statuses.
const (
	BatchSucceeded BatchStatus = "succeeded"
	BatchPartial   BatchStatus = "partial"
	BatchFailed    BatchStatus = "failed"
	BatchNotFound  BatchStatus = "not_found"
	BatchCancelled BatchStatus = "cancelled"
)

// TaskResult is what a BatchTask reports for one label.
type TaskResult struct {
	Status       BatchStatus
	ProviderUsed models.ProviderUsed
	Err          error
}

// BatchTask is the work done for every label of a batch.
type BatchTask interface {
	Name() string
	Run(ctx context.Context, label models.Label) TaskResult
}

// EntityOutcome is the per-entity line of a BatchReport.
type EntityOutcome struct {
	EntityID     string              `json:"entityId"` //nolint:tagliatelle // API contract
	Status       BatchStatus         `json:"status"`
	ProviderUsed models.ProviderUsed `json:"providerUsed,omitempty"` //nolint:tagliatelle // API contract
	Error        string              `json:"error,omitempty"`
}

// BatchReport summarizes a Run. Outcomes follow the order of the requested ids.
type BatchReport struct {
	Task      string          `json:"task"`
	Total     int             `json:"total"`
	Succeeded int             `json:"succeeded"`
	Partial   int             `json:"partial"`
	Failed    int             `json:"failed"`
	NotFound  int             `json:"notFound"` //nolint:tagliatelle // API contract
	Cancelled int             `json:"cancelled"`
	Outcomes  []EntityOutcome `json:"outcomes"`
}

func (r *BatchReport) count(status BatchStatus) {
	switch status {
	case BatchSucceeded:
		r.Succeeded++
	case BatchPartial:
		r.Partial++
	case BatchFailed:
		r.Failed++
	case BatchNotFound:
		r.NotFound++
	case BatchCancelled:
		r.Cancelled++
	}
}

// BatchOptions override the runner defaults for one Run.
type BatchOptions struct {
	BatchSize int
	Pause     time.Duration
}

// BatchRunner processes many labels in paced, bounded chunks.
type BatchRunner struct {
	labels    LabelReader
	limiter   *rate.Limiter
	batchSize int
	pause     time.Duration
	sleep     backoff.SleepFunc
	metrics   observability.BatchMetrics
	logger    *slog.Logger
}

// BatchRunnerParams configures BatchRunner. Limiter may be nil (no rate limit). Metrics may be nil.
// A zero Pause uses the default of one second; a negative Pause disables pausing.
type BatchRunnerParams struct {
	Labels    LabelReader
	Limiter   *rate.Limiter
	BatchSize int
	Pause     time.Duration
	Sleep     backoff.SleepFunc
	Metrics   observability.BatchMetrics
	Logger    *slog.Logger
}

// NewBatchRunner creates a BatchRunner.
func NewBatchRunner(p BatchRunnerParams) *BatchRunner {
	r := &BatchRunner{
		labels:    p.Labels,
		limiter:   p.Limiter,
		batchSize: clampBatchSize(p.BatchSize),
		pause:     p.Pause,
		sleep:     p.Sleep,
		metrics:   p.Metrics,
		logger:    p.Logger,
	}

	switch {
	case r.pause == 0:
		r.pause = defaultBatchPause
	case r.pause < 0:
		r.pause = 0
	}

	if r.sleep == nil {
		r.sleep = backoff.Sleep
	}

	if r.logger == nil {
		r.logger = slog.Default()
	}

	return r
}

func clampBatchSize(n int) int {
	if n <= 0 {
		return DefaultBatchSize
	}

	return min(n, MaxBatchSize)
}

// Run executes task for every id. Chunks of BatchSize labels run concurrently with a pause between
// chunks. Cancelling ctx stops new work; unprocessed ids are reported as cancelled. The error is
// non-nil only for invalid input.
func (r *BatchRunner) Run(ctx context.Context, ids []string, task BatchTask, opts BatchOptions) (BatchReport, error) {
	ids = dedupeIDs(ids)
	if len(ids) == 0 {
		return BatchReport{}, huberrors.NewValidationError("entityIds", "at least one entity id is required")
	}

	if len(ids) > MaxBatchEntities {
		return BatchReport{}, huberrors.NewLimitExceededError(
			fmt.Sprintf("batch has %d entities, at most %d are allowed", len(ids), MaxBatchEntities))
	}

	size := r.batchSize
	if opts.BatchSize > 0 {
		size = clampBatchSize(opts.BatchSize)
	}

	pause := r.pause
	if opts.Pause > 0 {
		pause = opts.Pause
	}

	outcomes := make([]EntityOutcome, len(ids))
	for i, id := range ids {
		outcomes[i] = EntityOutcome{EntityID: id, Status: BatchCancelled}
	}

	r.logger.InfoContext(ctx, "batch: starting", "task", task.Name(), "entities", len(ids), "batch_size", size)

	for start := 0; start < len(ids); start += size {
		if ctx.Err() != nil {
			break
		}

		if start > 0 && pause > 0 {
			if err := r.sleep(ctx, pause); err != nil {
				break
			}
		}

		end := min(start+size, len(ids))

		var g errgroup.Group

		g.SetLimit(size)

		for i := start; i < end; i++ {
			g.Go(func() error {
				outcomes[i] = r.runOne(ctx, ids[i], task)

				return nil
			})
		}

		_ = g.Wait()
	}

	report := BatchReport{Task: task.Name(), Total: len(ids), Outcomes: outcomes}
	for _, o := range outcomes {
		report.count(o.Status)
	}

	if r.metrics != nil {
		for status, n := range map[BatchStatus]int{
			BatchSucceeded: report.Succeeded,
			BatchPartial:   report.Partial,
			BatchFailed:    report.Failed,
			BatchNotFound:  report.NotFound,
			BatchCancelled: report.Cancelled,
		} {
			if n > 0 {
				r.metrics.RecordEntities(ctx, task.Name(), string(status), n)
			}
		}
	}

	r.logger.InfoContext(ctx, "batch: finished",
		"task", task.Name(),
		"succeeded", report.Succeeded,
		"partial", report.Partial,
		"failed", report.Failed,
		"not_found", report.NotFound,
		"cancelled", report.Cancelled,
	)

	return report, nil
}

func (r *BatchRunner) runOne(ctx context.Context, id string, task BatchTask) EntityOutcome {
	out := EntityOutcome{EntityID: id}

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			out.Status = BatchCancelled

			return out
		}
	}

	if ctx.Err() != nil {
		out.Status = BatchCancelled

		return out
	}

	label, err := r.labels.GetByID(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, huberrors.ErrNotFound):
			out.Status = BatchNotFound
		case ctx.Err() != nil:
			out.Status = BatchCancelled
		default:
			out.Status = BatchFailed
			out.Error = err.Error()
		}

		return out
	}

	res := task.Run(ctx, label)
	out.Status = res.Status
	out.ProviderUsed = res.ProviderUsed

	if res.Err != nil {
		out.Error = res.Err.Error()
		r.logger.WarnContext(ctx, "batch: entity failed", "task", task.Name(), "entity_id", id, "error", res.Err)
	}

	return out
}

func dedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))

	for _, id := range ids {
		if id == "" {
			continue
		}

		if _, ok := seen[id]; ok {
			continue
		}

		seen[id] = struct{}{}
		out = append(out, id)
	}

	return out
}

// EmbedTask embeds every category of a label. Categories failing with a transient error are
// retried per Retry; a zero Retry embeds once.
type EmbedTask struct {
	Generator *EmbeddingGenerator
	Retry     EmbedRetry
}

// Name implements BatchTask.
func (EmbedTask) Name() string { return "embed" }

// EmbedLabel embeds label with the task's retry policy.
func (t EmbedTask) EmbedLabel(ctx context.Context, label models.Label) EmbedLabelResult {
	return t.Generator.EmbedLabelWithRetry(ctx, label, t.Retry)
}

// DeleteLabel removes every stored embedding of the label.
func (t EmbedTask) DeleteLabel(ctx context.Context, entityID string) error {
	return t.Generator.DeleteLabel(ctx, entityID)
}

// Run implements BatchTask. A label with no embeddable text counts as succeeded.
func (t EmbedTask) Run(ctx context.Context, label models.Label) TaskResult {
	res := t.EmbedLabel(ctx, label)

	switch res.Status() {
	case "success", "skipped":
		return TaskResult{Status: BatchSucceeded}
	case "partial":
		return TaskResult{Status: BatchPartial, Err: res.Err()}
	default:
		if ctx.Err() != nil {
			return TaskResult{Status: BatchCancelled}
		}

		return TaskResult{Status: BatchFailed, Err: res.Err()}
	}
}

// ContentStore persists generated content.
type ContentStore interface {
	Upsert(ctx context.Context, c models.GeneratedContent) error
	Get(ctx context.Context, entityID string, contentType models.ContentType, audience models.Audience) (models.GeneratedContent, error)
}

// GenerateTask generates one content type for a label and stores it.
type GenerateTask struct {
	Generator   ContentGenerator
	Store       ContentStore
	ContentType models.ContentType
	Audience    models.Audience
	Constraints models.Constraints
}

// Name implements BatchTask.
func (t GenerateTask) Name() string { return "generate" }

// Run implements BatchTask. Template output counts as succeeded; the outcome carries providerUsed.
func (t GenerateTask) Run(ctx context.Context, label models.Label) TaskResult {
	res, err := t.Generator.Generate(ctx, models.GenerationRequest{
		Entity:      label,
		ContentType: t.ContentType,
		Audience:    t.Audience,
		Constraints: t.Constraints,
	})
	if err != nil {
		return TaskResult{Status: BatchFailed, Err: err}
	}

	if ctx.Err() != nil {
		return TaskResult{Status: BatchCancelled, ProviderUsed: res.ProviderUsed}
	}

	if t.Store != nil {
		err := t.Store.Upsert(ctx, models.GeneratedContent{
			EntityID:     label.ID,
			ContentType:  res.ContentType,
			Audience:     res.Audience,
			Text:         res.Text,
			ProviderUsed: res.ProviderUsed,
			GeneratedAt:  res.GeneratedAt,
		})
		if err != nil {
			return TaskResult{Status: BatchFailed, ProviderUsed: res.ProviderUsed, Err: fmt.Errorf("store content: %w", err)}
		}
	}

	return TaskResult{Status: BatchSucceeded, ProviderUsed: res.ProviderUsed}
}
