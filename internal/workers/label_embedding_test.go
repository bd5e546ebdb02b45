package workers

import (
	"context"
	"errors"
	"testing"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/rxlabels/labelhub/internal/huberrors"
	"github.com/rxlabels/labelhub/internal/models"
	"github.com/rxlabels/labelhub/internal/service"
)

type mockLabelLoader struct {
	label models.Label
	err   error
}

func (m *mockLabelLoader) GetByID(_ context.Context, _ string) (models.Label, error) {
	return m.label, m.err
}

type mockEmbedder struct {
	result service.EmbedLabelResult
	calls  int
}

func (m *mockEmbedder) EmbedLabel(_ context.Context, label models.Label) service.EmbedLabelResult {
	m.calls++
	m.result.EntityID = label.ID

	return m.result
}

func newJob(attempt, maxAttempts int) *river.Job[service.LabelEmbeddingArgs] {
	return &river.Job[service.LabelEmbeddingArgs]{
		JobRow: &rivertype.JobRow{Attempt: attempt, MaxAttempts: maxAttempts},
		Args:   service.LabelEmbeddingArgs{EntityID: "taltz"},
	}
}

func TestLabelEmbeddingWorker_Work(t *testing.T) {
	ctx := context.Background()
	taltz := models.Label{ID: "taltz", DrugName: "Taltz", Indications: "Plaque psoriasis."}
	transient := huberrors.NewProviderError(huberrors.ProviderUnavailable, "openai", 503, nil)
	rejected := huberrors.NewProviderError(huberrors.ProviderRejected, "openai", 400, nil)

	t.Run("returns nil when label not found", func(t *testing.T) {
		embedder := &mockEmbedder{}
		worker := NewLabelEmbeddingWorker(&mockLabelLoader{err: huberrors.NewNotFoundError("label", "gone")}, embedder, nil)

		if err := worker.Work(ctx, newJob(1, 5)); err != nil {
			t.Errorf("Work() error = %v, want nil (no retry)", err)
		}

		if embedder.calls != 0 {
			t.Errorf("EmbedLabel called %d times, want 0", embedder.calls)
		}
	})

	t.Run("retries label store errors before the last attempt", func(t *testing.T) {
		worker := NewLabelEmbeddingWorker(&mockLabelLoader{err: errors.New("connection reset")}, &mockEmbedder{}, nil)

		if err := worker.Work(ctx, newJob(1, 5)); err == nil {
			t.Error("Work() error = nil, want error (retry)")
		}

		if err := worker.Work(ctx, newJob(5, 5)); err != nil {
			t.Errorf("Work() error = %v, want nil on last attempt", err)
		}
	})

	t.Run("returns nil on success", func(t *testing.T) {
		embedder := &mockEmbedder{result: service.EmbedLabelResult{
			Stored: []models.ContentCategory{models.CategorySummary, models.CategoryIndications, models.CategoryFullText},
		}}
		worker := NewLabelEmbeddingWorker(&mockLabelLoader{label: taltz}, embedder, nil)

		if err := worker.Work(ctx, newJob(1, 5)); err != nil {
			t.Errorf("Work() error = %v, want nil", err)
		}

		if embedder.calls != 1 {
			t.Errorf("EmbedLabel called %d times, want 1", embedder.calls)
		}
	})

	t.Run("returns nil when nothing to embed", func(t *testing.T) {
		embedder := &mockEmbedder{result: service.EmbedLabelResult{Skipped: models.AllContentCategories()}}
		worker := NewLabelEmbeddingWorker(&mockLabelLoader{label: taltz}, embedder, nil)

		if err := worker.Work(ctx, newJob(1, 5)); err != nil {
			t.Errorf("Work() error = %v, want nil", err)
		}
	})

	t.Run("returns error on transient failure", func(t *testing.T) {
		embedder := &mockEmbedder{result: service.EmbedLabelResult{
			Stored: []models.ContentCategory{models.CategorySummary},
			Errors: []service.CategoryError{{Category: models.CategoryFullText, Err: transient, Message: transient.Error()}},
		}}
		worker := NewLabelEmbeddingWorker(&mockLabelLoader{label: taltz}, embedder, nil)

		err := worker.Work(ctx, newJob(2, 5))
		if err == nil {
			t.Fatal("Work() error = nil, want error (retry)")
		}

		if !errors.Is(err, huberrors.ErrProviderUnavailable) {
			t.Errorf("Work() error = %v, want ErrProviderUnavailable", err)
		}
	})

	t.Run("returns nil on transient failure at last attempt", func(t *testing.T) {
		embedder := &mockEmbedder{result: service.EmbedLabelResult{
			Errors: []service.CategoryError{{Category: models.CategorySummary, Err: transient, Message: transient.Error()}},
		}}
		worker := NewLabelEmbeddingWorker(&mockLabelLoader{label: taltz}, embedder, nil)

		if err := worker.Work(ctx, newJob(5, 5)); err != nil {
			t.Errorf("Work() error = %v, want nil (final attempt)", err)
		}
	})

	t.Run("returns nil on permanent failure", func(t *testing.T) {
		embedder := &mockEmbedder{result: service.EmbedLabelResult{
			Errors: []service.CategoryError{{Category: models.CategorySummary, Err: rejected, Message: rejected.Error()}},
		}}
		worker := NewLabelEmbeddingWorker(&mockLabelLoader{label: taltz}, embedder, nil)

		if err := worker.Work(ctx, newJob(1, 5)); err != nil {
			t.Errorf("Work() error = %v, want nil (not retryable)", err)
		}
	})
}

func TestErrorHandler(t *testing.T) {
	h := &ErrorHandler{}
	job := &rivertype.JobRow{ID: 7, Kind: "label_embedding", Attempt: 1, MaxAttempts: 3}

	if res := h.HandleError(context.Background(), job, errors.New("boom")); res != nil {
		t.Errorf("HandleError() = %+v, want nil", res)
	}

	if res := h.HandlePanic(context.Background(), job, "panic", "trace"); res != nil {
		t.Errorf("HandlePanic() = %+v, want nil", res)
	}
}
