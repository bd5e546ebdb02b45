package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rxlabels/labelhub/internal/huberrors"
	"github.com/rxlabels/labelhub/internal/models"
	"github.com/rxlabels/labelhub/internal/observability"
	"github.com/rxlabels/labelhub/internal/repository"
	"github.com/rxlabels/labelhub/pkg/backoff"
	"github.com/rxlabels/labelhub/pkg/labeltext"
)

const (
	defaultMaxInputChars      = 8000
	summaryIndicationsChars   = 500
	summaryContraindicationsN = 200
)

// ErrEmptyText is returned by Embed when nothing is left after cleaning.
var ErrEmptyText = errors.New("text is empty after cleaning")

// CategoryError is one failed category of an EmbedLabel call.
type CategoryError struct {
	Category models.ContentCategory `json:"category"`
	Err      error                  `json:"-"`
	Message  string                 `json:"error"`
}

// EmbedLabelResult lists what EmbedLabel stored and what failed.
type EmbedLabelResult struct {
	EntityID string                   `json:"entityId"` //nolint:tagliatelle // API contract
	Stored   []models.ContentCategory `json:"stored"`
	Skipped  []models.ContentCategory `json:"skipped,omitempty"`
	Errors   []CategoryError          `json:"errors,omitempty"`
}

// Status summarizes the result: success, partial, skipped (nothing to embed) or failed.
func (r EmbedLabelResult) Status() string {
	switch {
	case len(r.Errors) == 0 && len(r.Stored) == 0:
		return "skipped"
	case len(r.Errors) == 0:
		return "success"
	case len(r.Stored) > 0:
		return "partial"
	default:
		return "failed"
	}
}

// Err joins the category errors, or returns nil.
func (r EmbedLabelResult) Err() error {
	errs := make([]error, 0, len(r.Errors))
	for _, e := range r.Errors {
		errs = append(errs, fmt.Errorf("%s: %w", e.Category, e.Err))
	}

	return errors.Join(errs...)
}

// EmbeddingGenerator turns labels into per-category embeddings and stores them.
type EmbeddingGenerator struct {
	client        EmbeddingClient
	store         repository.VectorStore
	modelID       string
	dimensions    int
	maxInputChars int
	metrics       observability.EmbeddingMetrics
	logger        *slog.Logger
}

// EmbeddingGeneratorParams configures EmbeddingGenerator. Metrics may be nil.
type EmbeddingGeneratorParams struct {
	Client        EmbeddingClient
	Store         repository.VectorStore
	ModelID       string
	Dimensions    int
	MaxInputChars int
	Metrics       observability.EmbeddingMetrics
	Logger        *slog.Logger
}

// NewEmbeddingGenerator creates an EmbeddingGenerator.
func NewEmbeddingGenerator(p EmbeddingGeneratorParams) *EmbeddingGenerator {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	maxInput := p.MaxInputChars
	if maxInput <= 0 {
		maxInput = defaultMaxInputChars
	}

	return &EmbeddingGenerator{
		client:        p.Client,
		store:         p.Store,
		modelID:       p.ModelID,
		dimensions:    p.Dimensions,
		maxInputChars: maxInput,
		metrics:       p.Metrics,
		logger:        logger,
	}
}

// ModelID returns the model identifier stored with every record.
func (g *EmbeddingGenerator) ModelID() string {
	return g.modelID
}

// Embed cleans text, truncates it to the provider input bound and embeds it. Empty text is
// rejected without calling the provider. Embed does not retry.
func (g *EmbeddingGenerator) Embed(ctx context.Context, text string) ([]float32, error) {
	cleaned := labeltext.TruncateHard(labeltext.Clean(text), g.maxInputChars)
	if cleaned == "" {
		return nil, huberrors.NewProviderError(huberrors.ProviderRejected, g.client.Name(), 0, ErrEmptyText)
	}

	vec, err := g.client.CreateEmbedding(ctx, cleaned)
	if err != nil {
		return nil, fmt.Errorf("create embedding: %w", err)
	}

	if g.dimensions > 0 && len(vec) != g.dimensions {
		return nil, fmt.Errorf("provider %s returned %d dimensions, want %d: %w",
			g.client.Name(), len(vec), g.dimensions, repository.ErrDimensionMismatch)
	}

	return vec, nil
}

// CategoryTexts derives the text embedded for each category. Categories without source text
// are absent from the map.
func (g *EmbeddingGenerator) CategoryTexts(label models.Label) map[models.ContentCategory]string {
	out := make(map[models.ContentCategory]string, 3)

	indications := labeltext.Clean(label.Indications)

	if summary := SummaryText(label); summary != "" {
		out[models.CategorySummary] = summary
	}

	if indications != "" {
		out[models.CategoryIndications] = labeltext.TruncateHard(indications, g.maxInputChars)
	}

	sections := label.Sections()
	parts := make([]string, 0, len(sections))

	for _, s := range sections {
		if text := labeltext.Clean(s.Text); text != "" {
			parts = append(parts, text)
		}
	}

	if full := strings.Join(parts, "\n\n"); full != "" {
		out[models.CategoryFullText] = labeltext.TruncateHard(full, g.maxInputChars)
	}

	return out
}

// SummaryText is the text of the summary category: up to 500 characters of indications plus a
// short contraindications excerpt.
func SummaryText(label models.Label) string {
	summary := labeltext.Truncate(labeltext.Clean(label.Indications), summaryIndicationsChars)
	if contra := labeltext.Clean(label.Contraindications); contra != "" {
		excerpt := "Contraindications: " + labeltext.Truncate(contra, summaryContraindicationsN)
		summary = strings.TrimSpace(summary + " " + excerpt)
	}

	return summary
}

// EmbedLabel embeds and upserts every category of label independently. A record is written
// only after a complete vector was obtained and while ctx is still live.
func (g *EmbeddingGenerator) EmbedLabel(ctx context.Context, label models.Label) EmbedLabelResult {
	return g.embedCategories(ctx, label, models.AllContentCategories())
}

// EmbedRetry bounds how often EmbedLabelWithRetry re-embeds categories that failed with a
// transient provider or store error. MaxAttempts counts the first pass.
type EmbedRetry struct {
	MaxAttempts int
	Backoff     backoff.Policy
	Sleep       backoff.SleepFunc
}

// EmbedLabelWithRetry runs EmbedLabel, then re-embeds only the categories whose error is
// transient, waiting retry.Backoff between passes. Stored categories are never re-embedded.
func (g *EmbeddingGenerator) EmbedLabelWithRetry(ctx context.Context, label models.Label, retry EmbedRetry) EmbedLabelResult {
	sleep := retry.Sleep
	if sleep == nil {
		sleep = backoff.Sleep
	}

	result := g.EmbedLabel(ctx, label)

	for attempt := 1; attempt < retry.MaxAttempts; attempt++ {
		pending, kept := splitTransient(result.Errors)
		if len(pending) == 0 {
			break
		}

		if err := sleep(ctx, retry.Backoff.Delay(attempt)); err != nil {
			break
		}

		g.logger.InfoContext(ctx, "embedding: retrying categories",
			"entity_id", label.ID,
			"categories", pending,
			"attempt", attempt+1,
			"max_attempts", retry.MaxAttempts,
		)

		again := g.embedCategories(ctx, label, pending)
		result.Stored = append(result.Stored, again.Stored...)
		result.Errors = append(kept, again.Errors...)
	}

	return result
}

func splitTransient(errs []CategoryError) ([]models.ContentCategory, []CategoryError) {
	var (
		pending []models.ContentCategory
		kept    []CategoryError
	)

	for _, e := range errs {
		if huberrors.IsTransient(e.Err) {
			pending = append(pending, e.Category)
		} else {
			kept = append(kept, e)
		}
	}

	return pending, kept
}

func (g *EmbeddingGenerator) embedCategories(
	ctx context.Context, label models.Label, categories []models.ContentCategory,
) EmbedLabelResult {
	result := EmbedLabelResult{EntityID: label.ID}
	texts := g.CategoryTexts(label)

	for _, category := range categories {
		text, ok := texts[category]
		if !ok {
			result.Skipped = append(result.Skipped, category)

			continue
		}

		start := time.Now()
		err := g.embedCategory(ctx, label.ID, category, text)

		status := "success"
		if err != nil {
			status = "failed_final"
			if huberrors.IsTransient(err) {
				status = "failed_retry"
			}

			result.Errors = append(result.Errors, CategoryError{Category: category, Err: err, Message: err.Error()})
			g.recordProviderError(ctx, err)
			g.logger.WarnContext(ctx, "embedding: category failed",
				"entity_id", label.ID,
				"category", category,
				"error", err,
			)
		} else {
			result.Stored = append(result.Stored, category)
		}

		if g.metrics != nil {
			g.metrics.RecordEmbeddingOutcome(ctx, string(category), status)
			g.metrics.RecordEmbeddingDuration(ctx, time.Since(start), status)
		}
	}

	g.logger.DebugContext(ctx, "embedding: label processed",
		"entity_id", label.ID,
		"stored", len(result.Stored),
		"skipped", len(result.Skipped),
		"failed", len(result.Errors),
	)

	return result
}

func (g *EmbeddingGenerator) embedCategory(
	ctx context.Context, entityID string, category models.ContentCategory, text string,
) error {
	vec, err := g.Embed(ctx, text)
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("abandon write: %w", err)
	}

	now := time.Now().UTC()

	record := models.EmbeddingRecord{
		EntityID:        entityID,
		ContentCategory: category,
		SourceText:      text,
		Vector:          vec,
		ModelID:         g.modelID,
		Dimensions:      len(vec),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := g.store.Upsert(ctx, record); err != nil {
		return fmt.Errorf("upsert embedding: %w", err)
	}

	return nil
}

// DeleteLabel removes every stored embedding of the label.
func (g *EmbeddingGenerator) DeleteLabel(ctx context.Context, entityID string) error {
	if err := g.store.DeleteByEntity(ctx, entityID); err != nil {
		return fmt.Errorf("delete embeddings for %s: %w", entityID, err)
	}

	return nil
}

func (g *EmbeddingGenerator) recordProviderError(ctx context.Context, err error) {
	if g.metrics == nil {
		return
	}

	var pe *huberrors.ProviderError

	switch {
	case errors.As(err, &pe):
		g.metrics.RecordProviderError(ctx, string(pe.Kind))
	case errors.Is(err, huberrors.ErrStoreUnavailable):
		g.metrics.RecordProviderError(ctx, "store_failed")
	}
}
