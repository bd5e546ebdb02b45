package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/rxlabels/labelhub/internal/huberrors"
	"github.com/rxlabels/labelhub/internal/models"
	"github.com/rxlabels/labelhub/internal/observability"
	"github.com/rxlabels/labelhub/internal/repository"
	"github.com/rxlabels/labelhub/pkg/backoff"
	"github.com/rxlabels/labelhub/pkg/cache"
	"github.com/rxlabels/labelhub/pkg/labeltext"
)

const (
	queryEmbeddingCacheName = "query_embedding"

	// DefaultSearchLimit is used when SearchOptions.Limit is not positive.
	DefaultSearchLimit = 10
	// MaxSearchLimit caps SearchOptions.Limit.
	MaxSearchLimit = 100

	keywordExcerptRunes     = 240
	defaultKeywordRelevance = 0.2
)

// Retrieval modes reported in SearchResult.Mode.
const (
	ModeSemantic = "semantic"
	ModeKeyword  = "keyword"
)

// Use cases for threshold resolution.
const (
	UseCaseBrowse = "browse"
	UseCaseQA     = "qa"
)

// Reasons for keyword fallback reported in SearchResult.FallbackReason.
const (
	FallbackNoHits        = "no_hits"
	FallbackEmbedFailed   = "embed_failed"
	FallbackStoreFailed   = "store_failed"
	FallbackEmbeddingsOff = "embeddings_off"
)

// ErrEmptyQuery is returned for blank queries.
var ErrEmptyQuery = errors.New("query is required and must be non-empty")

// LabelReader is the read side of the label record store.
type LabelReader interface {
	GetByID(ctx context.Context, id string) (models.Label, error)
	GetByIDs(ctx context.Context, ids []string) ([]models.Label, error)
	KeywordSearch(ctx context.Context, terms []string, limit int) ([]models.Label, error)
	ListIDs(ctx context.Context, afterID string, limit int) ([]string, error)
}

// Thresholds are the default minimum similarities per use case and category.
type Thresholds struct {
	QA          float64
	Summary     float64
	Indications float64
	FullText    float64
}

// DefaultThresholds returns the built-in thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{QA: 0.3, Summary: 0.5, Indications: 0.5, FullText: 0.45}
}

// For resolves the threshold of a use case and category.
func (t Thresholds) For(useCase string, category models.ContentCategory) float64 {
	if useCase == UseCaseQA {
		return t.QA
	}

	switch category {
	case models.CategorySummary:
		return t.Summary
	case models.CategoryIndications:
		return t.Indications
	default:
		return t.FullText
	}
}

// SearchOptions parameterize Search. A nil Threshold resolves through Thresholds.For.
type SearchOptions struct {
	Category  models.ContentCategory
	Limit     int
	Threshold *float64
	UseCase   string
}

// SearchResult is the outcome of Search. Hits are all semantic or all keyword, never mixed.
type SearchResult struct {
	Mode           string                `json:"mode"`
	FallbackReason string                `json:"fallbackReason,omitempty"` //nolint:tagliatelle // API contract
	Threshold      float64               `json:"threshold"`
	Hits           []models.RetrievalHit `json:"results"`
}

// Degraded reports whether the result came from the keyword fallback.
func (r SearchResult) Degraded() bool {
	return r.Mode == ModeKeyword
}

// Retriever performs semantic search over stored label embeddings with a keyword fallback.
type Retriever struct {
	client             EmbeddingClient
	store              repository.VectorStore
	labels             LabelReader
	queryCache         *cache.LoaderCache[string, []float32]
	thresholds         Thresholds
	keywordRelevance   float64
	storeRetryAttempts int
	storeBackoff       backoff.Policy
	sleep              backoff.SleepFunc
	metrics            observability.RetrievalMetrics
	cacheMetrics       observability.CacheMetrics
	logger             *slog.Logger
}

// RetrieverParams configures Retriever. Client may be nil (embeddings disabled: every search is
// a keyword search). QueryCache, Metrics and CacheMetrics may be nil.
type RetrieverParams struct {
	Client             EmbeddingClient
	Store              repository.VectorStore
	Labels             LabelReader
	QueryCache         *cache.LoaderCache[string, []float32]
	Thresholds         Thresholds
	KeywordRelevance   float64
	StoreRetryAttempts int
	StoreBackoff       backoff.Policy
	Sleep              backoff.SleepFunc
	Metrics            observability.RetrievalMetrics
	CacheMetrics       observability.CacheMetrics
	Logger             *slog.Logger
}

// NewRetriever creates a Retriever.
func NewRetriever(p RetrieverParams) *Retriever {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sleep := p.Sleep
	if sleep == nil {
		sleep = backoff.Sleep
	}

	thresholds := p.Thresholds
	if thresholds == (Thresholds{}) {
		thresholds = DefaultThresholds()
	}

	keywordRelevance := p.KeywordRelevance
	if keywordRelevance <= 0 {
		keywordRelevance = defaultKeywordRelevance
	}

	return &Retriever{
		client:             p.Client,
		store:              p.Store,
		labels:             p.Labels,
		queryCache:         p.QueryCache,
		thresholds:         thresholds,
		keywordRelevance:   repository.ClampSimilarity(keywordRelevance),
		storeRetryAttempts: max(p.StoreRetryAttempts, 0),
		storeBackoff:       p.StoreBackoff,
		sleep:              sleep,
		metrics:            p.Metrics,
		cacheMetrics:       p.CacheMetrics,
		logger:             logger,
	}
}

// Search embeds query and returns the nearest stored embeddings at or above the resolved threshold.
// When embedding fails, the store fails after retries or nothing clears the threshold, it returns
// keyword matches with a fixed relevance instead (Mode "keyword").
func (r *Retriever) Search(ctx context.Context, query string, opts SearchOptions) (SearchResult, error) {
	query = labeltext.CollapseWhitespace(query)
	if query == "" {
		return SearchResult{}, ErrEmptyQuery
	}

	if opts.Category != "" && !opts.Category.IsValid() {
		return SearchResult{}, huberrors.NewValidationError("contentCategory",
			fmt.Sprintf("invalid content category %q", opts.Category))
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	limit = min(limit, MaxSearchLimit)

	threshold := r.thresholds.For(opts.UseCase, opts.Category)
	if opts.Threshold != nil {
		threshold = repository.ClampSimilarity(*opts.Threshold)
	}

	ctx, span := observability.Tracer().Start(ctx, "retriever.Search")
	defer span.End()

	start := time.Now()

	hits, reason, err := r.semantic(ctx, query, opts.Category, limit, threshold)
	if err != nil {
		return SearchResult{}, err
	}

	result := SearchResult{Mode: ModeSemantic, Threshold: threshold, Hits: hits}

	if reason != "" {
		keywordHits, kwErr := r.keyword(ctx, query, opts.Category, limit)
		if kwErr != nil {
			return SearchResult{}, kwErr
		}

		result = SearchResult{Mode: ModeKeyword, FallbackReason: reason, Threshold: threshold, Hits: keywordHits}
	}

	span.SetAttributes(
		attribute.String("mode", result.Mode),
		attribute.String("fallback_reason", result.FallbackReason),
		attribute.Int("hits", len(result.Hits)),
	)

	if r.metrics != nil {
		r.metrics.RecordSearch(ctx, result.Mode, result.FallbackReason, time.Since(start))
	}

	return result, nil
}

// semantic returns hits, or a non-empty fallback reason when keyword search should take over.
// The error is non-nil only when the caller's context is done.
func (r *Retriever) semantic(
	ctx context.Context, query string, category models.ContentCategory, limit int, threshold float64,
) ([]models.RetrievalHit, string, error) {
	if r.client == nil || r.store == nil {
		return nil, FallbackEmbeddingsOff, nil
	}

	vec, err := r.queryEmbedding(ctx, query)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, "", fmt.Errorf("search: %w", ctxErr)
		}

		r.logger.WarnContext(ctx, "search: query embedding failed, using keyword fallback", "error", err)

		return nil, FallbackEmbedFailed, nil
	}

	hits, err := r.queryStore(ctx, vec, category, limit, threshold)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, "", fmt.Errorf("search: %w", ctxErr)
		}

		r.logger.ErrorContext(ctx, "search: vector store failed, using keyword fallback",
			"error", err, "category", category)

		return nil, FallbackStoreFailed, nil
	}

	// Stores already filter, but a hit below threshold must never leave the retriever.
	filtered := hits[:0]
	for _, h := range hits {
		h.Similarity = repository.ClampSimilarity(h.Similarity)
		if h.Similarity < threshold {
			continue
		}

		h.Source = models.HitSourceSemantic
		filtered = append(filtered, h)
	}

	if len(filtered) == 0 {
		return nil, FallbackNoHits, nil
	}

	return filtered, "", nil
}

func (r *Retriever) queryEmbedding(ctx context.Context, query string) ([]float32, error) {
	load := func(ctx context.Context, q string) ([]float32, error) {
		vec, err := r.client.CreateEmbedding(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("create embedding: %w", err)
		}

		return vec, nil
	}

	if r.queryCache == nil {
		return load(ctx, query)
	}

	vec, hit, err := r.queryCache.GetWithStats(ctx, strings.ToLower(query), load)
	if err != nil {
		return nil, fmt.Errorf("query embedding: %w", err)
	}

	if r.cacheMetrics != nil {
		if hit {
			r.cacheMetrics.RecordHit(ctx, queryEmbeddingCacheName)
		} else {
			r.cacheMetrics.RecordMiss(ctx, queryEmbeddingCacheName)
		}
	}

	return vec, nil
}

// queryStore retries transient store failures storeRetryAttempts times.
func (r *Retriever) queryStore(
	ctx context.Context, vec []float32, category models.ContentCategory, limit int, threshold float64,
) ([]models.RetrievalHit, error) {
	var lastErr error

	for attempt := 0; attempt <= r.storeRetryAttempts; attempt++ {
		if attempt > 0 {
			if err := r.sleep(ctx, r.storeBackoff.Delay(attempt)); err != nil {
				return nil, fmt.Errorf("store retry: %w", err)
			}
		}

		hits, err := r.store.Query(ctx, vec, category, limit, threshold)
		if err == nil {
			return hits, nil
		}

		lastErr = err

		if r.metrics != nil {
			r.metrics.RecordStoreError(ctx)
		}

		if !huberrors.IsTransient(err) {
			break
		}

		r.logger.WarnContext(ctx, "search: vector store query failed",
			"attempt", attempt+1, "max_attempts", r.storeRetryAttempts+1, "error", err)
	}

	return nil, fmt.Errorf("query vector store: %w", lastErr)
}

func (r *Retriever) keyword(
	ctx context.Context, query string, category models.ContentCategory, limit int,
) ([]models.RetrievalHit, error) {
	terms := labeltext.Terms(query)
	if len(terms) == 0 || r.labels == nil {
		return []models.RetrievalHit{}, nil
	}

	labels, err := r.labels.KeywordSearch(ctx, terms, limit)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}

	if category == "" {
		category = models.CategoryFullText
	}

	hits := make([]models.RetrievalHit, 0, len(labels))
	for _, l := range labels {
		hits = append(hits, models.RetrievalHit{
			EntityID:        l.ID,
			ContentCategory: category,
			Similarity:      r.keywordRelevance,
			MatchedText:     labeltext.Excerpt(keywordText(l), terms, keywordExcerptRunes),
			Source:          models.HitSourceKeyword,
		})
	}

	return hits, nil
}

func keywordText(l models.Label) string {
	parts := []string{l.DrugName, l.GenericName}
	for _, s := range l.Sections() {
		parts = append(parts, labeltext.Clean(s.Text))
	}

	return labeltext.CollapseWhitespace(strings.Join(parts, " "))
}
