package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/rxlabels/labelhub/internal/cache"
	"github.com/rxlabels/labelhub/internal/huberrors"
	"github.com/rxlabels/labelhub/internal/models"
	"github.com/rxlabels/labelhub/internal/observability"
)

const (
	answerCacheName     = "answer"
	popularityCacheName = "popularity"

	// DefaultAnswerSources is the number of supporting labels used when no limit is given.
	DefaultAnswerSources = 5
	// MaxAnswerSources caps the limit of Answer.
	MaxAnswerSources = 20

	defaultAnswerTTL          = time.Hour
	defaultConfidenceCeiling  = 0.95
	defaultDegradedCap        = 0.3
	noSupportConfidence       = 0.2
	similarityWeight          = 0.7
	supportWeight             = 0.3
	fullSupportHitCount       = 5
	defaultPopularQuestionsN  = 10
	maxPopularQuestionsListed = 100
)

// ContentGenerator runs one generation request. Implemented by generation.Orchestrator.
type ContentGenerator interface {
	Generate(ctx context.Context, req models.GenerationRequest) (models.GenerationResult, error)
}

// AnswerService answers free-form questions from retrieved labels and caches the answers.
type AnswerService struct {
	retriever         *Retriever
	labels            LabelReader
	generator         ContentGenerator
	answers           cache.AnswerCache
	popularity        cache.PopularityTracker
	ttl               time.Duration
	confidenceCeiling float64
	degradedCap       float64
	now               func() time.Time
	cacheMetrics      observability.CacheMetrics
	logger            *slog.Logger
}

// AnswerServiceParams configures AnswerService. Answers and Popularity may be nil (no caching,
// no tracking); CacheMetrics may be nil.
type AnswerServiceParams struct {
	Retriever         *Retriever
	Labels            LabelReader
	Generator         ContentGenerator
	Answers           cache.AnswerCache
	Popularity        cache.PopularityTracker
	TTL               time.Duration
	ConfidenceCeiling float64
	DegradedCap       float64
	Now               func() time.Time
	CacheMetrics      observability.CacheMetrics
	Logger            *slog.Logger
}

// NewAnswerService creates an AnswerService.
func NewAnswerService(p AnswerServiceParams) *AnswerService {
	s := &AnswerService{
		retriever:         p.Retriever,
		labels:            p.Labels,
		generator:         p.Generator,
		answers:           p.Answers,
		popularity:        p.Popularity,
		ttl:               p.TTL,
		confidenceCeiling: p.ConfidenceCeiling,
		degradedCap:       p.DegradedCap,
		now:               p.Now,
		cacheMetrics:      p.CacheMetrics,
		logger:            p.Logger,
	}

	if s.ttl <= 0 {
		s.ttl = defaultAnswerTTL
	}

	if s.confidenceCeiling <= 0 || s.confidenceCeiling > 1 {
		s.confidenceCeiling = defaultConfidenceCeiling
	}

	if s.degradedCap <= 0 || s.degradedCap > 1 {
		s.degradedCap = defaultDegradedCap
	}

	if s.now == nil {
		s.now = time.Now
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}

	return s
}

// Answer returns a cached answer for (question, audience) or synthesizes a new one from the
// labels retrieved for the question. limit bounds the number of supporting labels.
func (s *AnswerService) Answer(
	ctx context.Context, question string, audience models.Audience, limit int,
) (models.AnswerRecord, error) {
	normalized := cache.NormalizeQuestion(question)
	if normalized == "" {
		return models.AnswerRecord{}, huberrors.NewValidationError("question", "question is required")
	}

	if audience == "" {
		audience = models.AudienceGeneral
	}

	if !audience.IsValid() {
		return models.AnswerRecord{}, huberrors.NewValidationError("audience", fmt.Sprintf("invalid audience %q", audience))
	}

	if limit <= 0 {
		limit = DefaultAnswerSources
	}

	limit = min(limit, MaxAnswerSources)

	ctx, span := observability.Tracer().Start(ctx, "answers.Answer")
	defer span.End()

	key := cache.QuestionKey(question, audience)
	s.recordPopularity(ctx, normalized)

	if cached, ok := s.lookup(ctx, key); ok {
		span.SetAttributes(attribute.Bool("cached", true))

		return cached, nil
	}

	result, err := s.retriever.Search(ctx, question, SearchOptions{
		Category: models.CategorySummary,
		Limit:    limit,
		UseCase:  UseCaseQA,
	})
	if err != nil {
		return models.AnswerRecord{}, fmt.Errorf("retrieve sources: %w", err)
	}

	supporting, sources, err := s.supportingEntities(ctx, result.Hits)
	if err != nil {
		return models.AnswerRecord{}, err
	}

	generated, err := s.generator.Generate(ctx, models.GenerationRequest{
		ContentType: models.ContentTypeAnswer,
		Audience:    audience,
		Question:    question,
		Sources:     sources,
	})
	if err != nil {
		return models.AnswerRecord{}, fmt.Errorf("generate answer: %w", err)
	}

	now := s.now().UTC()
	record := models.AnswerRecord{
		QuestionKey:        key,
		Question:           question,
		Audience:           audience,
		AnswerText:         generated.Text,
		SupportingEntities: supporting,
		Confidence:         s.confidence(supporting, result.Degraded()),
		ProviderUsed:       generated.ProviderUsed,
		Degraded:           result.Degraded() || generated.ProviderUsed == models.ProviderFallbackTemplate,
		GeneratedAt:        now,
		ExpiresAt:          now.Add(s.ttl),
	}

	span.SetAttributes(
		attribute.Bool("cached", false),
		attribute.String("retrieval_mode", result.Mode),
		attribute.Int("supporting_entities", len(supporting)),
	)

	s.store(ctx, record)

	return record, nil
}

// Popular returns up to n questions, most frequently asked first.
func (s *AnswerService) Popular(ctx context.Context, n int) ([]models.PopularQuestion, error) {
	if s.popularity == nil {
		return []models.PopularQuestion{}, nil
	}

	if n <= 0 {
		n = defaultPopularQuestionsN
	}

	n = min(n, maxPopularQuestionsListed)

	top, err := s.popularity.Top(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("popular questions: %w", err)
	}

	return top, nil
}

// confidence is avgSimilarity*0.7 + min(hits/5,1)*0.3 clamped to the ceiling. Keyword answers are
// additionally capped so they rank below any semantic answer backed by a strong hit.
func (s *AnswerService) confidence(supporting []models.SupportingEntity, degraded bool) float64 {
	if len(supporting) == 0 {
		return min(noSupportConfidence, s.confidenceCeiling)
	}

	var sum float64
	for _, e := range supporting {
		sum += e.RelevanceScore
	}

	avg := sum / float64(len(supporting))
	support := min(float64(len(supporting))/fullSupportHitCount, 1)

	c := min(avg*similarityWeight+support*supportWeight, s.confidenceCeiling)
	if degraded {
		c = min(c, s.degradedCap)
	}

	return max(c, 0)
}

// supportingEntities resolves hits to labels (one entry per label, best hit wins) and builds the
// answer sources from each label's summary text.
func (s *AnswerService) supportingEntities(
	ctx context.Context, hits []models.RetrievalHit,
) ([]models.SupportingEntity, []models.SourcePassage, error) {
	if len(hits) == 0 {
		return []models.SupportingEntity{}, nil, nil
	}

	ids := make([]string, 0, len(hits))
	best := make(map[string]models.RetrievalHit, len(hits))

	for _, h := range hits {
		if prev, ok := best[h.EntityID]; ok && prev.Similarity >= h.Similarity {
			continue
		}

		if _, seen := best[h.EntityID]; !seen {
			ids = append(ids, h.EntityID)
		}

		best[h.EntityID] = h
	}

	labels, err := s.labels.GetByIDs(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("load supporting labels: %w", err)
	}

	supporting := make([]models.SupportingEntity, 0, len(labels))
	sources := make([]models.SourcePassage, 0, len(labels))

	for _, l := range labels {
		h := best[l.ID]

		text := SummaryText(l)
		if text == "" {
			text = h.MatchedText
		}

		supporting = append(supporting, models.SupportingEntity{
			EntityID:       l.ID,
			Name:           l.DisplayName(),
			RelevanceScore: h.Similarity,
			Source:         h.Source,
		})
		sources = append(sources, models.SourcePassage{
			EntityID:  l.ID,
			Name:      l.DisplayName(),
			Text:      text,
			Relevance: h.Similarity,
		})
	}

	return supporting, sources, nil
}

func (s *AnswerService) lookup(ctx context.Context, key string) (models.AnswerRecord, bool) {
	if s.answers == nil {
		return models.AnswerRecord{}, false
	}

	record, ok, err := s.answers.Get(ctx, key)
	if err != nil {
		s.logger.WarnContext(ctx, "answers: cache read failed, answering fresh", "error", err)
		s.recordCacheError(ctx, answerCacheName, observability.CacheOpGet)

		return models.AnswerRecord{}, false
	}

	if s.cacheMetrics != nil {
		if ok {
			s.cacheMetrics.RecordHit(ctx, answerCacheName)
		} else {
			s.cacheMetrics.RecordMiss(ctx, answerCacheName)
		}
	}

	if !ok {
		return models.AnswerRecord{}, false
	}

	record.Cached = true

	return record, true
}

func (s *AnswerService) store(ctx context.Context, record models.AnswerRecord) {
	if s.answers == nil {
		return
	}

	if ctx.Err() != nil {
		s.logger.DebugContext(ctx, "answers: request cancelled, not caching", "question_key", record.QuestionKey)

		return
	}

	if err := s.answers.Set(ctx, record, s.ttl); err != nil {
		s.logger.WarnContext(ctx, "answers: cache write failed", "question_key", record.QuestionKey, "error", err)
		s.recordCacheError(ctx, answerCacheName, observability.CacheOpSet)
	}
}

func (s *AnswerService) recordCacheError(ctx context.Context, cacheName, op string) {
	if s.cacheMetrics != nil {
		s.cacheMetrics.RecordError(ctx, cacheName, op)
	}
}

func (s *AnswerService) recordPopularity(ctx context.Context, normalized string) {
	if s.popularity == nil {
		return
	}

	if err := s.popularity.Record(ctx, normalized); err != nil {
		s.logger.WarnContext(ctx, "answers: popularity tracking failed", "error", err)
		s.recordCacheError(ctx, popularityCacheName, observability.CacheOpRecord)
	}
}
