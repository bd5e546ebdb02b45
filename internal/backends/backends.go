// Package backends selects embedding, completion, store and cache implementations from configuration.
package backends

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"

	"github.com/rxlabels/labelhub/internal/anthropic"
	"github.com/rxlabels/labelhub/internal/cache"
	"github.com/rxlabels/labelhub/internal/config"
	"github.com/rxlabels/labelhub/internal/embeddings"
	"github.com/rxlabels/labelhub/internal/generation"
	"github.com/rxlabels/labelhub/internal/googleai"
	"github.com/rxlabels/labelhub/internal/openai"
	"github.com/rxlabels/labelhub/internal/repository"
	"github.com/rxlabels/labelhub/internal/service"
	"github.com/rxlabels/labelhub/pkg/backoff"
)

// Configuration errors.
var (
	ErrUnsupportedEmbeddingProvider  = errors.New("unsupported embedding provider")
	ErrUnsupportedCompletionProvider = errors.New("unsupported completion provider")
	ErrMissingEmbeddingModel         = errors.New("EMBEDDING_MODEL is required for the compatible provider")
)

const (
	providerOpenAI     = "openai"
	providerGoogle     = "google"
	providerCompatible = "compatible"
	providerMock       = "mock"
	providerAnthropic  = "anthropic"
	providerTemplate   = "template"
)

// defaultEmbeddingModelID is stored with embeddings when EMBEDDING_MODEL is unset and the
// provider picks its own default model.
const defaultEmbeddingModelID = "default"

// NewEmbeddingClient returns the configured embedding provider, or nil when EMBEDDING_PROVIDER
// is empty (embeddings disabled, search is keyword only).
func NewEmbeddingClient(ctx context.Context, cfg *config.Config) (service.EmbeddingClient, error) {
	switch cfg.EmbeddingProvider {
	case "":
		return nil, nil //nolint:nilnil // embeddings are optional
	case providerOpenAI:
		return openai.NewClient(cfg.EmbeddingProviderAPIKey,
			openai.WithModel(cfg.EmbeddingModel),
			openai.WithDimensions(cfg.EmbeddingDimensions),
			openai.WithBaseURL(cfg.EmbeddingBaseURL),
		), nil
	case providerGoogle:
		client, err := googleai.NewClient(ctx, cfg.EmbeddingProviderAPIKey,
			googleai.WithModel(cfg.EmbeddingModel),
			googleai.WithDimensions(cfg.EmbeddingDimensions),
		)
		if err != nil {
			return nil, fmt.Errorf("create google embedding client: %w", err)
		}

		return client, nil
	case providerCompatible:
		if cfg.EmbeddingModel == "" {
			return nil, ErrMissingEmbeddingModel
		}

		return embeddings.NewCompatibleClient(cfg.EmbeddingBaseURL, cfg.EmbeddingProviderAPIKey,
			cfg.EmbeddingModel, cfg.EmbeddingDimensions), nil
	case providerMock:
		return embeddings.NewMockClient(cfg.EmbeddingDimensions), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEmbeddingProvider, cfg.EmbeddingProvider)
	}
}

// EmbeddingModelID is the model identifier stored with every embedding record.
func EmbeddingModelID(cfg *config.Config) string {
	switch {
	case cfg.EmbeddingModel != "":
		return cfg.EmbeddingModel
	case cfg.EmbeddingProvider == providerMock:
		return embeddings.MockProviderName
	default:
		return defaultEmbeddingModelID
	}
}

// NewCompletionProvider returns the configured completion backend. "template" never calls out.
func NewCompletionProvider(ctx context.Context, cfg *config.Config) (generation.CompletionProvider, error) {
	switch cfg.CompletionProvider {
	case "", providerTemplate:
		return generation.TemplateProvider{}, nil
	case providerOpenAI:
		return openai.NewClient(cfg.CompletionProviderAPIKey, openai.WithChatModel(cfg.CompletionModel)), nil
	case providerGoogle:
		client, err := googleai.NewClient(ctx, cfg.CompletionProviderAPIKey, googleai.WithChatModel(cfg.CompletionModel))
		if err != nil {
			return nil, fmt.Errorf("create google completion client: %w", err)
		}

		return client, nil
	case providerAnthropic:
		return anthropic.NewClient(cfg.CompletionProviderAPIKey, anthropic.WithModel(cfg.CompletionModel)), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCompletionProvider, cfg.CompletionProvider)
	}
}

// NewOrchestrator builds the generation orchestrator on the configured completion provider.
func NewOrchestrator(
	ctx context.Context, cfg *config.Config, opts ...generation.Option,
) (*generation.Orchestrator, error) {
	provider, err := NewCompletionProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}

	prompts, err := generation.LoadPrompts(cfg.PromptsFile)
	if err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}

	return generation.NewOrchestrator(provider, prompts, generation.Config{
		MaxAttempts: cfg.GenerationMaxAttempts,
		Backoff: backoff.Policy{
			Base:   cfg.GenerationBaseBackoff,
			Max:    cfg.GenerationMaxBackoff,
			Jitter: cfg.GenerationJitter,
		},
		MaxTokens:   cfg.CompletionMaxTokens,
		Temperature: cfg.CompletionTemperature,
		CallTimeout: cfg.CompletionTimeout,
	}, opts...), nil
}

// EmbedRetry is the retry policy for synchronous label embedding (API calls, batches and the
// inline backfill). Queued jobs retry through River instead.
func EmbedRetry(cfg *config.Config) service.EmbedRetry {
	return service.EmbedRetry{
		MaxAttempts: cfg.EmbeddingMaxAttempts,
		Backoff: backoff.Policy{
			Base:   cfg.EmbeddingBaseBackoff,
			Max:    cfg.EmbeddingMaxBackoff,
			Jitter: true,
		},
	}
}

// Stores are the record stores of one deployment.
type Stores struct {
	Labels  service.LabelReader
	Vectors repository.VectorStore
	Content service.ContentStore
}

// NewStores selects Postgres or in-process backends. db is nil when no backend needs Postgres;
// generated content is then kept in memory.
func NewStores(cfg *config.Config, db *pgxpool.Pool) (Stores, error) {
	var s Stores

	switch cfg.LabelsSource {
	case config.LabelsSourceFile:
		labels, err := repository.NewFileLabelsRepository(cfg.LabelsFile)
		if err != nil {
			return Stores{}, fmt.Errorf("load labels file: %w", err)
		}

		s.Labels = labels
	default:
		s.Labels = repository.NewLabelsRepository(db)
	}

	switch cfg.VectorStore {
	case config.VectorStoreMemory:
		s.Vectors = repository.NewMemoryVectorStore(cfg.EmbeddingDimensions)
	default:
		s.Vectors = repository.NewEmbeddingsRepository(db, cfg.EmbeddingDimensions)
	}

	if db != nil {
		s.Content = repository.NewContentRepository(db)
	} else {
		s.Content = repository.NewMemoryContentRepository()
	}

	return s, nil
}

// NewAnswerCaches returns the answer cache and popularity tracker. The Redis client is returned
// so the caller can close it; it is nil for the in-process backend.
func NewAnswerCaches(ctx context.Context, cfg *config.Config) (
	cache.AnswerCache, cache.PopularityTracker, *redis.Client, error,
) {
	if cfg.AnswerCache != config.AnswerCacheRedis {
		return cache.NewMemoryAnswerCache(cfg.AnswerCacheSize, cfg.AnswerCacheTTL),
			cache.NewMemoryPopularityTracker(cfg.PopularQuestionsMax), nil, nil
	}

	client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, nil, err
	}

	return cache.NewRedisAnswerCache(client, ""),
		cache.NewRedisPopularityTracker(client, "", cfg.PopularQuestionsMax), client, nil
}

const migrateTimeout = time.Minute

// Migrate applies the River job tables and the service schema.
func Migrate(ctx context.Context, db *pgxpool.Pool, dimensions int) error {
	ctx, cancel := context.WithTimeout(ctx, migrateTimeout)
	defer cancel()

	migrator, err := rivermigrate.New(riverpgxv5.New(db), nil)
	if err != nil {
		return fmt.Errorf("create river migrator: %w", err)
	}

	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("migrate river: %w", err)
	}

	if err := repository.EnsureSchema(ctx, db, dimensions); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	return nil
}
