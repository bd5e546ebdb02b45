package backends

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rxlabels/labelhub/internal/cache"
	"github.com/rxlabels/labelhub/internal/config"
	"github.com/rxlabels/labelhub/internal/embeddings"
	"github.com/rxlabels/labelhub/internal/generation"
	"github.com/rxlabels/labelhub/internal/models"
	"github.com/rxlabels/labelhub/internal/repository"
)

func TestNewEmbeddingClient(t *testing.T) {
	ctx := context.Background()

	t.Run("empty provider disables embeddings", func(t *testing.T) {
		client, err := NewEmbeddingClient(ctx, &config.Config{})
		require.NoError(t, err)
		assert.Nil(t, client)
	})

	t.Run("mock", func(t *testing.T) {
		client, err := NewEmbeddingClient(ctx, &config.Config{EmbeddingProvider: "mock", EmbeddingDimensions: 8})
		require.NoError(t, err)
		assert.Equal(t, embeddings.MockProviderName, client.Name())
	})

	t.Run("compatible requires a model", func(t *testing.T) {
		_, err := NewEmbeddingClient(ctx, &config.Config{EmbeddingProvider: "compatible", EmbeddingBaseURL: "http://localhost:11434/v1"})
		require.ErrorIs(t, err, ErrMissingEmbeddingModel)
	})

	t.Run("unsupported", func(t *testing.T) {
		_, err := NewEmbeddingClient(ctx, &config.Config{EmbeddingProvider: "cohere"})
		require.ErrorIs(t, err, ErrUnsupportedEmbeddingProvider)
	})
}

func TestEmbeddingModelID(t *testing.T) {
	assert.Equal(t, "text-embedding-3-small",
		EmbeddingModelID(&config.Config{EmbeddingProvider: "openai", EmbeddingModel: "text-embedding-3-small"}))
	assert.Equal(t, embeddings.MockProviderName, EmbeddingModelID(&config.Config{EmbeddingProvider: "mock"}))
	assert.Equal(t, "default", EmbeddingModelID(&config.Config{EmbeddingProvider: "openai"}))
}

func TestNewCompletionProvider(t *testing.T) {
	ctx := context.Background()

	provider, err := NewCompletionProvider(ctx, &config.Config{CompletionProvider: "template"})
	require.NoError(t, err)
	assert.IsType(t, generation.TemplateProvider{}, provider)

	_, err = NewCompletionProvider(ctx, &config.Config{CompletionProvider: "llama"})
	require.ErrorIs(t, err, ErrUnsupportedCompletionProvider)
}

func TestNewOrchestrator_TemplateFallsBack(t *testing.T) {
	orch, err := NewOrchestrator(context.Background(), &config.Config{
		CompletionProvider:    "template",
		GenerationMaxAttempts: 1,
		CompletionMaxTokens:   256,
	})
	require.NoError(t, err)

	res, err := orch.Generate(context.Background(), models.GenerationRequest{
		Entity:      models.Label{ID: "taltz", DrugName: "Taltz", Indications: "Plaque psoriasis."},
		ContentType: models.ContentTypeFAQ,
		Audience:    models.AudienceGeneral,
	})
	require.NoError(t, err)
	assert.Equal(t, models.ProviderFallbackTemplate, res.ProviderUsed)
}

func TestNewStores_InProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id":"taltz","drugName":"Taltz"}]`), 0o600))

	st, err := NewStores(&config.Config{
		LabelsSource:        config.LabelsSourceFile,
		LabelsFile:          path,
		VectorStore:         config.VectorStoreMemory,
		EmbeddingDimensions: 8,
	}, nil)
	require.NoError(t, err)

	label, err := st.Labels.GetByID(context.Background(), "taltz")
	require.NoError(t, err)
	assert.Equal(t, "Taltz", label.DrugName)

	assert.IsType(t, &repository.MemoryVectorStore{}, st.Vectors)
	assert.IsType(t, &repository.MemoryContentRepository{}, st.Content)

	t.Run("missing file", func(t *testing.T) {
		_, err := NewStores(&config.Config{
			LabelsSource: config.LabelsSourceFile,
			LabelsFile:   filepath.Join(t.TempDir(), "missing.json"),
			VectorStore:  config.VectorStoreMemory,
		}, nil)
		require.Error(t, err)
	})
}

func TestNewAnswerCaches_Memory(t *testing.T) {
	answers, popularity, client, err := NewAnswerCaches(context.Background(), &config.Config{
		AnswerCache:         config.AnswerCacheMemory,
		AnswerCacheSize:     10,
		PopularQuestionsMax: 10,
	})
	require.NoError(t, err)

	assert.Nil(t, client)
	assert.IsType(t, &cache.MemoryAnswerCache{}, answers)
	assert.IsType(t, &cache.MemoryPopularityTracker{}, popularity)
}
