package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rxlabels/labelhub/internal/huberrors"
	pkgembeddings "github.com/rxlabels/labelhub/pkg/embeddings"
)

func TestMockClient_Deterministic(t *testing.T) {
	c := NewMockClient(64)

	a, err := c.CreateEmbedding(context.Background(), "plaque psoriasis")
	require.NoError(t, err)

	b, err := c.CreateEmbedding(context.Background(), "plaque psoriasis")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.InDelta(t, 1.0, pkgembeddings.CosineSimilarity(a, b), 1e-6)
}

func TestMockClient_SharedVocabularyIsSimilar(t *testing.T) {
	c := NewMockClient(0)
	ctx := context.Background()

	summary, err := c.CreateEmbedding(ctx, "Treatment of adults with plaque psoriasis.")
	require.NoError(t, err)

	query, err := c.CreateEmbedding(ctx, "psoriasis treatment")
	require.NoError(t, err)

	unrelated, err := c.CreateEmbedding(ctx, "hypertension in elderly patients")
	require.NoError(t, err)

	related := pkgembeddings.CosineSimilarity(summary, query)
	assert.GreaterOrEqual(t, related, 0.5)
	assert.Greater(t, related, pkgembeddings.CosineSimilarity(unrelated, query))
}

func TestMockClient_Errors(t *testing.T) {
	c := NewMockClient(8)

	_, err := c.CreateEmbedding(context.Background(), "  ")
	require.ErrorIs(t, err, huberrors.ErrProviderRejected)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = c.CreateEmbedding(ctx, "text")
	require.ErrorIs(t, err, context.Canceled)
}

func TestMockClient_StopwordsOnly(t *testing.T) {
	vec, err := NewMockClient(8).CreateEmbedding(context.Background(), "what is the treatment")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, pkgembeddings.CosineSimilarity(vec, vec), 1e-6)
}

func TestCompatibleClient(t *testing.T) {
	t.Run("orders vectors by index", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/embeddings", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"object": "list",
				"data": []map[string]any{
					{"object": "embedding", "index": 1, "embedding": []float32{0, 1}},
					{"object": "embedding", "index": 0, "embedding": []float32{1, 0}},
				},
			})
		}))
		defer srv.Close()

		c := NewCompatibleClient(srv.URL+"/v1", "", "nomic-embed-text", 2)

		out, err := c.CreateEmbeddings(context.Background(), []string{"a", "b"})
		require.NoError(t, err)
		assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, out)
	})

	t.Run("server error is transient", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"message":"loading model","type":"server_error"}}`))
		}))
		defer srv.Close()

		_, err := NewCompatibleClient(srv.URL+"/v1", "", "m", 0).CreateEmbedding(context.Background(), "a")
		require.Error(t, err)
		assert.True(t, huberrors.IsTransient(err))
	})

	t.Run("empty input rejected", func(t *testing.T) {
		_, err := NewCompatibleClient("http://127.0.0.1:1", "", "m", 0).CreateEmbedding(context.Background(), " ")
		require.ErrorIs(t, err, huberrors.ErrProviderRejected)
	})
}
