package repository

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/rxlabels/labelhub/internal/huberrors"
	"github.com/rxlabels/labelhub/internal/models"
	"github.com/rxlabels/labelhub/pkg/database"
)

const testDimensions = 3

func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "pgvector/pgvector:pg16",
		postgres.WithDatabase("labelhub"),
		postgres.WithUsername("labelhub"),
		postgres.WithPassword("labelhub"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := database.NewPostgresPool(ctx, dsn, database.WithMaxConns(4))
	require.NoError(t, err)
	t.Cleanup(db.Close)

	require.NoError(t, EnsureSchema(ctx, db, testDimensions))

	return db
}

func TestPostgresRepositories(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()

	labels := NewLabelsRepository(db)
	vectors := NewEmbeddingsRepository(db, testDimensions)
	content := NewContentRepository(db)

	require.NoError(t, labels.Upsert(ctx, models.Label{
		ID: "taltz", DrugName: "Taltz", GenericName: "ixekizumab", Indications: "plaque psoriasis",
	}))
	require.NoError(t, labels.Upsert(ctx, models.Label{ID: "zestril", DrugName: "Zestril", Indications: "hypertension"}))

	t.Run("labels", func(t *testing.T) {
		l, err := labels.GetByID(ctx, "taltz")
		require.NoError(t, err)
		assert.Equal(t, "ixekizumab", l.GenericName)

		_, err = labels.GetByID(ctx, "nope")
		require.ErrorIs(t, err, huberrors.ErrNotFound)

		found, err := labels.KeywordSearch(ctx, []string{"psoriasis"}, 5)
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "taltz", found[0].ID)

		ids, err := labels.ListIDs(ctx, "", 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"taltz", "zestril"}, ids)
	})

	t.Run("vector upsert is idempotent and query is bounded", func(t *testing.T) {
		rec := models.EmbeddingRecord{
			EntityID: "taltz", ContentCategory: models.CategorySummary,
			SourceText: "plaque psoriasis", Vector: []float32{1, 0, 0}, ModelID: "m",
		}
		require.NoError(t, vectors.Upsert(ctx, rec))
		require.NoError(t, vectors.Upsert(ctx, rec))

		var n int
		require.NoError(t, db.QueryRow(ctx, `SELECT count(*) FROM label_embeddings`).Scan(&n))
		assert.Equal(t, 1, n)

		require.NoError(t, vectors.Upsert(ctx, models.EmbeddingRecord{
			EntityID: "zestril", ContentCategory: models.CategorySummary,
			SourceText: "hypertension", Vector: []float32{-1, 0, 0}, ModelID: "m",
		}))

		hits, err := vectors.Query(ctx, []float32{1, 0.1, 0}, models.CategorySummary, 10, 0.5)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "taltz", hits[0].EntityID)
		assert.LessOrEqual(t, hits[0].Similarity, 1.0)
		assert.GreaterOrEqual(t, hits[0].Similarity, 0.5)

		embedded, err := vectors.EmbeddedEntityIDs(ctx, "m", []string{"taltz", "zestril", "x"})
		require.NoError(t, err)
		assert.Len(t, embedded, 2)

		err = vectors.Upsert(ctx, models.EmbeddingRecord{
			EntityID: "taltz", ContentCategory: models.CategoryFullText, Vector: []float32{1}, ModelID: "m",
		})
		require.ErrorIs(t, err, ErrDimensionMismatch)

		require.NoError(t, vectors.DeleteByEntity(ctx, "taltz"))
		hits, err = vectors.Query(ctx, []float32{-1, 0, 0}, "", 10, 0)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "zestril", hits[0].EntityID)
	})

	t.Run("generated content", func(t *testing.T) {
		c := models.GeneratedContent{
			EntityID: "taltz", ContentType: models.ContentTypeTitle, Audience: models.AudienceGeneral,
			Text: "Taltz (ixekizumab) - Prescribing Information", ProviderUsed: models.ProviderFallbackTemplate,
			GeneratedAt: time.Now().UTC().Truncate(time.Millisecond),
		}
		require.NoError(t, content.Upsert(ctx, c))

		got, err := content.Get(ctx, "taltz", models.ContentTypeTitle, models.AudienceGeneral)
		require.NoError(t, err)
		assert.Equal(t, c.Text, got.Text)
		assert.Equal(t, c.ProviderUsed, got.ProviderUsed)

		_, err = content.Get(ctx, "taltz", models.ContentTypeFAQ, models.AudienceGeneral)
		require.ErrorIs(t, err, huberrors.ErrNotFound)
	})

	t.Run("template output keeps stored primary content", func(t *testing.T) {
		assertTemplateKeepsPrimary(t, content)
	})
}
