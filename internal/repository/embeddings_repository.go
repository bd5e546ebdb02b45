package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/rxlabels/labelhub/internal/models"
)

const embeddingsStoreName = "vector"

// EmbeddingsRepository is the pgvector VectorStore backed by the label_embeddings table.
type EmbeddingsRepository struct {
	db         *pgxpool.Pool
	dimensions int
}

// NewEmbeddingsRepository creates a new embeddings repository. dimensions must match the vector(N) column.
func NewEmbeddingsRepository(db *pgxpool.Pool, dimensions int) *EmbeddingsRepository {
	return &EmbeddingsRepository{db: db, dimensions: dimensions}
}

// Upsert inserts or updates the embedding for (entity_id, content_category).
// On conflict the text, vector, model and updated_at are replaced.
func (r *EmbeddingsRepository) Upsert(ctx context.Context, record models.EmbeddingRecord) error {
	if err := validateRecord(record, r.dimensions); err != nil {
		return fmt.Errorf("embeddings upsert: %w", err)
	}

	now := time.Now()

	_, err := r.db.Exec(ctx, `
		INSERT INTO label_embeddings
			(entity_id, content_category, source_text, embedding, model_id, dimensions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (entity_id, content_category)
		DO UPDATE SET source_text = EXCLUDED.source_text, embedding = EXCLUDED.embedding,
			model_id = EXCLUDED.model_id, dimensions = EXCLUDED.dimensions, updated_at = $7`,
		record.EntityID, string(record.ContentCategory), record.SourceText,
		pgvector.NewVector(record.Vector), record.ModelID, len(record.Vector), now,
	)
	if err != nil {
		return fmt.Errorf("embeddings upsert: %w", wrapStoreError(embeddingsStoreName, err))
	}

	return nil
}

// Query returns the nearest records to vector by cosine distance (<=>); similarity = 1 - distance.
// Only rows with similarity >= threshold are returned.
func (r *EmbeddingsRepository) Query(
	ctx context.Context, vector []float32, category models.ContentCategory, limit int, threshold float64,
) ([]models.RetrievalHit, error) {
	if len(vector) != r.dimensions {
		return nil, fmt.Errorf("embeddings query: %w", ErrDimensionMismatch)
	}

	if limit <= 0 {
		return []models.RetrievalHit{}, nil
	}

	rows, err := r.db.Query(ctx, `
		SELECT entity_id, content_category, source_text, (1 - (embedding <=> $1)) AS similarity
		FROM label_embeddings
		WHERE ($2 = '' OR content_category = $2) AND (1 - (embedding <=> $1)) >= $3
		ORDER BY embedding <=> $1
		LIMIT $4`,
		pgvector.NewVector(vector), string(category), threshold, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("embeddings query: %w", wrapStoreError(embeddingsStoreName, err))
	}
	defer rows.Close()

	hits := []models.RetrievalHit{}

	for rows.Next() {
		var (
			hit      models.RetrievalHit
			category string
		)

		if err := rows.Scan(&hit.EntityID, &category, &hit.MatchedText, &hit.Similarity); err != nil {
			return nil, fmt.Errorf("scan embedding hit: %w", err)
		}

		hit.ContentCategory = models.ContentCategory(category)
		hit.Similarity = ClampSimilarity(hit.Similarity)
		hit.Source = models.HitSourceSemantic
		hits = append(hits, hit)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating embedding hits: %w", wrapStoreError(embeddingsStoreName, err))
	}

	return hits, nil
}

// DeleteByEntity removes all embeddings of a label.
func (r *EmbeddingsRepository) DeleteByEntity(ctx context.Context, entityID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM label_embeddings WHERE entity_id = $1`, entityID)
	if err != nil {
		return fmt.Errorf("embeddings delete: %w", wrapStoreError(embeddingsStoreName, err))
	}

	return nil
}

// EmbeddedEntityIDs returns which of ids already have an embedding from modelID.
func (r *EmbeddingsRepository) EmbeddedEntityIDs(
	ctx context.Context, modelID string, ids []string,
) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.db.Query(ctx,
		`SELECT DISTINCT entity_id FROM label_embeddings WHERE model_id = $1 AND entity_id = ANY($2)`,
		modelID, ids,
	)
	if err != nil {
		return nil, fmt.Errorf("embedded entity ids: %w", wrapStoreError(embeddingsStoreName, err))
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan entity id: %w", err)
		}

		out[id] = true
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating embedded ids: %w", err)
	}

	return out, nil
}

var _ VectorStore = (*EmbeddingsRepository)(nil)
