package repository

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rxlabels/labelhub/internal/models"
	"github.com/rxlabels/labelhub/pkg/embeddings"
)

type vectorKey struct {
	entityID string
	category models.ContentCategory
}

// MemoryVectorStore is an exact-scan VectorStore for tests and single-process deployments.
type MemoryVectorStore struct {
	mu         sync.RWMutex
	dimensions int
	records    map[vectorKey]models.EmbeddingRecord
}

// NewMemoryVectorStore creates an empty store. dimensions of 0 accepts any length.
func NewMemoryVectorStore(dimensions int) *MemoryVectorStore {
	return &MemoryVectorStore{
		dimensions: dimensions,
		records:    make(map[vectorKey]models.EmbeddingRecord),
	}
}

// Upsert stores a copy of record, replacing any previous one with the same key.
func (s *MemoryVectorStore) Upsert(ctx context.Context, record models.EmbeddingRecord) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("embeddings upsert: %w", err)
	}

	if err := validateRecord(record, s.dimensions); err != nil {
		return fmt.Errorf("embeddings upsert: %w", err)
	}

	now := time.Now()
	record.Vector = slices.Clone(record.Vector)
	record.Dimensions = len(record.Vector)
	record.UpdatedAt = now

	key := vectorKey{entityID: record.EntityID, category: record.ContentCategory}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.records[key]; ok {
		record.CreatedAt = prev.CreatedAt
	} else {
		record.CreatedAt = now
	}

	s.records[key] = record

	return nil
}

// Query scans every record of the category and ranks by cosine similarity.
func (s *MemoryVectorStore) Query(
	ctx context.Context, vector []float32, category models.ContentCategory, limit int, threshold float64,
) ([]models.RetrievalHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("embeddings query: %w", err)
	}

	if s.dimensions > 0 && len(vector) != s.dimensions {
		return nil, fmt.Errorf("embeddings query: %w", ErrDimensionMismatch)
	}

	hits := []models.RetrievalHit{}
	if limit <= 0 {
		return hits, nil
	}

	s.mu.RLock()

	for key, rec := range s.records {
		if category != "" && key.category != category {
			continue
		}

		// only reachable without a fixed dimension; such vectors are not comparable
		if len(rec.Vector) != len(vector) {
			continue
		}

		sim := ClampSimilarity(embeddings.CosineSimilarity(vector, rec.Vector))
		if sim < threshold {
			continue
		}

		hits = append(hits, models.RetrievalHit{
			EntityID:        rec.EntityID,
			ContentCategory: rec.ContentCategory,
			Similarity:      sim,
			MatchedText:     rec.SourceText,
			Source:          models.HitSourceSemantic,
		})
	}

	s.mu.RUnlock()

	slices.SortFunc(hits, func(a, b models.RetrievalHit) int {
		if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
			return c
		}

		return cmp.Compare(a.EntityID, b.EntityID)
	})

	if len(hits) > limit {
		hits = hits[:limit]
	}

	return hits, nil
}

// DeleteByEntity removes every category of the entity.
func (s *MemoryVectorStore) DeleteByEntity(ctx context.Context, entityID string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("embeddings delete: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range models.AllContentCategories() {
		delete(s.records, vectorKey{entityID: entityID, category: c})
	}

	return nil
}

// EmbeddedEntityIDs returns which of ids have a record from modelID.
func (s *MemoryVectorStore) EmbeddedEntityIDs(_ context.Context, modelID string, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range ids {
		for _, c := range models.AllContentCategories() {
			if rec, ok := s.records[vectorKey{entityID: id, category: c}]; ok && rec.ModelID == modelID {
				out[id] = true

				break
			}
		}
	}

	return out, nil
}

// Get returns the stored record for a key.
func (s *MemoryVectorStore) Get(entityID string, category models.ContentCategory) (models.EmbeddingRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[vectorKey{entityID: entityID, category: category}]

	return rec, ok
}

// Len returns the number of stored records.
func (s *MemoryVectorStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.records)
}

var _ VectorStore = (*MemoryVectorStore)(nil)
