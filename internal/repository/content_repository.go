package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rxlabels/labelhub/internal/huberrors"
	"github.com/rxlabels/labelhub/internal/models"
)

const contentStoreName = "content"

// ContentRepository stores generated content in the generated_content table.
type ContentRepository struct {
	db *pgxpool.Pool
}

// NewContentRepository creates a new generated content repository.
func NewContentRepository(db *pgxpool.Pool) *ContentRepository {
	return &ContentRepository{db: db}
}

// Upsert writes content for (entity, content type, audience), replacing older output. Template
// output never replaces stored primary output.
func (r *ContentRepository) Upsert(ctx context.Context, c models.GeneratedContent) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO generated_content (entity_id, content_type, audience, text, provider_used, generated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (entity_id, content_type, audience)
		DO UPDATE SET text = EXCLUDED.text, provider_used = EXCLUDED.provider_used, generated_at = EXCLUDED.generated_at
		WHERE generated_content.provider_used <> $7 OR EXCLUDED.provider_used = $7`,
		c.EntityID, string(c.ContentType), string(c.Audience), c.Text, string(c.ProviderUsed), c.GeneratedAt,
		string(models.ProviderPrimary),
	)
	if err != nil {
		return fmt.Errorf("generated content upsert: %w", wrapStoreError(contentStoreName, err))
	}

	return nil
}

// Get returns stored content or huberrors.ErrNotFound.
func (r *ContentRepository) Get(
	ctx context.Context, entityID string, contentType models.ContentType, audience models.Audience,
) (models.GeneratedContent, error) {
	var (
		c            models.GeneratedContent
		ct, aud, prv string
	)

	err := r.db.QueryRow(ctx, `
		SELECT entity_id, content_type, audience, text, provider_used, generated_at
		FROM generated_content WHERE entity_id = $1 AND content_type = $2 AND audience = $3`,
		entityID, string(contentType), string(audience),
	).Scan(&c.EntityID, &ct, &aud, &c.Text, &prv, &c.GeneratedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.GeneratedContent{}, huberrors.NewNotFoundError("generated content", "")
		}

		return models.GeneratedContent{}, fmt.Errorf("get generated content: %w", wrapStoreError(contentStoreName, err))
	}

	c.ContentType = models.ContentType(ct)
	c.Audience = models.Audience(aud)
	c.ProviderUsed = models.ProviderUsed(prv)

	return c, nil
}

type contentKey struct {
	entityID    string
	contentType models.ContentType
	audience    models.Audience
}

// MemoryContentRepository keeps generated content in memory.
type MemoryContentRepository struct {
	mu    sync.RWMutex
	items map[contentKey]models.GeneratedContent
}

// NewMemoryContentRepository creates an empty repository.
func NewMemoryContentRepository() *MemoryContentRepository {
	return &MemoryContentRepository{items: make(map[contentKey]models.GeneratedContent)}
}

// Upsert stores c unless it is template output and primary output is already stored.
func (r *MemoryContentRepository) Upsert(_ context.Context, c models.GeneratedContent) error {
	key := contentKey{c.EntityID, c.ContentType, c.Audience}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !keepsStored(r.items[key].ProviderUsed, c.ProviderUsed) {
		r.items[key] = c
	}

	return nil
}

// keepsStored reports whether content from provider next must not replace content from stored.
func keepsStored(stored, next models.ProviderUsed) bool {
	return stored == models.ProviderPrimary && next != models.ProviderPrimary
}

// Get returns stored content or huberrors.ErrNotFound.
func (r *MemoryContentRepository) Get(
	_ context.Context, entityID string, contentType models.ContentType, audience models.Audience,
) (models.GeneratedContent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.items[contentKey{entityID, contentType, audience}]
	if !ok {
		return models.GeneratedContent{}, huberrors.NewNotFoundError("generated content", "")
	}

	return c, nil
}
