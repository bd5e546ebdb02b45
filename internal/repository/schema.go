package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaSQL creates every table the service owns. %d is the embedding dimension;
// changing it requires dropping label_embeddings.
const schemaSQL = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS labels (
	id                TEXT PRIMARY KEY,
	drug_name         TEXT NOT NULL DEFAULT '',
	generic_name      TEXT NOT NULL DEFAULT '',
	manufacturer      TEXT NOT NULL DEFAULT '',
	indications       TEXT NOT NULL DEFAULT '',
	dosage            TEXT NOT NULL DEFAULT '',
	contraindications TEXT NOT NULL DEFAULT '',
	warnings          TEXT NOT NULL DEFAULT '',
	adverse_reactions TEXT NOT NULL DEFAULT '',
	description       TEXT NOT NULL DEFAULT '',
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS label_embeddings (
	entity_id        TEXT NOT NULL,
	content_category TEXT NOT NULL,
	source_text      TEXT NOT NULL,
	embedding        vector(%d) NOT NULL,
	model_id         TEXT NOT NULL,
	dimensions       INTEGER NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (entity_id, content_category)
);

CREATE INDEX IF NOT EXISTS label_embeddings_embedding_hnsw_idx
	ON label_embeddings USING hnsw (embedding vector_cosine_ops);

CREATE INDEX IF NOT EXISTS label_embeddings_model_idx ON label_embeddings (model_id);

CREATE TABLE IF NOT EXISTS generated_content (
	entity_id     TEXT NOT NULL,
	content_type  TEXT NOT NULL,
	audience      TEXT NOT NULL,
	text          TEXT NOT NULL,
	provider_used TEXT NOT NULL,
	generated_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (entity_id, content_type, audience)
);
`

// EnsureSchema applies the schema. It is idempotent.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool, dimensions int) error {
	if dimensions <= 0 {
		return fmt.Errorf("ensure schema: %w", ErrInvalidDimensions)
	}

	if _, err := db.Exec(ctx, fmt.Sprintf(schemaSQL, dimensions)); err != nil {
		return fmt.Errorf("ensure schema: %w", wrapStoreError("postgres", err))
	}

	return nil
}
