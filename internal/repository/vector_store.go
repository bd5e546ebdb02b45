package repository

import (
	"context"
	"errors"
	"net"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rxlabels/labelhub/internal/huberrors"
	"github.com/rxlabels/labelhub/internal/models"
)

var (
	// ErrDimensionMismatch is returned when a vector does not have the store's declared dimension.
	ErrDimensionMismatch = errors.New("vector dimension does not match store")
	// ErrInvalidDimensions is returned when a store is configured with a non-positive dimension.
	ErrInvalidDimensions = errors.New("embedding dimensions must be positive")
	// ErrInvalidRecord is returned when an embedding record lacks its key.
	ErrInvalidRecord = errors.New("embedding record requires entity id and valid content category")
)

// VectorStore persists one embedding per (entity, content category) and answers nearest-neighbour queries.
type VectorStore interface {
	// Upsert inserts or replaces the record for (EntityID, ContentCategory). Last write wins.
	Upsert(ctx context.Context, record models.EmbeddingRecord) error
	// Query returns hits with similarity >= threshold in descending similarity order.
	// An empty category searches all categories.
	Query(
		ctx context.Context, vector []float32, category models.ContentCategory, limit int, threshold float64,
	) ([]models.RetrievalHit, error)
	// DeleteByEntity removes every record of the entity.
	DeleteByEntity(ctx context.Context, entityID string) error
	// EmbeddedEntityIDs returns the subset of ids that have at least one record produced by modelID.
	EmbeddedEntityIDs(ctx context.Context, modelID string, ids []string) (map[string]bool, error)
}

// ClampSimilarity bounds a similarity to [0,1].
func ClampSimilarity(s float64) float64 {
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	default:
		return s
	}
}

func validateRecord(record models.EmbeddingRecord, dimensions int) error {
	if record.EntityID == "" || !record.ContentCategory.IsValid() {
		return ErrInvalidRecord
	}

	if dimensions > 0 && len(record.Vector) != dimensions {
		return ErrDimensionMismatch
	}

	return nil
}

// wrapStoreError marks connection-level failures as StoreUnavailable so callers can retry or degrade.
func wrapStoreError(store string, err error) error {
	if err == nil {
		return nil
	}

	if isConnectionError(err) {
		return huberrors.NewStoreUnavailableError(store, err)
	}

	return err
}

func isConnectionError(err error) bool {
	if huberrors.IsContextDone(err) {
		return false
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 08: connection exception, 57P01..03: admin shutdown / cannot connect now
		return len(pgErr.Code) == 5 && (pgErr.Code[:2] == "08" || pgErr.Code[:3] == "57P")
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return pgconn.SafeToRetry(err)
}
