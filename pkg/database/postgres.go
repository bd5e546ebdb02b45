// Package database opens the Postgres pool shared by the label stores and the job queue.
package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

const createVectorExtension = "CREATE EXTENSION IF NOT EXISTS vector"

type poolSettings struct {
	vectorTypes bool
	maxConns    int32
}

// PoolOption configures the connection pool.
type PoolOption func(*poolSettings)

// WithoutVectorTypes skips the vector extension and pgvector type registration.
func WithoutVectorTypes() PoolOption {
	return func(s *poolSettings) {
		s.vectorTypes = false
	}
}

// WithMaxConns caps the pool size. Values <= 0 keep the pgx default.
func WithMaxConns(n int) PoolOption {
	return func(s *poolSettings) {
		if n > 0 {
			s.maxConns = int32(n) //nolint:gosec // bounded by configuration
		}
	}
}

// NewPostgresPool creates a PostgreSQL connection pool. Unless WithoutVectorTypes is given the
// vector extension is created first, over a single connection, because pgvector types can only
// be registered on connections once the extension exists.
func NewPostgresPool(ctx context.Context, databaseURL string, opts ...PoolOption) (*pgxpool.Pool, error) {
	settings := poolSettings{vectorTypes: true}
	for _, opt := range opts {
		opt(&settings)
	}

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	if settings.maxConns > 0 {
		config.MaxConns = settings.maxConns
	}

	if settings.vectorTypes {
		if err := ensureVectorExtension(ctx, config.ConnConfig); err != nil {
			return nil, err
		}

		config.AfterConnect = pgxvec.RegisterTypes
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("Successfully connected to PostgreSQL", "max_conns", config.MaxConns, "vector_types", settings.vectorTypes)

	return pool, nil
}

func ensureVectorExtension(ctx context.Context, connConfig *pgx.ConnConfig) error {
	conn, err := pgx.ConnectConfig(ctx, connConfig.Copy())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if err := conn.Close(ctx); err != nil {
			slog.Warn("Failed to close bootstrap connection", "error", err)
		}
	}()

	if _, err := conn.Exec(ctx, createVectorExtension); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	return nil
}
