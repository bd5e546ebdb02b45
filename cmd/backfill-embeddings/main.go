// backfill-embeddings finds labels without embeddings of the configured model and either
// enqueues River embedding jobs for them (the API server's workers process the jobs) or, with
// --inline, embeds them in this process. Inline mode also works without Postgres.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/rxlabels/labelhub/internal/backends"
	"github.com/rxlabels/labelhub/internal/config"
	"github.com/rxlabels/labelhub/internal/observability"
	"github.com/rxlabels/labelhub/internal/service"
	"github.com/rxlabels/labelhub/pkg/database"
)

var (
	errEmbeddingProviderRequired = errors.New("EMBEDDING_PROVIDER is required")
	errQueueNeedsPostgres        = errors.New("enqueueing jobs needs Postgres; use --inline with in-memory stores")
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var inline bool

	cmd := &cobra.Command{
		Use:   "backfill-embeddings",
		Short: "Embed labels that have no embeddings of the configured model",
		Long: `Find labels without embeddings of EMBEDDING_MODEL and enqueue one River job per label.

Configuration is read from the environment (and .env) exactly like the API server;
API_KEY is not required. With --inline the labels are embedded in this process in
paced batches (BATCH_SIZE, BATCH_PAUSE, EMBEDDING_RATE_LIMIT) instead.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBackfill(cmd.Context(), inline)
		},
	}

	cmd.Flags().BoolVar(&inline, "inline", false, "Embed in this process instead of enqueueing jobs")

	return cmd
}

func runBackfill(ctx context.Context, inline bool) error {
	cfg, err := config.LoadForTool()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	slog.SetDefault(observability.NewLogger(os.Stderr, cfg.LogLevel))

	if cfg.EmbeddingProvider == "" {
		return errEmbeddingProviderRequired
	}

	if !inline && !cfg.UsesPostgres() {
		return errQueueNeedsPostgres
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var db *pgxpool.Pool

	if cfg.UsesPostgres() {
		db, err = database.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()

		if err := backends.Migrate(ctx, db, cfg.EmbeddingDimensions); err != nil {
			return err
		}
	}

	st, err := backends.NewStores(cfg, db)
	if err != nil {
		return err
	}

	modelID := backends.EmbeddingModelID(cfg)

	var stats service.BackfillStats

	if inline {
		stats, err = embedInline(ctx, cfg, st)
	} else {
		stats, err = enqueue(ctx, cfg, db, st, modelID)
	}

	if err != nil {
		slog.Error("Backfill failed", "scanned", stats.Scanned, "missing", stats.Missing, "error", err)

		return err
	}

	slog.Info("Backfill complete",
		"model", modelID,
		"scanned", stats.Scanned,
		"missing", stats.Missing,
		"enqueued", stats.Enqueued,
		"embedded", stats.Embedded,
	)

	if inline {
		fmt.Printf("Embedded %d of %d label(s) without embeddings.\n", stats.Embedded, stats.Missing)
	} else {
		fmt.Printf("Enqueued %d embedding job(s).\n", stats.Enqueued)
	}

	return nil
}

func enqueue(
	ctx context.Context, cfg *config.Config, db *pgxpool.Pool, st backends.Stores, modelID string,
) (service.BackfillStats, error) {
	// Insert-only client: no queues are worked here.
	riverClient, err := river.NewClient(riverpgxv5.New(db), &river.Config{})
	if err != nil {
		return service.BackfillStats{}, fmt.Errorf("create River client: %w", err)
	}

	enqueuer := service.NewEmbeddingEnqueuer(riverClient, service.EmbeddingsQueueName,
		cfg.EmbeddingMaxAttempts, nil, slog.Default())

	return service.BackfillEmbeddings(ctx, st.Labels, st.Vectors, modelID, enqueuer)
}

func embedInline(ctx context.Context, cfg *config.Config, st backends.Stores) (service.BackfillStats, error) {
	client, err := backends.NewEmbeddingClient(ctx, cfg)
	if err != nil {
		return service.BackfillStats{}, err
	}

	generator := service.NewEmbeddingGenerator(service.EmbeddingGeneratorParams{
		Client:        client,
		Store:         st.Vectors,
		ModelID:       backends.EmbeddingModelID(cfg),
		Dimensions:    cfg.EmbeddingDimensions,
		MaxInputChars: cfg.EmbeddingMaxInputChars,
		Logger:        slog.Default(),
	})

	runner := service.NewBatchRunner(service.BatchRunnerParams{
		Labels:    st.Labels,
		Limiter:   rate.NewLimiter(rate.Limit(cfg.EmbeddingRateLimit), 1),
		BatchSize: cfg.BatchSize,
		Pause:     cfg.BatchPause,
		Logger:    slog.Default(),
	})

	task := service.EmbedTask{Generator: generator, Retry: backends.EmbedRetry(cfg)}

	return service.EmbedMissing(ctx, st.Labels, st.Vectors, task, runner)
}
