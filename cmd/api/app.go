package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivertype"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/time/rate"

	"github.com/rxlabels/labelhub/internal/api/handlers"
	"github.com/rxlabels/labelhub/internal/api/middleware"
	"github.com/rxlabels/labelhub/internal/backends"
	"github.com/rxlabels/labelhub/internal/config"
	"github.com/rxlabels/labelhub/internal/generation"
	"github.com/rxlabels/labelhub/internal/observability"
	"github.com/rxlabels/labelhub/internal/service"
	"github.com/rxlabels/labelhub/internal/worker"
	"github.com/rxlabels/labelhub/internal/workers"
	"github.com/rxlabels/labelhub/pkg/backoff"
	pkgcache "github.com/rxlabels/labelhub/pkg/cache"
)

// App holds all server dependencies and coordinates startup and shutdown.
type App struct {
	cfg            *config.Config
	db             *pgxpool.Pool
	redis          *redis.Client
	server         *http.Server
	river          *river.Client[pgx.Tx]
	backfill       *worker.BackfillScheduler
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	metrics        *observability.Metrics
}

const (
	riverQueueDepthInterval = 15 * time.Second
	searchQueryCacheSize    = 1000
	queryEmbeddingTTL       = time.Hour
)

var storeRetryBackoff = backoff.Policy{Base: 100 * time.Millisecond, Max: time.Second, Jitter: true}

// setupMetrics creates the meter provider and labelhub metrics when metrics are enabled.
// The returned handler serves /metrics for the prometheus exporter and is nil otherwise.
func setupMetrics(cfg *config.Config) (*sdkmetric.MeterProvider, *observability.Metrics, http.Handler, error) {
	mp, promHandler, err := observability.NewMeterProvider(cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create meter provider: %w", err)
	}

	if mp == nil {
		return nil, nil, nil, nil
	}

	metrics, err := observability.NewMetrics(observability.Meter(mp))
	if err != nil {
		if err2 := observability.ShutdownMeterProvider(context.Background(), mp); err2 != nil {
			slog.Error("shutdown meter provider after metrics error", "error", err2)
		}

		return nil, nil, nil, fmt.Errorf("create metrics: %w", err)
	}

	return mp, metrics, promHandler, nil
}

// components are the per-concern metric recorders; all nil when metrics are disabled.
type components struct {
	http       observability.HTTPMetrics
	embeddings observability.EmbeddingMetrics
	generation observability.GenerationMetrics
	retrieval  observability.RetrievalMetrics
	batch      observability.BatchMetrics
	cache      observability.CacheMetrics
}

func metricComponents(m *observability.Metrics) components {
	if m == nil {
		return components{}
	}

	return components{
		http:       m.HTTP,
		embeddings: m.Embeddings,
		generation: m.Generation,
		retrieval:  m.Retrieval,
		batch:      m.Batch,
		cache:      m.Cache,
	}
}

// NewApp builds and wires all components. It does not start the HTTP server, River or the
// backfill scheduler; call Run to start and block until shutdown or failure.
// db is nil when no configured backend uses Postgres.
func NewApp(ctx context.Context, cfg *config.Config, db *pgxpool.Pool) (app *App, err error) {
	var (
		meterProvider *sdkmetric.MeterProvider
		metrics       *observability.Metrics
		promHandler   http.Handler
	)

	if cfg.OtelMetricsExporter == "" {
		slog.Warn("metrics not enabled (OTEL_METRICS_EXPORTER empty or unset)")
	} else {
		meterProvider, metrics, promHandler, err = setupMetrics(cfg)
		if err != nil {
			return nil, err
		}
	}

	var tracerProvider *sdktrace.TracerProvider

	if cfg.OtelTracesExporter == "" {
		slog.Warn("tracing not enabled (OTEL_TRACES_EXPORTER empty or unset)")
	} else {
		tracerProvider, err = observability.NewTracerProvider(cfg)
		if err != nil {
			if err2 := shutdownObservability(context.Background(), nil, meterProvider); err2 != nil {
				slog.Error("shutdown meter provider after tracer provider error", "error", err2)
			}

			return nil, fmt.Errorf("create tracer provider: %w", err)
		}
	}

	defer func() {
		if err == nil {
			return
		}

		if err2 := shutdownObservability(context.Background(), tracerProvider, meterProvider); err2 != nil {
			slog.Error("shutdown observability after startup error", "error", err2)
		}
	}()

	// Installed unconditionally so request_id (and trace_id/span_id when tracing is on) appear in logs.
	slog.SetDefault(slog.New(observability.NewTraceContextHandler(slog.Default().Handler())))

	if tracerProvider != nil {
		otel.SetTracerProvider(tracerProvider)
	}

	if meterProvider != nil {
		otel.SetMeterProvider(meterProvider)
	}

	m := metricComponents(metrics)

	if db != nil {
		if err = backends.Migrate(ctx, db, cfg.EmbeddingDimensions); err != nil {
			return nil, err
		}
	}

	st, err := backends.NewStores(cfg, db)
	if err != nil {
		return nil, err
	}

	embeddingClient, err := backends.NewEmbeddingClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	orchestrator, err := backends.NewOrchestrator(ctx, cfg,
		generation.WithMetrics(m.generation),
		generation.WithLogger(slog.Default()),
	)
	if err != nil {
		return nil, err
	}

	answers, popularity, redisClient, err := backends.NewAnswerCaches(ctx, cfg)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err != nil && redisClient != nil {
			_ = redisClient.Close()
		}
	}()

	queryCache, err := pkgcache.NewLoaderCache[string, []float32](searchQueryCacheSize,
		func(q string) string { return q },
		pkgcache.WithTTL(queryEmbeddingTTL),
	)
	if err != nil {
		return nil, fmt.Errorf("create search query cache: %w", err)
	}

	retriever := service.NewRetriever(service.RetrieverParams{
		Client:     embeddingClient,
		Store:      st.Vectors,
		Labels:     st.Labels,
		QueryCache: queryCache,
		Thresholds: service.Thresholds{
			QA:          cfg.SearchThresholdQA,
			Summary:     cfg.SearchThresholdSummary,
			Indications: cfg.SearchThresholdIndic,
			FullText:    cfg.SearchThresholdFull,
		},
		KeywordRelevance:   cfg.KeywordFallbackScore,
		StoreRetryAttempts: cfg.StoreRetryAttempts,
		StoreBackoff:       storeRetryBackoff,
		Metrics:            m.retrieval,
		CacheMetrics:       m.cache,
		Logger:             slog.Default(),
	})

	answerService := service.NewAnswerService(service.AnswerServiceParams{
		Retriever:         retriever,
		Labels:            st.Labels,
		Generator:         orchestrator,
		Answers:           answers,
		Popularity:        popularity,
		TTL:               cfg.AnswerCacheTTL,
		ConfidenceCeiling: cfg.ConfidenceCeiling,
		DegradedCap:       cfg.DegradedConfidenceCap,
		CacheMetrics:      m.cache,
		Logger:            slog.Default(),
	})

	batchRunner := service.NewBatchRunner(service.BatchRunnerParams{
		Labels:    st.Labels,
		Limiter:   rate.NewLimiter(rate.Limit(cfg.EmbeddingRateLimit), 1),
		BatchSize: cfg.BatchSize,
		Pause:     cfg.BatchPause,
		Metrics:   m.batch,
		Logger:    slog.Default(),
	})

	routes := apiRoutes{
		health:  handlers.NewHealthHandler(pingerOrNil(db)),
		search:  handlers.NewSearchHandler(retriever),
		qa:      handlers.NewQAHandler(answerService),
		content: handlers.NewContentHandler(st.Labels, orchestrator, st.Content),
	}

	batchParams := handlers.BatchHandlerParams{
		Runner:    batchRunner,
		Generator: orchestrator,
		Store:     st.Content,
	}

	var (
		riverClient *river.Client[pgx.Tx]
		scheduler   *worker.BackfillScheduler
	)

	if embeddingClient == nil {
		slog.Info("embeddings disabled (EMBEDDING_PROVIDER empty): semantic search falls back to keyword search")
	} else {
		generator := service.NewEmbeddingGenerator(service.EmbeddingGeneratorParams{
			Client:        embeddingClient,
			Store:         st.Vectors,
			ModelID:       backends.EmbeddingModelID(cfg),
			Dimensions:    cfg.EmbeddingDimensions,
			MaxInputChars: cfg.EmbeddingMaxInputChars,
			Metrics:       m.embeddings,
			Logger:        slog.Default(),
		})

		embedTask := service.EmbedTask{Generator: generator, Retry: backends.EmbedRetry(cfg)}
		routes.embeddings = handlers.NewEmbeddingsHandler(st.Labels, embedTask)
		batchParams.EmbedTask = embedTask

		backfill := func(ctx context.Context) (service.BackfillStats, error) {
			return service.EmbedMissing(ctx, st.Labels, st.Vectors, embedTask, batchRunner)
		}

		if db != nil {
			riverClient, err = newRiverClient(cfg, db, st.Labels, generator, m.embeddings)
			if err != nil {
				return nil, err
			}

			enqueuer := service.NewEmbeddingEnqueuer(riverClient, service.EmbeddingsQueueName,
				cfg.EmbeddingMaxAttempts, m.embeddings, slog.Default())
			batchParams.Enqueuer = enqueuer

			backfill = func(ctx context.Context) (service.BackfillStats, error) {
				return service.BackfillEmbeddings(ctx, st.Labels, st.Vectors, generator.ModelID(), enqueuer)
			}
		}

		if cfg.BackfillSchedule != "" {
			scheduler, err = worker.NewBackfillScheduler(cfg.BackfillSchedule, backfill, slog.Default())
			if err != nil {
				return nil, err
			}
		}
	}

	routes.batch = handlers.NewBatchHandler(batchParams)

	server := newHTTPServer(cfg, routes, m.http, promHandler, meterProvider, tracerProvider)

	return &App{
		cfg:            cfg,
		db:             db,
		redis:          redisClient,
		server:         server,
		river:          riverClient,
		backfill:       scheduler,
		meterProvider:  meterProvider,
		tracerProvider: tracerProvider,
		metrics:        metrics,
	}, nil
}

// pingerOrNil avoids a typed-nil Pinger when running without Postgres.
func pingerOrNil(db *pgxpool.Pool) handlers.Pinger {
	if db == nil {
		return nil
	}

	return db
}

func newRiverClient(
	cfg *config.Config,
	db *pgxpool.Pool,
	labels service.LabelReader,
	generator *service.EmbeddingGenerator,
	embeddingMetrics observability.EmbeddingMetrics,
) (*river.Client[pgx.Tx], error) {
	riverWorkers := river.NewWorkers()
	river.AddWorker(riverWorkers, workers.NewLabelEmbeddingWorker(labels, generator, embeddingMetrics))

	client, err := river.NewClient(riverpgxv5.New(db), &river.Config{
		Queues: map[string]river.QueueConfig{
			service.EmbeddingsQueueName: {MaxWorkers: cfg.EmbeddingMaxConcurrent},
		},
		Workers:      riverWorkers,
		ErrorHandler: &workers.ErrorHandler{Logger: slog.Default()},
	})
	if err != nil {
		return nil, fmt.Errorf("create River client: %w", err)
	}

	return client, nil
}

// apiRoutes are the handlers mounted by newHTTPServer. embeddings is nil when embeddings are
// disabled; its routes are not registered then.
type apiRoutes struct {
	health     *handlers.HealthHandler
	search     *handlers.SearchHandler
	qa         *handlers.QAHandler
	content    *handlers.ContentHandler
	embeddings *handlers.EmbeddingsHandler
	batch      *handlers.BatchHandler
}

// newHTTPServer builds the HTTP server and router (no auth on /health and /metrics, API key on /v1).
// Handler chain: RequestID -> otelhttp(Logging(router)) so access logs get trace_id/span_id from context.
func newHTTPServer(
	cfg *config.Config,
	routes apiRoutes,
	httpMetrics observability.HTTPMetrics,
	promHandler http.Handler,
	meterProvider *sdkmetric.MeterProvider,
	tracerProvider *sdktrace.TracerProvider,
) *http.Server {
	router := chi.NewRouter()
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.Metrics(httpMetrics))

	router.Get("/health", routes.health.Check)

	if promHandler != nil {
		router.Handle("/metrics", promHandler)
	}

	router.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.APIKey))
		r.Use(middleware.MaxBody(cfg.MaxRequestBodyBytes, httpMetrics))

		r.Post("/search/semantic", routes.search.SemanticSearch)

		r.Post("/qa", routes.qa.Ask)
		r.Get("/qa/popular", routes.qa.Popular)

		r.Post("/labels/{id}/content", routes.content.Generate)
		r.Get("/labels/{id}/content", routes.content.Get)
		r.Post("/content/batch", routes.batch.Content)

		if routes.embeddings != nil {
			r.Post("/labels/{id}/embeddings", routes.embeddings.Embed)
			r.Delete("/labels/{id}/embeddings", routes.embeddings.Delete)
			r.Post("/embeddings/batch", routes.batch.Embeddings)
		}
	})

	otelOpts := []otelhttp.Option{
		// Skip tracing and HTTP metrics for health checks to reduce noise.
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/health"
		}),
	}
	if meterProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithMeterProvider(meterProvider))
	}

	if tracerProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(tracerProvider))
	}

	inner := middleware.Logging(router)
	handler := otelhttp.NewHandler(inner, "labelhub-api", otelOpts...)
	handler = middleware.RequestID(handler)

	const (
		readTimeout  = 15 * time.Second
		writeTimeout = 2 * time.Minute
		idleTimeout  = 60 * time.Second
	)

	return &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
}

// Run starts the HTTP server, River and the backfill scheduler, then blocks until ctx is
// cancelled (e.g. signal) or a component fails. Either way it cancels the internal background
// context so River, the scheduler and the queue depth poller stop. Caller should then call Shutdown.
func (a *App) Run(ctx context.Context) error {
	runErr := make(chan error, 1)

	bgCtx, cancelBackground := context.WithCancel(ctx)
	defer cancelBackground()

	if a.river != nil {
		if a.metrics != nil && a.metrics.Embeddings != nil {
			go runRiverQueueDepthPoller(bgCtx, a.db, a.metrics.Embeddings)
		}

		go func() {
			if err := a.river.Start(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
				select {
				case runErr <- fmt.Errorf("river: %w", err):
				default:
				}
			}
		}()
	}

	if a.backfill != nil {
		go a.backfill.Start(bgCtx)
	}

	go func() {
		slog.Info("Starting server", "port", a.cfg.Port)

		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case runErr <- fmt.Errorf("server: %w", err):
			default:
			}
		}
	}()

	select {
	case err := <-runErr:
		cancelBackground()

		return err
	case <-ctx.Done():
		cancelBackground()

		return nil
	}
}

// runRiverQueueDepthPoller periodically updates the embeddings queue depth gauge.
func runRiverQueueDepthPoller(ctx context.Context, db *pgxpool.Pool, embeddingMetrics observability.EmbeddingMetrics) {
	ticker := time.NewTicker(riverQueueDepthInterval)
	defer ticker.Stop()

	update := func() {
		var count int

		err := db.QueryRow(ctx,
			`SELECT COUNT(*) FROM river_job WHERE queue = $1 AND state IN ($2, $3, $4)`,
			service.EmbeddingsQueueName,
			rivertype.JobStateAvailable, rivertype.JobStateRetryable, rivertype.JobStateScheduled,
		).Scan(&count)
		if err != nil {
			slog.WarnContext(ctx, "river queue depth poll failed", "error", err)

			return
		}

		embeddingMetrics.SetQueueDepth(count)
	}

	update()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update()
		}
	}
}

// shutdownObservability shuts down tracer and meter providers. Logs secondary errors, returns the first.
func shutdownObservability(ctx context.Context, tracer *sdktrace.TracerProvider, meter *sdkmetric.MeterProvider) error {
	var first error

	if tracer != nil {
		if err := observability.ShutdownTracerProvider(ctx, tracer); err != nil {
			first = err
		}
	}

	if meter != nil {
		if err := observability.ShutdownMeterProvider(ctx, meter); err != nil {
			if first == nil {
				first = err
			} else {
				slog.Error("shutdown meter provider", "error", err)
			}
		}
	}

	return first
}

// Shutdown stops the server, then River, then closes Redis. Call after Run returns.
// Observability is shut down once via defer; its error is returned only when everything else shut down cleanly.
func (a *App) Shutdown(ctx context.Context) (err error) {
	defer func() {
		obsErr := shutdownObservability(ctx, a.tracerProvider, a.meterProvider)
		if err == nil {
			err = obsErr
		} else if obsErr != nil {
			slog.Error("shutdown observability", "error", obsErr)
		}
	}()

	defer func() {
		if a.redis == nil {
			return
		}

		if closeErr := a.redis.Close(); closeErr != nil {
			slog.Error("close redis", "error", closeErr)
		}
	}()

	if err = a.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.stopRiver(ctx)

		return fmt.Errorf("server shutdown: %w", err)
	}

	if a.river != nil {
		if err = a.river.Stop(ctx); err != nil {
			return fmt.Errorf("river stop: %w", err)
		}
	}

	return nil
}

func (a *App) stopRiver(ctx context.Context) {
	if a.river == nil {
		return
	}

	if err := a.river.Stop(ctx); err != nil {
		slog.Error("river stop during server shutdown", "error", err)
	}
}
