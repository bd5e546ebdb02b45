package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/rxlabels/labelhub/internal/api/response"
	"github.com/rxlabels/labelhub/internal/models"
	"github.com/rxlabels/labelhub/internal/service"
)

// BatchRunner runs a task over many labels in paced chunks.
type BatchRunner interface {
	Run(ctx context.Context, ids []string, task service.BatchTask, opts service.BatchOptions) (service.BatchReport, error)
}

// EmbeddingEnqueuer enqueues background embedding jobs.
type EmbeddingEnqueuer interface {
	Enqueue(ctx context.Context, ids []string) (int, error)
}

// BatchHandler handles batch embedding and content generation.
type BatchHandler struct {
	runner    BatchRunner
	embedTask service.BatchTask
	enqueuer  EmbeddingEnqueuer
	generator service.ContentGenerator
	store     service.ContentStore
}

// BatchHandlerParams holds the dependencies of BatchHandler. Enqueuer is nil when background
// jobs are disabled (no Postgres); async requests are then rejected.
type BatchHandlerParams struct {
	Runner    BatchRunner
	EmbedTask service.BatchTask
	Enqueuer  EmbeddingEnqueuer
	Generator service.ContentGenerator
	Store     service.ContentStore
}

// NewBatchHandler creates a new batch handler.
func NewBatchHandler(p BatchHandlerParams) *BatchHandler {
	return &BatchHandler{
		runner:    p.Runner,
		embedTask: p.EmbedTask,
		enqueuer:  p.Enqueuer,
		generator: p.Generator,
		store:     p.Store,
	}
}

// BatchEmbeddingsRequest is the body for POST /v1/embeddings/batch.
type BatchEmbeddingsRequest struct {
	EntityIDs []string `json:"entityIds" validate:"required,min=1,max=1000,dive,required,max=200"` //nolint:tagliatelle // API contract
	BatchSize int      `json:"batchSize" validate:"gte=0,lte=10"`                                  //nolint:tagliatelle // API contract
	PauseMs   int      `json:"pauseMs"   validate:"gte=-1,lte=60000"`                              //nolint:tagliatelle // API contract
	Async     bool     `json:"async"`
}

// BatchEnqueuedResponse is returned for async batch embedding.
type BatchEnqueuedResponse struct {
	Requested int `json:"requested"`
	Enqueued  int `json:"enqueued"`
}

// BatchContentRequest is the body for POST /v1/content/batch.
type BatchContentRequest struct {
	EntityIDs   []string           `json:"entityIds"   validate:"required,min=1,max=1000,dive,required,max=200"` //nolint:tagliatelle // API contract
	ContentType models.ContentType `json:"contentType" validate:"required,content_type"`                          //nolint:tagliatelle // API contract
	Audience    models.Audience    `json:"audience"    validate:"omitempty,audience"`
	MaxLength   int                `json:"maxLength"   validate:"gte=0,lte=20000"`             //nolint:tagliatelle // API contract
	Disclaimers []string           `json:"disclaimers" validate:"max=5,dive,required,max=500"` //nolint:tagliatelle // API contract
	BatchSize   int                `json:"batchSize"   validate:"gte=0,lte=10"`                //nolint:tagliatelle // API contract
	PauseMs     int                `json:"pauseMs"     validate:"gte=-1,lte=60000"`            //nolint:tagliatelle // API contract
}

// batchWriteTimeout replaces the server write timeout for synchronous batches.
const batchWriteTimeout = 30 * time.Minute

// Embeddings handles POST /v1/embeddings/batch. With async the ids are enqueued as River jobs
// and 202 is returned; otherwise the batch runs inline and the report is returned.
func (h *BatchHandler) Embeddings(w http.ResponseWriter, r *http.Request) {
	var req BatchEmbeddingsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if req.Async {
		if h.enqueuer == nil {
			response.RespondServiceUnavailable(w, "background embedding jobs are not enabled")

			return
		}

		n, err := h.enqueuer.Enqueue(r.Context(), req.EntityIDs)
		if err != nil {
			respondServiceError(w, r, "enqueue embeddings", err)

			return
		}

		response.RespondJSON(w, http.StatusAccepted, BatchEnqueuedResponse{Requested: len(req.EntityIDs), Enqueued: n})

		return
	}

	h.run(w, r, req.EntityIDs, h.embedTask, batchOptions(req.BatchSize, req.PauseMs))
}

// Content handles POST /v1/content/batch.
func (h *BatchHandler) Content(w http.ResponseWriter, r *http.Request) {
	var req BatchContentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	audience := req.Audience
	if audience == "" {
		audience = models.AudienceGeneral
	}

	task := service.GenerateTask{
		Generator:   h.generator,
		Store:       h.store,
		ContentType: req.ContentType,
		Audience:    audience,
		Constraints: models.Constraints{MaxLength: req.MaxLength, RequiredDisclaimers: req.Disclaimers},
	}

	h.run(w, r, req.EntityIDs, task, batchOptions(req.BatchSize, req.PauseMs))
}

func (h *BatchHandler) run(w http.ResponseWriter, r *http.Request, ids []string, task service.BatchTask, opts service.BatchOptions) {
	if err := http.NewResponseController(w).SetWriteDeadline(time.Now().Add(batchWriteTimeout)); err != nil {
		slog.DebugContext(r.Context(), "batch: cannot extend write deadline", "error", err)
	}

	report, err := h.runner.Run(r.Context(), ids, task, opts)
	if err != nil {
		respondServiceError(w, r, "batch "+task.Name(), err)

		return
	}

	response.RespondJSON(w, http.StatusOK, report)
}

// batchOptions converts request fields; pauseMs 0 keeps the runner default and -1 disables pausing.
func batchOptions(batchSize, pauseMs int) service.BatchOptions {
	return service.BatchOptions{
		BatchSize: batchSize,
		Pause:     time.Duration(pauseMs) * time.Millisecond,
	}
}
