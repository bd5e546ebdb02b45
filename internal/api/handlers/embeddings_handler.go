package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rxlabels/labelhub/internal/api/response"
	"github.com/rxlabels/labelhub/internal/models"
	"github.com/rxlabels/labelhub/internal/service"
)

// LabelEmbedder (re)embeds or removes the embeddings of one label.
type LabelEmbedder interface {
	EmbedLabel(ctx context.Context, label models.Label) service.EmbedLabelResult
	DeleteLabel(ctx context.Context, entityID string) error
}

// EmbeddingsHandler handles per-label embedding requests.
type EmbeddingsHandler struct {
	labels   LabelGetter
	embedder LabelEmbedder
}

// NewEmbeddingsHandler creates a new embeddings handler.
func NewEmbeddingsHandler(labels LabelGetter, embedder LabelEmbedder) *EmbeddingsHandler {
	return &EmbeddingsHandler{labels: labels, embedder: embedder}
}

// EmbedLabelResponse reports which categories were stored for a label.
type EmbedLabelResponse struct {
	EntityID string                   `json:"entityId"` //nolint:tagliatelle // API contract
	Status   string                   `json:"status"`
	Stored   []models.ContentCategory `json:"stored"`
	Skipped  []models.ContentCategory `json:"skipped,omitempty"`
	Errors   []service.CategoryError  `json:"errors,omitempty"`
}

// Embed handles POST /v1/labels/{id}/embeddings. Partial results are 200 with status "partial";
// a label where every category failed maps the first error.
func (h *EmbeddingsHandler) Embed(w http.ResponseWriter, r *http.Request) {
	label, err := h.labels.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, "get label", err)

		return
	}

	res := h.embedder.EmbedLabel(r.Context(), label)

	status := res.Status()
	if status == "failed" {
		respondServiceError(w, r, "embed label", res.Err())

		return
	}

	stored := res.Stored
	if stored == nil {
		stored = []models.ContentCategory{}
	}

	response.RespondJSON(w, http.StatusOK, EmbedLabelResponse{
		EntityID: label.ID,
		Status:   status,
		Stored:   stored,
		Skipped:  res.Skipped,
		Errors:   res.Errors,
	})
}

// Delete handles DELETE /v1/labels/{id}/embeddings. Deleting a label without embeddings is not an error.
func (h *EmbeddingsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.embedder.DeleteLabel(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondServiceError(w, r, "delete embeddings", err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}
