package handlers

import (
	"context"
	"net/http"

	"github.com/rxlabels/labelhub/internal/api/response"
	"github.com/rxlabels/labelhub/internal/api/validation"
	"github.com/rxlabels/labelhub/internal/models"
)

// AnswerService answers free-text questions and reports the most asked ones.
type AnswerService interface {
	Answer(ctx context.Context, question string, audience models.Audience, limit int) (models.AnswerRecord, error)
	Popular(ctx context.Context, n int) ([]models.PopularQuestion, error)
}

// QAHandler handles question answering requests.
type QAHandler struct {
	service AnswerService
}

// NewQAHandler creates a new QA handler.
func NewQAHandler(service AnswerService) *QAHandler {
	return &QAHandler{service: service}
}

// AskRequest is the body for POST /v1/qa.
type AskRequest struct {
	Question string          `json:"question" validate:"required,max=1000,no_null_bytes"`
	Audience models.Audience `json:"audience" validate:"omitempty,audience"`
	Limit    int             `json:"limit"    validate:"gte=0,lte=20"`
}

// PopularParams are the query parameters for GET /v1/qa/popular.
type PopularParams struct {
	Limit int `form:"limit" validate:"gte=0,lte=100"`
}

// PopularResponse lists normalized questions by descending count.
type PopularResponse struct {
	Questions []models.PopularQuestion `json:"questions"`
}

// Ask handles POST /v1/qa.
func (h *QAHandler) Ask(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if !decodeBody(w, r, &req) {
		return
	}

	record, err := h.service.Answer(r.Context(), req.Question, req.Audience, req.Limit)
	if err != nil {
		respondServiceError(w, r, "answer", err)

		return
	}

	response.RespondJSON(w, http.StatusOK, record)
}

// Popular handles GET /v1/qa/popular.
func (h *QAHandler) Popular(w http.ResponseWriter, r *http.Request) {
	var params PopularParams
	if err := validation.ValidateAndDecodeQueryParams(r, &params); err != nil {
		validation.RespondValidationError(w, err)

		return
	}

	questions, err := h.service.Popular(r.Context(), params.Limit)
	if err != nil {
		respondServiceError(w, r, "popular questions", err)

		return
	}

	if questions == nil {
		questions = []models.PopularQuestion{}
	}

	response.RespondJSON(w, http.StatusOK, PopularResponse{Questions: questions})
}
