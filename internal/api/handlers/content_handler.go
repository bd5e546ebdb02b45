package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rxlabels/labelhub/internal/api/response"
	"github.com/rxlabels/labelhub/internal/api/validation"
	"github.com/rxlabels/labelhub/internal/models"
	"github.com/rxlabels/labelhub/internal/service"
)

// LabelGetter loads one label record.
type LabelGetter interface {
	GetByID(ctx context.Context, id string) (models.Label, error)
}

// ContentHandler handles per-label content generation and retrieval.
type ContentHandler struct {
	labels    LabelGetter
	generator service.ContentGenerator
	store     service.ContentStore
}

// NewContentHandler creates a new content handler. store may be nil, in which case generated
// content is returned but not persisted and Get always reports not found.
func NewContentHandler(labels LabelGetter, generator service.ContentGenerator, store service.ContentStore) *ContentHandler {
	return &ContentHandler{labels: labels, generator: generator, store: store}
}

// GenerateContentRequest is the body for POST /v1/labels/{id}/content.
type GenerateContentRequest struct {
	ContentType models.ContentType `json:"contentType" validate:"required,content_type"` //nolint:tagliatelle // API contract
	Audience    models.Audience    `json:"audience"    validate:"omitempty,audience"`
	MaxLength   int                `json:"maxLength"   validate:"gte=0,lte=20000"`             //nolint:tagliatelle // API contract
	Disclaimers []string           `json:"disclaimers" validate:"max=5,dive,required,max=500"` //nolint:tagliatelle // API contract
}

// GetContentParams are the query parameters for GET /v1/labels/{id}/content.
type GetContentParams struct {
	ContentType models.ContentType `form:"contentType" validate:"required,content_type"`
	Audience    models.Audience    `form:"audience"    validate:"omitempty,audience"`
}

// Generate handles POST /v1/labels/{id}/content.
func (h *ContentHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req GenerateContentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	label, err := h.labels.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, "get label", err)

		return
	}

	audience := req.Audience
	if audience == "" {
		audience = models.AudienceGeneral
	}

	res, err := h.generator.Generate(r.Context(), models.GenerationRequest{
		Entity:      label,
		ContentType: req.ContentType,
		Audience:    audience,
		Constraints: models.Constraints{MaxLength: req.MaxLength, RequiredDisclaimers: req.Disclaimers},
	})
	if err != nil {
		respondServiceError(w, r, "generate content", err)

		return
	}

	if h.store != nil {
		err := h.store.Upsert(r.Context(), models.GeneratedContent{
			EntityID:     label.ID,
			ContentType:  res.ContentType,
			Audience:     res.Audience,
			Text:         res.Text,
			ProviderUsed: res.ProviderUsed,
			GeneratedAt:  res.GeneratedAt,
		})
		if err != nil {
			respondServiceError(w, r, "store content", err)

			return
		}
	}

	response.RespondJSON(w, http.StatusOK, res)
}

// Get handles GET /v1/labels/{id}/content.
func (h *ContentHandler) Get(w http.ResponseWriter, r *http.Request) {
	var params GetContentParams
	if err := validation.ValidateAndDecodeQueryParams(r, &params); err != nil {
		validation.RespondValidationError(w, err)

		return
	}

	if h.store == nil {
		response.RespondNotFound(w, "generated content is not stored")

		return
	}

	audience := params.Audience
	if audience == "" {
		audience = models.AudienceGeneral
	}

	content, err := h.store.Get(r.Context(), chi.URLParam(r, "id"), params.ContentType, audience)
	if err != nil {
		respondServiceError(w, r, "get content", err)

		return
	}

	response.RespondJSON(w, http.StatusOK, content)
}
