package handlers

import (
	"context"
	"net/http"

	"github.com/rxlabels/labelhub/internal/api/response"
	"github.com/rxlabels/labelhub/internal/models"
	"github.com/rxlabels/labelhub/internal/service"
)

// SearchService defines the interface for semantic search over label embeddings.
type SearchService interface {
	Search(ctx context.Context, query string, opts service.SearchOptions) (service.SearchResult, error)
}

// SearchHandler handles HTTP requests for semantic search.
type SearchHandler struct {
	service SearchService
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(service SearchService) *SearchHandler {
	return &SearchHandler{service: service}
}

// SemanticSearchRequest is the body for POST /v1/search/semantic.
type SemanticSearchRequest struct {
	Query           string   `json:"query"           validate:"required,max=2000,no_null_bytes"`
	ContentCategory string   `json:"contentCategory" validate:"omitempty,content_category"` //nolint:tagliatelle // API contract
	Limit           int      `json:"limit"           validate:"gte=0,lte=100"`
	Threshold       *float64 `json:"threshold"       validate:"omitempty,gte=0,lte=1"`
}

// SemanticSearchResponse is the response for semantic search.
type SemanticSearchResponse struct {
	Mode           string                     `json:"mode"`
	FallbackReason string                     `json:"fallbackReason,omitempty"` //nolint:tagliatelle // API contract
	Threshold      float64                    `json:"threshold"`
	Results        []SemanticSearchResultItem `json:"results"`
}

// SemanticSearchResultItem is one matching label passage.
type SemanticSearchResultItem struct {
	EntityID        string                 `json:"entityId"`        //nolint:tagliatelle // API contract
	ContentCategory models.ContentCategory `json:"contentCategory"` //nolint:tagliatelle // API contract
	Similarity      float64                `json:"similarity"`
	Source          models.HitSource       `json:"source"`
	MatchedText     string                 `json:"matchedText"` //nolint:tagliatelle // API contract
}

const defaultSearchLimit = 10

// SemanticSearch handles POST /v1/search/semantic.
func (h *SearchHandler) SemanticSearch(w http.ResponseWriter, r *http.Request) {
	var req SemanticSearchRequest
	if !decodeBody(w, r, &req) {
		return
	}

	limit := req.Limit
	if limit == 0 {
		limit = defaultSearchLimit
	}

	res, err := h.service.Search(r.Context(), req.Query, service.SearchOptions{
		Category:  models.ContentCategory(req.ContentCategory),
		Limit:     limit,
		Threshold: req.Threshold,
		UseCase:   service.UseCaseBrowse,
	})
	if err != nil {
		respondServiceError(w, r, "search", err)

		return
	}

	response.RespondJSON(w, http.StatusOK, SemanticSearchResponse{
		Mode:           res.Mode,
		FallbackReason: res.FallbackReason,
		Threshold:      res.Threshold,
		Results:        toResultItems(res.Hits),
	})
}

func toResultItems(hits []models.RetrievalHit) []SemanticSearchResultItem {
	items := make([]SemanticSearchResultItem, len(hits))
	for i, hit := range hits {
		items[i] = SemanticSearchResultItem{
			EntityID:        hit.EntityID,
			ContentCategory: hit.ContentCategory,
			Similarity:      hit.Similarity,
			Source:          hit.Source,
			MatchedText:     hit.MatchedText,
		}
	}

	return items
}
