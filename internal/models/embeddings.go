package models

import (
	"fmt"
	"time"
)

// ContentCategory tags which slice of a label's text an embedding represents.
type ContentCategory string

// Content categories.
const (
	CategorySummary     ContentCategory = "summary"
	CategoryIndications ContentCategory = "indications"
	CategoryFullText    ContentCategory = "full_text"
)

// AllContentCategories returns the categories in the order they are embedded.
func AllContentCategories() []ContentCategory {
	return []ContentCategory{CategorySummary, CategoryIndications, CategoryFullText}
}

// IsValid reports whether c is a known category.
func (c ContentCategory) IsValid() bool {
	switch c {
	case CategorySummary, CategoryIndications, CategoryFullText:
		return true
	default:
		return false
	}
}

// ParseContentCategory parses s into a ContentCategory.
func ParseContentCategory(s string) (ContentCategory, error) {
	c := ContentCategory(s)
	if !c.IsValid() {
		return "", fmt.Errorf("invalid content category %q", s)
	}

	return c, nil
}

// EmbeddingRecord is one stored vector: one per (entity, content category).
type EmbeddingRecord struct {
	EntityID        string          `json:"entity_id"`
	ContentCategory ContentCategory `json:"content_category"`
	SourceText      string          `json:"source_text"` // cleaned text that was embedded
	Vector          []float32       `json:"vector"`
	ModelID         string          `json:"model_id"`
	Dimensions      int             `json:"dimensions"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// HitSource says which retrieval path produced a hit.
type HitSource string

// Hit sources. Keyword hits come from the degraded fallback path and carry a fixed relevance.
const (
	HitSourceSemantic HitSource = "semantic"
	HitSourceKeyword  HitSource = "keyword"
)

// RetrievalHit is one search result. Similarity is in [0,1].
type RetrievalHit struct {
	EntityID        string          `json:"entity_id"`
	ContentCategory ContentCategory `json:"content_category"`
	Similarity      float64         `json:"similarity"`
	MatchedText     string          `json:"matched_text"`
	Source          HitSource       `json:"source"`
}
