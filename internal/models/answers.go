package models

import "time"

// SupportingEntity is one label cited by an answer.
type SupportingEntity struct {
	EntityID       string    `json:"entityId"` //nolint:tagliatelle // API contract
	Name           string    `json:"name,omitempty"`
	RelevanceScore float64   `json:"relevanceScore"` //nolint:tagliatelle // API contract
	Source         HitSource `json:"source"`
}

// AnswerRecord is a synthesized answer and its cache entry.
type AnswerRecord struct {
	QuestionKey        string             `json:"questionKey"` //nolint:tagliatelle // API contract
	Question           string             `json:"question"`
	Audience           Audience           `json:"audience"`
	AnswerText         string             `json:"answer"`
	SupportingEntities []SupportingEntity `json:"supportingEntities"` //nolint:tagliatelle // API contract
	Confidence         float64            `json:"confidence"`
	ProviderUsed       ProviderUsed       `json:"providerUsed"` //nolint:tagliatelle // API contract
	Degraded           bool               `json:"degraded"`
	Cached             bool               `json:"cached"`
	GeneratedAt        time.Time          `json:"generatedAt"` //nolint:tagliatelle // API contract
	ExpiresAt          time.Time          `json:"expiresAt"`   //nolint:tagliatelle // API contract
}

// PopularQuestion is one entry of the popularity tracker.
type PopularQuestion struct {
	Question string `json:"question"`
	Count    int64  `json:"count"`
}
