package models

import (
	"fmt"
	"time"
)

// ContentType is the kind of text the orchestrator produces.
type ContentType string

// Content types. ContentTypeAnswer is used by question answering.
const (
	ContentTypeTitle          ContentType = "title"
	ContentTypeSummary        ContentType = "summary"
	ContentTypeFAQ            ContentType = "faq"
	ContentTypeExplanation    ContentType = "explanation"
	ContentTypeRelatedContent ContentType = "related-content"
	ContentTypeAnswer         ContentType = "answer"
)

// AllContentTypes lists every content type.
func AllContentTypes() []ContentType {
	return []ContentType{
		ContentTypeTitle, ContentTypeSummary, ContentTypeFAQ,
		ContentTypeExplanation, ContentTypeRelatedContent, ContentTypeAnswer,
	}
}

// IsValid reports whether t is a known content type.
func (t ContentType) IsValid() bool {
	switch t {
	case ContentTypeTitle, ContentTypeSummary, ContentTypeFAQ,
		ContentTypeExplanation, ContentTypeRelatedContent, ContentTypeAnswer:
		return true
	default:
		return false
	}
}

// ParseContentType parses s into a ContentType.
func ParseContentType(s string) (ContentType, error) {
	t := ContentType(s)
	if !t.IsValid() {
		return "", fmt.Errorf("invalid content type %q", s)
	}

	return t, nil
}

// DefaultMaxLength is the length bound used when a request does not set one.
func (t ContentType) DefaultMaxLength() int {
	switch t {
	case ContentTypeTitle:
		return 60
	case ContentTypeSummary, ContentTypeRelatedContent:
		return 500
	case ContentTypeFAQ:
		return 2000
	case ContentTypeExplanation:
		return 1500
	case ContentTypeAnswer:
		return 1200
	default:
		return 500
	}
}

// Audience is who the generated text is written for.
type Audience string

// Audiences.
const (
	AudienceProvider Audience = "provider"
	AudiencePatient  Audience = "patient"
	AudienceGeneral  Audience = "general"
)

// IsValid reports whether a is a known audience.
func (a Audience) IsValid() bool {
	switch a {
	case AudienceProvider, AudiencePatient, AudienceGeneral:
		return true
	default:
		return false
	}
}

// ParseAudience parses s into an Audience. Empty means general.
func ParseAudience(s string) (Audience, error) {
	if s == "" {
		return AudienceGeneral, nil
	}

	a := Audience(s)
	if !a.IsValid() {
		return "", fmt.Errorf("invalid audience %q", s)
	}

	return a, nil
}

// PatientDisclaimer is required on all patient-facing text except titles.
const PatientDisclaimer = "This information does not replace the advice of your doctor or pharmacist."

// Constraints bound a generation request.
type Constraints struct {
	MaxLength           int      `json:"maxLength"`                     //nolint:tagliatelle // API contract
	RequiredDisclaimers []string `json:"requiredDisclaimers,omitempty"` //nolint:tagliatelle // API contract
}

// SourcePassage is retrieved context handed to an answer prompt.
type SourcePassage struct {
	EntityID  string
	Name      string
	Text      string
	Relevance float64
}

// GenerationRequest is the input to the orchestrator.
type GenerationRequest struct {
	Entity      Label
	ContentType ContentType
	Audience    Audience
	Constraints Constraints

	// Question and Sources are only used for ContentTypeAnswer.
	Question string
	Sources  []SourcePassage
}

// ProviderUsed marks whether text came from the completion provider or a template.
type ProviderUsed string

// Provider markers.
const (
	ProviderPrimary          ProviderUsed = "primary"
	ProviderFallbackTemplate ProviderUsed = "fallback-template"
)

// Validation is the outcome of output checks.
type Validation struct {
	Valid      bool     `json:"valid"`
	Violations []string `json:"violations,omitempty"`
}

// GenerationResult is the output of the orchestrator.
type GenerationResult struct {
	Text           string       `json:"text"`
	ContentType    ContentType  `json:"contentType"`  //nolint:tagliatelle // API contract
	Audience       Audience     `json:"audience"`
	ProviderUsed   ProviderUsed `json:"providerUsed"` //nolint:tagliatelle // API contract
	Provider       string       `json:"provider,omitempty"`
	Attempts       int          `json:"attempts"`
	Validation     Validation   `json:"validation"`
	FallbackReason string       `json:"fallbackReason,omitempty"` //nolint:tagliatelle // API contract
	GeneratedAt    time.Time    `json:"generatedAt"`              //nolint:tagliatelle // API contract

	// Transitions is the state trace of the request (PENDING ... COMPLETED).
	Transitions []string `json:"-"`
}

// CompletionRequest is sent to a completion provider.
type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	Temperature  float64
}

// CompletionResponse is returned by a completion provider.
type CompletionResponse struct {
	Text       string
	TokensUsed int
}

// GeneratedContent is persisted generation output for one label.
type GeneratedContent struct {
	EntityID     string       `json:"entityId"` //nolint:tagliatelle // API contract
	ContentType  ContentType  `json:"contentType"`
	Audience     Audience     `json:"audience"`
	Text         string       `json:"text"`
	ProviderUsed ProviderUsed `json:"providerUsed"`
	GeneratedAt  time.Time    `json:"generatedAt"`
}
