package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rxlabels/labelhub/internal/huberrors"
	"github.com/rxlabels/labelhub/internal/models"
	"github.com/rxlabels/labelhub/pkg/labeltext"
)

// ErrNoUsableFields is returned when a label has nothing a template can be built from
// (no drug or generic name). It is terminal: the API reports it as 422.
var ErrNoUsableFields = errors.New("label has no usable fields for content generation")

// ErrNoProvider is wrapped by TemplateProvider errors.
var ErrNoProvider = errors.New("no completion provider configured")

// TemplateProviderName is the Name of TemplateProvider.
const TemplateProviderName = "template"

const (
	fallbackExcerptLen       = 300
	fallbackAnswerExcerptLen = 220
	titleSuffix              = " - Prescribing Information"
)

// TemplateProvider is the completion provider for offline runs. Every call fails as an
// unreachable provider, so the orchestrator goes straight to the template without retrying.
type TemplateProvider struct{}

// Name implements CompletionProvider.
func (TemplateProvider) Name() string { return TemplateProviderName }

// Complete implements CompletionProvider.
func (TemplateProvider) Complete(context.Context, models.CompletionRequest) (models.CompletionResponse, error) {
	return models.CompletionResponse{}, &huberrors.ProviderError{
		Kind:        huberrors.ProviderUnavailable,
		Provider:    TemplateProviderName,
		Unreachable: true,
		Err:         ErrNoProvider,
	}
}

// Fallback builds deterministic content for req from label fields (or answer sources) only and
// validates it. req must be normalized.
func Fallback(req models.GenerationRequest) (string, models.Validation, error) {
	if req.ContentType != models.ContentTypeAnswer && !req.Entity.HasUsableFields() {
		return "", models.Validation{}, ErrNoUsableFields
	}

	raw := fallbackText(req)

	text, validation := Validate(raw, req)
	if !validation.Valid {
		return "", validation, fmt.Errorf("fallback %s for %q: %w: %s",
			req.ContentType, req.Entity.ID, ErrNoUsableFields, strings.Join(validation.Violations, "; "))
	}

	return text, validation, nil
}

func fallbackText(req models.GenerationRequest) string {
	label := req.Entity

	switch req.ContentType {
	case models.ContentTypeTitle:
		return FallbackTitle(label)
	case models.ContentTypeSummary:
		return fallbackSummary(label)
	case models.ContentTypeFAQ:
		return fallbackFAQ(label)
	case models.ContentTypeExplanation:
		return fallbackExplanation(label)
	case models.ContentTypeRelatedContent:
		return fallbackRelated(label)
	case models.ContentTypeAnswer:
		return fallbackAnswer(req.Sources)
	default:
		return fullName(label)
	}
}

// FallbackTitle returns "<Drug> (<generic>) - Prescribing Information". The generic part is
// omitted when absent or equal to the drug name.
func FallbackTitle(label models.Label) string {
	return fullName(label) + titleSuffix
}

func fullName(label models.Label) string {
	name := collapse(label.DisplayName())
	if label.HasGenericAlias() {
		name += " (" + collapse(label.GenericName) + ")"
	}

	return name
}

// sentence cleans and truncates label text and makes sure it ends with terminal punctuation.
func sentence(html string, n int) string {
	s := labeltext.Truncate(labeltext.Clean(html), n)
	if s == "" || strings.HasSuffix(s, ".") || strings.HasSuffix(s, "?") || strings.HasSuffix(s, "!") {
		return s
	}

	return s + "."
}

func fallbackSummary(label models.Label) string {
	var b strings.Builder

	b.WriteString(fullName(label))
	b.WriteString(" is a prescription medicine")

	if label.Manufacturer != "" {
		b.WriteString(" from ")
		b.WriteString(collapse(label.Manufacturer))
	}

	b.WriteString(".")

	if label.Indications != "" {
		b.WriteString(" Indications: ")
		b.WriteString(sentence(label.Indications, fallbackExcerptLen))
	} else {
		b.WriteString(" See the full prescribing information for indications, dosage and safety information.")
	}

	return b.String()
}

func fallbackFAQ(label models.Label) string {
	name := collapse(label.DisplayName())
	entries := []struct {
		question string
		field    string
	}{
		{"What is " + name + " used for?", label.Indications},
		{"How is " + name + " taken?", label.Dosage},
		{"Who should not take " + name + "?", label.Contraindications},
		{"What are the possible side effects of " + name + "?", label.AdverseReactions},
	}

	var blocks []string

	for _, e := range entries {
		if e.field == "" {
			continue
		}

		blocks = append(blocks, "Q: "+e.question+"\nA: "+sentence(e.field, fallbackExcerptLen))
	}

	if len(blocks) == 0 {
		blocks = append(blocks, "Q: Where can I find information about "+name+"?\n"+
			"A: Refer to the full prescribing information and ask a doctor or pharmacist.")
	}

	return strings.Join(blocks, "\n\n")
}

func fallbackExplanation(label models.Label) string {
	parts := []string{fullName(label) + "."}

	for _, s := range label.Sections() {
		parts = append(parts, s.Title+": "+sentence(s.Text, fallbackExcerptLen))
	}

	if len(parts) == 1 {
		parts = append(parts, "No further label sections are available.")
	}

	return strings.Join(parts, "\n\n")
}

func fallbackRelated(label models.Label) string {
	sections := label.Sections()
	titles := make([]string, 0, len(sections))

	for _, s := range sections {
		titles = append(titles, s.Title)
	}

	text := "Related information for " + fullName(label) + ": prescribing information"
	if len(titles) > 0 {
		text += " (" + strings.Join(titles, ", ") + ")"
	}

	if label.HasGenericAlias() {
		text += "; other products containing " + collapse(label.GenericName)
	}

	return text + "."
}

func fallbackAnswer(sources []models.SourcePassage) string {
	if len(sources) == 0 {
		return "No label information matched this question. Please consult the prescribing information " +
			"or a healthcare professional."
	}

	lines := []string{"Based on the available label information:"}

	for _, s := range sources {
		name := s.Name
		if name == "" {
			name = s.EntityID
		}

		text := sentence(s.Text, fallbackAnswerExcerptLen)
		if text == "" {
			continue
		}

		lines = append(lines, "- "+collapse(name)+": "+text)
	}

	if len(lines) == 1 {
		lines = append(lines, "- The matching labels have no indication text.")
	}

	return strings.Join(lines, "\n")
}
