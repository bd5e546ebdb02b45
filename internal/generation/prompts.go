package generation

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rxlabels/labelhub/internal/models"
	"github.com/rxlabels/labelhub/pkg/labeltext"
)

//go:embed prompts.yaml
var defaultPromptsYAML []byte

// maxPromptFieldRunes bounds each label section rendered into a user prompt.
const maxPromptFieldRunes = 4000

// ContentPrompt holds the prompt parts of one content type.
type ContentPrompt struct {
	System      string `yaml:"system"`
	Instruction string `yaml:"instruction"`
}

// PromptSet is the system and user prompt material per content type and audience.
type PromptSet struct {
	Base                  string                   `yaml:"base"`
	Audiences             map[string]string        `yaml:"audiences"`
	ContentTypes          map[string]ContentPrompt `yaml:"content_types"`          //nolint:tagliatelle // file format
	DisclaimerInstruction string                   `yaml:"disclaimer_instruction"` //nolint:tagliatelle // file format
	MissingFields         string                   `yaml:"missing_fields"`         //nolint:tagliatelle // file format
}

// DefaultPrompts returns the embedded prompt set.
func DefaultPrompts() *PromptSet {
	var p PromptSet
	if err := yaml.Unmarshal(defaultPromptsYAML, &p); err != nil {
		panic(fmt.Sprintf("embedded prompts.yaml: %v", err))
	}

	return &p
}

// LoadPrompts returns the embedded prompt set overlaid with the YAML file at path.
// An empty path returns the defaults.
func LoadPrompts(path string) (*PromptSet, error) {
	p := DefaultPrompts()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // operator-provided PROMPTS_FILE
	if err != nil {
		return nil, fmt.Errorf("read prompts file: %w", err)
	}

	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse prompts file %s: %w", path, err)
	}

	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("prompts file %s: %w", path, err)
	}

	return p, nil
}

func (p *PromptSet) validate() error {
	if strings.TrimSpace(p.Base) == "" {
		return fmt.Errorf("base prompt is empty")
	}

	for _, a := range []models.Audience{models.AudienceProvider, models.AudiencePatient, models.AudienceGeneral} {
		if strings.TrimSpace(p.Audiences[string(a)]) == "" {
			return fmt.Errorf("audience %q has no prompt", a)
		}
	}

	for _, ct := range models.AllContentTypes() {
		if strings.TrimSpace(p.ContentTypes[string(ct)].System) == "" {
			return fmt.Errorf("content type %q has no system prompt", ct)
		}
	}

	return nil
}

// SystemPrompt is fixed per (content type, audience) plus the required disclaimers.
func (p *PromptSet) SystemPrompt(req models.GenerationRequest) string {
	parts := []string{
		strings.TrimSpace(p.Base),
		strings.TrimSpace(p.ContentTypes[string(req.ContentType)].System),
		strings.TrimSpace(p.Audiences[string(req.Audience)]),
	}

	if p.DisclaimerInstruction != "" {
		for _, d := range req.Constraints.RequiredDisclaimers {
			parts = append(parts, strings.ReplaceAll(p.DisclaimerInstruction, "{{disclaimer}}", d))
		}
	}

	return strings.Join(nonEmpty(parts), "\n\n")
}

// UserPrompt lists the fields present on the label (sections as Markdown so tables and lists
// keep their shape) or, for answers, the question and numbered sources; then the instruction.
func (p *PromptSet) UserPrompt(req models.GenerationRequest) string {
	var b strings.Builder

	if req.ContentType == models.ContentTypeAnswer {
		writeAnswerContext(&b, req)
	} else {
		writeLabelFields(&b, req.Entity)

		if p.MissingFields != "" {
			b.WriteString("\n")
			b.WriteString(strings.TrimSpace(p.MissingFields))
			b.WriteString("\n")
		}
	}

	instruction := p.ContentTypes[string(req.ContentType)].Instruction
	instruction = strings.ReplaceAll(instruction, "{{max_length}}", strconv.Itoa(req.Constraints.MaxLength))

	if instruction != "" {
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(instruction))
	}

	return strings.TrimSpace(b.String())
}

func writeLabelFields(b *strings.Builder, label models.Label) {
	header := []struct{ name, value string }{
		{"Drug name", label.DrugName},
		{"Generic name", label.GenericName},
		{"Manufacturer", label.Manufacturer},
	}

	for _, h := range header {
		if h.value != "" {
			fmt.Fprintf(b, "%s: %s\n", h.name, collapse(h.value))
		}
	}

	for _, s := range label.Sections() {
		fmt.Fprintf(b, "\n## %s\n%s\n", s.Title, labeltext.Truncate(labeltext.ToMarkdown(s.Text), maxPromptFieldRunes))
	}
}

func writeAnswerContext(b *strings.Builder, req models.GenerationRequest) {
	fmt.Fprintf(b, "Question: %s\n\n", collapse(req.Question))

	if len(req.Sources) == 0 {
		b.WriteString("Sources: none matched.\n")

		return
	}

	b.WriteString("Sources:\n")

	for i, s := range req.Sources {
		name := s.Name
		if name == "" {
			name = s.EntityID
		}

		fmt.Fprintf(b, "[%d] %s: %s\n", i+1, collapse(name), labeltext.Truncate(labeltext.Clean(s.Text), maxPromptFieldRunes))
	}
}

func nonEmpty(parts []string) []string {
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}

	return out
}
