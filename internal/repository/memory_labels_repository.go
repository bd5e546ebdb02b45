package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rxlabels/labelhub/internal/huberrors"
	"github.com/rxlabels/labelhub/internal/models"
)

// ErrUnrecognizedLabelFile is returned when a labels file is neither native nor openFDA JSON.
var ErrUnrecognizedLabelFile = errors.New("unrecognized labels file format")

// MemoryLabelsRepository holds labels in memory. It backs LABELS_SOURCE=file and tests.
type MemoryLabelsRepository struct {
	mu     sync.RWMutex
	labels map[string]models.Label
}

// NewMemoryLabelsRepository creates a repository seeded with labels.
func NewMemoryLabelsRepository(labels ...models.Label) *MemoryLabelsRepository {
	r := &MemoryLabelsRepository{labels: make(map[string]models.Label, len(labels))}
	for _, l := range labels {
		_ = r.Upsert(context.Background(), l)
	}

	return r
}

// NewFileLabelsRepository loads labels from a JSON file (see ParseLabels).
func NewFileLabelsRepository(path string) (*MemoryLabelsRepository, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("read labels file: %w", err)
	}

	labels, err := ParseLabels(data)
	if err != nil {
		return nil, fmt.Errorf("parse labels file %s: %w", path, err)
	}

	return NewMemoryLabelsRepository(labels...), nil
}

// GetByID returns one label or huberrors.ErrNotFound.
func (r *MemoryLabelsRepository) GetByID(_ context.Context, id string) (models.Label, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := r.labels[id]
	if !ok {
		return models.Label{}, huberrors.NewNotFoundError("label", "label not found: "+id)
	}

	return l, nil
}

// GetByIDs returns existing labels in the order of ids.
func (r *MemoryLabelsRepository) GetByIDs(_ context.Context, ids []string) ([]models.Label, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byID := make(map[string]models.Label, len(ids))

	for _, id := range ids {
		if l, ok := r.labels[id]; ok {
			byID[id] = l
		}
	}

	return orderLabels(ids, byID), nil
}

// KeywordSearch matches terms against the cleaned name and body text.
func (r *MemoryLabelsRepository) KeywordSearch(ctx context.Context, terms []string, limit int) ([]models.Label, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}

	if len(terms) == 0 || limit <= 0 {
		return []models.Label{}, nil
	}

	r.mu.RLock()
	all := make([]models.Label, 0, len(r.labels))

	for _, l := range r.labels {
		all = append(all, l)
	}
	r.mu.RUnlock()

	return rankByTerms(all, terms, limit), nil
}

// ListIDs pages through ids in ascending order, starting after afterID.
func (r *MemoryLabelsRepository) ListIDs(_ context.Context, afterID string, limit int) ([]string, error) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.labels))

	for id := range r.labels {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	r.mu.RUnlock()

	slices.Sort(ids)

	if limit >= 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	return ids, nil
}

// Upsert stores a normalized copy of label.
func (r *MemoryLabelsRepository) Upsert(_ context.Context, label models.Label) error {
	label.Normalize()
	if label.ID == "" {
		return huberrors.NewValidationError("id", "label id is required")
	}

	if label.UpdatedAt.IsZero() {
		label.UpdatedAt = time.Now()
	}

	r.mu.Lock()
	r.labels[label.ID] = label
	r.mu.Unlock()

	return nil
}

// openFDALabel is one entry of an openFDA drug label export. Every section is a list of paragraphs.
type openFDALabel struct {
	ID                      string   `json:"id"`
	SetID                   string   `json:"set_id"` //nolint:tagliatelle // openFDA field names
	EffectiveTime           string   `json:"effective_time"`
	IndicationsAndUsage     []string `json:"indications_and_usage"`
	DosageAndAdministration []string `json:"dosage_and_administration"`
	Contraindications       []string `json:"contraindications"`
	WarningsAndCautions     []string `json:"warnings_and_cautions"`
	Warnings                []string `json:"warnings"`
	AdverseReactions        []string `json:"adverse_reactions"`
	Description             []string `json:"description"`
	OpenFDA                 struct {
		BrandName        []string `json:"brand_name"`
		GenericName      []string `json:"generic_name"`
		ManufacturerName []string `json:"manufacturer_name"`
	} `json:"openfda"`
}

func (o openFDALabel) toLabel() models.Label {
	id := o.SetID
	if id == "" {
		id = o.ID
	}

	warnings := o.WarningsAndCautions
	if len(warnings) == 0 {
		warnings = o.Warnings
	}

	l := models.Label{
		ID:                id,
		DrugName:          first(o.OpenFDA.BrandName),
		GenericName:       titleCase(first(o.OpenFDA.GenericName)),
		Manufacturer:      first(o.OpenFDA.ManufacturerName),
		Indications:       strings.Join(o.IndicationsAndUsage, "\n"),
		Dosage:            strings.Join(o.DosageAndAdministration, "\n"),
		Contraindications: strings.Join(o.Contraindications, "\n"),
		Warnings:          strings.Join(warnings, "\n"),
		AdverseReactions:  strings.Join(o.AdverseReactions, "\n"),
		Description:       strings.Join(o.Description, "\n"),
	}

	if t, err := time.Parse("20060102", o.EffectiveTime); err == nil {
		l.UpdatedAt = t
	}

	l.Normalize()

	return l
}

func first(s []string) string {
	if len(s) == 0 {
		return ""
	}

	return s[0]
}

// titleCase lowercases an all-caps openFDA generic name ("IXEKIZUMAB" -> "ixekizumab").
func titleCase(s string) string {
	if s == strings.ToUpper(s) {
		return strings.ToLower(s)
	}

	return s
}

// ParseLabels decodes labels from JSON. Accepted shapes: a native label object, an array of
// native labels, or an openFDA response ({"results": [...]}) / single openFDA label.
// Labels without an id are dropped.
func ParseLabels(data []byte) ([]models.Label, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, ErrUnrecognizedLabelFile
	}

	if data[0] == '[' {
		var raws []json.RawMessage
		if err := json.Unmarshal(data, &raws); err != nil {
			return nil, fmt.Errorf("decode label array: %w", err)
		}

		out := make([]models.Label, 0, len(raws))

		for _, raw := range raws {
			l, err := parseLabelObject(raw)
			if err != nil {
				return nil, err
			}

			if l.ID != "" {
				out = append(out, l)
			}
		}

		return out, nil
	}

	var envelope struct {
		Results []json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode labels: %w", err)
	}

	if len(envelope.Results) > 0 {
		return ParseOpenFDALabels(envelope.Results)
	}

	l, err := parseLabelObject(data)
	if err != nil {
		return nil, err
	}

	if l.ID == "" {
		return nil, ErrUnrecognizedLabelFile
	}

	return []models.Label{l}, nil
}

// ParseOpenFDALabels converts openFDA drug label results. Results without a set id or id are
// dropped.
func ParseOpenFDALabels(results []json.RawMessage) ([]models.Label, error) {
	out := make([]models.Label, 0, len(results))

	for i, raw := range results {
		var o openFDALabel
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("decode openFDA label %d: %w", i, err)
		}

		if l := o.toLabel(); l.ID != "" {
			out = append(out, l)
		}
	}

	return out, nil
}

func parseLabelObject(raw json.RawMessage) (models.Label, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return models.Label{}, fmt.Errorf("decode label: %w", err)
	}

	if _, ok := fields["openfda"]; ok {
		var o openFDALabel
		if err := json.Unmarshal(raw, &o); err != nil {
			return models.Label{}, fmt.Errorf("decode openFDA label: %w", err)
		}

		return o.toLabel(), nil
	}

	var l models.Label
	if err := json.Unmarshal(raw, &l); err != nil {
		return models.Label{}, fmt.Errorf("decode label: %w", err)
	}

	l.Normalize()

	return l, nil
}
