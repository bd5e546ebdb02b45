package models

import (
	"strings"
	"time"
)

// Label is a drug label as read from the record store. Every text field is optional;
// the repository trims values when it builds a Label so an empty string always means "absent".
// Section fields may contain HTML.
type Label struct {
	ID                string    `json:"id"`
	DrugName          string    `json:"drugName,omitempty"`          //nolint:tagliatelle // API contract
	GenericName       string    `json:"genericName,omitempty"`       //nolint:tagliatelle // API contract
	Manufacturer      string    `json:"manufacturer,omitempty"`
	Indications       string    `json:"indications,omitempty"`
	Dosage            string    `json:"dosage,omitempty"`
	Contraindications string    `json:"contraindications,omitempty"`
	Warnings          string    `json:"warnings,omitempty"`
	AdverseReactions  string    `json:"adverseReactions,omitempty"` //nolint:tagliatelle // API contract
	Description       string    `json:"description,omitempty"`
	UpdatedAt         time.Time `json:"updatedAt,omitzero"` //nolint:tagliatelle // API contract
}

// LabelSection is one named body section of a label.
type LabelSection struct {
	Key   string
	Title string
	Text  string
}

// Section keys, in label order.
const (
	SectionIndications       = "indications"
	SectionDosage            = "dosage"
	SectionContraindications = "contraindications"
	SectionWarnings          = "warnings"
	SectionAdverseReactions  = "adverse_reactions"
	SectionDescription       = "description"
)

// Normalize trims every field in place.
func (l *Label) Normalize() {
	l.ID = strings.TrimSpace(l.ID)
	l.DrugName = strings.TrimSpace(l.DrugName)
	l.GenericName = strings.TrimSpace(l.GenericName)
	l.Manufacturer = strings.TrimSpace(l.Manufacturer)
	l.Indications = strings.TrimSpace(l.Indications)
	l.Dosage = strings.TrimSpace(l.Dosage)
	l.Contraindications = strings.TrimSpace(l.Contraindications)
	l.Warnings = strings.TrimSpace(l.Warnings)
	l.AdverseReactions = strings.TrimSpace(l.AdverseReactions)
	l.Description = strings.TrimSpace(l.Description)
}

// DisplayName returns the drug name, falling back to the generic name.
func (l Label) DisplayName() string {
	if l.DrugName != "" {
		return l.DrugName
	}

	return l.GenericName
}

// HasGenericAlias reports whether the generic name adds information to the display name.
func (l Label) HasGenericAlias() bool {
	return l.DrugName != "" && l.GenericName != "" && !strings.EqualFold(l.DrugName, l.GenericName)
}

// Sections returns the present body sections in fixed label order:
// indications, dosage, contraindications, warnings, adverse reactions, description.
func (l Label) Sections() []LabelSection {
	all := []LabelSection{
		{Key: SectionIndications, Title: "Indications and Usage", Text: l.Indications},
		{Key: SectionDosage, Title: "Dosage and Administration", Text: l.Dosage},
		{Key: SectionContraindications, Title: "Contraindications", Text: l.Contraindications},
		{Key: SectionWarnings, Title: "Warnings and Precautions", Text: l.Warnings},
		{Key: SectionAdverseReactions, Title: "Adverse Reactions", Text: l.AdverseReactions},
		{Key: SectionDescription, Title: "Description", Text: l.Description},
	}

	present := all[:0]
	for _, s := range all {
		if s.Text != "" {
			present = append(present, s)
		}
	}

	return present
}

// HasUsableFields reports whether the label carries anything a template can be built from.
func (l Label) HasUsableFields() bool {
	return l.DisplayName() != ""
}
