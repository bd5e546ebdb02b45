package labelanalysis

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// keySectionTerms mark field paths that hold clinically important label sections.
var keySectionTerms = []string{"indication", "dosage", "warning", "adverse", "clinical"}

// FieldInfo is the analysis of one dotted field path.
type FieldInfo struct {
	Occurrences  int      `json:"occurrences"`
	MaxLength    int      `json:"max_length"`
	Samples      []string `json:"samples"`
	IsHTML       bool     `json:"is_html"`
	HTMLTags     []string `json:"html_tags"`
	HasTables    bool     `json:"has_tables"`
	HasLists     bool     `json:"has_lists"`
	SectionCodes []string `json:"section_codes"`
}

// TreeNode is one segment of the field path tree. Leaves carry Type ("html" or "text") and
// Occurrences; branches carry Children.
type TreeNode struct {
	Type        string               `json:"type,omitempty"`
	Occurrences int                  `json:"occurrences,omitempty"`
	Children    map[string]*TreeNode `json:"children,omitempty"`
}

// Report is the outcome of an analysis. Fields lists the paths in first-seen order.
type Report struct {
	Labels        int                  `json:"labels"`
	TotalFields   int                  `json:"total_fields"`
	Fields        []string             `json:"fields"`
	FieldAnalysis map[string]FieldInfo `json:"field_analysis"`
	HTMLFields    []string             `json:"html_fields"`
	KeySections   []string             `json:"key_sections"`
	DataStructure map[string]*TreeNode `json:"data_structure"`
}

// Report builds the report of everything analyzed so far.
func (a *Analyzer) Report() Report {
	r := Report{
		Labels:        a.labels,
		TotalFields:   len(a.order),
		Fields:        append([]string{}, a.order...),
		FieldAnalysis: make(map[string]FieldInfo, len(a.order)),
		HTMLFields:    []string{},
		KeySections:   []string{},
		DataStructure: make(map[string]*TreeNode),
	}

	for _, path := range a.order {
		stats := a.fields[path]
		info := FieldInfo{
			Occurrences:  stats.count,
			MaxLength:    stats.maxLength,
			Samples:      append([]string{}, stats.samples...),
			IsHTML:       len(stats.htmlTags.items) > 0,
			HTMLTags:     stats.htmlTags.list(),
			HasTables:    stats.hasTables,
			HasLists:     stats.hasLists,
			SectionCodes: stats.sectionCodes.list(),
		}
		r.FieldAnalysis[path] = info

		if info.IsHTML {
			r.HTMLFields = append(r.HTMLFields, path)
		}

		if isKeySection(path) {
			r.KeySections = append(r.KeySections, path)
		}

		r.addToTree(path, info)
	}

	return r
}

func isKeySection(path string) bool {
	lower := strings.ToLower(path)
	for _, term := range keySectionTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}

	return false
}

func (r *Report) addToTree(path string, info FieldInfo) {
	parts := strings.Split(path, ".")
	level := r.DataStructure

	for _, part := range parts[:len(parts)-1] {
		node, ok := level[part]
		if !ok {
			node = &TreeNode{}
			level[part] = node
		}

		if node.Children == nil {
			node.Children = make(map[string]*TreeNode)
		}

		level = node.Children
	}

	leaf := parts[len(parts)-1]

	node, ok := level[leaf]
	if !ok {
		node = &TreeNode{}
		level[leaf] = node
	}

	node.Type = "text"
	if info.IsHTML {
		node.Type = "html"
	}

	node.Occurrences = info.Occurrences
}

// WriteJSON writes the full report as indented JSON.
func WriteJSON(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	return nil
}

var csvHeader = []string{"field_path", "is_html", "max_length", "has_tables", "has_lists", "html_tags", "sample"}

const csvMaxTags = 10

// WriteCSV writes one row per field path: the field summary spreadsheet.
func WriteCSV(w io.Writer, r Report) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, path := range r.Fields {
		info := r.FieldAnalysis[path]

		sample := ""
		if len(info.Samples) > 0 {
			sample = info.Samples[0]
		}

		row := []string{
			path,
			strconv.FormatBool(info.IsHTML),
			strconv.Itoa(info.MaxLength),
			strconv.FormatBool(info.HasTables),
			strconv.FormatBool(info.HasLists),
			strings.Join(head(info.HTMLTags, csvMaxTags), ", "),
			sample,
		}

		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row %s: %w", path, err)
		}
	}

	cw.Flush()

	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}

	return nil
}

func head(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}

	return s
}

func sortedKeys(m map[string]*TreeNode) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
