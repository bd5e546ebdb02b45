package labelanalysis

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const taltzLabels = `[
  {
    "id": "taltz-1",
    "version": 3,
    "active": true,
    "openfda": {"brand_name": ["Taltz"], "generic_name": ["ixekizumab"]},
    "indications_and_usage": "<div data-sectioncode=\"34067-9\"><p>Taltz is indicated for <b>plaque psoriasis</b>.</p><ul><li>adults</li></ul></div>",
    "adverse_reactions_table": "<table><tr><td>Injection site reactions</td><td>17%</td></tr></table>",
    "packages": [{"ndc": "0002-1445-11", "size": 1}, {"ndc": "0002-1445-27"}],
    "description": "Ixekizumab is a humanized IgG4 monoclonal antibody.",
    "discontinued": null
  },
  {
    "id": "taltz-2",
    "description": "A second description that is considerably longer than the first one, to move the maximum length and exceed one hundred characters.",
    "warnings": "Infections"
  },
  "not a label"
]`

func analyze(t *testing.T, input string) Report {
	t.Helper()

	a := New()
	_, err := a.Analyze(strings.NewReader(input))
	require.NoError(t, err)

	return a.Report()
}

func TestAnalyze_FieldPaths(t *testing.T) {
	a := New()

	n, err := a.Analyze(strings.NewReader(taltzLabels))
	require.NoError(t, err)
	assert.Equal(t, 2, n, "non-object array elements are skipped")

	r := a.Report()

	assert.Equal(t, []string{
		"id", "version", "active",
		"openfda.brand_name", "openfda.generic_name",
		"indications_and_usage", "adverse_reactions_table",
		"packages", "packages[0].ndc", "packages[0].size",
		"description", "discontinued", "warnings",
	}, r.Fields)
	assert.Equal(t, len(r.Fields), r.TotalFields)
	assert.Equal(t, 2, r.Labels)

	assert.Equal(t, 2, r.FieldAnalysis["id"].Occurrences)
	assert.Equal(t, []string{"taltz-1", "taltz-2"}, r.FieldAnalysis["id"].Samples)
	assert.Equal(t, []string{"3"}, r.FieldAnalysis["version"].Samples)
	assert.Equal(t, []string{"true"}, r.FieldAnalysis["active"].Samples)
	assert.Equal(t, []string{"null"}, r.FieldAnalysis["discontinued"].Samples)
	assert.Equal(t, []string{"[Array with 2 items]"}, r.FieldAnalysis["packages"].Samples)
	assert.Equal(t, []string{"[Array with 1 items]"}, r.FieldAnalysis["openfda.brand_name"].Samples)
}

func TestAnalyze_TextSamples(t *testing.T) {
	r := analyze(t, taltzLabels)

	desc := r.FieldAnalysis["description"]
	require.Len(t, desc.Samples, 2)
	assert.Equal(t, "Ixekizumab is a humanized IgG4 monoclonal antibody.", desc.Samples[0])
	assert.True(t, strings.HasSuffix(desc.Samples[1], "..."))
	assert.Len(t, []rune(desc.Samples[1]), 103)
	assert.Equal(t, 130, desc.MaxLength)
	assert.False(t, desc.IsHTML)
}

func TestAnalyze_HTML(t *testing.T) {
	r := analyze(t, taltzLabels)

	ind := r.FieldAnalysis["indications_and_usage"]
	assert.True(t, ind.IsHTML)
	assert.Equal(t, []string{"div", "p", "b", "ul", "li"}, ind.HTMLTags)
	assert.True(t, ind.HasLists)
	assert.False(t, ind.HasTables)
	assert.Equal(t, []string{"34067-9"}, ind.SectionCodes)
	require.Len(t, ind.Samples, 1)
	assert.True(t, strings.HasPrefix(ind.Samples[0], "[HTML] Taltz is indicated for"))
	assert.True(t, strings.HasSuffix(ind.Samples[0], "..."))

	table := r.FieldAnalysis["adverse_reactions_table"]
	assert.True(t, table.HasTables)
	assert.Contains(t, table.HTMLTags, "td")

	assert.Equal(t, []string{"indications_and_usage", "adverse_reactions_table"}, r.HTMLFields)
}

func TestReport_KeySectionsAndTree(t *testing.T) {
	r := analyze(t, taltzLabels)

	assert.Equal(t, []string{"indications_and_usage", "adverse_reactions_table", "warnings"}, r.KeySections)

	openfda := r.DataStructure["openfda"]
	require.NotNil(t, openfda)
	assert.Equal(t, "text", openfda.Children["brand_name"].Type)

	assert.Equal(t, "html", r.DataStructure["indications_and_usage"].Type)
	assert.Equal(t, 1, r.DataStructure["packages[0]"].Children["ndc"].Occurrences)
	assert.Equal(t, "text", r.DataStructure["packages"].Type)
}

func TestAnalyze_SingleObjectAndErrors(t *testing.T) {
	a := New()

	n, err := a.Analyze(strings.NewReader(`{"id": "x", "warnings": "Do not freeze."}`))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = New().Analyze(strings.NewReader(`"just a string"`))
	require.ErrorIs(t, err, ErrNotLabelJSON)

	_, err = New().Analyze(strings.NewReader(`{"id": `))
	require.Error(t, err)
}

func TestAnalyzeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.json")
	require.NoError(t, os.WriteFile(path, []byte(taltzLabels), 0o600))

	a := New()
	n, err := a.AnalyzeFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = a.AnalyzeFile(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestWriteCSV(t *testing.T) {
	r := analyze(t, taltzLabels)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, r))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, len(r.Fields)+1)

	assert.Equal(t, []string{"field_path", "is_html", "max_length", "has_tables", "has_lists", "html_tags", "sample"}, rows[0])

	var ind []string

	for _, row := range rows[1:] {
		if row[0] == "indications_and_usage" {
			ind = row
		}
	}

	require.NotNil(t, ind)
	assert.Equal(t, "true", ind[1])
	assert.Equal(t, "true", ind[4])
	assert.Equal(t, "div, p, b, ul, li", ind[5])
}

func TestWriteJSON(t *testing.T) {
	r := analyze(t, taltzLabels)

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, r))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))

	assert.EqualValues(t, r.TotalFields, decoded["total_fields"])
	assert.Contains(t, decoded, "field_analysis")
	assert.Contains(t, decoded, "data_structure")
}

func TestWriteSummary(t *testing.T) {
	r := analyze(t, taltzLabels)

	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, r, PlainStyles()))

	out := buf.String()
	assert.Contains(t, out, "Total unique fields found: 13")
	assert.Contains(t, out, "├── openfda/")
	assert.Contains(t, out, "      ├── brand_name (text)")
	assert.Contains(t, out, "  • adverse_reactions_table\n    - Type: HTML")
	assert.Contains(t, out, "    - Contains tables: Yes")
	assert.Contains(t, out, "    - Section codes: 34067-9")
}

func TestGroupThousands(t *testing.T) {
	assert.Equal(t, "0", groupThousands(0))
	assert.Equal(t, "999", groupThousands(999))
	assert.Equal(t, "1,000", groupThousands(1000))
	assert.Equal(t, "12,345,678", groupThousands(12345678))
	assert.Equal(t, "-1,500", groupThousands(-1500))
}
