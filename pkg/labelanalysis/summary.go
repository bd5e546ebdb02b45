package labelanalysis

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const (
	summaryRule        = 80
	summaryHTMLFields  = 5
	summaryTags        = 10
	summarySectionCode = 5
)

// Styles controls how WriteSummary renders headings.
type Styles struct {
	Title   lipgloss.Style
	Heading lipgloss.Style
}

// PlainStyles render headings unchanged, for files and pipes.
func PlainStyles() Styles {
	return Styles{Title: lipgloss.NewStyle(), Heading: lipgloss.NewStyle()}
}

// TerminalStyles are the styles used when writing to a terminal.
func TerminalStyles() Styles {
	return Styles{
		Title:   lipgloss.NewStyle().Bold(true),
		Heading: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")),
	}
}

// WriteSummary writes the human-readable summary: structure tree, key sections, HTML fields.
func WriteSummary(w io.Writer, r Report, styles Styles) error {
	var b strings.Builder

	rule := strings.Repeat("=", summaryRule)
	fmt.Fprintf(&b, "\n%s\n%s\n%s\n", rule, styles.Title.Render("DRUG LABEL JSON STRUCTURE ANALYSIS"), rule)
	fmt.Fprintf(&b, "\nLabels analyzed: %d\n", r.Labels)
	fmt.Fprintf(&b, "Total unique fields found: %d\n", r.TotalFields)

	fmt.Fprintf(&b, "\n%s\n", styles.Heading.Render("DATA STRUCTURE:"))
	writeTree(&b, r.DataStructure, 2)

	fmt.Fprintf(&b, "\n%s\n", styles.Heading.Render("KEY MEDICAL SECTIONS:"))

	for _, path := range r.KeySections {
		info := r.FieldAnalysis[path]

		kind := "Text"
		if info.IsHTML {
			kind = "HTML"
		}

		fmt.Fprintf(&b, "\n  • %s\n", path)
		fmt.Fprintf(&b, "    - Type: %s\n", kind)
		fmt.Fprintf(&b, "    - Max length: %s chars\n", groupThousands(info.MaxLength))

		if info.HasTables {
			b.WriteString("    - Contains tables: Yes\n")
		}

		if info.HasLists {
			b.WriteString("    - Contains lists: Yes\n")
		}
	}

	fmt.Fprintf(&b, "\n%s\n", styles.Heading.Render("HTML CONTENT ANALYSIS:"))

	for _, path := range head(r.HTMLFields, summaryHTMLFields) {
		info := r.FieldAnalysis[path]

		fmt.Fprintf(&b, "\n  • %s\n", path)
		fmt.Fprintf(&b, "    - HTML tags: %s\n", strings.Join(head(info.HTMLTags, summaryTags), ", "))

		if len(info.SectionCodes) > 0 {
			fmt.Fprintf(&b, "    - Section codes: %s\n", strings.Join(head(info.SectionCodes, summarySectionCode), ", "))
		}
	}

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}

	return nil
}

func writeTree(b *strings.Builder, level map[string]*TreeNode, indent int) {
	pad := strings.Repeat(" ", indent)

	for _, key := range sortedKeys(level) {
		node := level[key]

		if len(node.Children) == 0 {
			fmt.Fprintf(b, "%s├── %s (%s)\n", pad, key, node.Type)

			continue
		}

		fmt.Fprintf(b, "%s├── %s/\n", pad, key)
		writeTree(b, node.Children, indent+4)
	}
}

// groupThousands formats n with comma separators (12345 -> "12,345").
func groupThousands(n int) string {
	if n < 0 {
		return "-" + groupThousands(-n)
	}

	s := fmt.Sprint(n)

	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}

	return s
}
