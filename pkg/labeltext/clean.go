// Package labeltext normalizes drug-label text: HTML stripping, entity removal, whitespace
// collapsing, markdown rendering for prompts, truncation and query term extraction.
package labeltext

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

// Ellipsis is appended when Truncate cuts text.
const Ellipsis = "..."

var (
	htmlTagPattern = regexp.MustCompile(`<[^>]+>`)
	// leftover entities, including double-escaped ones like "&amp;nbsp;"
	entityPattern = regexp.MustCompile(`&(?:[a-zA-Z][a-zA-Z0-9]{1,31}|#[0-9]{1,7}|#[xX][0-9a-fA-F]{1,6});`)
)

// IsHTML reports whether s contains at least one tag.
func IsHTML(s string) bool {
	return htmlTagPattern.MatchString(s)
}

// Clean strips HTML, decodes and removes entities and collapses all whitespace to single spaces.
// Block-level elements are separated by a space so adjacent cells and paragraphs do not run together.
func Clean(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}

	text := s
	if IsHTML(s) {
		text = htmlText(s)
	} else {
		text = html.UnescapeString(text)
	}

	text = entityPattern.ReplaceAllString(text, " ")

	return CollapseWhitespace(text)
}

// CollapseWhitespace replaces every run of unicode whitespace with one space and trims the ends.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func htmlText(s string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return htmlTagPattern.ReplaceAllString(html.UnescapeString(s), " ")
	}

	doc.Find("script, style").Remove()
	doc.Find("p, div, li, td, th, tr, br, h1, h2, h3, h4, h5, h6, section").Each(func(_ int, sel *goquery.Selection) {
		sel.AppendHtml(" ")
	})

	return doc.Text()
}

// ToMarkdown renders label HTML as Markdown so tables and lists keep their structure in prompts.
// Plain text is returned collapsed. Blank lines are dropped.
func ToMarkdown(s string) string {
	if !IsHTML(s) {
		return CollapseWhitespace(html.UnescapeString(s))
	}

	converter := md.NewConverter("", true, nil)

	markdown, err := converter.ConvertString(s)
	if err != nil {
		return Clean(s)
	}

	lines := strings.Split(markdown, "\n")
	out := make([]string, 0, len(lines))

	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			out = append(out, trimmed)
		}
	}

	return strings.Join(out, "\n")
}

// Truncate limits s to maxRunes runes. When s is cut, the cut happens at the last word
// boundary that leaves room for Ellipsis, and Ellipsis is appended. The result never exceeds maxRunes.
func Truncate(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}

	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}

	ellipsisLen := utf8.RuneCountInString(Ellipsis)
	if maxRunes <= ellipsisLen {
		return string([]rune(s)[:maxRunes])
	}

	runes := []rune(s)
	cut := string(runes[:maxRunes-ellipsisLen])

	if i := strings.LastIndexAny(cut, " \n\t"); i > len(cut)/2 {
		cut = cut[:i]
	}

	return strings.TrimRight(cut, " \n\t,;:") + Ellipsis
}

// TruncateHard limits s to maxRunes runes without adding anything.
func TruncateHard(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}

	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}

	return string([]rune(s)[:maxRunes])
}
