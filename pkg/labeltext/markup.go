package labeltext

import (
	"regexp"
	"strings"
)

var (
	codeFencePattern   = regexp.MustCompile("(?m)^\\s*```[a-zA-Z0-9_-]*\\s*$")
	headingPattern     = regexp.MustCompile(`(?m)^\s{0,3}#{1,6}\s+`)
	blockquotePattern  = regexp.MustCompile(`(?m)^\s{0,3}>\s?`)
	bulletPattern      = regexp.MustCompile(`(?m)^(\s*)[-*+]\s+`)
	rulePattern        = regexp.MustCompile(`(?m)^\s*(?:-{3,}|\*{3,}|_{3,})\s*$`)
	imagePattern       = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	linkPattern        = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	boldPattern        = regexp.MustCompile(`(\*\*|__)(.+?)(\*\*|__)`)
	italicStarPattern  = regexp.MustCompile(`\*([^*\n]+)\*`)
	italicUnderPattern = regexp.MustCompile(`\b_([^_\n]+)_\b`)
	inlineCodePattern  = regexp.MustCompile("`([^`]*)`")
	tableRulePattern   = regexp.MustCompile(`(?m)^\s*\|?\s*:?-{3,}:?\s*(\|\s*:?-{3,}:?\s*)*\|?\s*$`)
	blankLinesPattern  = regexp.MustCompile(`\n{3,}`)
)

// StripMarkup removes HTML tags and Markdown syntax from model output while keeping line
// structure, so "Q:"/"A:" lines and paragraphs survive. Bullets become plain "- " items.
func StripMarkup(s string) string {
	if IsHTML(s) {
		s = htmlTagPattern.ReplaceAllString(s, "")
	}

	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = codeFencePattern.ReplaceAllString(s, "")
	s = rulePattern.ReplaceAllString(s, "")
	s = tableRulePattern.ReplaceAllString(s, "")
	s = headingPattern.ReplaceAllString(s, "")
	s = blockquotePattern.ReplaceAllString(s, "")
	s = bulletPattern.ReplaceAllString(s, "$1- ")
	s = imagePattern.ReplaceAllString(s, "$1")
	s = linkPattern.ReplaceAllString(s, "$1")
	s = boldPattern.ReplaceAllString(s, "$2")
	s = italicStarPattern.ReplaceAllString(s, "$1")
	s = italicUnderPattern.ReplaceAllString(s, "$1")
	s = inlineCodePattern.ReplaceAllString(s, "$1")
	s = entityPattern.ReplaceAllStringFunc(s, decodeCommonEntity)

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}

	s = strings.Join(lines, "\n")
	s = blankLinesPattern.ReplaceAllString(s, "\n\n")

	return strings.TrimSpace(s)
}

func decodeCommonEntity(entity string) string {
	switch entity {
	case "&amp;":
		return "&"
	case "&lt;":
		return "<"
	case "&gt;":
		return ">"
	case "&quot;":
		return `"`
	case "&#39;", "&apos;":
		return "'"
	default:
		return " "
	}
}
