package labeltext

import (
	"strings"
	"unicode"
)

// stopwords are dropped from query terms and lexical embeddings. Besides common English words
// the list holds generic clinical filler ("treatment", "drug", "indicated") that appears in
// nearly every label and carries no signal for matching.
var stopwords = map[string]struct{}{
	"a": {}, "about": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"can": {}, "could": {}, "do": {}, "does": {}, "for": {}, "from": {}, "how": {}, "i": {},
	"if": {}, "in": {}, "is": {}, "it": {}, "its": {}, "me": {}, "my": {}, "of": {}, "on": {},
	"or": {}, "should": {}, "than": {}, "that": {}, "the": {}, "their": {}, "them": {}, "there": {},
	"these": {}, "this": {}, "to": {}, "was": {}, "what": {}, "when": {}, "which": {}, "who": {},
	"why": {}, "will": {}, "with": {}, "would": {}, "you": {}, "your": {},
	"drug": {}, "drugs": {}, "indicated": {}, "indication": {}, "medication": {}, "medications": {},
	"medicine": {}, "medicines": {}, "treat": {}, "treated": {}, "treating": {}, "treatment": {},
	"treatments": {}, "use": {}, "used": {}, "uses": {}, "using": {},
}

// Tokens lowercases s and splits it into letter/digit runs, dropping stopwords and single characters.
// Order is preserved; duplicates are kept.
func Tokens(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	out := fields[:0]

	for _, f := range fields {
		if len([]rune(f)) < 2 {
			continue
		}

		if _, stop := stopwords[f]; stop {
			continue
		}

		out = append(out, f)
	}

	return out
}

// Terms returns the distinct tokens of s in first-seen order. Used for keyword search.
func Terms(s string) []string {
	tokens := Tokens(s)
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))

	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}

		seen[t] = struct{}{}
		out = append(out, t)
	}

	return out
}

// Excerpt returns up to maxRunes of text centred on the first occurrence of any term
// (case-insensitive). Without a match it returns the start of text.
func Excerpt(text string, terms []string, maxRunes int) string {
	text = CollapseWhitespace(text)

	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}

	lower := []rune(strings.ToLower(text))
	start := 0

	for _, term := range terms {
		if idx := indexRunes(lower, []rune(term)); idx >= 0 {
			start = max(0, idx-maxRunes/4)

			break
		}
	}

	end := min(len(runes), start+maxRunes)

	return strings.TrimSpace(string(runes[start:end]))
}

func indexRunes(haystack, needle []rune) int {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return -1
	}

	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true

		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false

				break
			}
		}

		if match {
			return i
		}
	}

	return -1
}
