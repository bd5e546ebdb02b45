package generation

import (
	"strings"
	"unicode/utf8"

	"github.com/rxlabels/labelhub/internal/models"
	"github.com/rxlabels/labelhub/pkg/labeltext"
)

// disclaimerSeparator goes between the body and the disclaimer block.
const disclaimerSeparator = "\n\n"

// Violations reported by Validate.
const (
	ViolationEmpty             = "text is empty after sanitizing"
	ViolationTitleEmpty        = "title is empty after trimming quotes"
	ViolationFAQNoPairs        = "faq has no question/answer pairs"
	ViolationFAQPairTooLong    = "first faq question does not fit max length"
	ViolationTooLong           = "text exceeds max length"
	ViolationDisclaimerMissing = "required disclaimer missing"
)

var titleQuotes = "\"'`“”‘’«»"

// Validate sanitizes raw provider (or template) output for req and runs the structural checks of
// its content type. req must already be normalized. The returned text strips HTML and Markdown,
// carries the required disclaimers at the end and never exceeds req.Constraints.MaxLength runes.
func Validate(raw string, req models.GenerationRequest) (string, models.Validation) {
	maxLen := req.Constraints.MaxLength
	text := labeltext.StripMarkup(raw)

	var (
		body       string
		violations []string
	)

	switch req.ContentType {
	case models.ContentTypeTitle:
		body = sanitizeTitle(text)
		if body == "" {
			violations = append(violations, ViolationTitleEmpty)
		}

		body = labeltext.Truncate(body, maxLen)
	case models.ContentTypeFAQ:
		budget := maxLen - disclaimerBlockLen(req.Constraints.RequiredDisclaimers)
		pairs := parseFAQ(removeDisclaimers(text, req.Constraints.RequiredDisclaimers))

		if len(pairs) == 0 {
			violations = append(violations, ViolationFAQNoPairs)

			break
		}

		var ok bool

		body, ok = renderFAQ(pairs, budget)
		if !ok {
			violations = append(violations, ViolationFAQPairTooLong)
		}
	default:
		budget := maxLen - disclaimerBlockLen(req.Constraints.RequiredDisclaimers)

		body = strings.TrimSpace(removeDisclaimers(text, req.Constraints.RequiredDisclaimers))
		if body == "" {
			violations = append(violations, ViolationEmpty)
		}

		body = labeltext.Truncate(body, budget)
	}

	if len(violations) > 0 {
		return "", models.Validation{Valid: false, Violations: violations}
	}

	out := body
	if len(req.Constraints.RequiredDisclaimers) > 0 && req.ContentType != models.ContentTypeTitle {
		out = body + disclaimerSeparator + strings.Join(req.Constraints.RequiredDisclaimers, "\n")
	}

	if utf8.RuneCountInString(out) > maxLen {
		violations = append(violations, ViolationTooLong)
	}

	for _, d := range req.Constraints.RequiredDisclaimers {
		if req.ContentType != models.ContentTypeTitle && !strings.Contains(out, d) {
			violations = append(violations, ViolationDisclaimerMissing)

			break
		}
	}

	if len(violations) > 0 {
		return "", models.Validation{Valid: false, Violations: violations}
	}

	return out, models.Validation{Valid: true}
}

// sanitizeTitle keeps the first non-empty line, drops a "Title:" label and surrounding quotes.
func sanitizeTitle(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if rest, ok := cutPrefixFold(line, "title:"); ok {
			line = rest
		}

		return strings.TrimSpace(strings.Trim(line, titleQuotes+" "))
	}

	return ""
}

func disclaimerBlockLen(disclaimers []string) int {
	if len(disclaimers) == 0 {
		return 0
	}

	return utf8.RuneCountInString(disclaimerSeparator + strings.Join(disclaimers, "\n"))
}

// removeDisclaimers drops copies of the disclaimers the model wrote itself; they are appended
// once after truncation.
func removeDisclaimers(text string, disclaimers []string) string {
	for _, d := range disclaimers {
		text = strings.ReplaceAll(text, d, "")
	}

	return text
}

func collapse(s string) string {
	return labeltext.CollapseWhitespace(s)
}

type faqPair struct {
	Question string
	Answer   string
}

// parseFAQ reads "Q:"/"A:" (or "Question:"/"Answer:") blocks. A line ending in "?" after a
// complete pair also starts a new pair, so unlabeled FAQs parse too.
func parseFAQ(text string) []faqPair {
	var (
		pairs   []faqPair
		current *faqPair
	)

	flush := func() {
		if current != nil && current.Question != "" && current.Answer != "" {
			pairs = append(pairs, *current)
		}

		current = nil
	}

	for _, line := range strings.Split(text, "\n") {
		line = trimListMarker(strings.TrimSpace(line))
		if line == "" {
			continue
		}

		if q, ok := cutPrefixFold(line, "q:", "question:"); ok {
			flush()

			current = &faqPair{Question: strings.TrimSpace(q)}

			continue
		}

		if a, ok := cutPrefixFold(line, "a:", "answer:"); ok {
			if current != nil {
				current.Answer = joinSentence(current.Answer, strings.TrimSpace(a))
			}

			continue
		}

		switch {
		case strings.HasSuffix(line, "?") && (current == nil || current.Answer != ""):
			flush()

			current = &faqPair{Question: line}
		case current == nil:
			// preamble before the first question
		case current.Answer == "" && !strings.HasSuffix(current.Question, "?"):
			current.Question = joinSentence(current.Question, line)
		default:
			current.Answer = joinSentence(current.Answer, line)
		}
	}

	flush()

	return pairs
}

// faqMarkupRunes is the length of "Q: " plus "\nA: ".
const faqMarkupRunes = 7

// renderFAQ writes pairs as "Q: ...\nA: ..." blocks, dropping whole trailing pairs that do not fit
// budget. When the first pair alone is too long its answer is truncated, and when even its
// question leaves no room for an answer both are shortened. ok is false only when budget cannot
// hold a one-rune question and answer.
func renderFAQ(pairs []faqPair, budget int) (string, bool) {
	var b strings.Builder

	for i, p := range pairs {
		block := "Q: " + p.Question + "\nA: " + p.Answer
		if i > 0 {
			block = "\n\n" + block
		}

		if utf8.RuneCountInString(b.String())+utf8.RuneCountInString(block) <= budget {
			b.WriteString(block)

			continue
		}

		if i > 0 {
			break
		}

		head := "Q: " + p.Question + "\nA: "

		room := budget - utf8.RuneCountInString(head)
		if room > utf8.RuneCountInString(labeltext.Ellipsis) {
			b.WriteString(head + labeltext.Truncate(p.Answer, room))

			break
		}

		text := budget - faqMarkupRunes
		question := labeltext.Truncate(p.Question, text/2)
		answer := labeltext.Truncate(p.Answer, text-utf8.RuneCountInString(question))

		if question == "" || answer == "" {
			return "", false
		}

		b.WriteString("Q: " + question + "\nA: " + answer)

		break
	}

	return b.String(), true
}

func trimListMarker(line string) string {
	line = strings.TrimPrefix(line, "- ")

	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}

	if i > 0 && i < len(line) && (line[i] == '.' || line[i] == ')') {
		return strings.TrimSpace(line[i+1:])
	}

	return line
}

func cutPrefixFold(s string, prefixes ...string) (string, bool) {
	lower := strings.ToLower(s)
	for _, p := range prefixes {
		if strings.HasPrefix(lower, p) {
			return s[len(p):], true
		}
	}

	return s, false
}

func joinSentence(a, b string) string {
	if a == "" {
		return b
	}

	return a + " " + b
}
