// Package labelanalysis surveys drug label JSON: which field paths occur, how long they get,
// which of them carry HTML and what that HTML contains (tags, tables, lists, section codes).
package labelanalysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/rxlabels/labelhub/pkg/labeltext"
)

const (
	maxSamples        = 3
	textSampleLen     = 100
	htmlSampleLen     = 200
	htmlSamplePrefix  = "[HTML] "
	sampleEllipsis    = "..."
	sectionCodeAttr   = "data-sectioncode"
	arrayFirstElement = "[0]."
)

// ErrNotLabelJSON is returned when the input is neither an object nor an array.
var ErrNotLabelJSON = errors.New("label JSON must be an object or an array of objects")

var htmlTag = regexp.MustCompile(`<[^>]+>`)

type fieldStats struct {
	count        int
	maxLength    int
	samples      []string
	htmlTags     orderedSet
	hasTables    bool
	hasLists     bool
	sectionCodes orderedSet
}

// Analyzer accumulates field statistics over any number of labels. Field order is the order
// in which paths were first seen. Not safe for concurrent use.
type Analyzer struct {
	fields map[string]*fieldStats
	order  []string
	labels int
}

// New creates an empty Analyzer.
func New() *Analyzer {
	return &Analyzer{fields: make(map[string]*fieldStats)}
}

// Labels returns how many label objects were analyzed.
func (a *Analyzer) Labels() int {
	return a.labels
}

// AnalyzeFile analyzes a JSON file holding one label object or an array of them.
func (a *Analyzer) AnalyzeFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	return a.Analyze(f)
}

// Analyze reads one label object or an array of them and returns how many labels it saw.
// Array elements that are not objects are skipped.
func (a *Analyzer) Analyze(r io.Reader) (int, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return 0, fmt.Errorf("read label JSON: %w", err)
	}

	delim, ok := tok.(json.Delim)
	if !ok {
		return 0, ErrNotLabelJSON
	}

	seen := 0

	switch delim {
	case '{':
		if err := a.walkObject(dec, ""); err != nil {
			return 0, err
		}

		seen = 1
	case '[':
		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return seen, fmt.Errorf("read label %d: %w", seen, err)
			}

			if d, ok := tok.(json.Delim); ok && d == '{' {
				if err := a.walkObject(dec, ""); err != nil {
					return seen, err
				}

				seen++

				continue
			}

			if err := skipRest(dec, tok); err != nil {
				return seen, err
			}
		}
	default:
		return 0, ErrNotLabelJSON
	}

	a.labels += seen

	return seen, nil
}

// walkObject is called after the opening brace; it consumes the closing one.
func (a *Analyzer) walkObject(dec *json.Decoder, prefix string) error {
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("read field name: %w", err)
		}

		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v", tok)
		}

		if err := a.walkValue(dec, prefix+key); err != nil {
			return err
		}
	}

	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("read object end: %w", err)
	}

	return nil
}

func (a *Analyzer) walkValue(dec *json.Decoder, path string) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	switch v := tok.(type) {
	case json.Delim:
		if v == '{' {
			return a.walkObject(dec, path+".")
		}

		return a.walkArray(dec, path)
	case string:
		a.recordString(path, v)
	case nil:
		a.recordScalar(path, "null")
	default:
		a.recordScalar(path, fmt.Sprint(v))
	}

	return nil
}

// walkArray records the array and descends into its first element when that is an object.
func (a *Analyzer) walkArray(dec *json.Decoder, path string) error {
	stats := a.field(path)
	stats.count++

	n := 0

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("read %s[%d]: %w", path, n, err)
		}

		if d, ok := tok.(json.Delim); ok && d == '{' && n == 0 {
			if err := a.walkObject(dec, path+arrayFirstElement); err != nil {
				return err
			}
		} else if err := skipRest(dec, tok); err != nil {
			return err
		}

		n++
	}

	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("read %s end: %w", path, err)
	}

	if len(stats.samples) < maxSamples {
		stats.samples = append(stats.samples, fmt.Sprintf("[Array with %d items]", n))
	}

	return nil
}

// skipRest consumes the remainder of a value whose first token was tok.
func skipRest(dec *json.Decoder, tok json.Token) error {
	d, ok := tok.(json.Delim)
	if !ok || (d != '{' && d != '[') {
		return nil
	}

	for depth := 1; depth > 0; {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("skip value: %w", err)
		}

		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '{', '[':
				depth++
			default:
				depth--
			}
		}
	}

	return nil
}

func (a *Analyzer) field(path string) *fieldStats {
	stats, ok := a.fields[path]
	if !ok {
		stats = &fieldStats{}
		a.fields[path] = stats
		a.order = append(a.order, path)
	}

	return stats
}

func (a *Analyzer) recordScalar(path, value string) {
	stats := a.field(path)
	stats.count++

	if len(stats.samples) < maxSamples {
		stats.samples = append(stats.samples, value)
	}
}

func (a *Analyzer) recordString(path, value string) {
	stats := a.field(path)
	stats.count++
	stats.maxLength = max(stats.maxLength, utf8.RuneCountInString(value))

	if htmlTag.MatchString(value) {
		stats.inspectHTML(value)

		return
	}

	if len(stats.samples) < maxSamples {
		stats.samples = append(stats.samples, truncateSample(value, textSampleLen))
	}
}

// inspectHTML records the tags, tables, lists and section codes of an HTML fragment. The
// first HTML value of a field also becomes its only sample.
func (s *fieldStats) inspectHTML(fragment string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return
	}

	body := doc.Find("body")

	if len(s.samples) == 0 {
		text := labeltext.CollapseWhitespace(body.Text())
		s.samples = append(s.samples, htmlSamplePrefix+firstRunes(text, htmlSampleLen)+sampleEllipsis)
	}

	body.Find("*").Each(func(_ int, sel *goquery.Selection) {
		s.htmlTags.add(goquery.NodeName(sel))
	})

	if body.Find("table").Length() > 0 {
		s.hasTables = true
	}

	if body.Find("ul, ol").Length() > 0 {
		s.hasLists = true
	}

	body.Find("[" + sectionCodeAttr + "]").Each(func(_ int, sel *goquery.Selection) {
		if code, ok := sel.Attr(sectionCodeAttr); ok {
			s.sectionCodes.add(code)
		}
	})
}

func truncateSample(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}

	return firstRunes(s, n) + sampleEllipsis
}

func firstRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}

	return s
}

// orderedSet keeps first-seen order.
type orderedSet struct {
	seen  map[string]bool
	items []string
}

func (o *orderedSet) add(v string) {
	if o.seen == nil {
		o.seen = make(map[string]bool)
	}

	if !o.seen[v] {
		o.seen[v] = true
		o.items = append(o.items, v)
	}
}

func (o *orderedSet) list() []string {
	return append([]string{}, o.items...)
}
