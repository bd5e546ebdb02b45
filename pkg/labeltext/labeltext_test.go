package labeltext

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestClean(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "   ", ""},
		{"plain text collapses whitespace", "plaque\n\n  psoriasis\t ", "plaque psoriasis"},
		{"entities decoded", "A &amp; B", "A & B"},
		{"html stripped", "<p>Indicated for <b>plaque</b> psoriasis.</p>", "Indicated for plaque psoriasis."},
		{"block elements separated", "<ul><li>one</li><li>two</li></ul>", "one two"},
		{"nbsp collapsed", "<p>a&nbsp;&nbsp;b</p>", "a b"},
		{"double escaped entity removed", "<p>dose&amp;nbsp;daily</p>", "dose daily"},
		{"script dropped", "<div>text<script>alert(1)</script></div>", "text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Clean(tt.input))
		})
	}
}

func TestTruncate(t *testing.T) {
	t.Run("short text untouched", func(t *testing.T) {
		assert.Equal(t, "short", Truncate("short", 10))
	})

	t.Run("cuts at word boundary with ellipsis", func(t *testing.T) {
		got := Truncate("the quick brown fox jumps over the lazy dog", 20)
		assert.Equal(t, "the quick brown...", got)
		assert.LessOrEqual(t, utf8.RuneCountInString(got), 20)
	})

	t.Run("multibyte safe", func(t *testing.T) {
		got := Truncate(strings.Repeat("é", 50), 10)
		assert.True(t, utf8.ValidString(got))
		assert.Equal(t, 10, utf8.RuneCountInString(got))
	})

	t.Run("zero limit", func(t *testing.T) {
		assert.Empty(t, Truncate("abc", 0))
	})
}

func TestStripMarkup(t *testing.T) {
	input := "## Overview\n\n**Taltz** is used for *plaque psoriasis*.\n\n* first\n* second\n\n[label](http://x)"
	want := "Overview\n\nTaltz is used for plaque psoriasis.\n\n- first\n- second\n\nlabel"

	assert.Equal(t, want, StripMarkup(input))
	assert.Equal(t, "Q: What?\nA: That.", StripMarkup("<p>Q: What?</p>\nA: `That`."))
}

func TestTokensAndTerms(t *testing.T) {
	assert.Equal(t, []string{"psoriasis"}, Tokens("Psoriasis treatment"))
	assert.Equal(t, []string{"plaque", "psoriasis", "psoriasis"}, Tokens("plaque psoriasis, psoriasis"))
	assert.Equal(t, []string{"plaque", "psoriasis"}, Terms("plaque psoriasis, psoriasis"))
	assert.Empty(t, Terms("what is the treatment for"))
}

func TestExcerpt(t *testing.T) {
	text := strings.Repeat("filler ", 40) + "psoriasis" + strings.Repeat(" tail", 40)

	got := Excerpt(text, []string{"psoriasis"}, 60)
	assert.Contains(t, got, "psoriasis")
	assert.LessOrEqual(t, utf8.RuneCountInString(got), 60)
}

func TestToMarkdown(t *testing.T) {
	got := ToMarkdown("<ul><li>one</li><li>two</li></ul>")
	assert.Contains(t, got, "one")
	assert.Contains(t, got, "two")
	assert.Equal(t, "plain text", ToMarkdown("plain   text"))
}
