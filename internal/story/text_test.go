package story

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestPlainTextStripsMarkup(t *testing.T) {
	t.Parallel()

	got := PlainText(`<h1>Kalaja</h1><p>e <b>Rozafës</b></p><script>alert("x")</script><style>p{}</style>`)
	if got != "Kalaja e Rozafës" {
		t.Fatalf("unexpected plain text %q", got)
	}

	if got := PlainText("  just   text "); got != "just text" {
		t.Fatalf("expected whitespace to collapse, got %q", got)
	}
}

func TestReadTimeMinutes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		bodies []string
		want   int
	}{
		{"empty", []string{""}, 1},
		{"short", []string{"one two three"}, 1},
		{"exactly one minute", []string{strings.Repeat("w ", 200)}, 1},
		{"rounds up", []string{strings.Repeat("w ", 201)}, 2},
		{"averaged across languages", []string{strings.Repeat("w ", 400), strings.Repeat("w ", 400)}, 2},
		{"ignores markup", []string{"<p>" + strings.Repeat("<b>w</b> ", 600) + "</p>"}, 3},
	}

	for _, tc := range cases {
		if got := ReadTimeMinutes(tc.bodies...); got != tc.want {
			t.Errorf("%s: expected %d, got %d", tc.name, tc.want, got)
		}
	}
}

func TestTruncateExcerpt(t *testing.T) {
	t.Parallel()

	if got := TruncateExcerpt("<p>Short body.</p>"); got != "Short body." {
		t.Fatalf("expected short body unchanged, got %q", got)
	}

	long := strings.Repeat("fjalë ", 60)
	got := TruncateExcerpt(long)
	if !strings.HasSuffix(got, "…") {
		t.Fatalf("expected ellipsis, got %q", got)
	}
	trimmed := strings.TrimSuffix(got, "…")
	if utf8.RuneCountInString(trimmed) > excerptRuneLimit {
		t.Fatalf("expected at most %d runes, got %d", excerptRuneLimit, utf8.RuneCountInString(trimmed))
	}
	if strings.HasSuffix(trimmed, "fjal") || strings.HasSuffix(trimmed, " ") {
		t.Fatalf("expected cut on a word boundary, got %q", trimmed)
	}
}
