package story

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html"
)

const (
	wordsPerMinute   = 200
	excerptRuneLimit = 200
)

// PlainText extracts the visible text of an HTML or plain string body.
func PlainText(body string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(body))

	var b strings.Builder
	skipDepth := 0
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(b.String()), " ")
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			if isInvisible(string(name)) {
				skipDepth++
			}
			b.WriteByte(' ')
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			if isInvisible(string(name)) && skipDepth > 0 {
				skipDepth--
			}
			b.WriteByte(' ')
		case html.SelfClosingTagToken:
			b.WriteByte(' ')
		case html.TextToken:
			if skipDepth == 0 {
				b.Write(tokenizer.Text())
			}
		}
	}
}

func isInvisible(tag string) bool {
	return tag == "script" || tag == "style"
}

// ReadTimeMinutes estimates the reading time of the given bodies, never less than a minute.
func ReadTimeMinutes(bodies ...string) int {
	words := 0
	for _, body := range bodies {
		words += len(strings.Fields(PlainText(body)))
	}

	// Bilingual stories carry the same text twice.
	if len(bodies) > 1 {
		words /= len(bodies)
	}

	minutes := (words + wordsPerMinute - 1) / wordsPerMinute
	if minutes < 1 {
		return 1
	}
	return minutes
}

// TruncateExcerpt shortens text to the excerpt limit on a word boundary.
func TruncateExcerpt(body string) string {
	text := PlainText(body)
	if utf8.RuneCountInString(text) <= excerptRuneLimit {
		return text
	}

	runes := []rune(text)
	cut := excerptRuneLimit
	for cut > 0 && !unicode.IsSpace(runes[cut]) {
		cut--
	}
	if cut == 0 {
		cut = excerptRuneLimit
	}

	return strings.TrimRightFunc(string(runes[:cut]), func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	}) + "…"
}
