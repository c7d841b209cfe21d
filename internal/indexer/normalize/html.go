package normalize

import (
	"strings"

	"golang.org/x/net/html"
)

// HTMLToText extracts the text of an HTML fragment. Entities are decoded,
// every tag boundary becomes a space and script/style bodies are dropped.
func HTMLToText(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return fragment
	}
	var b strings.Builder
	b.Grow(len(fragment))
	z := html.NewTokenizer(strings.NewReader(fragment))
	skipDepth := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			if skipDepth == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken:
			if isRawTextTag(z) {
				skipDepth++
			}
			b.WriteByte(' ')
		case html.EndTagToken:
			if isRawTextTag(z) && skipDepth > 0 {
				skipDepth--
			}
			b.WriteByte(' ')
		case html.SelfClosingTagToken:
			b.WriteByte(' ')
		}
	}
}

// DecodeEntities resolves HTML character references without touching tags.
func DecodeEntities(text string) string {
	if !strings.Contains(text, "&") {
		return text
	}
	return html.UnescapeString(text)
}

func isRawTextTag(z *html.Tokenizer) bool {
	name, _ := z.TagName()
	switch string(name) {
	case "script", "style":
		return true
	}
	return false
}
