// Package normalize turns archive text into comparable strings and tokens.
// The same folding rules apply to indexed documents and to query input, so
// a query term and a document word normalise to identical byte sequences.
package normalize

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// MinTokenLen is the shortest token (in runes) kept by Tokenize.
const MinTokenLen = 2

var apostrophes = strings.NewReplacer(
	"'", "",
	"’", "",
	"‘", "",
	"ʼ", "",
	"`", "",
	"′", "",
)

// Normalize applies NFKC, lowercases, deletes apostrophe variants, folds
// every rune that is not a letter, mark or digit to a space, and collapses
// whitespace.
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	text = norm.NFKC.String(text)
	text = strings.ToLower(text)
	text = apostrophes.Replace(text)
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsMark(r)
	})
	return strings.Join(words, " ")
}

// Tokenize splits normalised text into unique tokens in first-seen order,
// dropping tokens shorter than MinTokenLen runes.
func Tokenize(normalized string) []string {
	words := strings.Fields(normalized)
	tokens := make([]string, 0, len(words))
	seen := make(map[string]struct{}, len(words))
	for _, word := range words {
		if utf8.RuneCountInString(word) < MinTokenLen {
			continue
		}
		if _, dup := seen[word]; dup {
			continue
		}
		seen[word] = struct{}{}
		tokens = append(tokens, word)
	}
	return tokens
}

// Body normalises an item body, preferring Markdown source over HTML.
func Body(markdown, html string) string {
	if strings.TrimSpace(markdown) != "" {
		return Normalize(MarkdownToText(markdown))
	}
	if html != "" {
		return Normalize(HTMLToText(html))
	}
	return ""
}

// Plain normalises short plain-text fields such as titles and names, which
// may still carry HTML entities.
func Plain(text string) string {
	return Normalize(DecodeEntities(text))
}
