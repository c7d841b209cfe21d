package executor

import (
	"strings"

	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/indexer/normalize"
	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/searcher/ranker"
)

// matches tests one clause against one document, ignoring negation.
func matches(doc *index.Doc, c *parser.Clause) bool {
	switch c.Kind {
	case parser.KindTerm:
		return strings.Contains(doc.Combined(), c.Value)
	case parser.KindPhrase:
		return strings.Contains(doc.TitleNorm, c.Value) || strings.Contains(doc.BodyNorm, c.Value)
	case parser.KindRegex:
		return c.MatchRegex(doc.TitleNorm, doc.BodyNorm)
	case parser.KindWildcard:
		return true
	case parser.KindType:
		return string(doc.ItemType) == c.Value
	case parser.KindAuthor:
		return strings.Contains(doc.AuthorNameNorm, c.Value)
	case parser.KindReplyTo:
		return strings.Contains(doc.ReplyToNorm, c.Value)
	case parser.KindScore:
		return c.Range.Contains(doc.BaseScore)
	case parser.KindDate:
		return c.Range.Contains(float64(doc.PostedAtMs))
	}
	return false
}

// indexedField returns the postings field and the document text a term
// style clause is verified against.
func indexedField(c *parser.Clause) (index.Field, func(*index.Doc) string, bool) {
	switch c.Kind {
	case parser.KindTerm:
		return index.FieldText, (*index.Doc).Combined, true
	case parser.KindAuthor:
		return index.FieldAuthor, func(d *index.Doc) string { return d.AuthorNameNorm }, true
	case parser.KindReplyTo:
		return index.FieldReplyTo, func(d *index.Doc) string { return d.ReplyToNorm }, true
	}
	return 0, nil, false
}

// collectSignals records relevance hits for docs against the positive
// clauses of a query.
func collectSignals(docs []*index.Doc, clauses []parser.Clause) map[string]ranker.Signals {
	signals := make(map[string]ranker.Signals, len(docs))
	for _, doc := range docs {
		var s ranker.Signals
		combined := doc.Combined()
		for i := range clauses {
			c := &clauses[i]
			if c.Negated {
				continue
			}
			switch c.Kind {
			case parser.KindTerm:
				for _, tok := range normalize.Tokenize(c.Value) {
					s.TokenHits += countToken(combined, tok)
				}
			case parser.KindPhrase:
				s.PhraseHits += strings.Count(doc.TitleNorm, c.Value) + strings.Count(doc.BodyNorm, c.Value)
			case parser.KindAuthor:
				s.AuthorHit = s.AuthorHit || strings.Contains(doc.AuthorNameNorm, c.Value)
			case parser.KindReplyTo:
				s.ReplyToHit = s.ReplyToHit || strings.Contains(doc.ReplyToNorm, c.Value)
			}
		}
		if s != (ranker.Signals{}) {
			signals[doc.ID] = s
		}
	}
	return signals
}

// countToken counts whole-token occurrences of tok in normalised text.
func countToken(text, tok string) int {
	n := 0
	for _, field := range strings.Fields(text) {
		if field == tok {
			n++
		}
	}
	return n
}
