package index

import "github.com/Adithya-Monish-Kumar-K/archive-search/pkg/proto"

// Field selects which postings map a lookup reads.
type Field int

const (
	FieldText Field = iota
	FieldAuthor
	FieldReplyTo
)

// Corpus is a finished, read-only inverted index over one source. A
// document's ordinal is its position in Docs.
type Corpus struct {
	Source       proto.Source
	Docs         []Doc
	ordinals     map[string]int32
	tokenIndex   map[string]PostingList
	authorIndex  map[string]PostingList
	replyToIndex map[string]PostingList
}

// Empty returns a corpus with no documents.
func Empty(source proto.Source) *Corpus {
	return NewBuilder(source, 0).Build()
}

// Len returns the number of documents.
func (c *Corpus) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Docs)
}

// Ordinal returns the ordinal of id.
func (c *Corpus) Ordinal(id string) (int32, bool) {
	ord, ok := c.ordinals[id]
	return ord, ok
}

// Postings returns the list for token in field, or nil.
func (c *Corpus) Postings(field Field, token string) PostingList {
	switch field {
	case FieldAuthor:
		return c.authorIndex[token]
	case FieldReplyTo:
		return c.replyToIndex[token]
	default:
		return c.tokenIndex[token]
	}
}

// Terms returns the number of distinct title/body tokens.
func (c *Corpus) Terms() int {
	return len(c.tokenIndex)
}
