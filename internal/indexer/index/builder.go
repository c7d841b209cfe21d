package index

import (
	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/indexer/normalize"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/proto"
)

// Builder accumulates documents into growable postings. Build compacts
// them into an immutable Corpus; the Builder must not be reused afterwards.
type Builder struct {
	source       proto.Source
	docs         []Doc
	ordinals     map[string]int32
	tokenIndex   map[string][]int32
	authorIndex  map[string][]int32
	replyToIndex map[string][]int32
}

// NewBuilder starts a corpus for source, sized for roughly capacity docs.
func NewBuilder(source proto.Source, capacity int) *Builder {
	return &Builder{
		source:       source,
		docs:         make([]Doc, 0, capacity),
		ordinals:     make(map[string]int32, capacity),
		tokenIndex:   make(map[string][]int32),
		authorIndex:  make(map[string][]int32),
		replyToIndex: make(map[string][]int32),
	}
}

// AddItem normalises item and adds it.
func (b *Builder) AddItem(item *proto.Item) {
	b.Add(BuildDoc(item, b.source))
}

// Add appends doc. A later doc with an id already present replaces the
// earlier one's identity mapping but both stay addressable by ordinal, so
// callers deduplicate ids before building.
func (b *Builder) Add(doc Doc) {
	doc.Source = b.source
	ordinal := int32(len(b.docs))
	b.docs = append(b.docs, doc)
	b.ordinals[doc.ID] = ordinal

	seen := make(map[string]struct{})
	for _, field := range []string{doc.TitleNorm, doc.BodyNorm} {
		for _, token := range normalize.Tokenize(field) {
			if _, dup := seen[token]; dup {
				continue
			}
			seen[token] = struct{}{}
			b.tokenIndex[token] = append(b.tokenIndex[token], ordinal)
		}
	}
	for _, token := range normalize.Tokenize(doc.AuthorNameNorm) {
		b.authorIndex[token] = append(b.authorIndex[token], ordinal)
	}
	for _, token := range normalize.Tokenize(doc.ReplyToNorm) {
		b.replyToIndex[token] = append(b.replyToIndex[token], ordinal)
	}
}

// Build compacts every postings list and returns the finished Corpus.
func (b *Builder) Build() *Corpus {
	return &Corpus{
		Source:       b.source,
		Docs:         b.docs,
		ordinals:     b.ordinals,
		tokenIndex:   compactAll(b.tokenIndex),
		authorIndex:  compactAll(b.authorIndex),
		replyToIndex: compactAll(b.replyToIndex),
	}
}

// BuildCorpus is a convenience wrapper that indexes items in order.
func BuildCorpus(source proto.Source, items []proto.Item) *Corpus {
	b := NewBuilder(source, len(items))
	for i := range items {
		b.AddItem(&items[i])
	}
	return b.Build()
}

func compactAll(grown map[string][]int32) map[string]PostingList {
	out := make(map[string]PostingList, len(grown))
	for token, list := range grown {
		out[token] = compact(list)
	}
	return out
}
