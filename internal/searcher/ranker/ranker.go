// Package ranker orders search results. Every sort mode is a total order
// so repeated sorts of the same set agree exactly.
package ranker

import (
	"cmp"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/proto"
)

type SortMode string

const (
	SortDate      SortMode = "date"
	SortDateAsc   SortMode = "date-asc"
	SortScore     SortMode = "score"
	SortScoreAsc  SortMode = "score-asc"
	SortReplyTo   SortMode = "replyTo"
	SortRelevance SortMode = "relevance"
)

// Relevance weights.
const (
	tokenWeight   = 10
	phraseWeight  = 15
	authorWeight  = 8
	replyToWeight = 6
)

// ParseSortMode maps a request value to a mode, falling back to date.
func ParseSortMode(s string) SortMode {
	switch m := SortMode(s); m {
	case SortDate, SortDateAsc, SortScore, SortScoreAsc, SortReplyTo, SortRelevance:
		return m
	}
	return SortDate
}

// Signals are the per-document relevance hits collected while matching.
type Signals struct {
	TokenHits  int  `json:"tokenHits"`
	PhraseHits int  `json:"phraseHits"`
	AuthorHit  bool `json:"authorHit"`
	ReplyToHit bool `json:"replyToHit"`
}

// Score combines the signals into a single relevance value.
func (s Signals) Score() int {
	score := s.TokenHits*tokenWeight + s.PhraseHits*phraseWeight
	if s.AuthorHit {
		score += authorWeight
	}
	if s.ReplyToHit {
		score += replyToWeight
	}
	return score
}

// Compare returns a negative value when a sorts before b.
type Compare func(a, b *index.Doc) int

func sourceRank(s proto.Source) int {
	if s == proto.SourceAuthored {
		return 0
	}
	return 1
}

// tail is the tie-break chain shared by the numeric modes: authored
// before context, newer first, then id ascending.
func tail(a, b *index.Doc) int {
	if c := cmp.Compare(sourceRank(a.Source), sourceRank(b.Source)); c != 0 {
		return c
	}
	if c := cmp.Compare(b.PostedAtMs, a.PostedAtMs); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// Comparator returns the ordering for mode. signals is only consulted
// for relevance; documents missing from it score 0.
func Comparator(mode SortMode, signals map[string]Signals) Compare {
	switch mode {
	case SortDateAsc:
		return func(a, b *index.Doc) int {
			if c := cmp.Compare(a.PostedAtMs, b.PostedAtMs); c != 0 {
				return c
			}
			return tail(a, b)
		}
	case SortScore:
		return func(a, b *index.Doc) int {
			if c := cmp.Compare(b.BaseScore, a.BaseScore); c != 0 {
				return c
			}
			return tail(a, b)
		}
	case SortScoreAsc:
		return func(a, b *index.Doc) int {
			if c := cmp.Compare(a.BaseScore, b.BaseScore); c != 0 {
				return c
			}
			return tail(a, b)
		}
	case SortReplyTo:
		return func(a, b *index.Doc) int {
			aEmpty, bEmpty := a.ReplyToNorm == "", b.ReplyToNorm == ""
			if aEmpty != bEmpty {
				if aEmpty {
					return 1
				}
				return -1
			}
			if c := cmp.Compare(a.ReplyToNorm, b.ReplyToNorm); c != 0 {
				return c
			}
			return tail(a, b)
		}
	case SortRelevance:
		return func(a, b *index.Doc) int {
			if c := cmp.Compare(signals[b.ID].Score(), signals[a.ID].Score()); c != 0 {
				return c
			}
			if c := cmp.Compare(b.PostedAtMs, a.PostedAtMs); c != 0 {
				return c
			}
			if c := cmp.Compare(a.ID, b.ID); c != 0 {
				return c
			}
			return cmp.Compare(sourceRank(a.Source), sourceRank(b.Source))
		}
	default:
		return func(a, b *index.Doc) int {
			if c := cmp.Compare(b.PostedAtMs, a.PostedAtMs); c != 0 {
				return c
			}
			return tail(a, b)
		}
	}
}

// Sort orders docs in place.
func Sort(docs []*index.Doc, mode SortMode, signals map[string]Signals) {
	compare := Comparator(mode, signals)
	sort.Slice(docs, func(i, j int) bool {
		return compare(docs[i], docs[j]) < 0
	})
}
