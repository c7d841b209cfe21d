package ranker

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/proto"
)

func fixture() []*index.Doc {
	return []*index.Doc{
		{ID: "a", Source: proto.SourceAuthored, PostedAtMs: 100, BaseScore: 5, ReplyToNorm: "zed"},
		{ID: "b", Source: proto.SourceContext, PostedAtMs: 100, BaseScore: 5},
		{ID: "c", Source: proto.SourceAuthored, PostedAtMs: 300, BaseScore: 1, ReplyToNorm: "amy"},
		{ID: "d", Source: proto.SourceAuthored, PostedAtMs: 100, BaseScore: 5},
		{ID: "e", Source: proto.SourceAuthored, PostedAtMs: 200, BaseScore: 9, ReplyToNorm: "amy"},
	}
}

func ids(docs []*index.Doc) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

func TestSortModes(t *testing.T) {
	signals := map[string]Signals{
		"b": {TokenHits: 2},
		"d": {PhraseHits: 1, AuthorHit: true},
		"a": {ReplyToHit: true},
	}
	tests := []struct {
		mode SortMode
		want []string
	}{
		{SortDate, []string{"c", "e", "a", "d", "b"}},
		{SortDateAsc, []string{"a", "d", "b", "e", "c"}},
		{SortScore, []string{"e", "a", "d", "b", "c"}},
		{SortScoreAsc, []string{"c", "a", "d", "b", "e"}},
		{SortReplyTo, []string{"c", "e", "a", "d", "b"}},
		{SortRelevance, []string{"d", "b", "a", "c", "e"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			docs := fixture()
			Sort(docs, tt.mode, signals)
			assert.Equal(t, tt.want, ids(docs))
		})
	}
}

func TestSortIsTotalOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, mode := range []SortMode{SortDate, SortDateAsc, SortScore, SortScoreAsc, SortReplyTo, SortRelevance} {
		first := fixture()
		Sort(first, mode, nil)
		for i := 0; i < 20; i++ {
			shuffled := fixture()
			rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
			Sort(shuffled, mode, nil)
			assert.Equal(t, ids(first), ids(shuffled), mode)
		}
	}
}

func TestSignalsScore(t *testing.T) {
	assert.Equal(t, 0, Signals{}.Score())
	assert.Equal(t, 2*10+1*15+8+6, Signals{TokenHits: 2, PhraseHits: 1, AuthorHit: true, ReplyToHit: true}.Score())
}

func TestParseSortMode(t *testing.T) {
	assert.Equal(t, SortReplyTo, ParseSortMode("replyTo"))
	assert.Equal(t, SortDate, ParseSortMode(""))
	assert.Equal(t, SortDate, ParseSortMode("newest"))
}
