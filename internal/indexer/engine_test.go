package indexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/proto"
)

func comment(id, html string) proto.Item {
	return proto.Item{ID: id, PostedAt: "2024-01-01T00:00:00Z", HTMLBody: html}
}

func TestEngineStartsEmpty(t *testing.T) {
	e := NewEngine()
	assert.Equal(t, int64(0), e.Version())
	assert.Equal(t, 0, e.DocCount(proto.SourceAuthored))
	assert.Equal(t, 0, e.DocCount(proto.SourceContext))
}

func TestEngineReplaceAllBumpsVersion(t *testing.T) {
	e := NewEngine()
	stats := e.ReplaceAll(proto.SourceAuthored, []proto.Item{comment("a", "alpha"), comment("b", "beta")})
	assert.Equal(t, int64(1), stats.IndexVersion)
	assert.Equal(t, 2, stats.DocCount)

	stats = e.ReplaceAll(proto.SourceContext, []proto.Item{comment("c", "gamma")})
	assert.Equal(t, int64(2), stats.IndexVersion)
	assert.Equal(t, 2, e.DocCount(proto.SourceAuthored))
	assert.Equal(t, 1, e.DocCount(proto.SourceContext))
}

func TestEngineReplaceAllDedupesIDs(t *testing.T) {
	e := NewEngine()
	e.ReplaceAll(proto.SourceAuthored, []proto.Item{comment("a", "first"), comment("a", "second")})
	corpus := e.Corpus(proto.SourceAuthored)
	require.Equal(t, 1, corpus.Len())
	assert.Equal(t, "second", corpus.Docs[0].BodyNorm)
}

func TestEngineApplyPatch(t *testing.T) {
	e := NewEngine()
	e.ReplaceAll(proto.SourceAuthored, []proto.Item{comment("a", "alpha"), comment("b", "beta"), comment("c", "gamma")})

	stats := e.ApplyPatch(proto.SourceAuthored, []proto.Item{comment("b", "beta two"), comment("d", "delta")}, []string{"a", "missing"})
	assert.Equal(t, 3, stats.DocCount)

	corpus := e.Corpus(proto.SourceAuthored)
	ids := make([]string, 0, corpus.Len())
	for _, doc := range corpus.Docs {
		ids = append(ids, doc.ID)
	}
	assert.Equal(t, []string{"b", "c", "d"}, ids)
	assert.Equal(t, "beta two", corpus.Docs[0].BodyNorm)
	_, ok := corpus.Ordinal("a")
	assert.False(t, ok)
}
