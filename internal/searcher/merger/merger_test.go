package merger

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/proto"
)

func TestUnionAuthoredWins(t *testing.T) {
	authored := []*index.Doc{{ID: "x", Source: proto.SourceAuthored, TitleNorm: "mine"}}
	context := []*index.Doc{
		{ID: "x", Source: proto.SourceContext, TitleNorm: "cached"},
		{ID: "y", Source: proto.SourceContext},
	}
	merged := Union(authored, context)
	require.Len(t, merged, 2)
	assert.Equal(t, "mine", merged[0].TitleNorm)
	assert.Equal(t, "y", merged[1].ID)
}

func TestTopKMatchesFullSort(t *testing.T) {
	docs := make([]*index.Doc, 0, 40)
	for i := 0; i < 40; i++ {
		docs = append(docs, &index.Doc{
			ID:         fmt.Sprintf("d%02d", i),
			Source:     proto.SourceAuthored,
			PostedAtMs: int64((i * 7) % 13),
		})
	}
	compare := ranker.Comparator(ranker.SortDate, nil)
	full := TopK(docs, 0, compare)
	require.Len(t, full, 40)

	top := TopK(docs, 5, compare)
	assert.Equal(t, full[:5], top)
}
