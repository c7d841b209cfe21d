// Package merger combines per-corpus results and selects the top of a
// ranked set.
package merger

import (
	"container/heap"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/searcher/ranker"
)

// Union merges result lists by document id. Earlier lists win on
// collision, so callers pass the authored results first.
func Union(lists ...[]*index.Doc) []*index.Doc {
	if len(lists) == 1 {
		return lists[0]
	}
	size := 0
	for _, l := range lists {
		size += len(l)
	}
	seen := make(map[string]struct{}, size)
	out := make([]*index.Doc, 0, size)
	for _, l := range lists {
		for _, doc := range l {
			if _, dup := seen[doc.ID]; dup {
				continue
			}
			seen[doc.ID] = struct{}{}
			out = append(out, doc)
		}
	}
	return out
}

// TopK returns the first limit docs under compare, in order. Small limits
// over large sets keep a bounded heap instead of sorting everything.
func TopK(docs []*index.Doc, limit int, compare ranker.Compare) []*index.Doc {
	if limit <= 0 || limit >= len(docs) {
		out := make([]*index.Doc, len(docs))
		copy(out, docs)
		sort.Slice(out, func(i, j int) bool { return compare(out[i], out[j]) < 0 })
		return out
	}
	h := &docHeap{compare: compare}
	for _, doc := range docs {
		heap.Push(h, doc)
		if h.Len() > limit {
			heap.Pop(h)
		}
	}
	result := make([]*index.Doc, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(h).(*index.Doc)
	}
	return result
}

// docHeap keeps the worst-ranked doc on top.
type docHeap struct {
	docs    []*index.Doc
	compare ranker.Compare
}

func (h docHeap) Len() int { return len(h.docs) }

func (h docHeap) Less(i, j int) bool { return h.compare(h.docs[i], h.docs[j]) > 0 }

func (h docHeap) Swap(i, j int) { h.docs[i], h.docs[j] = h.docs[j], h.docs[i] }

func (h *docHeap) Push(x interface{}) {
	h.docs = append(h.docs, x.(*index.Doc))
}

func (h *docHeap) Pop() interface{} {
	old := h.docs
	n := len(old)
	item := old[n-1]
	h.docs = old[:n-1]
	return item
}
