package worker

import (
	"time"

	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/proto"
)

// batch assembles the chunks of one index.full exchange.
type batch struct {
	id      string
	source  proto.Source
	total   int
	next    int
	items   []proto.Item
	started time.Time
}

func (b *batch) complete() bool {
	return b.total > 0 && b.next == b.total
}

// addChunk validates chunk ordering and count. It returns the protocol
// error code of the violation, or "" when the chunk was accepted.
func (b *batch) addChunk(chunk proto.IndexFullChunk) string {
	if chunk.TotalChunks <= 0 || chunk.ChunkIndex >= chunk.TotalChunks {
		return proto.CodeChunkCountMismatch
	}
	if b.total != 0 && chunk.TotalChunks != b.total {
		return proto.CodeChunkCountMismatch
	}
	if chunk.ChunkIndex != b.next {
		return proto.CodeChunkOutOfOrder
	}
	b.total = chunk.TotalChunks
	b.next++
	b.items = append(b.items, chunk.Items...)
	return ""
}
