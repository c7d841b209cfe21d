// Package indexer owns the corpora a worker searches. Each source keeps
// its raw items in arrival order; every change rebuilds that source's
// corpus wholesale and bumps the shared index version.
package indexer

import (
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/proto"
)

// BuildStats describes one corpus rebuild.
type BuildStats struct {
	Source       proto.Source
	IndexVersion int64
	DocCount     int
	Terms        int
	Took         time.Duration
}

type itemSet struct {
	items     []proto.Item
	positions map[string]int
}

func newItemSet(capacity int) *itemSet {
	return &itemSet{
		items:     make([]proto.Item, 0, capacity),
		positions: make(map[string]int, capacity),
	}
}

func (s *itemSet) upsert(item proto.Item) {
	if pos, ok := s.positions[item.ID]; ok {
		s.items[pos] = item
		return
	}
	s.positions[item.ID] = len(s.items)
	s.items = append(s.items, item)
}

func (s *itemSet) delete(ids []string) int {
	if len(ids) == 0 {
		return 0
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := s.positions[id]; ok {
			drop[id] = struct{}{}
		}
	}
	if len(drop) == 0 {
		return 0
	}
	kept := s.items[:0]
	for _, item := range s.items {
		if _, gone := drop[item.ID]; !gone {
			kept = append(kept, item)
		}
	}
	s.items = kept
	s.positions = make(map[string]int, len(kept))
	for i, item := range kept {
		s.positions[item.ID] = i
	}
	return len(drop)
}

// Engine holds the authored and context corpora.
type Engine struct {
	mu      sync.RWMutex
	items   map[proto.Source]*itemSet
	corpora map[proto.Source]*index.Corpus
	version int64
	logger  *slog.Logger
}

// NewEngine creates an engine with empty corpora at index version 0.
func NewEngine() *Engine {
	e := &Engine{
		items:   make(map[proto.Source]*itemSet, 2),
		corpora: make(map[proto.Source]*index.Corpus, 2),
		logger:  slog.Default().With("component", "indexer"),
	}
	for _, source := range []proto.Source{proto.SourceAuthored, proto.SourceContext} {
		e.items[source] = newItemSet(0)
		e.corpora[source] = index.Empty(source)
	}
	return e
}

// ReplaceAll swaps source's items for items and rebuilds its corpus.
func (e *Engine) ReplaceAll(source proto.Source, items []proto.Item) BuildStats {
	set := newItemSet(len(items))
	for _, item := range items {
		set.upsert(item)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.items[source] = set
	return e.rebuildLocked(source)
}

// ApplyPatch upserts and deletes items by id, then rebuilds the corpus.
func (e *Engine) ApplyPatch(source proto.Source, upserts []proto.Item, deletes []string) BuildStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	set := e.items[source]
	removed := set.delete(deletes)
	for _, item := range upserts {
		set.upsert(item)
	}
	e.logger.Debug("patch applied",
		"source", source,
		"upserts", len(upserts),
		"deleted", removed,
	)
	return e.rebuildLocked(source)
}

func (e *Engine) rebuildLocked(source proto.Source) BuildStats {
	start := time.Now()
	corpus := index.BuildCorpus(source, e.items[source].items)
	e.corpora[source] = corpus
	e.version++
	stats := BuildStats{
		Source:       source,
		IndexVersion: e.version,
		DocCount:     corpus.Len(),
		Terms:        corpus.Terms(),
		Took:         time.Since(start),
	}
	e.logger.Info("corpus rebuilt",
		"source", source,
		"docs", stats.DocCount,
		"terms", stats.Terms,
		"index_version", stats.IndexVersion,
		"took", stats.Took,
	)
	return stats
}

// Corpus returns the current corpus for source.
func (e *Engine) Corpus(source proto.Source) *index.Corpus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.corpora[source]
}

// Version returns the index version, bumped on every rebuild.
func (e *Engine) Version() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.version
}

// DocCount returns the number of indexed documents in source.
func (e *Engine) DocCount(source proto.Source) int {
	return e.Corpus(source).Len()
}
