package manager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/searcher/facets"
	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/transport"
	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/worker"
	apperrors "github.com/Adithya-Monish-Kumar-K/archive-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/proto"
)

func strPtr(s string) *string { return &s }

func post(id, title string) proto.Item {
	return proto.Item{ID: id, PostedAt: "2025-01-02T00:00:00Z", Title: strPtr(title), User: &proto.User{DisplayName: "Jane"}}
}

func comment(id, body string) proto.Item {
	return proto.Item{ID: id, PostedAt: "2024-05-02T00:00:00Z", HTMLBody: body, User: &proto.User{DisplayName: "Bob"}}
}

// harness is a worker on the far end of a pipe whose replies a test can
// intercept through hook.
type harness struct {
	worker *worker.Worker
	server transport.Channel
	hook   func(h *harness, env proto.Envelope) bool

	mu   sync.Mutex
	seen []proto.Envelope
}

func startHarness(t *testing.T, opts Options, hook func(h *harness, env proto.Envelope) bool) (*harness, *Manager) {
	t.Helper()
	client, server := transport.NewPipe(256)
	h := &harness{worker: worker.New(worker.Options{}), server: server, hook: hook}
	go h.loop()
	if opts.Debounce == 0 {
		opts.Debounce = time.Hour
	}
	m := New(client, opts)
	t.Cleanup(func() { _ = m.Close() })
	return h, m
}

func (h *harness) loop() {
	ctx := context.Background()
	for env := range h.server.Receive() {
		h.mu.Lock()
		h.seen = append(h.seen, env)
		h.mu.Unlock()
		if h.hook != nil && h.hook(h, env) {
			continue
		}
		if reply, ok := h.worker.Handle(ctx, env); ok {
			_ = h.server.Send(ctx, reply)
		}
	}
}

func (h *harness) reply(t proto.MessageType, payload any) {
	env, err := proto.NewEnvelope(t, payload)
	if err != nil {
		panic(err)
	}
	_ = h.server.Send(context.Background(), env)
}

func (h *harness) count(t proto.MessageType) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, env := range h.seen {
		if env.Type == t {
			n++
		}
	}
	return n
}

func (h *harness) cancelled(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, env := range h.seen {
		if env.Type != proto.TypeQueryCancel {
			continue
		}
		if msg, err := proto.Decode[proto.QueryCancel](env); err == nil && msg.RequestID == id {
			return true
		}
	}
	return false
}

func decodeRun(env proto.Envelope) proto.QueryRun {
	run, err := proto.Decode[proto.QueryRun](env)
	if err != nil {
		panic(err)
	}
	return run
}

func search(t *testing.T, m *Manager, query string) *SearchResult {
	t.Helper()
	res, err := m.RunSearch(context.Background(), SearchRequest{Query: query, SortMode: "date"})
	require.NoError(t, err)
	require.Equal(t, StatusOK, res.Status)
	return res
}

func TestRunSearchResolvesItemsAuthoredWins(t *testing.T) {
	_, m := startHarness(t, Options{}, nil)
	m.SetAuthoredItems([]proto.Item{post("a", "alpha mine"), post("b", "beta")}, "r1")
	m.SetContextItems([]proto.Item{post("a", "alpha theirs"), post("c", "alpha other")}, "r1")

	res := search(t, m, "alpha")
	require.Len(t, res.Items, 1)
	assert.Equal(t, "a", res.Items[0].ID)
	assert.Equal(t, "alpha mine", *res.Items[0].Title)

	res = search(t, m, "alpha scope:all")
	assert.Equal(t, 2, res.Total)
	for _, item := range res.Items {
		if item.ID == "a" {
			assert.Equal(t, "alpha mine", *item.Title)
		}
	}
	item, ok := m.Item("a")
	require.True(t, ok)
	assert.Equal(t, "alpha mine", *item.Title)
}

func TestNoOpAppendPatchAndFullReindex(t *testing.T) {
	h, m := startHarness(t, Options{}, nil)
	items := make([]proto.Item, 0, 8)
	items = append(items, post("a", "alpha one"))

	m.SetAuthoredItems(items, "r1")
	search(t, m, "alpha")
	assert.Equal(t, 1, h.count(proto.TypeIndexFullStart))

	m.SetAuthoredItems(items, "r1")
	search(t, m, "alpha")
	assert.Equal(t, 1, h.count(proto.TypeIndexFullStart), "same array, length and revision is a no-op")
	assert.Equal(t, 0, h.count(proto.TypeIndexPatch))

	items = append(items, post("b", "alpha two"))
	m.SetAuthoredItems(items, "r1")
	res := search(t, m, "alpha")
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 1, h.count(proto.TypeIndexPatch))
	assert.Equal(t, 1, h.count(proto.TypeIndexFullStart))

	m.SetAuthoredItems(items, "r2")
	search(t, m, "alpha")
	assert.Equal(t, 2, h.count(proto.TypeIndexFullStart), "new revision forces a full rebuild")

	fresh := append([]proto.Item(nil), items...)
	m.SetAuthoredItems(fresh, "r2")
	search(t, m, "alpha")
	assert.Equal(t, 3, h.count(proto.TypeIndexFullStart), "new array forces a full rebuild")
}

func TestChunking(t *testing.T) {
	h, m := startHarness(t, Options{ChunkSize: 2}, nil)
	m.SetAuthoredItems([]proto.Item{post("a", "x"), post("b", "x"), post("c", "x"), post("d", "x"), post("e", "x")}, "r1")
	m.SetContextItems(nil, "r1")
	res := search(t, m, "x")
	assert.Equal(t, 5, res.Total)
	assert.Equal(t, 4, h.count(proto.TypeIndexFullChunk), "three authored chunks plus one empty context chunk")
	assert.Equal(t, 2, h.count(proto.TypeIndexFullCommit))
}

func TestSupersededQueryResolvesWithoutError(t *testing.T) {
	slowSeen := make(chan string, 1)
	var slowID string
	h, m := startHarness(t, Options{}, func(h *harness, env proto.Envelope) bool {
		switch env.Type {
		case proto.TypeQueryRun:
			if run := decodeRun(env); run.Query == "slow" {
				slowID = run.RequestID
				slowSeen <- run.RequestID
				return true
			}
		case proto.TypeQueryCancel:
			// A late result for the superseded query must be dropped.
			h.reply(proto.TypeQueryResult, proto.QueryResult{RequestID: slowID, IDs: []string{"a"}, Total: 1})
		}
		return false
	})
	m.SetAuthoredItems([]proto.Item{post("a", "alpha"), post("b", "beta")}, "r1")

	first := make(chan *SearchResult, 1)
	go func() {
		res, err := m.RunSearch(context.Background(), SearchRequest{Query: "slow"})
		if err != nil {
			panic(err)
		}
		first <- res
	}()
	id := <-slowSeen

	second := search(t, m, "beta")
	assert.Equal(t, []string{"b"}, second.IDs)

	superseded := <-first
	assert.Equal(t, StatusSuperseded, superseded.Status)
	assert.Equal(t, id, superseded.RequestID)
	assert.Empty(t, superseded.Items)
	assert.True(t, h.cancelled(id))
}

func TestTotalReconciledForUnknownIDs(t *testing.T) {
	var ids []string
	var total int
	_, m := startHarness(t, Options{}, func(h *harness, env proto.Envelope) bool {
		if env.Type != proto.TypeQueryRun {
			return false
		}
		h.reply(proto.TypeQueryResult, proto.QueryResult{RequestID: decodeRun(env).RequestID, IDs: ids, Total: total})
		return true
	})
	m.SetAuthoredItems([]proto.Item{post("a", "alpha")}, "r1")

	ids, total = []string{"a", "ghost"}, 5
	res := search(t, m, "alpha")
	assert.Equal(t, []string{"a"}, res.IDs)
	assert.Len(t, res.Items, 1)
	assert.Equal(t, 4, res.Total)

	ids, total = []string{"ghost"}, 1
	res = search(t, m, "alpha")
	assert.Empty(t, res.Items)
	assert.Equal(t, 0, res.Total)
}

func TestCorrelatedErrorRejectsOnlyThatQuery(t *testing.T) {
	_, m := startHarness(t, Options{}, func(h *harness, env proto.Envelope) bool {
		if env.Type == proto.TypeQueryRun {
			if run := decodeRun(env); run.Query == "boom" {
				h.reply(proto.TypeError, proto.ErrorMessage{Code: proto.CodeInternal, Message: "boom", RequestID: run.RequestID})
				return true
			}
		}
		return false
	})
	m.SetAuthoredItems([]proto.Item{post("a", "alpha")}, "r1")

	_, err := m.RunSearch(context.Background(), SearchRequest{Query: "boom"})
	require.Error(t, err)
	var perr *apperrors.ProtocolError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, proto.CodeInternal, perr.Code)
	assert.ErrorIs(t, err, apperrors.ErrProtocol)

	res := search(t, m, "alpha")
	assert.Equal(t, []string{"a"}, res.IDs)
	assert.False(t, m.Status().Fallback)
}

func TestUncorrelatedErrorSwitchesToFallback(t *testing.T) {
	_, m := startHarness(t, Options{}, func(h *harness, env proto.Envelope) bool {
		if env.Type == proto.TypeQueryRun && decodeRun(env).Query == "crash" {
			h.reply(proto.TypeError, proto.ErrorMessage{Code: proto.CodeInternal, Message: "worker crashed"})
			return true
		}
		return false
	})
	m.SetAuthoredItems([]proto.Item{post("a", "alpha"), post("b", "beta")}, "r1")
	search(t, m, "alpha")

	_, err := m.RunSearch(context.Background(), SearchRequest{Query: "crash"})
	assert.ErrorIs(t, err, apperrors.ErrWorkerFailed)

	status := m.Status()
	assert.True(t, status.Fallback)
	assert.Contains(t, status.Failure, "worker crashed")

	res := search(t, m, "beta")
	assert.Equal(t, []string{"b"}, res.IDs)
}

func TestChannelCloseSwitchesToFallback(t *testing.T) {
	h, m := startHarness(t, Options{}, nil)
	m.SetAuthoredItems([]proto.Item{post("a", "alpha")}, "r1")
	search(t, m, "alpha")

	require.NoError(t, h.server.Close())
	assert.Eventually(t, func() bool { return m.Status().Fallback }, time.Second, 5*time.Millisecond)

	res := search(t, m, "alpha")
	assert.Equal(t, []string{"a"}, res.IDs)
}

func TestUnknownPatchResendsFull(t *testing.T) {
	h, m := startHarness(t, Options{}, func(h *harness, env proto.Envelope) bool {
		if env.Type != proto.TypeIndexPatch {
			return false
		}
		patch, err := proto.Decode[proto.IndexPatch](env)
		if err != nil {
			panic(err)
		}
		h.reply(proto.TypeError, proto.ErrorMessage{Code: proto.CodeUnknownPatch, PatchID: patch.PatchID})
		return true
	})
	items := make([]proto.Item, 0, 4)
	items = append(items, post("a", "alpha"))
	m.SetAuthoredItems(items, "r1")
	search(t, m, "alpha")

	items = append(items, post("b", "alpha"))
	m.SetAuthoredItems(items, "r1")
	res := search(t, m, "alpha")
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 1, h.count(proto.TypeIndexPatch))
	assert.Equal(t, 2, h.count(proto.TypeIndexFullStart))
}

func TestIndexingErrorSurfaces(t *testing.T) {
	_, m := startHarness(t, Options{}, func(h *harness, env proto.Envelope) bool {
		if env.Type != proto.TypeIndexFullCommit {
			return false
		}
		commit, err := proto.Decode[proto.IndexFullCommit](env)
		if err != nil {
			panic(err)
		}
		h.reply(proto.TypeError, proto.ErrorMessage{Code: proto.CodeSchemaMismatch, BatchID: commit.BatchID})
		return true
	})
	m.SetAuthoredItems([]proto.Item{post("a", "alpha")}, "r1")
	_, err := m.RunSearch(context.Background(), SearchRequest{Query: "alpha"})
	assert.ErrorIs(t, err, apperrors.ErrSchemaMismatch)
}

func TestContextCancelAbandonsQuery(t *testing.T) {
	slowSeen := make(chan string, 1)
	h, m := startHarness(t, Options{}, func(h *harness, env proto.Envelope) bool {
		if env.Type == proto.TypeQueryRun {
			if run := decodeRun(env); run.Query == "slow" {
				slowSeen <- run.RequestID
				return true
			}
		}
		return false
	})
	m.SetAuthoredItems([]proto.Item{post("a", "alpha")}, "r1")
	search(t, m, "alpha")

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := m.RunSearch(ctx, SearchRequest{Query: "slow"})
		errc <- err
	}()
	id := <-slowSeen
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
	assert.Eventually(t, func() bool { return h.cancelled(id) }, time.Second, 5*time.Millisecond)

	res := search(t, m, "alpha")
	assert.Equal(t, []string{"a"}, res.IDs)
}

func TestFacets(t *testing.T) {
	_, m := startHarness(t, Options{}, nil)
	m.SetAuthoredItems([]proto.Item{post("a", "one"), comment("b", "two")}, "r1")
	m.SetContextItems([]proto.Item{post("a", "dup"), comment("c", "three")}, "r1")

	groupCounts := func(res facets.Result, name string) map[string]int {
		out := make(map[string]int)
		for _, g := range res.Groups {
			if g.Name == name {
				for _, f := range g.Facets {
					out[f.Label] = f.Count
				}
			}
		}
		return out
	}

	res := m.Facets("", "")
	assert.Equal(t, 2, sum(groupCounts(res, facets.GroupType)))

	res = m.Facets("scope:all", "")
	assert.Equal(t, 3, sum(groupCounts(res, facets.GroupType)))

	res = m.Facets("scope:all", "authored")
	assert.Equal(t, 2, sum(groupCounts(res, facets.GroupType)))
}

func sum(counts map[string]int) int {
	n := 0
	for _, c := range counts {
		n += c
	}
	return n
}

func TestCloseRejectsLaterCalls(t *testing.T) {
	_, m := startHarness(t, Options{}, nil)
	require.NoError(t, m.Close())
	_, err := m.RunSearch(context.Background(), SearchRequest{Query: "x"})
	assert.ErrorIs(t, err, apperrors.ErrClosed)
	assert.NoError(t, m.Close())
}

func TestNewLocalDebouncedIndexing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewLocal(ctx, Options{Debounce: 5 * time.Millisecond})
	defer m.Close()

	m.SetAuthoredItems([]proto.Item{post("a", "alpha")}, "r1")
	assert.Eventually(t, func() bool { return m.Status().IndexVersion >= 1 }, time.Second, 5*time.Millisecond)

	res := search(t, m, "alpha")
	assert.Equal(t, []string{"a"}, res.IDs)
	assert.False(t, m.Status().Fallback)
}
