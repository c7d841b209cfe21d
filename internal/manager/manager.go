// Package manager is the caller side of the worker protocol. A Manager
// holds the authoritative item collections, keeps the worker's index in
// step with them and turns query replies back into items.
//
// The synchronisation discipline is small: queries wait for any pending
// indexing, and at most one query is in flight. A newer query supersedes
// the older one, which resolves with StatusSuperseded instead of an error.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/searcher/facets"
	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/transport"
	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/worker"
	apperrors "github.com/Adithya-Monish-Kumar-K/archive-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/tracing"
)

const (
	StatusOK         = "ok"
	StatusSuperseded = "cancelled-superseded"

	DefaultDebounce = 50 * time.Millisecond

	// maxSyncRounds bounds index resends after unknown-patch or fallback.
	maxSyncRounds = 3
)

var sources = []proto.Source{proto.SourceAuthored, proto.SourceContext}

type Options struct {
	// ChunkSize is the number of items per index.full.chunk.
	ChunkSize int
	// Debounce delays re-indexing after an item update. Negative values
	// index immediately.
	Debounce    time.Duration
	FacetBudget time.Duration
	Metrics     *metrics.Metrics
	// Worker configures the in-thread worker used after the channel fails.
	Worker worker.Options
}

type SearchRequest struct {
	Query        string
	Limit        int
	SortMode     string
	Scope        string
	BudgetMs     *int
	DebugExplain bool
}

// SearchResult is a worker result with ids resolved to items.
type SearchResult struct {
	proto.QueryResult
	Status string       `json:"status"`
	Items  []proto.Item `json:"items"`
}

// Status summarises the manager for health reporting.
type Status struct {
	Fallback     bool   `json:"fallback"`
	Failure      string `json:"failure,omitempty"`
	IndexVersion int64  `json:"indexVersion"`
	Authored     int    `json:"authored"`
	Context      int    `json:"context"`
	Pending      int    `json:"pending"`
}

type collection struct {
	items    []proto.Item
	revision string
}

// sentState is what the worker was last asked to index for a source.
type sentState struct {
	items    []proto.Item
	revision string
	by       string
}

type callKind int

const (
	callIndex callKind = iota
	callQuery
)

type call struct {
	id         string
	kind       callKind
	source     proto.Source
	done       chan struct{}
	ready      proto.IndexReady
	result     proto.QueryResult
	err        error
	superseded bool
}

func newCall(id string, kind callKind, source proto.Source) *call {
	return &call{id: id, kind: kind, source: source, done: make(chan struct{})}
}

type Manager struct {
	ch     transport.Channel
	opts   Options
	logger *slog.Logger

	// sendMu keeps multi-message sequences contiguous on the channel and
	// serialises the fallback worker.
	sendMu sync.Mutex

	mu       sync.Mutex
	items    map[proto.Source]collection
	sent     map[proto.Source]sentState
	dirty    map[proto.Source]bool
	byID     map[string]*proto.Item
	timer    *time.Timer
	pending  map[string]*call
	inflight map[string]*call
	current  string
	version  int64
	failure  error
	fallback *worker.Worker
	closed   bool

	loopDone chan struct{}
}

// New starts a manager talking to a worker over ch.
func New(ch transport.Channel, opts Options) *Manager {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = proto.DefaultChunkSize
	}
	if opts.Debounce == 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.FacetBudget <= 0 {
		opts.FacetBudget = facets.DefaultBudget
	}
	m := &Manager{
		ch:       ch,
		opts:     opts,
		logger:   slog.Default().With("component", "search-manager"),
		items:    make(map[proto.Source]collection, 2),
		sent:     make(map[proto.Source]sentState, 2),
		dirty:    make(map[proto.Source]bool, 2),
		byID:     make(map[string]*proto.Item),
		pending:  make(map[string]*call),
		inflight: make(map[string]*call),
		loopDone: make(chan struct{}),
	}
	go m.receiveLoop()
	return m
}

// NewLocal runs a worker on its own goroutine behind an in-process pipe.
func NewLocal(ctx context.Context, opts Options) *Manager {
	client, server := transport.NewPipe(transport.DefaultBuffer)
	w := worker.New(opts.Worker)
	go func() {
		defer server.Close()
		if err := w.Serve(ctx, server); err != nil && !errors.Is(err, context.Canceled) {
			slog.Default().Error("local worker stopped", "error", err)
		}
	}()
	return New(client, opts)
}

// SetAuthoredItems replaces the authored collection. revision must change
// whenever items are edited in place.
func (m *Manager) SetAuthoredItems(items []proto.Item, revision string) {
	m.setItems(proto.SourceAuthored, items, revision)
}

// SetContextItems replaces the context collection.
func (m *Manager) SetContextItems(items []proto.Item, revision string) {
	m.setItems(proto.SourceContext, items, revision)
}

func (m *Manager) setItems(source proto.Source, items []proto.Item, revision string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.items[source] = collection{items: items, revision: revision}
	m.rebuildIDMapLocked()
	m.dirty[source] = true
	m.scheduleLocked()
}

// rebuildIDMapLocked maps ids to items. Authored entries win.
func (m *Manager) rebuildIDMapLocked() {
	authored := m.items[proto.SourceAuthored].items
	related := m.items[proto.SourceContext].items
	byID := make(map[string]*proto.Item, len(authored)+len(related))
	for i := range authored {
		if _, ok := byID[authored[i].ID]; !ok {
			byID[authored[i].ID] = &authored[i]
		}
	}
	for i := range related {
		if _, ok := byID[related[i].ID]; !ok {
			byID[related[i].ID] = &related[i]
		}
	}
	m.byID = byID
}

func (m *Manager) scheduleLocked() {
	if m.opts.Debounce < 0 {
		go m.flushIndex(context.Background())
		return
	}
	if m.timer == nil {
		m.timer = time.AfterFunc(m.opts.Debounce, func() {
			m.flushIndex(context.Background())
		})
		return
	}
	m.timer.Reset(m.opts.Debounce)
}

// Flush sends pending index updates now and waits for the worker to
// acknowledge them.
func (m *Manager) Flush(ctx context.Context) error {
	return m.syncIndex(ctx)
}

// RunSearch waits for pending indexing, supersedes any query still in
// flight and runs req on the worker.
func (m *Manager) RunSearch(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	ctx, span := tracing.Start(ctx, "search", "")
	defer span.End()

	_, syncSpan := tracing.Start(ctx, "sync-index", "")
	err := m.syncIndex(ctx)
	syncSpan.End()
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	span.SetAttr("query_id", id)
	c := newCall(id, callQuery, "")
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, apperrors.ErrClosed
	}
	var prev *call
	if m.current != "" {
		prev = m.takeLocked(m.current)
	}
	m.current = id
	m.pending[id] = c
	expected := m.version
	m.mu.Unlock()

	if prev != nil {
		prev.superseded = true
		close(prev.done)
	}

	run := proto.QueryRun{
		RequestID:            id,
		Query:                req.Query,
		Limit:                req.Limit,
		SortMode:             req.SortMode,
		ScopeParam:           req.Scope,
		BudgetMs:             req.BudgetMs,
		DebugExplain:         req.DebugExplain,
		ExpectedIndexVersion: &expected,
	}
	_, workerSpan := tracing.Start(ctx, "worker", "")
	defer workerSpan.End()
	if err := m.sendQuery(ctx, run, prev); err != nil {
		m.abandon(id, false)
		return nil, err
	}

	select {
	case <-c.done:
	case <-ctx.Done():
		m.abandon(id, true)
		return nil, ctx.Err()
	}
	workerSpan.End()

	if c.superseded {
		return &SearchResult{
			QueryResult: proto.QueryResult{RequestID: id, IDs: []string{}},
			Status:      StatusSuperseded,
			Items:       []proto.Item{},
		}, nil
	}
	if c.err != nil {
		return nil, c.err
	}
	res := m.resolve(c.result)
	span.SetAttr("total", res.Total)
	return res, nil
}

func (m *Manager) sendQuery(ctx context.Context, run proto.QueryRun, prev *call) error {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()
	if prev != nil {
		if err := m.deliver(ctx, mustEnvelope(proto.TypeQueryCancel, proto.QueryCancel{RequestID: prev.id})); err != nil {
			return m.sendError(ctx, err)
		}
	}
	if err := m.deliver(ctx, mustEnvelope(proto.TypeQueryRun, run)); err != nil {
		return m.sendError(ctx, err)
	}
	return nil
}

func (m *Manager) sendError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, apperrors.ErrClosed) && m.isClosed() {
		return apperrors.ErrClosed
	}
	return fmt.Errorf("%w: sending query: %w", apperrors.ErrWorkerFailed, err)
}

// abandon drops a query the caller no longer waits for.
func (m *Manager) abandon(id string, cancel bool) {
	m.mu.Lock()
	c := m.takeLocked(id)
	if m.current == id {
		m.current = ""
	}
	m.mu.Unlock()
	if c == nil || !cancel {
		return
	}
	m.sendMu.Lock()
	defer m.sendMu.Unlock()
	if err := m.deliver(context.Background(), mustEnvelope(proto.TypeQueryCancel, proto.QueryCancel{RequestID: id})); err != nil {
		m.logger.Debug("cancel not delivered", "request_id", id, "error", err)
	}
}

// resolve maps result ids back to items and lowers total by the ids that
// no longer resolve.
func (m *Manager) resolve(result proto.QueryResult) *SearchResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == result.RequestID {
		m.current = ""
	}
	items := make([]proto.Item, 0, len(result.IDs))
	ids := make([]string, 0, len(result.IDs))
	for _, id := range result.IDs {
		if item, ok := m.byID[id]; ok {
			items = append(items, *item)
			ids = append(ids, id)
		}
	}
	if missing := len(result.IDs) - len(ids); missing > 0 {
		m.logger.Debug("result ids not in item map", "missing", missing, "index_version", result.IndexVersion)
		result.Total -= missing
		if result.Total < len(ids) {
			result.Total = len(ids)
		}
	}
	result.IDs = ids
	return &SearchResult{QueryResult: result, Status: StatusOK, Items: items}
}

// Facets computes facet counts over the held items for scope, which falls
// back to the query's scope directive.
func (m *Manager) Facets(query, scope string) facets.Result {
	scope = strings.ToLower(strings.TrimSpace(scope))
	if scope != parser.ScopeAuthored && scope != parser.ScopeAll {
		scope = parser.Parse(query).Scope()
	}
	m.mu.Lock()
	authored := m.items[proto.SourceAuthored].items
	items := make([]proto.Item, 0, len(authored))
	items = append(items, authored...)
	if scope == parser.ScopeAll {
		seen := make(map[string]struct{}, len(authored))
		for i := range authored {
			seen[authored[i].ID] = struct{}{}
		}
		for _, item := range m.items[proto.SourceContext].items {
			if _, dup := seen[item.ID]; !dup {
				seen[item.ID] = struct{}{}
				items = append(items, item)
			}
		}
	}
	m.mu.Unlock()
	return facets.Compute(items, query, facets.Options{Budget: m.opts.FacetBudget})
}

// Item looks up a held item by id.
func (m *Manager) Item(id string) (proto.Item, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.byID[id]
	if !ok {
		return proto.Item{}, false
	}
	return *item, true
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Status{
		Fallback:     m.fallback != nil,
		IndexVersion: m.version,
		Authored:     len(m.items[proto.SourceAuthored].items),
		Context:      len(m.items[proto.SourceContext].items),
		Pending:      len(m.pending),
	}
	if m.failure != nil {
		s.Failure = m.failure.Error()
	}
	return s
}

// Close rejects pending requests and closes the channel. The manager
// cannot be reused.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	if m.timer != nil {
		m.timer.Stop()
	}
	calls := m.drainLocked()
	m.mu.Unlock()

	for _, c := range calls {
		c.err = apperrors.ErrClosed
		close(c.done)
	}
	err := m.ch.Close()
	<-m.loopDone
	return err
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Manager) inFallback() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fallback != nil
}

// takeLocked removes a pending call. Whoever takes a call resolves it.
func (m *Manager) takeLocked(id string) *call {
	c, ok := m.pending[id]
	if !ok {
		return nil
	}
	delete(m.pending, id)
	delete(m.inflight, id)
	return c
}

func (m *Manager) drainLocked() []*call {
	calls := make([]*call, 0, len(m.pending))
	for _, c := range m.pending {
		calls = append(calls, c)
	}
	m.pending = make(map[string]*call)
	m.inflight = make(map[string]*call)
	m.current = ""
	return calls
}

func mustEnvelope(t proto.MessageType, payload any) proto.Envelope {
	env, err := proto.NewEnvelope(t, payload)
	if err != nil {
		// Query and cancel payloads hold only strings and ints.
		panic(err)
	}
	return env
}
