// Package worker implements the search side of the worker protocol. A
// Worker owns the indexed corpora and answers indexing and query messages
// one at a time; callers only ever see envelopes.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/transport"
	apperrors "github.com/Adithya-Monish-Kumar-K/archive-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/proto"
)

// maxDrain bounds how many queued envelopes one loop pass picks up.
const maxDrain = 256

type Options struct {
	// Cache memoises query results. Nil disables caching.
	Cache *cache.QueryCache
	// Tracker receives query and index events. Nil disables analytics.
	Tracker analytics.Tracker
	// TrackKey is the event key, usually the archive owner.
	TrackKey string
	Metrics  *metrics.Metrics
	// BudgetMs applies to queries that do not set their own budget.
	BudgetMs *int

	CancelCapacity int
	CancelTTL      time.Duration
	Now            func() time.Time
}

// Worker is not safe for concurrent use; Serve drives it from a single
// goroutine and the search manager's fallback serialises its own calls.
type Worker struct {
	engine   *indexer.Engine
	exec     *executor.Executor
	batches  map[string]*batch
	indexed  map[proto.Source]bool
	cancels  *cancelRegistry
	cache    *cache.QueryCache
	tracker  analytics.Tracker
	trackKey string
	metrics  *metrics.Metrics
	budgetMs *int
	now      func() time.Time
	logger   *slog.Logger
}

func New(opts Options) *Worker {
	if opts.CancelCapacity <= 0 {
		opts.CancelCapacity = DefaultCancelCapacity
	}
	if opts.CancelTTL <= 0 {
		opts.CancelTTL = DefaultCancelTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	engine := indexer.NewEngine()
	return &Worker{
		engine:   engine,
		exec:     executor.New(engine),
		batches:  make(map[string]*batch),
		indexed:  make(map[proto.Source]bool, 2),
		cancels:  newCancelRegistry(opts.CancelCapacity, opts.CancelTTL, opts.Now),
		cache:    opts.Cache,
		tracker:  opts.Tracker,
		trackKey: opts.TrackKey,
		metrics:  opts.Metrics,
		budgetMs: opts.BudgetMs,
		now:      opts.Now,
		logger:   slog.Default().With("component", "search-worker"),
	}
}

// Engine exposes the indexed corpora for health reporting.
func (w *Worker) Engine() *indexer.Engine {
	return w.engine
}

// Serve answers envelopes from ch until ctx is cancelled or ch closes.
// Each pass drains what is already queued and applies cancels before
// anything else, so a cancel sent right after its query still wins.
func (w *Worker) Serve(ctx context.Context, ch transport.Channel) error {
	in := ch.Receive()
	w.logger.Info("worker serving")
	for {
		var pending []proto.Envelope
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-in:
			if !ok {
				w.logger.Info("channel closed, worker stopping")
				return nil
			}
			pending = append(pending, env)
		}
		closed := false
	drain:
		for len(pending) < maxDrain {
			select {
			case env, ok := <-in:
				if !ok {
					closed = true
					break drain
				}
				pending = append(pending, env)
			default:
				break drain
			}
		}

		for _, env := range pending {
			if env.Type == proto.TypeQueryCancel {
				w.Handle(ctx, env)
			}
		}
		for _, env := range pending {
			if env.Type == proto.TypeQueryCancel {
				continue
			}
			reply, ok := w.Handle(ctx, env)
			if !ok {
				continue
			}
			if err := ch.Send(ctx, reply); err != nil {
				if errors.Is(err, apperrors.ErrClosed) || ctx.Err() != nil {
					return nil
				}
				w.logger.Error("failed to send reply", "type", reply.Type, "error", err)
			}
		}
		if closed {
			return nil
		}
	}
}

// Handle processes one envelope and returns the reply, if there is one.
func (w *Worker) Handle(ctx context.Context, env proto.Envelope) (proto.Envelope, bool) {
	switch env.Type {
	case proto.TypeIndexFullStart:
		msg, err := proto.Decode[proto.IndexFullStart](env)
		if err != nil {
			return w.badMessage(env, err)
		}
		return w.handleStart(msg)
	case proto.TypeIndexFullChunk:
		msg, err := proto.Decode[proto.IndexFullChunk](env)
		if err != nil {
			return w.badMessage(env, err)
		}
		return w.handleChunk(msg)
	case proto.TypeIndexFullCommit:
		msg, err := proto.Decode[proto.IndexFullCommit](env)
		if err != nil {
			return w.badMessage(env, err)
		}
		return w.handleCommit(ctx, msg)
	case proto.TypeIndexPatch:
		msg, err := proto.Decode[proto.IndexPatch](env)
		if err != nil {
			return w.badMessage(env, err)
		}
		return w.handlePatch(ctx, msg)
	case proto.TypeQueryRun:
		msg, err := proto.Decode[proto.QueryRun](env)
		if err != nil || msg.RequestID == "" {
			if err == nil {
				err = errors.New("missing requestId")
			}
			return w.badMessage(env, err)
		}
		return w.handleQuery(ctx, msg)
	case proto.TypeQueryCancel:
		msg, err := proto.Decode[proto.QueryCancel](env)
		if err != nil {
			w.logger.Warn("ignoring undecodable cancel", "error", err)
			return proto.Envelope{}, false
		}
		w.cancels.add(msg.RequestID)
		w.metrics.QueryCancelled()
		return proto.Envelope{}, false
	default:
		return w.badMessage(env, fmt.Errorf("unexpected message type %q", env.Type))
	}
}

func (w *Worker) handleStart(msg proto.IndexFullStart) (proto.Envelope, bool) {
	corr := proto.ErrorMessage{BatchID: msg.BatchID}
	if msg.SchemaVersion != proto.SchemaVersion {
		return w.schemaMismatch(msg.SchemaVersion, corr)
	}
	if msg.BatchID == "" {
		return w.fail(proto.CodeBadMessage, "index.full.start without batchId", corr)
	}
	if !msg.Source.Valid() {
		return w.fail(proto.CodeInvalidSource, fmt.Sprintf("unknown source %q", msg.Source), corr)
	}
	if _, ok := w.batches[msg.BatchID]; ok {
		w.logger.Warn("restarting batch", "batch_id", msg.BatchID)
	}
	w.batches[msg.BatchID] = &batch{id: msg.BatchID, source: msg.Source, started: w.now()}
	w.logger.Debug("batch started", "batch_id", msg.BatchID, "source", msg.Source)
	return proto.Envelope{}, false
}

func (w *Worker) handleChunk(msg proto.IndexFullChunk) (proto.Envelope, bool) {
	corr := proto.ErrorMessage{BatchID: msg.BatchID}
	if msg.SchemaVersion != proto.SchemaVersion {
		delete(w.batches, msg.BatchID)
		return w.schemaMismatch(msg.SchemaVersion, corr)
	}
	b, ok := w.batches[msg.BatchID]
	if !ok {
		return w.fail(proto.CodeUnknownBatch, fmt.Sprintf("chunk for unknown batch %q", msg.BatchID), corr)
	}
	if msg.Source != b.source {
		delete(w.batches, msg.BatchID)
		return w.fail(proto.CodeInvalidSource, fmt.Sprintf("chunk source %q does not match batch source %q", msg.Source, b.source), corr)
	}
	if code := b.addChunk(msg); code != "" {
		delete(w.batches, msg.BatchID)
		return w.fail(code, fmt.Sprintf("chunk %d/%d rejected, expected %d/%d", msg.ChunkIndex, msg.TotalChunks, b.next, b.total), corr)
	}
	return proto.Envelope{}, false
}

func (w *Worker) handleCommit(ctx context.Context, msg proto.IndexFullCommit) (proto.Envelope, bool) {
	corr := proto.ErrorMessage{BatchID: msg.BatchID}
	if msg.SchemaVersion != proto.SchemaVersion {
		delete(w.batches, msg.BatchID)
		return w.schemaMismatch(msg.SchemaVersion, corr)
	}
	b, ok := w.batches[msg.BatchID]
	if !ok {
		return w.fail(proto.CodeUnknownBatch, fmt.Sprintf("commit for unknown batch %q", msg.BatchID), corr)
	}
	delete(w.batches, msg.BatchID)
	if msg.Source != "" && msg.Source != b.source {
		return w.fail(proto.CodeInvalidSource, fmt.Sprintf("commit source %q does not match batch source %q", msg.Source, b.source), corr)
	}
	if !b.complete() {
		return w.fail(proto.CodeChunkCountMismatch, fmt.Sprintf("commit after %d of %d chunks", b.next, b.total), corr)
	}

	stats := w.engine.ReplaceAll(b.source, b.items)
	w.indexed[b.source] = true
	w.afterBuild(ctx, proto.ReadyFull, stats)
	return w.reply(proto.TypeIndexReady, proto.IndexReady{
		Source:       proto.ReadyFull,
		BatchID:      b.id,
		Corpus:       b.source,
		IndexVersion: stats.IndexVersion,
		DocCount:     stats.DocCount,
		BuildMs:      stats.Took.Milliseconds(),
	})
}

func (w *Worker) handlePatch(ctx context.Context, msg proto.IndexPatch) (proto.Envelope, bool) {
	corr := proto.ErrorMessage{PatchID: msg.PatchID}
	if msg.SchemaVersion != proto.SchemaVersion {
		return w.schemaMismatch(msg.SchemaVersion, corr)
	}
	if msg.PatchID == "" {
		return w.fail(proto.CodeBadMessage, "index.patch without patchId", corr)
	}
	if !msg.Source.Valid() {
		return w.fail(proto.CodeInvalidSource, fmt.Sprintf("unknown source %q", msg.Source), corr)
	}
	if !w.indexed[msg.Source] {
		return w.fail(proto.CodeUnknownPatch, fmt.Sprintf("patch %q targets %s before any full index", msg.PatchID, msg.Source), corr)
	}

	stats := w.engine.ApplyPatch(msg.Source, msg.Upserts, msg.Deletes)
	w.afterBuild(ctx, proto.ReadyPatch, stats)
	return w.reply(proto.TypeIndexReady, proto.IndexReady{
		Source:       proto.ReadyPatch,
		PatchID:      msg.PatchID,
		Corpus:       msg.Source,
		IndexVersion: stats.IndexVersion,
		DocCount:     stats.DocCount,
		BuildMs:      stats.Took.Milliseconds(),
	})
}

func (w *Worker) afterBuild(ctx context.Context, kind string, stats indexer.BuildStats) {
	w.metrics.ObserveIndexBuild(kind, string(stats.Source), stats.DocCount, stats.Took)
	if w.cache != nil {
		if err := w.cache.Invalidate(ctx); err != nil {
			w.logger.Warn("cache invalidation failed", "error", err)
		}
	}
	if w.tracker != nil {
		w.tracker.Track(w.trackKey, analytics.IndexEvent{
			Type:         analytics.EventIndex,
			Kind:         kind,
			Source:       string(stats.Source),
			DocCount:     stats.DocCount,
			BuildMs:      stats.Took.Milliseconds(),
			IndexVersion: stats.IndexVersion,
			Timestamp:    w.now().UTC(),
		})
	}
}

func (w *Worker) handleQuery(ctx context.Context, run proto.QueryRun) (proto.Envelope, bool) {
	if w.cancels.cancelled(run.RequestID) {
		w.logger.Debug("skipping cancelled query", "request_id", run.RequestID)
		return proto.Envelope{}, false
	}
	if run.BudgetMs == nil {
		run.BudgetMs = w.budgetMs
	}

	start := w.now()
	result, cacheStatus := w.execute(ctx, run)
	result.RequestID = run.RequestID

	w.metrics.ObserveQuery(result.Diagnostics.ParseState, cacheStatus, result.Total, result.Diagnostics.PartialResults, w.now().Sub(start))
	if w.tracker != nil {
		eventType := analytics.EventQuery
		if result.Total == 0 {
			eventType = analytics.EventZeroResult
		}
		w.tracker.Track(w.trackKey, analytics.QueryEvent{
			Type:           eventType,
			Query:          run.Query,
			CanonicalQuery: result.CanonicalQuery,
			ParseState:     result.Diagnostics.ParseState,
			Scope:          result.ResolvedScope,
			SortMode:       run.SortMode,
			Total:          result.Total,
			Returned:       len(result.IDs),
			TookMs:         result.Diagnostics.TookMs,
			Partial:        result.Diagnostics.PartialResults,
			CacheHit:       cacheStatus == cacheHit,
			IndexVersion:   result.IndexVersion,
			Timestamp:      w.now().UTC(),
			RequestID:      run.RequestID,
		})
	}
	return w.reply(proto.TypeQueryResult, result)
}

const (
	cacheHit    = "hit"
	cacheMiss   = "miss"
	cacheBypass = "bypass"
)

func (w *Worker) execute(ctx context.Context, run proto.QueryRun) (proto.QueryResult, string) {
	compute := func() (*proto.QueryResult, error) {
		res := w.exec.Run(ctx, executor.RequestFromRun(run))
		return &res.QueryResult, nil
	}
	if w.cache == nil || !cache.Cacheable(run) {
		res, _ := compute()
		return *res, cacheBypass
	}
	key := w.cache.Key(w.engine.Version(), run)
	res, hit, err := w.cache.GetOrCompute(ctx, key, compute)
	if err != nil {
		w.logger.Warn("cached execution failed, running directly", "error", err)
		direct, _ := compute()
		return *direct, cacheBypass
	}
	if hit {
		return res, cacheHit
	}
	return res, cacheMiss
}

func (w *Worker) reply(t proto.MessageType, payload any) (proto.Envelope, bool) {
	env, err := proto.NewEnvelope(t, payload)
	if err != nil {
		w.logger.Error("failed to encode reply", "type", t, "error", err)
		return proto.Envelope{}, false
	}
	return env, true
}

func (w *Worker) schemaMismatch(got int, corr proto.ErrorMessage) (proto.Envelope, bool) {
	return w.fail(proto.CodeSchemaMismatch, fmt.Sprintf("schemaVersion %d, worker speaks %d", got, proto.SchemaVersion), corr)
}

func (w *Worker) fail(code, message string, corr proto.ErrorMessage) (proto.Envelope, bool) {
	corr.Code = code
	corr.Message = message
	w.metrics.ProtocolError(code)
	w.logger.Warn("protocol error",
		"code", code,
		"message", message,
		"batch_id", corr.BatchID,
		"patch_id", corr.PatchID,
		"request_id", corr.RequestID,
	)
	return w.reply(proto.TypeError, corr)
}

// badMessage replies to an envelope that could not be decoded, keeping
// whatever correlation ids are still readable.
func (w *Worker) badMessage(env proto.Envelope, err error) (proto.Envelope, bool) {
	var corr proto.ErrorMessage
	_ = json.Unmarshal(env.Payload, &corr)
	corr.Code, corr.Message = "", ""
	return w.fail(proto.CodeBadMessage, fmt.Sprintf("%s: %v", env.Type, err), corr)
}
