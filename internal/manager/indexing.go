package manager

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	apperrors "github.com/Adithya-Monish-Kumar-K/archive-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/proto"
)

type indexJob struct {
	call *call
	kind string
	envs []proto.Envelope
}

// sameArray reports whether a and b share a backing array.
func sameArray(a, b []proto.Item) bool {
	if cap(a) == 0 || cap(b) == 0 {
		return cap(a) == cap(b)
	}
	return &a[:1][0] == &b[:1][0]
}

// planLocked decides how to bring the worker up to date for source:
// nothing, a patch with the appended tail, or a chunked full rebuild. An
// append in place keeps the backing array and the revision, so the prefix
// the worker holds is still current.
func (m *Manager) planLocked(source proto.Source) (indexJob, bool, error) {
	cur := m.items[source]
	prev, had := m.sent[source]
	if had && prev.revision == cur.revision && sameArray(prev.items, cur.items) {
		switch {
		case len(cur.items) == len(prev.items):
			return indexJob{}, false, nil
		case len(cur.items) > len(prev.items):
			return m.patchLocked(source, cur, cur.items[len(prev.items):])
		}
	}
	return m.fullLocked(source, cur)
}

func (m *Manager) fullLocked(source proto.Source, cur collection) (indexJob, bool, error) {
	batchID := uuid.NewString()
	size := m.opts.ChunkSize
	total := (len(cur.items) + size - 1) / size
	if total == 0 {
		total = 1
	}
	envs := make([]proto.Envelope, 0, total+2)
	start, err := proto.NewEnvelope(proto.TypeIndexFullStart, proto.IndexFullStart{
		BatchID: batchID, Source: source, SchemaVersion: proto.SchemaVersion,
	})
	if err != nil {
		return indexJob{}, false, err
	}
	envs = append(envs, start)
	for i := 0; i < total; i++ {
		lo := i * size
		hi := min(lo+size, len(cur.items))
		chunk, err := proto.NewEnvelope(proto.TypeIndexFullChunk, proto.IndexFullChunk{
			BatchID:       batchID,
			Source:        source,
			ChunkIndex:    i,
			TotalChunks:   total,
			Items:         cur.items[lo:hi],
			SchemaVersion: proto.SchemaVersion,
		})
		if err != nil {
			return indexJob{}, false, err
		}
		envs = append(envs, chunk)
	}
	commit, err := proto.NewEnvelope(proto.TypeIndexFullCommit, proto.IndexFullCommit{
		BatchID: batchID, Source: source, SchemaVersion: proto.SchemaVersion,
	})
	if err != nil {
		return indexJob{}, false, err
	}
	envs = append(envs, commit)

	c := m.registerLocked(batchID, source, cur)
	return indexJob{call: c, kind: proto.ReadyFull, envs: envs}, true, nil
}

func (m *Manager) patchLocked(source proto.Source, cur collection, tail []proto.Item) (indexJob, bool, error) {
	patchID := uuid.NewString()
	env, err := proto.NewEnvelope(proto.TypeIndexPatch, proto.IndexPatch{
		PatchID:       patchID,
		Source:        source,
		Upserts:       tail,
		Deletes:       []string{},
		SchemaVersion: proto.SchemaVersion,
	})
	if err != nil {
		return indexJob{}, false, err
	}
	c := m.registerLocked(patchID, source, cur)
	return indexJob{call: c, kind: proto.ReadyPatch, envs: []proto.Envelope{env}}, true, nil
}

func (m *Manager) registerLocked(id string, source proto.Source, cur collection) *call {
	c := newCall(id, callIndex, source)
	m.pending[id] = c
	m.inflight[id] = c
	m.sent[source] = sentState{items: cur.items, revision: cur.revision, by: id}
	return c
}

// flushIndex sends index updates for every dirty source and returns all
// index calls still awaiting acknowledgement.
func (m *Manager) flushIndex(ctx context.Context) []*call {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	if m.timer != nil {
		m.timer.Stop()
	}
	var jobs []indexJob
	for _, source := range sources {
		if !m.dirty[source] {
			continue
		}
		delete(m.dirty, source)
		job, ok, err := m.planLocked(source)
		if err != nil {
			m.logger.Error("failed to encode index update", "source", source, "error", err)
			continue
		}
		if ok {
			jobs = append(jobs, job)
		}
	}
	waits := make([]*call, 0, len(m.inflight))
	for _, c := range m.inflight {
		waits = append(waits, c)
	}
	m.mu.Unlock()

	// A half-sent batch would never commit, so sends ignore cancellation.
	sendCtx := context.WithoutCancel(ctx)
	for _, job := range jobs {
		m.logger.Debug("sending index update",
			"source", job.call.source,
			"kind", job.kind,
			"id", job.call.id,
			"messages", len(job.envs),
		)
		for _, env := range job.envs {
			if err := m.deliver(sendCtx, env); err != nil {
				m.logger.Warn("index update not delivered", "id", job.call.id, "error", err)
				break
			}
		}
	}
	return waits
}

// syncIndex flushes pending updates and waits until the worker has
// acknowledged all of them. Rejected patches and a switch to the fallback
// worker trigger another round of full rebuilds.
func (m *Manager) syncIndex(ctx context.Context) error {
	for round := 0; round < maxSyncRounds; round++ {
		waits := m.flushIndex(ctx)
		retry := false
		for _, c := range waits {
			select {
			case <-c.done:
			case <-ctx.Done():
				return ctx.Err()
			}
			if c.err == nil {
				continue
			}
			var perr *apperrors.ProtocolError
			switch {
			case errors.As(c.err, &perr) && perr.Code == proto.CodeUnknownPatch:
				retry = true
			case errors.Is(c.err, apperrors.ErrWorkerFailed) && m.inFallback():
				retry = true
			default:
				return fmt.Errorf("indexing %s: %w", c.source, c.err)
			}
		}
		if !retry {
			return nil
		}
	}
	return fmt.Errorf("indexing did not settle after %d rounds: %w", maxSyncRounds, apperrors.ErrInternal)
}

// deliver sends env to the worker, or hands it to the fallback worker once
// the channel has failed. Callers hold sendMu.
func (m *Manager) deliver(ctx context.Context, env proto.Envelope) error {
	m.mu.Lock()
	fb, closed := m.fallback, m.closed
	m.mu.Unlock()
	if closed {
		return apperrors.ErrClosed
	}
	if fb != nil {
		if reply, ok := fb.Handle(ctx, env); ok {
			m.dispatch(reply)
		}
		return nil
	}
	if err := m.ch.Send(ctx, env); err != nil {
		if ctx.Err() == nil {
			m.failWorker(fmt.Errorf("sending %s: %w", env.Type, err))
		}
		return err
	}
	return nil
}
