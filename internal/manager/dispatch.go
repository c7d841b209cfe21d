package manager

import (
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/worker"
	apperrors "github.com/Adithya-Monish-Kumar-K/archive-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/proto"
)

func (m *Manager) receiveLoop() {
	defer close(m.loopDone)
	for env := range m.ch.Receive() {
		m.dispatch(env)
	}
	m.failWorker(fmt.Errorf("worker channel closed: %w", apperrors.ErrUnavailable))
}

// dispatch routes a worker reply to the call it answers. Replies for ids
// that are no longer pending, such as superseded queries, are dropped.
func (m *Manager) dispatch(env proto.Envelope) {
	switch env.Type {
	case proto.TypeIndexReady:
		msg, err := proto.Decode[proto.IndexReady](env)
		if err != nil {
			m.failWorker(err)
			return
		}
		id := msg.BatchID
		if id == "" {
			id = msg.PatchID
		}
		m.mu.Lock()
		c := m.takeLocked(id)
		if msg.IndexVersion > m.version {
			m.version = msg.IndexVersion
		}
		m.mu.Unlock()
		if c == nil {
			m.logger.Debug("dropping index.ready for unknown id", "id", id)
			return
		}
		m.logger.Debug("index ready",
			"corpus", msg.Corpus,
			"kind", msg.Source,
			"docs", msg.DocCount,
			"index_version", msg.IndexVersion,
			"build_ms", msg.BuildMs,
		)
		c.ready = msg
		close(c.done)

	case proto.TypeQueryResult:
		msg, err := proto.Decode[proto.QueryResult](env)
		if err != nil {
			m.failWorker(err)
			return
		}
		m.mu.Lock()
		c := m.takeLocked(msg.RequestID)
		m.mu.Unlock()
		if c == nil {
			m.logger.Debug("dropping stale query result", "request_id", msg.RequestID)
			return
		}
		c.result = msg
		close(c.done)

	case proto.TypeError:
		msg, err := proto.Decode[proto.ErrorMessage](env)
		if err != nil {
			m.failWorker(err)
			return
		}
		m.opts.Metrics.ProtocolError(msg.Code)
		perr := &apperrors.ProtocolError{Code: msg.Code, Message: msg.Message}
		if !msg.Correlated() {
			m.failWorker(perr)
			return
		}
		id := firstNonEmpty(msg.BatchID, msg.PatchID, msg.RequestID)
		m.mu.Lock()
		c := m.takeLocked(id)
		if c != nil && c.kind == callIndex {
			if sent, ok := m.sent[c.source]; ok && sent.by == c.id {
				delete(m.sent, c.source)
			}
			if msg.Code == proto.CodeUnknownPatch {
				m.dirty[c.source] = true
			}
		}
		m.mu.Unlock()
		if c == nil {
			m.logger.Debug("dropping error for unknown id", "id", id, "code", msg.Code)
			return
		}
		m.logger.Warn("worker rejected request", "id", id, "code", msg.Code, "message", msg.Message)
		c.err = perr
		close(c.done)

	default:
		m.failWorker(&apperrors.ProtocolError{
			Code:    proto.CodeBadMessage,
			Message: fmt.Sprintf("unexpected message type %q from worker", env.Type),
		})
	}
}

// failWorker marks the worker permanently failed: pending calls reject
// with ErrWorkerFailed and later requests run on an in-thread worker that
// is rebuilt from the held items.
func (m *Manager) failWorker(cause error) {
	m.mu.Lock()
	if m.closed || m.failure != nil {
		m.mu.Unlock()
		return
	}
	m.failure = cause
	calls := m.drainLocked()
	m.sent = make(map[proto.Source]sentState, 2)
	for _, source := range sources {
		if _, ok := m.items[source]; ok {
			m.dirty[source] = true
		}
	}
	// Same protocol state machine as a remote worker, run in-thread.
	m.fallback = worker.New(m.opts.Worker)
	m.mu.Unlock()

	m.logger.Error("worker failed, using in-thread fallback", "error", cause, "rejected", len(calls))
	m.opts.Metrics.Fallback()
	for _, c := range calls {
		c.err = fmt.Errorf("%w: %w", apperrors.ErrWorkerFailed, cause)
		close(c.done)
	}
	if err := m.ch.Close(); err != nil {
		m.logger.Debug("closing failed channel", "error", err)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
