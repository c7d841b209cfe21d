// Package tracing records per-request span trees. Spans travel in the
// context; when a root span ends the whole tree is logged at debug level,
// one record per span.
package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/logger"
)

type contextKey struct{}

// Span is one timed step of a request.
type Span struct {
	Name    string
	TraceID string
	Start   time.Time

	parent *Span

	mu       sync.Mutex
	duration time.Duration
	ended    bool
	attrs    []any
	children []*Span
}

// Start opens a span under the span already in ctx, or a root span when
// there is none. An empty traceID on a root span falls back to the
// request id carried by ctx.
func Start(ctx context.Context, name, traceID string) (context.Context, *Span) {
	s := &Span{Name: name, TraceID: traceID, Start: time.Now()}
	if parent := FromContext(ctx); parent != nil {
		s.parent = parent
		s.TraceID = parent.TraceID
		parent.mu.Lock()
		parent.children = append(parent.children, s)
		parent.mu.Unlock()
	} else if s.TraceID == "" {
		s.TraceID = logger.RequestID(ctx)
	}
	return context.WithValue(ctx, contextKey{}, s), s
}

// FromContext returns the innermost span in ctx, or nil.
func FromContext(ctx context.Context) *Span {
	s, _ := ctx.Value(contextKey{}).(*Span)
	return s
}

func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	s.attrs = append(s.attrs, key, value)
	s.mu.Unlock()
}

// End records the duration. Later calls are no-ops. Ending a root span
// logs the tree.
func (s *Span) End() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.duration = time.Since(s.Start)
	s.mu.Unlock()
	if s.parent == nil {
		s.log(slog.Default().With("component", "tracing"), 0)
	}
}

// Duration is zero until End is called.
func (s *Span) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duration
}

func (s *Span) Children() []*Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Span(nil), s.children...)
}

func (s *Span) log(l *slog.Logger, depth int) {
	s.mu.Lock()
	args := []any{
		"trace_id", s.TraceID,
		"span", s.Name,
		"depth", depth,
		"duration_ms", s.duration.Milliseconds(),
		"ended", s.ended,
	}
	args = append(args, s.attrs...)
	children := append([]*Span(nil), s.children...)
	s.mu.Unlock()

	l.Debug("span", args...)
	for _, child := range children {
		child.log(l, depth+1)
	}
}
