// Package transport carries protocol envelopes between a search manager
// and its worker. Both ends see the same Channel interface whether the
// worker runs in-process or behind Kafka.
package transport

import (
	"context"
	"sync"

	apperrors "github.com/Adithya-Monish-Kumar-K/archive-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/proto"
)

// DefaultBuffer is the per-direction envelope buffer of a pipe.
const DefaultBuffer = 64

// Channel is one end of a bidirectional envelope stream. Receive is closed
// once the channel can no longer deliver anything.
type Channel interface {
	Send(ctx context.Context, env proto.Envelope) error
	Receive() <-chan proto.Envelope
	Close() error
}

type pipe struct {
	mu     sync.RWMutex
	closed bool
	once   sync.Once
	done   chan struct{}
	ab, ba chan proto.Envelope
}

// PipeEnd is one side of an in-process pipe.
type PipeEnd struct {
	p   *pipe
	in  chan proto.Envelope
	out chan proto.Envelope
}

// NewPipe connects two ends with buffered Go channels. Payload bytes are
// copied on send so the ends never share memory. Closing either end closes
// both.
func NewPipe(buffer int) (*PipeEnd, *PipeEnd) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	p := &pipe{
		done: make(chan struct{}),
		ab:   make(chan proto.Envelope, buffer),
		ba:   make(chan proto.Envelope, buffer),
	}
	return &PipeEnd{p: p, in: p.ba, out: p.ab}, &PipeEnd{p: p, in: p.ab, out: p.ba}
}

func (e *PipeEnd) Send(ctx context.Context, env proto.Envelope) error {
	e.p.mu.RLock()
	defer e.p.mu.RUnlock()
	if e.p.closed {
		return apperrors.ErrClosed
	}
	env.Payload = append([]byte(nil), env.Payload...)
	select {
	case e.out <- env:
		return nil
	case <-e.p.done:
		return apperrors.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *PipeEnd) Receive() <-chan proto.Envelope {
	return e.in
}

func (e *PipeEnd) Close() error {
	e.p.once.Do(func() {
		// done first so blocked senders release the read lock.
		close(e.p.done)
		e.p.mu.Lock()
		e.p.closed = true
		close(e.p.ab)
		close(e.p.ba)
		e.p.mu.Unlock()
	})
	return nil
}
