package executor

import (
	"context"
	"time"
)

// checkInterval is how many loop iterations pass between clock reads.
const checkInterval = 256

// budget is a cooperative wall-clock deadline polled from scanning loops.
type budget struct {
	ctx      context.Context
	now      func() time.Time
	deadline time.Time
	enabled  bool
	ticks    int
	expired  bool
}

func newBudget(ctx context.Context, now func() time.Time, start time.Time, ms int) *budget {
	b := &budget{ctx: ctx, now: now}
	if ms > 0 {
		b.enabled = true
		b.deadline = start.Add(time.Duration(ms) * time.Millisecond)
	}
	return b
}

// check reads the clock and reports whether the budget is spent.
func (b *budget) check() bool {
	if b.expired {
		return true
	}
	if b.ctx.Err() != nil || b.enabled && b.now().After(b.deadline) {
		b.expired = true
	}
	return b.expired
}

// tick counts one loop iteration and checks every checkInterval ticks.
func (b *budget) tick() bool {
	if b.expired {
		return true
	}
	b.ticks++
	if b.ticks%checkInterval != 0 {
		return false
	}
	return b.check()
}
