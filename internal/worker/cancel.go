package worker

import "time"

const (
	DefaultCancelCapacity = 2000
	DefaultCancelTTL      = 10 * time.Second
)

type cancelEntry struct {
	id string
	at time.Time
}

// cancelRegistry remembers recently cancelled request ids so a cancel that
// overtakes its query still suppresses it. Entries expire after ttl and
// the oldest is evicted when the registry is full.
type cancelRegistry struct {
	capacity int
	ttl      time.Duration
	now      func() time.Time
	order    []cancelEntry
	ids      map[string]time.Time
}

func newCancelRegistry(capacity int, ttl time.Duration, now func() time.Time) *cancelRegistry {
	return &cancelRegistry{
		capacity: capacity,
		ttl:      ttl,
		now:      now,
		order:    make([]cancelEntry, 0, capacity),
		ids:      make(map[string]time.Time, capacity),
	}
}

func (r *cancelRegistry) add(id string) {
	if id == "" {
		return
	}
	now := r.now()
	r.expire(now)
	if _, ok := r.ids[id]; ok {
		return
	}
	if len(r.order) >= r.capacity {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.ids, oldest.id)
	}
	r.order = append(r.order, cancelEntry{id: id, at: now})
	r.ids[id] = now
}

func (r *cancelRegistry) cancelled(id string) bool {
	r.expire(r.now())
	_, ok := r.ids[id]
	return ok
}

func (r *cancelRegistry) len() int {
	return len(r.order)
}

func (r *cancelRegistry) expire(now time.Time) {
	n := 0
	for n < len(r.order) && now.Sub(r.order[n].at) >= r.ttl {
		delete(r.ids, r.order[n].id)
		n++
	}
	if n > 0 {
		r.order = r.order[n:]
	}
}
