package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/kafka"
)

type fakePublisher struct {
	mu      sync.Mutex
	batches [][]kafka.Event
	err     error
}

func (p *fakePublisher) PublishBatch(_ context.Context, events []kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.batches = append(p.batches, events)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, b := range p.batches {
		n += len(b)
	}
	return n
}

func TestCollectorFlushesOnClose(t *testing.T) {
	pub := &fakePublisher{}
	c := NewCollector(pub, 100, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)

	c.Track("u1", QueryEvent{Type: EventQuery, Query: "fox"})
	c.Track("u1", IndexEvent{Type: EventIndex, Source: "authored"})
	assert.Equal(t, 2, c.BufferLen())

	cancel()
	c.Close()
	assert.Equal(t, 2, pub.count())
	assert.Equal(t, 0, c.BufferLen())
}

func TestCollectorFlushesFullBatch(t *testing.T) {
	pub := &fakePublisher{}
	c := NewCollector(pub, 2, time.Hour)
	c.Track("u1", QueryEvent{Query: "a"})
	c.Track("u1", QueryEvent{Query: "b"})
	assert.Eventually(t, func() bool { return pub.count() == 2 }, time.Second, 5*time.Millisecond)
}

func TestCollectorRequeuesOnFailure(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	c := NewCollector(pub, 2, time.Hour)
	for i := 0; i < 10; i++ {
		c.buffer = append(c.buffer, kafka.Event{Key: "u1", Value: QueryEvent{Query: "q"}})
	}
	c.flush(context.Background())
	assert.Equal(t, 6, c.BufferLen())
}

func TestAggregatorStats(t *testing.T) {
	agg := NewAggregator()
	agg.Track("u1", QueryEvent{Query: "Fox", CanonicalQuery: "fox", Total: 3, TookMs: 10})
	agg.Track("u1", QueryEvent{Query: "fox", CanonicalQuery: "fox", Total: 3, TookMs: 20, CacheHit: true})
	agg.Track("u1", &QueryEvent{Query: "zebra", CanonicalQuery: "zebra", Total: 0, TookMs: 30, Partial: true})
	agg.Track("u1", IndexEvent{Type: EventIndex})
	agg.Track("u1", "noise")

	stats := agg.Stats()
	assert.Equal(t, int64(3), stats.TotalQueries)
	assert.Equal(t, int64(1), stats.TotalIndexBuilds)
	assert.Equal(t, int64(1), stats.CacheHits)
	assert.Equal(t, int64(2), stats.CacheMisses)
	assert.Equal(t, int64(1), stats.PartialResults)
	assert.Equal(t, int64(1), stats.ZeroResultCount)
	assert.InDelta(t, 20.0, stats.AvgLatencyMs, 0.001)
	assert.Equal(t, int64(20), stats.P50LatencyMs)
	assert.Equal(t, []QueryCount{{Query: "fox", Count: 2}, {Query: "zebra", Count: 1}}, stats.TopQueries)
	assert.Equal(t, []QueryCount{{Query: "zebra", Count: 1}}, stats.ZeroResultQueries)
}

func TestHandleEventDecodesPublishedEvents(t *testing.T) {
	agg := NewAggregator()
	handle := HandleEvent(agg)
	ctx := context.Background()

	q, err := json.Marshal(QueryEvent{Type: EventQuery, Query: "fox", Total: 1})
	require.NoError(t, err)
	ix, err := json.Marshal(IndexEvent{Type: EventIndex, Source: "authored"})
	require.NoError(t, err)

	require.NoError(t, handle(ctx, []byte("u1"), q))
	require.NoError(t, handle(ctx, []byte("u1"), ix))
	require.NoError(t, handle(ctx, []byte("u1"), []byte("garbage")))

	stats := agg.Stats()
	assert.Equal(t, int64(1), stats.TotalQueries)
	assert.Equal(t, int64(1), stats.TotalIndexBuilds)
}

func TestStatsHandler(t *testing.T) {
	agg := NewAggregator()
	agg.Track("u1", QueryEvent{Query: "fox", Total: 1, CacheHit: true})
	agg.Track("u1", QueryEvent{Query: "fox", Total: 1})
	agg.Track("u1", QueryEvent{Query: "dog", Total: 0, Partial: true})
	agg.Track("u1", QueryEvent{Query: "cat", Total: 0})
	h := NewHandler(agg)

	tests := []struct {
		name   string
		target string
		status int
		top    int
	}{
		{"all queries", "/api/v1/analytics", http.StatusOK, 3},
		{"trimmed", "/api/v1/analytics?top=1", http.StatusOK, 1},
		{"zero top", "/api/v1/analytics?top=0", http.StatusBadRequest, 0},
		{"not a number", "/api/v1/analytics?top=x", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Stats(rec, httptest.NewRequest(http.MethodGet, tt.target, nil))
			require.Equal(t, tt.status, rec.Code)
			if tt.status != http.StatusOK {
				return
			}
			var got Report
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
			assert.Equal(t, int64(4), got.TotalQueries)
			assert.Len(t, got.TopQueries, tt.top)
			assert.InDelta(t, 0.5, got.ZeroResultRate, 1e-9)
			assert.InDelta(t, 0.25, got.PartialResultRate, 1e-9)
			assert.InDelta(t, 0.25, got.CacheHitRate, 1e-9)
		})
	}
}

func TestNewReportWithoutQueries(t *testing.T) {
	r := NewReport(AggregatedStats{}, 5)
	assert.Zero(t, r.ZeroResultRate)
	assert.Zero(t, r.CacheHitRate)
	assert.Empty(t, r.TopQueries)
}
