package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/kafka"
)

const maxLatencySamples = 10000

type AggregatedStats struct {
	TotalQueries      int64        `json:"total_queries"`
	TotalIndexBuilds  int64        `json:"total_index_builds"`
	CacheHits         int64        `json:"cache_hits"`
	CacheMisses       int64        `json:"cache_misses"`
	PartialResults    int64        `json:"partial_results"`
	ZeroResultCount   int64        `json:"zero_result_count"`
	AvgLatencyMs      float64      `json:"avg_latency_ms"`
	P50LatencyMs      int64        `json:"p50_latency_ms"`
	P95LatencyMs      int64        `json:"p95_latency_ms"`
	P99LatencyMs      int64        `json:"p99_latency_ms"`
	TopQueries        []QueryCount `json:"top_queries"`
	ZeroResultQueries []QueryCount `json:"zero_result_queries"`
	QueriesPerMinute  float64      `json:"queries_per_minute"`
}

type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// Aggregator keeps running totals over query and index events. It can be
// fed directly through Track or from the analytics topic via HandleEvent.
type Aggregator struct {
	mu                sync.RWMutex
	totalQueries      atomic.Int64
	totalIndexBuilds  atomic.Int64
	cacheHits         atomic.Int64
	cacheMisses       atomic.Int64
	partials          atomic.Int64
	zeroResults       atomic.Int64
	latencies         []int64
	queryCounts       map[string]int64
	zeroResultQueries map[string]int64
	startTime         time.Time
	logger            *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		latencies:         make([]int64, 0, 1024),
		queryCounts:       make(map[string]int64),
		zeroResultQueries: make(map[string]int64),
		startTime:         time.Now(),
		logger:            slog.Default().With("component", "analytics-aggregator"),
	}
}

// Track records an event value of type QueryEvent or IndexEvent.
func (a *Aggregator) Track(_ string, value any) {
	switch ev := value.(type) {
	case QueryEvent:
		a.recordQuery(ev)
	case *QueryEvent:
		a.recordQuery(*ev)
	case IndexEvent:
		a.totalIndexBuilds.Add(1)
	case *IndexEvent:
		a.totalIndexBuilds.Add(1)
	default:
		a.logger.Warn("ignoring unknown analytics event", "type", fmt.Sprintf("%T", value))
	}
}

// HandleEvent decodes events published by a Collector.
func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		var head struct {
			Type EventType `json:"type"`
		}
		if err := json.Unmarshal(value, &head); err != nil {
			agg.logger.Error("failed to decode analytics event", "error", err)
			return nil
		}
		switch head.Type {
		case EventIndex:
			ev, err := kafka.DecodeJSON[IndexEvent](value)
			if err != nil {
				agg.logger.Error("failed to decode index event", "error", err)
				return nil
			}
			agg.Track(string(key), ev)
		case EventQuery, EventZeroResult:
			ev, err := kafka.DecodeJSON[QueryEvent](value)
			if err != nil {
				agg.logger.Error("failed to decode query event", "error", err)
				return nil
			}
			agg.Track(string(key), ev)
		default:
			agg.logger.Warn("unknown analytics event type", "type", head.Type)
		}
		return nil
	}
}

func (a *Aggregator) recordQuery(event QueryEvent) {
	a.totalQueries.Add(1)
	if event.CacheHit {
		a.cacheHits.Add(1)
	} else {
		a.cacheMisses.Add(1)
	}
	if event.Partial {
		a.partials.Add(1)
	}
	if event.Total == 0 {
		a.zeroResults.Add(1)
	}
	query := event.CanonicalQuery
	if query == "" {
		query = event.Query
	}

	a.mu.Lock()
	if len(a.latencies) == maxLatencySamples {
		a.latencies = a.latencies[1:]
	}
	a.latencies = append(a.latencies, event.TookMs)
	a.queryCounts[query]++
	if event.Total == 0 {
		a.zeroResultQueries[query]++
	}
	a.mu.Unlock()
}

func (a *Aggregator) Stats() AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := AggregatedStats{
		TotalQueries:     a.totalQueries.Load(),
		TotalIndexBuilds: a.totalIndexBuilds.Load(),
		CacheHits:        a.cacheHits.Load(),
		CacheMisses:      a.cacheMisses.Load(),
		PartialResults:   a.partials.Load(),
		ZeroResultCount:  a.zeroResults.Load(),
	}
	if len(a.latencies) > 0 {
		sorted := make([]int64, len(a.latencies))
		copy(sorted, a.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	stats.TopQueries = topN(a.queryCounts, 10)
	stats.ZeroResultQueries = topN(a.zeroResultQueries, 10)
	if elapsed := time.Since(a.startTime).Minutes(); elapsed > 0 {
		stats.QueriesPerMinute = float64(stats.TotalQueries) / elapsed
	}
	return stats
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func topN(counts map[string]int64, n int) []QueryCount {
	result := make([]QueryCount, 0, len(counts))
	for query, count := range counts {
		result = append(result, QueryCount{Query: query, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Query < result[j].Query
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
