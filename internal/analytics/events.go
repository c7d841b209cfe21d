package analytics

import "time"

type EventType string

const (
	EventQuery      EventType = "query"
	EventZeroResult EventType = "zero_result"
	EventIndex      EventType = "index"
)

// QueryEvent describes one executed query.
type QueryEvent struct {
	Type           EventType `json:"type"`
	Query          string    `json:"query"`
	CanonicalQuery string    `json:"canonical_query"`
	ParseState     string    `json:"parse_state"`
	Scope          string    `json:"scope"`
	SortMode       string    `json:"sort_mode"`
	Total          int       `json:"total"`
	Returned       int       `json:"returned"`
	TookMs         int64     `json:"took_ms"`
	Partial        bool      `json:"partial"`
	CacheHit       bool      `json:"cache_hit"`
	IndexVersion   int64     `json:"index_version"`
	Timestamp      time.Time `json:"timestamp"`
	RequestID      string    `json:"request_id"`
}

// IndexEvent describes one committed corpus rebuild.
type IndexEvent struct {
	Type         EventType `json:"type"`
	Kind         string    `json:"kind"`
	Source       string    `json:"source"`
	DocCount     int       `json:"doc_count"`
	BuildMs      int64     `json:"build_ms"`
	IndexVersion int64     `json:"index_version"`
	Timestamp    time.Time `json:"timestamp"`
}

// Tracker accepts analytics events. Implementations must not block.
type Tracker interface {
	Track(key string, value any)
}
