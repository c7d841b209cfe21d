package analytics

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	apperrors "github.com/Adithya-Monish-Kumar-K/archive-search/pkg/errors"
)

// maxTop bounds the ?top= parameter.
const maxTop = 100

// Report is the analytics response: the aggregated counters plus rates
// derived from them. Rates are 0 before the first query.
type Report struct {
	AggregatedStats
	ZeroResultRate    float64 `json:"zero_result_rate"`
	PartialResultRate float64 `json:"partial_result_rate"`
	CacheHitRate      float64 `json:"cache_hit_rate"`
}

// NewReport derives rates from stats and keeps at most top entries in
// the query lists. top <= 0 keeps them all.
func NewReport(stats AggregatedStats, top int) Report {
	if top > 0 {
		stats.TopQueries = stats.TopQueries[:min(top, len(stats.TopQueries))]
		stats.ZeroResultQueries = stats.ZeroResultQueries[:min(top, len(stats.ZeroResultQueries))]
	}
	r := Report{AggregatedStats: stats}
	if stats.TotalQueries > 0 {
		r.ZeroResultRate = float64(stats.ZeroResultCount) / float64(stats.TotalQueries)
		r.PartialResultRate = float64(stats.PartialResults) / float64(stats.TotalQueries)
	}
	if lookups := stats.CacheHits + stats.CacheMisses; lookups > 0 {
		r.CacheHitRate = float64(stats.CacheHits) / float64(lookups)
	}
	return r
}

type Handler struct {
	aggregator *Aggregator
	logger     *slog.Logger
}

func NewHandler(aggregator *Aggregator) *Handler {
	return &Handler{
		aggregator: aggregator,
		logger:     slog.Default().With("component", "analytics-handler"),
	}
}

// Stats serves GET /api/v1/analytics[?top=N].
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	top := 0
	if raw := r.URL.Query().Get("top"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxTop {
			h.write(w, apperrors.HTTPStatusCode(apperrors.ErrInvalidInput), map[string]string{
				"error": "top must be an integer between 1 and " + strconv.Itoa(maxTop),
			})
			return
		}
		top = n
	}
	h.write(w, http.StatusOK, NewReport(h.aggregator.Stats(), top))
}

func (h *Handler) write(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to write analytics response", "error", err)
	}
}
