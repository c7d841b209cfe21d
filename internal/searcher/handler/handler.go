// Package handler serves the archive search HTTP API on top of a search
// manager.
//
// The manager runs one query stream: every search request shares it, and a
// new query supersedes the one in flight. The superseded request is
// answered with 409 Conflict and status "cancelled-superseded" so clients
// can tell it apart from an empty result and retry.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/itemstore"
	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/manager"
	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/searcher/facets"
	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/searcher/parser"
	apperrors "github.com/Adithya-Monish-Kumar-K/archive-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/proto"
)

// Searcher is the part of *manager.Manager the API needs.
type Searcher interface {
	itemstore.Sink
	RunSearch(ctx context.Context, req manager.SearchRequest) (*manager.SearchResult, error)
	Facets(query, scope string) facets.Result
	Item(id string) (proto.Item, bool)
	Status() manager.Status
	Flush(ctx context.Context) error
}

type Options struct {
	DefaultLimit int
	MaxResults   int
	// UserID and Store back POST /api/v1/reload. A nil Store disables it.
	UserID string
	Store  itemstore.Store
	// Stats serves GET /api/v1/analytics when set.
	Stats *analytics.Aggregator
}

type Handler struct {
	searcher Searcher
	opts     Options
	logger   *slog.Logger
}

func New(searcher Searcher, opts Options) *Handler {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 50
	}
	if opts.MaxResults < opts.DefaultLimit {
		opts.MaxResults = opts.DefaultLimit
	}
	return &Handler{
		searcher: searcher,
		opts:     opts,
		logger:   slog.Default().With("component", "search-handler"),
	}
}

// Register adds the API routes to mux.
//
//	GET  /api/v1/search      run a query (409 when superseded)
//	GET  /api/v1/facets      facet counts for a query
//	GET  /api/v1/parse       parsed form of a query
//	GET  /api/v1/items/{id}  one held item
//	GET  /api/v1/status      manager status
//	POST /api/v1/reload      reload the archive from the item store
//	GET  /api/v1/analytics   aggregated query analytics
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/facets", h.Facets)
	mux.HandleFunc("GET /api/v1/parse", h.Parse)
	mux.HandleFunc("GET /api/v1/items/{id}", h.Item)
	mux.HandleFunc("GET /api/v1/status", h.Status)
	mux.HandleFunc("POST /api/v1/reload", h.Reload)
	if h.opts.Stats != nil {
		mux.HandleFunc("GET /api/v1/analytics", analytics.NewHandler(h.opts.Stats).Stats)
	}
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	q := r.URL.Query()

	req := manager.SearchRequest{
		Query:        q.Get("q"),
		Limit:        h.opts.DefaultLimit,
		SortMode:     q.Get("sort"),
		Scope:        q.Get("scope"),
		DebugExplain: q.Get("explain") == "true" || q.Get("explain") == "1",
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.writeError(w, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "limit must be a positive integer"))
			return
		}
		req.Limit = min(n, h.opts.MaxResults)
	}
	if v := q.Get("budgetMs"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.writeError(w, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "budgetMs must be a non-negative integer"))
			return
		}
		req.BudgetMs = &n
	}

	start := time.Now()
	result, err := h.searcher.RunSearch(ctx, req)
	if err != nil {
		log.Error("search failed", "query", req.Query, "error", err)
		h.writeError(w, err)
		return
	}
	log.Info("search completed",
		"query", req.Query,
		"status", result.Status,
		"total", result.Total,
		"returned", len(result.Items),
		"partial", result.Diagnostics.PartialResults,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	code := http.StatusOK
	if result.Status == manager.StatusSuperseded {
		code = http.StatusConflict
	}
	h.writeJSON(w, code, result)
}

func (h *Handler) Facets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	h.writeJSON(w, http.StatusOK, h.searcher.Facets(q.Get("q"), q.Get("scope")))
}

type parseResponse struct {
	*parser.Ast
	Canonical string `json:"canonical"`
	Scope     string `json:"scope,omitempty"`
	Rejected  bool   `json:"rejected"`
}

func (h *Handler) Parse(w http.ResponseWriter, r *http.Request) {
	ast := parser.Parse(r.URL.Query().Get("q"))
	h.writeJSON(w, http.StatusOK, parseResponse{
		Ast:       ast,
		Canonical: ast.Canonical(),
		Scope:     ast.Scope(),
		Rejected:  ast.Rejected(),
	})
}

func (h *Handler) Item(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	item, ok := h.searcher.Item(id)
	if !ok {
		h.writeError(w, apperrors.Newf(apperrors.ErrNotFound, http.StatusNotFound, "item %s not found", id))
		return
	}
	h.writeJSON(w, http.StatusOK, item)
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.searcher.Status())
}

type reloadResponse struct {
	Authored     int    `json:"authored"`
	Context      int    `json:"context"`
	Revision     string `json:"revision"`
	IndexVersion int64  `json:"indexVersion"`
}

// Reload fetches the archive again and waits until the worker has indexed
// it.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.opts.Store == nil {
		h.writeError(w, apperrors.New(apperrors.ErrUnavailable, http.StatusServiceUnavailable, "no item store configured"))
		return
	}
	archive, err := itemstore.LoadWithRetry(ctx, h.opts.Store, h.opts.UserID)
	if err != nil {
		logger.FromContext(ctx).Error("archive reload failed", "user_id", h.opts.UserID, "error", err)
		h.writeError(w, err)
		return
	}
	itemstore.Apply(h.searcher, archive)
	if err := h.searcher.Flush(ctx); err != nil {
		h.writeError(w, err)
		return
	}
	logger.FromContext(ctx).Info("archive reloaded",
		"authored", len(archive.Authored),
		"context", len(archive.Context),
		"revision", archive.Revision,
	)
	h.writeJSON(w, http.StatusOK, reloadResponse{
		Authored:     len(archive.Authored),
		Context:      len(archive.Context),
		Revision:     archive.Revision,
		IndexVersion: h.searcher.Status().IndexVersion,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	if errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}
