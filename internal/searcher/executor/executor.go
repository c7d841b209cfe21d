// Package executor runs parsed archive queries against the indexed
// corpora: staged candidate selection, budgeted verification, scope
// merging, ranking and diagnostics.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/searcher/merger"
	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/searcher/planner"
	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/proto"
)

const (
	DefaultBudgetMs = 150
	DefaultLimit    = 50
)

// Parse states reported in diagnostics.
const (
	StateValid   = "valid"
	StateWarning = "warning"
	StateInvalid = "invalid"
)

// Corpora is the read side of the indexer engine.
type Corpora interface {
	Corpus(source proto.Source) *index.Corpus
	Version() int64
}

// Request is one query execution.
type Request struct {
	Query                string
	Limit                int
	SortMode             string
	ScopeParam           string
	BudgetMs             *int
	DebugExplain         bool
	ExpectedIndexVersion *int64
}

// RequestFromRun converts a wire query into a Request.
func RequestFromRun(run proto.QueryRun) Request {
	return Request{
		Query:                run.Query,
		Limit:                run.Limit,
		SortMode:             run.SortMode,
		ScopeParam:           run.ScopeParam,
		BudgetMs:             run.BudgetMs,
		DebugExplain:         run.DebugExplain,
		ExpectedIndexVersion: run.ExpectedIndexVersion,
	}
}

// Result is the wire result plus the matched documents in rank order.
type Result struct {
	proto.QueryResult
	Docs []*index.Doc `json:"-"`
}

type Executor struct {
	corpora Corpora
	now     func() time.Time
	logger  *slog.Logger
}

func New(corpora Corpora) *Executor {
	return &Executor{
		corpora: corpora,
		now:     time.Now,
		logger:  slog.Default().With("component", "query-executor"),
	}
}

// Run executes req. Query problems surface as warnings in the result's
// diagnostics; Run itself never fails.
func (e *Executor) Run(ctx context.Context, req Request) *Result {
	start := e.now()
	ast := parser.Parse(req.Query)
	warnings := append([]parser.Warning(nil), ast.Warnings...)

	scope, scopeWarning := resolveScope(req.ScopeParam, ast.Scope())
	if scopeWarning != nil {
		warnings = append(warnings, *scopeWarning)
	}
	sortMode := ranker.ParseSortMode(req.SortMode)
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	budgetMs := DefaultBudgetMs
	if req.BudgetMs != nil {
		budgetMs = *req.BudgetMs
	}

	res := &Result{
		QueryResult: proto.QueryResult{
			IndexVersion:   e.corpora.Version(),
			IDs:            []string{},
			CanonicalQuery: ast.Canonical(),
			ResolvedScope:  scope,
		},
	}
	var trace []string
	if req.DebugExplain {
		trace = append(trace, fmt.Sprintf("scope=%s sort=%s limit=%d budgetMs=%d", scope, sortMode, limit, budgetMs))
		if req.ExpectedIndexVersion != nil && *req.ExpectedIndexVersion != res.IndexVersion {
			trace = append(trace, fmt.Sprintf("index version %d differs from expected %d", res.IndexVersion, *req.ExpectedIndexVersion))
		}
	}

	if ast.Rejected() {
		if ast.HasWarning(parser.WarnNegationOnly) {
			trace = append(trace, "negation-only query rejected")
		} else {
			trace = append(trace, "no executable clauses")
		}
		e.finish(res, warnings, false, start, trace, req.DebugExplain)
		return res
	}

	plan := planner.Build(ast.Clauses)
	if plan.Empty() {
		trace = append(trace, "no clauses, browsing scoped corpus")
	}
	sources := []proto.Source{proto.SourceAuthored}
	if scope == parser.ScopeAll {
		sources = append(sources, proto.SourceContext)
	}

	runs := make([]*corpusRun, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, source := range sources {
		run := &corpusRun{
			corpus:  e.corpora.Corpus(source),
			plan:    plan,
			budget:  newBudget(gctx, e.now, start, budgetMs),
			explain: req.DebugExplain,
		}
		runs[i] = run
		g.Go(func() error {
			run.run()
			return nil
		})
	}
	_ = g.Wait()

	lists := make([][]*index.Doc, len(runs))
	partial := false
	for i, run := range runs {
		lists[i] = run.docs
		partial = partial || run.partial
		res.Diagnostics.StageACandidateCount += run.stageACount
		res.Diagnostics.StageBScanned += run.stageBScanned
		trace = append(trace, run.trace...)
	}
	docs := merger.Union(lists...)

	var signals map[string]ranker.Signals
	if sortMode == ranker.SortRelevance {
		signals = collectSignals(docs, ast.Clauses)
	}
	ranked := merger.TopK(docs, limit, ranker.Comparator(sortMode, signals))

	res.Docs = ranked
	res.Total = len(docs)
	res.Diagnostics.TotalCandidatesBeforeLimit = len(docs)
	for _, doc := range ranked {
		res.IDs = append(res.IDs, doc.ID)
	}
	e.finish(res, warnings, partial, start, trace, req.DebugExplain)

	e.logger.Debug("query executed",
		"query", req.Query,
		"scope", scope,
		"sort", sortMode,
		"total", res.Total,
		"returned", len(res.IDs),
		"partial", partial,
		"took_ms", res.Diagnostics.TookMs,
	)
	return res
}

func (e *Executor) finish(res *Result, warnings []parser.Warning, partial bool, start time.Time, trace []string, explain bool) {
	d := &res.Diagnostics
	d.Warnings = make([]proto.Warning, 0, len(warnings))
	degraded := partial
	invalid := false
	for _, w := range warnings {
		d.Warnings = append(d.Warnings, proto.Warning{Code: string(w.Code), Message: w.Message})
		switch w.Code {
		case parser.WarnRegexUnsafe, parser.WarnRegexTooLong:
			degraded = true
		case parser.WarnNegationOnly, parser.WarnInvalidQuery:
			invalid = true
		}
	}
	switch {
	case invalid:
		d.ParseState = StateInvalid
	case len(warnings) > 0:
		d.ParseState = StateWarning
	default:
		d.ParseState = StateValid
	}
	d.PartialResults = partial
	d.DegradedMode = degraded
	d.TookMs = e.now().Sub(start).Milliseconds()
	if explain {
		d.Explain = trace
		res.DebugExplain = trace
	}
}

// resolveScope picks the effective scope: request parameter, then the
// in-query directive, then authored.
func resolveScope(param, directive string) (string, *parser.Warning) {
	param = strings.ToLower(strings.TrimSpace(param))
	switch param {
	case "":
	case parser.ScopeAuthored, parser.ScopeAll:
		if directive != "" && directive != param {
			return param, &parser.Warning{Code: parser.WarnInvalidScope, Message: "URL scope parameter takes precedence"}
		}
		return param, nil
	default:
		w := &parser.Warning{Code: parser.WarnInvalidScope, Message: fmt.Sprintf("Unknown scope parameter %q ignored", param)}
		if directive != "" {
			return directive, w
		}
		return parser.ScopeAuthored, w
	}
	if directive != "" {
		return directive, nil
	}
	return parser.ScopeAuthored, nil
}
