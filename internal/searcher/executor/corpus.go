package executor

import (
	"fmt"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/indexer/normalize"
	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/searcher/planner"
)

// corpusRun executes a plan against a single corpus.
type corpusRun struct {
	corpus  *index.Corpus
	plan    *planner.Plan
	budget  *budget
	explain bool

	docs          []*index.Doc
	stageACount   int
	stageBScanned int
	partial       bool
	trace         []string
}

func (r *corpusRun) tracef(format string, args ...any) {
	if r.explain {
		r.trace = append(r.trace, string(r.corpus.Source)+": "+fmt.Sprintf(format, args...))
	}
}

func (r *corpusRun) run() {
	n := r.corpus.Len()
	candidates, deferred := r.stageA()

	if len(deferred) > 0 {
		r.tracef("budget spent, %d stage A clause(s) deferred to post-filters", len(deferred))
		candidates = r.filter(candidates, func(doc *index.Doc) bool {
			for i := range deferred {
				if !matches(doc, &deferred[i]) {
					return false
				}
			}
			return true
		}, false)
	}
	if candidates == nil {
		candidates = index.All(n)
	} else {
		r.stageACount = len(candidates)
	}

	if len(r.plan.StageB) > 0 && len(candidates) > 0 {
		before := len(candidates)
		candidates = r.filter(candidates, func(doc *index.Doc) bool {
			r.stageBScanned++
			for i := range r.plan.StageB {
				if !matches(doc, &r.plan.StageB[i]) {
					return false
				}
			}
			return true
		}, true)
		r.tracef("stage B kept %d of %d", len(candidates), before)
	}

	if len(r.plan.Negations) > 0 && len(candidates) > 0 {
		before := len(candidates)
		candidates = r.filter(candidates, func(doc *index.Doc) bool {
			for i := range r.plan.Negations {
				if matches(doc, &r.plan.Negations[i]) {
					return false
				}
			}
			return true
		}, true)
		r.tracef("negations removed %d", before-len(candidates))
	}

	r.docs = make([]*index.Doc, len(candidates))
	for i, ord := range candidates {
		r.docs[i] = &r.corpus.Docs[ord]
	}
	if r.partial {
		r.tracef("budget exceeded, results are partial")
	}
}

// stageA intersects the Stage A clause matches. It returns nil when no
// clause ran, and the clauses left unprocessed once the budget ran out.
func (r *corpusRun) stageA() (index.PostingList, []parser.Clause) {
	var candidates index.PostingList
	for i := range r.plan.StageA {
		if r.budget.check() {
			if candidates == nil {
				candidates = index.All(r.corpus.Len())
			}
			return candidates, r.plan.StageA[i:]
		}
		c := &r.plan.StageA[i]
		matched, how := r.matchStageA(c, candidates)
		if candidates == nil {
			candidates = matched
		} else {
			candidates = index.Intersect(candidates, matched)
		}
		if candidates == nil {
			candidates = index.PostingList{}
		}
		r.tracef("stage A %s via %s -> %d", c.String(), how, len(candidates))
		if len(candidates) == 0 {
			return candidates, nil
		}
	}
	return candidates, nil
}

// matchStageA resolves one clause to the ordinals it matches. Scans are
// restricted to the running candidates when there are any.
func (r *corpusRun) matchStageA(c *parser.Clause, candidates index.PostingList) (index.PostingList, string) {
	scope := candidates
	if scope == nil {
		scope = index.All(r.corpus.Len())
	}
	field, text, ok := indexedField(c)
	if !ok {
		return r.filter(scope, func(doc *index.Doc) bool { return matches(doc, c) }, true), "scan"
	}

	tokens := normalize.Tokenize(c.Value)
	switch {
	case len(tokens) == 1 && tokens[0] == c.Value:
		return r.corpus.Postings(field, tokens[0]), "postings"
	case len(tokens) == 0:
		return r.filter(scope, func(doc *index.Doc) bool { return matches(doc, c) }, true), "scan"
	}

	lists := make([]index.PostingList, 0, len(tokens)+1)
	for _, tok := range tokens {
		lists = append(lists, r.corpus.Postings(field, tok))
	}
	if candidates != nil {
		lists = append(lists, candidates)
	}
	seed := index.IntersectAll(lists)
	return r.filter(seed, func(doc *index.Doc) bool {
		return strings.Contains(text(doc), c.Value)
	}, true), "postings+verify"
}

// filter keeps the ordinals whose doc passes keep. A budgeted filter
// stops at the deadline, drops what it has not examined and marks the run
// partial; the result is never over-inclusive.
func (r *corpusRun) filter(ordinals index.PostingList, keep func(*index.Doc) bool, budgeted bool) index.PostingList {
	out := make(index.PostingList, 0, len(ordinals))
	for _, ord := range ordinals {
		if budgeted && r.budget.tick() {
			r.partial = true
			break
		}
		if keep(&r.corpus.Docs[ord]) {
			out = append(out, ord)
		}
	}
	return out
}
