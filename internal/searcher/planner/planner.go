// Package planner splits parsed clauses into the stages the executor runs.
package planner

import (
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/searcher/parser"
)

// MinIndexedTermLen is the shortest term that has useful postings.
const MinIndexedTermLen = 2

// Plan is the staged form of a clause list.
//
// StageA clauses narrow candidates through postings lookups or cheap
// scans whose results intersect. StageB clauses need substring or regex
// verification against full text. Negations are applied last as an
// exclusion filter.
type Plan struct {
	StageA    []parser.Clause
	StageB    []parser.Clause
	Negations []parser.Clause
}

// Empty reports whether the plan has no clauses at all.
func (p *Plan) Empty() bool {
	return len(p.StageA) == 0 && len(p.StageB) == 0 && len(p.Negations) == 0
}

// Build classifies clauses into a Plan, preserving their relative order.
func Build(clauses []parser.Clause) *Plan {
	plan := &Plan{}
	for _, c := range clauses {
		switch {
		case c.Negated:
			plan.Negations = append(plan.Negations, c)
		case isStageA(c):
			plan.StageA = append(plan.StageA, c)
		default:
			plan.StageB = append(plan.StageB, c)
		}
	}
	return plan
}

func isStageA(c parser.Clause) bool {
	switch c.Kind {
	case parser.KindType, parser.KindAuthor, parser.KindReplyTo, parser.KindScore, parser.KindDate:
		return true
	case parser.KindTerm:
		return utf8.RuneCountInString(c.Value) >= MinIndexedTermLen
	}
	return false
}
