package parser

import (
	"regexp"
	"strings"
)

// ClauseKind tags the variant a Clause holds.
type ClauseKind string

const (
	KindTerm     ClauseKind = "term"
	KindPhrase   ClauseKind = "phrase"
	KindRegex    ClauseKind = "regex"
	KindWildcard ClauseKind = "wildcard"
	KindType     ClauseKind = "type"
	KindAuthor   ClauseKind = "author"
	KindReplyTo  ClauseKind = "replyto"
	KindScore    ClauseKind = "score"
	KindDate     ClauseKind = "date"
)

// RangeOp is the comparison shape of a score or date clause.
type RangeOp string

const (
	OpGreater RangeOp = "gt"
	OpLess    RangeOp = "lt"
	OpRange   RangeOp = "range"
)

// Range bounds a numeric value. A missing bound is open; the inclusivity
// flag of a missing bound is kept permissive (true).
type Range struct {
	Op           RangeOp `json:"op"`
	Min          int64   `json:"min,omitempty"`
	Max          int64   `json:"max,omitempty"`
	HasMin       bool    `json:"hasMin"`
	HasMax       bool    `json:"hasMax"`
	MinInclusive bool    `json:"minInclusive"`
	MaxInclusive bool    `json:"maxInclusive"`
}

// Contains reports whether v satisfies the range.
func (r Range) Contains(v float64) bool {
	if r.HasMin {
		lo := float64(r.Min)
		if r.MinInclusive && v < lo || !r.MinInclusive && v <= lo {
			return false
		}
	}
	if r.HasMax {
		hi := float64(r.Max)
		if r.MaxInclusive && v > hi || !r.MaxInclusive && v >= hi {
			return false
		}
	}
	return true
}

// Clause is one parsed query condition. Which fields are meaningful
// depends on Kind: Value for term, phrase, author, replyto and type;
// Pattern, Flags and Regex for regex; Range for score and date.
type Clause struct {
	Kind    ClauseKind     `json:"kind"`
	Negated bool           `json:"negated"`
	Value   string         `json:"value,omitempty"`
	Pattern string         `json:"pattern,omitempty"`
	Flags   string         `json:"flags,omitempty"`
	Regex   *regexp.Regexp `json:"-"`
	Range   Range          `json:"range,omitempty"`
}

// WarningCode classifies a query problem.
type WarningCode string

const (
	WarnRegexTooLong     WarningCode = "regex-too-long"
	WarnRegexUnsafe      WarningCode = "regex-unsafe"
	WarnInvalidRegex     WarningCode = "invalid-regex"
	WarnInvalidType      WarningCode = "invalid-type"
	WarnInvalidQuery     WarningCode = "invalid-query"
	WarnInvalidScope     WarningCode = "invalid-scope"
	WarnMalformedScore   WarningCode = "malformed-score"
	WarnMalformedDate    WarningCode = "malformed-date"
	WarnReservedOperator WarningCode = "reserved-operator"
	WarnUnknownOperator  WarningCode = "unknown-operator"
	WarnNegationOnly     WarningCode = "negation-only"
)

// Warning is a non-fatal problem found while parsing.
type Warning struct {
	Code    WarningCode `json:"code"`
	Message string      `json:"message"`
}

// Scope values accepted by scope: directives.
const (
	ScopeAuthored = "authored"
	ScopeAll      = "all"
)

// Ast is the parsed form of a query string.
type Ast struct {
	RawQuery        string    `json:"rawQuery"`
	ExecutableQuery []string  `json:"executableQuery"`
	Clauses         []Clause  `json:"clauses"`
	ScopeDirectives []string  `json:"scopeDirectives"`
	Warnings        []Warning `json:"warnings"`
}

// Scope returns the last scope directive, or "" when there is none.
func (a *Ast) Scope() string {
	if len(a.ScopeDirectives) == 0 {
		return ""
	}
	return a.ScopeDirectives[len(a.ScopeDirectives)-1]
}

// HasWarning reports whether a warning with code was recorded.
func (a *Ast) HasWarning(code WarningCode) bool {
	for _, w := range a.Warnings {
		if w.Code == code {
			return true
		}
	}
	return false
}

// Rejected reports whether the query must yield no results: it consists of
// negations only, or every token was dropped with a warning and nothing is
// left to match.
func (a *Ast) Rejected() bool {
	return a.HasWarning(WarnNegationOnly) || (len(a.Clauses) == 0 && len(a.Warnings) > 0)
}

// Canonical returns the executable query as a single string.
func (a *Ast) Canonical() string {
	return strings.Join(a.ExecutableQuery, " ")
}
