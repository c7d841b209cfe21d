// Package parser turns a raw archive query into an Ast of typed clauses.
// Problems never fail the parse; they are collected as warnings and the
// offending token is dropped.
package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/archive-search/internal/indexer/normalize"
)

var fieldPattern = regexp.MustCompile(`(?s)^([a-z][a-z0-9_]*):(.*)$`)

type parseState struct {
	ast          *Ast
	seenWildcard bool
}

// Parse parses query into an Ast. The returned Ast is never nil.
func Parse(query string) *Ast {
	p := &parseState{
		ast: &Ast{
			RawQuery:        query,
			ExecutableQuery: []string{},
			Clauses:         []Clause{},
			ScopeDirectives: []string{},
			Warnings:        []Warning{},
		},
	}
	for _, tok := range lex(query) {
		p.classify(tok)
	}
	p.finish()
	return p.ast
}

func (p *parseState) warn(code WarningCode, format string, args ...any) {
	p.ast.Warnings = append(p.ast.Warnings, Warning{Code: code, Message: fmt.Sprintf(format, args...)})
}

func (p *parseState) add(c Clause) {
	p.ast.Clauses = append(p.ast.Clauses, c)
}

func (p *parseState) classify(tok lexToken) {
	if tok.regex {
		if c, ok := p.parseRegex(tok); ok {
			p.add(c)
		}
		return
	}

	if m := fieldPattern.FindStringSubmatch(tok.body); m != nil {
		if p.parseField(tok, m[1], unquote(m[2])) {
			return
		}
		p.warn(WarnUnknownOperator, "Unknown operator %q treated as text", m[1]+":")
	}

	if tok.body == "*" {
		if p.seenWildcard {
			return
		}
		p.seenWildcard = true
		p.add(Clause{Kind: KindWildcard, Negated: tok.negated})
		return
	}

	if strings.HasPrefix(tok.body, `"`) {
		if value := normalize.Normalize(unquote(tok.body)); value != "" {
			p.add(Clause{Kind: KindPhrase, Negated: tok.negated, Value: value})
		}
		return
	}

	if value := normalize.Normalize(tok.body); value != "" {
		p.add(Clause{Kind: KindTerm, Negated: tok.negated, Value: value})
	}
}

// parseField handles a known field:value token. It reports false when
// the field is not an operator so the caller can treat it as text.
func (p *parseState) parseField(tok lexToken, field, value string) bool {
	switch field {
	case "type":
		kind := strings.ToLower(strings.TrimSpace(value))
		if kind != "post" && kind != "comment" {
			p.warn(WarnInvalidType, "type must be post or comment, got %q", value)
			return true
		}
		p.add(Clause{Kind: KindType, Negated: tok.negated, Value: kind})
	case "author", "replyto":
		name := normalize.Normalize(value)
		if name == "" {
			p.warn(WarnInvalidQuery, "%s: requires a name", field)
			return true
		}
		kind := KindAuthor
		if field == "replyto" {
			kind = KindReplyTo
		}
		p.add(Clause{Kind: kind, Negated: tok.negated, Value: name})
	case "scope":
		scope := strings.ToLower(strings.TrimSpace(value))
		if scope != ScopeAuthored && scope != ScopeAll {
			p.warn(WarnInvalidScope, "scope must be authored or all, got %q", value)
			return true
		}
		p.ast.ScopeDirectives = append(p.ast.ScopeDirectives, scope)
	case "score":
		r, ok := parseScore(value)
		if !ok {
			p.warn(WarnMalformedScore, "Malformed score filter %q", value)
			return true
		}
		p.add(Clause{Kind: KindScore, Negated: tok.negated, Range: r})
	case "date":
		r, ok := parseDate(value)
		if !ok {
			p.warn(WarnMalformedDate, "Malformed date filter %q", value)
			return true
		}
		p.add(Clause{Kind: KindDate, Negated: tok.negated, Range: r})
	case "sort":
		p.warn(WarnReservedOperator, "sort: is not a query operator; use the sort parameter")
	default:
		return false
	}
	return true
}

func (p *parseState) finish() {
	a := p.ast
	hasPositiveContent := false
	for _, c := range a.Clauses {
		if !c.Negated && c.Kind != KindWildcard {
			hasPositiveContent = true
			break
		}
	}
	if hasPositiveContent {
		kept := a.Clauses[:0]
		for _, c := range a.Clauses {
			if c.Kind == KindWildcard {
				continue
			}
			kept = append(kept, c)
		}
		a.Clauses = kept
	}

	if len(a.Clauses) > 0 {
		allNegated := true
		for _, c := range a.Clauses {
			if !c.Negated {
				allNegated = false
				break
			}
		}
		if allNegated {
			p.warn(WarnNegationOnly, "Query contains only negated terms; add a positive term or *")
		}
	}

	a.ExecutableQuery = serializeClauses(a.Clauses, a.Scope())
}
