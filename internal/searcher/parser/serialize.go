package parser

import "strings"

// Serialize renders an Ast in canonical form. Parsing the result yields
// the same clauses as the original parse.
func Serialize(a *Ast) string {
	return strings.Join(serializeClauses(a.Clauses, a.Scope()), " ")
}

func serializeClauses(clauses []Clause, scope string) []string {
	out := make([]string, 0, len(clauses)+1)
	for i := range clauses {
		out = append(out, clauses[i].String())
	}
	if scope != "" {
		out = append(out, "scope:"+scope)
	}
	return out
}

// String renders the clause as a single query token.
func (c *Clause) String() string {
	var s string
	switch c.Kind {
	case KindTerm:
		s = strings.ReplaceAll(c.Value, " ", "-")
	case KindPhrase:
		s = `"` + c.Value + `"`
	case KindRegex:
		s = "/" + c.Pattern + "/" + c.Flags
	case KindWildcard:
		s = "*"
	case KindType:
		s = "type:" + c.Value
	case KindAuthor:
		s = FieldFragment("author", c.Value)
	case KindReplyTo:
		s = FieldFragment("replyto", c.Value)
	case KindScore:
		s = "score:" + formatScore(c.Range)
	case KindDate:
		s = "date:" + formatDate(c.Range)
	}
	if c.Negated {
		return "-" + s
	}
	return s
}
