package parser

import (
	"regexp"
	"strings"
)

// MaxRegexLength caps user regex patterns.
const MaxRegexLength = 512

// Nested quantifier heuristics. This is a lint, not a ReDoS proof: RE2
// already matches in linear time, the guard only keeps queries portable
// and predictable.
var (
	nestedQuantifier = regexp.MustCompile(`\([^)]*[+*]\)[+*{]`)
	doubleQuantifier = regexp.MustCompile(`[+*][+*]`)
)

func (p *parseState) parseRegex(tok lexToken) (Clause, bool) {
	pattern := tok.pattern
	if len(pattern) > MaxRegexLength {
		p.warn(WarnRegexTooLong, "Regex longer than %d characters ignored", MaxRegexLength)
		return Clause{}, false
	}
	if nestedQuantifier.MatchString(pattern) || doubleQuantifier.MatchString(pattern) {
		p.warn(WarnRegexUnsafe, "Regex /%s/ may backtrack catastrophically and was ignored", pattern)
		return Clause{}, false
	}

	flags, inline, ok := cleanFlags(tok.flags)
	if !ok {
		p.warn(WarnInvalidRegex, "Invalid regex flags %q", tok.flags)
		return Clause{}, false
	}
	expr := pattern
	if inline != "" {
		expr = "(?" + inline + ")" + pattern
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		p.warn(WarnInvalidRegex, "Invalid regex /%s/: %v", pattern, err)
		return Clause{}, false
	}
	return Clause{
		Kind:    KindRegex,
		Negated: tok.negated,
		Pattern: pattern,
		Flags:   flags,
		Regex:   re,
	}, true
}

// cleanFlags drops g and y, dedupes the rest and returns the RE2 inline
// flags for i, m and s. u, d and v have no RE2 equivalent and are kept as
// written.
func cleanFlags(raw string) (flags, inline string, ok bool) {
	var kept, re2 strings.Builder
	seen := make(map[rune]bool, len(raw))
	for _, f := range raw {
		if seen[f] {
			continue
		}
		seen[f] = true
		switch f {
		case 'g', 'y':
		case 'i', 'm', 's':
			kept.WriteRune(f)
			re2.WriteRune(f)
		case 'u', 'd', 'v':
			kept.WriteRune(f)
		default:
			return "", "", false
		}
	}
	return kept.String(), re2.String(), true
}

// MatchRegex tests the clause regex against title first, then body.
func (c *Clause) MatchRegex(title, body string) bool {
	if c.Regex == nil {
		return false
	}
	if title != "" && c.Regex.MatchString(title) {
		return true
	}
	return c.Regex.MatchString(body)
}
