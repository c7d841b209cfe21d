package parser

import "strings"

// lexToken is one whitespace-delimited query token. Quoted sections and
// regex literals may contain whitespace and still form a single token.
type lexToken struct {
	raw     string
	negated bool
	body    string
	regex   bool
	pattern string
	flags   string
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\f', '\v':
		return true
	}
	return false
}

func isFlagChar(c byte) bool {
	return c >= 'a' && c <= 'z'
}

// lex splits a query into tokens, honouring "quoted text" with backslash
// escapes and /regex/flags literals with escaped slashes.
func lex(query string) []lexToken {
	var tokens []lexToken
	i := 0
	for i < len(query) {
		if isSpace(query[i]) {
			i++
			continue
		}
		start := i
		negated := false
		if query[i] == '-' && i+1 < len(query) && !isSpace(query[i+1]) {
			negated = true
			i++
		}
		if query[i] == '/' {
			if tok, next, ok := lexRegex(query, i); ok {
				tok.raw = query[start:next]
				tok.negated = negated
				tokens = append(tokens, tok)
				i = next
				continue
			}
		}
		bodyStart := i
		inQuote := false
		for i < len(query) {
			c := query[i]
			if inQuote {
				if c == '\\' {
					i += 2
					continue
				}
				if c == '"' {
					inQuote = false
				}
				i++
				continue
			}
			if c == '"' {
				inQuote = true
				i++
				continue
			}
			if isSpace(c) {
				break
			}
			i++
		}
		if i > len(query) {
			i = len(query)
		}
		tokens = append(tokens, lexToken{
			raw:     query[start:i],
			negated: negated,
			body:    query[bodyStart:i],
		})
	}
	return tokens
}

// lexRegex reads a /pattern/flags literal starting at the opening slash.
// The literal must end at whitespace or end of input.
func lexRegex(query string, at int) (lexToken, int, bool) {
	j := at + 1
	for j < len(query) {
		if query[j] == '\\' {
			j += 2
			continue
		}
		if query[j] == '/' {
			break
		}
		j++
	}
	if j >= len(query) || j == at+1 {
		return lexToken{}, 0, false
	}
	k := j + 1
	for k < len(query) && isFlagChar(query[k]) {
		k++
	}
	if k < len(query) && !isSpace(query[k]) {
		return lexToken{}, 0, false
	}
	return lexToken{
		body:    query[at:k],
		regex:   true,
		pattern: query[at+1 : j],
		flags:   query[j+1 : k],
	}, k, true
}

// unquote strips surrounding double quotes and resolves \" and \\.
func unquote(s string) string {
	if !strings.HasPrefix(s, `"`) {
		return s
	}
	s = s[1:]
	if strings.HasSuffix(s, `"`) && !strings.HasSuffix(s, `\"`) {
		s = s[:len(s)-1]
	}
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) && (s[i+1] == '"' || s[i+1] == '\\') {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// quoteValue renders a field value, quoting it when it contains
// whitespace, a quote or a colon.
func quoteValue(value string) string {
	if !strings.ContainsAny(value, " \t\n\r\":") {
		return value
	}
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(value)
	return `"` + escaped + `"`
}

// FieldFragment renders field:value with the query language's quoting.
func FieldFragment(field, value string) string {
	return field + ":" + quoteValue(value)
}
