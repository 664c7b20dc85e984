package search

import (
	"regexp"
	"strings"
)

// token is one lexical unit of a raw query.
type token struct {
	raw      string
	negative bool
	isOR     bool
	isField  bool
	field    string
}

// tokenize splits the raw query into tokens, respecting quotes and /regex/.
func tokenize(s string) []token {
	out := []token{}
	s = strings.TrimSpace(s)
	i := 0
	for i < len(s) {
		if isSpace(s[i]) {
			i++
			continue
		}
		neg := false
		if s[i] == '-' {
			neg = true
			i++
			for i < len(s) && isSpace(s[i]) {
				i++
			}
		}
		if i >= len(s) {
			break
		}

		switch s[i] {
		case '"':
			j := i + 1
			for j < len(s) && s[j] != '"' {
				j++
			}
			out = append(out, token{raw: `"` + s[i+1:min(j, len(s))] + `"`, negative: neg})
			i = min(j+1, len(s))
			continue
		case '/':
			j := i + 1
			for j < len(s) && s[j] != '/' {
				j++
			}
			k := j + 1
			for k < len(s) && isLetter(s[k]) {
				k++
			}
			out = append(out, token{raw: s[i:min(k, len(s))], negative: neg})
			i = min(k, len(s))
			continue
		}

		j := i
		for j < len(s) && !isSpace(s[j]) {
			j++
		}
		raw := s[i:j]
		i = j
		if raw == "OR" {
			out = append(out, token{isOR: true})
			continue
		}
		if k := strings.IndexByte(raw, ':'); k > 0 {
			field := strings.ToLower(raw[:k])
			if isKnownField(field) {
				out = append(out, token{raw: raw[k+1:], negative: neg, isField: true, field: field})
				continue
			}
		}
		out = append(out, token{raw: raw, negative: neg})
	}
	return out
}

func isKnownField(f string) bool {
	switch f {
	case "file", "ext", "dir", "in":
		return true
	}
	return false
}

func isSpace(b byte) bool  { return b == ' ' || b == '\t' || b == '\n' || b == '\r' }
func isLetter(b byte) bool { return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') }

// parseToDNF converts tokens into OR groups of AND clauses.
func parseToDNF(toks []token) [][]Clause {
	groups := [][]Clause{}
	cur := []Clause{}
	flush := func() {
		if len(cur) > 0 {
			groups = append(groups, cur)
			cur = []Clause{}
		}
	}
	for _, t := range toks {
		if t.isOR {
			flush()
			continue
		}
		if t.isField {
			cur = append(cur, Clause{Kind: KindField, Field: t.field, Value: stripQuotes(t.raw), Negative: t.negative})
			continue
		}
		raw := t.raw
		switch {
		case strings.HasPrefix(raw, "/") && len(raw) >= 2:
			pattern, flags := raw[1:], ""
			if n := strings.LastIndex(raw, "/"); n > 0 {
				pattern, flags = raw[1:n], raw[n+1:]
			}
			// users pasting from shells often double their backslashes
			pattern = strings.ReplaceAll(pattern, `\\`, `\`)
			if strings.Contains(flags, "i") {
				pattern = "(?i)" + pattern
			}
			cur = append(cur, Clause{Kind: KindRegex, Value: raw, Regex: safeCompile(pattern), Negative: t.negative})
		case len(raw) >= 2 && strings.HasPrefix(raw, `"`) && strings.HasSuffix(raw, `"`):
			cur = append(cur, Clause{Kind: KindPhrase, Value: stripQuotes(raw), Negative: t.negative})
		case strings.Contains(raw, "*"):
			if strings.Count(raw, "*") == 1 && strings.HasSuffix(raw, "*") {
				cur = append(cur, Clause{Kind: KindPrefix, Value: strings.TrimSuffix(raw, "*"), Negative: t.negative})
				continue
			}
			esc := strings.ReplaceAll(regexp.QuoteMeta(raw), `\*`, ".*")
			cur = append(cur, Clause{Kind: KindRegex, Value: raw, Regex: safeCompile("(?i)" + esc), Negative: t.negative})
		default:
			cur = append(cur, Clause{Kind: KindTerm, Value: raw, Negative: t.negative})
		}
	}
	flush()
	if len(groups) == 0 {
		groups = [][]Clause{{}}
	}
	return groups
}

func stripQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

func safeCompile(pat string) *regexp.Regexp {
	re, err := regexp.Compile(pat)
	if err != nil {
		return nil
	}
	return re
}
