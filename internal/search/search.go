// Package search runs Google-style queries over the lines of every file in the
// log tree. The query language supports AND (implicit), OR, "phrases",
// -exclusions, /regex/i, prefix* and wild*card terms, file filters (file:,
// ext:, dir:) and an in: scope that limits matching to text lines, JSON
// blocks, or JSON blocks that look like errors.
package search

import (
	"context"
	"path"
	"regexp"
	"strings"
	"time"

	"logviewer/internal/files"
	"logviewer/internal/logview"
)

// Scope controls which lines are considered for text matching.
type Scope int

const (
	ScopeAll    Scope = iota // every line (default)
	ScopeText                // lines outside JSON blocks
	ScopeJSON                // lines inside JSON blocks
	ScopeErrors              // lines inside JSON blocks flagged as errors
)

func (s Scope) String() string {
	switch s {
	case ScopeText:
		return "text"
	case ScopeJSON:
		return "json"
	case ScopeErrors:
		return "errors"
	}
	return "all"
}

func parseScope(s string, fallback Scope) Scope {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text":
		return ScopeText
	case "json":
		return ScopeJSON
	case "errors", "error":
		return ScopeErrors
	case "all":
		return ScopeAll
	}
	return fallback
}

// Query is a disjunction (OR) of conjunctions (AND) of clauses.
type Query struct {
	Groups [][]Clause
	Scope  Scope
}

// Clause is one atomic condition.
type Clause struct {
	Negative bool

	// Field is set for file filters: file, ext or dir.
	Field string
	Value string

	Kind  ClauseKind
	Regex *regexp.Regexp // KindRegex and multi-star wildcards
}

type ClauseKind int

const (
	KindUnknown ClauseKind = iota
	KindTerm               // case-insensitive substring
	KindPhrase             // quoted phrase
	KindPrefix             // foo*
	KindRegex              // /re/flags
	KindField              // file:app, ext:log, dir:api
)

// Empty reports whether the query has no clauses at all.
func (q Query) Empty() bool {
	for _, g := range q.Groups {
		if len(g) > 0 {
			return false
		}
	}
	return true
}

// Hit is one matching line.
type Hit struct {
	Path    string `json:"path"`
	Rel     string `json:"rel"`
	Name    string `json:"name"`
	LineNo  int    `json:"line_no"`
	Line    string `json:"line"`
	Block   string `json:"block"`
	IsError bool   `json:"is_error,omitempty"`
}

// Response shapes the output of /api/search.
type Response struct {
	TookMS    int    `json:"took_ms"`
	Truncated bool   `json:"truncated"`
	Total     int    `json:"total"` // matches seen before offset/limit, best effort
	Scanned   int    `json:"scanned"`
	Skipped   int    `json:"skipped,omitempty"`
	Scope     string `json:"scope"`
	Hits      []Hit  `json:"hits"`
}

// Tunables, set from configuration at startup.
var (
	MaxReturn = 200
	Budget    = 350 * time.Millisecond
)

const previewLen = 240

// Parse converts a raw query and an optional scope name into a Query. An in:
// token inside the query overrides scopeStr.
func Parse(raw string, scopeStr string) Query {
	scope := parseScope(scopeStr, ScopeAll)

	tokens := tokenize(raw)
	filtered := make([]token, 0, len(tokens))
	for _, t := range tokens {
		if t.isField && t.field == "in" {
			scope = parseScope(stripQuotes(t.raw), ScopeAll)
			continue
		}
		filtered = append(filtered, t)
	}
	return Query{Groups: parseToDNF(filtered), Scope: scope}
}

// Source is the part of the file service a search needs.
type Source interface {
	Tree(ctx context.Context) (*files.Node, error)
	ReadFile(p string) (*files.FileContent, error)
	Rel(p string) string
}

// Exec evaluates q over every file in tree order. limit is the number of hits
// to return and offset skips that many initial hits. Scanning stops once the
// soft time budget is spent and the response is marked truncated.
func Exec(ctx context.Context, src Source, q Query, limit, offset int) (Response, error) {
	start := time.Now()
	if limit <= 0 {
		limit = 50
	}
	if limit > MaxReturn {
		limit = MaxReturn
	}
	if offset < 0 {
		offset = 0
	}
	resp := Response{Scope: q.Scope.String(), Hits: []Hit{}}
	if q.Empty() {
		return resp, nil
	}

	tree, err := src.Tree(ctx)
	if err != nil {
		return resp, err
	}
	if tree == nil {
		return resp, nil
	}
	var candidates []*files.Node
	tree.Walk(func(n *files.Node) bool {
		if !n.IsDir() && matchesFileFilters(q, n.Name, src.Rel(n.Path)) {
			candidates = append(candidates, n)
		}
		return true
	})

	over := func() bool { return time.Since(start) > Budget }

scan:
	for _, n := range candidates {
		if err := ctx.Err(); err != nil {
			return resp, err
		}
		if over() {
			resp.Truncated = true
			break
		}
		fc, err := src.ReadFile(n.Path)
		if err != nil {
			resp.Skipped++
			continue
		}
		resp.Scanned++

		for _, blk := range logview.Parse(fc.Content) {
			if !q.Scope.admits(blk) {
				continue
			}
			lines := blk.Lines
			if blk.Type == logview.TypeJSON {
				lines = strings.Split(blk.Content, "\n")
			}
			for i, line := range lines {
				if !matchesTextGroups(q, line) {
					continue
				}
				resp.Total++
				if resp.Total > offset && len(resp.Hits) < limit {
					resp.Hits = append(resp.Hits, Hit{
						Path:    fc.Path,
						Rel:     src.Rel(fc.Path),
						Name:    fc.Name,
						LineNo:  blk.StartLine + i,
						Line:    preview(line),
						Block:   blk.Type,
						IsError: blk.IsError,
					})
				}
				if len(resp.Hits) >= limit && over() {
					resp.Truncated = true
					break scan
				}
			}
		}
	}

	resp.TookMS = int(time.Since(start).Milliseconds())
	return resp, nil
}

func (s Scope) admits(b logview.Block) bool {
	switch s {
	case ScopeText:
		return b.Type == logview.TypeText
	case ScopeJSON:
		return b.Type == logview.TypeJSON
	case ScopeErrors:
		return b.Type == logview.TypeJSON && b.IsError
	}
	return true
}

func preview(line string) string {
	line = strings.TrimSpace(line)
	if len(line) <= previewLen {
		return line
	}
	// cut on a rune boundary
	cut := previewLen
	for cut > 0 && !utf8RuneStart(line[cut]) {
		cut--
	}
	return line[:cut]
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }

// matchesFileFilters applies the field clauses of every group. OR applies only
// to text predicates, so field filters from all groups must hold together.
func matchesFileFilters(q Query, name, rel string) bool {
	allow := make(map[string][]Clause)
	deny := make(map[string][]Clause)
	for _, g := range q.Groups {
		for _, c := range g {
			if c.Kind != KindField {
				continue
			}
			if c.Negative {
				deny[c.Field] = append(deny[c.Field], c)
			} else {
				allow[c.Field] = append(allow[c.Field], c)
			}
		}
	}
	if len(allow) == 0 && len(deny) == 0 {
		return true
	}

	dir := path.Dir(rel)
	if dir == "." {
		dir = ""
	}
	got := map[string]string{
		"file": strings.ToLower(name),
		"ext":  strings.ToLower(path.Ext(name)),
		"dir":  strings.ToLower(dir),
	}
	for field, value := range got {
		if arr := allow[field]; len(arr) > 0 {
			ok := false
			for _, c := range arr {
				if fieldValueMatches(field, value, c.Value) {
					ok = true
					break
				}
			}
			if !ok {
				return false
			}
		}
		for _, c := range deny[field] {
			if fieldValueMatches(field, value, c.Value) {
				return false
			}
		}
	}
	return true
}

func fieldValueMatches(field, got, want string) bool {
	want = strings.ToLower(strings.TrimSpace(want))
	if want == "" {
		return true
	}
	switch field {
	case "ext":
		if !strings.HasPrefix(want, ".") {
			want = "." + want
		}
		return got == want
	case "dir":
		want = strings.Trim(want, "/")
		return got == want || strings.HasPrefix(got, want+"/")
	default:
		return strings.Contains(got, want)
	}
}

// matchesTextGroups evaluates the OR-of-AND groups against one line. A group
// with only field clauses matches every line.
func matchesTextGroups(q Query, line string) bool {
	lower := strings.ToLower(line)
	for _, group := range q.Groups {
		ok := true
		for _, c := range group {
			if c.Kind == KindField {
				continue
			}
			if testClause(c, line, lower) == c.Negative {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

// testClause matches regexes against the raw line, since they carry their
// own case flag, and everything else against the lowercased line.
func testClause(c Clause, line, lower string) bool {
	text := lower
	switch c.Kind {
	case KindRegex:
		if c.Regex == nil {
			return false
		}
		return c.Regex.MatchString(line)
	case KindPhrase, KindTerm:
		v := strings.ToLower(c.Value)
		if v == "" {
			return true
		}
		return strings.Contains(text, v)
	case KindPrefix:
		pref := strings.ToLower(c.Value)
		return pref == "" || strings.Contains(text, pref)
	}
	return false
}
