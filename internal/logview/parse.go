// Package logview turns raw log text into display blocks: runs of plain lines
// and JSON documents embedded in them. It also pretty-prints JSON as HTML and
// highlights search matches.
package logview

import (
	"strings"
)

// Block types.
const (
	TypeText = "text"
	TypeJSON = "json"
)

// Block is a contiguous run of lines. Text blocks carry Lines; JSON blocks
// carry the raw Content and its decoded Value.
type Block struct {
	Type      string   `json:"type"`
	StartLine int      `json:"startLine"`
	Lines     []string `json:"lines,omitempty"`
	Content   string   `json:"content,omitempty"`
	Value     *Value   `json:"value,omitempty"`
	IsError   bool     `json:"isError,omitempty"`
}

// LineCount is the number of source lines the block covers.
func (b Block) LineCount() int {
	if b.Type == TypeJSON {
		return strings.Count(b.Content, "\n") + 1
	}
	return len(b.Lines)
}

// Parse splits content into text and JSON blocks.
//
// A line whose trimmed text begins with '{' or '[' opens a candidate JSON
// document. Following lines are added to it until the accumulated text
// decodes. A candidate whose brackets close without decoding, or that is
// still open at the end of input, is kept as plain text.
func Parse(content string) []Block {
	if content == "" {
		return nil
	}
	lines := strings.Split(content, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	p := &parser{}
	for i, raw := range lines {
		p.line(i+1, strings.TrimSuffix(raw, "\r"))
	}
	p.finish()
	return p.blocks
}

type parser struct {
	blocks []Block

	text      []string
	textStart int

	buf      []string
	bufStart int
	depth    bracketDepth
}

func (p *parser) line(no int, line string) {
	if p.buf != nil {
		p.buf = append(p.buf, line)
		p.depth.feed("\n")
		p.depth.feed(line)
		p.tryClose()
		return
	}

	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		p.buf = []string{line}
		p.bufStart = no
		p.depth = bracketDepth{}
		p.depth.feed(line)
		p.tryClose()
		return
	}
	p.addText(no, line)
}

// tryClose runs once the buffer's brackets balance: it emits the buffer as
// JSON if it decodes and gives it up as text otherwise.
func (p *parser) tryClose() {
	if p.depth.n > 0 {
		return
	}
	joined := strings.Join(p.buf, "\n")
	if v, err := ParseJSON(joined); err == nil {
		p.flushText()
		p.blocks = append(p.blocks, Block{
			Type:      TypeJSON,
			StartLine: p.bufStart,
			Content:   joined,
			Value:     v,
			IsError:   HasError(v),
		})
		p.buf = nil
		return
	}
	p.abandon()
}

func (p *parser) abandon() {
	start := p.bufStart
	for i, l := range p.buf {
		p.addText(start+i, l)
	}
	p.buf = nil
}

func (p *parser) addText(no int, line string) {
	if p.text == nil {
		p.textStart = no
	}
	p.text = append(p.text, line)
}

func (p *parser) flushText() {
	if len(p.text) == 0 {
		return
	}
	p.blocks = append(p.blocks, Block{Type: TypeText, StartLine: p.textStart, Lines: p.text})
	p.text = nil
}

func (p *parser) finish() {
	if p.buf != nil {
		p.abandon()
	}
	p.flushText()
}

// bracketDepth tracks the nesting of {} and [] outside JSON strings. JSON
// strings cannot span lines, so a newline always ends one.
type bracketDepth struct {
	n        int
	inString bool
	escaped  bool
}

func (d *bracketDepth) feed(s string) {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\n' {
			d.inString = false
			d.escaped = false
			continue
		}
		if d.inString {
			switch {
			case d.escaped:
				d.escaped = false
			case c == '\\':
				d.escaped = true
			case c == '"':
				d.inString = false
			}
			continue
		}
		switch c {
		case '"':
			d.inString = true
		case '{', '[':
			d.n++
		case '}', ']':
			d.n--
		}
	}
}

// HasError reports whether v, or any object nested in it, looks like an error
// record: a truthy "error", a "status" of "error" or "failed", "isError"
// true, or "success" false.
func HasError(v *Value) bool {
	if v == nil {
		return false
	}
	switch v.Kind {
	case Object:
		if v.Get("error").Truthy() {
			return true
		}
		if s := v.Get("status"); s != nil && s.Kind == String && (s.Str == "error" || s.Str == "failed") {
			return true
		}
		if b := v.Get("isError"); b != nil && b.Kind == Bool && b.Bool {
			return true
		}
		if b := v.Get("success"); b != nil && b.Kind == Bool && !b.Bool {
			return true
		}
		for _, m := range v.Members {
			if HasError(m.Value) {
				return true
			}
		}
	case Array:
		for _, item := range v.Items {
			if HasError(item) {
				return true
			}
		}
	}
	return false
}
