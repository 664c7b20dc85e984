package logview

import (
	"fmt"
	"html/template"
	"regexp"
	"strings"
)

// Segment is a piece of highlighted text. Match marks a search hit.
type Segment struct {
	Text  string `json:"text"`
	Match bool   `json:"match,omitempty"`
}

// Matcher finds case-insensitive literal occurrences of a search term.
// A nil Matcher matches nothing.
type Matcher struct {
	re *regexp.Regexp
}

// NewMatcher compiles term. An empty term yields nil.
func NewMatcher(term string) *Matcher {
	if term == "" {
		return nil
	}
	return &Matcher{re: regexp.MustCompile("(?i)" + regexp.QuoteMeta(term))}
}

// Split cuts text into alternating plain and matching segments.
func (m *Matcher) Split(text string) []Segment {
	if m == nil || text == "" {
		return []Segment{{Text: text}}
	}
	locs := m.re.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return []Segment{{Text: text}}
	}
	out := make([]Segment, 0, 2*len(locs)+1)
	prev := 0
	for _, loc := range locs {
		if loc[0] > prev {
			out = append(out, Segment{Text: text[prev:loc[0]]})
		}
		out = append(out, Segment{Text: text[loc[0]:loc[1]], Match: true})
		prev = loc[1]
	}
	if prev < len(text) {
		out = append(out, Segment{Text: text[prev:]})
	}
	return out
}

// Count returns the number of matches in text.
func (m *Matcher) Count(text string) int {
	if m == nil {
		return 0
	}
	return len(m.re.FindAllStringIndex(text, -1))
}

// Highlight splits text on case-insensitive matches of term.
func Highlight(text, term string) []Segment {
	return NewMatcher(term).Split(text)
}

const markOpen = `<mark class="search-highlight">`

func (m *Matcher) writeHTML(b *strings.Builder, text string) {
	for _, seg := range m.Split(text) {
		if seg.Match {
			b.WriteString(markOpen)
			b.WriteString(template.HTMLEscapeString(seg.Text))
			b.WriteString("</mark>")
			continue
		}
		b.WriteString(template.HTMLEscapeString(seg.Text))
	}
}

// RenderText escapes text for HTML and marks matches of term.
func RenderText(text, term string) template.HTML {
	var b strings.Builder
	NewMatcher(term).writeHTML(&b, text)
	return template.HTML(b.String())
}

// RenderJSON pretty-prints v as HTML for display inside a <pre>. Keys,
// strings and numbers carry json-* classes and search marks; string values
// containing newlines are broken with <br>.
func RenderJSON(v *Value, term string) template.HTML {
	var b strings.Builder
	renderValue(&b, v, 0, NewMatcher(term))
	return template.HTML(b.String())
}

func renderValue(b *strings.Builder, v *Value, indent int, m *Matcher) {
	if v == nil {
		v = &Value{Kind: Null}
	}
	pad := strings.Repeat("  ", indent)
	next := strings.Repeat("  ", indent+1)

	switch v.Kind {
	case Null:
		b.WriteString(`<span class="json-null">null</span>`)
	case Bool:
		fmt.Fprintf(b, `<span class="json-boolean">%t</span>`, v.Bool)
	case Number:
		b.WriteString(`<span class="json-number">`)
		m.writeHTML(b, v.NumberText())
		b.WriteString(`</span>`)
	case String:
		if strings.Contains(v.Str, "\n") {
			b.WriteString(`<span class="json-string-multiline">"`)
			for i, line := range strings.Split(v.Str, "\n") {
				if i > 0 {
					b.WriteString("<br>")
				}
				m.writeHTML(b, line)
			}
			b.WriteString(`"</span>`)
			return
		}
		b.WriteString(`<span class="json-string">"`)
		m.writeHTML(b, v.Str)
		b.WriteString(`"</span>`)
	case Array:
		if len(v.Items) == 0 {
			b.WriteString("[]")
			return
		}
		b.WriteString("[\n")
		for i, item := range v.Items {
			b.WriteString(next)
			renderValue(b, item, indent+1, m)
			if i < len(v.Items)-1 {
				b.WriteString(",")
			}
			b.WriteString("\n")
		}
		b.WriteString(pad)
		b.WriteString("]")
	case Object:
		if len(v.Members) == 0 {
			b.WriteString("{}")
			return
		}
		b.WriteString("{\n")
		for i, mem := range v.Members {
			b.WriteString(next)
			b.WriteString(`<span class="json-key">"`)
			m.writeHTML(b, mem.Key)
			b.WriteString(`"</span>: `)
			renderValue(b, mem.Value, indent+1, m)
			if i < len(v.Members)-1 {
				b.WriteString(",")
			}
			b.WriteString("\n")
		}
		b.WriteString(pad)
		b.WriteString("}")
	}
}

// FormatSize renders a byte count as B, KB or MB with one decimal.
func FormatSize(bytes int64) string {
	switch {
	case bytes < 1024:
		return fmt.Sprintf("%d B", bytes)
	case bytes < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(bytes)/1024)
	default:
		return fmt.Sprintf("%.1f MB", float64(bytes)/(1024*1024))
	}
}

// RenderedBlock is a Block prepared for display.
type RenderedBlock struct {
	Block
	HTML    template.HTML   `json:"html"`
	Text    []template.HTML `json:"-"`
	Matches int             `json:"matches"`
}

// Render prepares blocks for display with term highlighted.
func Render(blocks []Block, term string) []RenderedBlock {
	m := NewMatcher(term)
	out := make([]RenderedBlock, 0, len(blocks))
	for _, blk := range blocks {
		rb := RenderedBlock{Block: blk}
		switch blk.Type {
		case TypeJSON:
			var b strings.Builder
			renderValue(&b, blk.Value, 0, m)
			rb.HTML = template.HTML(b.String())
			rb.Matches = m.Count(blk.Content)
		default:
			rb.Text = make([]template.HTML, len(blk.Lines))
			var all strings.Builder
			for i, line := range blk.Lines {
				var b strings.Builder
				m.writeHTML(&b, line)
				rb.Text[i] = template.HTML(b.String())
				if i > 0 {
					all.WriteString("\n")
				}
				all.WriteString(b.String())
				rb.Matches += m.Count(line)
			}
			rb.HTML = template.HTML(all.String())
		}
		out = append(out, rb)
	}
	return out
}
