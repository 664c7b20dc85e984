// Package exporter writes a log file, or a filtered selection of its blocks,
// as raw text, annotated text, JSON, JSON Lines or Markdown.
package exporter

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"logviewer/internal/files"
	"logviewer/internal/logview"
)

// Supported formats.
const (
	FormatRaw   = "raw"
	FormatTxt   = "txt"
	FormatJSON  = "json"
	FormatJSONL = "jsonl"
	FormatMD    = "md"
)

// Filters control which blocks are included in an export. Raw exports ignore
// them.
type Filters struct {
	JSONOnly   bool
	ErrorsOnly bool // implies JSONOnly
	MaxBlocks  int  // 0 = all
}

// ContentType returns the MIME type for format.
func ContentType(format string) string {
	switch strings.ToLower(format) {
	case FormatJSON:
		return "application/json; charset=utf-8"
	case FormatJSONL:
		return "application/x-ndjson; charset=utf-8"
	case FormatMD:
		return "text/markdown; charset=utf-8"
	}
	return "text/plain; charset=utf-8"
}

// Supported reports whether format can be written.
func Supported(format string) bool {
	switch strings.ToLower(format) {
	case FormatRaw, FormatTxt, FormatJSON, FormatJSONL, FormatMD:
		return true
	}
	return false
}

type outBlock struct {
	Type      string         `json:"type"`
	StartLine int            `json:"start_line"`
	IsError   bool           `json:"is_error,omitempty"`
	Lines     []string       `json:"lines,omitempty"`
	Value     *logview.Value `json:"value,omitempty"`
}

func selectBlocks(content string, f Filters) []logview.Block {
	blocks := logview.Parse(content)
	out := make([]logview.Block, 0, len(blocks))
	for _, b := range blocks {
		if (f.JSONOnly || f.ErrorsOnly) && b.Type != logview.TypeJSON {
			continue
		}
		if f.ErrorsOnly && !b.IsError {
			continue
		}
		out = append(out, b)
		if f.MaxBlocks > 0 && len(out) >= f.MaxBlocks {
			break
		}
	}
	return out
}

// Write exports fc to w and returns the number of blocks written.
func Write(w io.Writer, fc *files.FileContent, format string, f Filters) (int, error) {
	switch strings.ToLower(format) {
	case FormatRaw:
		if _, err := io.WriteString(w, fc.Content); err != nil {
			return 0, err
		}
		return len(logview.Parse(fc.Content)), nil

	case FormatTxt:
		blocks := selectBlocks(fc.Content, f)
		header := fmt.Sprintf("%s\nSize: %s | Modified: %s\n\n",
			fc.Name, logview.FormatSize(fc.Size), fc.Modified.Format(time.RFC3339))
		if _, err := io.WriteString(w, header); err != nil {
			return 0, err
		}
		for i, b := range blocks {
			if _, err := io.WriteString(w, blockText(b)+"\n"); err != nil {
				return i, err
			}
		}
		return len(blocks), nil

	case FormatJSON:
		blocks := selectBlocks(fc.Content, f)
		if _, err := io.WriteString(w, "["); err != nil {
			return 0, err
		}
		for i, b := range blocks {
			raw, err := json.Marshal(outBlock{
				Type:      b.Type,
				StartLine: b.StartLine,
				IsError:   b.IsError,
				Lines:     b.Lines,
				Value:     b.Value,
			})
			if err != nil {
				return i, err
			}
			if i > 0 {
				if _, err := io.WriteString(w, ","); err != nil {
					return i, err
				}
			}
			if _, err := w.Write(raw); err != nil {
				return i, err
			}
		}
		if _, err := io.WriteString(w, "]"); err != nil {
			return len(blocks), err
		}
		return len(blocks), nil

	case FormatJSONL:
		f.JSONOnly = true
		blocks := selectBlocks(fc.Content, f)
		for i, b := range blocks {
			raw, err := b.Value.MarshalJSON()
			if err != nil {
				return i, err
			}
			if _, err := w.Write(append(raw, '\n')); err != nil {
				return i, err
			}
		}
		return len(blocks), nil

	case FormatMD:
		blocks := selectBlocks(fc.Content, f)
		head := fmt.Sprintf("# %s\n\nSize: %s | Modified: %s\n\n",
			escapeMD(fc.Name), logview.FormatSize(fc.Size), fc.Modified.Format(time.RFC3339))
		if _, err := io.WriteString(w, head); err != nil {
			return 0, err
		}
		for i, b := range blocks {
			lang, body := "text", blockText(b)
			if b.Type == logview.TypeJSON {
				lang, body = "json", b.Value.Pretty()
			}
			var sb strings.Builder
			fmt.Fprintf(&sb, "### Line %d", b.StartLine)
			if b.IsError {
				sb.WriteString(" (error)")
			}
			fence := fenceFor(body)
			fmt.Fprintf(&sb, "\n\n%s%s\n%s\n%s\n\n", fence, lang, body, fence)
			if _, err := io.WriteString(w, sb.String()); err != nil {
				return i, err
			}
		}
		return len(blocks), nil
	}
	return 0, fmt.Errorf("unsupported format: %s", format)
}

func blockText(b logview.Block) string {
	if b.Type == logview.TypeJSON {
		return b.Content
	}
	return strings.Join(b.Lines, "\n")
}

// fenceFor returns a backtick fence longer than any run inside body.
func fenceFor(body string) string {
	fence := "```"
	for strings.Contains(body, fence) {
		fence += "`"
	}
	return fence
}

func escapeMD(s string) string {
	return strings.ReplaceAll(s, "#", `\#`)
}

// AttachmentName builds a filename for Content-Disposition from the file's
// base name, its modification time and the export format. Raw exports keep
// the original name.
func AttachmentName(fc *files.FileContent, format string) string {
	format = strings.ToLower(format)
	if format == FormatRaw {
		return url.PathEscape(sanitize(fc.Name))
	}
	base := strings.TrimSuffix(fc.Name, filepath.Ext(fc.Name))
	if strings.TrimSpace(base) == "" {
		base = "log"
	}
	t := fc.Modified
	if t.IsZero() {
		t = time.Now()
	}
	name := fmt.Sprintf("%s__%s.%s", sanitize(shorten(base, 60)), t.UTC().Format("20060102_1504"), format)
	return url.PathEscape(name)
}

func sanitize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "_"
	}
	s = strings.ReplaceAll(s, " ", "_")
	for _, b := range []string{"/", `\`, ":", "*", "?", `"`, "<", ">", "|"} {
		s = strings.ReplaceAll(s, b, "_")
	}
	return s
}

func shorten(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "_"
}
