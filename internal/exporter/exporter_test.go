package exporter

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logviewer/internal/files"
)

func sample() *files.FileContent {
	content := strings.Join([]string{
		"boot ok",
		`{"level":"info","msg":"ready"}`,
		"between",
		`{"error":"disk full",`,
		` "code":507}`,
	}, "\n")
	return &files.FileContent{
		Path:     "/logs/app.log",
		Name:     "app.log",
		Content:  content,
		Size:     int64(len(content)),
		Modified: time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC),
	}
}

func TestWriteRaw(t *testing.T) {
	var buf bytes.Buffer
	n, err := Write(&buf, sample(), "raw", Filters{ErrorsOnly: true})
	require.NoError(t, err)
	assert.Equal(t, sample().Content, buf.String())
	assert.Equal(t, 4, n)
}

func TestWriteJSONWithFilters(t *testing.T) {
	var buf bytes.Buffer
	n, err := Write(&buf, sample(), "json", Filters{JSONOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t,
		`[{"type":"json","start_line":2,"value":{"level":"info","msg":"ready"}},`+
			`{"type":"json","start_line":4,"is_error":true,"value":{"error":"disk full","code":507}}]`,
		buf.String())

	buf.Reset()
	n, err = Write(&buf, sample(), "json", Filters{})
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, []any{"boot ok"}, decoded[0]["lines"])
}

func TestWriteJSONLOnlyEmitsJSONBlocks(t *testing.T) {
	var buf bytes.Buffer
	n, err := Write(&buf, sample(), "JSONL", Filters{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "{\"level\":\"info\",\"msg\":\"ready\"}\n{\"error\":\"disk full\",\"code\":507}\n", buf.String())

	buf.Reset()
	n, err = Write(&buf, sample(), "jsonl", Filters{ErrorsOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "{\"error\":\"disk full\",\"code\":507}\n", buf.String())
}

func TestWriteMarkdown(t *testing.T) {
	var buf bytes.Buffer
	n, err := Write(&buf, sample(), "md", Filters{MaxBlocks: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "# app.log\n\n"))
	assert.Contains(t, out, "### Line 1\n\n```text\nboot ok\n```\n")
	assert.Contains(t, out, "### Line 2\n\n```json\n{\n  \"level\": \"info\",\n  \"msg\": \"ready\"\n}\n```\n")
	assert.NotContains(t, out, "disk full")
}

func TestWriteMarkdownMarksErrorsAndWidensFence(t *testing.T) {
	fc := sample()
	fc.Content = "code sample ```go```\n{\"status\":\"failed\"}"
	var buf bytes.Buffer
	_, err := Write(&buf, fc, "md", Filters{})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "````text\ncode sample ```go```\n````")
	assert.Contains(t, buf.String(), "### Line 2 (error)")
}

func TestWriteTxt(t *testing.T) {
	var buf bytes.Buffer
	n, err := Write(&buf, sample(), "txt", Filters{ErrorsOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "app.log\nSize: 81 B | Modified: 2024-05-06T07:08:09Z\n\n{\"error\":\"disk full\",\n \"code\":507}\n", buf.String())
}

func TestWriteUnsupported(t *testing.T) {
	_, err := Write(&bytes.Buffer{}, sample(), "xml", Filters{})
	assert.EqualError(t, err, "unsupported format: xml")
	assert.False(t, Supported("xml"))
	assert.True(t, Supported("MD"))
}

func TestAttachmentName(t *testing.T) {
	fc := sample()
	assert.Equal(t, "app__20240506_0708.md", AttachmentName(fc, "md"))
	assert.Equal(t, "app.log", AttachmentName(fc, "raw"))

	fc.Name = `my run: "x".log`
	assert.Equal(t, "my_run___x___20240506_0708.jsonl", AttachmentName(fc, "jsonl"))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/x-ndjson; charset=utf-8", ContentType("jsonl"))
	assert.Equal(t, "text/plain; charset=utf-8", ContentType("raw"))
}
