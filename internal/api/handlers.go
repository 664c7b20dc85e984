package api

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"logviewer/internal/exporter"
	"logviewer/internal/files"
	"logviewer/internal/logging"
	"logviewer/internal/logview"
	"logviewer/internal/retention"
	"logviewer/internal/search"
)

type cleanupStatus struct {
	Enabled       bool              `json:"enabled"`
	RetentionDays int               `json:"retentionDays"`
	DryRun        bool              `json:"dryRun,omitempty"`
	NextRun       *time.Time        `json:"nextRun,omitempty"`
	LastRun       *retention.Result `json:"lastRun,omitempty"`
}

func (s *Server) cleanupStatus() cleanupStatus {
	st := cleanupStatus{
		Enabled:       s.cfg.Cleanup.Enabled,
		RetentionDays: s.cfg.Cleanup.RetentionDays,
		DryRun:        s.cfg.Cleanup.DryRun,
	}
	if s.scheduler != nil {
		if next := s.scheduler.NextRun(); !next.IsZero() {
			st.NextRun = &next
		}
	}
	if s.cleaner != nil {
		st.LastRun = s.cleaner.LastRun()
	}
	return st
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Success bool             `json:"success"`
		Status  string           `json:"status"`
		LogPath files.RootStatus `json:"logPath"`
		Cleanup cleanupStatus    `json:"cleanup"`
		Version string           `json:"version"`
	}{
		Success: true,
		Status:  "ok",
		LogPath: s.files.CheckRoot(),
		Cleanup: s.cleanupStatus(),
		Version: Version,
	})
}

func (s *Server) handleDescriptor(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, descriptor())
}

func descriptor() map[string]any {
	return map[string]any{
		"name":    "Log Viewer API",
		"version": Version,
		"endpoints": map[string]string{
			"health":   "GET /api/health",
			"tree":     "GET /api/tree",
			"file":     "GET /api/file?path=<file_path>",
			"reload":   "POST /api/reload",
			"cleanup":  "POST /api/cleanup[?dry_run=true]",
			"view":     "GET /api/view?path=<file_path>&q=<term>",
			"search":   "GET /api/search?q=<query>&scope=all|text|json|errors&limit=&offset=",
			"download": "GET /api/download?path=<file_path>&format=raw|txt|json|jsonl|md",
			"tail":     "GET /api/tail?path=<file_path>&from=start|end (websocket)",
			"metrics":  "GET /metrics",
		},
	}
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	tree, err := s.files.Tree(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, tree)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	tree, err := s.files.Reload(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.ComponentInfo(logging.ComponentFiles, "tree reloaded", zap.Int("files", tree.CountFiles()))
	writeData(w, tree)
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	fc, err := s.files.ReadFile(r.URL.Query().Get("path"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeData(w, fc)
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if s.cleaner == nil {
		writeError(w, http.StatusServiceUnavailable, "cleanup is not configured")
		return
	}
	if !s.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "cleanup was triggered too recently")
		return
	}
	dryRun, _ := strconv.ParseBool(r.URL.Query().Get("dry_run"))

	s.logger.ComponentInfo(logging.ComponentCleanup, "manual cleanup triggered", zap.Bool("dry_run", dryRun))
	// a client hanging up should not abort a sweep halfway
	ctx := context.WithoutCancel(r.Context())
	var res retention.Result
	if dryRun {
		res = s.cleaner.DryRun(ctx, retention.TriggerManual)
	} else {
		res = s.cleaner.Run(ctx, retention.TriggerManual)
		if res.Deleted > 0 {
			s.files.Invalidate()
		}
	}

	msg := fmt.Sprintf("Cleanup completed: %d files deleted", res.Deleted)
	if dryRun {
		msg = fmt.Sprintf("Dry run: %d files would be deleted", res.Deleted)
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: res, Message: msg})
}

// viewBlock is one display block of /api/view.
type viewBlock struct {
	Type      string              `json:"type"`
	StartLine int                 `json:"startLine"`
	IsError   bool                `json:"isError"`
	Matches   int                 `json:"matches"`
	Pretty    string              `json:"pretty,omitempty"`
	Lines     [][]logview.Segment `json:"lines,omitempty"`
	HTML      template.HTML       `json:"html"`
}

type viewResponse struct {
	Path     string      `json:"path"`
	Name     string      `json:"name"`
	Size     int64       `json:"size"`
	SizeText string      `json:"sizeText"`
	Modified time.Time   `json:"modified"`
	Query    string      `json:"query,omitempty"`
	Matches  int         `json:"matches"`
	Blocks   []viewBlock `json:"blocks"`
}

func buildView(fc *files.FileContent, term string) viewResponse {
	m := logview.NewMatcher(term)
	rendered := logview.Render(logview.Parse(fc.Content), term)
	out := viewResponse{
		Path:     fc.Path,
		Name:     fc.Name,
		Size:     fc.Size,
		SizeText: logview.FormatSize(fc.Size),
		Modified: fc.Modified,
		Query:    term,
		Blocks:   make([]viewBlock, 0, len(rendered)),
	}
	for _, rb := range rendered {
		vb := viewBlock{
			Type:      rb.Type,
			StartLine: rb.StartLine,
			IsError:   rb.IsError,
			Matches:   rb.Matches,
			HTML:      rb.HTML,
		}
		if rb.Type == logview.TypeJSON {
			vb.Pretty = rb.Value.Pretty()
		} else {
			vb.Lines = make([][]logview.Segment, len(rb.Lines))
			for i, line := range rb.Lines {
				vb.Lines[i] = m.Split(line)
			}
		}
		out.Matches += rb.Matches
		out.Blocks = append(out.Blocks, vb)
	}
	return out
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	fc, err := s.files.ReadFile(q.Get("path"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeData(w, buildView(fc, q.Get("q")))
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	query := search.Parse(q.Get("q"), q.Get("scope"))
	res, err := search.Exec(r.Context(), s.files, query, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.ComponentDebug(logging.ComponentSearch, "search",
		zap.String("q", q.Get("q")),
		zap.String("scope", res.Scope),
		zap.Int("total", res.Total),
		zap.Int("took_ms", res.TookMS),
		zap.Bool("truncated", res.Truncated))
	writeData(w, res)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	format := strings.ToLower(strings.TrimSpace(q.Get("format")))
	if format == "" {
		format = exporter.FormatRaw
	}
	if !exporter.Supported(format) {
		writeError(w, http.StatusBadRequest, "unsupported format: "+format)
		return
	}
	fc, err := s.files.ReadFile(q.Get("path"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	jsonOnly, _ := strconv.ParseBool(q.Get("json_only"))
	errorsOnly, _ := strconv.ParseBool(q.Get("errors_only"))
	maxBlocks, _ := strconv.Atoi(q.Get("max_blocks"))

	var buf bytes.Buffer
	if _, err := exporter.Write(&buf, fc, format, exporter.Filters{
		JSONOnly:   jsonOnly,
		ErrorsOnly: errorsOnly,
		MaxBlocks:  maxBlocks,
	}); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	name := exporter.AttachmentName(fc, format)
	w.Header().Set("Content-Type", exporter.ContentType(format))
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`, name, name))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	_, _ = buf.WriteTo(w)
}
