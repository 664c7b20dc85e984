package api

import (
	"html/template"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"logviewer/internal/files"
	"logviewer/internal/logging"
	"logviewer/internal/logview"
	"logviewer/internal/search"
)

var funcMap = template.FuncMap{
	"size": logview.FormatSize,
	"ts": func(t *time.Time) string {
		if t == nil || t.IsZero() {
			return ""
		}
		return t.Local().Format("2006-01-02 15:04:05")
	},
	"items":    treeItems,
	"add":      func(a, b int) int { return a + b },
	"segments": segmentsHTML,
	"scopes":   func() []string { return []string{"all", "text", "json", "errors"} },
}

func treeItems(n *files.Node, selected string) []treeItem {
	out := make([]treeItem, 0, len(n.Children))
	for _, c := range n.Children {
		out = append(out, treeItem{Node: c, Selected: selected})
	}
	return out
}

func segmentsHTML(segs []logview.Segment) template.HTML {
	var b strings.Builder
	for _, seg := range segs {
		if seg.Match {
			b.WriteString(`<mark class="search-highlight">`)
			b.WriteString(template.HTMLEscapeString(seg.Text))
			b.WriteString("</mark>")
			continue
		}
		b.WriteString(template.HTMLEscapeString(seg.Text))
	}
	return template.HTML(b.String())
}

// treeItem carries the selected path down the recursive tree template.
type treeItem struct {
	Node     *files.Node
	Selected string
}

// Open reports whether the directory contains the selected file.
func (t treeItem) Open() bool {
	return t.Selected != "" && strings.HasPrefix(t.Selected, t.Node.Path+string(filepath.Separator))
}

// Active reports whether this is the selected file.
func (t treeItem) Active() bool { return t.Node.Path == t.Selected }

type pageData struct {
	Root      files.RootStatus
	Tree      *files.Node
	TreeError string
	Items     []treeItem
	FileCount int

	Selected  string
	File      *viewResponse
	FileError string
	Query     string

	SearchQuery string
	SearchScope string
	Search      *search.Response
	SearchError string

	Cleanup cleanupStatus
	Formats []string
	Version string
}

// handleIndex renders the browser UI. Clients that accept JSON but not HTML
// get the API descriptor.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	accept := r.Header.Get("Accept")
	if strings.Contains(accept, "application/json") && !strings.Contains(accept, "text/html") {
		s.handleDescriptor(w, r)
		return
	}

	q := r.URL.Query()
	data := pageData{
		Root:        s.files.CheckRoot(),
		Selected:    q.Get("path"),
		Query:       q.Get("q"),
		SearchQuery: q.Get("search"),
		SearchScope: q.Get("scope"),
		Cleanup:     s.cleanupStatus(),
		Formats:     []string{"raw", "txt", "json", "jsonl", "md"},
		Version:     Version,
	}

	tree, err := s.files.Tree(r.Context())
	switch {
	case err != nil:
		data.TreeError = err.Error()
	case tree != nil:
		data.Tree = tree
		data.FileCount = tree.CountFiles()
	}

	if data.Selected != "" {
		fc, err := s.files.ReadFile(data.Selected)
		if err != nil {
			data.FileError = err.Error()
		} else {
			v := buildView(fc, data.Query)
			data.File = &v
			data.Selected = fc.Path
		}
	}
	if data.Tree != nil {
		data.Items = treeItems(data.Tree, data.Selected)
	}

	if strings.TrimSpace(data.SearchQuery) != "" {
		res, err := search.Exec(r.Context(), s.files, search.Parse(data.SearchQuery, data.SearchScope), 100, 0)
		if err != nil {
			data.SearchError = err.Error()
		} else {
			data.Search = &res
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.page.Execute(w, data); err != nil {
		s.logger.ComponentError(logging.ComponentServer, "render index", zap.Error(err))
	}
}

const indexHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Log Viewer{{with .File}} - {{.Name}}{{end}}</title>
  <style>
    body { font-family: ui-sans-serif, system-ui, -apple-system, Segoe UI, Roboto, Helvetica Neue, Arial; margin: 0; color: #222; }
    header { padding: 10px 16px; border-bottom: 1px solid #eee; display: flex; gap: 16px; align-items: center; }
    header h1 { font-size: 16px; margin: 0; }
    .container { display: grid; grid-template-columns: 320px 1fr; height: calc(100vh - 52px); }
    .sidebar { border-right: 1px solid #eee; overflow: auto; padding: 8px 0; font-size: 14px; }
    .content { overflow: auto; }
    .meta { color: #666; font-size: 12px; }
    .btn { padding: 6px 10px; border: 1px solid #ccc; border-radius: 6px; background: #fff; cursor: pointer; font-size: 13px; text-decoration: none; color: inherit; }
    .tree ul { list-style: none; margin: 0; padding-left: 14px; }
    .tree > ul { padding-left: 8px; }
    .tree summary { cursor: pointer; padding: 2px 4px; }
    .tree a { display: flex; justify-content: space-between; gap: 8px; padding: 2px 6px; color: inherit; text-decoration: none; border-radius: 4px; }
    .tree a:hover { background: #f3f4f6; }
    .tree a.active { background: #e0f2fe; }
    .empty { color: #999; font-style: italic; padding: 2px 6px; }
    .log-header { position: sticky; top: 0; background: #fff; border-bottom: 1px solid #eee; padding: 10px 16px; display: flex; justify-content: space-between; align-items: center; gap: 12px; }
    .log-filename { margin: 0; font-size: 15px; }
    .log-content { padding: 8px 16px; font-family: ui-monospace, SFMono-Regular, Menlo, monospace; font-size: 13px; }
    .text-block { margin: 4px 0; }
    .text-line { white-space: pre-wrap; word-break: break-all; }
    .json-block { background: #f7f7f7; border-left: 3px solid #93c5fd; padding: 8px; margin: 6px 0; overflow: auto; }
    .json-block.json-error { border-left-color: #ef4444; background: #fef2f2; }
    .json-key { color: #7c3aed; }
    .json-string, .json-string-multiline { color: #047857; }
    .json-number { color: #b45309; }
    .json-boolean { color: #2563eb; }
    .json-null { color: #6b7280; }
    .search-highlight { background: #fde047; padding: 0 1px; }
    .line-no { color: #aaa; user-select: none; margin-right: 8px; }
    .hits { padding: 8px 16px; }
    .hit { padding: 6px 0; border-bottom: 1px solid #f3f3f3; font-family: ui-monospace, SFMono-Regular, Menlo, monospace; font-size: 13px; }
    .pill { font-size: 12px; background: #efefef; border-radius: 9999px; padding: 2px 8px; margin-right: 6px; }
    .pill.error { background: #fee2e2; }
    .error-box { color: #b91c1c; padding: 12px 16px; }
    #tail { display: none; }
  </style>
  <script>
    document.addEventListener('keydown', function(e){
      var input = document.getElementById('find');
      if ((e.ctrlKey || e.metaKey) && e.key === 'f' && input) { e.preventDefault(); input.focus(); input.select(); }
      if (e.key === 'Escape' && input && input.value) { input.value = ''; input.form.submit(); }
    });
    async function post(url, confirmText){
      if (confirmText && !confirm(confirmText)) return;
      const res = await fetch(url, { method: 'POST' });
      const body = await res.json();
      if (!body.success) { alert(body.error || ('HTTP ' + res.status)); return; }
      if (body.message) alert(body.message);
      location.reload();
    }
    var tailSocket = null;
    function toggleTail(path){
      var box = document.getElementById('tail');
      var btn = document.getElementById('tail-btn');
      if (tailSocket) { tailSocket.close(); tailSocket = null; btn.textContent = 'Live tail'; return; }
      var proto = location.protocol === 'https:' ? 'wss://' : 'ws://';
      tailSocket = new WebSocket(proto + location.host + '/api/tail?path=' + encodeURIComponent(path));
      box.style.display = 'block';
      btn.textContent = 'Stop tail';
      tailSocket.onmessage = function(ev){
        var m = JSON.parse(ev.data);
        if (m.type === 'truncated') { box.textContent = ''; }
        if (m.type === 'error') { var e = document.createElement('div'); e.className = 'error-box'; e.textContent = m.error; box.appendChild(e); }
        (m.lines || []).forEach(function(l){ var d = document.createElement('div'); d.className = 'text-line'; d.textContent = l; box.appendChild(d); });
        box.scrollIntoView(false);
      };
      tailSocket.onclose = function(){ tailSocket = null; btn.textContent = 'Live tail'; };
    }
  </script>
</head>
<body>
  <header>
    <h1>Log Viewer</h1>
    <span class="meta">{{.Root.Path}}{{if not .Root.Exists}} (missing){{end}} &middot; {{.FileCount}} files</span>
    <form method="get" action="/" style="display:flex; gap:6px; margin-left:auto">
      <input type="text" name="search" value="{{.SearchQuery}}" placeholder="Search all logs (error OR warn, ext:log, in:errors)" size="48" />
      <select name="scope">
        {{$scope := .SearchScope}}{{range scopes}}<option value="{{.}}"{{if eq . $scope}} selected{{end}}>{{.}}</option>{{end}}
      </select>
      <button class="btn" type="submit">Search</button>
    </form>
    <button class="btn" onclick="post('/api/reload')">Reload</button>
    <button class="btn" onclick="post('/api/cleanup', 'Delete files older than {{.Cleanup.RetentionDays}} days?')">Clean up</button>
  </header>
  <div class="container">
    <nav class="sidebar tree">
      {{if .TreeError}}<div class="error-box">{{.TreeError}}</div>{{end}}
      {{if .Tree}}<ul>{{range .Items}}{{template "node" .}}{{end}}</ul>{{else if not .TreeError}}<div class="empty">Log directory is not available</div>{{end}}
      <div class="meta" style="padding:12px 8px">
        Cleanup: {{if .Cleanup.Enabled}}daily, keeps {{.Cleanup.RetentionDays}} days{{with .Cleanup.NextRun}}, next {{ts .}}{{end}}{{else}}disabled{{end}}
        {{with .Cleanup.LastRun}}<br>Last run: {{.Deleted}} deleted, {{.Errors}} errors{{end}}
      </div>
    </nav>
    <main class="content">
      {{if .Search}}
        <div class="hits">
          <div class="meta">{{.Search.Total}} matches in {{.Search.Scanned}} files ({{.Search.TookMS}} ms){{if .Search.Truncated}}, truncated{{end}}</div>
          {{$q := .SearchQuery}}
          {{range .Search.Hits}}
            <div class="hit">
              <a href="/?path={{.Path}}&q={{$q}}#L{{.LineNo}}">{{.Rel}}:{{.LineNo}}</a>
              {{if .IsError}}<span class="pill error">error</span>{{else if eq .Block "json"}}<span class="pill">json</span>{{end}}
              <div>{{.Line}}</div>
            </div>
          {{else}}<div class="empty">No matches</div>{{end}}
        </div>
      {{else if .SearchError}}<div class="error-box">{{.SearchError}}</div>
      {{end}}

      {{if .FileError}}<div class="error-box">{{.FileError}}</div>{{end}}
      {{with .File}}
        <div class="log-header">
          <div>
            <h3 class="log-filename">{{.Name}}</h3>
            <div class="meta">Size: {{.SizeText}} &bull; Modified: {{.Modified.Local.Format "2006-01-02 15:04:05"}}{{if .Query}} &bull; {{.Matches}} matches{{end}}</div>
          </div>
          <div style="display:flex; gap:6px; align-items:center">
            <form method="get" action="/">
              <input type="hidden" name="path" value="{{.Path}}" />
              <input id="find" type="text" name="q" value="{{.Query}}" placeholder="Search in log... (Ctrl+F)" />
            </form>
            <button id="tail-btn" class="btn" onclick="toggleTail({{.Path}})">Live tail</button>
            {{$p := .Path}}{{range $.Formats}}<a class="btn" href="/api/download?path={{$p}}&format={{.}}">{{.}}</a>{{end}}
          </div>
        </div>
        <div class="log-content">
          {{range .Blocks}}
            {{if eq .Type "json"}}
              <pre id="L{{.StartLine}}" class="json-block{{if .IsError}} json-error{{end}}">{{.HTML}}</pre>
            {{else}}
              <div class="text-block">{{$start := .StartLine}}{{range $i, $l := .Lines}}<div class="text-line" id="L{{add $start $i}}">{{segments $l}}</div>{{end}}</div>
            {{end}}
          {{end}}
          <div id="tail" class="text-block"></div>
        </div>
      {{else}}
        {{if not .Search}}<div class="empty" style="padding:16px">Select a file from the tree.</div>{{end}}
      {{end}}
    </main>
  </div>
</body>
</html>
{{define "node"}}
  {{if .Node.IsDir}}
    <li><details{{if .Open}} open{{end}}><summary>{{.Node.Name}}</summary>
      <ul>{{range items .Node .Selected}}{{template "node" .}}{{else}}<li class="empty">empty</li>{{end}}</ul>
    </details></li>
  {{else}}
    <li><a href="/?path={{.Node.Path}}"{{if .Active}} class="active"{{end}} title="{{.Node.Path}}"><span>{{.Node.Name}}</span><span class="meta">{{size .Node.Size}}</span></a></li>
  {{end}}
{{end}}
`
