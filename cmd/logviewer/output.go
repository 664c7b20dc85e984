package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"logviewer/internal/files"
	"logviewer/internal/logview"
	"logviewer/internal/retention"
)

var (
	colorDir     = lipgloss.Color("#60A5FA")
	colorOK      = lipgloss.Color("#22C55E")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
	colorMuted   = lipgloss.Color("#6B7280")
)

type styles struct {
	title lipgloss.Style
	dir   lipgloss.Style
	muted lipgloss.Style
	ok    lipgloss.Style
	warn  lipgloss.Style
	err   lipgloss.Style
	box   lipgloss.Style
}

// newStyles returns colored styles, or plain ones when output is not a
// terminal so piped output stays free of escape codes.
func newStyles(color bool) styles {
	if !color {
		plain := lipgloss.NewStyle()
		return styles{title: plain, dir: plain, muted: plain, ok: plain, warn: plain, err: plain, box: plain}
	}
	return styles{
		title: lipgloss.NewStyle().Bold(true),
		dir:   lipgloss.NewStyle().Bold(true).Foreground(colorDir),
		muted: lipgloss.NewStyle().Foreground(colorMuted),
		ok:    lipgloss.NewStyle().Foreground(colorOK),
		warn:  lipgloss.NewStyle().Foreground(colorWarning),
		err:   lipgloss.NewStyle().Foreground(colorError),
		box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorMuted).
			Padding(0, 1),
	}
}

func colorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// renderTree writes the tree with box-drawing guides, one node per line.
func renderTree(w io.Writer, root *files.Node, st styles) {
	if root == nil {
		fmt.Fprintln(w, st.muted.Render("(not a directory)"))
		return
	}
	fmt.Fprintln(w, st.dir.Render(root.Path))
	renderChildren(w, root.Children, "", st)
	fmt.Fprintln(w, st.muted.Render(fmt.Sprintf("%d files", root.CountFiles())))
}

func renderChildren(w io.Writer, nodes []*files.Node, prefix string, st styles) {
	for i, n := range nodes {
		branch, indent := "├── ", "│   "
		if i == len(nodes)-1 {
			branch, indent = "└── ", "    "
		}
		if n.IsDir() {
			fmt.Fprintln(w, prefix+branch+st.dir.Render(n.Name+string(filepath.Separator)))
			renderChildren(w, n.Children, prefix+indent, st)
			continue
		}
		meta := logview.FormatSize(n.Size)
		if n.Modified != nil {
			meta += "  " + n.Modified.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintln(w, prefix+branch+n.Name+"  "+st.muted.Render(meta))
	}
}

// renderCleanup summarises a sweep inside a bordered box.
func renderCleanup(w io.Writer, res retention.Result, root string, st styles) {
	var b strings.Builder
	verb := "deleted"
	if res.DryRun {
		verb = "would be deleted"
	}
	fmt.Fprintf(&b, "%s\n", st.title.Render("Log cleanup"))
	fmt.Fprintf(&b, "%s %s\n", st.muted.Render("root:"), root)
	fmt.Fprintf(&b, "%s %s\n", st.muted.Render("run: "), res.RunID)
	status := st.ok.Render(fmt.Sprintf("%d files %s", res.Deleted, verb))
	if res.Errors > 0 {
		status += ", " + st.err.Render(fmt.Sprintf("%d errors", res.Errors))
	}
	fmt.Fprintf(&b, "%s (%s)", status, res.Duration.Round(time.Millisecond))
	for _, f := range res.Files {
		fmt.Fprintf(&b, "\n  %s %s", st.warn.Render("-"), f)
	}
	fmt.Fprintln(w, st.box.Render(b.String()))
}
