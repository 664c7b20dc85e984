package files

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"logviewer/internal/logging"
)

const (
	TypeDirectory = "directory"
	TypeFile      = "file"
)

// Node is one entry of the directory tree. Size, Modified and Created are only
// populated for files.
type Node struct {
	Name     string     `json:"name"`
	Path     string     `json:"path"`
	Type     string     `json:"type"`
	Children []*Node    `json:"children,omitempty"`
	Size     int64      `json:"size,omitempty"`
	Modified *time.Time `json:"modified,omitempty"`
	Created  *time.Time `json:"created,omitempty"`
}

// MarshalJSON renders directories with an always-present children array and
// files with their stat fields, never both.
func (n *Node) MarshalJSON() ([]byte, error) {
	if n.IsDir() {
		children := n.Children
		if children == nil {
			children = []*Node{}
		}
		return json.Marshal(struct {
			Name     string  `json:"name"`
			Path     string  `json:"path"`
			Type     string  `json:"type"`
			Children []*Node `json:"children"`
		}{n.Name, n.Path, n.Type, children})
	}
	return json.Marshal(struct {
		Name     string     `json:"name"`
		Path     string     `json:"path"`
		Type     string     `json:"type"`
		Size     int64      `json:"size"`
		Modified *time.Time `json:"modified,omitempty"`
		Created  *time.Time `json:"created,omitempty"`
	}{n.Name, n.Path, n.Type, n.Size, n.Modified, n.Created})
}

// IsDir reports whether n is a directory node.
func (n *Node) IsDir() bool { return n != nil && n.Type == TypeDirectory }

// Walk visits n and its descendants depth-first in tree order. Returning false
// from fn stops the walk.
func (n *Node) Walk(fn func(*Node) bool) bool {
	if n == nil {
		return true
	}
	if !fn(n) {
		return false
	}
	for _, c := range n.Children {
		if !c.Walk(fn) {
			return false
		}
	}
	return true
}

// CountFiles returns the number of file nodes below n.
func (n *Node) CountFiles() int {
	count := 0
	n.Walk(func(c *Node) bool {
		if c.Type == TypeFile {
			count++
		}
		return true
	})
	return count
}

// collators are not safe for concurrent use.
var (
	collatorMu sync.Mutex
	collator   = collate.New(language.Und, collate.IgnoreCase)
)

func compareNames(a, b string) int {
	collatorMu.Lock()
	c := collator.CompareString(a, b)
	collatorMu.Unlock()
	if c != 0 {
		return c
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// sortChildren orders directories before files, each group by name.
func sortChildren(children []*Node) {
	sort.SliceStable(children, func(i, j int) bool {
		a, b := children[i], children[j]
		if a.IsDir() != b.IsDir() {
			return a.IsDir()
		}
		return compareNames(a.Name, b.Name) < 0
	})
}

type treeBuilder struct {
	exts    map[string]bool
	logger  *logging.Logger
	visited []os.FileInfo
}

// BuildTree stats dir and recursively lists it. Subdirectories are always
// included; files only when their extension is listed in exts. A nil node and
// nil error means dir exists but is not a directory.
func BuildTree(ctx context.Context, dir string, exts []string, logger *logging.Logger) (*Node, error) {
	b := &treeBuilder{exts: make(map[string]bool, len(exts)), logger: logger}
	for _, e := range exts {
		b.exts[e] = true
	}
	return b.build(ctx, dir)
}

func (b *treeBuilder) build(ctx context.Context, dir string) (*Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(dir)
	if err != nil {
		b.logger.ComponentError(logging.ComponentFiles, "error reading directory",
			zap.String("path", dir), zap.Error(err))
		return nil, err
	}
	if !info.IsDir() {
		return nil, nil
	}
	for _, seen := range b.visited {
		if os.SameFile(seen, info) {
			b.logger.ComponentWarn(logging.ComponentFiles, "directory cycle skipped", zap.String("path", dir))
			return nil, nil
		}
	}
	b.visited = append(b.visited, info)
	defer func() { b.visited = b.visited[:len(b.visited)-1] }()

	entries, err := os.ReadDir(dir)
	if err != nil {
		b.logger.ComponentError(logging.ComponentFiles, "error reading directory",
			zap.String("path", dir), zap.Error(err))
		return nil, err
	}

	node := &Node{
		Name:     filepath.Base(dir),
		Path:     dir,
		Type:     TypeDirectory,
		Children: []*Node{},
	}
	for _, entry := range entries {
		childPath := filepath.Join(dir, entry.Name())
		childInfo, err := os.Stat(childPath)
		if err != nil {
			b.logger.ComponentError(logging.ComponentFiles, "error processing entry",
				zap.String("path", childPath), zap.Error(err))
			continue
		}
		if childInfo.IsDir() {
			sub, err := b.build(ctx, childPath)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				continue
			}
			if sub != nil {
				node.Children = append(node.Children, sub)
			}
			continue
		}
		if !b.exts[filepath.Ext(entry.Name())] {
			continue
		}
		mod := childInfo.ModTime()
		created := birthTime(childPath, childInfo)
		node.Children = append(node.Children, &Node{
			Name:     entry.Name(),
			Path:     childPath,
			Type:     TypeFile,
			Size:     childInfo.Size(),
			Modified: &mod,
			Created:  &created,
		})
	}
	sortChildren(node.Children)
	return node, nil
}
