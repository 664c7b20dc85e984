// Package files exposes the configured log directory: a cached, sorted tree of
// the files it contains, contained reads of single files, and helpers to tail
// and watch them.
package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"logviewer/internal/logging"
)

var (
	ErrPathRequired = errors.New("path parameter is required")
	ErrOutsideRoot  = errors.New("access denied: path outside log directory")
	ErrNotFound     = errors.New("file not found")
	ErrIsDirectory  = errors.New("path is a directory")
	ErrTooLarge     = errors.New("file exceeds size limit")
)

// FileContent is a single file read through the service.
type FileContent struct {
	Path     string    `json:"path"`
	Name     string    `json:"name"`
	Content  string    `json:"content"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// RootStatus describes the configured root as seen by stat.
type RootStatus struct {
	Exists      bool   `json:"exists"`
	IsDirectory bool   `json:"isDirectory"`
	Path        string `json:"path"`
	Error       string `json:"error,omitempty"`
}

// Options configures a Service.
type Options struct {
	Root         string
	Extensions   []string
	MaxFileBytes int64 // 0 = unlimited
	// NoCache walks the directory on every Tree call. Watch manages this
	// itself when the root cannot be watched.
	NoCache bool
	Logger  *logging.Logger
}

// Service serves the tree and file contents under a single root directory.
// The tree is built on first use and cached until Invalidate or Reload,
// unless caching is off.
type Service struct {
	root     string
	exts     []string
	maxBytes int64
	logger   *logging.Logger

	mu      sync.Mutex
	cache   bool
	tree    *Node
	builtAt time.Time
	valid   bool
}

func New(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		root:     filepath.Clean(opts.Root),
		exts:     append([]string(nil), opts.Extensions...),
		maxBytes: opts.MaxFileBytes,
		logger:   logger,
		cache:    !opts.NoCache,
	}
}

// Root returns the absolute root directory.
func (s *Service) Root() string { return s.root }

// Extensions returns the file extensions shown in the tree.
func (s *Service) Extensions() []string { return append([]string(nil), s.exts...) }

// Tree returns the cached tree, building it if the cache is empty or stale.
func (s *Service) Tree(ctx context.Context) (*Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache && s.valid {
		return s.tree, nil
	}
	return s.rebuildLocked(ctx)
}

// SetCache turns tree caching on or off. Either way the current tree is
// dropped, since nothing kept it in step while the mode was different.
func (s *Service) SetCache(enabled bool) {
	s.mu.Lock()
	s.cache = enabled
	s.valid = false
	s.mu.Unlock()
}

// Caching reports whether Tree may return a cached tree.
func (s *Service) Caching() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache
}

// Reload rebuilds the tree unconditionally.
func (s *Service) Reload(ctx context.Context) (*Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rebuildLocked(ctx)
}

// Invalidate marks the cached tree stale; the next Tree call rebuilds it.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.valid = false
	s.mu.Unlock()
}

// BuiltAt returns when the cached tree was last built.
func (s *Service) BuiltAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.builtAt
}

func (s *Service) rebuildLocked(ctx context.Context) (*Node, error) {
	start := time.Now()
	tree, err := BuildTree(ctx, s.root, s.exts, s.logger)
	treeBuildDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		s.valid = false
		return nil, err
	}
	s.tree = tree
	s.builtAt = time.Now()
	s.valid = true
	s.logger.ComponentDebug(logging.ComponentFiles, "tree built",
		zap.Int("files", tree.CountFiles()),
		zap.Duration("took", time.Since(start)))
	return tree, nil
}

// CheckRoot stats the root directory.
func (s *Service) CheckRoot() RootStatus {
	info, err := os.Stat(s.root)
	if err != nil {
		return RootStatus{Path: s.root, Error: err.Error()}
	}
	return RootStatus{Exists: true, IsDirectory: info.IsDir(), Path: s.root}
}

// Resolve maps a client-supplied path to an absolute path inside the root.
// Relative paths are taken relative to the root. Symlinks are evaluated so a
// link cannot point outside the root.
func (s *Service) Resolve(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", ErrPathRequired
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(s.root, p)
	}
	p = filepath.Clean(p)
	if !within(s.root, p) {
		return "", ErrOutsideRoot
	}
	real, err := filepath.EvalSymlinks(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		return "", err
	}
	realRoot, err := filepath.EvalSymlinks(s.root)
	if err != nil {
		realRoot = s.root
	}
	if !within(realRoot, real) {
		return "", ErrOutsideRoot
	}
	return p, nil
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// Rel returns p relative to the root using forward slashes.
func (s *Service) Rel(p string) string {
	rel, err := filepath.Rel(s.root, p)
	if err != nil {
		return p
	}
	return filepath.ToSlash(rel)
}

// Stat resolves p and returns its FileInfo, rejecting directories.
func (s *Service) Stat(p string) (string, os.FileInfo, error) {
	resolved, err := s.Resolve(p)
	if err != nil {
		return "", nil, err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil, fmt.Errorf("%w: %s", ErrNotFound, resolved)
		}
		return "", nil, err
	}
	if info.IsDir() {
		return "", nil, ErrIsDirectory
	}
	return resolved, info, nil
}

// ReadFile reads a single file under the root.
func (s *Service) ReadFile(p string) (*FileContent, error) {
	resolved, info, err := s.Stat(p)
	if err != nil {
		s.logger.ComponentWarn(logging.ComponentFiles, "error reading file",
			zap.String("path", p), zap.Error(err))
		return nil, err
	}
	if s.maxBytes > 0 && info.Size() > s.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrTooLarge, info.Size(), s.maxBytes)
	}
	f, err := os.Open(resolved)
	if err != nil {
		s.logger.ComponentError(logging.ComponentFiles, "error reading file",
			zap.String("path", resolved), zap.Error(err))
		return nil, err
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", resolved, err)
	}
	content := string(b)
	if !utf8.ValidString(content) {
		content = strings.ToValidUTF8(content, "�")
	}
	return &FileContent{
		Path:     resolved,
		Name:     filepath.Base(resolved),
		Content:  content,
		Size:     info.Size(),
		Modified: info.ModTime(),
	}, nil
}
