package files

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"logviewer/internal/logging"
)

const (
	// DefaultDebounce is how long the watcher waits for the filesystem to
	// settle before reporting a batch of changes.
	DefaultDebounce = 250 * time.Millisecond

	// DefaultWatchRetry is how often Service.Watch retries a root it could
	// not watch.
	DefaultWatchRetry = 5 * time.Second
)

// ErrRootRemoved is returned by Watcher.Run when the watched root itself is
// deleted or renamed.
var ErrRootRemoved = errors.New("watched root was removed")

// Watcher watches the root directory tree and calls onChange once per burst of
// filesystem events.
type Watcher struct {
	root     string
	debounce time.Duration
	onChange func(paths []string)
	logger   *logging.Logger
	watcher  *fsnotify.Watcher
}

// NewWatcher creates a recursive watcher on root. Run must be called to start
// delivering events; it closes the underlying watcher when it returns.
func NewWatcher(root string, debounce time.Duration, onChange func(paths []string), logger *logging.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{root: root, debounce: debounce, onChange: onChange, logger: logger, watcher: fw}
	if err := w.addRecursive(root); err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

// addRecursive adds a directory and all subdirectories to the watch list.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.ComponentWarn(logging.ComponentWatch, "cannot watch directory",
				zap.String("path", path), zap.Error(err))
		}
		return nil
	})
}

// Run delivers debounced change batches until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	w.logger.ComponentInfo(logging.ComponentWatch, "watching log directory", zap.String("root", w.root))

	var (
		pending = map[string]struct{}{}
		timer   *time.Timer
		fire    <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if ev.Name == w.root && (ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)) {
				w.logger.ComponentWarn(logging.ComponentWatch, "log directory removed", zap.String("root", w.root))
				if w.onChange != nil {
					w.onChange([]string{ev.Name})
				}
				return ErrRootRemoved
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = w.addRecursive(ev.Name)
				}
			}
			pending[ev.Name] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			pending = map[string]struct{}{}
			w.logger.ComponentDebug(logging.ComponentWatch, "changes detected", zap.Int("paths", len(paths)))
			if w.onChange != nil {
				w.onChange(paths)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.ComponentWarn(logging.ComponentWatch, "watch error", zap.Error(err))
		}
	}
}

// Watch keeps the cached tree in step with the filesystem until ctx is done.
// While the root cannot be watched, for example because it does not exist
// yet, caching is off so every Tree call walks the directory, and the
// watcher is retried every retry interval.
func (s *Service) Watch(ctx context.Context, debounce, retry time.Duration) error {
	if retry <= 0 {
		retry = DefaultWatchRetry
	}
	onChange := func([]string) { s.Invalidate() }
	degraded := false
	for {
		w, err := NewWatcher(s.root, debounce, onChange, s.logger)
		if err == nil {
			s.SetCache(true)
			if degraded {
				s.logger.ComponentInfo(logging.ComponentWatch, "log directory can be watched again; tree caching enabled",
					zap.String("root", s.root))
				degraded = false
			}
			err = w.Run(ctx)
			if !errors.Is(err, ErrRootRemoved) {
				return err
			}
		}
		if !degraded {
			s.logger.ComponentWarn(logging.ComponentWatch, "cannot watch log directory; tree caching disabled",
				zap.String("root", s.root), zap.Duration("retry", retry), zap.Error(err))
			degraded = true
		}
		s.SetCache(false)

		t := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}
