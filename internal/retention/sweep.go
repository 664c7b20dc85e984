// Package retention deletes log files that have outlived the retention window,
// either on demand or from a daily schedule.
package retention

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"logviewer/internal/logging"
)

const day = 24 * time.Hour

// Result summarises one sweep.
type Result struct {
	RunID     string        `json:"runId,omitempty"`
	Trigger   string        `json:"trigger,omitempty"`
	Deleted   int           `json:"deleted"`
	Errors    int           `json:"errors"`
	DryRun    bool          `json:"dryRun,omitempty"`
	Files     []string      `json:"files,omitempty"`
	StartedAt time.Time     `json:"startedAt,omitempty"`
	Duration  time.Duration `json:"durationNs,omitempty"`
}

// SweepOptions tunes a sweep.
type SweepOptions struct {
	// DryRun reports the files that would be deleted without removing them.
	DryRun bool
	Logger *logging.Logger
}

// Sweep walks dir recursively and deletes every file whose age (now minus
// mtime) is strictly greater than retention. Directories are never removed.
// A failure on one entry is counted and the sweep moves on.
func Sweep(ctx context.Context, dir string, retention time.Duration, now time.Time, opts SweepOptions) Result {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	var res Result
	res.DryRun = opts.DryRun
	sweepDir(ctx, dir, retention, now, opts, &res)
	return res
}

func sweepDir(ctx context.Context, dir string, retention time.Duration, now time.Time, opts SweepOptions, res *Result) {
	log := opts.Logger
	info, err := os.Stat(dir)
	if err != nil {
		log.ComponentError(logging.ComponentCleanup, "error cleaning up directory",
			zap.String("path", dir), zap.Error(err))
		res.Errors++
		return
	}
	if !info.IsDir() {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.ComponentError(logging.ComponentCleanup, "error cleaning up directory",
			zap.String("path", dir), zap.Error(err))
		res.Errors++
		return
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		itemPath := filepath.Join(dir, entry.Name())
		itemInfo, err := os.Stat(itemPath)
		if err != nil {
			log.ComponentError(logging.ComponentCleanup, "error processing entry",
				zap.String("path", itemPath), zap.Error(err))
			res.Errors++
			continue
		}
		if itemInfo.IsDir() {
			// Do not follow links into directories; a link could point
			// outside the log root.
			if entry.Type()&os.ModeSymlink != 0 {
				continue
			}
			sweepDir(ctx, itemPath, retention, now, opts, res)
			continue
		}

		age := now.Sub(itemInfo.ModTime())
		if age <= retention {
			continue
		}
		if !opts.DryRun {
			if err := os.Remove(itemPath); err != nil {
				log.ComponentError(logging.ComponentCleanup, "error deleting file",
					zap.String("path", itemPath), zap.Error(err))
				res.Errors++
				continue
			}
		}
		res.Deleted++
		res.Files = append(res.Files, itemPath)
		log.ComponentInfo(logging.ComponentCleanup, "deleted old file",
			zap.String("path", itemPath),
			zap.Int("age_days", int(age/day)),
			zap.Bool("dry_run", opts.DryRun))
	}
}
