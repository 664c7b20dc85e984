package retention

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"logviewer/internal/logging"
)

// Triggers recorded on each run.
const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
	TriggerCLI       = "cli"
)

// Cleaner runs sweeps of one root directory. Concurrent calls to Run are
// serialised so two sweeps never race on the same files.
type Cleaner struct {
	root      string
	retention time.Duration
	dryRun    bool
	logger    *logging.Logger
	now       func() time.Time
	onDeleted func(Result)

	runMu sync.Mutex

	mu   sync.Mutex
	last *Result
}

// CleanerOptions configures a Cleaner.
type CleanerOptions struct {
	Root      string
	Retention time.Duration
	DryRun    bool
	Logger    *logging.Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
	// OnDeleted is called after a run that removed at least one file,
	// whatever triggered it.
	OnDeleted func(Result)
}

func NewCleaner(opts CleanerOptions) *Cleaner {
	c := &Cleaner{
		root:      opts.Root,
		retention: opts.Retention,
		dryRun:    opts.DryRun,
		logger:    opts.Logger,
		now:       opts.Now,
		onDeleted: opts.OnDeleted,
	}
	if c.logger == nil {
		c.logger = logging.NewNop()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Retention returns the configured retention window.
func (c *Cleaner) Retention() time.Duration { return c.retention }

// RetentionDays returns the retention window in whole days.
func (c *Cleaner) RetentionDays() int { return int(c.retention / day) }

// Run sweeps the root once using the cleaner's dry-run setting.
func (c *Cleaner) Run(ctx context.Context, trigger string) Result {
	return c.run(ctx, trigger, c.dryRun)
}

// DryRun sweeps the root without deleting anything.
func (c *Cleaner) DryRun(ctx context.Context, trigger string) Result {
	return c.run(ctx, trigger, true)
}

func (c *Cleaner) run(ctx context.Context, trigger string, dryRun bool) Result {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	started := c.now()
	runID := uuid.NewString()
	c.logger.ComponentInfo(logging.ComponentCleanup, "starting log cleanup",
		zap.String("run_id", runID),
		zap.String("trigger", trigger),
		zap.Int("retention_days", c.RetentionDays()),
		zap.Bool("dry_run", dryRun))

	res := Sweep(ctx, c.root, c.retention, started, SweepOptions{DryRun: dryRun, Logger: c.logger})
	res.RunID = runID
	res.Trigger = trigger
	res.StartedAt = started
	res.Duration = time.Since(started)
	if res.Duration < 0 {
		res.Duration = 0
	}

	c.logger.ComponentInfo(logging.ComponentCleanup, "cleanup completed",
		zap.String("run_id", runID),
		zap.Int("deleted", res.Deleted),
		zap.Int("errors", res.Errors))
	observeRun(trigger, res)

	c.mu.Lock()
	last := res
	c.last = &last
	c.mu.Unlock()

	if c.onDeleted != nil && !res.DryRun && res.Deleted > 0 {
		c.onDeleted(res)
	}
	return res
}

// LastRun returns the most recent result, or nil if none has run yet.
func (c *Cleaner) LastRun() *Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return nil
	}
	r := *c.last
	return &r
}
