package retention

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"logviewer/internal/logging"
)

// NextMidnight returns the first local midnight strictly after now.
func NextMidnight(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
}

// Scheduler runs a Cleaner once a day at local midnight.
type Scheduler struct {
	cleaner *Cleaner
	logger  *logging.Logger
	next    func(time.Time) time.Time
	now     func() time.Time

	mu      sync.Mutex
	nextRun time.Time
}

// SchedulerOption customises a Scheduler.
type SchedulerOption func(*Scheduler)

// WithNext replaces the next-run function; the default is NextMidnight.
func WithNext(next func(time.Time) time.Time) SchedulerOption {
	return func(s *Scheduler) { s.next = next }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

func NewScheduler(c *Cleaner, logger *logging.Logger, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{cleaner: c, logger: logger, next: NextMidnight, now: time.Now}
	if s.logger == nil {
		s.logger = logging.NewNop()
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NextRun reports when the next sweep is due. It is zero before Run starts.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}

// Run blocks, sweeping at every scheduled instant until ctx is cancelled.
// The next instant is recomputed after every sweep so the schedule follows
// wall-clock midnight across DST changes.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.ComponentInfo(logging.ComponentCleanup, "scheduling daily log cleanup",
		zap.Int("retention_days", s.cleaner.RetentionDays()))

	first := true
	for {
		now := s.now()
		next := s.next(now)
		s.mu.Lock()
		s.nextRun = next
		s.mu.Unlock()

		wait := next.Sub(now)
		if wait < 0 {
			wait = 0
		}
		if first {
			s.logger.ComponentInfo(logging.ComponentCleanup, "first cleanup scheduled",
				zap.Time("at", next),
				zap.Int("in_hours", int(wait.Hours())))
			first = false
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			s.cleaner.Run(ctx, TriggerScheduled)
		}
	}
}
