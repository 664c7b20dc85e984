package retention

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"logviewer/internal/logging"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var fixedNow = time.Date(2024, 3, 10, 15, 30, 0, 0, time.Local)

func writeAged(t *testing.T, path string, age time.Duration) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	mt := fixedNow.Add(-age)
	require.NoError(t, os.Chtimes(path, mt, mt))
}

func TestSweepDeletesOnlyExpiredFiles(t *testing.T) {
	root := t.TempDir()
	writeAged(t, filepath.Join(root, "old.log"), 10*day)
	writeAged(t, filepath.Join(root, "fresh.log"), 1*day)
	writeAged(t, filepath.Join(root, "nested", "deep", "old.bin"), 8*day)
	writeAged(t, filepath.Join(root, "nested", "recent.txt"), 6*day)

	res := Sweep(context.Background(), root, 7*day, fixedNow, SweepOptions{})
	assert.Equal(t, 2, res.Deleted)
	assert.Equal(t, 0, res.Errors)
	assert.ElementsMatch(t, []string{
		filepath.Join(root, "old.log"),
		filepath.Join(root, "nested", "deep", "old.bin"),
	}, res.Files)

	assert.NoFileExists(t, filepath.Join(root, "old.log"))
	assert.NoFileExists(t, filepath.Join(root, "nested", "deep", "old.bin"))
	assert.FileExists(t, filepath.Join(root, "fresh.log"))
	assert.FileExists(t, filepath.Join(root, "nested", "recent.txt"))
	// directories are kept even when emptied
	assert.DirExists(t, filepath.Join(root, "nested", "deep"))
}

func TestSweepBoundaryIsStrict(t *testing.T) {
	root := t.TempDir()
	writeAged(t, filepath.Join(root, "exact.log"), 7*day)

	res := Sweep(context.Background(), root, 7*day, fixedNow, SweepOptions{})
	assert.Equal(t, 0, res.Deleted)
	assert.FileExists(t, filepath.Join(root, "exact.log"))
}

func TestSweepDryRun(t *testing.T) {
	root := t.TempDir()
	writeAged(t, filepath.Join(root, "old.log"), 30*day)

	res := Sweep(context.Background(), root, 7*day, fixedNow, SweepOptions{DryRun: true})
	assert.True(t, res.DryRun)
	assert.Equal(t, 1, res.Deleted)
	assert.FileExists(t, filepath.Join(root, "old.log"))
}

func TestSweepRootEdgeCases(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "plain.log")
	writeAged(t, file, 30*day)

	res := Sweep(context.Background(), file, 7*day, fixedNow, SweepOptions{})
	assert.Equal(t, 0, res.Deleted)
	assert.Equal(t, 0, res.Errors)
	assert.FileExists(t, file)

	res = Sweep(context.Background(), filepath.Join(root, "missing"), 7*day, fixedNow, SweepOptions{})
	assert.Equal(t, 0, res.Deleted)
	assert.Equal(t, 1, res.Errors)
}

func TestSweepStopsOnCancelledContext(t *testing.T) {
	root := t.TempDir()
	writeAged(t, filepath.Join(root, "old.log"), 30*day)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := Sweep(ctx, root, 7*day, fixedNow, SweepOptions{})
	assert.Equal(t, 0, res.Deleted)
	assert.FileExists(t, filepath.Join(root, "old.log"))
}

func TestCleanerRecordsLastRun(t *testing.T) {
	root := t.TempDir()
	writeAged(t, filepath.Join(root, "old.log"), 30*day)

	c := NewCleaner(CleanerOptions{
		Root:      root,
		Retention: 7 * day,
		Now:       func() time.Time { return fixedNow },
	})
	assert.Nil(t, c.LastRun())
	assert.Equal(t, 7, c.RetentionDays())

	preview := c.DryRun(context.Background(), TriggerManual)
	assert.True(t, preview.DryRun)
	assert.Equal(t, 1, preview.Deleted)
	assert.FileExists(t, filepath.Join(root, "old.log"))

	res := c.Run(context.Background(), TriggerManual)
	assert.False(t, res.DryRun)
	assert.Equal(t, 1, res.Deleted)
	assert.NotEmpty(t, res.RunID)
	assert.NotEqual(t, preview.RunID, res.RunID)
	assert.Equal(t, TriggerManual, res.Trigger)
	assert.Equal(t, fixedNow, res.StartedAt)

	last := c.LastRun()
	require.NotNil(t, last)
	assert.Equal(t, res.RunID, last.RunID)
}

func TestNextMidnight(t *testing.T) {
	loc := time.FixedZone("test", 2*3600)
	cases := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"afternoon", time.Date(2024, 3, 10, 15, 30, 0, 0, loc), time.Date(2024, 3, 11, 0, 0, 0, 0, loc)},
		{"exactly midnight", time.Date(2024, 3, 10, 0, 0, 0, 0, loc), time.Date(2024, 3, 11, 0, 0, 0, 0, loc)},
		{"end of month", time.Date(2024, 2, 29, 23, 59, 59, 0, loc), time.Date(2024, 3, 1, 0, 0, 0, 0, loc)},
		{"end of year", time.Date(2024, 12, 31, 12, 0, 0, 0, loc), time.Date(2025, 1, 1, 0, 0, 0, 0, loc)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := NextMidnight(tc.now)
			assert.True(t, got.Equal(tc.want), "got %v want %v", got, tc.want)
			assert.True(t, got.After(tc.now))
		})
	}
}

func TestNextMidnightAcrossDST(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	cases := []struct {
		name    string
		now     time.Time
		want    time.Time
		dayLong time.Duration
	}{
		// clocks jump from 02:00 to 03:00 on 2024-03-10
		{"spring forward", time.Date(2024, 3, 10, 15, 30, 0, 0, ny), time.Date(2024, 3, 11, 0, 0, 0, 0, ny), 23 * time.Hour},
		{"before spring forward", time.Date(2024, 3, 10, 1, 30, 0, 0, ny), time.Date(2024, 3, 11, 0, 0, 0, 0, ny), 23 * time.Hour},
		// clocks fall back from 02:00 to 01:00 on 2024-11-03
		{"fall back", time.Date(2024, 11, 3, 12, 0, 0, 0, ny), time.Date(2024, 11, 4, 0, 0, 0, 0, ny), 25 * time.Hour},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := NextMidnight(tc.now)
			assert.True(t, got.Equal(tc.want), "got %v want %v", got, tc.want)
			assert.Equal(t, 0, got.Hour())
			assert.Equal(t, 0, got.Minute())

			// the day being left is not 24h long, yet the next run still lands on midnight
			prev := time.Date(tc.now.Year(), tc.now.Month(), tc.now.Day(), 0, 0, 0, 0, ny)
			assert.Equal(t, tc.dayLong, got.Sub(prev))
			assert.True(t, NextMidnight(got).Equal(time.Date(got.Year(), got.Month(), got.Day()+1, 0, 0, 0, 0, ny)))
		})
	}
}

func TestSchedulerLogsWholeHoursUntilFirstRun(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := &logging.Logger{Logger: zap.New(core)}

	c := NewCleaner(CleanerOptions{Root: t.TempDir(), Retention: day})
	s := NewScheduler(c, logger,
		WithClock(func() time.Time { return fixedNow }),
		WithNext(func(now time.Time) time.Time { return now.Add(8*time.Hour + 59*time.Minute) }))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	require.Eventually(t, func() bool {
		return logs.FilterMessageSnippet("first cleanup scheduled").Len() == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	entry := logs.FilterMessageSnippet("first cleanup scheduled").All()[0]
	assert.Equal(t, int64(8), entry.ContextMap()["in_hours"])
}

func TestCleanerOnDeleted(t *testing.T) {
	root := t.TempDir()
	writeAged(t, filepath.Join(root, "old.log"), 30*day)

	var got []Result
	c := NewCleaner(CleanerOptions{
		Root:      root,
		Retention: 7 * day,
		Now:       func() time.Time { return fixedNow },
		OnDeleted: func(r Result) { got = append(got, r) },
	})

	c.DryRun(context.Background(), TriggerManual)
	assert.Empty(t, got, "dry runs remove nothing")

	res := c.Run(context.Background(), TriggerScheduled)
	require.Len(t, got, 1)
	assert.Equal(t, res.RunID, got[0].RunID)
	assert.Equal(t, 1, got[0].Deleted)

	c.Run(context.Background(), TriggerScheduled)
	assert.Len(t, got, 1, "runs that delete nothing do not fire")
}

func TestSchedulerRunsAndStops(t *testing.T) {
	root := t.TempDir()
	writeAged(t, filepath.Join(root, "old.log"), 30*day)

	c := NewCleaner(CleanerOptions{
		Root:      root,
		Retention: 7 * day,
		Now:       func() time.Time { return fixedNow },
	})

	var (
		mu    sync.Mutex
		calls int
	)
	next := func(now time.Time) time.Time {
		mu.Lock()
		calls++
		mu.Unlock()
		return now.Add(10 * time.Millisecond)
	}
	s := NewScheduler(c, nil, WithNext(next))
	assert.True(t, s.NextRun().IsZero())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		last := c.LastRun()
		return last != nil && last.Trigger == TriggerScheduled
	}, 2*time.Second, 5*time.Millisecond)
	assert.NoFileExists(t, filepath.Join(root, "old.log"))
	assert.False(t, s.NextRun().IsZero())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, calls, 2)
}

func TestSchedulerCancelBeforeFirstRun(t *testing.T) {
	c := NewCleaner(CleanerOptions{Root: t.TempDir(), Retention: day})
	s := NewScheduler(c, nil, WithNext(func(now time.Time) time.Time { return now.Add(time.Hour) }))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	require.Eventually(t, func() bool { return !s.NextRun().IsZero() }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Nil(t, c.LastRun())
}
