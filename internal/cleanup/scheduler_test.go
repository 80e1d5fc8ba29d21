package cleanup_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/book-expert/audiobook-tts/internal/cleanup"
	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingReaper struct {
	calls atomic.Int32
	err   error
}

func (r *countingReaper) ReapStale(context.Context) (int, error) {
	r.calls.Add(1)

	return 0, r.err
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = testLogger.Close() })

	return testLogger
}

func makeDir(t *testing.T, root, name string, age time.Duration) string {
	t.Helper()

	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "segment_0000.wav"), []byte("RIFF"), 0o600))

	stamp := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(dir, stamp, stamp))

	return dir
}

func TestSweep_RemovesOnlyOldScratch(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	old := makeDir(t, root, "tts_job1_abc", 2*time.Hour)
	fresh := makeDir(t, root, "tts_job2_def", time.Minute)
	foreign := makeDir(t, root, "other_dir", 2*time.Hour)

	reaper := &countingReaper{}
	scheduler := cleanup.NewScheduler(cleanup.Config{ScratchRoot: root, MaxAge: time.Hour}, reaper, newTestLogger(t))

	removed := scheduler.Sweep(context.Background())

	assert.Equal(t, 1, removed)
	assert.NoDirExists(t, old)
	assert.DirExists(t, fresh)
	assert.DirExists(t, foreign)
	assert.Equal(t, int32(1), reaper.calls.Load())
}

func TestSweep_ToleratesMissingRootAndReapErrors(t *testing.T) {
	t.Parallel()

	reaper := &countingReaper{err: errors.New("db locked")}
	scheduler := cleanup.NewScheduler(cleanup.Config{ScratchRoot: filepath.Join(t.TempDir(), "missing")},
		reaper, newTestLogger(t))

	assert.Zero(t, scheduler.Sweep(context.Background()))
	assert.Equal(t, int32(1), reaper.calls.Load())
}

func TestRun_SweepsUntilCancelled(t *testing.T) {
	t.Parallel()

	reaper := &countingReaper{}
	scheduler := cleanup.NewScheduler(cleanup.Config{ScratchRoot: t.TempDir(), Interval: 5 * time.Millisecond},
		reaper, newTestLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		scheduler.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return reaper.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
