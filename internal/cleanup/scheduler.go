// Package cleanup periodically removes abandoned scratch directories and fails
// jobs left processing by a crashed run.
package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/audiobook-tts/internal/tts/ttsutils"
	"github.com/book-expert/logger"
)

// ScratchPrefix starts the name of every job scratch directory.
const ScratchPrefix = "tts_"

// Defaults for zero Config fields.
const (
	DefaultInterval = 10 * time.Minute
	DefaultMaxAge   = time.Hour
)

// Reaper fails stale jobs.
type Reaper interface {
	ReapStale(ctx context.Context) (int, error)
}

// Config tunes the scheduler.
type Config struct {
	ScratchRoot string
	Interval    time.Duration
	// MaxAge must exceed the longest job so that live scratch directories survive.
	MaxAge time.Duration
}

// Scheduler runs a sweep on start and then at every interval.
type Scheduler struct {
	cfg    Config
	reaper Reaper
	log    *logger.Logger
}

// NewScheduler creates a scheduler. reaper may be nil.
func NewScheduler(cfg Config, reaper Reaper, log *logger.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}

	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}

	return &Scheduler{cfg: cfg, reaper: reaper, log: log}
}

// Run sweeps until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("Cleanup scheduler started (interval: %s, max age: %s)", s.cfg.Interval, s.cfg.MaxAge)
	s.Sweep(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-ctx.Done():
			s.log.Info("Cleanup scheduler stopped")

			return
		}
	}
}

// Sweep reaps stale jobs and removes old scratch directories once. It returns
// the number of directories removed.
func (s *Scheduler) Sweep(ctx context.Context) int {
	if s.reaper != nil {
		_, reapErr := s.reaper.ReapStale(ctx)
		if reapErr != nil {
			s.log.Warn("Failed to reap stale jobs: %v", reapErr)
		}
	}

	return s.removeOldScratch()
}

func (s *Scheduler) removeOldScratch() int {
	entries, readErr := os.ReadDir(s.cfg.ScratchRoot)
	if readErr != nil {
		if !os.IsNotExist(readErr) {
			s.log.Warn("Failed to list scratch root %s: %v", s.cfg.ScratchRoot, readErr)
		}

		return 0
	}

	cutoff := time.Now().Add(-s.cfg.MaxAge)
	removed := 0

	var freed int64

	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), ScratchPrefix) {
			continue
		}

		info, infoErr := entry.Info()
		if infoErr != nil || info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(s.cfg.ScratchRoot, entry.Name())
		size := dirSize(path)

		removeErr := os.RemoveAll(path)
		if removeErr != nil {
			s.log.Warn("Failed to delete scratch directory %s: %v", path, removeErr)

			continue
		}

		removed++
		freed += size
	}

	if removed > 0 {
		s.log.Info("Cleanup complete: %d scratch directories deleted, %s freed", removed, ttsutils.FormatFileSize(freed))
	}

	return removed
}

func dirSize(path string) int64 {
	var size int64

	_ = filepath.WalkDir(path, func(_ string, entry os.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return nil
		}

		if info, infoErr := entry.Info(); infoErr == nil {
			size += info.Size()
		}

		return nil
	})

	return size
}
