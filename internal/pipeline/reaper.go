package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/book-expert/audiobook-tts/internal/core"
)

// ReapStale fails jobs that have been processing for longer than the maximum
// job duration without a run in this process, e.g. after a crash. It returns
// the number of jobs reaped.
func (s *Service) ReapStale(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.cfg.MaxJobDuration)

	stale, listErr := s.deps.Audios.ListByStatusBefore(ctx, string(core.JobProcessing), cutoff)
	if listErr != nil {
		return 0, fmt.Errorf("%w: list stale jobs: %w", core.ErrPersistence, listErr)
	}

	reaped := 0

	for i := range stale {
		job := &stale[i]

		s.mu.Lock()
		_, running := s.running[job.ID]
		s.mu.Unlock()

		if running {
			continue
		}

		failure := core.Failure{
			Code:    core.FailureTimeout,
			Message: fmt.Sprintf("job stalled in %q since %s", job.Status, job.UpdatedAt.Format(time.RFC3339)),
		}

		updateErr := s.deps.Audios.UpdateStatus(ctx, job.ID, core.JobFailed, &failure)
		if updateErr != nil {
			s.log.Warn("Job %s: failed to reap: %v", job.ID, updateErr)

			continue
		}

		s.updateText(ctx, job, core.TextFailed, failure.Message)

		job.Status = core.JobFailed
		job.Error = failure.Message
		job.ErrorCode = failure.Code
		s.notifyWith(ctx, job, "")

		reaped++
	}

	if reaped > 0 {
		s.log.Warn("Reaped %d stale jobs", reaped)
	}

	return reaped, nil
}
