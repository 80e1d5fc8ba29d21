package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/book-expert/audiobook-tts/internal/core"
	"github.com/book-expert/audiobook-tts/internal/tts/ttsutils"
	"github.com/google/uuid"
)

const (
	scratchDirFormat = "tts_%s_%s"
	clipNameFormat   = "segment_%04d.wav"
	outputNameFormat = "output.%s"
	clipExt          = "wav"
)

const (
	msgTextNotFound = "text not found"
	logFmtFailed    = "Job %s failed (%s): %s"
)

// ErrPanic reports a run that panicked.
var ErrPanic = errors.New("synthesis panicked")

// runState is what a run leaves behind for cleanup and notification.
type runState struct {
	engineName string
	scratchDir string
	retained   []string
}

func (s *Service) run(ctx context.Context, jobID string) {
	job, loadErr := s.deps.Audios.GetByID(ctx, jobID)
	if loadErr != nil || job == nil {
		s.log.Error("Job %s could not be loaded, run abandoned: %v", jobID, loadErr)

		return
	}

	var state runState

	runErr := s.execute(ctx, job, &state)
	if ctxErr := ctx.Err(); runErr != nil && ctxErr != nil && !errors.Is(runErr, ctxErr) {
		runErr = fmt.Errorf("%w: %w", runErr, ctxErr)
	}

	s.removeScratch(job.ID, &state)

	if runErr != nil {
		s.fail(job, runErr, state.engineName)

		return
	}

	s.log.Info("Job %s completed: %d segments, %.2fs, engine %s", job.ID, len(job.Segments), job.Duration, state.engineName)
	s.notify(job, state.engineName)
}

// execute drives a job from pending to completed. On success job holds the
// persisted result.
func (s *Service) execute(ctx context.Context, job *core.SynthesisJob, state *runState) (runErr error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			runErr = fmt.Errorf("%w: %v", ErrPanic, recovered)
		}
	}()

	doc, textErr := s.deps.Texts.GetByID(ctx, job.TextID)
	if textErr != nil {
		return textErr
	}

	processingErr := s.deps.Audios.UpdateStatus(ctx, job.ID, core.JobProcessing, nil)
	if processingErr != nil {
		return fmt.Errorf("%w: mark job processing: %w", core.ErrPersistence, processingErr)
	}

	s.updateText(ctx, job, core.TextProcessing, "")

	chunks := s.segmenter.Split(s.preprocessor.PreprocessText(doc.Content))
	if len(chunks) == 0 {
		return core.ErrSegmentationEmpty
	}

	engine, selectErr := s.deps.Engines.Select(ctx, job.Voice)
	if selectErr != nil {
		return selectErr
	}

	state.engineName = engine.Name()
	s.log.Info("Job %s: %d chunks with engine %s", job.ID, len(chunks), state.engineName)

	scratchErr := s.makeScratch(job.ID, state)
	if scratchErr != nil {
		return scratchErr
	}

	clips := make([]string, 0, len(chunks))
	segments := make([]core.Segment, 0, len(chunks))
	total := 0.0

	for i, chunk := range chunks {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("stopped before chunk %d of %d: %w", i+1, len(chunks), ctxErr)
		}

		clip := filepath.Join(state.scratchDir, fmt.Sprintf(clipNameFormat, i))

		synthErr := engine.Synthesize(ctx, chunk.Text, clip)
		if synthErr != nil {
			return fmt.Errorf("%w: chunk %d of %d: %w", core.ErrSynthesisFailed, i+1, len(chunks), synthErr)
		}

		duration, durationErr := s.deps.Assembler.Duration(ctx, clip)
		if durationErr != nil {
			return assemblyError(fmt.Errorf("measure chunk %d: %w", i+1, durationErr))
		}

		clips = append(clips, clip)
		segments = append(segments, core.Segment{
			StartIndex: chunk.StartIndex,
			EndIndex:   chunk.EndIndex,
			StartTime:  total,
			EndTime:    total + duration,
			Text:       chunk.Text,
		})
		total += duration

		done := i + 1
		if done%s.cfg.ProgressInterval == 0 || done == len(chunks) {
			s.reportProgress(ctx, job.ID, done, len(chunks))
		}
	}

	output := filepath.Join(state.scratchDir, fmt.Sprintf(outputNameFormat, job.Format))

	concatErr := s.deps.Assembler.Concatenate(ctx, clips, output, job.Format, job.SampleRate)
	if concatErr != nil {
		return assemblyError(concatErr)
	}

	session := s.deps.Artifacts.Session(job.ID)
	base := job.ArtifactBase()
	url := session.Upload(ctx, core.ArtifactKey{Base: base, Segment: -1, Ext: job.Format}, output)

	for i := range segments {
		segments[i].URL = session.Upload(ctx, core.ArtifactKey{Base: base, Segment: i, Ext: clipExt}, clips[i])
	}

	state.retained = session.Retained()

	persistErr := s.deps.Audios.UpdateWithSegments(ctx, job.ID, url, total, segments)
	if persistErr != nil {
		return fmt.Errorf("%w: store result: %w", core.ErrPersistence, persistErr)
	}

	s.updateText(ctx, job, core.TextCompleted, "")

	job.URL = url
	job.Duration = total
	job.Segments = segments
	job.Status = core.JobCompleted
	job.Error = ""
	job.ErrorCode = ""

	return nil
}

func assemblyError(err error) error {
	if errors.Is(err, core.ErrAssemblyFailed) {
		return err
	}

	return fmt.Errorf("%w: %w", core.ErrAssemblyFailed, err)
}

func (s *Service) makeScratch(jobID string, state *runState) error {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")
	dir := filepath.Join(s.cfg.ScratchRoot, fmt.Sprintf(scratchDirFormat, jobID, suffix))

	mkdirErr := ttsutils.EnsureDir(dir)
	if mkdirErr != nil {
		return fmt.Errorf("create scratch directory: %w", mkdirErr)
	}

	state.scratchDir = dir

	return nil
}

func (s *Service) reportProgress(ctx context.Context, jobID string, done, total int) {
	progressErr := s.deps.Audios.UpdateStatus(ctx, jobID, core.ProgressStatus(done, total), nil)
	if progressErr != nil {
		s.log.Warn("Job %s: failed to record progress %d/%d: %v", jobID, done, total, progressErr)
	}
}

func (s *Service) updateText(ctx context.Context, job *core.SynthesisJob, status core.TextStatus, message string) {
	updateErr := s.deps.Texts.UpdateStatus(ctx, job.TextID, status, message)
	if updateErr != nil && !errors.Is(updateErr, core.ErrNotFound) {
		s.log.Warn("Job %s: failed to mark text %s %s: %v", job.ID, job.TextID, status, updateErr)
	}
}

// fail records err on the job and its text. It uses its own context so that
// the failure is stored even after the run deadline.
func (s *Service) fail(job *core.SynthesisJob, err error, engineName string) {
	failure := describeFailure(err)

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PersistTimeout)
	defer cancel()

	s.log.Error(logFmtFailed, job.ID, failure.Code, err)

	updateErr := s.deps.Audios.UpdateStatus(ctx, job.ID, core.JobFailed, &failure)
	if updateErr != nil {
		s.log.Error("Job %s: failed to record failure: %v", job.ID, updateErr)
	}

	s.updateText(ctx, job, core.TextFailed, failure.Message)

	job.Status = core.JobFailed
	job.Error = failure.Message
	job.ErrorCode = failure.Code

	s.notifyWith(ctx, job, engineName)
}

func describeFailure(err error) core.Failure {
	code := core.ClassifyFailure(err)

	message := err.Error()

	switch code {
	case core.FailureTextNotFound:
		message = msgTextNotFound
	case core.FailureSegmentationEmpty:
		message = core.ErrSegmentationEmpty.Error()
	case core.FailureTimeout:
		message = "job exceeded its deadline: " + message
	}

	return core.Failure{Code: code, Message: message}
}

func (s *Service) notify(job *core.SynthesisJob, engineName string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PersistTimeout)
	defer cancel()

	s.notifyWith(ctx, job, engineName)
}

func (s *Service) notifyWith(ctx context.Context, job *core.SynthesisJob, engineName string) {
	if s.deps.Notifier == nil {
		return
	}

	s.deps.Notifier.JobFinished(ctx, job, engineName)
}

// removeScratch deletes the scratch directory, keeping files that artifact
// URIs still name directly.
func (s *Service) removeScratch(jobID string, state *runState) {
	if state.scratchDir == "" {
		return
	}

	if len(state.retained) == 0 {
		s.logCleanup(jobID, state.scratchDir, os.RemoveAll(state.scratchDir))

		return
	}

	keep := make(map[string]bool, len(state.retained))
	for _, path := range state.retained {
		keep[path] = true
	}

	entries, readErr := os.ReadDir(state.scratchDir)
	if readErr != nil {
		s.logCleanup(jobID, state.scratchDir, readErr)

		return
	}

	for _, entry := range entries {
		path := filepath.Join(state.scratchDir, entry.Name())

		absolute, absErr := filepath.Abs(path)
		if absErr == nil && keep[absolute] {
			continue
		}

		s.logCleanup(jobID, path, os.RemoveAll(path))
	}

	s.log.Warn("Job %s: kept %d files in %s", jobID, len(state.retained), state.scratchDir)
}

// logCleanup reports a failed best-effort removal.
func (s *Service) logCleanup(jobID, target string, err error) {
	if err == nil || errors.Is(err, os.ErrNotExist) || errors.Is(err, core.ErrNotFound) {
		return
	}

	s.log.Warn("Job %s: cleanup of %s failed: %v", jobID, target, err)
}

