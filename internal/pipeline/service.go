// Package pipeline runs synthesis jobs: it segments a text, drives an engine
// chunk by chunk, assembles the clips and persists the result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/book-expert/audiobook-tts/internal/audio"
	"github.com/book-expert/audiobook-tts/internal/core"
	"github.com/book-expert/audiobook-tts/internal/tts/text"
	"github.com/book-expert/logger"
)

// Defaults for Config fields left zero.
const (
	DefaultMaxJobDuration   = 30 * time.Minute
	DefaultProgressInterval = 5
	DefaultPersistTimeout   = 10 * time.Second
)

var (
	// ErrShuttingDown reports a submission after Shutdown.
	ErrShuttingDown = errors.New("pipeline is shutting down")
	// ErrMissingDependency reports an incomplete Dependencies value.
	ErrMissingDependency = errors.New("pipeline dependency missing")
)

// Config holds the tunables of the pipeline.
type Config struct {
	ScratchRoot       string
	MaxChunkLength    int
	DefaultVoice      string
	DefaultFormat     string
	DefaultSampleRate int
	MaxJobDuration    time.Duration
	ProgressInterval  int
	PersistTimeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.ScratchRoot == "" {
		c.ScratchRoot = os.TempDir()
	}

	if c.DefaultFormat == "" {
		c.DefaultFormat = string(audio.DefaultFormat)
	}

	if c.DefaultSampleRate <= 0 {
		c.DefaultSampleRate = audio.DefaultSampleRate
	}

	if c.MaxJobDuration <= 0 {
		c.MaxJobDuration = DefaultMaxJobDuration
	}

	if c.ProgressInterval <= 0 {
		c.ProgressInterval = DefaultProgressInterval
	}

	if c.PersistTimeout <= 0 {
		c.PersistTimeout = DefaultPersistTimeout
	}

	return c
}

// Dependencies are the collaborators of the pipeline. Notifier is optional.
type Dependencies struct {
	Texts     core.TextRepository
	Audios    core.AudioRepository
	Engines   core.EngineSelector
	Assembler core.AudioAssembler
	Artifacts core.ArtifactStore
	Notifier  core.Notifier
}

func (d Dependencies) validate() error {
	switch {
	case d.Texts == nil:
		return fmt.Errorf("%w: text repository", ErrMissingDependency)
	case d.Audios == nil:
		return fmt.Errorf("%w: audio repository", ErrMissingDependency)
	case d.Engines == nil:
		return fmt.Errorf("%w: engine selector", ErrMissingDependency)
	case d.Assembler == nil:
		return fmt.Errorf("%w: audio assembler", ErrMissingDependency)
	case d.Artifacts == nil:
		return fmt.Errorf("%w: artifact store", ErrMissingDependency)
	default:
		return nil
	}
}

// Artifact is a finished audio file ready to be streamed.
type Artifact struct {
	Name        string
	ContentType string
	ModTime     time.Time
	Data        []byte
}

type handle struct {
	textID string
	cancel context.CancelFunc
	done   chan struct{}
}

// Service accepts synthesis work and runs each job in its own goroutine.
type Service struct {
	cfg          Config
	deps         Dependencies
	log          *logger.Logger
	preprocessor *text.Preprocessor
	segmenter    *text.Segmenter

	baseCtx    context.Context
	cancelBase context.CancelFunc

	mu      sync.Mutex
	running map[string]*handle
	// claimed holds the texts with a submission between lookup and start.
	claimed map[string]chan struct{}
	closed  bool
}

// New creates a pipeline service.
func New(cfg Config, deps Dependencies, log *logger.Logger) (*Service, error) {
	depsErr := deps.validate()
	if depsErr != nil {
		return nil, depsErr
	}

	baseCtx, cancelBase := context.WithCancel(context.Background())

	return &Service{
		cfg:          cfg.withDefaults(),
		deps:         deps,
		log:          log,
		preprocessor: text.NewPreprocessor(),
		segmenter:    text.NewSegmenter(cfg.MaxChunkLength),
		baseCtx:      baseCtx,
		cancelBase:   cancelBase,
		running:      make(map[string]*handle),
		claimed:      make(map[string]chan struct{}),
	}, nil
}

// Submit starts synthesis of a text, or returns the job that already covers it.
func (s *Service) Submit(ctx context.Context, req core.TTSRequest, requester core.Requester) (*core.SynthesisJob, error) {
	spec, specErr := s.resolveRequest(req)
	if specErr != nil {
		return nil, specErr
	}

	doc, textErr := s.deps.Texts.GetByID(ctx, spec.TextID)
	if textErr != nil {
		return nil, textErr
	}

	if !requester.CanAccess(doc.UserID) {
		return nil, fmt.Errorf("text %s: %w", doc.ID, core.ErrPermissionDenied)
	}

	spec.UserID = doc.UserID

	release, runningID, claimErr := s.claim(ctx, spec.TextID)
	if claimErr != nil {
		return nil, claimErr
	}

	if runningID != "" {
		s.log.Info("Text %s already has running job %s", spec.TextID, runningID)

		return s.loadJob(ctx, runningID)
	}
	defer release()

	existing, existingErr := s.deps.Audios.GetByTextID(ctx, spec.TextID)
	if existingErr != nil {
		return nil, fmt.Errorf("%w: look up jobs of text %s: %w", core.ErrPersistence, spec.TextID, existingErr)
	}

	if existing != nil && existing.Status == core.JobCompleted {
		return existing, nil
	}

	job, createErr := s.deps.Audios.Create(ctx, spec)
	if createErr != nil {
		return nil, fmt.Errorf("%w: create job for text %s: %w", core.ErrPersistence, spec.TextID, createErr)
	}

	launchErr := s.launch(job)
	if launchErr != nil {
		return nil, launchErr
	}

	s.log.Info("Job %s submitted for text %s (voice %s, %s, %d Hz)",
		job.ID, job.TextID, job.Voice, job.Format, job.SampleRate)

	return job, nil
}

// claim reserves textID for one submission at a time. When the text already
// has a running job its id is returned and nothing is reserved; otherwise the
// caller must call release once the job has started or the submission ended.
func (s *Service) claim(ctx context.Context, textID string) (release func(), runningID string, err error) {
	for {
		s.mu.Lock()

		if s.closed {
			s.mu.Unlock()

			return nil, "", ErrShuttingDown
		}

		for jobID, running := range s.running {
			if running.textID == textID {
				s.mu.Unlock()

				return nil, jobID, nil
			}
		}

		busy, claimed := s.claimed[textID]
		if !claimed {
			done := make(chan struct{})
			s.claimed[textID] = done
			s.mu.Unlock()

			return func() {
				s.mu.Lock()
				delete(s.claimed, textID)
				s.mu.Unlock()
				close(done)
			}, "", nil
		}

		s.mu.Unlock()

		select {
		case <-busy:
		case <-ctx.Done():
			return nil, "", fmt.Errorf("submit text %s: %w", textID, ctx.Err())
		}
	}
}

// launch starts the run of job unless the service is shutting down, in which
// case the job is recorded as failed.
func (s *Service) launch(job *core.SynthesisJob) error {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()
		s.fail(job, ErrShuttingDown, "")

		return ErrShuttingDown
	}

	s.start(job.ID, job.TextID)
	s.mu.Unlock()

	return nil
}

func (s *Service) resolveRequest(req core.TTSRequest) (core.JobSpec, error) {
	if req.TextID == "" {
		return core.JobSpec{}, fmt.Errorf("%w: text_id is required", core.ErrInvalidRequest)
	}

	spec := core.JobSpec{
		TextID:     req.TextID,
		Voice:      req.Voice,
		Format:     req.Format,
		SampleRate: req.SampleRate,
	}

	if spec.Voice == "" {
		spec.Voice = s.cfg.DefaultVoice
	}

	if spec.Format == "" {
		spec.Format = s.cfg.DefaultFormat
	}

	format, formatErr := audio.ParseFormat(spec.Format)
	if formatErr != nil {
		return core.JobSpec{}, fmt.Errorf("%w: %w", core.ErrInvalidRequest, formatErr)
	}

	spec.Format = string(format)

	if spec.SampleRate == 0 {
		spec.SampleRate = s.cfg.DefaultSampleRate
	}

	rateErr := audio.ValidateSampleRate(spec.SampleRate)
	if rateErr != nil {
		return core.JobSpec{}, fmt.Errorf("%w: %w", core.ErrInvalidRequest, rateErr)
	}

	return spec, nil
}

// Regenerate reruns a failed job.
func (s *Service) Regenerate(ctx context.Context, jobID string, requester core.Requester) (*core.SynthesisJob, error) {
	job, getErr := s.Get(ctx, jobID, requester)
	if getErr != nil {
		return nil, getErr
	}

	release, runningID, claimErr := s.claim(ctx, job.TextID)
	if claimErr != nil {
		return nil, claimErr
	}

	if runningID != "" {
		return nil, fmt.Errorf("%w: text %s has running job %s", core.ErrInvalidState, job.TextID, runningID)
	}
	defer release()

	// Reload under the claim so a concurrent regenerate is seen.
	job, getErr = s.loadJob(ctx, jobID)
	if getErr != nil {
		return nil, getErr
	}

	if job.Status != core.JobFailed {
		return nil, fmt.Errorf("%w: job %s is %s, only failed jobs can be regenerated",
			core.ErrInvalidState, jobID, job.Status)
	}

	resetErr := s.deps.Audios.ResetForRegeneration(ctx, jobID)
	if resetErr != nil {
		return nil, fmt.Errorf("%w: reset job %s: %w", core.ErrPersistence, jobID, resetErr)
	}

	launchErr := s.launch(job)
	if launchErr != nil {
		return nil, launchErr
	}

	s.log.Info("Job %s regenerating", jobID)

	return s.loadJob(ctx, jobID)
}

// Get returns a job the requester may see.
func (s *Service) Get(ctx context.Context, jobID string, requester core.Requester) (*core.SynthesisJob, error) {
	job, loadErr := s.loadJob(ctx, jobID)
	if loadErr != nil {
		return nil, loadErr
	}

	if !requester.CanAccess(job.UserID) {
		return nil, fmt.Errorf("job %s: %w", jobID, core.ErrPermissionDenied)
	}

	return job, nil
}

// Delete stops a running job, removes its artifacts best-effort and deletes it.
func (s *Service) Delete(ctx context.Context, jobID string, requester core.Requester) error {
	job, getErr := s.Get(ctx, jobID, requester)
	if getErr != nil {
		return getErr
	}

	s.mu.Lock()
	running := s.running[jobID]
	s.mu.Unlock()

	if running != nil {
		running.cancel()

		waitErr := s.Wait(ctx, jobID)
		if waitErr != nil {
			return waitErr
		}

		// The run may have stored URLs before it stopped.
		refreshed, refreshErr := s.loadJob(ctx, jobID)
		if refreshErr != nil {
			return refreshErr
		}

		job = refreshed
	}

	s.deleteArtifacts(ctx, job)

	deleted, deleteErr := s.deps.Audios.Delete(ctx, jobID)
	if deleteErr != nil {
		return fmt.Errorf("%w: delete job %s: %w", core.ErrPersistence, jobID, deleteErr)
	}

	if !deleted {
		return fmt.Errorf("job %s: %w", jobID, core.ErrNotFound)
	}

	s.log.Info("Job %s deleted", jobID)

	return nil
}

func (s *Service) deleteArtifacts(ctx context.Context, job *core.SynthesisJob) {
	uris := make([]string, 0, len(job.Segments)+1)
	if job.URL != "" {
		uris = append(uris, job.URL)
	}

	for _, segment := range job.Segments {
		if segment.URL != "" {
			uris = append(uris, segment.URL)
		}
	}

	for _, uri := range uris {
		s.logCleanup(job.ID, uri, s.deps.Artifacts.Delete(ctx, uri))
	}
}

// OpenArtifact returns the whole audio file of a completed job, or one segment
// clip when segment is not negative.
func (s *Service) OpenArtifact(
	ctx context.Context,
	jobID string,
	segment int,
	requester core.Requester,
) (*Artifact, error) {
	job, getErr := s.Get(ctx, jobID, requester)
	if getErr != nil {
		return nil, getErr
	}

	if job.Status != core.JobCompleted {
		return nil, fmt.Errorf("%w: job %s is %s", core.ErrInvalidState, jobID, job.Status)
	}

	uri := job.URL
	name := job.ArtifactBase() + "." + job.Format
	format := audio.Format(job.Format)

	if segment >= 0 {
		if segment >= len(job.Segments) {
			return nil, fmt.Errorf("segment %d of job %s: %w", segment, jobID, core.ErrNotFound)
		}

		uri = job.Segments[segment].URL
		name = fmt.Sprintf(clipNameFormat, segment)
		format = audio.FormatWAV
	}

	data, downloadErr := s.deps.Artifacts.Download(ctx, uri)
	if downloadErr != nil {
		return nil, fmt.Errorf("download %s: %w", uri, downloadErr)
	}

	return &Artifact{
		Name:        name,
		ContentType: format.ContentType(),
		ModTime:     job.UpdatedAt,
		Data:        data,
	}, nil
}

// Wait blocks until the run of jobID ends. It returns at once when the job is
// not running.
func (s *Service) Wait(ctx context.Context, jobID string) error {
	s.mu.Lock()
	running := s.running[jobID]
	s.mu.Unlock()

	if running == nil {
		return nil
	}

	select {
	case <-running.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for job %s: %w", jobID, ctx.Err())
	}
}

// Running reports the number of jobs in flight.
func (s *Service) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.running)
}

// Shutdown rejects new work, cancels the running jobs and waits for them.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true

	pending := make([]*handle, 0, len(s.running))
	for _, running := range s.running {
		pending = append(pending, running)
	}
	s.mu.Unlock()

	s.cancelBase()

	for _, running := range pending {
		select {
		case <-running.done:
		case <-ctx.Done():
			return fmt.Errorf("shutdown: %w", ctx.Err())
		}
	}

	return nil
}

// start launches the tracked run of a job. The caller holds s.mu.
func (s *Service) start(jobID, textID string) {
	ctx, cancel := context.WithTimeout(s.baseCtx, s.cfg.MaxJobDuration)
	running := &handle{textID: textID, cancel: cancel, done: make(chan struct{})}
	s.running[jobID] = running

	go func() {
		defer close(running.done)
		defer cancel()
		defer func() {
			s.mu.Lock()
			delete(s.running, jobID)
			s.mu.Unlock()
		}()

		s.run(ctx, jobID)
	}()
}

func (s *Service) loadJob(ctx context.Context, jobID string) (*core.SynthesisJob, error) {
	job, getErr := s.deps.Audios.GetByID(ctx, jobID)
	if getErr != nil {
		return nil, fmt.Errorf("%w: load job %s: %w", core.ErrPersistence, jobID, getErr)
	}

	if job == nil {
		return nil, fmt.Errorf("job %s: %w", jobID, core.ErrNotFound)
	}

	return job, nil
}
