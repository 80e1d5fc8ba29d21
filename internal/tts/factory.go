package tts

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/book-expert/audiobook-tts/internal/core"
	"github.com/book-expert/audiobook-tts/internal/retry"
	"github.com/book-expert/logger"
	"golang.org/x/sync/singleflight"
)

// DefaultProbeTimeout bounds a single availability probe.
const DefaultProbeTimeout = 10 * time.Second

var errProbeFailed = errors.New("engine not available")

// Constructor builds the engine of one backend speaking voice.
type Constructor func(voice string) core.Engine

// FactoryConfig configures engine selection.
type FactoryConfig struct {
	DefaultVoice string
	ProbeTimeout time.Duration
	ProbeRetry   retry.Policy
}

// Factory chooses the engine serving a voice and caches that choice for the
// lifetime of the process.
type Factory struct {
	candidates   []Constructor
	defaultVoice string
	probeTimeout time.Duration
	probePolicy  retry.Policy
	pool         *Pool
	log          *logger.Logger

	mu    sync.Mutex
	cache map[string]core.Engine
	// probing collapses concurrent first selections of one voice.
	probing singleflight.Group
}

// NewFactory creates a factory trying candidates in order. Compute-bound
// engines it returns are bound to pool.
func NewFactory(cfg FactoryConfig, candidates []Constructor, pool *Pool, log *logger.Logger) *Factory {
	defaultVoice := cfg.DefaultVoice
	if defaultVoice == "" {
		defaultVoice = VoiceFemale
	}

	probeTimeout := cfg.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = DefaultProbeTimeout
	}

	if pool == nil {
		pool = NewPool(DefaultPoolSize)
	}

	return &Factory{
		candidates:   candidates,
		defaultVoice: defaultVoice,
		probeTimeout: probeTimeout,
		probePolicy:  cfg.ProbeRetry,
		pool:         pool,
		log:          log,
		cache:        make(map[string]core.Engine),
	}
}

// DefaultVoice returns the voice used for requests that name none.
func (f *Factory) DefaultVoice() string {
	return f.defaultVoice
}

// Select returns the engine for voice, probing candidates on first use.
// Concurrent first requests for a voice share one probe; requests for voices
// already resolved never wait for it.
func (f *Factory) Select(ctx context.Context, voice string) (core.Engine, error) {
	if voice == "" {
		voice = f.defaultVoice
	}

	if engine, ok := f.cached(voice); ok {
		return engine, nil
	}

	results := f.probing.DoChan(voice, func() (any, error) {
		if engine, ok := f.cached(voice); ok {
			return engine, nil
		}

		// The probe outlives a caller that gives up; later callers reuse it.
		engine, err := f.resolve(context.WithoutCancel(ctx), voice)
		if err != nil {
			return nil, err
		}

		f.mu.Lock()
		f.cache[voice] = engine
		f.mu.Unlock()

		return engine, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("selecting engine for voice %q: %w", voice, ctx.Err())
	case result := <-results:
		if result.Err != nil {
			return nil, result.Err
		}

		engine, _ := result.Val.(core.Engine)

		return engine, nil
	}
}

func (f *Factory) cached(voice string) (core.Engine, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	engine, ok := f.cache[voice]

	return engine, ok
}

// resolve probes the candidates in order and returns the first available one
// bound to the pool.
func (f *Factory) resolve(ctx context.Context, voice string) (core.Engine, error) {
	for _, construct := range f.candidates {
		engine := construct(voice)
		if engine == nil {
			continue
		}

		if !slices.Contains(engine.SupportedVoices(), voice) {
			continue
		}

		if !f.probe(ctx, engine) {
			f.log.Warn("Engine %s unavailable for voice %s, trying next candidate", engine.Name(), voice)

			continue
		}

		f.log.Info("Selected engine %s for voice %s", engine.Name(), voice)

		return f.pool.Bind(engine), nil
	}

	return nil, fmt.Errorf("%w: no engine available for voice %q", core.ErrEngineUnavailable, voice)
}

// Voices lists, per engine name, the voices each candidate supports.
func (f *Factory) Voices() map[string][]string {
	voices := make(map[string][]string, len(f.candidates))

	for _, construct := range f.candidates {
		engine := construct(f.defaultVoice)
		if engine == nil {
			continue
		}

		voices[engine.Name()] = engine.SupportedVoices()
	}

	return voices
}

// probe checks availability once for local engines and with bounded retries
// for network engines.
func (f *Factory) probe(ctx context.Context, engine core.Engine) bool {
	check := func(ctx context.Context) error {
		probeCtx, cancel := context.WithTimeout(ctx, f.probeTimeout)
		defer cancel()

		if engine.IsAvailable(probeCtx) {
			return nil
		}

		return errProbeFailed
	}

	if IsComputeBound(engine) {
		return check(ctx) == nil
	}

	return retry.Do(ctx, f.probePolicy, check) == nil
}
