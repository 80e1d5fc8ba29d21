package tts

import (
	"context"

	"github.com/book-expert/audiobook-tts/internal/core"
)

// DefaultPoolSize is the number of concurrent compute-bound syntheses.
const DefaultPoolSize = 2

// Pool bounds how many compute-bound syntheses run at once across all jobs.
type Pool struct {
	slots chan struct{}
}

// NewPool creates a pool with size slots; a non-positive size selects
// DefaultPoolSize.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = DefaultPoolSize
	}

	return &Pool{slots: make(chan struct{}, size)}
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return cap(p.slots)
}

// Acquire blocks until a slot is free or ctx is done.
func (p *Pool) Acquire(ctx context.Context) error {
	select {
	case p.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot taken by Acquire.
func (p *Pool) Release() {
	<-p.slots
}

// Bind returns engine gated by the pool when it is compute bound, and engine
// itself otherwise.
func (p *Pool) Bind(engine core.Engine) core.Engine {
	if !IsComputeBound(engine) {
		return engine
	}

	return &pooledEngine{Engine: engine, pool: p}
}

type pooledEngine struct {
	core.Engine

	pool *Pool
}

func (e *pooledEngine) Synthesize(ctx context.Context, text, dest string) error {
	acquireErr := e.pool.Acquire(ctx)
	if acquireErr != nil {
		return acquireErr
	}
	defer e.pool.Release()

	return e.Engine.Synthesize(ctx, text, dest)
}

func (e *pooledEngine) ComputeBound() bool { return true }
