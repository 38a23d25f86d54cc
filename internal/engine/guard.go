package engine

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Guard serializes calls to a shared Engine.
//
// Waiting callers honour their context; a call that has started is never
// interrupted.
type Guard struct {
	engine Engine
	sem    *semaphore.Weighted
}

// NewGuard wraps e so that at most one call runs at a time.
func NewGuard(e Engine) *Guard {
	return &Guard{
		engine: e,
		sem:    semaphore.NewWeighted(1),
	}
}

// VocabSize returns the wrapped engine's vocabulary size.
func (g *Guard) VocabSize() int { return g.engine.VocabSize() }

// StateSize returns the wrapped engine's state size.
func (g *Guard) StateSize() int { return g.engine.StateSize() }

// InitState initializes state under the guard.
func (g *Guard) InitState(state []float32) error {
	if err := g.sem.Acquire(context.Background(), 1); err != nil {
		return err
	}
	defer g.sem.Release(1)

	return g.engine.InitState(state)
}

// Evaluate waits for exclusive access, then evaluates tokens.
func (g *Guard) Evaluate(ctx context.Context, tokens []int32, state, logits []float32) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer g.sem.Release(1)

	return g.engine.Evaluate(ctx, tokens, state, logits)
}

// Close waits for in-flight calls and closes the wrapped engine.
func (g *Guard) Close() error {
	if err := g.sem.Acquire(context.Background(), 1); err != nil {
		return err
	}
	defer g.sem.Release(1)

	return g.engine.Close()
}
