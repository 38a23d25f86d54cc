// Package engine defines the boundary to the neural evaluation kernels.
//
// The generation session only needs an opaque "evaluate tokens, update
// state, produce logits" capability. This package provides the Engine
// interface, an ONNX Runtime adapter, a Guard serializing access to a
// shared engine, and model checksum verification.
package engine

import (
	"context"
	"errors"
	"fmt"
)

// Common errors.
var (
	ErrInitFailure       = errors.New("engine: initialization failed")
	ErrEvaluationFailure = errors.New("engine: evaluation failed")
	ErrChecksumMismatch  = fmt.Errorf("%w: checksum mismatch: file may be corrupted", ErrInitFailure)
	ErrClosed            = errors.New("engine: closed")
)

// Engine evaluates token sequences against a recurrent model.
//
// Sizes are fixed once the engine is created. Implementations are not
// reentrant: at most one Evaluate may be in flight per engine, see Guard.
type Engine interface {
	// VocabSize returns the number of logits produced per step.
	VocabSize() int

	// StateSize returns the number of floats in the recurrent state.
	StateSize() int

	// InitState writes the initial recurrent state into state.
	InitState(state []float32) error

	// Evaluate feeds tokens in order. state is read as the input state and
	// overwritten with the output state; logits receives the scores for the
	// token after the last one fed.
	Evaluate(ctx context.Context, tokens []int32, state, logits []float32) error

	// Close releases the engine's native resources.
	Close() error
}

// CheckBuffers verifies that state and logits match the sizes of e.
func CheckBuffers(e Engine, state, logits []float32) error {
	if len(state) != e.StateSize() {
		return fmt.Errorf("%w: state buffer has %d floats, want %d", ErrEvaluationFailure, len(state), e.StateSize())
	}
	if logits != nil && len(logits) != e.VocabSize() {
		return fmt.Errorf("%w: logits buffer has %d floats, want %d", ErrEvaluationFailure, len(logits), e.VocabSize())
	}
	return nil
}
