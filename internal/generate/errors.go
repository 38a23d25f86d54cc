package generate

import "errors"

// Common errors.
var (
	// ErrEmptyInput is returned when the formatted prompt encodes to no tokens.
	ErrEmptyInput = errors.New("generate: empty input")

	// ErrInputTooLong is returned when the prompt does not fit the context window.
	ErrInputTooLong = errors.New("generate: input too long")

	// ErrContextLimitExceeded is returned when decoding runs out of context.
	// The session has already rebalanced itself; the call may be retried.
	ErrContextLimitExceeded = errors.New("generate: context limit exceeded")

	// ErrSessionClosed is returned by calls on a closed session.
	ErrSessionClosed = errors.New("generate: session closed")

	// ErrInvalidConfig is returned for session configurations that cannot run.
	ErrInvalidConfig = errors.New("generate: invalid config")
)
