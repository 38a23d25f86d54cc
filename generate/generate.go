// Package generate provides text generation for pocketrag.
//
// This package wraps the internal generate implementations and provides
// a clean public API for text generation tasks.
//
// Components:
//   - Sampler: the nine-stage sampling pipeline (penalties, top-k,
//     tail-free, typical, top-p, temperature)
//   - Session: context state and the prefill/decode loop over an Engine
//   - Model: the single-call Predict interface, with a fixed-reply
//     TestingModel
//
// Example usage:
//
//	import (
//	    "github.com/born-ml/pocketrag/generate"
//	    "github.com/born-ml/pocketrag/tokenizer"
//	)
//
//	eng, err := generate.NewONNX(generate.ONNXConfig{ModelPath: "rwkv.onnx"})
//	tok, err := tokenizer.AutoLoad("models/rwkv")
//
//	session, err := generate.NewSession(ctx, eng, tok, generate.DefaultSessionConfig())
//	answer, err := session.Generate(ctx, "How is the dog called?")
package generate

import (
	"context"

	"github.com/born-ml/pocketrag/internal/engine"
	"github.com/born-ml/pocketrag/internal/generate"
	"github.com/born-ml/pocketrag/internal/tokenizer"
)

// Sampling Configuration

// SamplingConfig configures the sampling pipeline.
//
// Parameters:
//   - Temperature: Controls randomness (<= 0 = greedy)
//   - TopK: Limits sampling to top K tokens (<= 0 = disabled)
//   - TopP: Nucleus sampling (1.0 = disabled)
//   - TailFreeZ: Tail-free sampling (1.0 = disabled)
//   - TypicalP: Locally typical sampling (1.0 = disabled)
//   - RepeatPenalty: Penalty for repeated tokens (1.0 = no penalty)
//   - FrequencyPenalty: Penalty based on token frequency (0 = disabled)
//   - PresencePenalty: Penalty for token presence (0 = disabled)
//   - RepeatWindow: Number of recent tokens to consider (< 0 = MaximumContext)
//   - PenalizeNewline: Whether the newline token is penalized too
//   - Seed: Random seed for reproducibility (-1 = random)
type SamplingConfig = generate.SamplingConfig

// DefaultSamplingConfig returns the defaults for on-device chat models.
//
// Defaults:
//   - Temperature: 0.5
//   - TopK: 40
//   - TopP: 0.95
//   - TailFreeZ, TypicalP: 1.0 (disabled)
//   - RepeatPenalty: 1.1 over the last 64 tokens
//   - Seed: -1 (random)
func DefaultSamplingConfig() SamplingConfig {
	return generate.DefaultSamplingConfig()
}

// Sampler samples tokens from logits.
type Sampler = generate.Sampler

// NewSampler creates a new sampler with the given configuration.
func NewSampler(config SamplingConfig) *Sampler {
	return generate.NewSampler(config)
}

// Session

// Engine evaluates tokens against a recurrent model.
type Engine = engine.Engine

// ONNXConfig configures the ONNX Runtime engine.
type ONNXConfig = engine.ONNXConfig

// NewONNX loads an ONNX model.
func NewONNX(config ONNXConfig) (Engine, error) {
	e, err := engine.NewONNX(config)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// SessionConfig configures a generation session.
type SessionConfig = generate.SessionConfig

// DefaultSessionConfig returns the session defaults: 4096 context, 512 batch,
// 64-token chunks, the USER/Assistant template and "USER"/"User" stop strings.
func DefaultSessionConfig() SessionConfig {
	return generate.DefaultSessionConfig()
}

// SessionOption configures a Session.
type SessionOption = generate.SessionOption

// WithMaxTokens caps the number of generated tokens per call.
func WithMaxTokens(n int) SessionOption {
	return generate.WithMaxTokens(n)
}

// WithStopStrings replaces the stop strings.
func WithStopStrings(stops ...string) SessionOption {
	return generate.WithStopStrings(stops...)
}

// WithPromptTemplate replaces the prompt template.
func WithPromptTemplate(t tokenizer.PromptTemplate) SessionOption {
	return generate.WithPromptTemplate(t)
}

// Session generates answers with an Engine.
type Session = generate.Session

// State is the lifecycle state of a Session.
type State = generate.State

// GenerateResult is a single result from streaming generation.
//
//nolint:revive // GenerateResult is clearer than Result
type GenerateResult = generate.GenerateResult

// NewSession creates a session over eng and tok.
func NewSession(
	ctx context.Context,
	eng Engine,
	tok tokenizer.Tokenizer,
	config SessionConfig,
	opts ...SessionOption,
) (*Session, error) {
	return generate.NewSession(ctx, eng, tok, config, opts...)
}

// Model

// Model answers a single prompt.
type Model = generate.Model

// Prediction is the answer to one Predict call.
type Prediction = generate.Prediction

// NewTestingModel returns a Model answering "Test reply".
func NewTestingModel() Model {
	return generate.NewTestingModel()
}

// Errors

var (
	ErrEmptyInput           = generate.ErrEmptyInput
	ErrInputTooLong         = generate.ErrInputTooLong
	ErrContextLimitExceeded = generate.ErrContextLimitExceeded
	ErrSessionClosed        = generate.ErrSessionClosed
	ErrInitFailure          = engine.ErrInitFailure
	ErrEvaluationFailure    = engine.ErrEvaluationFailure
)
