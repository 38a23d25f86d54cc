package engine

import (
	"context"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"k8s.io/klog/v2"
)

// ONNXConfig configures the ONNX Runtime adapter.
//
// The graph is expected to take a single token and the recurrent state and
// return the logits for the next token plus the updated state, as RWKV
// exports do.
type ONNXConfig struct {
	// ModelPath is the .onnx file.
	ModelPath string

	// SharedLibraryPath points to libonnxruntime. Empty = platform default.
	SharedLibraryPath string

	// Threads is the intra-op thread count. <= 0 = runtime default.
	Threads int

	// Checksum is the expected hex SHA-256 of ModelPath. Empty = skip.
	Checksum string

	// Graph tensor names.
	TokenInput   string
	StateInput   string
	LogitsOutput string
	StateOutput  string

	// StateSize and VocabSize override sizes the graph leaves dynamic.
	StateSize int
	VocabSize int
}

// DefaultONNXConfig returns the tensor names used by common RWKV exports.
func DefaultONNXConfig() ONNXConfig {
	return ONNXConfig{
		Threads:      4,
		TokenInput:   "token",
		StateInput:   "state",
		LogitsOutput: "logits",
		StateOutput:  "state_out",
	}
}

var ortInit sync.Mutex

// initRuntime loads the shared library once per process.
func initRuntime(libPath string) error {
	ortInit.Lock()
	defer ortInit.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	return ort.InitializeEnvironment()
}

// ONNX evaluates an ONNX recurrent model one token at a time.
type ONNX struct {
	session   *ort.AdvancedSession
	token     *ort.Tensor[int64]
	stateIn   *ort.Tensor[float32]
	stateOut  *ort.Tensor[float32]
	logits    *ort.Tensor[float32]
	vocabSize int
	stateSize int
	closed    bool
}

// NewONNX loads the model described by cfg.
func NewONNX(cfg ONNXConfig) (*ONNX, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInitFailure, err)
	}
	if cfg.Checksum != "" {
		if err := VerifyChecksum(cfg.ModelPath, cfg.Checksum); err != nil {
			return nil, err
		}
	}

	if err := initRuntime(cfg.SharedLibraryPath); err != nil {
		return nil, fmt.Errorf("%w: onnxruntime: %w", ErrInitFailure, err)
	}

	stateShape, logitsShape, err := graphShapes(cfg)
	if err != nil {
		return nil, err
	}

	e := &ONNX{
		vocabSize: int(logitsShape.FlattenedSize()),
		stateSize: int(stateShape.FlattenedSize()),
	}
	if err := e.allocate(stateShape, logitsShape); err != nil {
		e.destroy()
		return nil, fmt.Errorf("%w: %w", ErrInitFailure, err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		e.destroy()
		return nil, fmt.Errorf("%w: session options: %w", ErrInitFailure, err)
	}
	defer options.Destroy()

	if cfg.Threads > 0 {
		if err := options.SetIntraOpNumThreads(cfg.Threads); err != nil {
			e.destroy()
			return nil, fmt.Errorf("%w: set threads: %w", ErrInitFailure, err)
		}
	}

	e.session, err = ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.TokenInput, cfg.StateInput},
		[]string{cfg.LogitsOutput, cfg.StateOutput},
		[]ort.Value{e.token, e.stateIn},
		[]ort.Value{e.logits, e.stateOut},
		options,
	)
	if err != nil {
		e.destroy()
		return nil, fmt.Errorf("%w: create session: %w", ErrInitFailure, err)
	}

	klog.V(2).InfoS("Loaded ONNX model", "path", cfg.ModelPath, "vocabSize", e.vocabSize, "stateSize", e.stateSize, "threads", cfg.Threads)
	return e, nil
}

// graphShapes reads the state and logits shapes from the model, applying
// the size overrides where the graph leaves a dimension dynamic.
func graphShapes(cfg ONNXConfig) (ort.Shape, ort.Shape, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: inspect graph: %w", ErrInitFailure, err)
	}

	state, err := findShape(inputs, cfg.StateInput, cfg.StateSize)
	if err != nil {
		return nil, nil, err
	}
	logits, err := findShape(outputs, cfg.LogitsOutput, cfg.VocabSize)
	if err != nil {
		return nil, nil, err
	}
	return state, logits, nil
}

func findShape(infos []ort.InputOutputInfo, name string, override int) (ort.Shape, error) {
	for _, info := range infos {
		if info.Name != name {
			continue
		}

		shape := info.Dimensions.Clone()
		dynamic := false
		for _, d := range shape {
			if d <= 0 {
				dynamic = true
			}
		}
		if dynamic {
			if override <= 0 {
				return nil, fmt.Errorf("%w: %q has dynamic shape %v, size override required", ErrInitFailure, name, shape)
			}
			return ort.NewShape(int64(override)), nil
		}
		return shape, nil
	}
	return nil, fmt.Errorf("%w: graph has no tensor %q", ErrInitFailure, name)
}

func (e *ONNX) allocate(stateShape, logitsShape ort.Shape) error {
	var err error
	if e.token, err = ort.NewTensor(ort.NewShape(1), []int64{0}); err != nil {
		return err
	}
	if e.stateIn, err = ort.NewEmptyTensor[float32](stateShape); err != nil {
		return err
	}
	if e.stateOut, err = ort.NewEmptyTensor[float32](stateShape); err != nil {
		return err
	}
	if e.logits, err = ort.NewEmptyTensor[float32](logitsShape); err != nil {
		return err
	}
	return nil
}

// VocabSize returns the number of logits produced per step.
func (e *ONNX) VocabSize() int { return e.vocabSize }

// StateSize returns the recurrent state length.
func (e *ONNX) StateSize() int { return e.stateSize }

// InitState zeroes state.
func (e *ONNX) InitState(state []float32) error {
	if err := CheckBuffers(e, state, nil); err != nil {
		return err
	}
	clear(state)
	return nil
}

// Evaluate feeds tokens one by one, threading the state through.
func (e *ONNX) Evaluate(ctx context.Context, tokens []int32, state, logits []float32) error {
	if e.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := CheckBuffers(e, state, logits); err != nil {
		return err
	}
	if len(tokens) == 0 {
		return nil
	}

	stateIn := e.stateIn.GetData()
	copy(stateIn, state)

	for _, tok := range tokens {
		if tok < 0 || int(tok) >= e.vocabSize {
			return fmt.Errorf("%w: token %d out of range", ErrEvaluationFailure, tok)
		}
		e.token.GetData()[0] = int64(tok)

		if err := e.session.Run(); err != nil {
			return fmt.Errorf("%w: %w", ErrEvaluationFailure, err)
		}
		copy(stateIn, e.stateOut.GetData())
	}

	copy(state, stateIn)
	copy(logits, e.logits.GetData())
	return nil
}

// Close destroys the session and its tensors.
func (e *ONNX) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	return e.destroy()
}

func (e *ONNX) destroy() error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	if e.session != nil {
		keep(e.session.Destroy())
	}
	if e.token != nil {
		keep(e.token.Destroy())
	}
	if e.stateIn != nil {
		keep(e.stateIn.Destroy())
	}
	if e.stateOut != nil {
		keep(e.stateOut.Destroy())
	}
	if e.logits != nil {
		keep(e.logits.Destroy())
	}
	return first
}
