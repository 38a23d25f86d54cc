package generate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/born-ml/pocketrag/internal/engine"
	"github.com/born-ml/pocketrag/internal/tokenizer"
	"k8s.io/klog/v2"
)

// State is the lifecycle state of a Session.
type State int

// Session states. A call moves Tokenizing -> Prefilling -> (Sampling <->
// Decoding) and ends in Completed, ContextLimited or Failed.
const (
	StateIdle State = iota
	StateTokenizing
	StatePrefilling
	StateSampling
	StateDecoding
	StateCompleted
	StateContextLimited
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTokenizing:
		return "tokenizing"
	case StatePrefilling:
		return "prefilling"
	case StateSampling:
		return "sampling"
	case StateDecoding:
		return "decoding"
	case StateCompleted:
		return "completed"
	case StateContextLimited:
		return "context_limited"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Stop reasons reported in GenerateResult.
const (
	ReasonEOS          = "eos"
	ReasonStopString   = "stop_string"
	ReasonMaxTokens    = "max_tokens"
	ReasonCallback     = "callback"
	ReasonContextLimit = "context_limit"
)

// SessionConfig configures a generation session.
type SessionConfig struct {
	// MaximumContext is the engine's context window in tokens.
	MaximumContext int

	// BatchSize is the number of prompt tokens evaluated per batch.
	BatchSize int

	// ChunkSize is the number of tokens per engine call.
	ChunkSize int

	// PromptTemplate wraps the raw question.
	PromptTemplate tokenizer.PromptTemplate

	// StopStrings end generation when a piece equals one, or the answer ends with one.
	StopStrings []string

	// MaxTokens caps the generated tokens. 0 = unlimited.
	MaxTokens int

	// Sampling is the sampling configuration.
	Sampling SamplingConfig
}

// DefaultSessionConfig returns sensible defaults for generation.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaximumContext: 4096,
		BatchSize:      512,
		ChunkSize:      64,
		PromptTemplate: tokenizer.UserAssistantTemplate,
		StopStrings:    []string{"USER", "User"},
		MaxTokens:      0,
		Sampling:       DefaultSamplingConfig(),
	}
}

// Validate reports configurations the session cannot run with.
func (c SessionConfig) Validate() error {
	switch {
	case c.MaximumContext <= 4:
		return fmt.Errorf("%w: maximum context %d must be greater than 4", ErrInvalidConfig, c.MaximumContext)
	case c.BatchSize <= 0:
		return fmt.Errorf("%w: batch size %d must be positive", ErrInvalidConfig, c.BatchSize)
	case c.ChunkSize <= 0:
		return fmt.Errorf("%w: chunk size %d must be positive", ErrInvalidConfig, c.ChunkSize)
	case c.MaxTokens < 0:
		return fmt.Errorf("%w: max tokens %d must not be negative", ErrInvalidConfig, c.MaxTokens)
	}
	if err := c.PromptTemplate.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return c.Sampling.Validate()
}

// GenerateResult is a single result from streaming generation.
//
//nolint:revive // GenerateResult is clearer than Result
type GenerateResult struct {
	Token   string // Decoded token text
	TokenID int32  // Token ID
	Done    bool   // Is generation complete
	Reason  string // Stop reason, set when Done
	Text    string // Cleaned answer, set when Done
	Error   error  // Error if any
}

// SessionOption configures a Session.
type SessionOption func(*SessionConfig)

// WithMaxTokens caps the number of generated tokens per call.
func WithMaxTokens(n int) SessionOption {
	return func(c *SessionConfig) {
		c.MaxTokens = n
	}
}

// WithChunkSize sets the number of tokens per engine call.
func WithChunkSize(n int) SessionOption {
	return func(c *SessionConfig) {
		c.ChunkSize = n
	}
}

// WithStopStrings replaces the stop strings.
func WithStopStrings(stops ...string) SessionOption {
	return func(c *SessionConfig) {
		c.StopStrings = stops
	}
}

// WithPromptTemplate replaces the prompt template.
func WithPromptTemplate(t tokenizer.PromptTemplate) SessionOption {
	return func(c *SessionConfig) {
		c.PromptTemplate = t
	}
}

// Session generates answers with an Engine.
//
// A Session owns the recurrent state, the logits buffer and the context
// bookkeeping for one conversation. It is not safe for concurrent use; share
// an engine between sessions through engine.Guard.
type Session struct {
	engine    engine.Engine
	tokenizer tokenizer.Tokenizer
	sampler   *Sampler
	config    SessionConfig

	logits []float32
	state  []float32

	past    [][]int32 // evaluated prompts and answers, in order
	nPast   int
	history []int32 // recent tokens for the repetition penalties

	current State
	closed  bool
}

// NewSession allocates the session buffers, initializes the engine state and
// seeds it with a BOS/EOS pair. A tokenizer without an EOS token is rejected.
func NewSession(
	ctx context.Context,
	eng engine.Engine,
	tok tokenizer.Tokenizer,
	config SessionConfig,
	opts ...SessionOption,
) (*Session, error) {
	for _, opt := range opts {
		opt(&config)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if tok.EosToken() < 0 {
		return nil, fmt.Errorf("%w: tokenizer has no EOS token", engine.ErrInitFailure)
	}

	if config.Sampling.NewlineToken < 0 {
		config.Sampling.NewlineToken = newlineToken(tok)
	}
	if config.Sampling.MaximumContext <= 0 {
		config.Sampling.MaximumContext = config.MaximumContext
	}

	s := &Session{
		engine:    eng,
		tokenizer: tok,
		sampler:   NewSampler(config.Sampling),
		config:    config,
		logits:    make([]float32, eng.VocabSize()),
		state:     make([]float32, eng.StateSize()),
	}

	if err := s.initialize(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// newlineToken returns the single token "\n" encodes to, or -1.
func newlineToken(tok tokenizer.Tokenizer) int32 {
	tokens, err := tok.Encode("\n")
	if err != nil || len(tokens) != 1 {
		return -1
	}
	return tokens[0]
}

func (s *Session) initialize(ctx context.Context) error {
	if err := s.engine.InitState(s.state); err != nil {
		return fmt.Errorf("%w: init state: %w", engine.ErrInitFailure, err)
	}

	if err := s.evaluate(ctx, []int32{s.bos(), s.tokenizer.EosToken()}); err != nil {
		return err
	}

	s.current = StateIdle
	return nil
}

// bos returns the tokenizer's BOS token, or EOS for codecs such as tiktoken
// that mark both ends with one token.
func (s *Session) bos() int32 {
	if bos := s.tokenizer.BosToken(); bos >= 0 {
		return bos
	}
	return s.tokenizer.EosToken()
}

// State returns the session's current state.
func (s *Session) State() State {
	return s.current
}

// NPast returns the number of tokens in the engine's context.
func (s *Session) NPast() int {
	return s.nPast
}

// Past returns a copy of the evaluated prompts and answers.
func (s *Session) Past() [][]int32 {
	out := make([][]int32, len(s.past))
	for i, batch := range s.past {
		out[i] = append([]int32(nil), batch...)
	}
	return out
}

// Config returns the effective session configuration.
func (s *Session) Config() SessionConfig {
	return s.config
}

// Reset clears the conversation and reinitializes the engine state.
func (s *Session) Reset(ctx context.Context) error {
	if s.closed {
		return ErrSessionClosed
	}

	s.past = nil
	s.nPast = 0
	s.history = s.history[:0]
	return s.initialize(ctx)
}

// Close releases the session buffers. The engine is owned by the caller and
// stays open.
func (s *Session) Close() error {
	s.closed = true
	s.logits = nil
	s.state = nil
	s.history = nil
	return nil
}

// Predict implements Model.
func (s *Session) Predict(ctx context.Context, input string) (Prediction, error) {
	start := time.Now()
	text, err := s.Generate(ctx, input)
	if err != nil {
		return Prediction{}, err
	}
	return Prediction{Text: text, Elapsed: time.Since(start)}, nil
}

// Generate answers question.
func (s *Session) Generate(ctx context.Context, question string) (string, error) {
	return s.GenerateFunc(ctx, question, nil)
}

// GenerateFunc answers question, calling fn with every emitted piece.
// Generation stops early when fn returns false.
func (s *Session) GenerateFunc(ctx context.Context, question string, fn func(GenerateResult) bool) (string, error) {
	if s.closed {
		return "", ErrSessionClosed
	}

	prompt, err := s.tokenize(question)
	if err != nil {
		return "", err
	}

	text, _, err := s.run(ctx, prompt, fn)
	return text, err
}

// GenerateStream answers question and returns a channel of results.
//
// Tokenization errors are returned directly. The last result on the channel
// has Done set and carries the answer, the stop reason or the error.
func (s *Session) GenerateStream(ctx context.Context, question string) (<-chan GenerateResult, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}

	prompt, err := s.tokenize(question)
	if err != nil {
		return nil, err
	}

	ch := make(chan GenerateResult, 1)

	go func() {
		defer close(ch)

		send := func(res GenerateResult) bool {
			select {
			case ch <- res:
				return true
			case <-ctx.Done():
				return false
			}
		}

		text, reason, err := s.run(ctx, prompt, send)
		send(GenerateResult{Done: true, Reason: reason, Text: text, Error: err})
	}()

	return ch, nil
}

// tokenize formats and encodes the question. Nothing is mutated on failure.
func (s *Session) tokenize(question string) ([]int32, error) {
	previous := s.current
	s.setState(StateTokenizing)

	tokens, err := s.tokenizer.Encode(s.config.PromptTemplate.Apply(question))
	switch {
	case err != nil:
		err = fmt.Errorf("encode prompt: %w", err)
	case len(tokens) == 0:
		err = ErrEmptyInput
	case len(tokens) >= s.config.MaximumContext:
		err = fmt.Errorf("%w: %d tokens, context is %d", ErrInputTooLong, len(tokens), s.config.MaximumContext)
	}
	if err != nil {
		s.current = previous
		return nil, err
	}

	s.past = append(s.past, tokens)
	return tokens, nil
}

// run prefills the prompt and decodes until a stop condition.
func (s *Session) run(ctx context.Context, prompt []int32, fn func(GenerateResult) bool) (string, string, error) {
	s.setState(StatePrefilling)
	if err := s.evaluateBatches(ctx, prompt); err != nil {
		return s.fail(err)
	}

	s.history = s.history[:0]
	eos := s.tokenizer.EosToken()

	var (
		output []int32
		pieces []string
		text   strings.Builder
		reason string
	)

	for {
		if err := ctx.Err(); err != nil {
			return s.fail(err)
		}

		s.setState(StateSampling)
		token := s.sampler.Sample(s.logits, s.history)
		output = append(output, token)
		s.remember(token)

		s.setState(StateDecoding)
		piece, err := s.tokenizer.Decode([]int32{token})
		if err != nil {
			return s.fail(fmt.Errorf("decode token %d: %w", token, err))
		}

		if token == eos {
			reason = ReasonEOS
			break
		}
		if s.isStop(piece, text.String()) {
			reason = ReasonStopString
			break
		}

		pieces = append(pieces, piece)
		text.WriteString(piece)

		if fn != nil && !fn(GenerateResult{Token: piece, TokenID: token}) {
			// A stream reader that went away through ctx is a cancellation.
			if err := ctx.Err(); err != nil {
				return s.fail(err)
			}
			reason = ReasonCallback
			break
		}

		if s.nPast > s.config.MaximumContext-4 {
			s.nPast /= 2
			klog.V(2).InfoS("Context limit reached, halving context", "nPast", s.nPast, "generated", len(output))

			// The boundary must land even if the caller has given up.
			if err := s.evaluate(context.WithoutCancel(ctx), []int32{eos}); err != nil {
				return s.fail(err)
			}
			s.setState(StateContextLimited)
			return "", ReasonContextLimit, ErrContextLimitExceeded
		}

		if s.config.MaxTokens > 0 && len(output) >= s.config.MaxTokens {
			reason = ReasonMaxTokens
			break
		}

		if err := s.evaluate(ctx, []int32{token}); err != nil {
			return s.fail(err)
		}
		s.nPast++
	}

	s.past = append(s.past, output)
	s.setState(StateCompleted)
	klog.V(2).InfoS("Generation completed", "reason", reason, "tokens", len(output), "nPast", s.nPast)

	return clean(pieces), reason, nil
}

// evaluateBatches feeds tokens in BatchSize batches, starting over at a
// context boundary when a batch would not fit.
func (s *Session) evaluateBatches(ctx context.Context, tokens []int32) error {
	for len(tokens) > 0 {
		n := min(len(tokens), s.config.BatchSize)
		batch := tokens[:n]
		tokens = tokens[n:]

		if s.nPast+n >= s.config.MaximumContext {
			klog.V(2).InfoS("Rotating context", "nPast", s.nPast, "batch", n)
			s.nPast = 0
			if err := s.evaluate(ctx, []int32{s.tokenizer.EosToken()}); err != nil {
				return err
			}
		}

		if err := s.evaluate(ctx, batch); err != nil {
			return err
		}
		s.nPast += n
	}
	return nil
}

// evaluate feeds tokens to the engine in ChunkSize chunks.
func (s *Session) evaluate(ctx context.Context, tokens []int32) error {
	for start := 0; start < len(tokens); start += s.config.ChunkSize {
		end := min(start+s.config.ChunkSize, len(tokens))
		if err := s.engine.Evaluate(ctx, tokens[start:end], s.state, s.logits); err != nil {
			return fmt.Errorf("evaluate %d tokens: %w", end-start, err)
		}
	}
	return nil
}

// remember appends token to the penalty history, dropping the oldest entry
// once the window is full.
func (s *Session) remember(token int32) {
	limit := s.config.Sampling.RepeatWindow
	if limit < 0 {
		limit = s.config.MaximumContext
	}

	s.history = append(s.history, token)
	if len(s.history) > limit {
		s.history = append(s.history[:0], s.history[len(s.history)-limit:]...)
	}
}

func (s *Session) isStop(piece, text string) bool {
	for _, stop := range s.config.StopStrings {
		if stop == "" {
			continue
		}
		if piece == stop || strings.HasSuffix(text+piece, stop) {
			return true
		}
	}
	return false
}

func (s *Session) fail(err error) (string, string, error) {
	s.setState(StateFailed)
	klog.V(2).InfoS("Generation failed", "err", err)
	return "", "", err
}

func (s *Session) setState(next State) {
	if s.current != next {
		klog.V(4).InfoS("Session state", "from", s.current, "to", next)
	}
	s.current = next
}

// clean drops the leading space byte-level BPE puts on the first piece and
// any trailing newline pieces.
func clean(pieces []string) string {
	if len(pieces) == 0 {
		return ""
	}

	out := append([]string(nil), pieces...)
	out[0] = strings.TrimPrefix(out[0], " ")

	for len(out) > 0 && out[len(out)-1] == "\n" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "")
}
