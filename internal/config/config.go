// Package config loads pocketrag settings from YAML.
//
// Every field has a default, so a config file only needs the keys it
// changes. Unknown keys are rejected.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/born-ml/pocketrag/internal/engine"
	"github.com/born-ml/pocketrag/internal/generate"
	"github.com/born-ml/pocketrag/internal/retrieval"
	"github.com/born-ml/pocketrag/internal/tokenizer"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned for settings that cannot be used.
var ErrInvalidConfig = errors.New("config: invalid")

// Model types.
const (
	ModelONNX    = "onnx"
	ModelTesting = "testing"
)

// Config is the root of the configuration file.
type Config struct {
	Model      ModelConfig      `yaml:"model"`
	Tokenizer  TokenizerConfig  `yaml:"tokenizer"`
	Generation GenerationConfig `yaml:"generation"`
	Sampling   SamplingConfig   `yaml:"sampling"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
}

// ModelConfig selects and locates the model.
type ModelConfig struct {
	// Type is "onnx" or "testing". The testing model answers a fixed reply.
	Type string `yaml:"type"`

	Path          string `yaml:"path,omitempty"`
	SharedLibrary string `yaml:"shared-library,omitempty"`
	Threads       int    `yaml:"threads,omitempty"`
	Checksum      string `yaml:"checksum,omitempty"`

	StateSize int `yaml:"state-size,omitempty"`
	VocabSize int `yaml:"vocab-size,omitempty"`

	TokenInput   string `yaml:"token-input,omitempty"`
	StateInput   string `yaml:"state-input,omitempty"`
	LogitsOutput string `yaml:"logits-output,omitempty"`
	StateOutput  string `yaml:"state-output,omitempty"`
}

// TokenizerConfig locates the tokenizer: a directory with tokenizer.json or
// vocab.json + merges.txt, or a tiktoken encoding or model name.
type TokenizerConfig struct {
	Path string `yaml:"path"`
}

// GenerationConfig mirrors generate.SessionConfig.
type GenerationConfig struct {
	MaximumContext int      `yaml:"maximum-context"`
	BatchSize      int      `yaml:"batch-size"`
	ChunkSize      int      `yaml:"chunk-size"`
	Template       string   `yaml:"template"`
	StopStrings    []string `yaml:"stop-strings"`
	MaxTokens      int      `yaml:"max-tokens"`
}

// SamplingConfig mirrors generate.SamplingConfig.
type SamplingConfig struct {
	Temperature      float32 `yaml:"temperature"`
	TopK             int     `yaml:"top-k"`
	TopP             float32 `yaml:"top-p"`
	TailFreeZ        float32 `yaml:"tail-free-z"`
	TypicalP         float32 `yaml:"typical-p"`
	RepeatPenalty    float32 `yaml:"repeat-penalty"`
	FrequencyPenalty float32 `yaml:"frequency-penalty"`
	PresencePenalty  float32 `yaml:"presence-penalty"`
	RepeatWindow     int     `yaml:"repeat-window"`
	PenalizeNewline  bool    `yaml:"penalize-newline"`
	Seed             int64   `yaml:"seed"`
}

// RetrievalConfig configures the document store.
type RetrievalConfig struct {
	Database   string  `yaml:"database"`
	Dimensions int     `yaml:"dimensions"`
	Threshold  float64 `yaml:"threshold"`
	Limit      int     `yaml:"limit"`
}

// Default returns the built-in configuration.
func Default() Config {
	session := generate.DefaultSessionConfig()
	sampling := session.Sampling
	onnx := engine.DefaultONNXConfig()

	return Config{
		Model: ModelConfig{
			Type:         ModelONNX,
			Threads:      onnx.Threads,
			TokenInput:   onnx.TokenInput,
			StateInput:   onnx.StateInput,
			LogitsOutput: onnx.LogitsOutput,
			StateOutput:  onnx.StateOutput,
		},
		Generation: GenerationConfig{
			MaximumContext: session.MaximumContext,
			BatchSize:      session.BatchSize,
			ChunkSize:      session.ChunkSize,
			Template:       "user-assistant",
			StopStrings:    session.StopStrings,
			MaxTokens:      session.MaxTokens,
		},
		Sampling: SamplingConfig{
			Temperature:      sampling.Temperature,
			TopK:             sampling.TopK,
			TopP:             sampling.TopP,
			TailFreeZ:        sampling.TailFreeZ,
			TypicalP:         sampling.TypicalP,
			RepeatPenalty:    sampling.RepeatPenalty,
			FrequencyPenalty: sampling.FrequencyPenalty,
			PresencePenalty:  sampling.PresencePenalty,
			RepeatWindow:     sampling.RepeatWindow,
			PenalizeNewline:  sampling.PenalizeNewline,
			Seed:             sampling.Seed,
		},
		Retrieval: RetrievalConfig{
			Database:   "pocketrag.db",
			Dimensions: retrieval.DefaultDimensions,
			Threshold:  0.5,
			Limit:      retrieval.DefaultSearchLimit,
		},
	}
}

// Load reads and validates the configuration file at path.
func Load(path string) (Config, error) {
	//nolint:gosec // Reading a user-specified config file is intentional.
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Marshal encodes cfg as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate reports the first setting that cannot be used.
func (c Config) Validate() error {
	switch c.Model.Type {
	case ModelTesting:
	case ModelONNX:
		if c.Model.Path == "" {
			return fmt.Errorf("%w: model.path is required for onnx models", ErrInvalidConfig)
		}
		if c.Tokenizer.Path == "" {
			return fmt.Errorf("%w: tokenizer.path is required for onnx models", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown model.type %q", ErrInvalidConfig, c.Model.Type)
	}

	if _, err := c.SessionConfig(); err != nil {
		return err
	}

	s := c.Sampling
	switch {
	case s.TopP < 0 || s.TailFreeZ < 0 || s.TypicalP < 0:
		return fmt.Errorf("%w: sampling thresholds must not be negative", ErrInvalidConfig)
	case s.RepeatPenalty <= 0:
		return fmt.Errorf("%w: sampling.repeat-penalty %v must be positive", ErrInvalidConfig, s.RepeatPenalty)
	}

	r := c.Retrieval
	switch {
	case r.Database == "":
		return fmt.Errorf("%w: retrieval.database is required", ErrInvalidConfig)
	case r.Dimensions < 0:
		return fmt.Errorf("%w: retrieval.dimensions %d must not be negative", ErrInvalidConfig, r.Dimensions)
	case r.Threshold < -1 || r.Threshold > 1:
		return fmt.Errorf("%w: retrieval.threshold %v outside [-1, 1]", ErrInvalidConfig, r.Threshold)
	case r.Limit < 0:
		return fmt.Errorf("%w: retrieval.limit %d must not be negative", ErrInvalidConfig, r.Limit)
	}
	return nil
}

// Template resolves generation.template: a built-in name, or a literal
// template containing the placeholder.
func (c Config) Template() (tokenizer.PromptTemplate, error) {
	name := c.Generation.Template
	if strings.Contains(name, tokenizer.Placeholder) {
		return tokenizer.PromptTemplate(name), nil
	}
	t, err := tokenizer.GetPromptTemplate(name)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return t, nil
}

// SamplingConfig converts the sampling section.
func (c Config) SamplingConfig() generate.SamplingConfig {
	s := c.Sampling
	return generate.SamplingConfig{
		Temperature:      s.Temperature,
		TopK:             s.TopK,
		TopP:             s.TopP,
		TailFreeZ:        s.TailFreeZ,
		TypicalP:         s.TypicalP,
		RepeatPenalty:    s.RepeatPenalty,
		FrequencyPenalty: s.FrequencyPenalty,
		PresencePenalty:  s.PresencePenalty,
		RepeatWindow:     s.RepeatWindow,
		PenalizeNewline:  s.PenalizeNewline,
		NewlineToken:     -1,
		MaximumContext:   c.Generation.MaximumContext,
		Seed:             s.Seed,
	}
}

// SessionConfig converts the generation and sampling sections.
func (c Config) SessionConfig() (generate.SessionConfig, error) {
	template, err := c.Template()
	if err != nil {
		return generate.SessionConfig{}, err
	}

	g := c.Generation
	session := generate.SessionConfig{
		MaximumContext: g.MaximumContext,
		BatchSize:      g.BatchSize,
		ChunkSize:      g.ChunkSize,
		PromptTemplate: template,
		StopStrings:    g.StopStrings,
		MaxTokens:      g.MaxTokens,
		Sampling:       c.SamplingConfig(),
	}
	if err := session.Validate(); err != nil {
		return generate.SessionConfig{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return session, nil
}

// ONNXConfig converts the model section.
func (c Config) ONNXConfig() engine.ONNXConfig {
	m := c.Model
	return engine.ONNXConfig{
		ModelPath:         m.Path,
		SharedLibraryPath: m.SharedLibrary,
		Threads:           m.Threads,
		Checksum:          m.Checksum,
		TokenInput:        m.TokenInput,
		StateInput:        m.StateInput,
		LogitsOutput:      m.LogitsOutput,
		StateOutput:       m.StateOutput,
		StateSize:         m.StateSize,
		VocabSize:         m.VocabSize,
	}
}
