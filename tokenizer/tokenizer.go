// Package tokenizer provides text tokenization for pocketrag.
//
// This package wraps the internal tokenizer implementations and provides
// a clean public API for tokenization tasks.
//
// Supported tokenizers:
//   - BPE: GPT-2 style byte-level BPE from vocab.json + merges.txt or tokenizer.json
//   - TikToken: OpenAI BPE encodings (cl100k_base, p50k_base, ...)
//   - Prompt templates: wrap a question in a model's turn format
//
// Example usage:
//
//	import "github.com/born-ml/pocketrag/tokenizer"
//
//	// Load vocab.json + merges.txt
//	tok, err := tokenizer.LoadByteLevelBPE("vocab.json", "merges.txt")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Encode a formatted prompt
//	prompt := tokenizer.UserAssistantTemplate.Apply("How is the dog called?")
//	tokens, err := tok.Encode(prompt)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Decode tokens
//	text, err := tok.Decode(tokens)
package tokenizer

import (
	"github.com/born-ml/pocketrag/internal/tokenizer"
)

// Tokenizer is the core interface for text tokenization.
//
// All tokenizer implementations must implement this interface.
type Tokenizer = tokenizer.Tokenizer

// BPETokenizer is the byte-level BPE codec.
type BPETokenizer = tokenizer.BPETokenizer

// PromptTemplate wraps a question into a model's turn format.
type PromptTemplate = tokenizer.PromptTemplate

// Built-in prompt templates.
const (
	UserAssistantTemplate = tokenizer.UserAssistantTemplate
	ChatMLTemplate        = tokenizer.ChatMLTemplate
	LLaMATemplate         = tokenizer.LLaMATemplate
	RawTemplate           = tokenizer.RawTemplate
)

// Errors returned by the loaders.
var (
	ErrInvalidVocab         = tokenizer.ErrInvalidVocab
	ErrInvalidMerges        = tokenizer.ErrInvalidMerges
	ErrUnsupportedTokenizer = tokenizer.ErrUnsupportedTokenizer
	ErrUnknownModel         = tokenizer.ErrUnknownModel
)

// LoadByteLevelBPE loads a byte-level BPE tokenizer from vocab.json and
// merges.txt. BOS/EOS are resolved from "<s>"/"</s>" or "<|endoftext|>".
func LoadByteLevelBPE(vocabPath, mergesPath string) (*BPETokenizer, error) {
	return tokenizer.LoadByteLevelBPE(vocabPath, mergesPath)
}

// NewTikToken creates a TikToken tokenizer for the named encoding
// ("o200k_base", "cl100k_base", "p50k_base", "p50k_edit", "r50k_base").
func NewTikToken(encodingName string) (Tokenizer, error) {
	tok, err := tokenizer.NewTikToken(encodingName)
	if err != nil {
		return nil, err
	}
	return tok, nil
}

// NewTikTokenForModel creates a TikToken tokenizer for the encoding registered
// for a model, e.g. "gpt-4" or "gpt-4o".
func NewTikTokenForModel(modelName string) (Tokenizer, error) {
	tok, err := tokenizer.NewTikTokenForModel(modelName)
	if err != nil {
		return nil, err
	}
	return tok, nil
}

// LoadFromHuggingFace loads a tokenizer from a HuggingFace model directory.
//
// The directory should contain a BPE tokenizer.json.
func LoadFromHuggingFace(modelPath string) (*BPETokenizer, error) {
	return tokenizer.LoadFromHuggingFace(modelPath)
}

// AutoLoad attempts to automatically load the correct tokenizer.
//
// It tries multiple strategies:
//  1. Directory with tokenizer.json
//  2. Directory with vocab.json and merges.txt
//  3. tiktoken encoding name
//  4. tiktoken model name
func AutoLoad(pathOrName string) (Tokenizer, error) {
	return tokenizer.AutoLoadTokenizer(pathOrName)
}

// GetPromptTemplate returns a built-in template by name.
//
// Supported names: "user-assistant" (default), "chatml", "llama", "raw".
func GetPromptTemplate(name string) (PromptTemplate, error) {
	return tokenizer.GetPromptTemplate(name)
}
