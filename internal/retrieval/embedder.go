package retrieval

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/born-ml/pocketrag/internal/tokenizer"
	"github.com/cespare/xxhash/v2"
)

// DefaultDimensions is the embedding width of HashingEmbedder.
const DefaultDimensions = 8192

// Embedder maps text to a fixed-width vector.
type Embedder interface {
	// Embed returns the embedding of text, or an error wrapping
	// ErrEmbeddingFailure.
	Embed(text string) ([]float64, error)

	// Dimensions returns the embedding width.
	Dimensions() int
}

// HashingEmbedder embeds text by feature hashing: every distinct lower-cased
// word sets its xxhash bucket to 1. Cosine similarity of two embeddings is
// then the word overlap normalized by both vocabularies.
type HashingEmbedder struct {
	dims int
}

// NewHashingEmbedder returns a HashingEmbedder with dims buckets.
// dims <= 0 selects DefaultDimensions.
func NewHashingEmbedder(dims int) *HashingEmbedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &HashingEmbedder{dims: dims}
}

// Dimensions returns the number of hash buckets.
func (e *HashingEmbedder) Dimensions() int {
	return e.dims
}

// Embed hashes the words of text. Text without any letter or digit has no
// embedding.
func (e *HashingEmbedder) Embed(text string) ([]float64, error) {
	words, err := Words(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailure, err)
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("%w: %q has no words", ErrEmbeddingFailure, text)
	}

	v := make([]float64, e.dims)
	for _, w := range words {
		v[xxhash.Sum64String(w)%uint64(e.dims)] = 1 //nolint:gosec // dims is positive
	}
	return v, nil
}

// Words splits text with the GPT-2 pre-tokenizer and returns its lower-cased
// letter and digit runs. Punctuation and whitespace runs are dropped.
func Words(text string) ([]string, error) {
	pieces, err := tokenizer.Pretokenize(text)
	if err != nil {
		return nil, err
	}

	words := pieces[:0]
	for _, p := range pieces {
		w := strings.ToLower(strings.TrimSpace(p))
		if strings.IndexFunc(w, isWordRune) < 0 {
			continue
		}
		words = append(words, w)
	}
	return words, nil
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
