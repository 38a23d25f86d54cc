package retrieval

import (
	"errors"

	"github.com/google/uuid"
)

// Common errors.
var (
	// ErrEmbeddingFailure is returned when no embedding can be computed for a text.
	ErrEmbeddingFailure = errors.New("retrieval: failed to calculate embedding")

	// ErrNotFound is returned when deleting a document that is not stored.
	ErrNotFound = errors.New("retrieval: document not found")
)

// DefaultSearchLimit is the number of results Search returns when the
// caller passes a non-positive limit.
const DefaultSearchLimit = 10

// Document is a stored text with its embedding.
type Document struct {
	ID        uuid.UUID
	Text      string
	Embedding []float64
	Magnitude float64
}

// NewDocument builds a Document and precomputes its magnitude.
func NewDocument(id uuid.UUID, text string, embedding []float64) Document {
	return Document{
		ID:        id,
		Text:      text,
		Embedding: embedding,
		Magnitude: Magnitude(embedding),
	}
}

// SearchResult is a document ranked against a query.
type SearchResult struct {
	ID    uuid.UUID
	Text  string
	Score float64
}
