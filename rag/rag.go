// Package rag provides the question-answering client of pocketrag.
//
// A Client searches a document store for snippets similar to a question,
// builds a "###Question: ... ###Answer: ..." prompt from them and hands it
// to a generation model.
//
// Example usage:
//
//	import (
//	    "github.com/born-ml/pocketrag/generate"
//	    "github.com/born-ml/pocketrag/rag"
//	)
//
//	store, err := rag.OpenStore(ctx, "docs.db", rag.NewHashingEmbedder(0))
//	client := rag.New(store)
//	client.Load(generate.NewTestingModel())
//
//	err = client.Add(ctx, "The dog is called Freja")
//	answer, err := client.Ask(ctx, "How is the dog called?", rag.DefaultThreshold)
package rag

import (
	"context"

	"github.com/born-ml/pocketrag/internal/rag"
	"github.com/born-ml/pocketrag/internal/retrieval"
)

// Client is the question-answering facade.
type Client = rag.Client

// Option configures a Client.
type Option = rag.Option

// DocumentStore is the storage a Client searches and writes to.
type DocumentStore = rag.DocumentStore

// Store is the SQLite-backed DocumentStore.
type Store = retrieval.Store

// SearchResult is a document ranked against a query.
type SearchResult = retrieval.SearchResult

// Embedder maps text to a vector.
type Embedder = retrieval.Embedder

// DefaultThreshold is the similarity a document needs to enter a prompt.
const DefaultThreshold = rag.DefaultThreshold

// Errors

var (
	ErrModelNotLoaded   = rag.ErrModelNotLoaded
	ErrNotFound         = retrieval.ErrNotFound
	ErrEmbeddingFailure = retrieval.ErrEmbeddingFailure
)

// New returns a Client backed by store.
func New(store DocumentStore, opts ...Option) *Client {
	return rag.New(store, opts...)
}

// WithSearchLimit caps the snippets per prompt.
func WithSearchLimit(n int) Option {
	return rag.WithSearchLimit(n)
}

// OpenStore opens the document store at path (":memory:" for a
// throwaway store).
func OpenStore(ctx context.Context, path string, embedder Embedder) (*Store, error) {
	return retrieval.Open(ctx, path, embedder)
}

// NewHashingEmbedder returns the feature-hashing embedder with dims buckets
// (8192 if dims <= 0).
func NewHashingEmbedder(dims int) Embedder {
	return retrieval.NewHashingEmbedder(dims)
}
