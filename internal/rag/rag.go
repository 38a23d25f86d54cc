// Package rag answers questions with a generation model, enriching each
// prompt with documents retrieved from a store.
//
// A Client replaces process-wide singletons: the store and the model are
// handed in explicitly, and several clients may coexist.
package rag

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/born-ml/pocketrag/internal/generate"
	"github.com/born-ml/pocketrag/internal/prompt"
	"github.com/born-ml/pocketrag/internal/retrieval"
	"github.com/google/uuid"
	"k8s.io/klog/v2"
)

// ErrModelNotLoaded is returned by Ask before Load.
var ErrModelNotLoaded = errors.New("rag: model not loaded")

// DefaultThreshold is the similarity a document needs to enter a prompt.
const DefaultThreshold = 0.5

// Retriever ranks stored snippets against a query.
type Retriever interface {
	Search(ctx context.Context, query string, threshold float64, limit int) ([]retrieval.SearchResult, error)
}

// DocumentStore is a Retriever that can also be written to.
// *retrieval.Store implements it.
type DocumentStore interface {
	Retriever
	AddDocument(ctx context.Context, text string) (uuid.UUID, error)
	Delete(ctx context.Context, text string) error
	Clear(ctx context.Context) error
}

// Option configures a Client.
type Option func(*Client)

// WithSearchLimit caps the snippets per prompt.
func WithSearchLimit(n int) Option {
	return func(c *Client) {
		c.limit = n
	}
}

// Client is the question-answering facade.
type Client struct {
	store DocumentStore
	limit int

	mu    sync.RWMutex
	model generate.Model

	// Models such as *generate.Session are single-threaded.
	predict sync.Mutex
}

// New returns a Client backed by store. No model is loaded yet.
func New(store DocumentStore, opts ...Option) *Client {
	c := &Client{
		store: store,
		limit: retrieval.DefaultSearchLimit,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load makes model answer subsequent questions, replacing any previous one.
func (c *Client) Load(model generate.Model) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.model = model
}

// Add stores document.
func (c *Client) Add(ctx context.Context, document string) error {
	_, err := c.store.AddDocument(ctx, document)
	return err
}

// Delete removes document.
func (c *Client) Delete(ctx context.Context, document string) error {
	return c.store.Delete(ctx, document)
}

// Clean removes every document.
func (c *Client) Clean(ctx context.Context) error {
	return c.store.Clear(ctx)
}

// Prompt builds the prompt for question from the documents scoring at
// least threshold.
func (c *Client) Prompt(ctx context.Context, question string, threshold float64) (string, error) {
	results, err := c.store.Search(ctx, question, threshold, c.limit)
	if err != nil {
		return "", fmt.Errorf("search documents: %w", err)
	}

	snippets := make([]string, len(results))
	for i, r := range results {
		snippets[i] = r.Text
	}

	klog.V(2).InfoS("Built prompt", "snippets", len(snippets), "threshold", threshold)
	return prompt.Build(question, snippets), nil
}

// Ask answers question with the loaded model.
func (c *Client) Ask(ctx context.Context, question string, threshold float64) (generate.Prediction, error) {
	c.mu.RLock()
	model := c.model
	c.mu.RUnlock()
	if model == nil {
		return generate.Prediction{}, ErrModelNotLoaded
	}

	p, err := c.Prompt(ctx, question, threshold)
	if err != nil {
		return generate.Prediction{}, err
	}

	c.predict.Lock()
	defer c.predict.Unlock()
	return model.Predict(ctx, p)
}
