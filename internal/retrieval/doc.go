// Package retrieval stores documents with their embeddings and ranks them
// against a query by cosine similarity.
//
// Documents live in a SQLite database (pure Go driver, ":memory:" allowed).
// Embeddings come from an Embedder; HashingEmbedder needs no model assets.
package retrieval
