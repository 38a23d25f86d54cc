package retrieval

import (
	"cmp"
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/born-ml/pocketrag/internal/parallel"
	"github.com/google/uuid"
	"k8s.io/klog/v2"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

const schema = `
CREATE TABLE IF NOT EXISTS documents(
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	text TEXT NOT NULL,
	embedding BLOB NOT NULL,
	magnitude REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS documents_text ON documents(text);
`

// Store is a SQLite-backed document store.
//
// Reads run concurrently; writes are serialized. Search scores documents in
// parallel.
type Store struct {
	mu       sync.RWMutex
	db       *sql.DB
	embedder Embedder
	parallel parallel.Config
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithParallel sets how Search spreads scoring across goroutines.
func WithParallel(cfg parallel.Config) StoreOption {
	return func(s *Store) {
		s.parallel = cfg
	}
}

// Open opens (or creates) the store at path. Use MemoryPath for a store that
// lives as long as the returned value.
func Open(ctx context.Context, path string, embedder Embedder, opts ...StoreOption) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open document store: %w", err)
	}
	// One connection: an in-memory database is per connection, and writes
	// are single-writer anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create document schema: %w", err)
	}

	s := &Store{
		db:       db,
		embedder: embedder,
		parallel: parallel.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}

	klog.V(2).InfoS("Opened document store", "path", path, "dimensions", embedder.Dimensions())
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// AddDocument embeds text and stores it under a new random ID.
func (s *Store) AddDocument(ctx context.Context, text string) (uuid.UUID, error) {
	id := uuid.New()
	if err := s.AddDocumentWithID(ctx, id, text); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// AddDocumentWithID embeds text and stores it under id. The store is left
// unchanged if the embedding fails or id is taken.
func (s *Store) AddDocumentWithID(ctx context.Context, id uuid.UUID, text string) error {
	embedding, err := s.embedder.Embed(text)
	if err != nil {
		return err
	}
	doc := NewDocument(id, text, embedding)

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents(id, text, embedding, magnitude) VALUES(?, ?, ?, ?)`,
		doc.ID.String(), doc.Text, encodeEmbedding(doc.Embedding), doc.Magnitude)
	if err != nil {
		return fmt.Errorf("insert document %s: %w", id, err)
	}

	klog.V(2).InfoS("Added document", "id", id, "length", len(text))
	return nil
}

// Delete removes the oldest document whose text equals text.
func (s *Store) Delete(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE seq = (SELECT seq FROM documents WHERE text = ? ORDER BY seq LIMIT 1)`,
		text)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, text)
	}

	klog.V(2).InfoS("Deleted document", "length", len(text))
	return nil
}

// Clear removes every document.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents`); err != nil {
		return fmt.Errorf("clear documents: %w", err)
	}
	klog.V(2).InfoS("Cleared document store")
	return nil
}

// Count returns the number of stored documents.
func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

// Documents returns every stored document in insertion order.
func (s *Store) Documents(ctx context.Context) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load(ctx)
}

// Search ranks the stored documents against query. Results score at least
// threshold, are sorted by score descending with ties in insertion order,
// and number at most limit (DefaultSearchLimit if limit <= 0).
func (s *Store) Search(ctx context.Context, query string, threshold float64, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	q, err := s.embedder.Embed(query)
	if err != nil {
		return nil, err
	}
	qMag := Magnitude(q)

	s.mu.RLock()
	docs, err := s.load(ctx)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	scores := make([]float64, len(docs))
	err = parallel.ForContext(ctx, len(docs), func(i int) {
		scores[i] = CosineSimilarity(q, docs[i].Embedding, qMag, docs[i].Magnitude)
	}, s.parallel)
	if err != nil {
		return nil, err
	}

	var results []SearchResult
	for i, doc := range docs {
		if scores[i] >= threshold {
			results = append(results, SearchResult{ID: doc.ID, Text: doc.Text, Score: scores[i]})
		}
	}

	slices.SortStableFunc(results, func(a, b SearchResult) int {
		return cmp.Compare(b.Score, a.Score)
	})
	if len(results) > limit {
		results = results[:limit]
	}

	klog.V(4).InfoS("Searched documents", "candidates", len(docs), "results", len(results), "threshold", threshold)
	return results, nil
}

// load reads every document. The caller holds s.mu.
func (s *Store) load(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, text, embedding, magnitude FROM documents ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			id   string
			doc  Document
			blob []byte
		)
		if err := rows.Scan(&id, &doc.Text, &blob, &doc.Magnitude); err != nil {
			return nil, fmt.Errorf("load documents: %w", err)
		}
		if doc.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("load documents: bad id %q: %w", id, err)
		}
		if doc.Embedding, err = decodeEmbedding(blob); err != nil {
			return nil, fmt.Errorf("load document %s: %w", id, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	return docs, nil
}

var errBadEmbedding = errors.New("embedding blob is not a float64 array")

// encodeEmbedding packs v as little-endian float64s.
func encodeEmbedding(v []float64) []byte {
	buf := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(x))
	}
	return buf
}

func decodeEmbedding(buf []byte) ([]float64, error) {
	if len(buf)%8 != 0 {
		return nil, errBadEmbedding
	}
	v := make([]float64, len(buf)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
	}
	return v, nil
}
