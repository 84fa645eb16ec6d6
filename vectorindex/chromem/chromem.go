// Package chromem implements vectorindex.Index on chromem-go, a pure Go
// embedded vector database.
package chromem

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/becomeliminal/nim-graph/logger"
	"github.com/becomeliminal/nim-graph/vectorindex"
)

type Index struct {
	db          *chromem.DB
	collections map[string]*chromem.Collection
	mu          sync.RWMutex
	log         *logger.Logger
}

var _ vectorindex.Index = (*Index)(nil)

// New creates an in-memory index. When path is non-empty the database is
// persisted below it and reloaded on start.
func New(path string, log *logger.Logger) (*Index, error) {
	db := chromem.NewDB()
	if path != "" {
		var err error
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("open chromem db at %s: %w", path, err)
		}
	}
	return &Index{
		db:          db,
		collections: make(map[string]*chromem.Collection),
		log:         logger.OrNop(log).With("component", "vectorindex.chromem"),
	}, nil
}

// collection returns the named collection, creating it on first use.
func (s *Index) collection(name string) (*chromem.Collection, error) {
	s.mu.RLock()
	col, exists := s.collections[name]
	s.mu.RUnlock()
	if exists {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock
	if col, exists := s.collections[name]; exists {
		return col, nil
	}

	// Embeddings are always supplied by the caller, so no embedding func.
	col, err := s.db.GetOrCreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection %s: %w", name, err)
	}
	s.collections[name] = col
	return col, nil
}

// EnsureCollection creates the collection. chromem infers dimensions from the
// first document, so dims is unused.
func (s *Index) EnsureCollection(_ context.Context, collection string, _ int) error {
	_, err := s.collection(collection)
	return err
}

func (s *Index) Upsert(ctx context.Context, collection, id string, vector []float32, payload vectorindex.Payload) error {
	col, err := s.collection(collection)
	if err != nil {
		return err
	}

	doc := chromem.Document{
		ID:        id,
		Content:   payload[vectorindex.TextKey],
		Embedding: append([]float32(nil), vector...),
		Metadata:  payload.Clone(),
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document %s to %s: %w", id, collection, err)
	}
	s.log.Debug("upserted vector", "collection", collection, "id", id)
	return nil
}

func (s *Index) Search(ctx context.Context, collection string, vector []float32, k int, filter vectorindex.Payload) ([]vectorindex.Match, error) {
	if k <= 0 {
		return nil, nil
	}
	col, err := s.collection(collection)
	if err != nil {
		return nil, err
	}

	// chromem-go requires nResults <= collection size. Documents are never
	// removed, so the count only grows between here and the query.
	n := min(k, col.Count())
	if n == 0 {
		return nil, nil
	}

	var where map[string]string
	if len(filter) > 0 {
		where = filter
	}
	results, err := col.QueryEmbedding(ctx, vector, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query %s: %w", collection, err)
	}

	matches := make([]vectorindex.Match, 0, len(results))
	for _, r := range results {
		matches = append(matches, vectorindex.Match{
			ID:      r.ID,
			Payload: vectorindex.Payload(r.Metadata).Clone(),
			Score:   r.Similarity,
		})
	}
	s.log.Debug("searched vectors", "collection", collection, "k", k, "hits", len(matches))
	return matches, nil
}

// Close is a no-op: persistent databases write through on every upsert.
func (s *Index) Close() error {
	return nil
}
