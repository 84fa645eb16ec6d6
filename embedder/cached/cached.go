// Package cached memoizes embeddings in a ristretto cache. Tool descriptions
// and repeated queries are embedded once per process.
package cached

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"

	"github.com/becomeliminal/nim-graph/embedder"
)

type Embedder struct {
	inner embedder.Embedder
	cache *ristretto.Cache
}

var _ embedder.Embedder = (*Embedder)(nil)

// New wraps inner with a cache holding up to maxEntries vectors.
func New(inner embedder.Embedder, maxEntries int64) (*Embedder, error) {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &Embedder{inner: inner, cache: cache}, nil
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := e.cache.Get(text); ok {
		return copyVec(v.([]float32)), nil
	}
	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Set(text, copyVec(vec), 1)
	return vec, nil
}

func (e *Embedder) Dimensions() int {
	return e.inner.Dimensions()
}

// Wait blocks until pending cache writes are visible.
func (e *Embedder) Wait() {
	e.cache.Wait()
}

func (e *Embedder) Close() {
	e.cache.Close()
}

func copyVec(v []float32) []float32 {
	return append([]float32(nil), v...)
}
