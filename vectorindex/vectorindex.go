// Package vectorindex defines the similarity-search contract shared by the
// tool registry, long-term memory and the collection search tools.
package vectorindex

import (
	"context"
)

// Payload is the string metadata stored next to a vector. The "text" key holds
// the document body by convention.
type Payload map[string]string

// TextKey is the payload key holding the document body.
const TextKey = "text"

// Match is a single search hit.
type Match struct {
	ID      string
	Payload Payload
	// Score is the cosine similarity to the query, higher is closer.
	Score float32
}

// Index is a vector store organised in named collections.
//
// Implementations: chromem (embedded), qdrant (remote).
type Index interface {
	// EnsureCollection creates the collection when it does not exist yet.
	EnsureCollection(ctx context.Context, collection string, dims int) error

	// Upsert stores vector under id, replacing any previous entry.
	Upsert(ctx context.Context, collection, id string, vector []float32, payload Payload) error

	// Search returns at most k matches ordered by descending score. Only
	// entries whose payload contains every filter pair are considered. An
	// empty or missing collection yields no matches.
	Search(ctx context.Context, collection string, vector []float32, k int, filter Payload) ([]Match, error)

	Close() error
}

// Clone copies p so callers can hand it to a store without sharing the map.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
