// Package embedder defines the text-to-vector contract used by the tool
// registry and long-term memory.
package embedder

import (
	"context"
	"errors"
	"strings"

	"github.com/becomeliminal/nim-graph/core"
)

// Embedder converts text to vector embeddings.
// Implementations: mock (tests), openai (hosted), cached (decorator).
type Embedder interface {
	// Embed converts a single text to an embedding vector. Failures are
	// reported as core.ErrEmbeddingUnavailable.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}

// Unavailable wraps err as an embedding failure for the given text.
func Unavailable(op, text string, err error) error {
	return core.NewError(core.ErrEmbeddingUnavailable, op, preview(text, 40), err)
}

// Vector embeds text with e, classifying any failure that is not already an
// embedding error.
func Vector(ctx context.Context, e Embedder, op, text string) ([]float32, error) {
	vec, err := e.Embed(ctx, text)
	if err != nil {
		if errors.Is(err, core.ErrEmbeddingUnavailable) {
			return nil, err
		}
		return nil, Unavailable(op, text, err)
	}
	return vec, nil
}

func preview(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
