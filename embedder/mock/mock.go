package mock

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// MockEmbedder is a deterministic embedder for tests.
// Each token is hashed into a bucket, so texts sharing words have a positive
// cosine similarity and unrelated texts are close to orthogonal.
type MockEmbedder struct {
	dimensions int
	// Err, when set, is returned by every Embed call.
	Err error
}

// New creates a mock embedder with 384 dimensions.
func New() *MockEmbedder {
	return NewWithDimensions(384)
}

// NewWithDimensions creates a mock embedder of the given size.
func NewWithDimensions(dims int) *MockEmbedder {
	if dims <= 0 {
		dims = 384
	}
	return &MockEmbedder{dimensions: dims}
}

// Embed creates a bag-of-words embedding from text.
func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	embedding := make([]float32, m.dimensions)
	for _, tok := range tokens(text) {
		h := fnv.New64a()
		h.Write([]byte(tok))
		sum := h.Sum64()
		embedding[sum%uint64(m.dimensions)] += 1
	}
	if allZero(embedding) {
		// Empty text still needs a valid direction for cosine distance.
		embedding[0] = 1
	}
	return normalize(embedding), nil
}

// Dimensions returns the embedding size.
func (m *MockEmbedder) Dimensions() int {
	return m.dimensions
}

func tokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func allZero(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}

// normalize converts embedding to unit vector.
func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = float32(math.Sqrt(float64(norm)))
	normalized := make([]float32, len(vec))
	for i, v := range vec {
		normalized[i] = v / norm
	}
	return normalized
}
