package mock

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float32 {
	var dot float32
	for i := range a {
		dot += a[i] * b[i]
	}
	return dot
}

func TestEmbedIsDeterministicAndNormalized(t *testing.T) {
	e := NewWithDimensions(64)
	a, err := e.Embed(context.Background(), "Reset my password")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "reset MY password!")
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.Equal(t, a, b)
	assert.InDelta(t, 1.0, cosine(a, a), 1e-5)
}

func TestEmbedSharedWordsAreCloser(t *testing.T) {
	e := New()
	ctx := context.Background()
	q, _ := e.Embed(ctx, "search the faq collection")
	near, _ := e.Embed(ctx, "Search faq documents in vector DB")
	far, _ := e.Embed(ctx, "weather forecast tomorrow")

	assert.Greater(t, cosine(q, near), cosine(q, far))
}

func TestEmbedEmptyText(t *testing.T) {
	v, err := New().Embed(context.Background(), "")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, cosine(v, v), 1e-5)
}

func TestEmbedError(t *testing.T) {
	e := New()
	e.Err = errors.New("offline")
	_, err := e.Embed(context.Background(), "x")
	require.Error(t, err)
}
