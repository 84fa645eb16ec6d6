package openai

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-graph/core"
)

type stubClient struct {
	req  openai.EmbeddingRequest
	resp openai.EmbeddingResponse
	err  error
}

func (s *stubClient) CreateEmbeddings(_ context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error) {
	s.req = conv.Convert()
	return s.resp, s.err
}

func TestEmbedSendsModelAndDimensions(t *testing.T) {
	stub := &stubClient{resp: openai.EmbeddingResponse{Data: []openai.Embedding{{Embedding: []float32{0.1, 0.2, 0.3}}}}}
	e, err := New(Options{Client: stub, Dimensions: 3})
	require.NoError(t, err)

	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, openai.SmallEmbedding3, stub.req.Model)
	assert.Equal(t, 3, stub.req.Dimensions)
	assert.Equal(t, []string{"hello"}, stub.req.Input)
	assert.Equal(t, 3, e.Dimensions())
}

func TestEmbedFailuresAreUnavailable(t *testing.T) {
	stub := &stubClient{err: errors.New("429")}
	e, err := New(Options{Client: stub, Dimensions: 3})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "hello")
	require.ErrorIs(t, err, core.ErrEmbeddingUnavailable)

	stub.err = nil
	stub.resp = openai.EmbeddingResponse{Data: []openai.Embedding{{Embedding: []float32{1}}}}
	_, err = e.Embed(context.Background(), "hello")
	require.ErrorIs(t, err, core.ErrEmbeddingUnavailable)
}

func TestNewRequiresClient(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
	_, err = NewFromAPIKey("", "", 0)
	require.Error(t, err)
}
