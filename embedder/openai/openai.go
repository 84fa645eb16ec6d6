// Package openai provides an embedder.Embedder backed by the OpenAI
// embeddings API.
package openai

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/becomeliminal/nim-graph/embedder"
)

// EmbeddingClient captures the subset of the go-openai client used here.
type EmbeddingClient interface {
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// Options configures the embedder.
type Options struct {
	Client EmbeddingClient
	// Model defaults to text-embedding-3-small.
	Model string
	// Dimensions defaults to 1536.
	Dimensions int
}

type Embedder struct {
	client EmbeddingClient
	model  openai.EmbeddingModel
	dims   int
}

// New builds an embedder from the provided options.
func New(opts Options) (*Embedder, error) {
	if opts.Client == nil {
		return nil, errors.New("openai client is required")
	}
	model := openai.SmallEmbedding3
	if opts.Model != "" {
		model = openai.EmbeddingModel(opts.Model)
	}
	dims := opts.Dimensions
	if dims <= 0 {
		dims = 1536
	}
	return &Embedder{client: opts.Client, model: model, dims: dims}, nil
}

// NewFromAPIKey constructs an embedder using the default go-openai HTTP client.
func NewFromAPIKey(apiKey, model string, dims int) (*Embedder, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	return New(Options{Client: openai.NewClient(apiKey), Model: model, Dimensions: dims})
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	req := openai.EmbeddingRequest{
		Input: []string{text},
		Model: e.model,
	}
	// Only the v3 models accept a reduced size.
	if e.model == openai.SmallEmbedding3 || e.model == openai.LargeEmbedding3 {
		req.Dimensions = e.dims
	}
	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, embedder.Unavailable("openai.embed", text, err)
	}
	if len(resp.Data) == 0 {
		return nil, embedder.Unavailable("openai.embed", text, errors.New("empty response"))
	}
	vec := resp.Data[0].Embedding
	if len(vec) != e.dims {
		return nil, embedder.Unavailable("openai.embed", text,
			fmt.Errorf("got %d dimensions, want %d", len(vec), e.dims))
	}
	return vec, nil
}

func (e *Embedder) Dimensions() int {
	return e.dims
}
