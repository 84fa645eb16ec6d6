package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/becomeliminal/nim-graph/core"
	"github.com/becomeliminal/nim-graph/embedder"
	"github.com/becomeliminal/nim-graph/vectorindex"
)

const (
	defaultSearchK = 5
	maxSearchK     = 10
)

// SearchResult is one hit returned by a collection search tool.
type SearchResult struct {
	Content string  `json:"content"`
	Score   float32 `json:"score"`
}

type searchInput struct {
	Query string `json:"query"`
	K     *int   `json:"k,omitempty"`
}

// CollectionSearchTool builds the "<collection>_search" tool, which runs a
// similarity search over one document collection and returns the hits as a
// JSON array of {content, score}.
func CollectionSearchTool(collection string, index vectorindex.Index, emb embedder.Embedder) core.Tool {
	return New(collection+"_search").
		Description(fmt.Sprintf("Search %s documents in vector DB", collection)).
		Schema(ObjectSchema(map[string]any{
			"query": StringProperty("Search query"),
			"k":     WithDefault(IntegerProperty(fmt.Sprintf("Number of results (default %d)", defaultSearchK)), defaultSearchK),
		}, "query")).
		Handler(func(ctx context.Context, params *core.ToolParams) (string, error) {
			var in searchInput
			if err := json.Unmarshal(params.Input, &in); err != nil {
				return "", fmt.Errorf("decode input: %w", err)
			}
			k := defaultSearchK
			if in.K != nil {
				k = max(1, min(*in.K, maxSearchK))
			}

			vec, err := embedder.Vector(ctx, emb, collection+"_search", in.Query)
			if err != nil {
				return "", err
			}
			matches, err := index.Search(ctx, collection, vec, k, nil)
			if err != nil {
				return "", fmt.Errorf("search %s: %w", collection, err)
			}

			results := make([]SearchResult, 0, len(matches))
			for _, m := range matches {
				results = append(results, SearchResult{Content: m.Payload[vectorindex.TextKey], Score: m.Score})
			}
			out, err := json.Marshal(results)
			if err != nil {
				return "", fmt.Errorf("encode results: %w", err)
			}
			return string(out), nil
		}).
		Build()
}

// CollectionSearchTools builds one search tool per collection and makes sure
// each collection exists in the index.
func CollectionSearchTools(ctx context.Context, collections []string, index vectorindex.Index, emb embedder.Embedder) ([]core.Tool, error) {
	out := make([]core.Tool, 0, len(collections))
	for _, c := range collections {
		if err := index.EnsureCollection(ctx, c, emb.Dimensions()); err != nil {
			return nil, fmt.Errorf("prepare collection %s: %w", c, err)
		}
		out = append(out, CollectionSearchTool(c, index, emb))
	}
	return out, nil
}
