package tools_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-graph/core"
	"github.com/becomeliminal/nim-graph/embedder/mock"
	"github.com/becomeliminal/nim-graph/tools"
	"github.com/becomeliminal/nim-graph/vectorindex"
	"github.com/becomeliminal/nim-graph/vectorindex/chromem"
)

func newIndex(t *testing.T) vectorindex.Index {
	t.Helper()
	idx, err := chromem.New("", nil)
	require.NoError(t, err)
	return idx
}

func echoTool(name, description string) core.Tool {
	return tools.New(name).
		Description(description).
		Schema(tools.ObjectSchema(map[string]any{
			"text": tools.StringProperty("Text to echo"),
		}, "text")).
		Handler(func(_ context.Context, p *core.ToolParams) (string, error) {
			var in struct{ Text string }
			if err := json.Unmarshal(p.Input, &in); err != nil {
				return "", err
			}
			return in.Text, nil
		}).
		Build()
}

func TestRegisterAndSelect(t *testing.T) {
	ctx := context.Background()
	reg := tools.NewRegistry(newIndex(t), mock.NewWithDimensions(128))

	require.NoError(t, reg.Register(ctx, echoTool("weather", "Get the weather forecast for a city")))
	require.NoError(t, reg.Register(ctx, echoTool("faq_search", "Search faq documents in vector DB")))
	require.NoError(t, reg.Register(ctx, echoTool("calendar", "List calendar events for today")))

	names, err := reg.Select(ctx, "what is the weather forecast", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"weather"}, names)

	names, err = reg.Select(ctx, "search the faq", 5)
	require.NoError(t, err)
	require.Len(t, names, 3)
	assert.Equal(t, "faq_search", names[0])
}

func TestSelectClampsK(t *testing.T) {
	ctx := context.Background()
	reg := tools.NewRegistry(newIndex(t), mock.NewWithDimensions(64))
	for i := 0; i < 12; i++ {
		require.NoError(t, reg.Register(ctx, echoTool(fmt.Sprintf("tool_%d", i), fmt.Sprintf("tool number %d", i))))
	}

	names, err := reg.Select(ctx, "tool", 50)
	require.NoError(t, err)
	assert.Len(t, names, tools.DefaultMaxSelect)

	names, err = reg.Select(ctx, "tool", 0)
	require.NoError(t, err)
	assert.Len(t, names, 1)
}

func TestSelectEmptyRegistry(t *testing.T) {
	reg := tools.NewRegistry(newIndex(t), mock.New())
	names, err := reg.Select(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestSelectSkipsUnregisteredIndexEntries(t *testing.T) {
	ctx := context.Background()
	idx := newIndex(t)
	emb := mock.NewWithDimensions(64)

	vec, _ := emb.Embed(ctx, "legacy weather tool")
	require.NoError(t, idx.Upsert(ctx, tools.DefaultCollection, "old", vec, vectorindex.Payload{"name": "legacy_weather", "text": "legacy weather tool"}))

	reg := tools.NewRegistry(idx, emb)
	require.NoError(t, reg.Register(ctx, echoTool("weather", "weather tool")))

	names, err := reg.Select(ctx, "legacy weather tool", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"weather"}, names)
}

func TestSelectEmbeddingFailure(t *testing.T) {
	ctx := context.Background()
	emb := mock.NewWithDimensions(16)
	reg := tools.NewRegistry(newIndex(t), emb)
	require.NoError(t, reg.Register(ctx, echoTool("a", "alpha")))

	emb.Err = errors.New("offline")
	_, err := reg.Select(ctx, "alpha", 3)
	require.ErrorIs(t, err, core.ErrEmbeddingUnavailable)
}

func TestRegisterDuplicate(t *testing.T) {
	ctx := context.Background()
	reg := tools.NewRegistry(newIndex(t), mock.New())
	require.NoError(t, reg.Register(ctx, echoTool("a", "alpha")))

	err := reg.Register(ctx, echoTool("a", "other"))
	require.ErrorIs(t, err, core.ErrDuplicateTool)
}

func TestRegisterAfterFreeze(t *testing.T) {
	reg := tools.NewRegistry(newIndex(t), mock.New())
	reg.Freeze()
	assert.True(t, reg.Frozen())

	err := reg.Register(context.Background(), echoTool("a", "alpha"))
	require.ErrorIs(t, err, core.ErrRegistryFrozen)
}

func TestRegisterReusesIndexedEntry(t *testing.T) {
	ctx := context.Background()
	idx := newIndex(t)
	emb := mock.NewWithDimensions(64)

	require.NoError(t, tools.NewRegistry(idx, emb).Register(ctx, echoTool("faq_search", "Search faq documents")))
	// A restarted process registers the same tool against the same index.
	require.NoError(t, tools.NewRegistry(idx, emb).Register(ctx, echoTool("faq_search", "Search faq documents")))

	vec, _ := emb.Embed(ctx, "Search faq documents")
	matches, err := idx.Search(ctx, tools.DefaultCollection, vec, 10, vectorindex.Payload{"name": "faq_search"})
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestRegisterRejectsInvalidSchema(t *testing.T) {
	tool := tools.New("bad").
		Description("bad schema").
		Schema(map[string]any{"type": 12}).
		Handler(func(context.Context, *core.ToolParams) (string, error) { return "", nil }).
		Build()

	err := tools.NewRegistry(newIndex(t), mock.New()).Register(context.Background(), tool)
	require.Error(t, err)
}

func TestExecuteValidatesTypedArguments(t *testing.T) {
	ctx := context.Background()
	reg := tools.NewRegistry(newIndex(t), mock.New())
	tool := tools.New("search_docs").
		Description("Search documents with filters").
		Schema(tools.ObjectSchema(map[string]any{
			"query":     tools.StringProperty("Search text"),
			"sort":      tools.StringEnumProperty("Result order", "relevance", "recent"),
			"min_score": tools.NumberProperty("Lowest score to keep"),
			"exact":     tools.BooleanProperty("Match the phrase exactly"),
			"tags":      tools.ArrayProperty("Tags to filter by", tools.StringProperty("")),
		}, "query")).
		Handler(func(context.Context, *core.ToolParams) (string, error) { return "ok", nil }).
		Build()
	require.NoError(t, reg.Register(ctx, tool))

	out, err := reg.Execute(ctx, "search_docs", &core.ToolParams{Input: json.RawMessage(
		`{"query":"refunds","sort":"recent","min_score":0.5,"exact":true,"tags":["billing"]}`)})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)

	for _, input := range []string{
		`{"query":"refunds","sort":"oldest"}`,
		`{"query":"refunds","min_score":"high"}`,
		`{"query":"refunds","exact":"yes"}`,
		`{"query":"refunds","tags":[1,2]}`,
		`{"query":"refunds","tags":"billing"}`,
	} {
		_, err := reg.Execute(ctx, "search_docs", &core.ToolParams{Input: json.RawMessage(input)})
		require.ErrorIs(t, err, core.ErrToolExecution, input)
	}
}

func TestResolveAndSpecs(t *testing.T) {
	ctx := context.Background()
	reg := tools.NewRegistry(newIndex(t), mock.New())
	require.NoError(t, reg.Register(ctx, echoTool("a", "alpha")))
	require.NoError(t, reg.Register(ctx, echoTool("b", "beta")))

	tool, err := reg.Resolve("a")
	require.NoError(t, err)
	assert.Equal(t, "alpha", tool.Description())

	_, err = reg.Resolve("zzz")
	require.ErrorIs(t, err, core.ErrUnknownTool)

	specs, err := reg.Specs([]string{"b", "a"})
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, "b", specs[0].Name)
	assert.Equal(t, "object", specs[0].InputSchema["type"])

	_, err = reg.Specs([]string{"a", "zzz"})
	require.ErrorIs(t, err, core.ErrUnknownTool)

	assert.Equal(t, []string{"a", "b"}, reg.Names())
}

func TestExecute(t *testing.T) {
	ctx := context.Background()
	reg := tools.NewRegistry(newIndex(t), mock.New())
	require.NoError(t, reg.Register(ctx, echoTool("echo", "echo text")))
	require.NoError(t, reg.Register(ctx, tools.New("fail").Description("always fails").
		Handler(func(context.Context, *core.ToolParams) (string, error) { return "", errors.New("nope") }).Build()))
	require.NoError(t, reg.Register(ctx, tools.New("boom").Description("panics").
		Handler(func(context.Context, *core.ToolParams) (string, error) { panic("boom") }).Build()))

	out, err := reg.Execute(ctx, "echo", &core.ToolParams{Input: json.RawMessage(`{"text":"hi"}`)})
	require.NoError(t, err)
	assert.Equal(t, "hi", out)

	_, err = reg.Execute(ctx, "echo", &core.ToolParams{Input: json.RawMessage(`{"text":3}`)})
	require.ErrorIs(t, err, core.ErrToolExecution)

	_, err = reg.Execute(ctx, "echo", &core.ToolParams{})
	require.ErrorIs(t, err, core.ErrToolExecution)

	_, err = reg.Execute(ctx, "fail", &core.ToolParams{})
	require.ErrorIs(t, err, core.ErrToolExecution)
	assert.Contains(t, err.Error(), "nope")

	_, err = reg.Execute(ctx, "boom", &core.ToolParams{})
	require.ErrorIs(t, err, core.ErrToolExecution)

	_, err = reg.Execute(ctx, "missing", &core.ToolParams{})
	require.ErrorIs(t, err, core.ErrUnknownTool)
}
