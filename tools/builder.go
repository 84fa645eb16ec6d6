package tools

import (
	"context"
	"errors"

	"github.com/becomeliminal/nim-graph/core"
)

// Handler runs a tool call and returns the text handed back to the model.
type Handler func(ctx context.Context, params *core.ToolParams) (string, error)

// Builder assembles a core.Tool.
//
//	tool := tools.New("faq_search").
//		Description("Search faq documents in vector DB").
//		Schema(tools.ObjectSchema(props, "query")).
//		Handler(fn).
//		Build()
type Builder struct {
	name        string
	description string
	schema      map[string]any
	handler     Handler
}

func New(name string) *Builder {
	return &Builder{name: name}
}

func (b *Builder) Description(description string) *Builder {
	b.description = description
	return b
}

func (b *Builder) Schema(schema map[string]any) *Builder {
	b.schema = schema
	return b
}

func (b *Builder) Handler(h Handler) *Builder {
	b.handler = h
	return b
}

func (b *Builder) Build() core.Tool {
	schema := b.schema
	if schema == nil {
		schema = ObjectSchema(map[string]any{})
	}
	return &builtTool{
		name:        b.name,
		description: b.description,
		schema:      schema,
		handler:     b.handler,
	}
}

type builtTool struct {
	name        string
	description string
	schema      map[string]any
	handler     Handler
}

func (t *builtTool) Name() string                { return t.name }
func (t *builtTool) Description() string         { return t.description }
func (t *builtTool) InputSchema() map[string]any { return t.schema }

func (t *builtTool) Execute(ctx context.Context, params *core.ToolParams) (string, error) {
	if t.handler == nil {
		return "", errors.New("tool has no handler")
	}
	return t.handler(ctx, params)
}
