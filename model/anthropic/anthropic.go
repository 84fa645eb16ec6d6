// Package anthropic provides a model.Provider backed by the Anthropic
// Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/becomeliminal/nim-graph/core"
	"github.com/becomeliminal/nim-graph/model"
)

const (
	DefaultModel     = "claude-sonnet-4-20250514"
	DefaultMaxTokens = 4096
)

// MessagesClient captures the subset of the SDK used by the provider. It is
// satisfied by *sdk.MessageService.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

type Options struct {
	Model       string
	MaxTokens   int64
	Temperature float64
}

type Provider struct {
	msg         MessagesClient
	model       string
	maxTokens   int64
	temperature float64
}

func New(msg MessagesClient, opts Options) (*Provider, error) {
	if msg == nil {
		return nil, errors.New("anthropic client is required")
	}
	p := &Provider{
		msg:         msg,
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
	}
	if p.model == "" {
		p.model = DefaultModel
	}
	if p.maxTokens <= 0 {
		p.maxTokens = DefaultMaxTokens
	}
	return p, nil
}

// NewFromAPIKey constructs a provider using the default Anthropic HTTP client.
func NewFromAPIKey(apiKey string, opts Options) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&client.Messages, opts)
}

func (p *Provider) Invoke(ctx context.Context, req *model.Request) (*core.Message, error) {
	messages := encodeMessages(req.Messages)
	if len(messages) == 0 {
		return nil, errors.New("anthropic: messages are required")
	}
	tools, err := encodeTools(req.Tools)
	if err != nil {
		return nil, err
	}
	params := sdk.MessageNewParams{
		Model:       sdk.Model(p.model),
		MaxTokens:   p.maxTokens,
		Messages:    messages,
		Temperature: sdk.Float(p.temperature),
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if len(tools) > 0 {
		params.Tools = tools
	}

	resp, err := p.msg.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages: %w", err)
	}
	return decodeResponse(resp), nil
}

// encodeMessages converts the history. Consecutive tool messages are grouped
// into a single user turn of tool_result blocks, which is what the API
// expects after an assistant turn with several tool_use blocks.
func encodeMessages(msgs []core.Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(msgs))
	var results []sdk.ContentBlockParamUnion
	flush := func() {
		if len(results) > 0 {
			out = append(out, sdk.NewUserMessage(results...))
			results = nil
		}
	}
	for _, m := range msgs {
		switch m.Role {
		case core.RoleTool:
			results = append(results, sdk.NewToolResultBlock(m.ToolCallID, m.Content, m.IsError))
		case core.RoleUser:
			flush()
			out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case core.RoleAssistant:
			flush()
			blocks := make([]sdk.ContentBlockParamUnion, 0, 1+len(m.ToolCalls))
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, call := range m.ToolCalls {
				blocks = append(blocks, sdk.NewToolUseBlock(call.ID, toolInput(call.Arguments), call.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, sdk.NewAssistantMessage(blocks...))
		}
	}
	flush()
	return out
}

func toolInput(args json.RawMessage) any {
	if len(args) == 0 {
		return map[string]any{}
	}
	return args
}

func encodeTools(specs []core.ToolSpec) ([]sdk.ToolUnionParam, error) {
	tools := make([]sdk.ToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		schema, err := inputSchema(spec.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("anthropic: tool %q schema: %w", spec.Name, err)
		}
		u := sdk.ToolUnionParamOfTool(schema, spec.Name)
		if u.OfTool != nil && spec.Description != "" {
			u.OfTool.Description = sdk.String(spec.Description)
		}
		tools = append(tools, u)
	}
	return tools, nil
}

func inputSchema(schema map[string]any) (sdk.ToolInputSchemaParam, error) {
	var param sdk.ToolInputSchemaParam
	if schema == nil {
		return param, nil
	}
	param.Properties = schema["properties"]
	switch req := schema["required"].(type) {
	case nil:
	case []string:
		param.Required = req
	case []any:
		for _, r := range req {
			s, ok := r.(string)
			if !ok {
				return param, fmt.Errorf("required entry %v is not a string", r)
			}
			param.Required = append(param.Required, s)
		}
	default:
		return param, fmt.Errorf("required has type %T", req)
	}
	return param, nil
}

func decodeResponse(resp *sdk.Message) *core.Message {
	var text strings.Builder
	var calls []core.ToolCall
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			calls = append(calls, core.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: append(json.RawMessage(nil), block.Input...),
			})
		}
	}
	msg := core.NewAssistantMessage(text.String(), calls...)
	return &msg
}
