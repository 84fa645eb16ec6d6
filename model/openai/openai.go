// Package openai provides a model.Provider backed by the OpenAI Chat
// Completions API.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/becomeliminal/nim-graph/core"
	"github.com/becomeliminal/nim-graph/model"
)

const DefaultModel = openai.GPT4o

// ChatClient captures the subset of the go-openai client used by the provider.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type Options struct {
	Model       string
	MaxTokens   int
	Temperature float32
}

type Provider struct {
	chat        ChatClient
	model       string
	maxTokens   int
	temperature float32
}

func New(chat ChatClient, opts Options) (*Provider, error) {
	if chat == nil {
		return nil, errors.New("openai client is required")
	}
	p := &Provider{chat: chat, model: opts.Model, maxTokens: opts.MaxTokens, temperature: opts.Temperature}
	if p.model == "" {
		p.model = DefaultModel
	}
	return p, nil
}

// NewFromAPIKey constructs a provider using the default go-openai HTTP client.
func NewFromAPIKey(apiKey string, opts Options) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	return New(openai.NewClient(apiKey), opts)
}

func (p *Provider) Invoke(ctx context.Context, req *model.Request) (*core.Message, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("openai: messages are required")
	}
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		switch m.Role {
		case core.RoleUser:
			messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Content})
		case core.RoleAssistant:
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Content}
			for _, call := range m.ToolCalls {
				args := string(call.Arguments)
				if args == "" {
					args = "{}"
				}
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:       call.ID,
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: call.Name, Arguments: args},
				})
			}
			messages = append(messages, msg)
		case core.RoleTool:
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
			})
		}
	}
	tools, err := encodeTools(req.Tools)
	if err != nil {
		return nil, err
	}

	resp, err := p.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    messages,
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
		Tools:       tools,
	})
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai chat completion: no choices returned")
	}
	choice := resp.Choices[0].Message
	calls := make([]core.ToolCall, 0, len(choice.ToolCalls))
	for _, c := range choice.ToolCalls {
		calls = append(calls, core.ToolCall{ID: c.ID, Name: c.Function.Name, Arguments: parseArguments(c.Function.Arguments)})
	}
	msg := core.NewAssistantMessage(choice.Content, calls...)
	return &msg, nil
}

func encodeTools(specs []core.ToolSpec) ([]openai.Tool, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	tools := make([]openai.Tool, 0, len(specs))
	for _, spec := range specs {
		params, err := json.Marshal(spec.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("marshal tool %s schema: %w", spec.Name, err)
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  json.RawMessage(params),
			},
		})
	}
	return tools, nil
}

// parseArguments keeps valid JSON as is. Anything else is passed through as a
// JSON string so schema validation reports it as a tool error.
func parseArguments(args string) json.RawMessage {
	if args == "" {
		return nil
	}
	if json.Valid([]byte(args)) {
		return json.RawMessage(args)
	}
	quoted, _ := json.Marshal(args)
	return quoted
}
