// Package core holds the types shared by every nim-graph component:
// conversation messages, graph state, the tool contract and the error
// taxonomy.
package core

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is a single entry of a conversation history.
type Message struct {
	// ID identifies the message for merge purposes. Messages sharing an ID are
	// the same message.
	ID string `json:"id"`

	Role    Role   `json:"role"`
	Content string `json:"content"`

	// ToolCalls is set on assistant messages that request tool execution.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and Name are set on tool messages and point back to the
	// request they answer.
	ToolCallID string `json:"tool_call_id,omitempty"`
	Name       string `json:"name,omitempty"`

	// IsError marks a tool message that carries a failure instead of a result.
	IsError bool `json:"is_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ToolCall is a model request to run a tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolSpec is the model-facing description of a tool.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// NewUserMessage creates a user message with a fresh ID.
func NewUserMessage(content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      RoleUser,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// NewAssistantMessage creates an assistant message with a fresh ID.
func NewAssistantMessage(content string, calls ...ToolCall) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Content:   content,
		ToolCalls: calls,
		CreatedAt: time.Now().UTC(),
	}
}

// NewToolMessage creates the message answering call. Its ID is derived from
// the call ID so a replayed execution merges into the same entry.
func NewToolMessage(call ToolCall, content string, isError bool) Message {
	return Message{
		ID:         ToolMessageID(call.ID),
		Role:       RoleTool,
		Content:    content,
		ToolCallID: call.ID,
		Name:       call.Name,
		IsError:    isError,
		CreatedAt:  time.Now().UTC(),
	}
}

// ToolMessageID returns the message ID used for the answer to a tool call.
func ToolMessageID(callID string) string {
	return "tool-" + callID
}

// HasToolCalls reports whether the message requests tool execution.
func (m Message) HasToolCalls() bool {
	return m.Role == RoleAssistant && len(m.ToolCalls) > 0
}
