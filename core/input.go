package core

import (
	"context"
	"encoding/json"
)

// ToolParams is the input handed to a tool handler.
type ToolParams struct {
	// UserID is the authenticated user the turn runs for.
	UserID string

	// ThreadID is the conversation the call belongs to.
	ThreadID string

	// CallID is the model-assigned tool call identifier.
	CallID string

	// Input holds the validated JSON arguments.
	Input json.RawMessage
}

// Tool is a callable capability. Implementations must be safe for concurrent
// Execute calls.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]any
	Execute(ctx context.Context, params *ToolParams) (string, error)
}
