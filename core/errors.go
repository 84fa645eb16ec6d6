package core

import (
	"errors"
	"fmt"
)

// Error kinds. Compare with errors.Is.
var (
	ErrDuplicateTool        = errors.New("duplicate tool")
	ErrUnknownTool          = errors.New("unknown tool")
	ErrToolExecution        = errors.New("tool execution failed")
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	ErrModelInvocation      = errors.New("model invocation failed")
	ErrGraphIterationLimit  = errors.New("graph iteration limit exceeded")
	ErrTurnCancelled        = errors.New("turn cancelled")
	ErrCheckpointIO         = errors.New("checkpoint io failed")
	ErrNotInitialized       = errors.New("engine not initialized")
	ErrRegistryFrozen       = errors.New("tool registry frozen")
	ErrGuardrailBlocked     = errors.New("blocked by guardrails")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrDuplicateTool, "duplicate_tool"},
	{ErrUnknownTool, "unknown_tool"},
	{ErrToolExecution, "tool_execution"},
	{ErrEmbeddingUnavailable, "embedding_unavailable"},
	{ErrModelInvocation, "model_invocation"},
	{ErrGraphIterationLimit, "graph_iteration_limit"},
	{ErrTurnCancelled, "turn_cancelled"},
	{ErrCheckpointIO, "checkpoint_io"},
	{ErrNotInitialized, "not_initialized"},
	{ErrRegistryFrozen, "registry_frozen"},
	{ErrGuardrailBlocked, "guardrail_blocked"},
}

// Error is a classified failure. Kind is one of the Err* values above, Op the
// operation that failed and Subject the tool, thread or namespace involved.
type Error struct {
	Kind    error
	Op      string
	Subject string
	Err     error
}

// NewError builds a classified error.
func NewError(kind error, op, subject string, err error) *Error {
	return &Error{Kind: kind, Op: op, Subject: subject, Err: err}
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Subject != "" {
		msg += fmt.Sprintf(" (%s)", e.Subject)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches the error kind.
func (e *Error) Is(target error) bool {
	return e.Kind == target
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the public kind of err, or "internal" when err carries none.
// It is what transports expose to callers instead of the error text.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	// The outermost classified error wins over kinds wrapped inside it.
	var ce *Error
	if errors.As(err, &ce) {
		err = ce.Kind
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "internal"
}
