// Package model defines the language model contract used by the engine's
// call_model node. Provider adapters live in the subpackages.
package model

import (
	"context"

	"github.com/becomeliminal/nim-graph/core"
)

// Request is one model invocation.
type Request struct {
	// System is the system instruction, memory text included.
	System string

	// Messages is the thread history in order. System-role entries are not
	// sent; use System instead.
	Messages []core.Message

	// Tools are bound for this invocation only.
	Tools []core.ToolSpec
}

// Provider invokes a language model. The returned message is an assistant
// message, with ToolCalls set when the model requests tools.
type Provider interface {
	Invoke(ctx context.Context, req *Request) (*core.Message, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, req *Request) (*core.Message, error)

func (f ProviderFunc) Invoke(ctx context.Context, req *Request) (*core.Message, error) {
	return f(ctx, req)
}
