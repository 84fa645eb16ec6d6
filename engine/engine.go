// Package engine runs conversation turns as a checkpointed state machine:
// select_tools, call_model and execute_tools, looping until the model gives
// a final answer.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/becomeliminal/nim-graph/checkpoint"
	"github.com/becomeliminal/nim-graph/core"
	"github.com/becomeliminal/nim-graph/logger"
	"github.com/becomeliminal/nim-graph/memory"
	"github.com/becomeliminal/nim-graph/model"
	"github.com/becomeliminal/nim-graph/tools"
)

const (
	// DefaultMaxHops bounds call_model to execute_tools transitions per turn.
	DefaultMaxHops = 25
	// DefaultSelectK is how many tools select_tools binds per turn.
	DefaultSelectK = 5
	// DefaultToolConcurrency bounds sibling tool calls running at once.
	DefaultToolConcurrency = 8

	// NoResponse is returned as the message when a turn ends without any
	// assistant content.
	NoResponse = "No response generated"

	tracerName = "github.com/becomeliminal/nim-graph/engine"
)

// Engine is the graph executor. Build it with New, then call Start once all
// tools are registered.
type Engine struct {
	registry     *tools.Registry
	memory       memory.Manager
	store        checkpoint.Store
	provider     model.Provider
	locker       Locker
	guardrails   Guardrails // Optional: rate limiting and circuit breaker
	tracer       trace.Tracer
	log          *logger.Logger
	maxHops      int
	selectK      int
	toolLimit    int
	systemPrompt string

	started atomic.Bool
}

// Option configures the engine.
type Option func(*Engine)

func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithMaxHops overrides DefaultMaxHops.
func WithMaxHops(n int) Option {
	return func(e *Engine) { e.maxHops = n }
}

// WithSelectK overrides how many tools are bound per turn.
func WithSelectK(k int) Option {
	return func(e *Engine) { e.selectK = k }
}

// WithToolConcurrency bounds how many sibling tool calls run at once.
func WithToolConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.toolLimit = n
		}
	}
}

// WithLocker replaces the in-process thread lock, e.g. with a Redis lock
// when several processes serve the same threads.
func WithLocker(l Locker) Option {
	return func(e *Engine) { e.locker = l }
}

// WithGuardrails sets the guardrails implementation for rate limiting.
func WithGuardrails(g Guardrails) Option {
	return func(e *Engine) { e.guardrails = g }
}

// WithSystemPrompt replaces DefaultSystemPrompt. The first {{memory}} marker
// is replaced by the retrieved memory text.
func WithSystemPrompt(prompt string) Option {
	return func(e *Engine) { e.systemPrompt = prompt }
}

// New creates an engine. mem may be nil to run without long-term memory.
func New(registry *tools.Registry, mem memory.Manager, store checkpoint.Store, provider model.Provider, opts ...Option) *Engine {
	e := &Engine{
		registry:     registry,
		memory:       mem,
		store:        store,
		provider:     provider,
		maxHops:      DefaultMaxHops,
		selectK:      DefaultSelectK,
		toolLimit:    DefaultToolConcurrency,
		systemPrompt: DefaultSystemPrompt,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = logger.OrNop(e.log).With("component", "engine")
	if e.locker == nil {
		e.locker = newLocalLocker()
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	return e
}

// Start checks the collaborators and freezes the tool registry. RunTurn and
// Resume fail with core.ErrNotInitialized until Start succeeds.
func (e *Engine) Start(ctx context.Context) error {
	var errs []error
	if e.registry == nil {
		errs = append(errs, errors.New("tool registry is required"))
	}
	if e.store == nil {
		errs = append(errs, errors.New("checkpoint store is required"))
	}
	if e.provider == nil {
		errs = append(errs, errors.New("model provider is required"))
	}
	if e.maxHops <= 0 {
		errs = append(errs, fmt.Errorf("max hops must be positive, got %d", e.maxHops))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	e.registry.Freeze()
	e.started.Store(true)
	e.log.Info("engine started", "tools", len(e.registry.Names()), "max_hops", e.maxHops)
	return nil
}

// Result is the outcome of a turn.
type Result struct {
	// Message is the final assistant content, or NoResponse.
	Message string

	// Degraded is set when at least one tool failed during the turn. The
	// model saw the failure and answered anyway.
	Degraded bool

	ToolFailures []ToolFailure
}

// ToolFailure describes a tool call that produced an error message.
type ToolFailure struct {
	CallID string `json:"call_id"`
	Tool   string `json:"tool"`
	Error  string `json:"error"`
}

// RunTurn runs one user turn on threadID and returns the final answer.
//
// An interrupted turn left on the thread is finished first, its answer
// discarded, so the new input never interleaves with a half-done turn.
func (e *Engine) RunTurn(ctx context.Context, userID, threadID, input string) (*Result, error) {
	if !e.started.Load() {
		return nil, core.NewError(core.ErrNotInitialized, "run_turn", threadID, nil)
	}
	if err := e.checkGuardrails(ctx, userID); err != nil {
		return nil, err
	}

	release, err := e.lock(ctx, threadID)
	if err != nil {
		return nil, err
	}
	defer release()

	cp, err := e.store.Load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if cp.Pending() {
		e.log.Warn("finishing interrupted turn", "thread_id", threadID, "next", cp.Next, "version", cp.Version)
		if _, err := e.run(ctx, cp); err != nil {
			e.recordOutcome(ctx, userID, err)
			return nil, err
		}
	}

	cp.UserID = userID
	cp.State.SelectedTools = nil
	cp.TurnStart = len(cp.State.Messages)
	cp.State.Append(core.NewUserMessage(input))
	cp.Hops = 0
	cp.Next = core.NodeSelectTools
	if err := e.save(ctx, cp); err != nil {
		e.recordOutcome(ctx, userID, err)
		return nil, err
	}

	res, err := e.run(ctx, cp)
	e.recordOutcome(ctx, userID, err)
	return res, err
}

// Resume finishes the turn interrupted on threadID, starting at the node
// that was in flight. When nothing is pending it returns the last turn's
// result.
func (e *Engine) Resume(ctx context.Context, userID, threadID string) (*Result, error) {
	if !e.started.Load() {
		return nil, core.NewError(core.ErrNotInitialized, "resume", threadID, nil)
	}
	release, err := e.lock(ctx, threadID)
	if err != nil {
		return nil, err
	}
	defer release()

	cp, err := e.store.Load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !cp.Pending() {
		return turnResult(cp), nil
	}
	if cp.UserID == "" {
		cp.UserID = userID
	}
	e.log.Info("resuming turn", "thread_id", threadID, "next", cp.Next, "hops", cp.Hops)
	return e.run(ctx, cp)
}

// run drives cp from its Next node to done, saving after every node.
func (e *Engine) run(ctx context.Context, cp *checkpoint.Checkpoint) (*Result, error) {
	for cp.Next != core.NodeDone {
		if err := ctx.Err(); err != nil {
			return nil, cancelled(cp.ThreadID, err)
		}

		node := cp.Next
		err := e.step(ctx, cp)
		switch {
		case err == nil:
		case errors.Is(err, core.ErrTurnCancelled):
			// Keep whatever the node recorded so a resume does not redo it.
			if saveErr := e.save(context.WithoutCancel(ctx), cp); saveErr != nil {
				e.log.Error("save after cancellation failed", "thread_id", cp.ThreadID, "error", saveErr)
			}
			return nil, err
		case errors.Is(err, core.ErrGraphIterationLimit):
			if saveErr := e.save(ctx, cp); saveErr != nil {
				return nil, saveErr
			}
			return nil, err
		default:
			e.log.Error("node failed", "thread_id", cp.ThreadID, "node", node, "error", err)
			return nil, err
		}

		if err := ctx.Err(); err != nil {
			// The node finished as the caller left. Keep its work.
			if saveErr := e.save(context.WithoutCancel(ctx), cp); saveErr != nil {
				return nil, saveErr
			}
			return nil, cancelled(cp.ThreadID, err)
		}
		if err := e.save(ctx, cp); err != nil {
			return nil, err
		}
	}
	return turnResult(cp), nil
}

func (e *Engine) save(ctx context.Context, cp *checkpoint.Checkpoint) error {
	cp.Version++
	if err := e.store.Save(ctx, cp); err != nil {
		cp.Version--
		return err
	}
	return nil
}

func (e *Engine) lock(ctx context.Context, threadID string) (func(), error) {
	release, err := e.locker.Lock(ctx, threadID)
	if err == nil {
		return release, nil
	}
	if ctx.Err() != nil {
		return nil, cancelled(threadID, ctx.Err())
	}
	return nil, core.NewError(core.ErrCheckpointIO, "lock", threadID, err)
}

func (e *Engine) checkGuardrails(ctx context.Context, userID string) error {
	if e.guardrails == nil {
		return nil
	}
	result, err := e.guardrails.Check(ctx, userID)
	if err != nil {
		return fmt.Errorf("guardrails check failed: %w", err)
	}
	if !result.Allowed {
		e.log.Warn("turn blocked by guardrails", "user_id", userID, "reason", result.Warning)
		return core.NewError(core.ErrGuardrailBlocked, "run_turn", userID, errors.New(result.Warning))
	}
	return nil
}

func (e *Engine) recordOutcome(ctx context.Context, userID string, err error) {
	if e.guardrails == nil {
		return
	}
	switch {
	case err == nil:
		e.guardrails.RecordSuccess(ctx, userID)
	case errors.Is(err, core.ErrTurnCancelled):
	default:
		e.guardrails.RecordFailure(ctx, userID)
	}
}

func cancelled(threadID string, err error) error {
	return core.NewError(core.ErrTurnCancelled, "run_turn", threadID, err)
}

// turnResult reads the answer of the current turn from the history.
func turnResult(cp *checkpoint.Checkpoint) *Result {
	msgs := cp.State.Messages
	start := min(max(cp.TurnStart, 0), len(msgs))
	turn := msgs[start:]

	res := &Result{Message: NoResponse}
	for i := len(turn) - 1; i >= 0; i-- {
		if turn[i].Role == core.RoleAssistant && turn[i].Content != "" {
			res.Message = turn[i].Content
			break
		}
	}
	for _, m := range turn {
		if m.Role == core.RoleTool && m.IsError {
			res.ToolFailures = append(res.ToolFailures, ToolFailure{CallID: m.ToolCallID, Tool: m.Name, Error: m.Content})
		}
	}
	res.Degraded = len(res.ToolFailures) > 0
	return res
}
