package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/becomeliminal/nim-graph/checkpoint"
	"github.com/becomeliminal/nim-graph/core"
	"github.com/becomeliminal/nim-graph/model"
)

// step runs the node cp.Next and sets cp.Next to the node that follows.
func (e *Engine) step(ctx context.Context, cp *checkpoint.Checkpoint) (err error) {
	node := cp.Next
	ctx, span := e.tracer.Start(ctx, "engine."+string(node), trace.WithAttributes(
		attribute.String("thread.id", cp.ThreadID),
		attribute.Int("hop", cp.Hops),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, core.KindOf(err))
		}
		span.End()
	}()

	switch node {
	case core.NodeSelectTools:
		return e.selectTools(ctx, cp)
	case core.NodeCallModel:
		return e.callModel(ctx, cp)
	case core.NodeExecuteTools:
		return e.executeTools(ctx, cp)
	default:
		return fmt.Errorf("thread %s: unknown node %q", cp.ThreadID, node)
	}
}

// selectTools binds the tools most similar to the latest message.
func (e *Engine) selectTools(ctx context.Context, cp *checkpoint.Checkpoint) error {
	var query string
	if last, ok := cp.State.Last(); ok {
		query = last.Content
	}
	names, err := e.registry.Select(ctx, query, e.selectK)
	if err != nil {
		return nodeError(ctx, cp, err)
	}
	e.log.Debug("selected tools", "thread_id", cp.ThreadID, "tools", names)
	cp.State.SelectedTools = names
	cp.Next = core.NodeCallModel
	return nil
}

// callModel assembles the prompt and asks the model for the next message.
func (e *Engine) callModel(ctx context.Context, cp *checkpoint.Checkpoint) error {
	specs, err := e.registry.Specs(cp.State.SelectedTools)
	if err != nil {
		return err
	}

	var query string
	if latest, ok := cp.State.LatestUser(); ok {
		query = latest.Content
	}
	var memText string
	if e.memory != nil {
		memText, err = e.memory.Retrieve(ctx, cp.UserID, query)
		if err != nil {
			return nodeError(ctx, cp, err)
		}
		// Only the turn's own user message is a remember candidate, and only
		// before the model has answered it.
		if last, ok := cp.State.Last(); ok && last.Role == core.RoleUser && len(cp.State.Messages) == cp.TurnStart+1 {
			if _, err := e.memory.Remember(ctx, cp.UserID, last.Content); err != nil {
				return nodeError(ctx, cp, err)
			}
		}
	}

	resp, err := e.provider.Invoke(ctx, &model.Request{
		System:   SystemPrompt(e.systemPrompt, memText),
		Messages: cp.State.Messages,
		Tools:    specs,
	})
	if err != nil {
		if ctx.Err() != nil {
			return cancelled(cp.ThreadID, ctx.Err())
		}
		return core.NewError(core.ErrModelInvocation, "call_model", cp.ThreadID, err)
	}
	if resp == nil {
		return core.NewError(core.ErrModelInvocation, "call_model", cp.ThreadID, errors.New("provider returned no message"))
	}

	msg := *resp
	msg.Role = core.RoleAssistant
	for i := range msg.ToolCalls {
		if msg.ToolCalls[i].ID == "" {
			msg.ToolCalls[i].ID = uuid.NewString()
		}
	}

	if !msg.HasToolCalls() {
		cp.State.Append(msg)
		cp.Next = core.NodeDone
		return nil
	}

	cp.Hops++
	if cp.Hops > e.maxHops {
		// The tool request is dropped so the history never ends on an
		// unanswered call.
		e.log.Warn("hop limit reached", "thread_id", cp.ThreadID, "max_hops", e.maxHops)
		cp.Next = core.NodeDone
		return core.NewError(core.ErrGraphIterationLimit, "call_model", cp.ThreadID,
			fmt.Errorf("more than %d tool rounds", e.maxHops))
	}
	cp.State.Append(msg)
	cp.Next = core.NodeExecuteTools
	return nil
}

// executeTools runs every unanswered call of the last assistant message
// concurrently and appends the results in request order.
func (e *Engine) executeTools(ctx context.Context, cp *checkpoint.Checkpoint) error {
	request, ok := lastToolRequest(cp.State.Messages)
	if !ok {
		cp.Next = core.NodeCallModel
		return nil
	}

	var pending []core.ToolCall
	for _, call := range request.ToolCalls {
		if _, done := cp.State.Answered(call.ID); done {
			continue
		}
		pending = append(pending, call)
	}
	if skipped := len(request.ToolCalls) - len(pending); skipped > 0 {
		e.log.Info("skipping answered tool calls", "thread_id", cp.ThreadID, "answered", skipped)
	}

	// Tool failures become error messages, so workers never fail the group.
	results := make([]*core.Message, len(pending))
	var g errgroup.Group
	g.SetLimit(e.toolLimit)
	for i, call := range pending {
		g.Go(func() error {
			results[i] = e.runTool(ctx, cp, call)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if r != nil {
			cp.State.Append(*r)
		}
	}
	if err := ctx.Err(); err != nil {
		return cancelled(cp.ThreadID, err)
	}
	cp.Next = core.NodeCallModel
	return nil
}

// runTool executes one call. It returns nil when the call was cut short by
// cancellation and has no result to record.
func (e *Engine) runTool(ctx context.Context, cp *checkpoint.Checkpoint, call core.ToolCall) *core.Message {
	ctx, span := e.tracer.Start(ctx, "engine.tool", trace.WithAttributes(
		attribute.String("thread.id", cp.ThreadID),
		attribute.String("tool.name", call.Name),
		attribute.String("tool.call_id", call.ID),
	))
	defer span.End()

	start := time.Now()
	out, err := e.registry.Execute(ctx, call.Name, &core.ToolParams{
		UserID:   cp.UserID,
		ThreadID: cp.ThreadID,
		CallID:   call.ID,
		Input:    call.Arguments,
	})
	duration := time.Since(start).Milliseconds()

	if err != nil {
		if ctx.Err() != nil && isContextError(err) {
			e.log.Warn("tool interrupted", "thread_id", cp.ThreadID, "tool", call.Name, "call_id", call.ID)
			return nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, core.KindOf(err))
		e.log.Warn("tool failed",
			"thread_id", cp.ThreadID, "tool", call.Name, "call_id", call.ID,
			"duration_ms", duration, "error", err)
		msg := core.NewToolMessage(call, "Error: "+err.Error(), true)
		return &msg
	}

	e.log.Info("tool executed",
		"thread_id", cp.ThreadID, "tool", call.Name, "call_id", call.ID,
		"duration_ms", duration, "observation", truncate(out, 200))
	msg := core.NewToolMessage(call, out, false)
	return &msg
}

// lastToolRequest finds the assistant message whose calls execute_tools
// answers. Tool results appended by an interrupted run may follow it.
func lastToolRequest(msgs []core.Message) (core.Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		switch msgs[i].Role {
		case core.RoleTool:
			continue
		case core.RoleAssistant:
			return msgs[i], msgs[i].HasToolCalls()
		default:
			return core.Message{}, false
		}
	}
	return core.Message{}, false
}

// nodeError reports a failed collaborator call, as a cancellation when the
// turn's context is done.
func nodeError(ctx context.Context, cp *checkpoint.Checkpoint, err error) error {
	if ctx.Err() != nil && isContextError(err) {
		return cancelled(cp.ThreadID, ctx.Err())
	}
	return err
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
