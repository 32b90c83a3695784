package tools

import (
	"context"

	"github.com/runloom/runloom/pkg/agentrun/core"
)

// SubAgentTool is a core.Tool whose Execute recurses back into the
// orchestrator via a core.SubAgentEntryPoint, the same shape the
// top-level operation itself uses (spec §4.6/§6.3). Adapted from
// pkg/agent-framework/tools/agent_tool.go's AgentTool: the teacher
// flattens the recursive call's output text into a single string and
// discards anything about a paused sub-run, which this core cannot do —
// a suspended sub-agent must push a StackFrame so resume can find it
// again, instead of being silently swallowed.
type SubAgentTool struct {
	*core.BaseTool
	entryPoint   core.SubAgentEntryPoint
	manifestName string
}

func NewSubAgentTool(spec core.ToolSpec, entryPoint core.SubAgentEntryPoint, manifestName string) *SubAgentTool {
	return &SubAgentTool{
		BaseTool:     &core.BaseTool{ToolSpec: spec},
		entryPoint:   entryPoint,
		manifestName: manifestName,
	}
}

// stack carries the in-flight SuspensionStack for the run this tool call
// belongs to; the step loop must set it via WithStack before executing a
// SubAgentTool so a suspension can be recorded against the right frame.
type stackKey struct{}

// runIDKey carries the parent run's id through the plain context.Context
// the Tool interface hands every Execute call, so a SubAgentTool can
// report the right parentRunID to C9's OnSubAgentStart/Complete/Error
// hooks without widening the Tool interface itself.
type runIDKey struct{}

// childIDsKey carries the parent run's core.ChildIDs set the same way:
// every SubAgentTool.Execute call against the same batch records the
// child RunId it spawned, regardless of which goroutine the interleaver
// ran it on.
type childIDsKey struct{}

func WithStack(ctx context.Context, stack *core.SuspensionStack) context.Context {
	return context.WithValue(ctx, stackKey{}, stack)
}

func stackFromContext(ctx context.Context) *core.SuspensionStack {
	if s, ok := ctx.Value(stackKey{}).(*core.SuspensionStack); ok {
		return s
	}
	return &core.SuspensionStack{}
}

// WithRunID tags ctx with the run id of the run whose step loop is about
// to execute a tool call against it.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// WithChildIDs tags ctx with the run's core.ChildIDs set so a
// SubAgentTool can record its spawned child's RunId against it.
func WithChildIDs(ctx context.Context, ids *core.ChildIDs) context.Context {
	return context.WithValue(ctx, childIDsKey{}, ids)
}

func childIDsFromContext(ctx context.Context) *core.ChildIDs {
	if ids, ok := ctx.Value(childIDsKey{}).(*core.ChildIDs); ok {
		return ids
	}
	return &core.ChildIDs{}
}

func (t *SubAgentTool) Execute(ctx context.Context, call core.ToolCall) (core.ToolResult, error) {
	stack := stackFromContext(ctx)
	childIDs := childIDsFromContext(ctx)
	rc := core.ContextWithAbort{Context: ctx, RunID: RunIDFromContext(ctx)}

	result, childRun, err := t.entryPoint.StartSubRun(rc, t.manifestName, call.Arguments, call.ID, stack, len(stack.Frames))
	if childRun != nil {
		childIDs.Add(childRun.RunID)
	}
	if err != nil {
		return core.ToolResult{ToolCallID: call.ID, OfError: &core.ToolError{Message: err.Error()}}, nil
	}

	result.ToolCallID = call.ID
	return result, nil
}
