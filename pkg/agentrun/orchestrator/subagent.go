package orchestrator

import (
	"github.com/runloom/runloom/pkg/agentrun/core"
)

// SubAgentBridge adapts StartRun to core.SubAgentEntryPoint, the
// "same shape as the orchestrator itself" collaborator of spec §6.3.
// Adapted from pkg/agent-framework/tools/agent_tool.go's AgentTool,
// whose Execute recursively calls agent.Execute and flattens the
// result's output text into a single string; here the recursive call
// can itself suspend, so instead of flattening we push a StackFrame and
// let the caller (the step loop, via the tool that wraps this bridge)
// propagate that suspension up to the parent run's own Suspension.
type SubAgentBridge struct {
	Deps *Deps
}

func (b *SubAgentBridge) StartSubRun(ctx core.ContextWithAbort, manifestName string, input string, toolCallID string, stack *core.SuspensionStack, depth int) (core.ToolResult, *core.RunRecord, error) {
	parentRunID := ctx.RunID
	childCtx := core.DeriveContext(ctx, newRunID())
	seedMessages := []core.Message{{OfUser: &core.UserMessage{Text: input}}}

	if err := b.Deps.Observers.OnSubAgentStart(ctx.Context, parentRunID, toolCallID, manifestName); err != nil {
		b.Deps.Observers.OnSubAgentError(ctx.Context, parentRunID, toolCallID, err)
		return core.ToolResult{}, nil, err
	}

	result, err := StartRun(childCtx, b.Deps, manifestName, seedMessages)
	if err != nil {
		b.Deps.Observers.OnSubAgentError(ctx.Context, parentRunID, toolCallID, err)
		return core.ToolResult{}, nil, err
	}

	if result.Status == core.RunStatusSuspended {
		stack.Push(core.StackFrame{RunID: result.RunID, ParentToolCallID: toolCallID, Depth: depth})
		return core.ToolResult{ToolCallID: toolCallID, OfSuspended: &core.ToolSuspended{ChildRunID: result.RunID}}, result, nil
	}

	if err := b.Deps.Observers.OnSubAgentComplete(ctx.Context, parentRunID, toolCallID, result); err != nil {
		b.Deps.Observers.OnSubAgentError(ctx.Context, parentRunID, toolCallID, err)
		return core.ToolResult{}, nil, err
	}

	return childRunResult(result), result, nil
}
