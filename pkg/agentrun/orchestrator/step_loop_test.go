package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runloom/runloom/pkg/agentrun/core"
)

func TestAbortPendingToolCalls(t *testing.T) {
	run := &core.RunRecord{
		RunID: "r1",
		Messages: []core.Message{
			{OfToolCall: &core.ToolCallMessage{ToolCall: core.ToolCall{ID: "call-1", Name: "echo"}}},
		},
		Suspension: &core.Suspension{PendingToolCallIDs: []string{"call-1"}},
	}

	abortPendingToolCalls(run)

	assert.Equal(t, core.RunStatusCancelled, run.Status)
	assert.Nil(t, run.Suspension)
	require.Len(t, run.Messages, 2)
	result := run.Messages[1].OfToolResult
	require.NotNil(t, result)
	assert.Equal(t, "call-1", result.Result.ToolCallID)
	assert.NotNil(t, result.Result.OfAborted)
}

// singleCallLLM returns one immediate tool call and closes cancelCh as a
// side effect of answering, simulating a cancellation signal that lands
// while the LLM request is in flight — after callLLMStep has already
// queued the tool call but before executeToolsStep runs it.
type singleCallLLM struct {
	toolName string
	cancelCh chan struct{}
}

func (l singleCallLLM) StreamCompletion(ctx context.Context, systemPrompt string, messages []core.Message, tools []core.ToolSpec, outputSchema map[string]any, onPart func(core.StreamPart)) (*core.AssistantMessage, core.Usage, error) {
	close(l.cancelCh)
	return &core.AssistantMessage{ToolCalls: []core.ToolCall{{ID: "call-1", Name: l.toolName, Arguments: "{}"}}}, core.Usage{}, nil
}

type neverCalledTool struct{ *core.BaseTool }

func (t *neverCalledTool) Execute(ctx context.Context, call core.ToolCall) (core.ToolResult, error) {
	panic("tool must not execute once cancellation has already landed ahead of it")
}

// TestRunStepLoop_CancelBetweenQueueingAndExecutingImmediateToolCalls is
// the regression test for the race window between callLLMStep queuing an
// immediate (non-approval) tool call and executeToolsStep actually
// running it: a cancellation signal landing there must synthesize an
// aborted tool result for the dangling tool-call message and clear
// Suspension, not leave the record looking suspended while Cancelled.
func TestRunStepLoop_CancelBetweenQueueingAndExecutingImmediateToolCalls(t *testing.T) {
	states := newMemStateStore()
	signals := newMemSignalStore()
	locks := newMemLock()
	deps := testDeps(states, signals, locks, core.NewFakeClock(time.Now()))

	cancelCh := make(chan struct{})
	deps.LLM = singleCallLLM{toolName: "echo", cancelCh: cancelCh}

	manifest := &core.Manifest{
		Name:  "m",
		Tools: []core.Tool{&neverCalledTool{BaseTool: &core.BaseTool{ToolSpec: core.ToolSpec{Name: "echo"}}}},
	}

	run := &core.RunRecord{RunID: "r2", Status: core.RunStatusRunning}
	rc := core.ContextWithAbort{Context: context.Background(), RunID: "r2"}

	err := runStepLoop(rc, run, manifest, deps, cancelCh)
	require.NoError(t, err)

	assert.Equal(t, core.RunStatusCancelled, run.Status)
	assert.Nil(t, run.Suspension, "Suspension must not survive a cancelled record")

	var sawAborted bool
	for _, m := range run.Messages {
		if m.OfToolResult != nil && m.OfToolResult.Result.ToolCallID == "call-1" {
			sawAborted = m.OfToolResult.Result.OfAborted != nil
		}
	}
	assert.True(t, sawAborted, "the queued-but-never-run tool call must get a synthetic aborted result")
}
