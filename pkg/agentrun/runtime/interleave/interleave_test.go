package interleave

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runloom/runloom/pkg/agentrun/core"
)

func TestRunAllCompleteNoAbort(t *testing.T) {
	calls := []core.ToolCall{{ID: "1"}, {ID: "2"}, {ID: "3"}}
	abortCh := make(chan struct{})

	outcome := Run(context.Background(), calls, abortCh, func(ctx context.Context, call core.ToolCall) (core.ToolResult, error) {
		return core.ToolResult{ToolCallID: call.ID, OfOutput: &core.ToolOutput{Output: "done:" + call.ID}}, nil
	})

	require.False(t, outcome.Aborted)
	require.Len(t, outcome.Results, 3)
	assert.Empty(t, outcome.PendingToolCallIDs)
	for i, call := range calls {
		assert.Equal(t, call.ID, outcome.Results[i].ToolCallID)
	}
}

func TestRunExecErrorBecomesToolError(t *testing.T) {
	calls := []core.ToolCall{{ID: "1"}}
	abortCh := make(chan struct{})

	outcome := Run(context.Background(), calls, abortCh, func(ctx context.Context, call core.ToolCall) (core.ToolResult, error) {
		return core.ToolResult{}, assertErr{}
	})

	require.False(t, outcome.Aborted)
	require.Len(t, outcome.Results, 1)
	require.NotNil(t, outcome.Results[0].OfError)
	assert.Equal(t, "boom", outcome.Results[0].OfError.Message)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func TestRunAbortLeavesPartialResults(t *testing.T) {
	calls := []core.ToolCall{{ID: "fast"}, {ID: "slow"}}
	abortCh := make(chan struct{})
	fastStarted := make(chan struct{})
	never := make(chan struct{}) // never closed: "slow" just never finishes before abort

	go func() {
		<-fastStarted
		// Give Run's internal goroutine a moment to land the "fast"
		// result on resultCh before abortCh closes, so the outcome
		// deterministically includes it instead of racing the select.
		time.Sleep(20 * time.Millisecond)
		close(abortCh)
	}()

	outcome := Run(context.Background(), calls, abortCh, func(ctx context.Context, call core.ToolCall) (core.ToolResult, error) {
		if call.ID == "fast" {
			res := core.ToolResult{ToolCallID: call.ID, OfOutput: &core.ToolOutput{Output: "quick"}}
			close(fastStarted)
			return res, nil
		}
		<-never
		return core.ToolResult{ToolCallID: call.ID, OfAborted: &core.ToolAborted{}}, nil
	})

	require.True(t, outcome.Aborted)
	require.Len(t, outcome.PendingToolCallIDs, 1)
	assert.Equal(t, "slow", outcome.PendingToolCallIDs[0])
	require.Len(t, outcome.Results, 1)
	assert.Equal(t, "fast", outcome.Results[0].ToolCallID)
}

func TestRunAbortClosesAbortChannel(t *testing.T) {
	calls := []core.ToolCall{{ID: "1"}}
	abortCh := make(chan struct{})
	close(abortCh)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	outcome := Run(ctx, calls, abortCh, func(ctx context.Context, call core.ToolCall) (core.ToolResult, error) {
		<-ctx.Done()
		return core.ToolResult{ToolCallID: call.ID, OfAborted: &core.ToolAborted{}}, nil
	})

	assert.True(t, outcome.Aborted)
	assert.ElementsMatch(t, []string{"1"}, outcome.PendingToolCallIDs)
}
