// Package interleave implements C5, the tool interleaver: it runs a
// batch of tool calls concurrently and races their completion against an
// abort signal so an in-flight batch can be cut short without losing the
// tool results that had already finished.
//
// golang.org/x/sync/errgroup (the pack's own parallel-fan-out idiom, see
// the teacher's toolloop-style call sites) was considered and rejected:
// errgroup.Group.Wait() blocks until every goroutine finishes or one
// returns an error, an all-or-nothing join that cannot produce the
// partial completedToolResultParts this package's Run must return on
// abort. A plain per-call channel plus select gives that partial-result
// shape directly.
package interleave

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/runloom/runloom/pkg/agentrun/core"
)

var tracer = otel.Tracer("runloom/interleave")

// Outcome is the result of racing a tool batch against an abort channel.
//
// Per spec §4.5, a batch where at least one call recursed into a
// sub-agent that itself suspended is reported as Suspended rather than
// folded in as an ordinary completion: Results holds the calls that
// truly finished (the spec's completedToolResultParts) and Suspended
// holds the ones still waiting on a human decision further down the
// recursion (the spec's branches[]).
type Outcome struct {
	// Results holds one entry per call that completed before abort (or
	// all of them, if nothing aborted/suspended), in the order of the
	// input calls.
	Results []core.ToolResult
	// Suspended holds the calls whose execution recursed into a
	// suspended sub-agent; non-empty iff the batch is suspended rather
	// than completed or aborted.
	Suspended []core.ToolResult
	// Aborted is true if abortCh closed before every call finished.
	Aborted bool
	// PendingToolCallIDs are the calls still in flight when aborted.
	PendingToolCallIDs []string
}

// Run executes calls concurrently via exec, one goroutine per call, and
// returns as soon as either every call has completed or abortCh closes.
// On abort, calls still in flight are left running in the background
// (exec is expected to honor ctx cancellation promptly per the Tool
// contract) and are reported as pending rather than waited on, which is
// what bounds the abort latency spec §8 requires.
func Run(ctx context.Context, calls []core.ToolCall, abortCh <-chan struct{}, exec func(context.Context, core.ToolCall) (core.ToolResult, error)) Outcome {
	ctx, span := tracer.Start(ctx, "Interleave.Run")
	span.SetAttributes(attribute.Int("tool_calls", len(calls)))
	defer span.End()

	// execCtx is the context.signal spec §6's context object promises
	// every tool executor: deriving it with WithCancel, rather than
	// handing tools the bare ctx, is what lets cancelExec actually reach
	// running tool calls when abortCh fires below, instead of only
	// stopping Run's own wait loop.
	execCtx, cancelExec := context.WithCancel(ctx)
	defer cancelExec()

	type indexedResult struct {
		idx    int
		result core.ToolResult
	}

	resultCh := make(chan indexedResult, len(calls))
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(i int, call core.ToolCall) {
			defer wg.Done()
			res, err := exec(execCtx, call)
			if err != nil {
				res = core.ToolResult{ToolCallID: call.ID, OfError: &core.ToolError{Message: err.Error()}}
			}
			resultCh <- indexedResult{idx: i, result: res}
		}(i, call)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	completed := make(map[int]core.ToolResult, len(calls))

	for {
		select {
		case ir := <-resultCh:
			completed[ir.idx] = ir.result
			if len(completed) == len(calls) {
				return finish(calls, completed, false)
			}
		case <-abortCh:
			// Cancel execCtx so every tool call still in flight observes
			// the abort promptly, then drain whatever already landed in
			// the channel without blocking further and report the rest
			// as pending.
			cancelExec()
			drain(resultCh, completed)
			return finish(calls, completed, true)
		case <-done:
			drain(resultCh, completed)
			return finish(calls, completed, false)
		}
	}
}

func drain(resultCh chan indexedResult, completed map[int]core.ToolResult) {
	for {
		select {
		case ir := <-resultCh:
			completed[ir.idx] = ir.result
		default:
			return
		}
	}
}

func finish(calls []core.ToolCall, completed map[int]core.ToolResult, aborted bool) Outcome {
	out := Outcome{Aborted: aborted}
	for i, call := range calls {
		res, ok := completed[i]
		switch {
		case !ok:
			out.PendingToolCallIDs = append(out.PendingToolCallIDs, call.ID)
		case res.OfSuspended != nil:
			out.Suspended = append(out.Suspended, res)
		default:
			out.Results = append(out.Results, res)
		}
	}
	return out
}
