// Package orchestrator ties C1–C9 together into the three operations
// spec §5 exposes: orchestrateRun, cancelRun, and signalCancellation.
//
// The step loop (C6) is grounded directly on
// pkg/agent-framework/agents/durable_agent.go's
// `for runState.LoopIteration < maxLoops { switch runState.NextStep() }`
// state machine, generalized from a single-level pause/resume to the
// suspension-stack model spec §3 requires, and rewired so tool execution
// goes through the interleaver (C5) instead of a plain sequential loop,
// racing each batch against the cancellation poller (C4) instead of only
// checking a durable "cancelled" flag between steps.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/runloom/runloom/pkg/agentrun/core"
	"github.com/runloom/runloom/pkg/agentrun/prompts"
	"github.com/runloom/runloom/pkg/agentrun/runtime/interleave"
	"github.com/runloom/runloom/pkg/agentrun/runtime/poller"
	"github.com/runloom/runloom/pkg/agentrun/tools"
)

var tracer = otel.Tracer("runloom/orchestrator")

// stepOutcome tells runStepLoop what happened to the run after one
// iteration of the state machine so the caller knows whether to persist
// and return, or keep looping.
type stepOutcome int

const (
	stepContinue stepOutcome = iota
	stepSuspended
	stepCancelled
	stepCompleted
	stepFailed
)

// runStepLoop drives run through the step state machine until it
// suspends, completes, is cancelled, or fails. It does not persist the
// run itself — callers (orchestrateRun, the resume machine) own that so
// they can also release the lock/stop the poller at the right time.
func runStepLoop(rc core.ContextWithAbort, run *core.RunRecord, manifest *core.Manifest, deps *Deps, cancelCh <-chan struct{}) error {
	ctx, span := tracer.Start(rc.Context, "StepLoop.Run")
	defer span.End()
	span.SetAttributes(attribute.String("run.id", run.RunID), attribute.String("run.manifest", manifest.Name))

	maxLoops := manifest.MaxLoopIters
	if maxLoops <= 0 {
		maxLoops = 50
	}

	for run.LoopIteration < maxLoops {
		select {
		case <-cancelCh:
			abortPendingToolCalls(run)
			return nil
		default:
		}

		outcome, err := stepOnce(ctx, run, manifest, deps, cancelCh)
		if err != nil {
			run.Status = core.RunStatusFailed
			run.Error = err.Error()
			span.RecordError(err)
			return err
		}

		switch outcome {
		case stepSuspended, stepCancelled, stepCompleted:
			return nil
		case stepFailed:
			return fmt.Errorf("run %s failed", run.RunID)
		case stepContinue:
			run.LoopIteration++
		}
	}

	run.Status = core.RunStatusFailed
	run.Error = fmt.Sprintf("exceeded maximum loop iterations (%d)", maxLoops)
	return fmt.Errorf("run %s exceeded max loop iterations", run.RunID)
}

// abortPendingToolCalls terminates run as Cancelled when the poller's
// signal lands between callLLMStep queuing immediate (non-approval) tool
// calls and executeToolsStep actually running them. Those calls already
// have a ToolCallMessage in run.Messages with no matching result, so —
// mirroring executeToolsStep's own abort path — each gets a synthetic
// {error, code: Cancelled} result before Suspension is cleared, keeping
// spec §3's `status = suspended iff suspensions non-empty` invariant and
// the matching tool-call/tool-result causal order intact.
func abortPendingToolCalls(run *core.RunRecord) {
	if run.Suspension != nil {
		for _, id := range run.Suspension.PendingToolCallIDs {
			run.Messages = append(run.Messages, core.Message{OfToolResult: &core.ToolResultMessage{
				Result: core.ToolResult{ToolCallID: id, OfAborted: &core.ToolAborted{}},
			}})
		}
	}
	run.Status = core.RunStatusCancelled
	run.Suspension = nil
	run.UpdatedAt = time.Now()
}

// stepOnce executes exactly one step of the state machine: if the run
// has no pending tool calls it's a CallLLM step, otherwise it's an
// ExecuteTools step. AwaitApproval is a terminal-for-now outcome
// reached from within the CallLLM step once approval-gated tool calls
// are identified.
func stepOnce(ctx core.ContextWithAbort, run *core.RunRecord, manifest *core.Manifest, deps *Deps, cancelCh <-chan struct{}) (stepOutcome, error) {
	if run.Suspension != nil && len(run.Suspension.PendingToolCallIDs) > 0 {
		return executeToolsStep(ctx, run, manifest, cancelCh)
	}
	return callLLMStep(ctx, run, manifest, deps)
}

func callLLMStep(ctx core.ContextWithAbort, run *core.RunRecord, manifest *core.Manifest, deps *Deps) (stepOutcome, error) {
	ctx2, span := tracer.Start(ctx.Context, fmt.Sprintf("StepLoop.CallLLM[%d]", run.LoopIteration))
	defer span.End()

	var specs []core.ToolSpec
	for _, t := range manifest.Tools {
		specs = append(specs, t.Spec())
	}

	systemPrompt, err := prompts.New(manifest.SystemPrompt).GetPrompt(ctx2, map[string]any{
		"runId":     run.RunID,
		"namespace": run.Namespace,
		"manifest":  manifest.Name,
	})
	if err != nil {
		span.RecordError(err)
		return stepFailed, err
	}

	messages := core.ApplyHistoryPolicy(ctx2, manifest.HistoryPolicy, deps.HistorySummarizer, run.Messages)

	assistant, usage, err := deps.LLM.StreamCompletion(ctx2, systemPrompt, messages, specs, manifest.OutputSchema, func(core.StreamPart) {})
	if err != nil {
		span.RecordError(err)
		return stepFailed, err
	}

	run.Usage.Add(usage)
	run.Messages = append(run.Messages, core.Message{OfAssistant: assistant})

	if len(assistant.ToolCalls) == 0 {
		run.Status = core.RunStatusCompleted
		run.UpdatedAt = time.Now()
		return stepCompleted, nil
	}

	var needsApproval, immediate []string
	for _, call := range assistant.ToolCalls {
		run.Messages = append(run.Messages, core.Message{OfToolCall: &core.ToolCallMessage{ToolCall: call}})
		if tool := manifest.ToolByName(call.Name); tool != nil && tool.NeedApproval() {
			needsApproval = append(needsApproval, call.ID)
		} else {
			immediate = append(immediate, call.ID)
		}
	}

	if len(needsApproval) > 0 {
		// A batch that mixes approval-gated and immediate calls suspends
		// as a whole: the immediate calls wait alongside the gated ones
		// and all execute together once resume folds in the approval
		// responses (applyApprovalResponse only strips the rejected
		// ids from PendingToolCallIDs).
		pending := append(append([]string{}, needsApproval...), immediate...)
		run.Status = core.RunStatusSuspended
		run.Suspension = &core.Suspension{Reason: core.SuspensionAwaitingApproval, PendingToolCallIDs: pending}
		run.UpdatedAt = time.Now()
		return stepSuspended, nil
	}

	run.Suspension = &core.Suspension{Reason: core.SuspensionAwaitingApproval, PendingToolCallIDs: immediate}
	return stepContinue, nil
}

func executeToolsStep(ctx core.ContextWithAbort, run *core.RunRecord, manifest *core.Manifest, cancelCh <-chan struct{}) (stepOutcome, error) {
	ctx2, span := tracer.Start(ctx.Context, fmt.Sprintf("StepLoop.ExecuteTools[%d]", run.LoopIteration))
	defer span.End()

	pending := run.Suspension.PendingToolCallIDs
	calls := collectToolCalls(run, pending)

	if run.SuspensionStack == nil {
		run.SuspensionStack = &core.SuspensionStack{}
	}
	if run.ChildStateIDs == nil {
		run.ChildStateIDs = &core.ChildIDs{}
	}
	toolCtx := tools.WithChildIDs(tools.WithRunID(tools.WithStack(ctx2, run.SuspensionStack), run.RunID), run.ChildStateIDs)

	outcome := interleave.Run(toolCtx, calls, cancelCh, func(execCtx context.Context, call core.ToolCall) (core.ToolResult, error) {
		tool := manifest.ToolByName(call.Name)
		if tool == nil {
			return core.ToolResult{ToolCallID: call.ID, OfError: &core.ToolError{Message: "unknown tool: " + call.Name}}, nil
		}
		return tool.Execute(execCtx, call)
	})

	if outcome.Aborted {
		// Per spec §4.5: completed calls fold in as usual; calls still in
		// flight when abort won the race get a synthetic {error, code:
		// Cancelled}-equivalent result (OfAborted) so the message history
		// stays complete. The record is terminal (Cancelled), so Suspension
		// must stay nil -- spec §3's `status = suspended iff suspensions
		// non-empty` invariant would otherwise be violated by a cancelled
		// run that still looks like it has open approvals.
		for _, res := range outcome.Results {
			run.Messages = append(run.Messages, core.Message{OfToolResult: &core.ToolResultMessage{Result: res}})
		}
		for _, id := range outcome.PendingToolCallIDs {
			run.Messages = append(run.Messages, core.Message{OfToolResult: &core.ToolResultMessage{
				Result: core.ToolResult{ToolCallID: id, OfAborted: &core.ToolAborted{}},
			}})
		}
		run.Status = core.RunStatusCancelled
		run.Suspension = nil
		run.UpdatedAt = time.Now()
		slog.InfoContext(ctx2, "run cancelled mid tool-execution", slog.String("runId", run.RunID), slog.Int("pending", len(outcome.PendingToolCallIDs)))
		return stepCancelled, nil
	}

	if len(outcome.Suspended) > 0 {
		// At least one tool call recursed into a sub-agent that itself
		// suspended (spec §4.5): the calls that did finish are held as
		// CompletedToolResultParts rather than folded into Messages yet,
		// so they fold in exactly once, together with the sub-agent's
		// eventual result, when ResumeSuspensionStack walks back up.
		pending := make([]string, 0, len(outcome.Suspended))
		for _, res := range outcome.Suspended {
			pending = append(pending, res.ToolCallID)
		}
		run.Status = core.RunStatusSuspended
		run.Suspension = &core.Suspension{
			Reason:                   core.SuspensionAwaitingSubAgent,
			PendingToolCallIDs:       pending,
			CompletedToolResultParts: outcome.Results,
		}
		run.UpdatedAt = time.Now()
		slog.InfoContext(ctx2, "run suspended on sub-agent approval", slog.String("runId", run.RunID), slog.Int("branches", len(outcome.Suspended)))
		return stepSuspended, nil
	}

	for _, res := range outcome.Results {
		run.Messages = append(run.Messages, core.Message{OfToolResult: &core.ToolResultMessage{Result: res}})
	}
	run.Suspension = nil
	return stepContinue, nil
}

func collectToolCalls(run *core.RunRecord, ids []string) []core.ToolCall {
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	var calls []core.ToolCall
	for _, m := range run.Messages {
		if m.OfToolCall != nil && wanted[m.OfToolCall.ToolCall.ID] {
			calls = append(calls, m.OfToolCall.ToolCall)
		}
	}
	return calls
}

// newRunID generates a fresh run identifier the way the teacher does:
// uuid.NewString().
func newRunID() string {
	return uuid.NewString()
}

// startPoller spawns C4 for a run and returns its cancellation channel
// plus a stop function the caller must call once the run leaves this
// process (suspended, completed, or failed).
func startPoller(ctx core.ContextWithAbort, signals core.SignalStore, runID string, interval time.Duration) (<-chan struct{}, func()) {
	p := poller.Start(ctx.Context, signals, runID, interval)
	return p.Cancelled(), p.Stop
}
