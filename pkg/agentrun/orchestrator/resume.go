package orchestrator

import (
	"go.opentelemetry.io/otel/attribute"

	"github.com/runloom/runloom/pkg/agentrun/core"
)

// ResumeRun is C7: load a suspended run from the StateStore and drive it
// back through the step loop with an approval decision. This is the
// entry point spec §4.3 describes for human-in-the-loop resume.
func ResumeRun(rc core.ContextWithAbort, deps *Deps, runID string, approvedCallIDs, rejectedCallIDs []string) (*core.RunRecord, error) {
	ctx, span := tracer.Start(rc.Context, "Orchestrator.ResumeRun")
	defer span.End()
	span.SetAttributes(attribute.String("run.id", runID))

	run, err := deps.States.Get(ctx, runID)
	if err != nil {
		return nil, err
	}

	return OrchestrateRun(rc, deps, run.ManifestName, run, approvedCallIDs, rejectedCallIDs)
}

// ResumeSuspensionStack resumes a run that suspended through one or more
// levels of sub-agent recursion (spec §4.6/§4.7): it resumes the
// deepest suspended frame first, feeds that frame's terminal tool result
// back into its parent as the pending tool call's result, and continues
// walking up the stack until either a frame suspends again (the whole
// chain stays suspended at that depth) or the top-level run completes.
func ResumeSuspensionStack(rc core.ContextWithAbort, deps *Deps, runID string, approvedCallIDs, rejectedCallIDs []string) (*core.RunRecord, error) {
	ctx, span := tracer.Start(rc.Context, "Orchestrator.ResumeSuspensionStack")
	defer span.End()

	run, err := deps.States.Get(ctx, runID)
	if err != nil {
		return nil, err
	}

	if run.SuspensionStack == nil || len(run.SuspensionStack.Frames) == 0 {
		return ResumeRun(rc, deps, runID, approvedCallIDs, rejectedCallIDs)
	}

	stack := run.SuspensionStack
	frame, ok := stack.Pop()
	if !ok {
		return ResumeRun(rc, deps, runID, approvedCallIDs, rejectedCallIDs)
	}

	childCtx := core.DeriveContext(rc, frame.RunID)
	childRun, err := ResumeSuspensionStack(childCtx, deps, frame.RunID, approvedCallIDs, rejectedCallIDs)
	if err != nil {
		return nil, err
	}

	if childRun.Status == core.RunStatusSuspended {
		// Child is still suspended: push the frame back and leave the
		// parent as-is, its pending tool call still outstanding. The
		// child's own recursive call already persisted its state; the
		// parent's stack shape is unchanged from what was loaded, but
		// persist anyway so a concurrent reader never sees the frame
		// transiently missing between Pop and Push.
		stack.Push(frame)
		run.SuspensionStack = stack
		if err := deps.States.Put(ctx, run, deps.StateTTL); err != nil {
			return nil, err
		}
		return run, nil
	}

	result := childRunResult(childRun)
	result.ToolCallID = frame.ParentToolCallID
	run.Messages = append(run.Messages, core.Message{OfToolResult: &core.ToolResultMessage{Result: result}})
	run.Suspension = clearPendingCall(run.Suspension, frame.ParentToolCallID)
	run.SuspensionStack = stack

	if run.Suspension != nil && len(run.Suspension.PendingToolCallIDs) > 0 {
		// Other branches of this batch are still pending: persist the
		// partial resolution so it isn't lost before the rest resolve.
		if err := deps.States.Put(ctx, run, deps.StateTTL); err != nil {
			return nil, err
		}
		return run, nil
	}

	// Every branch of the suspended batch has now resolved: fold in the
	// sibling tool calls that had already completed alongside the
	// suspended one (held in CompletedToolResultParts since they weren't
	// safe to append until the whole batch resolved) before re-entering
	// the step loop.
	if run.Suspension != nil {
		for _, res := range run.Suspension.CompletedToolResultParts {
			run.Messages = append(run.Messages, core.Message{OfToolResult: &core.ToolResultMessage{Result: res}})
		}
	}
	run.Suspension = nil

	return OrchestrateRun(rc, deps, run.ManifestName, run, nil, nil)
}

// ReplyRun implements the `reply` orchestrateRun input of spec §4.7/§6:
// the one routing rule that resumes a run whose status is already
// terminal. It appends a user message to a completed run's conversation
// and restarts the step loop with status = running; any other status is
// rejected as terminal the same way OrchestrateRun rejects it.
func ReplyRun(rc core.ContextWithAbort, deps *Deps, runID, message string) (*core.RunRecord, error) {
	ctx, span := tracer.Start(rc.Context, "Orchestrator.ReplyRun")
	defer span.End()
	span.SetAttributes(attribute.String("run.id", runID))

	run, err := deps.States.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != core.RunStatusCompleted {
		return nil, core.ErrBadRequest("reply is only valid against a completed run", nil, map[string]any{"runId": run.RunID, "status": string(run.Status)})
	}

	manifest, ok := deps.Manifests.Get(run.ManifestName)
	if !ok {
		return nil, core.ErrBadRequest("unknown manifest", nil, map[string]any{"manifest": run.ManifestName})
	}

	run.Messages = append(run.Messages, core.Message{OfUser: &core.UserMessage{Text: message}})
	run.Status = core.RunStatusRunning
	run.StartedAt = deps.clock().Now()
	rc.RunID = run.RunID
	rc.RootManifestID = run.RootManifestID

	return runOrchestration(rc, deps, manifest, run, false)
}

func childRunResult(run *core.RunRecord) core.ToolResult {
	if run.Status == core.RunStatusCompleted {
		text := ""
		for _, m := range run.Messages {
			if m.OfAssistant != nil {
				text = m.OfAssistant.Text
			}
		}
		return core.ToolResult{OfOutput: &core.ToolOutput{Output: text}}
	}
	return core.ToolResult{OfError: &core.ToolError{Message: "sub-agent run did not complete: " + string(run.Status)}}
}

func clearPendingCall(s *core.Suspension, callID string) *core.Suspension {
	if s == nil {
		return nil
	}
	var remaining []string
	for _, id := range s.PendingToolCallIDs {
		if id != callID {
			remaining = append(remaining, id)
		}
	}
	if len(remaining) == 0 {
		return nil
	}
	s.PendingToolCallIDs = remaining
	return s
}
