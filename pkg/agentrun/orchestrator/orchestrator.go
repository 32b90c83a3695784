package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/runloom/runloom/pkg/agentrun/core"
)

// Deps are the external collaborators orchestrateRun/cancelRun/
// signalCancellation need, matching spec §6's interface list.
type Deps struct {
	States   core.StateStore
	Signals  core.SignalStore
	Locks    core.Lock
	Clock    core.Clock
	Manifests core.ManifestMap
	LLM      core.LLMClient
	Observers *core.ObserverChain

	// HistorySummarizer backs a manifest's optional HistoryPolicy; left
	// nil, manifests with a HistoryPolicy simply never summarize (the
	// step loop always sends run.Messages as-is).
	HistorySummarizer core.HistorySummarizer

	LockTTL              time.Duration
	CancellationPollInterval time.Duration
	StateTTL             time.Duration

	// RunTimeout is the per-run wall-clock budget of spec §10's
	// AGENT_RUN_TIMEOUT_MS: exceeding it is observed through the same
	// abort-signal plumbing as an operator-issued cancellation, but the
	// persisted record ends up Failed with a Timeout-kind error rather
	// than Cancelled. Zero disables the budget.
	RunTimeout time.Duration
}

func (d *Deps) clock() core.Clock {
	if d.Clock == nil {
		return core.RealClock{}
	}
	return d.Clock
}

// StartRun begins a brand-new run from scratch: it mints a fresh RunID
// (unless rc.RunID is already set, as when a durable-execution host like
// Restate assigns the run its own virtual-object key), seeds the
// conversation with the caller's initial messages, and fires OnStart
// before driving the step loop. This is the only constructor of a fresh
// core.RunRecord — every other entry point (OrchestrateRun, ResumeRun,
// ResumeSuspensionStack) requires an already-persisted record, so
// freshness is never inferred from a nil-vs-non-nil pointer.
func StartRun(rc core.ContextWithAbort, deps *Deps, manifestName string, seedMessages []core.Message) (*core.RunRecord, error) {
	manifest, ok := deps.Manifests.Get(manifestName)
	if !ok {
		return nil, core.ErrBadRequest("unknown manifest", nil, map[string]any{"manifest": manifestName})
	}

	runID := rc.RunID
	if runID == "" {
		runID = newRunID()
	}

	rootManifestID := rc.RootManifestID
	if rootManifestID == "" {
		rootManifestID = manifestName
	}

	now := deps.clock().Now()
	run := &core.RunRecord{
		RunID:          runID,
		SchemaVersion:  core.CurrentSchemaVersion,
		ManifestName:   manifestName,
		ManifestVersion: manifest.Version,
		RootManifestID: rootManifestID,
		Namespace:    rc.Namespace,
		Status:       core.RunStatusRunning,
		Messages:     seedMessages,
		OutputSchema: manifest.OutputSchema,
		CreatedAt:    now,
		StartedAt:    now,
	}
	rc.RunID = run.RunID
	rc.RootManifestID = rootManifestID

	return runOrchestration(rc, deps, manifest, run, true)
}

// OrchestrateRun is C6/C7's resume entry point of spec §5: drive an
// already-persisted run (freshly loaded or handed in by the resume
// machine) back through the step loop to its next stopping point
// (suspended, completed, failed or cancelled), persisting the result.
// existing must be a real, previously-started record; use StartRun for a
// brand-new run.
//
// Grounded on DurableAgent.Execute's top-level shape (load state, run the
// loop, persist, emit), replacing the single-process in-memory
// "cancelled" flag with the distributed C2/C3 combination this core's
// crash model requires.
func OrchestrateRun(rc core.ContextWithAbort, deps *Deps, manifestName string, existing *core.RunRecord, approvedCallIDs, rejectedCallIDs []string) (*core.RunRecord, error) {
	manifest, ok := deps.Manifests.Get(manifestName)
	if !ok {
		return nil, core.ErrBadRequest("unknown manifest", nil, map[string]any{"manifest": manifestName})
	}
	if existing == nil {
		return nil, core.ErrInternal("OrchestrateRun requires an already-started run; use StartRun for a fresh run", nil, nil)
	}

	run := existing
	if !run.IsResumable() {
		return nil, core.ErrBadRequest("run is already terminal", nil, map[string]any{"runId": run.RunID, "status": string(run.Status)})
	}
	applyApprovalResponse(run, approvedCallIDs, rejectedCallIDs)
	run.Status = core.RunStatusRunning
	run.StartedAt = deps.clock().Now()
	rc.RunID = run.RunID
	rc.RootManifestID = run.RootManifestID

	return runOrchestration(rc, deps, manifest, run, false)
}

// runOrchestration is the body shared by StartRun and OrchestrateRun:
// acquire the run lock, spawn the lock-renewal and cancellation-poller
// goroutines, fire the appropriate start/resume hook, drive the step
// loop, fire the appropriate terminal hook, and persist.
func runOrchestration(rc core.ContextWithAbort, deps *Deps, manifest *core.Manifest, run *core.RunRecord, fresh bool) (*core.RunRecord, error) {
	ctx, span := tracer.Start(rc.Context, "Orchestrator.OrchestrateRun")
	defer span.End()
	span.SetAttributes(attribute.String("run.id", run.RunID))

	handle, acquired, err := deps.Locks.Acquire(ctx, run.RunID, deps.LockTTL)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !acquired {
		err := core.ErrAlreadyRunning("run is already being executed by another worker", nil, map[string]any{"runId": run.RunID})
		return nil, err
	}
	defer deps.Locks.Release(ctx, handle)

	stopRenew := renewLockPeriodically(ctx, deps, handle)
	defer stopRenew()

	cancelCh, stopPoller := startPoller(rc, deps.Signals, run.RunID, deps.CancellationPollInterval)
	defer stopPoller()

	effectiveCancelCh := cancelCh
	var timedOut *bool
	if deps.RunTimeout > 0 {
		timeoutCtx, cancelTimeout := context.WithTimeout(ctx, deps.RunTimeout)
		defer cancelTimeout()
		// Threading the timeout-bounded context through rc means every
		// descendant context (the step loop's spans, executeToolsStep's
		// toolCtx, the interleaver's execCtx) inherits the same deadline,
		// so a timed-out run aborts in-flight tool calls the same way an
		// operator cancellation does, not just the step loop's own wait.
		rc.Context = timeoutCtx
		effectiveCancelCh, timedOut = timeoutMergedCancel(timeoutCtx, cancelCh)
	}

	var hookErr error
	if fresh {
		hookErr = deps.Observers.OnStart(ctx, run)
	} else {
		hookErr = deps.Observers.OnResume(ctx, run)
	}
	if hookErr != nil {
		return failRunOnHookError(ctx, deps, run, hookErr)
	}

	if err := runStepLoop(rc, run, manifest, deps, effectiveCancelCh); err != nil {
		run.ElapsedExecutionMs += deps.clock().Now().Sub(run.StartedAt).Milliseconds()
		deps.Observers.OnError(ctx, run, err)
		_ = deps.States.Put(ctx, run, deps.StateTTL)
		return run, err
	}

	run.ElapsedExecutionMs += deps.clock().Now().Sub(run.StartedAt).Milliseconds()

	// The lifecycle hook for this step's outcome fires before the record
	// is persisted: per spec §4.9 a hook error turns the run terminally
	// failed instead, and per spec §3 a terminal status, once persisted,
	// must never change again — so the flip has to happen first.
	switch run.Status {
	case core.RunStatusSuspended:
		hookErr = deps.Observers.OnSuspend(ctx, run)
	case core.RunStatusCompleted:
		hookErr = deps.Observers.OnComplete(ctx, run)
	case core.RunStatusCancelled:
		if timedOut != nil && *timedOut {
			run.Status = core.RunStatusFailed
			run.Error = core.ErrTimeout("run exceeded its configured wall-clock timeout", nil, map[string]any{"runId": run.RunID, "timeoutMs": deps.RunTimeout.Milliseconds()}).Error()
			deps.Observers.OnError(ctx, run, errors.New(run.Error))
		} else {
			deps.Observers.OnCancel(ctx, run)
		}
	}
	if hookErr != nil {
		return failRunOnHookError(ctx, deps, run, hookErr)
	}

	if err := deps.States.Put(ctx, run, deps.StateTTL); err != nil {
		span.RecordError(err)
		return run, err
	}

	return run, nil
}

// failRunOnHookError implements spec §4.9's "hook failure is a fatal run
// failure": it overwrites the in-memory (not-yet-persisted-as-its-final-
// status) record to Failed, fires OnError best-effort, persists once, and
// propagates the error to the caller.
func failRunOnHookError(ctx context.Context, deps *Deps, run *core.RunRecord, hookErr error) (*core.RunRecord, error) {
	run.Status = core.RunStatusFailed
	run.Error = hookErr.Error()
	run.UpdatedAt = deps.clock().Now()
	deps.Observers.OnError(ctx, run, hookErr)
	_ = deps.States.Put(ctx, run, deps.StateTTL)
	return run, hookErr
}

// applyApprovalResponse folds a resume's approval decision into the
// suspended run (spec §4.7): rejected calls are answered inline with a
// synthetic tool result (the LLM sees a normal tool response and may
// retry at its own level) and dropped from PendingToolCallIDs; approved
// calls are dropped from PendingToolCallIDs too, so executeToolsStep
// picks them up on the next step. A pending call named in neither list
// stays pending — the run remains suspended on it rather than being
// silently treated as approved, since only an explicit decision resolves
// an approval.
func applyApprovalResponse(run *core.RunRecord, approvedCallIDs, rejectedCallIDs []string) {
	if run.Suspension == nil {
		return
	}
	rejected := make(map[string]bool, len(rejectedCallIDs))
	for _, id := range rejectedCallIDs {
		rejected[id] = true
	}
	decided := make(map[string]bool, len(approvedCallIDs)+len(rejectedCallIDs))
	for _, id := range approvedCallIDs {
		decided[id] = true
	}
	for _, id := range rejectedCallIDs {
		decided[id] = true
	}
	for _, id := range rejectedCallIDs {
		run.Messages = append(run.Messages, core.Message{OfToolResult: &core.ToolResultMessage{
			Result: core.ToolResult{ToolCallID: id, OfOutput: &core.ToolOutput{Output: "tool call rejected by approver"}},
		}})
	}
	var stillPending []string
	for _, id := range run.Suspension.PendingToolCallIDs {
		if !decided[id] {
			stillPending = append(stillPending, id)
		}
	}
	if len(stillPending) == 0 {
		run.Suspension = nil
	} else {
		run.Suspension.PendingToolCallIDs = stillPending
	}
}

// renewLockPeriodically keeps the run lock alive for the duration of a
// long-running step loop so a live worker is never mistaken for a
// crashed one by the cancel action's TTL check.
func renewLockPeriodically(ctx context.Context, deps *Deps, handle core.LockHandle) func() {
	stop := make(chan struct{})
	go func() {
		interval := deps.LockTTL / 2
		if interval <= 0 {
			interval = time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if ok, err := deps.Locks.Renew(ctx, handle, deps.LockTTL); err != nil || !ok {
					slog.Warn("failed to renew run lock", slog.String("runId", handle.RunID), slog.Any("error", err))
					return
				}
			}
		}
	}()
	return func() {
		select {
		case <-stop:
		default:
			close(stop)
		}
	}
}

// timeoutMergedCancel races the poller's cancellation channel against a
// wall-clock deadline: whichever fires first closes the returned channel,
// so callers that only know how to select on "one cancellation channel"
// (runStepLoop, the interleaver) don't need to change. The bool pointer
// lets runOrchestration tell the two apart afterwards to persist the
// right terminal status: Cancelled for an operator signal, Failed with a
// Timeout-kind error for an expired deadline. Safe without extra
// synchronization because the write to *timedOut happens-before the
// close(out) the caller waits on.
func timeoutMergedCancel(ctx context.Context, cancelCh <-chan struct{}) (<-chan struct{}, *bool) {
	out := make(chan struct{})
	timedOut := new(bool)
	go func() {
		defer close(out)
		select {
		case <-cancelCh:
		case <-ctx.Done():
			*timedOut = true
		}
	}()
	return out, timedOut
}
