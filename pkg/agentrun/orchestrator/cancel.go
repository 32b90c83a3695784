package orchestrator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/runloom/runloom/pkg/agentrun/core"
)

// CancelResult is the discriminated outcome of a cancel action (spec
// §4.8). Callers must distinguish every tag — a run that was already
// terminal-cancelled looks nothing like one this call just raced with a
// live worker on.
type CancelResult string

const (
	CancelResultMarkedCancelled  CancelResult = "marked-cancelled"
	CancelResultMarkedFailed     CancelResult = "marked-failed"
	CancelResultSignaledRunning  CancelResult = "signaled-running"
	CancelResultAlreadyCancelled CancelResult = "already-cancelled"
)

// CancelOptions tunes a single CancelRun invocation.
type CancelOptions struct {
	Recursive bool
	Reason    string
	LockTTL   time.Duration
}

// DefaultCancelOptions is what bare CancelRun callers (the HTTP surface,
// tests that don't care) get: recurse through the whole suspension
// stack.
func DefaultCancelOptions() CancelOptions {
	return CancelOptions{Recursive: true}
}

// SignalCancellation is C2's write path exposed as an operation (spec
// §5): set the cancellation flag for a run id. Idempotent by
// construction (core.SignalStore.Set is a SETNX).
func SignalCancellation(ctx context.Context, deps *Deps, runID string, ttl time.Duration) error {
	ctx, span := tracer.Start(ctx, "Orchestrator.SignalCancellation")
	defer span.End()
	span.SetAttributes(attribute.String("run.id", runID))
	return deps.Signals.Set(ctx, runID, ttl)
}

// CancelRun is C8, the most intricate algorithm in the system. It loads
// the record and dispatches on its current status: a cancelled record
// is reported idempotently, a terminal completed/failed record is
// rejected, a suspended record recurses through its children, and a
// running record goes through lock-based liveness and duration-based
// crash detection.
func CancelRun(ctx context.Context, deps *Deps, runID string, opts CancelOptions) (CancelResult, error) {
	ctx, span := tracer.Start(ctx, "Orchestrator.CancelRun")
	defer span.End()
	span.SetAttributes(attribute.String("run.id", runID), attribute.Bool("run.cancel.recursive", opts.Recursive))

	lockTTL := opts.LockTTL
	if lockTTL <= 0 {
		lockTTL = deps.LockTTL
	}

	run, err := deps.States.Get(ctx, runID)
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	result, err := dispatchCancel(ctx, deps, run, opts, lockTTL)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	span.SetAttributes(attribute.String("run.cancel.result", string(result)))
	return result, nil
}

// dispatchCancel is step 2 of §4.8: route on the record's current
// status.
func dispatchCancel(ctx context.Context, deps *Deps, run *core.RunRecord, opts CancelOptions, lockTTL time.Duration) (CancelResult, error) {
	switch run.Status {
	case core.RunStatusCancelled:
		return CancelResultAlreadyCancelled, nil
	case core.RunStatusCompleted, core.RunStatusFailed:
		return "", core.ErrBadRequest("run is in a terminal state", nil, map[string]any{"runId": run.RunID, "status": string(run.Status)})
	case core.RunStatusSuspended:
		return handleSuspended(ctx, deps, run, opts, lockTTL)
	case core.RunStatusRunning:
		return handleRunning(ctx, deps, run, opts, lockTTL)
	default:
		return "", core.ErrInternal("run has unknown status", nil, map[string]any{"runId": run.RunID, "status": string(run.Status)})
	}
}

// handleRunning implements §4.8 handleRunning. Acquiring the lock proves
// no worker is actively holding it; failing to acquire proves one is.
// Only when the lock is ours do we trust a duration check against the
// record's own startedAt to tell a genuine crash apart from a benign
// race with a worker that just released or re-acquired the lock.
func handleRunning(ctx context.Context, deps *Deps, run *core.RunRecord, opts CancelOptions, lockTTL time.Duration) (CancelResult, error) {
	handle, acquired, err := deps.Locks.Acquire(ctx, run.RunID, lockTTL)
	if err != nil {
		return "", err
	}
	if !acquired {
		if err := deps.Signals.Set(ctx, run.RunID, deps.StateTTL); err != nil {
			return "", err
		}
		return CancelResultSignaledRunning, nil
	}
	defer deps.Locks.Release(ctx, handle)

	fresh, err := deps.States.Get(ctx, run.RunID)
	if err != nil {
		return "", err
	}

	switch fresh.Status {
	case core.RunStatusCompleted, core.RunStatusFailed:
		return "", core.ErrBadRequest("run is in a terminal state", nil, map[string]any{"runId": fresh.RunID, "status": string(fresh.Status)})
	case core.RunStatusCancelled:
		return CancelResultAlreadyCancelled, nil
	case core.RunStatusSuspended:
		return handleSuspended(ctx, deps, fresh, opts, lockTTL)
	}

	anchor := fresh.StartedAt
	if anchor.IsZero() {
		anchor = fresh.CreatedAt
	}
	d := deps.clock().Now().Sub(anchor)
	if d > lockTTL {
		fresh.Status = core.RunStatusFailed
		fresh.Error = "cancel: crash detected (lock TTL exceeded with no live holder)"
		fresh.UpdatedAt = deps.clock().Now()
		if err := deps.States.Put(ctx, fresh, deps.StateTTL); err != nil {
			return "", err
		}
		deps.Observers.OnError(ctx, fresh, core.ErrInternal(fresh.Error, nil, nil))
		return CancelResultMarkedFailed, nil
	}

	if err := deps.Signals.Set(ctx, fresh.RunID, deps.StateTTL); err != nil {
		return "", err
	}
	return CancelResultSignaledRunning, nil
}

// handleSuspended implements §4.8 handleSuspended. Children are
// cancelled best-effort before we re-read and re-dispatch on our own
// record, since a child's completion can race ahead and change our
// record out from under us (TOCTOU).
func handleSuspended(ctx context.Context, deps *Deps, run *core.RunRecord, opts CancelOptions, lockTTL time.Duration) (CancelResult, error) {
	if opts.Recursive && run.SuspensionStack != nil {
		children := make([]string, 0, len(run.SuspensionStack.Frames))
		for _, frame := range run.SuspensionStack.Frames {
			if frame.RunID != "" && frame.RunID != run.RunID {
				children = append(children, frame.RunID)
			}
		}
		cancelChildrenBestEffort(ctx, deps, children, opts, lockTTL)
	}

	fresh, err := deps.States.Get(ctx, run.RunID)
	if err != nil {
		if core.IsNotFound(err) {
			return CancelResultAlreadyCancelled, nil
		}
		return "", err
	}

	switch fresh.Status {
	case core.RunStatusCancelled:
		return CancelResultAlreadyCancelled, nil
	case core.RunStatusCompleted, core.RunStatusFailed:
		return "", core.ErrBadRequest("run is in a terminal state", nil, map[string]any{"runId": fresh.RunID, "status": string(fresh.Status)})
	case core.RunStatusRunning:
		return handleRunning(ctx, deps, fresh, opts, lockTTL)
	}

	fresh.Status = core.RunStatusCancelled
	fresh.UpdatedAt = deps.clock().Now()
	if err := deps.States.Put(ctx, fresh, deps.StateTTL); err != nil {
		return "", err
	}
	deps.Observers.OnCancel(ctx, fresh)
	return CancelResultMarkedCancelled, nil
}

// cancelChildrenBestEffort fans cancellation of recursive descendants out
// concurrently; an individual child's failure never aborts the parent's
// own cancellation (spec: children independently persist their own
// state).
func cancelChildrenBestEffort(ctx context.Context, deps *Deps, childRunIDs []string, opts CancelOptions, lockTTL time.Duration) {
	if len(childRunIDs) == 0 {
		return
	}
	done := make(chan struct{}, len(childRunIDs))
	for _, childID := range childRunIDs {
		go func(id string) {
			defer func() { done <- struct{}{} }()
			childOpts := opts
			childOpts.LockTTL = lockTTL
			_, _ = CancelRun(ctx, deps, id, childOpts)
		}(childID)
	}
	for range childRunIDs {
		<-done
	}
}
