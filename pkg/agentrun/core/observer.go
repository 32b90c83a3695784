package core

import (
	"context"
	"log/slog"
)

// Observer is the C9 lifecycle hook interface. Every hook is optional
// (embed NoOpObserver for a no-op default) and is invoked in
// registration order. A hook returning an error aborts the rest of the
// chain. An error from OnStart, OnResume, OnSuspend or OnComplete makes
// the surrounding operation fail the run. OnCancel, OnError and
// OnSubAgentError swallow their errors (they are only logged). An error
// from OnSubAgentStart or OnSubAgentComplete is returned from
// SubAgentBridge.StartSubRun, and SubAgentTool turns it into an error
// tool result for the parent run; it does not fail the parent run.
type Observer interface {
	OnStart(ctx context.Context, run *RunRecord) error
	OnResume(ctx context.Context, run *RunRecord) error
	OnSuspend(ctx context.Context, run *RunRecord) error
	OnComplete(ctx context.Context, run *RunRecord) error
	OnCancel(ctx context.Context, run *RunRecord) error
	OnError(ctx context.Context, run *RunRecord, err error) error

	// OnSubAgentStart/Complete/Error fire on the parent's side of a
	// sub-agent recursion boundary (spec §4.9's onSubAgentStart /
	// onSubAgentComplete / onSubAgentError), distinct from the child's own
	// OnStart/OnComplete/OnError, which fire from within the child run
	// itself. Identified by parentRunID/toolCallID rather than a full
	// parent *RunRecord because the boundary fires from inside the tool
	// call, before the parent's own record is re-read and persisted.
	OnSubAgentStart(ctx context.Context, parentRunID, toolCallID, childManifest string) error
	OnSubAgentComplete(ctx context.Context, parentRunID, toolCallID string, child *RunRecord) error
	OnSubAgentError(ctx context.Context, parentRunID, toolCallID string, err error) error
}

// NoOpObserver can be embedded by observers that only care about a
// subset of events.
type NoOpObserver struct{}

func (NoOpObserver) OnStart(context.Context, *RunRecord) error        { return nil }
func (NoOpObserver) OnResume(context.Context, *RunRecord) error       { return nil }
func (NoOpObserver) OnSuspend(context.Context, *RunRecord) error      { return nil }
func (NoOpObserver) OnComplete(context.Context, *RunRecord) error     { return nil }
func (NoOpObserver) OnCancel(context.Context, *RunRecord) error       { return nil }
func (NoOpObserver) OnError(context.Context, *RunRecord, error) error { return nil }

func (NoOpObserver) OnSubAgentStart(context.Context, string, string, string) error { return nil }
func (NoOpObserver) OnSubAgentComplete(context.Context, string, string, *RunRecord) error {
	return nil
}
func (NoOpObserver) OnSubAgentError(context.Context, string, string, error) error { return nil }

// ObserverChain fans one event out to every registered Observer in
// registration order.
type ObserverChain struct {
	observers []Observer
}

func NewObserverChain(observers ...Observer) *ObserverChain {
	return &ObserverChain{observers: observers}
}

func (c *ObserverChain) Add(o Observer) {
	c.observers = append(c.observers, o)
}

// fire runs fn for each observer in order, stopping and returning the
// first error encountered (a panicking observer counts as an error too,
// so a broken subscriber can't take down the process, only the run).
func (c *ObserverChain) fire(ctx context.Context, name string, fn func(Observer) error) (err error) {
	for _, o := range c.observers {
		hookErr := func() (hookErr error) {
			defer func() {
				if r := recover(); r != nil {
					slog.ErrorContext(ctx, "observer panicked", slog.String("hook", name), slog.Any("recover", r))
					hookErr = ErrInternal("observer panicked", nil, map[string]any{"hook": name, "recover": r})
				}
			}()
			return fn(o)
		}()
		if hookErr != nil {
			return hookErr
		}
	}
	return nil
}

// fireSwallowErrors is the same fan-out but for hooks whose failures must
// never surface (OnCancel, OnError: the run is already terminal;
// OnSubAgentError: the sub-agent error itself is already being returned).
func (c *ObserverChain) fireSwallowErrors(ctx context.Context, name string, fn func(Observer) error) {
	if err := c.fire(ctx, name, fn); err != nil {
		slog.ErrorContext(ctx, "observer hook failed (swallowed)", slog.String("hook", name), slog.Any("error", err))
	}
}

func (c *ObserverChain) OnStart(ctx context.Context, run *RunRecord) error {
	return c.fire(ctx, "OnStart", func(o Observer) error { return o.OnStart(ctx, run) })
}

func (c *ObserverChain) OnResume(ctx context.Context, run *RunRecord) error {
	return c.fire(ctx, "OnResume", func(o Observer) error { return o.OnResume(ctx, run) })
}

func (c *ObserverChain) OnSuspend(ctx context.Context, run *RunRecord) error {
	return c.fire(ctx, "OnSuspend", func(o Observer) error { return o.OnSuspend(ctx, run) })
}

func (c *ObserverChain) OnComplete(ctx context.Context, run *RunRecord) error {
	return c.fire(ctx, "OnComplete", func(o Observer) error { return o.OnComplete(ctx, run) })
}

// OnCancel never returns an error to the caller: the run is already
// terminal, so a failing observer here has nothing left to abort.
func (c *ObserverChain) OnCancel(ctx context.Context, run *RunRecord) {
	c.fireSwallowErrors(ctx, "OnCancel", func(o Observer) error { return o.OnCancel(ctx, run) })
}

func (c *ObserverChain) OnError(ctx context.Context, run *RunRecord, err error) {
	c.fireSwallowErrors(ctx, "OnError", func(o Observer) error { return o.OnError(ctx, run, err) })
}

func (c *ObserverChain) OnSubAgentStart(ctx context.Context, parentRunID, toolCallID, childManifest string) error {
	return c.fire(ctx, "OnSubAgentStart", func(o Observer) error {
		return o.OnSubAgentStart(ctx, parentRunID, toolCallID, childManifest)
	})
}

func (c *ObserverChain) OnSubAgentComplete(ctx context.Context, parentRunID, toolCallID string, child *RunRecord) error {
	return c.fire(ctx, "OnSubAgentComplete", func(o Observer) error {
		return o.OnSubAgentComplete(ctx, parentRunID, toolCallID, child)
	})
}

// OnSubAgentError never returns to the caller: it fires after
// OnSubAgentStart, the child's StartRun or OnSubAgentComplete has failed,
// and SubAgentBridge.StartSubRun is already returning that error, so a
// second, swallowed-here
// observer failure would only duplicate bookkeeping, not change outcome.
func (c *ObserverChain) OnSubAgentError(ctx context.Context, parentRunID, toolCallID string, err error) {
	c.fireSwallowErrors(ctx, "OnSubAgentError", func(o Observer) error {
		return o.OnSubAgentError(ctx, parentRunID, toolCallID, err)
	})
}
