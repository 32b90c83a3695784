// Package restatebinding wires core.DurableExecutor to Restate, so the
// same orchestrator code can run either in-process (durability from
// C1/C3 alone) or hosted inside a Restate service (this package).
// RunWorkflow journals a whole run as one restate.Run step; the step
// loop does not checkpoint its individual steps through this executor.
//
// Adapted from pkg/agent-framework/providers/restate/executor.go, the
// teacher's generic core.DurableExecutor-shaped Restate adapter — kept
// over pkg/agent-framework/runtime/restate_runtime's executor, which
// hard-wired itself to the teacher's own Agent/conversation types
// instead of implementing the generic DurableExecutor interface and so
// had no equivalent in this core's shape.
package restatebinding

import (
	"context"
	"fmt"

	restate "github.com/restatedev/sdk-go"

	"github.com/runloom/runloom/pkg/agentrun/core"
)

// Executor implements core.DurableExecutor over a Restate
// restate.WorkflowContext. Each call to Run becomes a restate.Run step;
// if the host process crashes after a step completes, Restate replays
// the stored result instead of re-invoking fn.
type Executor struct {
	ctx restate.WorkflowContext
}

func NewExecutor(ctx restate.WorkflowContext) *Executor {
	return &Executor{ctx: ctx}
}

func (e *Executor) Run(ctx context.Context, name string, fn func(ctx context.Context) (any, error)) (any, error) {
	return restate.Run(e.ctx, func(runCtx restate.RunContext) (any, error) {
		return fn(runCtx)
	})
}

func (e *Executor) Set(ctx context.Context, key string, value any) error {
	restate.Set(e.ctx, key, value)
	return nil
}

func (e *Executor) Get(ctx context.Context, key string) (any, bool, error) {
	value, err := restate.Get[any](e.ctx, key)
	if err != nil {
		return nil, false, err
	}
	return value, value != nil, nil
}

func (e *Executor) Checkpoint(ctx context.Context, name string) error {
	_, err := restate.Run(e.ctx, func(runCtx restate.RunContext) (bool, error) {
		return true, nil
	})
	return err
}

var _ core.DurableExecutor = (*Executor)(nil)

// RunID returns the Restate virtual-object key, used as the run id for
// workflows hosted under this binding.
func RunID(ctx restate.WorkflowContext) string {
	return restate.Key(ctx)
}

// WrapOrchestration adapts an (input -> output) orchestration function
// to run as a single durable Restate step, for handlers that want the
// whole run journaled as one unit rather than step-by-step.
func WrapOrchestration[I any, O any](ctx context.Context, executor core.DurableExecutor, input I, run func(ctx context.Context, input I, executor core.DurableExecutor) (O, error)) (O, error) {
	var zero O
	result, err := executor.Run(ctx, "orchestrate-run", func(ctx context.Context) (any, error) {
		return run(ctx, input, executor)
	})
	if err != nil {
		return zero, err
	}
	typed, ok := result.(O)
	if !ok {
		return zero, fmt.Errorf("unexpected result type from durable run")
	}
	return typed, nil
}
