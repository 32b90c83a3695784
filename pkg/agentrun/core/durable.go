package core

import "context"

// DurableExecutor is the seam for running work inside a durable-execution
// host instead of directly against StateStore/Lock. The step loop (C6)
// does not call it. NoOpExecutor runs fn directly, with no extra
// durability beyond C1; the Restate binding wraps a whole StartRun in a
// single restate.Run, so Restate journals the run's result as one step
// rather than checkpointing each step of the run.
//
// Grounded verbatim on pkg/agent-framework/core/durable.go's
// DurableExecutor/NoOpExecutor/DurableRun shape.
type DurableExecutor interface {
	Run(ctx context.Context, name string, fn func(ctx context.Context) (any, error)) (any, error)
	Set(ctx context.Context, key string, value any) error
	Get(ctx context.Context, key string) (any, bool, error)
	Checkpoint(ctx context.Context, name string) error
}

// NoOpExecutor is the default executor: it runs steps directly with no
// extra checkpointing, relying solely on C1 (the StateStore) for
// durability. This is the in-process orchestrator's executor.
type NoOpExecutor struct{}

func NewNoOpExecutor() *NoOpExecutor { return &NoOpExecutor{} }

func (e *NoOpExecutor) Run(ctx context.Context, name string, fn func(ctx context.Context) (any, error)) (any, error) {
	return fn(ctx)
}

func (e *NoOpExecutor) Set(ctx context.Context, key string, value any) error { return nil }

func (e *NoOpExecutor) Get(ctx context.Context, key string) (any, bool, error) { return nil, false, nil }

func (e *NoOpExecutor) Checkpoint(ctx context.Context, name string) error { return nil }

var _ DurableExecutor = (*NoOpExecutor)(nil)

// DurableRun is a type-safe wrapper over DurableExecutor.Run.
func DurableRun[T any](ctx context.Context, executor DurableExecutor, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	result, err := executor.Run(ctx, name, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}
	if result == nil {
		return zero, nil
	}
	typed, ok := result.(T)
	if !ok {
		return zero, nil
	}
	return typed, nil
}
