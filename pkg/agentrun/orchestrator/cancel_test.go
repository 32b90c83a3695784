package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runloom/runloom/pkg/agentrun/core"
)

// S1: suspend & cancel — cancelling a suspended run marks it cancelled,
// and a repeat call observes already-cancelled (idempotence).
func TestCancelRun_SuspendedBecomesMarkedCancelled(t *testing.T) {
	states := newMemStateStore()
	signals := newMemSignalStore()
	locks := newMemLock()
	clock := core.NewFakeClock(time.Now())
	deps := testDeps(states, signals, locks, clock)

	run := &core.RunRecord{
		RunID:     "r1",
		Status:    core.RunStatusSuspended,
		CreatedAt: clock.Now(),
		UpdatedAt: clock.Now(),
		Suspension: &core.Suspension{
			Reason:             core.SuspensionAwaitingApproval,
			PendingToolCallIDs: []string{"a1"},
		},
	}
	require.NoError(t, states.Put(context.Background(), run, time.Hour))

	result, err := CancelRun(context.Background(), deps, "r1", DefaultCancelOptions())
	require.NoError(t, err)
	assert.Equal(t, CancelResultMarkedCancelled, result)

	stored, err := states.Get(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, core.RunStatusCancelled, stored.Status)

	// Idempotent repeat.
	result, err = CancelRun(context.Background(), deps, "r1", DefaultCancelOptions())
	require.NoError(t, err)
	assert.Equal(t, CancelResultAlreadyCancelled, result)
}

// S2: cancel completed — a terminal run rejects the cancel as a bad
// request rather than silently no-op'ing.
func TestCancelRun_TerminalRunIsRejected(t *testing.T) {
	states := newMemStateStore()
	signals := newMemSignalStore()
	locks := newMemLock()
	deps := testDeps(states, signals, locks, core.NewFakeClock(time.Now()))

	run := &core.RunRecord{RunID: "r2", Status: core.RunStatusCompleted}
	require.NoError(t, states.Put(context.Background(), run, time.Hour))

	_, err := CancelRun(context.Background(), deps, "r2", DefaultCancelOptions())
	require.Error(t, err)
	assert.True(t, core.IsBadRequest(err))

	run2 := &core.RunRecord{RunID: "r2b", Status: core.RunStatusFailed}
	require.NoError(t, states.Put(context.Background(), run2, time.Hour))
	_, err = CancelRun(context.Background(), deps, "r2b", DefaultCancelOptions())
	require.Error(t, err)
	assert.True(t, core.IsBadRequest(err))
}

// S3: cancelling a not-found run propagates NotFound.
func TestCancelRun_NotFound(t *testing.T) {
	states := newMemStateStore()
	signals := newMemSignalStore()
	locks := newMemLock()
	deps := testDeps(states, signals, locks, core.NewFakeClock(time.Now()))

	_, err := CancelRun(context.Background(), deps, "does-not-exist", DefaultCancelOptions())
	require.Error(t, err)
	assert.True(t, core.IsNotFound(err))
}

// S4: crash detection — a running record whose startedAt is older than
// the lock TTL, with the lock freely acquirable (no live holder),
// transitions to failed.
func TestCancelRun_CrashDetectionMarksFailed(t *testing.T) {
	states := newMemStateStore()
	signals := newMemSignalStore()
	locks := newMemLock()
	now := time.Now()
	clock := core.NewFakeClock(now)
	deps := testDeps(states, signals, locks, clock)
	deps.LockTTL = 2 * time.Second

	run := &core.RunRecord{
		RunID:     "r4",
		Status:    core.RunStatusRunning,
		StartedAt: now.Add(-60 * time.Second),
		CreatedAt: now.Add(-60 * time.Second),
	}
	require.NoError(t, states.Put(context.Background(), run, time.Hour))

	result, err := CancelRun(context.Background(), deps, "r4", DefaultCancelOptions())
	require.NoError(t, err)
	assert.Equal(t, CancelResultMarkedFailed, result)

	stored, err := states.Get(context.Background(), "r4")
	require.NoError(t, err)
	assert.Equal(t, core.RunStatusFailed, stored.Status)
	assert.NotEmpty(t, stored.Error)
}

// A caller-supplied lockTtl override (spec §4.8's `lockTtl?` option) must
// govern the crash-detection duration check the same way it governs
// acquisition, not just the latter: a run whose elapsed time exceeds the
// override but not the configured default must still be marked failed.
func TestCancelRun_CustomLockTTLOverridesCrashDetection(t *testing.T) {
	states := newMemStateStore()
	signals := newMemSignalStore()
	locks := newMemLock()
	now := time.Now()
	clock := core.NewFakeClock(now)
	deps := testDeps(states, signals, locks, clock)
	deps.LockTTL = time.Hour

	run := &core.RunRecord{
		RunID:     "r-custom-ttl",
		Status:    core.RunStatusRunning,
		StartedAt: now.Add(-10 * time.Second),
		CreatedAt: now.Add(-10 * time.Second),
	}
	require.NoError(t, states.Put(context.Background(), run, time.Hour))

	result, err := CancelRun(context.Background(), deps, "r-custom-ttl", CancelOptions{LockTTL: 2 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, CancelResultMarkedFailed, result, "a 10s-old run exceeds a 2s override even though it's within the 1h default")

	stored, err := states.Get(context.Background(), "r-custom-ttl")
	require.NoError(t, err)
	assert.Equal(t, core.RunStatusFailed, stored.Status)
}

// S5: race on race — a running record whose startedAt is recent (within
// the lock TTL) with the lock acquirable only signals; it does not
// finalize the record, since the short elapsed duration reads as a
// benign race rather than a crash.
func TestCancelRun_RecentRunningSignalsInsteadOfFinalizing(t *testing.T) {
	states := newMemStateStore()
	signals := newMemSignalStore()
	locks := newMemLock()
	now := time.Now()
	clock := core.NewFakeClock(now)
	deps := testDeps(states, signals, locks, clock)
	deps.LockTTL = 2 * time.Second

	run := &core.RunRecord{
		RunID:     "r5",
		Status:    core.RunStatusRunning,
		StartedAt: now.Add(-500 * time.Millisecond),
		CreatedAt: now.Add(-500 * time.Millisecond),
	}
	require.NoError(t, states.Put(context.Background(), run, time.Hour))

	result, err := CancelRun(context.Background(), deps, "r5", DefaultCancelOptions())
	require.NoError(t, err)
	assert.Equal(t, CancelResultSignaledRunning, result)

	stored, err := states.Get(context.Background(), "r5")
	require.NoError(t, err)
	assert.Equal(t, core.RunStatusRunning, stored.Status, "a benign race must not finalize the record")

	isSet, err := signals.IsSet(context.Background(), "r5")
	require.NoError(t, err)
	assert.True(t, isSet)
}

// A running record with a live lock holder never gets finalized locally:
// the cancel call only sets the signal and leaves the record for the
// live worker's own poller to observe.
func TestCancelRun_LiveHolderOnlySignals(t *testing.T) {
	states := newMemStateStore()
	signals := newMemSignalStore()
	locks := newMemLock()
	now := time.Now()
	deps := testDeps(states, signals, locks, core.NewFakeClock(now))
	deps.LockTTL = 2 * time.Second

	run := &core.RunRecord{
		RunID:     "r-live",
		Status:    core.RunStatusRunning,
		StartedAt: now.Add(-1 * time.Hour), // would read as crashed if the lock were free
	}
	require.NoError(t, states.Put(context.Background(), run, time.Hour))
	locks.holdForever("r-live")

	result, err := CancelRun(context.Background(), deps, "r-live", DefaultCancelOptions())
	require.NoError(t, err)
	assert.Equal(t, CancelResultSignaledRunning, result)

	stored, err := states.Get(context.Background(), "r-live")
	require.NoError(t, err)
	assert.Equal(t, core.RunStatusRunning, stored.Status)
}

// S6: recursive (3-level) — a grandparent suspended with a parent and
// child also suspended all end cancelled when recursive is true.
func TestCancelRun_RecursiveThreeLevelCancelsAllDescendants(t *testing.T) {
	states := newMemStateStore()
	signals := newMemSignalStore()
	locks := newMemLock()
	deps := testDeps(states, signals, locks, core.NewFakeClock(time.Now()))

	child := &core.RunRecord{RunID: "child", Status: core.RunStatusSuspended}
	parent := &core.RunRecord{
		RunID:  "parent",
		Status: core.RunStatusSuspended,
		SuspensionStack: &core.SuspensionStack{
			Frames: []core.StackFrame{{RunID: "child", Depth: 1}},
		},
	}
	grandparent := &core.RunRecord{
		RunID:  "grandparent",
		Status: core.RunStatusSuspended,
		SuspensionStack: &core.SuspensionStack{
			Frames: []core.StackFrame{{RunID: "parent", Depth: 0}},
		},
	}
	ctx := context.Background()
	require.NoError(t, states.Put(ctx, child, time.Hour))
	require.NoError(t, states.Put(ctx, parent, time.Hour))
	require.NoError(t, states.Put(ctx, grandparent, time.Hour))

	result, err := CancelRun(ctx, deps, "grandparent", CancelOptions{Recursive: true})
	require.NoError(t, err)
	assert.Equal(t, CancelResultMarkedCancelled, result)

	for _, id := range []string{"grandparent", "parent", "child"} {
		stored, err := states.Get(ctx, id)
		require.NoError(t, err)
		assert.Equalf(t, core.RunStatusCancelled, stored.Status, "run %s should be cancelled", id)
	}
}

// With recursive=false only the root transitions; descendants are left
// untouched for a later, separate cancellation.
func TestCancelRun_NonRecursiveLeavesChildrenAlone(t *testing.T) {
	states := newMemStateStore()
	signals := newMemSignalStore()
	locks := newMemLock()
	deps := testDeps(states, signals, locks, core.NewFakeClock(time.Now()))

	child := &core.RunRecord{RunID: "child2", Status: core.RunStatusSuspended}
	parent := &core.RunRecord{
		RunID:  "parent2",
		Status: core.RunStatusSuspended,
		SuspensionStack: &core.SuspensionStack{
			Frames: []core.StackFrame{{RunID: "child2", Depth: 1}},
		},
	}
	ctx := context.Background()
	require.NoError(t, states.Put(ctx, child, time.Hour))
	require.NoError(t, states.Put(ctx, parent, time.Hour))

	result, err := CancelRun(ctx, deps, "parent2", CancelOptions{Recursive: false})
	require.NoError(t, err)
	assert.Equal(t, CancelResultMarkedCancelled, result)

	stored, err := states.Get(ctx, "parent2")
	require.NoError(t, err)
	assert.Equal(t, core.RunStatusCancelled, stored.Status)

	childStored, err := states.Get(ctx, "child2")
	require.NoError(t, err)
	assert.Equal(t, core.RunStatusSuspended, childStored.Status, "non-recursive cancel must not touch descendants")
}

func TestSignalCancellation_SetsFlag(t *testing.T) {
	states := newMemStateStore()
	signals := newMemSignalStore()
	locks := newMemLock()
	deps := testDeps(states, signals, locks, core.NewFakeClock(time.Now()))

	err := SignalCancellation(context.Background(), deps, "r-sig", time.Minute)
	require.NoError(t, err)

	isSet, err := signals.IsSet(context.Background(), "r-sig")
	require.NoError(t, err)
	assert.True(t, isSet)
}
