package poller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSignals struct {
	mu  sync.Mutex
	set map[string]bool
}

func newFakeSignals() *fakeSignals {
	return &fakeSignals{set: map[string]bool{}}
}

func (f *fakeSignals) Set(ctx context.Context, runID string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.set[runID] = true
	return nil
}

func (f *fakeSignals) IsSet(ctx context.Context, runID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.set[runID], nil
}

func TestPollerDetectsSignal(t *testing.T) {
	signals := newFakeSignals()
	ctx := context.Background()

	p := Start(ctx, signals, "run-1", 5*time.Millisecond)
	defer p.Stop()

	select {
	case <-p.Cancelled():
		t.Fatal("poller reported cancellation before the signal was set")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, signals.Set(ctx, "run-1", time.Minute))

	select {
	case <-p.Cancelled():
	case <-time.After(time.Second):
		t.Fatal("poller did not observe the signal in time")
	}
}

func TestPollerStopReleasesGoroutine(t *testing.T) {
	signals := newFakeSignals()
	ctx := context.Background()

	p := Start(ctx, signals, "run-2", 5*time.Millisecond)
	p.Stop()
	// Stop is idempotent.
	assert.NotPanics(t, func() { p.Stop() })

	select {
	case <-p.Cancelled():
		t.Fatal("stopped poller should never report cancellation")
	case <-time.After(30 * time.Millisecond):
	}
}

func TestPollerContextDoneStopsLoop(t *testing.T) {
	signals := newFakeSignals()
	ctx, cancel := context.WithCancel(context.Background())

	p := Start(ctx, signals, "run-3", 5*time.Millisecond)
	cancel()

	select {
	case <-p.Cancelled():
		t.Fatal("context cancellation should stop the loop, not report cancellation")
	case <-time.After(30 * time.Millisecond):
	}
}
