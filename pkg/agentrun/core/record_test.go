package core

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunStatusTerminal(t *testing.T) {
	terminal := []RunStatus{RunStatusCompleted, RunStatusFailed, RunStatusCancelled}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), "%s should be terminal", s)
	}

	nonTerminal := []RunStatus{RunStatusRunning, RunStatusSuspended}
	for _, s := range nonTerminal {
		assert.False(t, s.Terminal(), "%s should not be terminal", s)
	}
}

func TestRunRecordIsResumable(t *testing.T) {
	r := &RunRecord{Status: RunStatusSuspended}
	assert.True(t, r.IsResumable())

	r.Status = RunStatusCompleted
	assert.False(t, r.IsResumable())
}

func TestSuspensionStackPushPop(t *testing.T) {
	var stack SuspensionStack
	_, ok := stack.Pop()
	require.False(t, ok)

	stack.Push(StackFrame{RunID: "r1", Depth: 0})
	stack.Push(StackFrame{RunID: "r2", Depth: 1})

	f, ok := stack.Pop()
	require.True(t, ok)
	assert.Equal(t, "r2", f.RunID)

	f, ok = stack.Pop()
	require.True(t, ok)
	assert.Equal(t, "r1", f.RunID)

	_, ok = stack.Pop()
	assert.False(t, ok)
}

func TestUsageAdd(t *testing.T) {
	u := Usage{InputTokens: 10, OutputTokens: 5, CachedTokens: 1}
	u.Add(Usage{InputTokens: 2, OutputTokens: 3, CachedTokens: 1})
	assert.Equal(t, Usage{InputTokens: 12, OutputTokens: 8, CachedTokens: 2}, u)
}

func TestChildIDsConcurrentAddDeduped(t *testing.T) {
	var ids ChildIDs
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ids.Add("child-" + strconv.Itoa(n%5))
		}(i)
	}
	wg.Wait()

	assert.Len(t, ids.Slice(), 5)
}

func TestChildIDsRoundTrip(t *testing.T) {
	var ids ChildIDs
	ids.Add("b")
	ids.Add("a")

	raw, err := ids.MarshalJSON()
	require.NoError(t, err)

	var decoded ChildIDs
	require.NoError(t, decoded.UnmarshalJSON(raw))
	assert.Equal(t, []string{"a", "b"}, decoded.Slice())
}

func TestValidateSchemaVersion(t *testing.T) {
	assert.NoError(t, ValidateSchemaVersion(&RunRecord{}))
	assert.NoError(t, ValidateSchemaVersion(&RunRecord{SchemaVersion: CurrentSchemaVersion}))
	assert.Error(t, ValidateSchemaVersion(&RunRecord{SchemaVersion: CurrentSchemaVersion + 1}))
}

func TestFakeClockAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewFakeClock(start)
	assert.Equal(t, start, clock.Now())

	clock.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), clock.Now())

	clock.Sleep(10 * time.Second)
	assert.Equal(t, start.Add(100*time.Second), clock.Now())
}
