package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runloom/runloom/pkg/agentrun/core"
)

// TestReplyRun_AppendsMessageAndRestartsCompletedRun covers the `reply`
// orchestrateRun input of spec §4.7/§6, the one routing rule that
// resumes a terminal (`completed`) run rather than rejecting it.
func TestReplyRun_AppendsMessageAndRestartsCompletedRun(t *testing.T) {
	states := newMemStateStore()
	signals := newMemSignalStore()
	locks := newMemLock()
	deps := testDeps(states, signals, locks, core.NewFakeClock(time.Now()))
	deps.LLM = scriptedLLM{}

	manifest := &core.Manifest{Name: "replyable"}
	deps.Manifests["replyable"] = manifest

	ctx := context.Background()
	run := &core.RunRecord{
		RunID:        "r-reply",
		ManifestName: "replyable",
		Status:       core.RunStatusCompleted,
		Messages:     []core.Message{{OfAssistant: &core.AssistantMessage{Text: "first answer"}}},
	}
	require.NoError(t, states.Put(ctx, run, time.Hour))

	rc := core.ContextWithAbort{Context: ctx}
	result, err := ReplyRun(rc, deps, "r-reply", "one more thing")
	require.NoError(t, err)
	assert.Equal(t, core.RunStatusCompleted, result.Status, "a manifest with no tools finishes immediately again")

	var sawReply bool
	for _, m := range result.Messages {
		if m.OfUser != nil && m.OfUser.Text == "one more thing" {
			sawReply = true
		}
	}
	assert.True(t, sawReply, "the reply message must be appended to the conversation before restarting")
}

// A reply against anything other than a completed run is rejected, the
// same way OrchestrateRun rejects a resume against a terminal run.
func TestReplyRun_RejectsNonCompletedRun(t *testing.T) {
	states := newMemStateStore()
	signals := newMemSignalStore()
	locks := newMemLock()
	deps := testDeps(states, signals, locks, core.NewFakeClock(time.Now()))

	ctx := context.Background()
	run := &core.RunRecord{RunID: "r-reply-2", ManifestName: "replyable", Status: core.RunStatusSuspended}
	require.NoError(t, states.Put(ctx, run, time.Hour))

	rc := core.ContextWithAbort{Context: ctx}
	_, err := ReplyRun(rc, deps, "r-reply-2", "hello")
	require.Error(t, err)
	assert.True(t, core.IsBadRequest(err))
}
