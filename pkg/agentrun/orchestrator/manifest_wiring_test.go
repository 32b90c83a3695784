package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runloom/runloom/pkg/agentrun/core"
)

// recordingLLM captures what callLLMStep actually hands to the LLM, so
// tests can assert a manifest's OutputSchema and HistoryPolicy reach the
// call instead of sitting unused on the Manifest struct.
type recordingLLM struct {
	gotMessages     []core.Message
	gotOutputSchema map[string]any
}

func (l *recordingLLM) StreamCompletion(ctx context.Context, systemPrompt string, messages []core.Message, tools []core.ToolSpec, outputSchema map[string]any, onPart func(core.StreamPart)) (*core.AssistantMessage, core.Usage, error) {
	l.gotMessages = messages
	l.gotOutputSchema = outputSchema
	return &core.AssistantMessage{Text: "done"}, core.Usage{}, nil
}

func TestStartRun_CopiesManifestOutputSchemaOntoRecord(t *testing.T) {
	states := newMemStateStore()
	signals := newMemSignalStore()
	locks := newMemLock()
	deps := testDeps(states, signals, locks, core.NewFakeClock(time.Now()))
	llm := &recordingLLM{}
	deps.LLM = llm

	schema := map[string]any{"type": "object", "properties": map[string]any{"answer": map[string]any{"type": "string"}}}
	manifest := &core.Manifest{Name: "structured", OutputSchema: schema}
	deps.Manifests["structured"] = manifest

	rc := core.ContextWithAbort{Context: context.Background()}
	run, err := StartRun(rc, deps, "structured", nil)
	require.NoError(t, err)

	assert.Equal(t, schema, run.OutputSchema, "the run record must carry the manifest's configured output schema")
	assert.Equal(t, schema, llm.gotOutputSchema, "the LLM call must be told about the manifest's output schema")
}

func TestCallLLMStep_AppliesManifestHistoryPolicy(t *testing.T) {
	states := newMemStateStore()
	signals := newMemSignalStore()
	locks := newMemLock()
	deps := testDeps(states, signals, locks, core.NewFakeClock(time.Now()))
	llm := &recordingLLM{}
	deps.LLM = llm
	deps.HistorySummarizer = stubHistorySummarizer{
		summary: core.Message{OfAssistant: &core.AssistantMessage{Text: "condensed"}},
	}

	manifest := &core.Manifest{
		Name:          "summarizing",
		HistoryPolicy: &core.HistoryPolicy{SummarizeAfterMessages: 2, KeepLast: 1},
	}

	run := &core.RunRecord{
		RunID: "r-hist",
		Messages: []core.Message{
			{OfUser: &core.UserMessage{Text: "one"}},
			{OfUser: &core.UserMessage{Text: "two"}},
			{OfUser: &core.UserMessage{Text: "three"}},
		},
	}

	_, err := callLLMStep(core.ContextWithAbort{Context: context.Background()}, run, manifest, deps)
	require.NoError(t, err)

	require.Len(t, llm.gotMessages, 2, "messages older than KeepLast must be condensed into one summary")
	assert.Equal(t, "condensed", llm.gotMessages[0].OfAssistant.Text)
	assert.Equal(t, "three", llm.gotMessages[1].OfUser.Text)
}

type stubHistorySummarizer struct{ summary core.Message }

func (s stubHistorySummarizer) Summarize(ctx context.Context, messages []core.Message) (core.Message, error) {
	return s.summary, nil
}
