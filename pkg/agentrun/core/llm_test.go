package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	cases := []Message{
		{OfUser: &UserMessage{Text: "hello"}},
		{OfAssistant: &AssistantMessage{Text: "hi", ToolCalls: []ToolCall{{ID: "c1", Name: "search", Arguments: `{"q":"x"}`}}}},
		{OfToolCall: &ToolCallMessage{ToolCall: ToolCall{ID: "c1", Name: "search"}}},
		{OfToolResult: &ToolResultMessage{Result: ToolResult{ToolCallID: "c1", OfOutput: &ToolOutput{Output: "42"}}}},
	}

	for _, m := range cases {
		data, err := m.MarshalJSON()
		require.NoError(t, err)

		var out Message
		require.NoError(t, out.UnmarshalJSON(data))
		assert.Equal(t, m, out)
	}
}

func TestToolResultRoundTrip(t *testing.T) {
	cases := []ToolResult{
		{ToolCallID: "a", OfOutput: &ToolOutput{Output: "ok"}},
		{ToolCallID: "b", OfError: &ToolError{Message: "boom"}},
		{ToolCallID: "c", OfAborted: &ToolAborted{}},
	}

	for _, r := range cases {
		data, err := r.MarshalJSON()
		require.NoError(t, err)

		var out ToolResult
		require.NoError(t, out.UnmarshalJSON(data))
		assert.Equal(t, r, out)
	}
}

func TestStreamPartRoundTrip(t *testing.T) {
	cases := []StreamPart{
		{OfTextDelta: &TextDeltaPart{Text: "chunk"}},
		{OfToolCallDelta: &ToolCallDeltaPart{ToolCall: ToolCall{ID: "c1", Name: "t"}}},
		{OfDone: &DonePart{Usage: Usage{InputTokens: 1}, StopReason: "stop"}},
	}

	for _, p := range cases {
		data, err := p.MarshalJSON()
		require.NoError(t, err)

		var out StreamPart
		require.NoError(t, out.UnmarshalJSON(data))
		assert.Equal(t, p, out)
	}
}
