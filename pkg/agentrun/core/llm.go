package core

import (
	"context"

	"github.com/bytedance/sonic"
)

// Message is a single turn in the conversation sent to/received from the
// LLM. Like responses.InputMessageUnion in the teacher's LLM client, it is
// a discriminated union encoded as "whichever pointer field is non-nil",
// so a single slice type can hold user turns, assistant turns, tool
// calls and tool results without a wrapper per kind.
type Message struct {
	OfUser      *UserMessage      `json:"-"`
	OfAssistant *AssistantMessage `json:"-"`
	OfToolCall  *ToolCallMessage  `json:"-"`
	OfToolResult *ToolResultMessage `json:"-"`
}

type UserMessage struct {
	Text string `json:"text"`
}

type AssistantMessage struct {
	Text      string     `json:"text,omitempty"`
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`
}

type ToolCallMessage struct {
	ToolCall ToolCall `json:"toolCall"`
}

type ToolResultMessage struct {
	Result ToolResult `json:"result"`
}

type taggedMessage struct {
	Type string `json:"type"`
}

// MarshalJSON emits {"type": "...", ...fields} using whichever variant is set.
func (m Message) MarshalJSON() ([]byte, error) {
	switch {
	case m.OfUser != nil:
		return sonic.Marshal(struct {
			Type string `json:"type"`
			*UserMessage
		}{"user", m.OfUser})
	case m.OfAssistant != nil:
		return sonic.Marshal(struct {
			Type string `json:"type"`
			*AssistantMessage
		}{"assistant", m.OfAssistant})
	case m.OfToolCall != nil:
		return sonic.Marshal(struct {
			Type string `json:"type"`
			*ToolCallMessage
		}{"tool_call", m.OfToolCall})
	case m.OfToolResult != nil:
		return sonic.Marshal(struct {
			Type string `json:"type"`
			*ToolResultMessage
		}{"tool_result", m.OfToolResult})
	default:
		return []byte("null"), nil
	}
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var tag taggedMessage
	if err := sonic.Unmarshal(data, &tag); err != nil {
		return err
	}
	switch tag.Type {
	case "user":
		var v UserMessage
		if err := sonic.Unmarshal(data, &v); err != nil {
			return err
		}
		m.OfUser = &v
	case "assistant":
		var v AssistantMessage
		if err := sonic.Unmarshal(data, &v); err != nil {
			return err
		}
		m.OfAssistant = &v
	case "tool_call":
		var v ToolCallMessage
		if err := sonic.Unmarshal(data, &v); err != nil {
			return err
		}
		m.OfToolCall = &v
	case "tool_result":
		var v ToolResultMessage
		if err := sonic.Unmarshal(data, &v); err != nil {
			return err
		}
		m.OfToolResult = &v
	}
	return nil
}

// ToolCall is a single function/tool invocation requested by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// StreamPart is one chunk of an LLM streaming response. Mirrors
// responses.ResponseChunk's "one struct, many optional fields, custom
// (un)marshal tries each variant" shape, adapted to the smaller surface
// this core actually needs: text deltas, tool-call deltas, and a final
// usage/stop-reason summary.
type StreamPart struct {
	OfTextDelta    *TextDeltaPart    `json:"-"`
	OfToolCallDelta *ToolCallDeltaPart `json:"-"`
	OfDone         *DonePart         `json:"-"`
}

type TextDeltaPart struct {
	Text string `json:"text"`
}

type ToolCallDeltaPart struct {
	ToolCall ToolCall `json:"toolCall"`
}

type DonePart struct {
	Usage      Usage  `json:"usage"`
	StopReason string `json:"stopReason"`
}

func (p StreamPart) MarshalJSON() ([]byte, error) {
	switch {
	case p.OfTextDelta != nil:
		return sonic.Marshal(struct {
			Type string `json:"type"`
			*TextDeltaPart
		}{"text_delta", p.OfTextDelta})
	case p.OfToolCallDelta != nil:
		return sonic.Marshal(struct {
			Type string `json:"type"`
			*ToolCallDeltaPart
		}{"tool_call_delta", p.OfToolCallDelta})
	case p.OfDone != nil:
		return sonic.Marshal(struct {
			Type string `json:"type"`
			*DonePart
		}{"done", p.OfDone})
	default:
		return []byte("null"), nil
	}
}

func (p *StreamPart) UnmarshalJSON(data []byte) error {
	var tag taggedMessage
	if err := sonic.Unmarshal(data, &tag); err != nil {
		return err
	}
	switch tag.Type {
	case "text_delta":
		var v TextDeltaPart
		if err := sonic.Unmarshal(data, &v); err != nil {
			return err
		}
		p.OfTextDelta = &v
	case "tool_call_delta":
		var v ToolCallDeltaPart
		if err := sonic.Unmarshal(data, &v); err != nil {
			return err
		}
		p.OfToolCallDelta = &v
	case "done":
		var v DonePart
		if err := sonic.Unmarshal(data, &v); err != nil {
			return err
		}
		p.OfDone = &v
	}
	return nil
}

// LLMClient is the external collaborator of spec §6.1: a streaming LLM
// call that yields StreamParts and a final assistant Message.
//
// systemPrompt is passed alongside messages rather than folded into them
// as a turn of its own, the same split the teacher's chat-completion
// request makes between a top-level Instructions string and the message
// list: a manifest's instruction is configuration about how to run the
// conversation, not a turn within it.
// outputSchema, when non-nil, is the manifest's configured response
// shape (spec_full §12's structured output): a real client validates or
// constrains generation against it; one that can't honor structured
// output is free to ignore it.
type LLMClient interface {
	StreamCompletion(ctx context.Context, systemPrompt string, messages []Message, tools []ToolSpec, outputSchema map[string]any, onPart func(StreamPart)) (*AssistantMessage, Usage, error)
}
