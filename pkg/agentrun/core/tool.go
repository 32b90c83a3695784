package core

import (
	"context"

	"github.com/bytedance/sonic"
)

// ToolSpec is what gets sent to the LLM describing a callable tool
// (name, description, JSON-schema parameters).
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolResult is the tagged-union outcome of executing a single tool
// call (spec §6.2): either it produced output, or it failed, or the
// interleaver aborted it mid-flight and it has no usable output yet.
type ToolResult struct {
	ToolCallID string `json:"toolCallId"`

	OfOutput    *ToolOutput    `json:"-"`
	OfError     *ToolError     `json:"-"`
	OfAborted   *ToolAborted   `json:"-"`
	OfSuspended *ToolSuspended `json:"-"`
}

type ToolOutput struct {
	Output string `json:"output"`
}

type ToolError struct {
	Message string `json:"message"`
}

type ToolAborted struct{}

// ToolSuspended marks a tool call that recursed into a sub-agent (spec
// §4.6/§6.3) which itself suspended on an approval. It carries no usable
// output yet; the interleaver (C5) must surface it as a distinct
// "suspended" branch rather than fold it into completedToolResultParts,
// per spec §4.5's `{suspended, childRunId, pending-approvals}` variant.
type ToolSuspended struct {
	ChildRunID string `json:"childRunId"`
}

func (r ToolResult) MarshalJSON() ([]byte, error) {
	type envelope struct {
		Type       string `json:"type"`
		ToolCallID string `json:"toolCallId"`
		*ToolOutput
		*ToolError
		*ToolSuspended
	}
	switch {
	case r.OfOutput != nil:
		return sonic.Marshal(envelope{"output", r.ToolCallID, r.OfOutput, nil, nil})
	case r.OfError != nil:
		return sonic.Marshal(envelope{"error", r.ToolCallID, nil, r.OfError, nil})
	case r.OfAborted != nil:
		return sonic.Marshal(envelope{"aborted", r.ToolCallID, nil, nil, nil})
	case r.OfSuspended != nil:
		return sonic.Marshal(envelope{"suspended", r.ToolCallID, nil, nil, r.OfSuspended})
	default:
		return []byte("null"), nil
	}
}

func (r *ToolResult) UnmarshalJSON(data []byte) error {
	var tag struct {
		Type       string `json:"type"`
		ToolCallID string `json:"toolCallId"`
	}
	if err := sonic.Unmarshal(data, &tag); err != nil {
		return err
	}
	r.ToolCallID = tag.ToolCallID
	switch tag.Type {
	case "output":
		var v ToolOutput
		if err := sonic.Unmarshal(data, &v); err != nil {
			return err
		}
		r.OfOutput = &v
	case "error":
		var v ToolError
		if err := sonic.Unmarshal(data, &v); err != nil {
			return err
		}
		r.OfError = &v
	case "aborted":
		r.OfAborted = &ToolAborted{}
	case "suspended":
		var v ToolSuspended
		if err := sonic.Unmarshal(data, &v); err != nil {
			return err
		}
		r.OfSuspended = &v
	}
	return nil
}

// Tool is the external collaborator of spec §6.2. Implementations accept
// the run's abort-aware context and must return promptly once ctx is
// cancelled; the interleaver (C5) relies on that contract to bound abort
// latency.
type Tool interface {
	Spec() ToolSpec
	NeedApproval() bool
	Execute(ctx context.Context, call ToolCall) (ToolResult, error)
}

// BaseTool is embedded by concrete tools to provide the approval flag
// half of the Tool interface, mirroring the teacher's BaseTool.
type BaseTool struct {
	ToolSpec         ToolSpec
	RequiresApproval bool
}

func (t *BaseTool) Spec() ToolSpec { return t.ToolSpec }

func (t *BaseTool) NeedApproval() bool { return t.RequiresApproval }
