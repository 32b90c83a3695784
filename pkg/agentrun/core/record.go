package core

import (
	"sort"
	"sync"
	"time"

	"github.com/bytedance/sonic"
)

// CurrentSchemaVersion is stamped onto every RunRecord written by this
// version of the core; a StateStore rejects records tagged with a
// different value instead of guessing at a compatible shape (spec §3:
// "reject records with unexpected versions").
const CurrentSchemaVersion = 1

// RunStatus is the terminal-or-not status of a run record. Once a run
// reaches Completed, Failed or Cancelled it never transitions again
// (spec: terminal monotonicity).
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSuspended RunStatus = "suspended"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// SuspensionReason names why a run stopped mid-step without completing.
type SuspensionReason string

const (
	SuspensionAwaitingApproval SuspensionReason = "awaiting_approval"
	SuspensionAwaitingSubAgent SuspensionReason = "awaiting_sub_agent"
)

// Suspension captures everything needed to resume a run at the exact
// point it stopped: which tool calls are pending approval/result, plus
// the partial tool outputs the interleaver had already produced when the
// abort or pause happened.
type Suspension struct {
	Reason                  SuspensionReason `json:"reason"`
	PendingToolCallIDs       []string         `json:"pendingToolCallIds"`
	CompletedToolResultParts []ToolResult     `json:"completedToolResultParts,omitempty"`
}

// StackFrame is one level of a SuspensionStack: a sub-agent invocation
// that is itself suspended, waiting on its own child run.
type StackFrame struct {
	RunID        string `json:"runId"`
	ParentToolCallID string `json:"parentToolCallId"`
	Depth        int    `json:"depth"`
}

// SuspensionStack is the parent -> child chain of suspended runs produced
// when a sub-agent tool call itself suspends. Resuming the top frame must
// walk back down the stack so the correct recursion depth resumes first.
//
// Frames are pushed concurrently: the interleaver (C5) runs every tool
// call in its own goroutine, and more than one of those calls may be a
// sub-agent tool that suspends in the same batch. mu guards Frames so two
// such pushes never race on the same slice.
type SuspensionStack struct {
	mu     sync.Mutex
	Frames []StackFrame `json:"frames,omitempty"`
}

func (s *SuspensionStack) Push(frame StackFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Frames = append(s.Frames, frame)
}

func (s *SuspensionStack) Pop() (StackFrame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Frames) == 0 {
		return StackFrame{}, false
	}
	n := len(s.Frames) - 1
	f := s.Frames[n]
	s.Frames = s.Frames[:n]
	return f, true
}

// ChildIDs is the thread-safe set of spec §3's childStateIds: every direct
// child RunId a run has ever spawned. A run's own tool-execution batch can
// launch more than one sub-agent call concurrently (the interleaver runs
// each in its own goroutine), so inserts are mutex-guarded the same way
// SuspensionStack's Frames are.
type ChildIDs struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func (c *ChildIDs) Add(id string) {
	if id == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ids == nil {
		c.ids = make(map[string]struct{})
	}
	c.ids[id] = struct{}{}
}

// Slice returns the set's members in insertion-independent sorted order,
// so two snapshots of the same set always compare equal regardless of
// which goroutine inserted first.
func (c *ChildIDs) Slice() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.ids))
	for id := range c.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (c *ChildIDs) MarshalJSON() ([]byte, error) {
	return sonic.Marshal(c.Slice())
}

func (c *ChildIDs) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := sonic.Unmarshal(data, &ids); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		c.ids[id] = struct{}{}
	}
	return nil
}

// Usage accumulates token accounting across every step of a run.
type Usage struct {
	InputTokens  int64 `json:"inputTokens"`
	OutputTokens int64 `json:"outputTokens"`
	CachedTokens int64 `json:"cachedTokens"`
}

func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CachedTokens += other.CachedTokens
}

// RunRecord is the persisted record of a single run, per spec §3. It is
// the unit of state the StateStore reads and writes; everything needed
// to resume a run after a process restart lives here.
type RunRecord struct {
	RunID        string    `json:"runId"`
	SchemaVersion int      `json:"schemaVersion"`
	ManifestName string    `json:"manifestName"`
	// ManifestVersion and RootManifestID identify the agent configuration
	// this run executes (spec §3); ManifestName already serves as the
	// record's manifestId since manifests are looked up by name
	// (core.ManifestMap). RootManifestID is the manifest name at the top
	// of the recursion stack, threaded down through every sub-agent call
	// so a deeply-nested child can still name the manifest the whole tree
	// started from.
	ManifestVersion string `json:"manifestVersion,omitempty"`
	RootManifestID  string `json:"rootManifestId"`
	Namespace    string    `json:"namespace"`
	Status       RunStatus `json:"status"`

	Messages []Message `json:"messages"`

	LoopIteration int `json:"loopIteration"`

	// ChildStateIDs is spec §3's set of direct child RunIds ever spawned
	// by this run; lineage beyond one level is recovered transiently via
	// SuspensionStack, never stored as a parent back-pointer on the child.
	ChildStateIDs *ChildIDs `json:"childStateIds,omitempty"`

	Suspension      *Suspension      `json:"suspension,omitempty"`
	SuspensionStack *SuspensionStack `json:"suspensionStack,omitempty"`

	Usage Usage `json:"usage"`

	OutputSchema map[string]any `json:"outputSchema,omitempty"`

	Error string `json:"error,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// StartedAt is reset to "now" every time the record transitions into
	// Running (spec §3): it anchors the cancel action's crash-detection
	// duration check (§4.8 handleRunning), not the record's overall age.
	StartedAt time.Time `json:"startedAt"`

	// ElapsedExecutionMs is the monotonically-increasing sum of prior
	// running segments' durations (spec §3 invariant).
	ElapsedExecutionMs int64 `json:"elapsedExecutionMs"`
}

// IsResumable reports whether the record can be handed back into the
// step loop (i.e. it isn't already terminal).
func (r *RunRecord) IsResumable() bool {
	return !r.Status.Terminal()
}
