package core

// SubAgentEntryPoint is the "same shape as the orchestrator itself"
// collaborator of spec §6.3/§4.6: a sub-agent tool call recurses back
// into a run with this same signature, optionally producing its own
// suspension instead of a result.
type SubAgentEntryPoint interface {
	StartSubRun(ctx ContextWithAbort, manifestName string, input string, toolCallID string, stack *SuspensionStack, depth int) (ToolResult, *RunRecord, error)
}

// HistoryPolicy controls how many of a run's messages the step loop
// sends to the LLM once the conversation grows past a threshold: see
// ApplyHistoryPolicy. Left nil, a manifest always sends the full
// history.
type HistoryPolicy struct {
	SummarizeAfterMessages int
	// KeepLast is how many of the most recent messages survive
	// summarization uncondensed. Defaults to SummarizeAfterMessages when
	// zero.
	KeepLast int
}

// Manifest is the static configuration of one kind of run: which tools
// it may call, whether approval is required, the optional output schema,
// and the history policy. The teacher calls the analogous type an Agent;
// here it is data, not behavior, so the same step loop can run any
// manifest.
type Manifest struct {
	Name          string
	// Version identifies this manifest's configuration revision (spec
	// §3's manifestVersion); purely informational bookkeeping carried
	// onto every RunRecord this manifest executes.
	Version       string
	SystemPrompt  string
	Tools         []Tool
	OutputSchema  map[string]any
	HistoryPolicy *HistoryPolicy
	MaxLoopIters  int
}

func (m *Manifest) ToolByName(name string) Tool {
	for _, t := range m.Tools {
		if t.Spec().Name == name {
			return t
		}
	}
	return nil
}

// ManifestMap is a read-only lookup of manifests by name, handed to the
// orchestrator at wiring time.
type ManifestMap map[string]*Manifest

func (m ManifestMap) Get(name string) (*Manifest, bool) {
	v, ok := m[name]
	return v, ok
}
