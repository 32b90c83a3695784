package core

import "context"

// ChatHistory is the optional, pluggable conversation-persistence
// interface (spec_full §12) for loading and saving a conversation's
// turns. A Manifest's HistoryPolicy does not go through it: the step
// loop's callLLMStep applies the policy to the run's in-memory messages
// via ApplyHistoryPolicy before each LLM call.
type ChatHistory interface {
	// LoadMessages fetches prior turns of a conversation by namespace,
	// optionally anchored after previousMessageID (empty = from start).
	LoadMessages(ctx context.Context, namespace, previousMessageID string) ([]Message, error)

	// SaveMessages persists newly produced turns under msgID, chained to
	// previousMsgID.
	SaveMessages(ctx context.Context, namespace, msgID, previousMsgID string, messages []Message) error
}

// HistorySummarizer condenses older messages into a single summary
// message once a ChatHistory's policy threshold is exceeded.
type HistorySummarizer interface {
	Summarize(ctx context.Context, messages []Message) (Message, error)
}

// ApplyHistoryPolicy condenses messages the same way
// history.SlidingWindowPolicy condenses a loaded conversation, but
// directly against a run's in-memory message list rather than through a
// ChatHistory round trip: once len(messages) exceeds
// policy.SummarizeAfterMessages, everything older than the last
// policy.KeepLast messages is replaced by one summary message. Returns
// messages unchanged if policy or summarizer is nil, the threshold isn't
// exceeded yet, or summarization fails — a failed summary call must
// never block the step loop from calling the LLM at all.
func ApplyHistoryPolicy(ctx context.Context, policy *HistoryPolicy, summarizer HistorySummarizer, messages []Message) []Message {
	if policy == nil || summarizer == nil || len(messages) <= policy.SummarizeAfterMessages {
		return messages
	}

	keepLast := policy.KeepLast
	if keepLast <= 0 {
		keepLast = policy.SummarizeAfterMessages
	}
	cut := len(messages) - keepLast
	if cut <= 0 {
		return messages
	}

	summary, err := summarizer.Summarize(ctx, messages[:cut])
	if err != nil {
		return messages
	}

	condensed := make([]Message, 0, 1+keepLast)
	condensed = append(condensed, summary)
	condensed = append(condensed, messages[cut:]...)
	return condensed
}
