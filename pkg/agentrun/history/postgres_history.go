// Package history implements core.ChatHistory, the pluggable
// conversation-persistence strategy a Manifest's HistoryPolicy sits in
// front of. Adapted from pkg/agent-framework/history's
// CommonConversationManager and internal/services/conversation's sqlx
// repo, trimmed to the single "messages chained by id" table this core
// actually needs (the teacher's separate conversations/threads/summaries
// tables collapse into one, since multi-tenant project/namespace
// bookkeeping is out of this core's scope).
package history

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jmoiron/sqlx"

	"github.com/runloom/runloom/pkg/agentrun/core"
)

// PostgresChatHistory stores message batches as JSONB rows keyed by
// message id, chained to their predecessor, grounded on
// conversation_repo.go's GetContext/ExecContext sqlx idiom.
type PostgresChatHistory struct {
	db *sqlx.DB
}

func NewPostgresChatHistory(db *sqlx.DB) *PostgresChatHistory {
	return &PostgresChatHistory{db: db}
}

type messageRow struct {
	MessageID     string `db:"message_id"`
	PreviousMsgID string `db:"previous_message_id"`
	Namespace     string `db:"namespace"`
	Messages      []byte `db:"messages"`
}

func (h *PostgresChatHistory) LoadMessages(ctx context.Context, namespace, previousMessageID string) ([]core.Message, error) {
	var all []core.Message

	msgID := previousMessageID
	for msgID != "" {
		var row messageRow
		err := h.db.GetContext(ctx, &row, `
			SELECT message_id, previous_message_id, namespace, messages
			FROM conversation_messages WHERE message_id = $1 AND namespace = $2
		`, msgID, namespace)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				break
			}
			return nil, core.ErrInternal("failed to load conversation messages", err)
		}

		var batch []core.Message
		if err := sonic.Unmarshal(row.Messages, &batch); err != nil {
			return nil, core.ErrInternal("failed to decode conversation messages", err)
		}
		all = append(batch, all...)
		msgID = row.PreviousMsgID
	}

	return all, nil
}

func (h *PostgresChatHistory) SaveMessages(ctx context.Context, namespace, msgID, previousMsgID string, messages []core.Message) error {
	raw, err := sonic.Marshal(messages)
	if err != nil {
		return core.ErrInternal("failed to encode conversation messages", err)
	}

	_, err = h.db.ExecContext(ctx, `
		INSERT INTO conversation_messages (message_id, previous_message_id, namespace, messages, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (message_id) DO UPDATE SET messages = $4
	`, msgID, previousMsgID, namespace, raw, time.Now())
	if err != nil {
		return core.ErrInternal("failed to save conversation messages", err)
	}
	return nil
}

var _ core.ChatHistory = (*PostgresChatHistory)(nil)

// SlidingWindowPolicy summarizes everything older than KeepLast messages
// once the total exceeds Threshold, via one extra LLM call through the
// given summarizer. It wraps a ChatHistory rather than replacing it, so
// it can fall back to returning the raw messages unsummarized if the
// summarizer call fails.
type SlidingWindowPolicy struct {
	Inner       core.ChatHistory
	Summarizer  core.HistorySummarizer
	Threshold   int
	KeepLast    int
}

func (p *SlidingWindowPolicy) LoadMessages(ctx context.Context, namespace, previousMessageID string) ([]core.Message, error) {
	msgs, err := p.Inner.LoadMessages(ctx, namespace, previousMessageID)
	if err != nil {
		return nil, err
	}
	if p.Summarizer == nil || len(msgs) <= p.Threshold {
		return msgs, nil
	}

	cut := len(msgs) - p.KeepLast
	if cut <= 0 {
		return msgs, nil
	}

	summary, err := p.Summarizer.Summarize(ctx, msgs[:cut])
	if err != nil {
		return msgs, nil
	}

	return append([]core.Message{summary}, msgs[cut:]...), nil
}

func (p *SlidingWindowPolicy) SaveMessages(ctx context.Context, namespace, msgID, previousMsgID string, messages []core.Message) error {
	return p.Inner.SaveMessages(ctx, namespace, msgID, previousMsgID, messages)
}

var _ core.ChatHistory = (*SlidingWindowPolicy)(nil)
