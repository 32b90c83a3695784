package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jmoiron/sqlx"

	"github.com/runloom/runloom/pkg/agentrun/core"
)

// PostgresStateStore persists RunRecords as JSONB rows, grounded on
// internal/db's sqlx.DB wiring and the transaction idiom in the
// teacher's conversation repo (GetContext/ExecContext, upsert via
// ON CONFLICT).
type PostgresStateStore struct {
	db *sqlx.DB
}

func NewPostgresStateStore(db *sqlx.DB) *PostgresStateStore {
	return &PostgresStateStore{db: db}
}

type runRow struct {
	RunID     string    `db:"run_id"`
	Record    []byte    `db:"record"`
	ExpiresAt *time.Time `db:"expires_at"`
}

func (s *PostgresStateStore) Get(ctx context.Context, runID string) (*core.RunRecord, error) {
	var row runRow
	err := s.db.GetContext(ctx, &row, `
		SELECT run_id, record, expires_at FROM agent_runs WHERE run_id = $1
	`, runID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound("run not found", err, map[string]any{"runId": runID})
		}
		return nil, core.ErrInternal("postgres get failed", err)
	}
	if row.ExpiresAt != nil && row.ExpiresAt.Before(time.Now()) {
		return nil, core.ErrNotFound("run expired", nil, map[string]any{"runId": runID})
	}

	var run core.RunRecord
	if err := sonic.Unmarshal(row.Record, &run); err != nil {
		return nil, core.ErrInternal("failed to decode run record", err)
	}
	if err := core.ValidateSchemaVersion(&run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *PostgresStateStore) Put(ctx context.Context, run *core.RunRecord, ttl time.Duration) error {
	raw, err := sonic.Marshal(run)
	if err != nil {
		return core.ErrInternal("failed to encode run record", err)
	}

	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expiresAt = &t
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return core.ErrInternal("failed to begin tx", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO agent_runs (run_id, record, expires_at, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (run_id) DO UPDATE SET record = $2, expires_at = $3, updated_at = now()
	`, run.RunID, raw, expiresAt)
	if err != nil {
		return core.ErrInternal("postgres upsert failed", err)
	}

	return tx.Commit()
}

func (s *PostgresStateStore) Delete(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM agent_runs WHERE run_id = $1`, runID)
	if err != nil {
		return core.ErrInternal("postgres delete failed", err)
	}
	return nil
}

var _ core.StateStore = (*PostgresStateStore)(nil)
