// Package store holds concrete StateStore/SignalStore/Lock
// implementations (C1–C3), backed by Redis and Postgres, grounded on the
// teacher's go-redis/sqlx usage in internal/api and internal/services.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/runloom/runloom/pkg/agentrun/core"
)

const runRecordKeyPrefix = "runloom:run:"

// RedisStateStore persists RunRecords as JSON strings under
// "runloom:run:<runId>", optionally with a TTL (AGENT_STATE_TTL_SECONDS).
type RedisStateStore struct {
	rdb *redis.Client
}

func NewRedisStateStore(rdb *redis.Client) *RedisStateStore {
	return &RedisStateStore{rdb: rdb}
}

func (s *RedisStateStore) Get(ctx context.Context, runID string) (*core.RunRecord, error) {
	raw, err := s.rdb.Get(ctx, runRecordKeyPrefix+runID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, core.ErrNotFound("run not found", err, map[string]any{"runId": runID})
		}
		return nil, core.ErrInternal("redis get failed", err)
	}

	var run core.RunRecord
	if err := sonic.Unmarshal(raw, &run); err != nil {
		return nil, core.ErrInternal("failed to decode run record", err)
	}
	if err := core.ValidateSchemaVersion(&run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *RedisStateStore) Put(ctx context.Context, run *core.RunRecord, ttl time.Duration) error {
	raw, err := sonic.Marshal(run)
	if err != nil {
		return core.ErrInternal("failed to encode run record", err)
	}
	if err := s.rdb.Set(ctx, runRecordKeyPrefix+run.RunID, raw, ttl).Err(); err != nil {
		return core.ErrInternal("redis set failed", err)
	}
	return nil
}

func (s *RedisStateStore) Delete(ctx context.Context, runID string) error {
	if err := s.rdb.Del(ctx, runRecordKeyPrefix+runID).Err(); err != nil {
		return core.ErrInternal("redis del failed", err)
	}
	return nil
}

var _ core.StateStore = (*RedisStateStore)(nil)
