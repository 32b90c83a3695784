package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/runloom/runloom/pkg/agentrun/core"
)

const signalKeyPrefix = "runloom:cancel:"

// RedisSignalStore implements C2 with a plain SETNX-backed flag: the
// first Set wins and the key's value never changes after that, giving
// the idempotence spec §8 requires for free (a second Set is a no-op
// SETNX that returns false and is ignored).
type RedisSignalStore struct {
	rdb *redis.Client
}

func NewRedisSignalStore(rdb *redis.Client) *RedisSignalStore {
	return &RedisSignalStore{rdb: rdb}
}

func (s *RedisSignalStore) Set(ctx context.Context, runID string, ttl time.Duration) error {
	if err := s.rdb.SetNX(ctx, signalKeyPrefix+runID, "1", ttl).Err(); err != nil {
		return core.ErrInternal("redis setnx failed", err)
	}
	return nil
}

func (s *RedisSignalStore) IsSet(ctx context.Context, runID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, signalKeyPrefix+runID).Result()
	if err != nil {
		return false, core.ErrInternal("redis exists failed", err)
	}
	return n > 0, nil
}

var _ core.SignalStore = (*RedisSignalStore)(nil)
