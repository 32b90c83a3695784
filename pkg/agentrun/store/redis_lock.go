package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/runloom/runloom/pkg/agentrun/core"
)

const lockKeyPrefix = "runloom:lock:"

// unlockScript performs a compare-and-delete: only the holder whose
// token still matches the stored value may delete the key, so a stale
// caller (one whose lease already expired and was taken over by a new
// owner) can never release a lock it no longer holds. Same
// atomic-Lua-script idiom as the teacher's token-bucket rate limiter,
// applied to a different algorithm.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// renewScript extends the TTL only if the caller still owns the lock.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`)

// RedisLock implements C3 with SET NX PX acquire and Lua CAS
// release/renew.
type RedisLock struct {
	rdb *redis.Client
}

func NewRedisLock(rdb *redis.Client) *RedisLock {
	return &RedisLock{rdb: rdb}
}

func (l *RedisLock) Acquire(ctx context.Context, runID string, ttl time.Duration) (core.LockHandle, bool, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, lockKeyPrefix+runID, token, ttl).Result()
	if err != nil {
		return core.LockHandle{}, false, core.ErrInternal("redis setnx failed", err)
	}
	if !ok {
		return core.LockHandle{}, false, nil
	}
	return core.LockHandle{RunID: runID, Token: token}, true, nil
}

func (l *RedisLock) Renew(ctx context.Context, handle core.LockHandle, ttl time.Duration) (bool, error) {
	res, err := renewScript.Run(ctx, l.rdb, []string{lockKeyPrefix + handle.RunID}, handle.Token, ttl.Milliseconds()).Int()
	if err != nil {
		return false, core.ErrInternal("redis renew script failed", err)
	}
	return res == 1, nil
}

func (l *RedisLock) Release(ctx context.Context, handle core.LockHandle) error {
	_, err := unlockScript.Run(ctx, l.rdb, []string{lockKeyPrefix + handle.RunID}, handle.Token).Int()
	if err != nil {
		return core.ErrInternal("redis unlock script failed", err)
	}
	return nil
}

var _ core.Lock = (*RedisLock)(nil)
