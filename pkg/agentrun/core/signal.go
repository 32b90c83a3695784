package core

import (
	"context"
	"time"
)

// SignalStore is C2: a write-once cancellation flag per run id. Set is
// idempotent — calling it twice for the same run id must not error and
// must not extend or shorten the original signal's effect (spec §8
// cancellation idempotence property).
type SignalStore interface {
	Set(ctx context.Context, runID string, ttl time.Duration) error
	IsSet(ctx context.Context, runID string) (bool, error)
}
