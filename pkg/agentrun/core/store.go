package core

import (
	"context"
	"time"
)

// StateStore is C1: durable storage for RunRecords, keyed by run id, with
// an optional TTL on writes (spec §3, §9 "AGENT_STATE_TTL_SECONDS").
// Implementations must round-trip a RunRecord byte-for-byte through
// (de)serialization (spec §8 round-trip persistence property).
type StateStore interface {
	Get(ctx context.Context, runID string) (*RunRecord, error)
	Put(ctx context.Context, run *RunRecord, ttl time.Duration) error
	Delete(ctx context.Context, runID string) error
}

// ValidateSchemaVersion implements spec §3's "reject records with
// unexpected versions": a zero value means the record predates
// SchemaVersion ever being stamped (never the case for a fresh module,
// kept permissive rather than fatal since it costs nothing to tolerate).
// Any other mismatch is a decode-time fatal, not a retryable transport
// error, per spec §4.1's error taxonomy.
func ValidateSchemaVersion(run *RunRecord) error {
	if run.SchemaVersion != 0 && run.SchemaVersion != CurrentSchemaVersion {
		return ErrInternal("unsupported run record schema version", nil, map[string]any{
			"runId": run.RunID, "schemaVersion": run.SchemaVersion, "expected": CurrentSchemaVersion,
		})
	}
	return nil
}
