package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/runloom/runloom/pkg/agentrun/core"
)

// memStateStore is an in-memory core.StateStore for deterministic tests,
// grounded on the same "map + mutex" shape as store.RedisStateStore
// minus the network round trip.
type memStateStore struct {
	mu      sync.Mutex
	records map[string]*core.RunRecord
}

func newMemStateStore() *memStateStore {
	return &memStateStore{records: map[string]*core.RunRecord{}}
}

func (s *memStateStore) Get(ctx context.Context, runID string) (*core.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[runID]
	if !ok {
		return nil, core.ErrNotFound("run not found", nil, map[string]any{"runId": runID})
	}
	cp := *r
	return &cp, nil
}

func (s *memStateStore) Put(ctx context.Context, run *core.RunRecord, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	s.records[run.RunID] = &cp
	return nil
}

func (s *memStateStore) Delete(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, runID)
	return nil
}

// memSignalStore is an in-memory core.SignalStore: first Set wins, same
// idempotence contract as store.RedisSignalStore's SETNX.
type memSignalStore struct {
	mu  sync.Mutex
	set map[string]bool
}

func newMemSignalStore() *memSignalStore {
	return &memSignalStore{set: map[string]bool{}}
}

func (s *memSignalStore) Set(ctx context.Context, runID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set[runID] = true
	return nil
}

func (s *memSignalStore) IsSet(ctx context.Context, runID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set[runID], nil
}

// memLock is an in-memory core.Lock: one holder per run id at a time,
// mirroring store.RedisLock's SETNX-acquire / token-CAS-release contract.
type memLock struct {
	mu      sync.Mutex
	holders map[string]string // runID -> token
	// holdForever lets a test force a run id to look permanently "live"
	// by pre-seeding a holder with no matching Release ever issued.
}

func newMemLock() *memLock {
	return &memLock{holders: map[string]string{}}
}

func (l *memLock) Acquire(ctx context.Context, runID string, ttl time.Duration) (core.LockHandle, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, held := l.holders[runID]; held {
		return core.LockHandle{}, false, nil
	}
	token := uuid.NewString()
	l.holders[runID] = token
	return core.LockHandle{RunID: runID, Token: token}, true, nil
}

func (l *memLock) Renew(ctx context.Context, handle core.LockHandle, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holders[handle.RunID] == handle.Token, nil
}

func (l *memLock) Release(ctx context.Context, handle core.LockHandle) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holders[handle.RunID] == handle.Token {
		delete(l.holders, handle.RunID)
	}
	return nil
}

// holdForever marks runID as locked by a holder the test never releases,
// simulating a worker that is genuinely still alive.
func (l *memLock) holdForever(runID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.holders[runID] = "external-holder"
}

func testDeps(states *memStateStore, signals *memSignalStore, locks *memLock, clock core.Clock) *Deps {
	return &Deps{
		States:                   states,
		Signals:                  signals,
		Locks:                    locks,
		Clock:                    clock,
		Manifests:                core.ManifestMap{},
		Observers:                core.NewObserverChain(),
		LockTTL:                  2 * time.Second,
		CancellationPollInterval: 5 * time.Millisecond,
		StateTTL:                 time.Hour,
	}
}
