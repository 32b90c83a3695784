// Package streambroker implements an optional core.Observer that fans
// run lifecycle events out to external subscribers over Redis pub/sub,
// the side-channel fan-out spec_full §12 calls out as an Observer rather
// than something baked into the step loop.
package streambroker

import (
	"context"
	"log/slog"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/runloom/runloom/pkg/agentrun/core"
)

const channelPrefix = "runloom:events:"

type event struct {
	Type   string         `json:"type"`
	RunID  string         `json:"runId"`
	Status core.RunStatus `json:"status"`
}

// Broker publishes one JSON event per OnStart, OnResume, OnSuspend,
// OnComplete and OnCancel call to a per-run Redis pub/sub channel;
// OnError and the sub-agent hooks publish nothing.
type Broker struct {
	rdb *redis.Client
	core.NoOpObserver
}

func NewBroker(rdb *redis.Client) *Broker {
	return &Broker{rdb: rdb}
}

func (b *Broker) publish(ctx context.Context, kind string, run *core.RunRecord) {
	raw, err := sonic.Marshal(event{Type: kind, RunID: run.RunID, Status: run.Status})
	if err != nil {
		slog.ErrorContext(ctx, "failed to encode stream event", slog.Any("error", err))
		return
	}
	if err := b.rdb.Publish(ctx, channelPrefix+run.RunID, raw).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to publish stream event", slog.Any("error", err))
	}
}

func (b *Broker) OnStart(ctx context.Context, run *core.RunRecord) error {
	b.publish(ctx, "started", run)
	return nil
}
func (b *Broker) OnResume(ctx context.Context, run *core.RunRecord) error {
	b.publish(ctx, "resumed", run)
	return nil
}
func (b *Broker) OnSuspend(ctx context.Context, run *core.RunRecord) error {
	b.publish(ctx, "suspended", run)
	return nil
}
func (b *Broker) OnComplete(ctx context.Context, run *core.RunRecord) error {
	b.publish(ctx, "completed", run)
	return nil
}
func (b *Broker) OnCancel(ctx context.Context, run *core.RunRecord) error {
	b.publish(ctx, "cancelled", run)
	return nil
}

// Subscribe opens a pub/sub subscription to a single run's event
// channel, for callers that want to stream lifecycle events back to a
// client.
func (b *Broker) Subscribe(ctx context.Context, runID string) *redis.PubSub {
	return b.rdb.Subscribe(ctx, channelPrefix+runID)
}

var _ core.Observer = (*Broker)(nil)
