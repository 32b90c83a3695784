// Package poller implements C4, the cancellation poller: a goroutine
// spawned once per run that periodically checks the cancellation signal
// store and closes a channel the moment it sees the flag set.
//
// Grounded on internal/pubsub's spawn-goroutine-then-select-on-done
// shape (processNotifications), generalized from Postgres LISTEN/NOTIFY
// push notifications to periodic poll of C2, since the signal store has
// no push primitive of its own.
package poller

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/runloom/runloom/pkg/agentrun/core"
)

var tracer = otel.Tracer("runloom/poller")

// Poller watches a single run's cancellation signal and exposes a
// channel that closes exactly once, the moment cancellation is observed.
type Poller struct {
	signals  core.SignalStore
	runID    string
	interval time.Duration

	cancelled chan struct{}
	stop      chan struct{}
}

// Start spawns the polling goroutine and returns the Poller. Stop must
// be called to release the goroutine once the run no longer needs
// watching (it completed, or the interleaver already observed the
// signal some other way).
func Start(ctx context.Context, signals core.SignalStore, runID string, interval time.Duration) *Poller {
	p := &Poller{
		signals:   signals,
		runID:     runID,
		interval:  interval,
		cancelled: make(chan struct{}),
		stop:      make(chan struct{}),
	}
	go p.loop(ctx)
	return p
}

// Cancelled returns a channel that closes once the poller observes the
// run's cancellation signal set. Select on it alongside tool/LLM-call
// completion channels to get immediate abort (spec §4.5/§8 abort latency
// bound).
func (p *Poller) Cancelled() <-chan struct{} {
	return p.cancelled
}

func (p *Poller) Stop() {
	select {
	case <-p.stop:
	default:
		close(p.stop)
	}
}

func (p *Poller) loop(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			_, span := tracer.Start(ctx, "Poller.check")
			set, err := p.signals.IsSet(ctx, p.runID)
			if err != nil {
				slog.ErrorContext(ctx, "cancellation poll failed", slog.String("runId", p.runID), slog.Any("error", err))
				span.RecordError(err)
				span.End()
				continue
			}
			span.End()
			if set {
				select {
				case <-p.cancelled:
				default:
					close(p.cancelled)
				}
				return
			}
		}
	}
}
