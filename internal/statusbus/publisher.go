package statusbus

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Publisher periodically pulls a Snapshot from a caller-supplied source
// and publishes it to Redis. Grounded on the teacher's
// cmd/can-server/metrics_logger.go ticker/waitgroup shape.
type Publisher struct {
	client   *Client
	interval time.Duration
	source   func() Snapshot
	logger   *slog.Logger
}

// NewPublisher builds a Publisher. A nil client makes every publish a
// no-op, so callers can construct this unconditionally.
func NewPublisher(client *Client, interval time.Duration, source func() Snapshot, logger *slog.Logger) *Publisher {
	return &Publisher{client: client, interval: interval, source: source, logger: logger}
}

// Run starts the publish ticker and blocks until ctx is cancelled,
// signaling wg when done. Safe to call even when the interval is
// non-positive or the client is nil — it simply does nothing.
func (p *Publisher) Run(ctx context.Context, wg *sync.WaitGroup) {
	if p.interval <= 0 || p.client == nil {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(p.interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := p.source()
				if err := p.client.PublishSnapshot(ctx, snap); err != nil {
					p.logger.Warn("statusbus_publish_failed", "error", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// PublishDrop reports a single per-frame drop event, logging a warning
// on publish failure rather than surfacing it to the caller — this is a
// pure observer path and must never affect the producer/consumer tasks.
func (p *Publisher) PublishDrop(ctx context.Context, reason, remote string) {
	if p.client == nil {
		return
	}
	if err := p.client.PublishEvent(ctx, Event{Reason: reason, Remote: remote}); err != nil {
		p.logger.Warn("statusbus_event_failed", "error", err)
	}
}
