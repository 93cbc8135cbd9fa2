package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dschor5/delayproxy/internal/metrics"
)

// startMetricsLogger periodically logs the local counter mirrors, giving
// an operator without a Prometheus scraper the same numbers by tailing
// logs. Adapted from the teacher's cmd/can-server metrics_logger.go,
// re-labeled for produced/consumed/dropped/guard-timeout counters.
func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, queueLen func() int, holdSeconds func() float64, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.SnapWith(queueLen(), holdSeconds())
				l.Info("metrics_snapshot",
					"produced", snap.Produced,
					"consumed", snap.Consumed,
					"dropped", snap.Dropped,
					"guard_timeouts", snap.GuardTimeout,
					"queue_length", snap.QueueLength,
					"hold_seconds", snap.HoldSeconds,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
