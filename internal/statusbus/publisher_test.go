package statusbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dschor5/delayproxy/internal/logging"
)

func TestPublisherRunNoOpWithNilClient(t *testing.T) {
	p := NewPublisher(nil, time.Millisecond, func() Snapshot { return Snapshot{} }, logging.L())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	p.Run(ctx, &wg)

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
	}
	// No goroutine was started, so wg is trivially already done; the
	// real assertion here is that Run never dialed Redis or panicked.
}

func TestPublisherRunNoOpWithZeroInterval(t *testing.T) {
	p := NewPublisher(nil, 0, func() Snapshot { return Snapshot{} }, logging.L())
	var wg sync.WaitGroup
	p.Run(context.Background(), &wg)
	wg.Wait()
}

func TestPublishDropNilClientIsNoOp(t *testing.T) {
	p := NewPublisher(nil, time.Second, func() Snapshot { return Snapshot{} }, logging.L())
	p.PublishDrop(context.Background(), "crc_mismatch", "127.0.0.1:1234")
}
