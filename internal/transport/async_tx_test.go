package transport

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

var (
	errOverflow = errors.New("overflow")
	errSendFail = errors.New("send fail")
)

// TestAsyncTxSuccess verifies values are sent and hooks fire.
func TestAsyncTxSuccess(t *testing.T) {
	var sent atomic.Int64
	var after atomic.Int64
	ax := NewAsyncTx(context.Background(), 4, func(v int) error {
		sent.Add(1)
		return nil
	}, Hooks{OnAfter: func() { after.Add(1) }})
	defer ax.Close()
	for i := 0; i < 3; i++ {
		if err := ax.SendFrame(i); err != nil {
			t.Fatalf("unexpected send error: %v", err)
		}
	}
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) && sent.Load() < 3 {
		time.Sleep(5 * time.Millisecond)
	}
	if sent.Load() != 3 || after.Load() != 3 {
		t.Fatalf("expected 3 sent & after, got sent=%d after=%d", sent.Load(), after.Load())
	}
}

// TestAsyncTxOverflow ensures OnDrop is invoked when the buffer is full.
func TestAsyncTxOverflow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var drops atomic.Int64
	ax := NewAsyncTx(ctx, 1, func(int) error { time.Sleep(150 * time.Millisecond); return nil }, Hooks{
		OnDrop: func() error { drops.Add(1); return errOverflow },
	})
	defer ax.Close()
	// First value is picked up by the worker and blocks it.
	if err := ax.SendFrame(1); err != nil {
		t.Fatalf("unexpected error enqueue first: %v", err)
	}
	// Immediate second overflows (buffer=1, worker sleeping).
	if err := ax.SendFrame(2); !errors.Is(err, errOverflow) {
		t.Fatalf("expected overflow error, got %v", err)
	}
	if drops.Load() != 1 {
		t.Fatalf("expected 1 drop, got %d", drops.Load())
	}
}

// TestAsyncTxSendError triggers the OnError hook.
func TestAsyncTxSendError(t *testing.T) {
	var errs atomic.Int64
	ax := NewAsyncTx(context.Background(), 2, func(int) error { return errSendFail }, Hooks{
		OnError: func(error) { errs.Add(1) },
	})
	defer ax.Close()
	_ = ax.SendFrame(1)
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) && errs.Load() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if errs.Load() == 0 {
		t.Fatalf("expected error hook invocation")
	}
}

// TestAsyncTxClose stops processing further values.
func TestAsyncTxClose(t *testing.T) {
	var sent atomic.Int64
	ax := NewAsyncTx(context.Background(), 2, func(int) error { sent.Add(1); return nil }, Hooks{})
	_ = ax.SendFrame(1)
	ax.Close()
	countAfterClose := sent.Load()
	_ = ax.SendFrame(2) // rejected, ErrAsyncTxClosed
	time.Sleep(50 * time.Millisecond)
	if sent.Load() != countAfterClose {
		t.Fatalf("value processed after close: before=%d after=%d", countAfterClose, sent.Load())
	}
}

func TestAsyncTxSendAfterClose(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tx := NewAsyncTx(ctx, 2, func(int) error { return nil }, Hooks{})
	tx.Close()
	if err := tx.SendFrame(123); !errors.Is(err, ErrAsyncTxClosed) {
		t.Fatalf("expected ErrAsyncTxClosed, got %v", err)
	}
}

func TestAsyncTxCloseConcurrentSend(t *testing.T) {
	for i := 0; i < 100; i++ {
		ax := NewAsyncTx(context.Background(), 1, func(int) error { return nil }, Hooks{})
		done := make(chan error, 1)
		go func() {
			done <- ax.SendFrame(1)
		}()
		time.Sleep(1 * time.Millisecond)
		ax.Close()
		if err := <-done; err != nil && !errors.Is(err, ErrAsyncTxClosed) {
			t.Fatalf("iteration %d: unexpected send error %v", i, err)
		}
	}
}

func TestAsyncTxClosesOnParentContextCancel(t *testing.T) {
	var sent atomic.Int64
	ctx, cancel := context.WithCancel(context.Background())
	tx := NewAsyncTx(ctx, 4, func(int) error { sent.Add(1); return nil }, Hooks{})
	cancel()
	time.Sleep(20 * time.Millisecond)
	// Worker has exited via ctx.Done(), so a buffered value is never sent.
	_ = tx.SendFrame(1)
	time.Sleep(20 * time.Millisecond)
	if sent.Load() != 0 {
		t.Fatalf("value processed after parent cancel: sent=%d", sent.Load())
	}
	// Close should still be safe and idempotent.
	tx.Close()
}
