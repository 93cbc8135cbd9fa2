// Package transport provides a reusable asynchronous, non-blocking sender
// for pushing values to a slow external sink without stalling the caller.
// No other package in this module uses it at present.
package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrAsyncTxClosed is returned by SendFrame once Close has been called.
var ErrAsyncTxClosed = errors.New("async tx closed")

// AsyncTx funnels values of type T through a single goroutine (fan-in),
// generalized from the teacher's CAN-frame-specific AsyncTx to any payload
// type. SendFrame is non-blocking: if the internal buffer is full, the
// configured OnDrop hook runs and its error is returned, so a stalled
// sink never backs up onto the sender.
type AsyncTx[T any] struct {
	mu     sync.Mutex
	ch     chan T
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	send   func(T) error
	hooks  Hooks
	closed atomic.Bool
}

// Hooks customize AsyncTx behavior.
type Hooks struct {
	// OnError is called when send returns a non-nil error.
	OnError func(error)
	// OnAfter is called only after a successful send.
	OnAfter func()
	// OnDrop is called when the buffer is full; its returned error is
	// returned from SendFrame. If nil, the overflow is silent.
	OnDrop func() error
}

// NewAsyncTx constructs an AsyncTx with a buffered channel of size buf.
func NewAsyncTx[T any](parent context.Context, buf int, send func(T) error, hooks Hooks) *AsyncTx[T] {
	ctx, cancel := context.WithCancel(parent)
	a := &AsyncTx[T]{
		ch:     make(chan T, buf),
		ctx:    ctx,
		cancel: cancel,
		send:   send,
		hooks:  hooks,
	}
	a.wg.Add(1)
	go a.loop()
	return a
}

func (a *AsyncTx[T]) loop() {
	defer a.wg.Done()
	for {
		select {
		case v, ok := <-a.ch:
			if !ok {
				return
			}
			if err := a.send(v); err != nil {
				if a.hooks.OnError != nil {
					a.hooks.OnError(err)
				}
				continue
			}
			if a.hooks.OnAfter != nil {
				a.hooks.OnAfter()
			}
		case <-a.ctx.Done():
			return
		}
	}
}

// SendFrame queues a value for asynchronous transmission, or invokes
// OnDrop and returns its error if the buffer is full.
func (a *AsyncTx[T]) SendFrame(v T) error {
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	select {
	case a.ch <- v:
		return nil
	default:
		if a.hooks.OnDrop != nil {
			return a.hooks.OnDrop()
		}
		return nil
	}
}

// Close stops the worker and waits for it to exit.
func (a *AsyncTx[T]) Close() {
	if a.closed.Swap(true) {
		return
	}
	a.cancel()
	a.mu.Lock()
	close(a.ch)
	a.mu.Unlock()
	a.wg.Wait()
}
