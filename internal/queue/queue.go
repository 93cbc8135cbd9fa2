// Package queue implements the time-ordered hold queue that sits between
// the proxy's producer and consumer tasks (spec C4).
//
// Grounded on _examples/original_source/delay_server/delay_server/util/queue.py
// (DelayQueue): a guard-protected FIFO where Pop only removes the head once
// its arrival time plus the current hold time has elapsed, and queries the
// delay setting while still holding the queue's own guard — the two guards
// are independent so this nesting cannot deadlock.
package queue

import (
	"strconv"
	"strings"
	"time"

	"github.com/dschor5/delayproxy/internal/delaysetting"
	"github.com/dschor5/delayproxy/internal/guard"
	"github.com/dschor5/delayproxy/internal/logging"
	"github.com/dschor5/delayproxy/internal/metrics"
)

// DefaultAcquireTimeout bounds how long queue operations wait for the
// guard, unless overridden via NewWithTimeout (spec §4.7's
// guard-timeout-queue knob).
const DefaultAcquireTimeout = 250 * time.Millisecond

// Entry is one held message: its payload and monotonic arrival time.
type Entry struct {
	Arrival time.Time
	Payload []byte
}

// Queue is a guarded FIFO of Entry, enforcing a configurable hold time
// measured from each entry's arrival. Construct with New or
// NewWithTimeout.
type Queue struct {
	g        *guard.Guard
	delay    *delaysetting.Setting
	items    []Entry
	acquireT time.Duration
}

// New returns an empty Queue whose Pop honors the hold time in delay,
// using DefaultAcquireTimeout for guard acquisition.
func New(delay *delaysetting.Setting) *Queue {
	return NewWithTimeout(delay, DefaultAcquireTimeout)
}

// NewWithTimeout is New with an explicit guard acquire timeout, wired
// from the config surface's guard-timeout-queue knob.
func NewWithTimeout(delay *delaysetting.Setting, acquireTimeout time.Duration) *Queue {
	if acquireTimeout <= 0 {
		acquireTimeout = DefaultAcquireTimeout
	}
	return &Queue{g: guard.New(), delay: delay, acquireT: acquireTimeout}
}

// Push appends payload to the tail of the queue, stamped with the current
// time, and returns the new queue length.
func (q *Queue) Push(payload []byte) (int, error) {
	release, err := q.g.Acquire(q.acquireT)
	if err != nil {
		metrics.IncGuardTimeout(metrics.GuardQueue)
		return 0, err
	}
	defer release()
	q.items = append(q.items, Entry{Arrival: time.Now(), Payload: payload})
	n := len(q.items)
	metrics.SetQueueLength(n)
	return n, nil
}

// Pop removes and returns the head entry's payload if its hold time has
// elapsed. It returns (nil, nil) if the queue is empty or the head has not
// yet matured — this is not an error, just "nothing ready yet". Entries
// are never reordered: a later entry is never popped ahead of an earlier
// one even if it would individually satisfy the hold time.
func (q *Queue) Pop() ([]byte, error) {
	release, err := q.g.Acquire(q.acquireT)
	if err != nil {
		metrics.IncGuardTimeout(metrics.GuardQueue)
		return nil, err
	}
	defer release()

	if len(q.items) == 0 {
		return nil, nil
	}
	head := q.items[0]
	hold := q.delay.Current()
	if time.Since(head.Arrival) < hold {
		return nil, nil
	}
	q.items = q.items[1:]
	metrics.SetQueueLength(len(q.items))
	return head.Payload, nil
}

// Clear empties the queue and returns the number of entries removed.
func (q *Queue) Clear() (int, error) {
	release, err := q.g.Acquire(q.acquireT)
	if err != nil {
		metrics.IncGuardTimeout(metrics.GuardQueue)
		return 0, err
	}
	defer release()
	n := len(q.items)
	q.items = nil
	metrics.SetQueueLength(0)
	logging.L().Info("queue_cleared", "count", n)
	return n, nil
}

// Length returns the current queue size.
func (q *Queue) Length() (int, error) {
	release, err := q.g.Acquire(q.acquireT)
	if err != nil {
		metrics.IncGuardTimeout(metrics.GuardQueue)
		return 0, err
	}
	defer release()
	return len(q.items), nil
}

// Describe returns a short per-entry summary of the queue contents, sized
// rather than contented, matching the teacher/original's length-only
// rendering for byte payloads.
func (q *Queue) Describe() (string, error) {
	release, err := q.g.Acquire(q.acquireT)
	if err != nil {
		metrics.IncGuardTimeout(metrics.GuardQueue)
		return "", err
	}
	defer release()

	parts := make([]string, len(q.items))
	for i, e := range q.items {
		parts[i] = strconv.Itoa(len(e.Payload))
	}
	return "[" + strings.Join(parts, ", ") + "]", nil
}
