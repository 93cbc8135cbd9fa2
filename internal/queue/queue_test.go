package queue

import (
	"testing"
	"time"

	"github.com/dschor5/delayproxy/internal/delaysetting"
)

func TestPushPopNoDelay(t *testing.T) {
	q := New(delaysetting.New())
	n, err := q.Push([]byte("hello"))
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if n != 1 {
		t.Fatalf("Push length = %d, want 1", n)
	}

	got, err := q.Pop()
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("Pop() = %q, want %q", got, "hello")
	}
}

func TestPopHonorsHoldTime(t *testing.T) {
	delay := delaysetting.New()
	if err := delay.SetOverride(50 * time.Millisecond); err != nil {
		t.Fatalf("SetOverride: %v", err)
	}
	q := New(delay)
	if _, err := q.Push([]byte("a")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	got, err := q.Pop()
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if got != nil {
		t.Fatalf("Pop() before hold elapsed = %q, want nil", got)
	}

	time.Sleep(60 * time.Millisecond)
	got, err = q.Pop()
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if string(got) != "a" {
		t.Fatalf("Pop() after hold elapsed = %q, want %q", got, "a")
	}
}

func TestPopEmpty(t *testing.T) {
	q := New(delaysetting.New())
	got, err := q.Pop()
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if got != nil {
		t.Fatalf("Pop() on empty queue = %q, want nil", got)
	}
}

func TestFIFONoOvertaking(t *testing.T) {
	delay := delaysetting.New()
	if err := delay.SetOverride(40 * time.Millisecond); err != nil {
		t.Fatalf("SetOverride: %v", err)
	}
	q := New(delay)
	if _, err := q.Push([]byte("first")); err != nil {
		t.Fatalf("Push: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := q.Push([]byte("second")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	// At t=20ms, "first" (hold 40ms) is not yet ready, even though nothing
	// blocks behind it.
	got, err := q.Pop()
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if got != nil {
		t.Fatalf("Pop() too early = %q, want nil", got)
	}

	time.Sleep(25 * time.Millisecond) // t=45ms: first is ready, second is not
	got, err = q.Pop()
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if string(got) != "first" {
		t.Fatalf("Pop() = %q, want %q", got, "first")
	}
}

func TestClearAndLength(t *testing.T) {
	q := New(delaysetting.New())
	q.Push([]byte("a"))
	q.Push([]byte("b"))

	n, err := q.Length()
	if err != nil {
		t.Fatalf("Length: %v", err)
	}
	if n != 2 {
		t.Fatalf("Length() = %d, want 2", n)
	}

	cleared, err := q.Clear()
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if cleared != 2 {
		t.Fatalf("Clear() = %d, want 2", cleared)
	}

	n, _ = q.Length()
	if n != 0 {
		t.Fatalf("Length() after clear = %d, want 0", n)
	}
}
