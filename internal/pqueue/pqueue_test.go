package pqueue

import (
	"testing"
	"time"
)

// TestNewQueue tests that a fresh queue is empty.
func TestNewQueue(t *testing.T) {
	q := New()
	if q.Len() != 0 {
		t.Errorf("expected len 0, got %d", q.Len())
	}
}

// TestPriorityOrder tests that higher priority items pop first.
func TestPriorityOrder(t *testing.T) {
	q := New()
	q.Push("low", 1)
	q.Push("high", 10)
	q.Push("mid", 5)

	v, ok := q.WaitAndPop()
	if !ok || v != "high" {
		t.Fatalf("expected high, got %v (ok=%v)", v, ok)
	}
	v, ok = q.WaitAndPop()
	if !ok || v != "mid" {
		t.Fatalf("expected mid, got %v (ok=%v)", v, ok)
	}
	v, ok = q.WaitAndPop()
	if !ok || v != "low" {
		t.Fatalf("expected low, got %v (ok=%v)", v, ok)
	}
}

// TestFIFOWithinSamePriority tests that equal-priority items pop in
// arrival order.
func TestFIFOWithinSamePriority(t *testing.T) {
	q := New()
	q.Push("first", 5)
	q.Push("second", 5)
	q.Push("third", 5)

	for _, want := range []string{"first", "second", "third"} {
		v, ok := q.WaitAndPop()
		if !ok || v != want {
			t.Fatalf("expected %s, got %v (ok=%v)", want, v, ok)
		}
	}
}

// TestWaitAndPopBlocksUntilPush tests that a waiter blocked on an empty
// queue wakes once an item is pushed.
func TestWaitAndPopBlocksUntilPush(t *testing.T) {
	q := New()
	done := make(chan interface{}, 1)
	go func() {
		v, _ := q.WaitAndPop()
		done <- v
	}()

	time.Sleep(20 * time.Millisecond)
	q.Push("late", 0)

	select {
	case v := <-done:
		if v != "late" {
			t.Errorf("expected late, got %v", v)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitAndPop did not wake after Push")
	}
}

// TestCloseWakesWaiters tests that Close unblocks a pending WaitAndPop
// with ok=false once the queue is drained.
func TestCloseWakesWaiters(t *testing.T) {
	q := New()
	done := make(chan bool, 1)
	go func() {
		_, ok := q.WaitAndPop()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		if ok {
			t.Error("expected ok=false after Close on empty queue")
		}
	case <-time.After(time.Second):
		t.Fatal("WaitAndPop did not wake after Close")
	}
}

// TestCloseStillDrainsExistingItems tests that items pushed before Close
// are still delivered.
func TestCloseStillDrainsExistingItems(t *testing.T) {
	q := New()
	q.Push("a", 1)
	q.Close()

	v, ok := q.WaitAndPop()
	if !ok || v != "a" {
		t.Fatalf("expected a, ok=true, got %v, ok=%v", v, ok)
	}
	_, ok = q.WaitAndPop()
	if ok {
		t.Error("expected ok=false once drained")
	}
}

// TestTryPop tests the non-blocking pop variant.
func TestTryPop(t *testing.T) {
	q := New()
	if _, ok := q.TryPop(); ok {
		t.Error("expected ok=false on empty queue")
	}
	q.Push("x", 0)
	v, ok := q.TryPop()
	if !ok || v != "x" {
		t.Fatalf("expected x, got %v (ok=%v)", v, ok)
	}
}
