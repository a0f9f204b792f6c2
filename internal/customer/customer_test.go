package customer

import (
	"sync"
	"testing"
	"time"

	"github.com/psgo/ps/internal/message"
)

// TestOnReceiveInvokesHandle tests that a pushed message reaches the
// user callback.
func TestOnReceiveInvokesHandle(t *testing.T) {
	received := make(chan message.Message, 1)
	c := New(1, 0, func(msg message.Message) {
		received <- msg
	})
	defer c.Shutdown()

	c.OnReceive(message.Message{Meta: message.Meta{Request: true, Head: 42}})

	select {
	case msg := <-received:
		if msg.Meta.Head != 42 {
			t.Errorf("expected head 42, got %d", msg.Meta.Head)
		}
	case <-time.After(time.Second):
		t.Fatal("handle was not invoked")
	}
}

// TestNewRequestWaitRequest tests that WaitRequest blocks until enough
// responses have been added.
func TestNewRequestWaitRequest(t *testing.T) {
	c := New(1, 0, func(message.Message) {})
	defer c.Shutdown()

	reqID := c.NewRequest(3)

	done := make(chan struct{})
	go func() {
		c.WaitRequest(reqID)
		close(done)
	}()

	c.AddResponse(reqID, 1)
	c.AddResponse(reqID, 1)
	select {
	case <-done:
		t.Fatal("WaitRequest returned before fan-out was reached")
	case <-time.After(20 * time.Millisecond):
	}

	c.AddResponse(reqID, 1)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitRequest did not wake after fan-out reached")
	}

	if got := c.ResponseCount(reqID); got != 3 {
		t.Errorf("expected response count 3, got %d", got)
	}
}

// TestReplyMessageAutoIncrementsTracker tests that a non-request
// (reply) message dispatched through OnReceive increments the matching
// request's reply count via its timestamp field.
func TestReplyMessageAutoIncrementsTracker(t *testing.T) {
	var mu sync.Mutex
	var callCount int
	c := New(1, 0, func(message.Message) {
		mu.Lock()
		callCount++
		mu.Unlock()
	})
	defer c.Shutdown()

	reqID := c.NewRequest(1)
	c.OnReceive(message.Message{Meta: message.Meta{
		Request:   false,
		Timestamp: int32(reqID),
	}})

	done := make(chan struct{})
	go func() {
		c.WaitRequest(reqID)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected reply message to satisfy WaitRequest")
	}
}

// TestShutdownStopsDispatchLoop tests that Shutdown causes the dispatch
// loop to exit and no further callback invocations occur.
func TestShutdownStopsDispatchLoop(t *testing.T) {
	var mu sync.Mutex
	called := false
	c := New(1, 0, func(message.Message) {
		mu.Lock()
		called = true
		mu.Unlock()
	})

	c.Shutdown()

	c.OnReceive(message.Message{Meta: message.Meta{Request: true}})
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if called {
		t.Error("expected no callback invocation after shutdown")
	}
}
