// Package pqueue implements the thread-safe priority queue that feeds each
// Customer's inbound dispatch loop (spec §5.2): messages pop in
// priority-descending order, and FIFO among messages of equal priority.
//
// The heap itself follows container/heap the same way
// lib/db/util/mapheap.go wires MapHeap into heap.Interface; on top of
// that, Push/WaitAndPop add the blocking hand-off a dispatch loop needs
// and a monotonic sequence number per entry, since heap.Interface's Less
// is not a stable sort and two equal-priority entries would otherwise
// pop in whatever order the heap's internal swaps happen to leave them.
package pqueue

import (
	"container/heap"
	"sync"
)

// entry is one queued item together with its priority and arrival order.
type entry struct {
	value    interface{}
	priority int32
	seq      uint64
	index    int
}

// innerHeap implements heap.Interface: highest priority first, and among
// equal priorities the lowest sequence number (earliest arrival) first.
type innerHeap []*entry

func (h innerHeap) Len() int { return len(h) }

func (h innerHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h innerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *innerHeap) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *innerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Queue is a thread-safe, blocking priority queue.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	h       innerHeap
	nextSeq uint64
	closed  bool
}

// New returns an empty Queue ready for use.
func New() *Queue {
	q := &Queue{h: make(innerHeap, 0)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push adds value with the given priority and wakes one waiter.
func (q *Queue) Push(value interface{}, priority int32) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	e := &entry{value: value, priority: priority, seq: q.nextSeq}
	q.nextSeq++
	heap.Push(&q.h, e)
	q.cond.Signal()
}

// WaitAndPop blocks until an item is available or the queue is closed.
// The second return value is false only when the queue was closed and
// drained.
func (q *Queue) WaitAndPop() (interface{}, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.h.Len() == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.h.Len() == 0 {
		return nil, false
	}
	e := heap.Pop(&q.h).(*entry)
	return e.value, true
}

// TryPop pops the highest-priority item without blocking. ok is false if
// the queue is currently empty.
func (q *Queue) TryPop() (value interface{}, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.h.Len() == 0 {
		return nil, false
	}
	e := heap.Pop(&q.h).(*entry)
	return e.value, true
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Len()
}

// Close wakes every blocked waiter; subsequent Push calls are no-ops and
// WaitAndPop returns ok=false once the queue has drained.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
