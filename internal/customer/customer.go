// Package customer implements the per-(app_id, customer_id) dispatcher
// described in spec §4.3, grounded on
// original_source/src/internal/Customer.h/.cpp: a priority-ordered
// inbound queue, a request tracker for fan-out/replies-received
// bookkeeping, and a background dispatch loop that exits on a
// self-addressed TERMINATE.
package customer

import (
	"sync"

	"github.com/lni/dragonboat/v4/logger"

	"github.com/psgo/ps/internal/message"
	"github.com/psgo/ps/internal/pqueue"
)

// ReceiveHandle is invoked by the dispatch loop for every message popped
// off the inbound queue, data or control.
type ReceiveHandle func(msg message.Message)

// Customer is a per-app request/response dispatcher.
type Customer struct {
	appID, customerID int
	handle            ReceiveHandle
	queue             *pqueue.Queue
	log               logger.ILogger

	trackerMu   sync.Mutex
	trackerCond *sync.Cond
	tracker     []trackEntry

	wg sync.WaitGroup
}

type trackEntry struct {
	fanOut          int
	repliesReceived int
}

// New constructs a Customer and starts its background dispatch loop.
func New(appID, customerID int, handle ReceiveHandle) *Customer {
	c := &Customer{
		appID:      appID,
		customerID: customerID,
		handle:     handle,
		queue:      pqueue.New(),
		log:        logger.GetLogger("customer"),
	}
	c.trackerCond = sync.NewCond(&c.trackerMu)
	c.wg.Add(1)
	go c.dispatchLoop()
	return c
}

func (c *Customer) AppID() int      { return c.appID }
func (c *Customer) CustomerID() int { return c.customerID }

// NewRequest allocates a fresh request id for a request fanned out to
// fanOut concrete receiver nodes, resolved by the caller at call time.
func (c *Customer) NewRequest(fanOut int) int {
	c.trackerMu.Lock()
	defer c.trackerMu.Unlock()
	id := len(c.tracker)
	c.tracker = append(c.tracker, trackEntry{fanOut: fanOut})
	return id
}

// WaitRequest blocks until repliesReceived == fanOut for reqID.
func (c *Customer) WaitRequest(reqID int) {
	c.trackerMu.Lock()
	defer c.trackerMu.Unlock()
	for c.tracker[reqID].repliesReceived < c.tracker[reqID].fanOut {
		c.trackerCond.Wait()
	}
}

// ResponseCount returns how many replies reqID has received so far.
func (c *Customer) ResponseCount(reqID int) int {
	c.trackerMu.Lock()
	defer c.trackerMu.Unlock()
	return c.tracker[reqID].repliesReceived
}

// AddResponse increments reqID's reply count by n and wakes any waiters
// once the fan-out target is reached.
func (c *Customer) AddResponse(reqID int, n int) {
	c.trackerMu.Lock()
	defer c.trackerMu.Unlock()
	c.tracker[reqID].repliesReceived += n
	if c.tracker[reqID].repliesReceived >= c.tracker[reqID].fanOut {
		c.trackerCond.Broadcast()
	}
}

func (c *Customer) validRequest(reqID int) bool {
	c.trackerMu.Lock()
	defer c.trackerMu.Unlock()
	return reqID >= 0 && reqID < len(c.tracker)
}

// OnReceive enqueues a message for the dispatch loop. Called only by Van.
func (c *Customer) OnReceive(msg message.Message) {
	c.queue.Push(msg, msg.Meta.Priority)
}

// dispatchLoop pops messages in priority order and invokes the user
// callback; on TERMINATE it exits without invoking the callback. A
// non-request message (a reply) additionally increments the originating
// request's reply count, keyed by the timestamp the requester assigned.
func (c *Customer) dispatchLoop() {
	defer c.wg.Done()
	for {
		v, ok := c.queue.WaitAndPop()
		if !ok {
			return
		}
		msg := v.(message.Message)
		if msg.Meta.Control.Cmd == message.CmdTerminate {
			return
		}

		c.handle(msg)

		if !msg.Meta.Request {
			reqID := int(msg.Meta.Timestamp)
			if c.validRequest(reqID) {
				c.AddResponse(reqID, 1)
			} else {
				c.log.Warningf("reply for unknown request id %d", reqID)
			}
		}
	}
}

// Shutdown pushes a self-addressed TERMINATE message and waits for the
// dispatch loop to exit.
func (c *Customer) Shutdown() {
	c.queue.Push(message.Message{Meta: message.Meta{
		CustomerID: int32(c.customerID),
		Control:    message.Control{Cmd: message.CmdTerminate},
	}}, 1<<30)
	c.wg.Wait()
}
