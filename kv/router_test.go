package kv_test

import (
	"fmt"
	"sync"

	"github.com/psgo/ps/internal/message"
)

// router is an in-process stand-in for van.Van: it delivers a sent
// message directly to the receiver's registered handler instead of
// going over a real transport, the same way customer_test.go drives
// Customer.OnReceive directly without a Van. Good enough to exercise
// KVWorker/KVServer's request/reply protocol end to end.
type router struct {
	mu     sync.Mutex
	routes map[int]func(message.Message)
}

func newRouter() *router {
	return &router{routes: make(map[int]func(message.Message))}
}

func (r *router) register(id int, handle func(message.Message)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[id] = handle
}

func (r *router) send(senderID int, msg message.Message) (int, error) {
	msg.Meta.Sender = int32(senderID)
	r.mu.Lock()
	h, ok := r.routes[int(msg.Meta.Receiver)]
	r.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("router: no route to node %d", msg.Meta.Receiver)
	}
	h(msg)
	return len(msg.Data), nil
}

// nodeVan is the per-node VanSender handed to one KVWorker/KVServer.
type nodeVan struct {
	id int
	r  *router
}

func (n *nodeVan) Send(msg message.Message) (int, error) { return n.r.send(n.id, msg) }
