package kv

import (
	"github.com/lni/dragonboat/v4/logger"
	"golang.org/x/exp/constraints"

	"github.com/psgo/ps/internal/customer"
	"github.com/psgo/ps/internal/message"
	"github.com/psgo/ps/internal/postoffice"
)

// KVMeta is the request metadata handed to a ReqHandle, derived from
// Message.Meta, following KVMeta in the source.
type KVMeta struct {
	Cmd        int32
	Push       bool
	Pull       bool
	Sender     int
	Timestamp  int32
	CustomerID int
}

// ReqHandle processes one inbound push/pull/push_pull request. It is
// responsible for calling server.Response exactly once.
type ReqHandle[V Numeric] func(meta KVMeta, data KVPairs[V], server *KVServer[V])

// KVServer answers push/pull requests for the keys it owns, grounded
// on KVServer<Val> in the source. Its Customer's customer_id equals
// its app_id, so the worker-side customer_id never influences dispatch
// on the server side.
type KVServer[V Numeric] struct {
	cust   *customer.Customer
	van    VanSender
	log    logger.ILogger
	handle ReqHandle[V]
	store  Store[V]
}

// NewServer constructs a KVServer for appID, registers its Customer
// with po (customer_id == app_id, matching the server's implicit
// customer_id convention handled by van.handleDataMsg), and installs
// handle as its request handler. A nil handle installs the default
// accumulate-on-push behavior backed by an in-memory MapStore; call
// SetStore before traffic starts to swap in a PebbleStore instead.
func NewServer[V Numeric](appID int, van VanSender, po *postoffice.PostOffice, handle ReqHandle[V]) *KVServer[V] {
	s := &KVServer[V]{
		van:    van,
		log:    logger.GetLogger("kv.server"),
		store:  NewMapStore[V](),
		handle: handle,
	}
	s.cust = customer.New(appID, appID, s.onReceive)
	po.AddCustomer(s.cust)
	return s
}

func (s *KVServer[V]) Customer() *customer.Customer { return s.cust }

// SetHandle overrides this server's request handler.
func (s *KVServer[V]) SetHandle(h ReqHandle[V]) { s.handle = h }

// SetStore swaps the backing Store for the default handler, e.g. to a
// PebbleStore for durability across restarts. Not safe to call once
// requests are in flight.
func (s *KVServer[V]) SetStore(store Store[V]) { s.store = store }

func (s *KVServer[V]) onReceive(msg message.Message) {
	if !msg.Meta.Request {
		s.log.Warningf("kv server received a reply-flagged request: %s", msg.String())
		return
	}
	data, err := decodeKVPairs[V](msg)
	if err != nil {
		s.log.Errorf("kv: decode request from %d: %v", msg.Meta.Sender, err)
		return
	}
	meta := KVMeta{
		Cmd:        msg.Meta.Head,
		Push:       msg.Meta.Push,
		Pull:       msg.Meta.Pull,
		Sender:     int(msg.Meta.Sender),
		Timestamp:  msg.Meta.Timestamp,
		CustomerID: int(msg.Meta.CustomerID),
	}
	if s.handle != nil {
		s.handle(meta, data, s)
		return
	}
	defaultHandle[V](meta, data, s)
}

// Response builds and sends the reply to a request: request=false,
// receiver=meta.Sender, echoing cmd/push/pull/timestamp, with reply's
// keys/values/(lens) attached as non-empty payload only -- a push-only
// reply carries no data.
func (s *KVServer[V]) Response(meta KVMeta, reply KVPairs[V]) {
	msg := message.Message{Meta: message.Meta{
		Receiver:   int32(meta.Sender),
		AppID:      int32(s.cust.AppID()),
		CustomerID: int32(meta.CustomerID),
		Request:    false,
		Push:       meta.Push,
		Pull:       meta.Pull,
		Head:       meta.Cmd,
		Timestamp:  meta.Timestamp,
	}}
	if len(reply.Keys) > 0 {
		msg.AddData(encodeKeys(reply.Keys), 0)
		vb, err := encodeValues(reply.Values)
		if err != nil {
			s.log.Errorf("kv: encode reply values: %v", err)
			return
		}
		msg.AddData(vb, 1)
		if len(reply.Lens) > 0 {
			msg.AddData(encodeLens(reply.Lens), 2)
		}
	}
	if _, err := s.van.Send(msg); err != nil {
		s.log.Warningf("kv: reply to %d failed: %v", meta.Sender, err)
	}
}

// Numeric bounds the value types the default accumulate-on-push
// handler can sum.
type Numeric interface {
	constraints.Integer | constraints.Float
}

// defaultHandle implements KVServerDefaultHandle<Val>: push accumulates
// into the server's store, pull reads back from it; it always responds,
// even to a pure push, so the worker's fan-out bookkeeping completes.
func defaultHandle[V Numeric](meta KVMeta, data KVPairs[V], server *KVServer[V]) {
	var reply KVPairs[V]
	if meta.Pull {
		reply.Keys = data.Keys
		reply.Values = make([]V, len(data.Keys))
	}
	for i, k := range data.Keys {
		if meta.Push {
			var v V
			if i < len(data.Values) {
				v = data.Values[i]
			}
			server.store.Add(k, v)
		}
		if meta.Pull {
			reply.Values[i] = server.store.Get(k)
		}
	}
	server.Response(meta, reply)
}
