package kv

import (
	"sort"
	"sync"

	"github.com/lni/dragonboat/v4/logger"

	"github.com/psgo/ps/internal/customer"
	"github.com/psgo/ps/internal/message"
	"github.com/psgo/ps/internal/postoffice"
)

// VanSender is the subset of van.Van a KVWorker/KVServer needs to put a
// message on the wire.
type VanSender interface {
	Send(msg message.Message) (int, error)
}

// KVWorker issues push/pull/push_pull requests against the server
// group, grounded on KVWorker<Val> in the source. One KVWorker owns one
// Customer, registered with po under (appID, customerID).
type KVWorker[V Numeric] struct {
	cust   *customer.Customer
	van    VanSender
	po     *postoffice.PostOffice
	slicer Slicer[V]
	log    logger.ILogger

	mu        sync.Mutex
	recvKVs   map[int][]KVPairs[V]
	callbacks map[int]func()
}

// NewWorker constructs a KVWorker and registers its Customer with po.
func NewWorker[V Numeric](appID, customerID int, van VanSender, po *postoffice.PostOffice) *KVWorker[V] {
	w := &KVWorker[V]{
		van:       van,
		po:        po,
		slicer:    DefaultSlicer[V],
		log:       logger.GetLogger("kv.worker"),
		recvKVs:   make(map[int][]KVPairs[V]),
		callbacks: make(map[int]func()),
	}
	w.cust = customer.New(appID, customerID, w.onReceive)
	po.AddCustomer(w.cust)
	return w
}

// SetSlicer overrides the default binary-search slicer, e.g. for tests
// that want to force a specific shard layout.
func (w *KVWorker[V]) SetSlicer(s Slicer[V]) { w.slicer = s }

func (w *KVWorker[V]) Customer() *customer.Customer { return w.cust }

// Push sends keys/values to their owning servers for accumulation. cb,
// if non-nil, runs once every shard has replied (or immediately, if
// there were no non-empty shards to send).
func (w *KVWorker[V]) Push(keys []uint64, values []V, cmd int32, cb func()) int {
	assertSortedKeys(keys, w.log)
	var register func(int)
	if cb != nil {
		register = func(ts int) { w.setCallback(ts, cb) }
	}
	return w.send(KVPairs[V]{Keys: keys, Values: values}, true, false, cmd, register)
}

// Pull fetches keys from their owning servers. outValues is overwritten
// once all shards have replied, concatenated in key order; outLens, if
// non-nil, receives the per-key length of each returned value.
func (w *KVWorker[V]) Pull(keys []uint64, outValues *[]V, outLens *[]int, cmd int32, cb func()) int {
	assertSortedKeys(keys, w.log)
	register := func(ts int) {
		w.setCallback(ts, w.assemblePull(ts, keys, outValues, outLens, cb))
	}
	return w.send(KVPairs[V]{Keys: keys}, false, true, cmd, register)
}

// PushPull pushes values and, in the same round trip, pulls the
// server's up-to-date values for the same keys back into outValues.
func (w *KVWorker[V]) PushPull(keys []uint64, values []V, outValues *[]V, outLens *[]int, cmd int32, cb func()) int {
	assertSortedKeys(keys, w.log)
	register := func(ts int) {
		w.setCallback(ts, w.assemblePull(ts, keys, outValues, outLens, cb))
	}
	return w.send(KVPairs[V]{Keys: keys, Values: values}, true, true, cmd, register)
}

// Wait blocks until request ts has received a reply (or pre-counted
// skip) from every shard it was sent to.
func (w *KVWorker[V]) Wait(ts int) { w.cust.WaitRequest(ts) }

func (w *KVWorker[V]) setCallback(ts int, cb func()) {
	w.mu.Lock()
	w.callbacks[ts] = cb
	w.mu.Unlock()
}

// send slices kvs across the current server key ranges, reserves a
// request id sized to the full server group (so that skipped shards
// are accounted for the same as real ones), pre-counts skipped shards
// as already-replied, and dispatches the rest -- following
// KVWorker::Send in the source.
func (w *KVWorker[V]) send(kvs KVPairs[V], push, pull bool, cmd int32, registerCB func(ts int)) int {
	ranges := w.po.GetServerRanges()
	var sliced []Shard[V]
	w.slicer(kvs, ranges, &sliced)

	skipped := 0
	for _, s := range sliced {
		if s.Skip {
			skipped++
		}
	}

	ts := w.cust.NewRequest(len(ranges))
	if registerCB != nil {
		registerCB(ts)
	}
	if skipped > 0 {
		w.cust.AddResponse(ts, skipped)
	}
	if skipped == len(ranges) {
		w.runCallback(ts)
		return ts
	}

	for i, s := range sliced {
		if s.Skip {
			continue
		}
		msg := message.Message{Meta: message.Meta{
			Receiver:   int32(message.ServerRankToID(i)),
			AppID:      int32(w.cust.AppID()),
			CustomerID: int32(w.cust.CustomerID()),
			Request:    true,
			Push:       push,
			Pull:       pull,
			Head:       cmd,
			Timestamp:  int32(ts),
			Priority:   s.Data.Priority,
		}}
		msg.AddData(encodeKeys(s.Data.Keys), 0)
		if push {
			vb, err := encodeValues(s.Data.Values)
			if err != nil {
				w.log.Errorf("kv: encode values for shard %d: %v", i, err)
				continue
			}
			msg.AddData(vb, 1)
			if len(s.Data.Lens) > 0 {
				msg.AddData(encodeLens(s.Data.Lens), 2)
			}
		}
		if _, err := w.van.Send(msg); err != nil {
			w.log.Warningf("kv: send to server %d failed: %v", msg.Meta.Receiver, err)
		}
	}
	return ts
}

// onReceive is the Customer's handle callback: it is invoked by the
// dispatch loop for every reply addressed to this worker, before the
// loop's own AddResponse(1) for that reply -- hence the num_servers-1
// comparison below rather than num_servers.
func (w *KVWorker[V]) onReceive(msg message.Message) {
	if msg.Meta.Request {
		w.log.Warningf("kv worker received a request-flagged reply: %s", msg.String())
		return
	}
	ts := int(msg.Meta.Timestamp)
	if msg.Meta.Pull {
		kv, err := decodeKVPairs[V](msg)
		if err != nil {
			w.log.Errorf("kv: decode reply for ts %d: %v", ts, err)
		} else {
			w.mu.Lock()
			w.recvKVs[ts] = append(w.recvKVs[ts], kv)
			w.mu.Unlock()
		}
	}
	if w.cust.ResponseCount(ts) == w.po.NumServers()-1 {
		w.runCallback(ts)
	}
}

func (w *KVWorker[V]) runCallback(ts int) {
	w.mu.Lock()
	cb, ok := w.callbacks[ts]
	delete(w.callbacks, ts)
	w.mu.Unlock()
	if ok && cb != nil {
		cb()
	}
}

// assemblePull builds the completion closure for a pull/push_pull
// request: verify no shard was lost, sort shards by their first key,
// concatenate into outValues/outLens, then invoke the user's callback.
func (w *KVWorker[V]) assemblePull(ts int, keys []uint64, outValues *[]V, outLens *[]int, userCB func()) func() {
	return func() {
		w.mu.Lock()
		shards := w.recvKVs[ts]
		delete(w.recvKVs, ts)
		w.mu.Unlock()

		total := 0
		for _, s := range shards {
			total += len(s.Keys)
			if len(s.Keys) == 0 {
				continue
			}
			if n := rangeSize(keys, s.Keys[0], s.Keys[len(s.Keys)-1]+1); n != len(s.Keys) {
				w.log.Errorf("kv: pull ts=%d shard [%d,%d) is not a contiguous sub-range of the original keys (range holds %d, shard has %d)",
					ts, s.Keys[0], s.Keys[len(s.Keys)-1]+1, n, len(s.Keys))
			}
		}
		if total != len(keys) {
			w.log.Errorf("kv: pull ts=%d expected %d keys, got %d across %d shard(s)",
				ts, len(keys), total, len(shards))
		}

		sort.Slice(shards, func(i, j int) bool {
			return firstKey(shards[i].Keys) < firstKey(shards[j].Keys)
		})

		if outValues != nil {
			vals := make([]V, 0, total)
			var lens []int
			if outLens != nil {
				lens = make([]int, 0, len(keys))
			}
			for _, s := range shards {
				vals = append(vals, s.Values...)
				if outLens != nil {
					lens = append(lens, s.Lens...)
				}
			}
			*outValues = vals
			if outLens != nil {
				*outLens = lens
			}
		}
		if userCB != nil {
			userCB()
		}
	}
}

// rangeSize reports how many of keys fall in [first, last), mirroring
// KVApp.h's FindRange: two binary searches (lower_bound) locate first's
// and last's insertion points in the strictly increasing keys slice, and
// the gap between them is the count of original keys a shard's claimed
// [front, back+1) span actually covers. A shard whose keys are a true
// contiguous sub-range of keys has rangeSize(keys, front, back+1) ==
// len(shard.Keys); a mismatch means the shard lied about its coverage
// (duplicated or skipped keys within its own claimed span).
func rangeSize(keys []uint64, first, last uint64) int {
	lo := sort.Search(len(keys), func(i int) bool { return keys[i] >= first })
	hi := sort.Search(len(keys), func(i int) bool { return keys[i] >= last })
	return hi - lo
}

func firstKey(keys []uint64) uint64 {
	if len(keys) == 0 {
		return 0
	}
	return keys[0]
}

// assertSortedKeys enforces the strictly-increasing-keys invariant;
// violating it is a programming error, fatal per spec §7.
func assertSortedKeys(keys []uint64, log logger.ILogger) {
	for i := 1; i < len(keys); i++ {
		if keys[i] <= keys[i-1] {
			log.Panicf("kv: keys must be strictly increasing, got %d <= %d at index %d", keys[i], keys[i-1], i)
		}
	}
}

func decodeKVPairs[V Numeric](msg message.Message) (KVPairs[V], error) {
	if len(msg.Data) == 0 {
		return KVPairs[V]{}, nil
	}
	keys := decodeKeys(msg.Data[0].Bytes())
	var vals []V
	if len(msg.Data) > 1 {
		var err error
		vals, err = decodeValues[V](msg.Data[1].Bytes())
		if err != nil {
			return KVPairs[V]{}, err
		}
	}
	var lens []int
	if len(msg.Data) > 2 {
		lens = decodeLens(msg.Data[2].Bytes())
	}
	return KVPairs[V]{Keys: keys, Values: vals, Lens: lens}, nil
}
