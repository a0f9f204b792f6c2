// Package postoffice implements the process-wide singleton described in
// spec §4.4, grounded on original_source/src/internal/PostOffice.h: the
// staged Start/Finalize sequence, the customer registry, the group
// table, per-server key ranges, heartbeat times and barrier state.
//
// Where the source uses one mutex per field (start_mu, barrier_mu,
// heartbeat_mu, server_key_ranges_mu, customers_mu), this keeps the same
// split but swaps the customer registry for xsync.MapOf the way
// rpc/transport/base/client.go does for its per-connection request
// table, since GetCustomer's poll loop is a frequent concurrent reader.
package postoffice

import (
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/psgo/ps/internal/config"
	"github.com/psgo/ps/internal/message"
)

// Range is a half-open [Begin, End) slice of the key space owned by one server.
type Range struct {
	Begin, End uint64
}

// Customer is the subset of customer.Customer PostOffice needs to hold a
// reference to without importing the customer package (which in turn
// needs PostOffice to route inbound messages).
type Customer interface {
	AppID() int
	CustomerID() int
	OnReceive(msg message.Message)
}

type customerKey struct {
	appID, customerID int
}

// PostOffice is the process-wide singleton. Use Get to obtain it.
type PostOffice struct {
	cfg *config.Config

	isWorker, isServer, isScheduler bool
	numWorkers, numServers          int

	startMu    sync.Mutex
	startStage int
	startTime  time.Time

	exitCallback func()

	barrierMu   sync.Mutex
	barrierCond *sync.Cond
	barrierDone map[int]map[int]bool // app_id -> customer_id -> done

	serverKeyRangesMu sync.RWMutex
	serverKeyRanges   []Range

	heartbeatMu sync.Mutex
	heartbeats  map[int]time.Time

	customers *xsync.MapOf[customerKey, Customer]

	nodeIDsMu sync.RWMutex
	nodeIDs   map[int][]int // group id -> member node ids
}

var (
	instance *PostOffice
	once     sync.Once
)

// Get returns the process-wide PostOffice, constructing it on first call.
func Get() *PostOffice {
	once.Do(func() {
		instance = &PostOffice{
			barrierDone: make(map[int]map[int]bool),
			heartbeats:  make(map[int]time.Time),
			customers:   xsync.NewMapOf[customerKey, Customer](),
			nodeIDs:     make(map[int][]int),
		}
		instance.barrierCond = sync.NewCond(&instance.barrierMu)
	})
	return instance
}

// resetForTest tears the singleton down so tests can start fresh. Not
// part of the production contract.
func resetForTest() {
	instance = nil
	once = sync.Once{}
}

// InitEnv performs the stage-0 half of Start: reads configuration and
// populates the group table, but does not touch the Van.
func (p *PostOffice) InitEnv(cfg *config.Config) error {
	p.startMu.Lock()
	defer p.startMu.Unlock()
	if p.startStage != 0 {
		return nil
	}
	p.cfg = cfg
	p.isScheduler = cfg.Role == message.RoleScheduler
	p.isServer = cfg.Role == message.RoleServer
	p.isWorker = cfg.Role == message.RoleWorker
	p.numServers = cfg.NumServer
	p.numWorkers = cfg.NumWorker
	p.startTime = time.Now()

	p.buildGroupTable()
	p.buildServerRanges()

	p.startStage = 1
	return nil
}

// StartStage returns the current stage (0, 1 or 2), used by Van to know
// whether the transport handshake still needs to run.
func (p *PostOffice) StartStage() int {
	p.startMu.Lock()
	defer p.startMu.Unlock()
	return p.startStage
}

// AdvanceStage moves start_stage from 1 to 2 once Van.Start's handshake
// has completed (the resend/heartbeat threads stage in spec §4.4).
func (p *PostOffice) AdvanceStage() {
	p.startMu.Lock()
	defer p.startMu.Unlock()
	if p.startStage == 1 {
		p.startStage = 2
	}
}

// ResetStage returns to stage 0, used by Finalize.
func (p *PostOffice) ResetStage() {
	p.startMu.Lock()
	defer p.startMu.Unlock()
	p.startStage = 0
}

// IsScheduler, IsServer, IsWorker report this process's configured role.
func (p *PostOffice) IsScheduler() bool { return p.isScheduler }
func (p *PostOffice) IsServer() bool    { return p.isServer }
func (p *PostOffice) IsWorker() bool    { return p.isWorker }
func (p *PostOffice) NumServers() int   { return p.numServers }
func (p *PostOffice) NumWorkers() int   { return p.numWorkers }
func (p *PostOffice) Config() *config.Config { return p.cfg }

// buildGroupTable populates every group id a node id can resolve through:
// each node's singleton group, the server group, the worker group, and
// the all-nodes group, per spec §2.
func (p *PostOffice) buildGroupTable() {
	p.nodeIDsMu.Lock()
	defer p.nodeIDsMu.Unlock()

	p.nodeIDs = make(map[int][]int)
	p.nodeIDs[message.IDScheduler] = []int{message.IDScheduler}

	var servers, workers []int
	for rank := 0; rank < p.numServers; rank++ {
		id := message.ServerRankToID(rank)
		servers = append(servers, id)
		p.nodeIDs[id] = []int{id}
	}
	for rank := 0; rank < p.numWorkers; rank++ {
		id := message.WorkerRankToID(rank)
		workers = append(workers, id)
		p.nodeIDs[id] = []int{id}
	}
	p.nodeIDs[message.GroupServer] = servers
	p.nodeIDs[message.GroupWorker] = workers
	all := append([]int{message.IDScheduler}, servers...)
	all = append(all, workers...)
	p.nodeIDs[message.GroupAll] = all
}

// GetNodeIDs resolves a group id to its member node ids. If groupID is
// itself a plain node id with no table entry, it resolves to {groupID}.
func (p *PostOffice) GetNodeIDs(groupID int) []int {
	p.nodeIDsMu.RLock()
	defer p.nodeIDsMu.RUnlock()
	if ids, ok := p.nodeIDs[groupID]; ok {
		out := make([]int, len(ids))
		copy(out, ids)
		return out
	}
	return []int{groupID}
}

// SetNodeIDs overwrites one group's member list with a copy of ids.
func (p *PostOffice) SetNodeIDs(groupID int, ids []int) {
	p.nodeIDsMu.Lock()
	defer p.nodeIDsMu.Unlock()
	cp := make([]int, len(ids))
	copy(cp, ids)
	p.nodeIDs[groupID] = cp
}

// buildServerRanges partitions [0, kMaxKey) into NumServers contiguous,
// disjoint ranges per spec §3.
func (p *PostOffice) buildServerRanges() {
	const kMaxKey = ^uint64(0)
	p.serverKeyRangesMu.Lock()
	defer p.serverKeyRangesMu.Unlock()

	p.serverKeyRanges = nil
	if p.numServers == 0 {
		return
	}
	n := uint64(p.numServers)
	for i := uint64(0); i < n; i++ {
		begin := mulDiv(kMaxKey, i, n)
		end := mulDiv(kMaxKey, i+1, n)
		if i == n-1 {
			end = kMaxKey
		}
		p.serverKeyRanges = append(p.serverKeyRanges, Range{Begin: begin, End: end})
	}
}

// mulDiv computes floor(a * b / c) without overflowing uint64, since a
// is as large as kMaxKey.
func mulDiv(a, b, c uint64) uint64 {
	num := new(big.Int).Mul(new(big.Int).SetUint64(a), new(big.Int).SetUint64(b))
	num.Div(num, new(big.Int).SetUint64(c))
	return num.Uint64()
}

// GetServerRanges returns the current per-server key ranges.
func (p *PostOffice) GetServerRanges() []Range {
	p.serverKeyRangesMu.RLock()
	defer p.serverKeyRangesMu.RUnlock()
	out := make([]Range, len(p.serverKeyRanges))
	copy(out, p.serverKeyRanges)
	return out
}

// AddCustomer registers a Customer so data messages can be routed to it.
func (p *PostOffice) AddCustomer(c Customer) {
	p.customers.Store(customerKey{c.AppID(), c.CustomerID()}, c)
}

// RemoveCustomer unregisters a Customer.
func (p *PostOffice) RemoveCustomer(appID, customerID int) {
	p.customers.Delete(customerKey{appID, customerID})
}

// GetCustomer polls for a registered Customer at 2ms intervals for up
// to timeout, returning nil if it never appears (spec §5's
// get_customer contract).
func (p *PostOffice) GetCustomer(appID, customerID int, timeout time.Duration) Customer {
	deadline := time.Now().Add(timeout)
	for {
		if c, ok := p.customers.Load(customerKey{appID, customerID}); ok {
			return c
		}
		if time.Now().After(deadline) {
			return nil
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// UpdateHeartbeat records that nodeID was heard from at t.
func (p *PostOffice) UpdateHeartbeat(nodeID int, t time.Time) {
	p.heartbeatMu.Lock()
	defer p.heartbeatMu.Unlock()
	p.heartbeats[nodeID] = t
}

// LastHeartbeat returns the last-seen time for nodeID, or the zero time
// if none was ever recorded.
func (p *PostOffice) LastHeartbeat(nodeID int) time.Time {
	p.heartbeatMu.Lock()
	defer p.heartbeatMu.Unlock()
	return p.heartbeats[nodeID]
}

// DeadNodes returns the ids, among candidateIDs, whose last heartbeat is
// older than timeout (or that were never heard from at all).
func (p *PostOffice) DeadNodes(candidateIDs []int, timeout time.Duration) []int {
	p.heartbeatMu.Lock()
	defer p.heartbeatMu.Unlock()
	now := time.Now()
	var dead []int
	for _, id := range candidateIDs {
		last, ok := p.heartbeats[id]
		if !ok || now.Sub(last) > timeout {
			dead = append(dead, id)
		}
	}
	sort.Ints(dead)
	return dead
}

// BarrierDone marks (appID, customerID) as having entered the
// barrier's done state and wakes every local waiter.
func (p *PostOffice) BarrierDone(appID, customerID int) {
	p.barrierMu.Lock()
	defer p.barrierMu.Unlock()
	if p.barrierDone[appID] == nil {
		p.barrierDone[appID] = make(map[int]bool)
	}
	p.barrierDone[appID][customerID] = true
	p.barrierCond.Broadcast()
}

// WaitBarrier blocks until BarrierDone has been called for (appID,
// customerID), then clears the flag for the next barrier round.
func (p *PostOffice) WaitBarrier(appID, customerID int) {
	p.barrierMu.Lock()
	defer p.barrierMu.Unlock()
	for !p.barrierDone[appID][customerID] {
		p.barrierCond.Wait()
	}
	p.barrierDone[appID][customerID] = false
}

// RegisterExitCallback stores a callback run by Finalize.
func (p *PostOffice) RegisterExitCallback(cb func()) {
	p.exitCallback = cb
}

// RunExitCallback invokes the registered exit callback, if any.
func (p *PostOffice) RunExitCallback() {
	if p.exitCallback != nil {
		p.exitCallback()
	}
}

// StartTime returns when Stage 0 completed.
func (p *PostOffice) StartTime() time.Time { return p.startTime }

func (p *PostOffice) String() string {
	return fmt.Sprintf("PostOffice{stage=%d scheduler=%v server=%v worker=%v servers=%d workers=%d}",
		p.startStage, p.isScheduler, p.isServer, p.isWorker, p.numServers, p.numWorkers)
}
