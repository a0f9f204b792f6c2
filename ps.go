// Package ps is the single entry point for using the core runtime: it
// wires PostOffice and Van together behind Start/Finalize, mirroring
// ps-lite's PS.h facade. A process builds its config, calls Start, then
// constructs whichever KVWorker/KVServer/SimpleApp instances it needs
// (each registering its own Customer with PostOffice), and calls
// Finalize before exit.
package ps

import (
	"fmt"
	"sync"

	"github.com/lni/dragonboat/v4/logger"

	"github.com/psgo/ps/internal/config"
	"github.com/psgo/ps/internal/message"
	"github.com/psgo/ps/internal/postoffice"
	"github.com/psgo/ps/internal/van"
)

var (
	mu     sync.Mutex
	theVan *van.Van
	log    = logger.GetLogger("ps")
)

// Start brings this process into the cluster: stage 0 (once per
// process) builds the group table and the Van; stage 1 (once per
// process) runs the Van's bind/connect/ADD_NODE handshake and blocks
// until the cluster is ready; stage 2 (every call) enters the
// all-nodes barrier if needBarrier. customerID is this call's barrier
// identity -- pass 0 unless multiple Customers share the process.
func Start(cfg *config.Config, customerID int, needBarrier bool) error {
	po := postoffice.Get()
	if err := po.InitEnv(cfg); err != nil {
		return fmt.Errorf("ps: init env: %w", err)
	}

	mu.Lock()
	if theVan == nil {
		theVan = van.New(cfg, po)
	}
	v := theVan
	mu.Unlock()

	if po.StartStage() == 1 {
		if err := v.Start(customerID); err != nil {
			return fmt.Errorf("ps: van start: %w", err)
		}
		po.AdvanceStage()
	}

	if needBarrier {
		Barrier(customerID, message.GroupAll)
	}
	return nil
}

// StartAsync is Start with needBarrier=false, matching ps-lite's
// StartAsync: the caller's own stage 0/1 work still runs, but no
// all-nodes rendezvous blocks the return.
func StartAsync(cfg *config.Config, customerID int) error {
	return Start(cfg, customerID, false)
}

// Finalize removes this call from the cluster: if needBarrier, blocks
// on the all-nodes barrier first; only customerID == 0 actually tears
// down the Van and resets process-wide state, since that is the
// convention for the process's primary Customer. The registered exit
// callback, if any, always runs last -- even when needBarrier is
// false, so RegisterExitCallback(cb); Finalize(id, false) behaves like
// Finalize(id, false) followed by cb().
func Finalize(customerID int, needBarrier bool) error {
	po := postoffice.Get()

	if needBarrier {
		Barrier(customerID, message.GroupAll)
	}

	if customerID == 0 {
		mu.Lock()
		v := theVan
		mu.Unlock()
		if v != nil {
			if err := v.Stop(); err != nil {
				return fmt.Errorf("ps: van stop: %w", err)
			}
		}
		po.ResetStage()
	}

	po.RunExitCallback()
	return nil
}

// RegisterExitCallback installs cb to run at the end of Finalize.
func RegisterExitCallback(cb func()) { postoffice.Get().RegisterExitCallback(cb) }

// Barrier sends a BARRIER control message to the scheduler for group
// and blocks until every current member of group has also entered,
// at which point the scheduler releases them together (§4.5.4).
func Barrier(customerID int, group int) {
	mu.Lock()
	v := theVan
	mu.Unlock()
	if v == nil {
		return
	}
	msg := message.Message{Meta: message.Meta{
		Receiver:   int32(message.IDScheduler),
		CustomerID: int32(customerID),
		Timestamp:  v.AvailableTimestamp(),
		Control:    message.Control{Cmd: message.CmdBarrier, BarrierGroup: group},
	}}
	if _, err := v.Send(msg); err != nil {
		log.Warningf("ps: barrier send failed: %v", err)
		return
	}
	postoffice.Get().WaitBarrier(0, customerID)
}

// NumWorkers returns the cluster's configured worker count.
func NumWorkers() int { return postoffice.Get().NumWorkers() }

// NumServers returns the cluster's configured server count.
func NumServers() int { return postoffice.Get().NumServers() }

// IsWorker reports whether this process is a worker.
func IsWorker() bool { return postoffice.Get().IsWorker() }

// IsServer reports whether this process is a server.
func IsServer() bool { return postoffice.Get().IsServer() }

// IsScheduler reports whether this process is the scheduler.
func IsScheduler() bool { return postoffice.Get().IsScheduler() }

// MyRank returns this process's role-local dense rank.
func MyRank() int {
	mu.Lock()
	v := theVan
	mu.Unlock()
	if v == nil {
		return 0
	}
	return message.IDToRank(v.MyNode().ID)
}

// Van returns the process's Van, valid once Start has returned. It
// satisfies kv.VanSender and simpleapp.VanSender directly, so
// KVWorker/KVServer/SimpleApp can be constructed with it without an
// adapter.
func Van() *van.Van { mu.Lock(); defer mu.Unlock(); return theVan }

// PostOffice returns the process-wide registry, for constructing
// KVWorker/KVServer/SimpleApp instances and registering their
// Customers.
func PostOffice() *postoffice.PostOffice { return postoffice.Get() }
