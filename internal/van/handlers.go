package van

import (
	"fmt"
	"sort"
	"time"

	"github.com/psgo/ps/internal/message"
)

// handleAddNode implements spec §4.5.2 (scheduler) and §4.5.3 (worker/
// server) -- the two sides of the same-named control command branch on
// v.isScheduler since neither role ever sees the other's code path.
func (v *Van) handleAddNode(msg message.Message) {
	if v.isScheduler {
		v.handleAddNodeAtScheduler(msg)
		return
	}
	v.handleAddNodeAtPeer(msg)
}

func (v *Van) handleAddNodeAtScheduler(msg message.Message) {
	v.schedMu.Lock()
	defer v.schedMu.Unlock()

	total := v.po.NumWorkers() + v.po.NumServers()
	if msg.Meta.Sender == message.IDEmpty {
		applicant := msg.Meta.Control.Nodes[0]
		if len(v.registeredNodes) < total {
			v.registeredNodes = append(v.registeredNodes, applicant)
		} else {
			dead := v.po.DeadNodes(nodeIDs(v.registeredNodes), time.Duration(v.cfg.HeartbeatTimeout)*time.Second)
			adopted := false
			for i, dn := range v.registeredNodes {
				if !containsID(dead, dn.ID) || dn.Role != applicant.Role {
					continue
				}
				applicant.ID = dn.ID
				// A matching RecoveryToken means this is the same process
				// re-sending ADD_NODE after a missed heartbeat, not a fresh
				// occupant of a recycled id -- its earlier registration
				// already went through assignIDsAndBroadcast, so it does not
				// need a second recovery broadcast.
				applicant.IsRecovered = dn.RecoveryToken != applicant.RecoveryToken
				v.registeredNodes[i] = applicant
				if applicant.IsRecovered {
					v.recoveredNodes = append(v.recoveredNodes, applicant)
				}
				adopted = true
				break
			}
			if !adopted {
				v.log.Warningf("protocol error: late ADD_NODE from %s has no dead %s node to replace, ignored", applicant, applicant.Role)
			}
		}
	}

	if len(v.registeredNodes) == total && !v.ready.Load() {
		v.assignIDsAndBroadcast()
	}

	if v.ready.Load() && len(v.recoveredNodes) > 0 {
		v.notifyRecovered()
	}
}

// assignIDsAndBroadcast runs once, the moment the full cluster has
// registered: deterministic id assignment, connecting to every newly
// seen address, and the initial ADD_NODE broadcast.
func (v *Van) assignIDsAndBroadcast() {
	sorted := append([]message.Node(nil), v.registeredNodes...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Hostname != sorted[j].Hostname {
			return sorted[i].Hostname > sorted[j].Hostname
		}
		return sorted[i].Port < sorted[j].Port
	})

	serverRank, workerRank := 0, 0
	byAddr := make(map[string]int) // hostname:port -> node id, for dedup
	for i, n := range sorted {
		switch n.Role {
		case message.RoleServer:
			n.ID = message.ServerRankToID(serverRank)
			serverRank++
		case message.RoleWorker:
			n.ID = message.WorkerRankToID(workerRank)
			workerRank++
		}
		sorted[i] = n
	}
	v.registeredNodes = sorted

	shared := make(map[string]bool)
	for _, n := range v.registeredNodes {
		addr := nodeAddr(n)
		if byAddr[addr] != 0 {
			shared[addr] = true
			continue
		}
		byAddr[addr] = n.ID
		if !v.isConnectedAddr(n) {
			if err := v.connect(n); err != nil {
				v.log.Warningf("connect to %s failed: %v", n, err)
				continue
			}
		}
		v.po.UpdateHeartbeat(n.ID, time.Now())
	}

	full := append(append([]message.Node(nil), v.registeredNodes...), v.scheduler)
	for _, n := range v.registeredNodes {
		if shared[nodeAddr(n)] {
			continue
		}
		v.sendAddNode(n.ID, full)
	}
	v.ready.Store(true)
}

// notifyRecovered implements the recovered-node notification fan-out:
// the recovered node gets the full roster, everyone else gets only the
// delta so a batch of simultaneous recoveries doesn't storm the cluster.
func (v *Van) notifyRecovered() {
	dead := v.po.DeadNodes(nodeIDs(v.registeredNodes), time.Duration(v.cfg.HeartbeatTimeout)*time.Second)
	for _, rn := range v.recoveredNodes {
		if !v.isConnectedAddr(rn) {
			if err := v.connect(rn); err != nil {
				v.log.Warningf("connect to recovered %s failed: %v", rn, err)
				continue
			}
		}
		v.po.UpdateHeartbeat(rn.ID, time.Now())
		v.sendAddNode(rn.ID, v.registeredNodes)
	}
	for _, n := range v.registeredNodes {
		if n.IsRecovered || containsID(dead, n.ID) {
			continue
		}
		v.sendAddNode(n.ID, v.recoveredNodes)
	}
	v.recoveredNodes = nil
}

func (v *Van) sendAddNode(receiver int, nodes []message.Node) {
	msg := message.Message{Meta: message.Meta{
		Receiver:  int32(receiver),
		Timestamp: v.AvailableTimestamp(),
		Control:   message.Control{Cmd: message.CmdAddNode, Nodes: nodes},
	}}
	if _, err := v.Send(msg); err != nil {
		v.log.Warningf("ADD_NODE broadcast to %d failed: %v", receiver, err)
	}
}

// handleAddNodeAtPeer implements spec §4.5.3.
func (v *Van) handleAddNodeAtPeer(msg message.Message) {
	newCount := 0
	for _, n := range msg.Meta.Control.Nodes {
		// Adopt our own id from a self-address match before attempting
		// connect -- connect's same-role-skip guard compares against
		// v.myNode.ID, so this node's own roster entry must not still
		// look like a same-role peer (different id) when connect runs,
		// or the self-loop connection is silently never dialed.
		if v.myNode.ID == message.IDEmpty && n.Hostname == v.myNode.Hostname && n.Port == v.myNode.Port {
			v.myNode.ID = n.ID
		}
		if !v.isConnectedAddr(n) {
			if err := v.connect(n); err != nil {
				v.log.Warningf("connect to %s failed: %v", n, err)
				continue
			}
		}
		if !n.IsRecovered {
			newCount++
		}
	}
	v.log.Debugf("ADD_NODE: %d new node(s)", newCount)
	if !v.ready.Load() {
		v.ready.Store(true)
	}
}

// handleBarrier implements spec §4.5.4.
func (v *Van) handleBarrier(msg message.Message) {
	if !v.isScheduler {
		v.po.BarrierDone(int(msg.Meta.AppID), int(msg.Meta.CustomerID))
		return
	}

	group := msg.Meta.Control.BarrierGroup
	v.schedMu.Lock()
	v.barrierCount[group]++
	count := v.barrierCount[group]
	size := len(v.po.GetNodeIDs(group))
	if count >= size {
		v.barrierCount[group] = 0
	}
	v.schedMu.Unlock()

	if count < size {
		return
	}
	for _, id := range v.po.GetNodeIDs(group) {
		reply := message.Message{Meta: message.Meta{
			Receiver:   int32(id),
			AppID:      msg.Meta.AppID,
			CustomerID: msg.Meta.CustomerID,
			Request:    false,
			Timestamp:  v.AvailableTimestamp(),
			Control:    message.Control{Cmd: message.CmdBarrier, BarrierGroup: group},
		}}
		if _, err := v.Send(reply); err != nil {
			v.log.Warningf("BARRIER reply to %d failed: %v", id, err)
		}
	}
}

// handleHeartbeat implements spec §4.5.5.
func (v *Van) handleHeartbeat(msg message.Message) {
	now := time.Now()
	for _, n := range msg.Meta.Control.Nodes {
		v.po.UpdateHeartbeat(n.ID, now)
	}
	if !v.isScheduler {
		return
	}
	reply := message.Message{Meta: message.Meta{
		Receiver:  msg.Meta.Sender,
		Timestamp: v.AvailableTimestamp(),
		Control:   message.Control{Cmd: message.CmdHeartbeat, Nodes: msg.Meta.Control.Nodes},
	}}
	if _, err := v.Send(reply); err != nil {
		v.log.Warningf("heartbeat echo failed: %v", err)
	}
}

// handleDataMsg implements spec §4.5.6: route by (app_id, customer_id),
// with the server's implicit customer_id == app_id convention.
func (v *Van) handleDataMsg(msg message.Message) {
	customerID := int(msg.Meta.CustomerID)
	if v.po.IsServer() {
		customerID = int(msg.Meta.AppID)
	}
	cust := v.po.GetCustomer(int(msg.Meta.AppID), customerID, 5*time.Second)
	if cust == nil {
		v.log.Warningf("no customer registered for app=%d customer=%d, dropping: %s",
			msg.Meta.AppID, customerID, msg.String())
		return
	}
	cust.OnReceive(msg)
}

func nodeAddr(n message.Node) string {
	return fmt.Sprintf("%s:%d", n.Hostname, n.Port)
}

func nodeIDs(nodes []message.Node) []int {
	ids := make([]int, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}

func containsID(ids []int, id int) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
