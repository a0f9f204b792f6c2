// Package van implements the transport core described in spec §4.5,
// grounded on original_source/src/internal/Van.cpp (control flow and
// thread layout) and ZMQVan.cpp (bind/connect/send/receive semantics),
// generalized from ZeroMQ's ROUTER/DEALER pair onto internal/transport's
// plain TCP connections: one accepting listener funnels every inbound
// peer's frames into one sequential receive loop (the ROUTER side),
// while one persistent dialed connection per peer id carries outbound
// sends (the DEALER side) -- including a self-loop connection, used for
// the self-addressed TERMINATE that unwinds the receive loop on Stop.
package van

import (
	"fmt"
	"math/rand"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"

	"github.com/psgo/ps/internal/config"
	"github.com/psgo/ps/internal/message"
	"github.com/psgo/ps/internal/metrics"
	"github.com/psgo/ps/internal/postoffice"
	"github.com/psgo/ps/internal/resender"
	"github.com/psgo/ps/internal/transport"
)

// Van is the transport façade: bind, connect, frame, send, receive, and
// the membership/heartbeat/barrier protocol.
type Van struct {
	cfg *config.Config
	po  *postoffice.PostOffice
	log logger.ILogger
	mtr *metrics.Set

	startMu    sync.Mutex
	startStage int

	myNode      message.Node
	scheduler   message.Node
	isScheduler bool

	listener *transport.Listener

	connMu        sync.Mutex
	senders       map[int]*transport.Conn
	accepted      []*transport.Conn
	connectedAddr map[string]bool

	ready        atomic.Bool
	timestamp    atomic.Int32
	sendBytes    atomic.Int64
	receiveBytes atomic.Int64
	dropRate     int

	recvCh   chan received
	recvDone chan struct{}
	recvWG   sync.WaitGroup

	resender *resender.Resender

	heartbeatWG sync.WaitGroup

	schedMu         sync.Mutex
	registeredNodes []message.Node
	recoveredNodes  []message.Node
	barrierCount    map[int]int
}

type received struct {
	senderID int
	msg      message.Message
}

// New constructs a Van bound to cfg and po. Data messages are routed
// through po's customer registry (§4.5.6), not returned to the caller.
func New(cfg *config.Config, po *postoffice.PostOffice) *Van {
	return &Van{
		cfg:           cfg,
		po:            po,
		log:           logger.GetLogger("van"),
		senders:       make(map[int]*transport.Conn),
		connectedAddr: make(map[string]bool),
		recvCh:        make(chan received, 256),
		recvDone:      make(chan struct{}),
		barrierCount:  make(map[int]int),
	}
}

// Metrics returns this node's metric set, valid once Start has bound an
// id and role (nil before then).
func (v *Van) Metrics() *metrics.Set { return v.mtr }

// SelfID satisfies resender.Sender.
func (v *Van) SelfID() int { return v.myNode.ID }

// asResenderSender adapts Van.Send's (bytesSent, error) return to the
// plain error resender.Sender expects, without widening Van's own
// public Send signature.
type asResenderSender struct{ v *Van }

func (s asResenderSender) Send(msg message.Message) error { _, err := s.v.Send(msg); return err }
func (s asResenderSender) SelfID() int                    { return s.v.SelfID() }

// MyNode returns this process's node descriptor.
func (v *Van) MyNode() message.Node { return v.myNode }

// IsReady reports whether the join handshake has completed.
func (v *Van) IsReady() bool { return v.ready.Load() }

// AvailableTimestamp returns the next value of this node's monotonic
// request/message counter.
func (v *Van) AvailableTimestamp() int32 { return v.timestamp.Add(1) }

// Start runs the staged handshake of spec §4.5.1: bind, connect to the
// scheduler, launch the receive loop, send ADD_NODE (non-scheduler),
// wait for readiness, then start the heartbeat and resender.
func (v *Van) Start(customerID int) error {
	v.startMu.Lock()
	if v.startStage == 0 {
		if err := v.startStage0(customerID); err != nil {
			v.startMu.Unlock()
			return err
		}
		v.startStage = 1
	}
	v.startMu.Unlock()

	// Steps 5-6 of §4.5.1 apply only to non-scheduler nodes: the
	// scheduler never joins anyone and so never waits on its own ready
	// flag, which instead flips asynchronously once the full cluster
	// has registered (§4.5.2).
	if !v.isScheduler {
		msg := message.Message{Meta: message.Meta{
			Receiver:  int32(message.IDScheduler),
			Timestamp: v.AvailableTimestamp(),
			Control:   message.Control{Cmd: message.CmdAddNode, Nodes: []message.Node{v.myNode}},
		}}
		if _, err := v.Send(msg); err != nil {
			return fmt.Errorf("van: send initial ADD_NODE: %w", err)
		}

		for !v.ready.Load() {
			time.Sleep(100 * time.Millisecond)
		}

		v.heartbeatWG.Add(1)
		go v.heartbeatLoop()
	}

	v.startMu.Lock()
	if v.startStage == 1 {
		if v.cfg.ResendTimeout > 0 {
			v.resender = resender.New(v.cfg.ResendTimeout, 10, asResenderSender{v})
			v.resender.OnDuplicate = v.mtr.IncDuplicatesSeen
			v.resender.OnRetry = v.mtr.IncResendRetries
		}
		v.startStage = 2
	}
	v.startMu.Unlock()
	return nil
}

func (v *Van) startStage0(customerID int) error {
	v.scheduler = message.Node{
		Role:     message.RoleScheduler,
		ID:       message.IDScheduler,
		Hostname: v.cfg.SchedulerURI,
		Port:     v.cfg.SchedulerPort,
	}
	v.isScheduler = v.cfg.Role == message.RoleScheduler

	if v.isScheduler {
		v.myNode = v.scheduler
	} else {
		ip, err := resolveIP(v.cfg.NodeHost, v.cfg.Interface)
		if err != nil {
			return err
		}
		v.myNode = message.Node{
			ID:            message.IDEmpty,
			Role:          v.cfg.Role,
			Hostname:      ip,
			CustomerID:    customerID,
			RecoveryToken: uuid.NewString(),
		}
	}
	v.dropRate = v.cfg.DropRate

	maxRetry := 30
	if v.isScheduler {
		maxRetry = 0
	}
	port, err := v.bind(v.cfg.Port, maxRetry)
	if err != nil {
		return err
	}
	v.myNode.Port = port
	if v.isScheduler {
		v.scheduler.Port = port
	}
	v.log.Infof("node bound successfully: %s", v.myNode)
	v.mtr = metrics.NewSet(v.myNode.Role.String(), v.myNode.ID)

	if err := v.connect(v.scheduler); err != nil {
		return fmt.Errorf("van: connect to scheduler: %w", err)
	}

	go v.acceptLoop()
	v.recvWG.Add(1)
	go v.receiveLoop()

	return nil
}

// bind listens on port, retrying on a random port in [10000, 50000) up
// to maxRetry times if the configured port is unavailable.
func (v *Van) bind(port int, maxRetry int) (int, error) {
	for i := 0; ; i++ {
		addr := fmt.Sprintf(":%d", port)
		ln, err := transport.Listen("tcp", addr, identityFor(v.myNode.ID))
		if err == nil {
			v.listener = ln
			_, portStr, splitErr := net.SplitHostPort(ln.Addr().String())
			if splitErr != nil {
				return -1, fmt.Errorf("van: parse bound address: %w", splitErr)
			}
			boundPort, _ := strconv.Atoi(portStr)
			return boundPort, nil
		}
		if i >= maxRetry {
			return -1, fmt.Errorf("van: bind failed after %d retries: %w", maxRetry, err)
		}
		port = 10000 + rand.Intn(40000)
	}
}

// connect dials node, replacing any prior connection to the same node
// id. Per spec §4.5, a node never connects to another of the same role
// except itself.
func (v *Van) connect(node message.Node) error {
	if node.Role == v.myNode.Role && node.ID != v.myNode.ID {
		return nil
	}
	addr := fmt.Sprintf("%s:%d", node.Hostname, node.Port)

	v.connMu.Lock()
	defer v.connMu.Unlock()
	if old, ok := v.senders[node.ID]; ok {
		old.Close()
	}
	conn, err := transport.Dial("tcp", addr, identityFor(v.myNode.ID))
	if err != nil {
		return err
	}
	v.senders[node.ID] = conn
	v.connectedAddr[addr] = true
	if v.mtr != nil {
		v.mtr.SetConnectedPeers(len(v.senders))
	}
	return nil
}

// isConnectedAddr reports whether addr already has an outbound connection.
func (v *Van) isConnectedAddr(node message.Node) bool {
	addr := fmt.Sprintf("%s:%d", node.Hostname, node.Port)
	v.connMu.Lock()
	defer v.connMu.Unlock()
	return v.connectedAddr[addr]
}

// Send serializes and writes msg to its receiver, tracking bytes sent
// and registering it with the Resender (if any) for ACK tracking.
func (v *Van) Send(msg message.Message) (int, error) {
	v.connMu.Lock()
	conn, ok := v.senders[int(msg.Meta.Receiver)]
	v.connMu.Unlock()
	if !ok {
		return -1, fmt.Errorf("van: no connection to node %d", msg.Meta.Receiver)
	}

	if err := conn.SendMsg(msg); err != nil {
		return -1, err
	}
	n := estimateSize(msg)
	v.sendBytes.Add(int64(n))
	if v.mtr != nil {
		v.mtr.AddBytesSent(int64(n))
		v.mtr.IncMessagesSent()
	}
	if v.resender != nil {
		v.resender.OnSend(msg)
	}
	v.log.Debugf("sent %dB: %s", n, msg.String())
	return n, nil
}

func estimateSize(msg message.Message) int {
	n := len(msg.Meta.Body)
	for _, d := range msg.Data {
		n += d.Len()
	}
	return n
}

// acceptLoop accepts inbound connections and spawns one read loop per
// connection, all feeding the single receiveLoop via recvCh.
func (v *Van) acceptLoop() {
	for {
		conn, err := v.listener.Accept()
		if err != nil {
			return
		}
		v.connMu.Lock()
		v.accepted = append(v.accepted, conn)
		v.connMu.Unlock()

		v.recvWG.Add(1)
		go v.connReadLoop(conn)
	}
}

func (v *Van) connReadLoop(conn *transport.Conn) {
	defer v.recvWG.Done()
	for {
		identity, msg, err := conn.RecvMsg()
		if err != nil {
			return
		}
		senderID, ok := parseIdentity(identity)
		if !ok {
			senderID = message.IDEmpty
		}
		select {
		case v.recvCh <- received{senderID: senderID, msg: msg}:
		case <-v.recvDone:
			return
		}
	}
}

// receiveLoop is the single logical receive thread: it processes
// control and data messages sequentially, applying debug drop, the
// Resender's dedup/ACK logic, and dispatch.
func (v *Van) receiveLoop() {
	defer v.recvWG.Done()
	for r := range v.recvCh {
		msg := r.msg
		msg.Meta.Sender = int32(r.senderID)
		msg.Meta.Receiver = int32(v.myNode.ID)

		n := estimateSize(msg)
		v.receiveBytes.Add(int64(n))
		if v.mtr != nil {
			v.mtr.AddBytesReceived(int64(n))
		}

		if v.ready.Load() && v.dropRate > 0 && rand.Intn(100) < v.dropRate {
			v.log.Warningf("dropped msg: %s", msg.String())
			if v.mtr != nil {
				v.mtr.IncMessagesDropped()
			}
			continue
		}
		v.log.Debugf("received %dB: %s", n, msg.String())

		// Resender.OnReceive fully consumes ACKs itself (clearing the
		// tobe-acked entry) and reports whether a non-ACK message
		// should be delivered to the application -- false for a
		// duplicate, which it has already re-ACKed. TERMINATE always
		// falls through regardless, since the receive loop itself must
		// observe it to unwind cleanly.
		if v.resender != nil {
			cmd := msg.Meta.Control.Cmd
			deliver := v.resender.OnReceive(msg)
			if cmd == message.CmdAck {
				continue
			}
			if cmd != message.CmdTerminate && !deliver {
				continue
			}
		}

		if msg.Meta.Control.IsEmpty() {
			v.handleDataMsg(msg)
			continue
		}

		switch msg.Meta.Control.Cmd {
		case message.CmdAddNode:
			v.handleAddNode(msg)
		case message.CmdHeartbeat:
			v.handleHeartbeat(msg)
		case message.CmdBarrier:
			v.handleBarrier(msg)
		case message.CmdTerminate:
			v.log.Infof("%s terminated", v.myNode)
			v.ready.Store(false)
			close(v.recvDone)
			return
		default:
			v.log.Warningf("dropped msg due to invalid command: %s", msg.String())
		}
	}
}

func (v *Van) heartbeatLoop() {
	defer v.heartbeatWG.Done()
	interval := time.Duration(v.cfg.HeartbeatInterval) * time.Millisecond
	if interval == 0 {
		return
	}
	for v.ready.Load() {
		hb := message.Message{Meta: message.Meta{
			Receiver:  int32(message.IDScheduler),
			Timestamp: v.AvailableTimestamp(),
			Control:   message.Control{Cmd: message.CmdHeartbeat, Nodes: []message.Node{v.myNode}},
		}}
		if _, err := v.Send(hb); err != nil {
			v.log.Warningf("heartbeat send failed: %v", err)
		}
		time.Sleep(interval)
	}
}

// Stop self-sends a TERMINATE, waits for the receive loop to exit, then
// joins the heartbeat loop, drops the Resender, and resets counters.
func (v *Van) Stop() error {
	term := message.Message{Meta: message.Meta{
		Receiver:   int32(v.myNode.ID),
		CustomerID: 0,
		Control:    message.Control{Cmd: message.CmdTerminate},
	}}
	if _, err := v.Send(term); err != nil {
		return fmt.Errorf("van: self-send TERMINATE: %w", err)
	}

	<-v.recvDone
	if !v.isScheduler {
		v.heartbeatWG.Wait()
	}
	if v.resender != nil {
		v.resender.Stop()
		v.resender = nil
	}
	v.cleanupConnections()
	v.recvWG.Wait()

	v.startStage = 0
	v.timestamp.Store(0)
	v.sendBytes.Store(0)
	v.receiveBytes.Store(0)
	v.recvDone = make(chan struct{})
	v.connMu.Lock()
	v.senders = make(map[int]*transport.Conn)
	v.connectedAddr = make(map[string]bool)
	v.accepted = nil
	v.connMu.Unlock()
	v.myNode.ID = message.IDEmpty
	if v.mtr != nil {
		v.mtr.Unregister()
		v.mtr = nil
	}
	return nil
}

func (v *Van) cleanupConnections() {
	if v.listener != nil {
		v.listener.Close()
	}
	v.connMu.Lock()
	defer v.connMu.Unlock()
	for _, c := range v.senders {
		c.Close()
	}
	for _, c := range v.accepted {
		c.Close()
	}
}
