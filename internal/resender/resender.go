// Package resender implements at-least-once delivery over an unreliable
// Van connection: every non-ACK message is tracked until
// its ACK arrives, and retransmitted on a timeout, following
// original_source/src/internal/Resender.cpp's OnSend/OnReceive/
// ResendThread split.
//
// The concurrent maps use xsync.MapOf the way rpc/transport/base/client.go
// uses it for its per-connection requestChans table -- lock-free reads
// dominate here too, since OnReceive's duplicate check runs on every
// inbound data message.
package resender

import (
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/lni/dragonboat/v4/logger"

	"github.com/psgo/ps/internal/message"
)

// Sender is the subset of Van a Resender needs: the ability to put a
// message back on the wire and to learn this node's own id for the
// sender-less signature fallback.
type Sender interface {
	Send(msg message.Message) error
	SelfID() int
}

// entry is one outstanding, unacknowledged send.
type entry struct {
	msg   message.Message
	send  time.Time
	retry int
}

// Resender tracks unacknowledged sends and retransmits them on timeout.
type Resender struct {
	timeout  time.Duration
	maxRetry int
	van      Sender
	log      logger.ILogger

	received  *xsync.MapOf[uint64, struct{}]
	tobeAcked *xsync.MapOf[uint64, *entry]

	stop chan struct{}
	done chan struct{}

	// OnDuplicate and OnRetry, if set, are invoked for metrics
	// reporting; they must return quickly since they run on the
	// receive/resend hot path.
	OnDuplicate func()
	OnRetry     func()
}

// New starts a Resender with the given retransmit timeout and retry
// budget. Call Stop to terminate the background resend loop.
func New(timeoutMs int, maxRetry int, van Sender) *Resender {
	r := &Resender{
		timeout:   time.Duration(timeoutMs) * time.Millisecond,
		maxRetry:  maxRetry,
		van:       van,
		log:       logger.GetLogger("resender"),
		received:  xsync.NewMapOf[uint64, struct{}](),
		tobeAcked: xsync.NewMapOf[uint64, *entry](),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go r.resendLoop()
	return r
}

// Stop terminates the background resend loop and waits for it to exit.
func (r *Resender) Stop() {
	close(r.stop)
	<-r.done
}

// OnSend records msg as awaiting an ACK. Retries of an already-tracked
// signature are ignored, matching try_emplace's "keep the first entry"
// semantics in the source.
func (r *Resender) OnSend(msg message.Message) {
	if msg.Meta.Control.Cmd == message.CmdAck {
		return
	}
	sign := r.sign(msg.Meta)
	r.tobeAcked.LoadOrStore(sign, &entry{msg: msg, send: time.Now()})
}

// OnReceive processes one inbound message. It returns false when the
// message is a duplicate (already seen) or a TERMINATE control message,
// true otherwise -- mirroring the original's "should this be delivered
// to the application" boolean.
func (r *Resender) OnReceive(msg message.Message) bool {
	if msg.Meta.Control.Cmd == message.CmdTerminate {
		return false
	}
	if msg.Meta.Control.Cmd == message.CmdAck {
		r.tobeAcked.Delete(msg.Meta.MsgSign)
		return true
	}

	sign := r.sign(msg.Meta)
	_, alreadySeen := r.received.LoadOrStore(sign, struct{}{})

	ack := message.Message{Meta: message.Meta{
		Sender:   msg.Meta.Receiver,
		Receiver: msg.Meta.Sender,
		MsgSign:  sign,
		Control:  message.Control{Cmd: message.CmdAck},
	}}
	if err := r.van.Send(ack); err != nil {
		r.log.Warningf("failed to send ACK for sign %d: %v", sign, err)
	}

	if alreadySeen {
		r.log.Warningf("received duplicated msg: %s", msg.String())
		if r.OnDuplicate != nil {
			r.OnDuplicate()
		}
		return false
	}
	return true
}

// sign computes the 64-bit signature: 16 bits app id, 8 bits sender,
// 8 bits receiver, 31 bits timestamp, 1 bit request flag. When the
// sender is unset, this node's own id stands in for it (the
// sign-before-send case, where the sender field may not yet be filled
// in by Van).
func (r *Resender) sign(m message.Meta) uint64 {
	sender := m.Sender
	if sender == int32(message.IDEmpty) {
		sender = int32(r.van.SelfID())
	}
	return (uint64(uint16(m.AppID)) << 48) |
		(uint64(byte(sender)) << 40) |
		(uint64(byte(m.Receiver)) << 32) |
		(uint64(uint32(m.Timestamp)&0x7fffffff) << 1) |
		boolBit(m.Request)
}

func boolBit(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// resendLoop wakes every timeout interval and retransmits any entry
// whose backoff window (timeout * (retry+1)) has elapsed.
func (r *Resender) resendLoop() {
	defer close(r.done)
	ticker := time.NewTicker(r.timeout)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case now := <-ticker.C:
			var toSend []message.Message
			r.tobeAcked.Range(func(sign uint64, e *entry) bool {
				if e.send.Add(r.timeout * time.Duration(e.retry+1)).Before(now) {
					e.retry++
					toSend = append(toSend, e.msg)
					if e.retry > r.maxRetry {
						r.log.Warningf("msg sign %d exceeded max retry %d", sign, r.maxRetry)
					}
					if r.OnRetry != nil {
						r.OnRetry()
					}
				}
				return true
			})
			for _, msg := range toSend {
				if err := r.van.Send(msg); err != nil {
					r.log.Warningf("resend failed: %v", err)
				}
			}
		}
	}
}
