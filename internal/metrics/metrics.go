// Package metrics exposes the runtime counters and gauges described in
// spec §4.8, backed by github.com/VictoriaMetrics/metrics -- declared in
// the teacher's go.mod but never imported by any of its own files; this
// package is that wiring, following the library's own idiomatic
// label-in-name Set/Counter/Gauge API (there is no teacher source to
// ground the wiring on, since the teacher never used it itself).
package metrics

import (
	"fmt"
	"io"
	"sync/atomic"

	"github.com/VictoriaMetrics/metrics"
)

// Set holds one node's counters and gauges, labeled with its role and
// node id so a process scraping several local nodes can tell them apart.
type Set struct {
	set *metrics.Set

	bytesSent       *metrics.Counter
	bytesReceived   *metrics.Counter
	messagesSent    *metrics.Counter
	messagesDropped *metrics.Counter
	resendRetries   *metrics.Counter
	duplicatesSeen  *metrics.Counter

	inFlightReqs   atomic.Int64
	connectedPeers atomic.Int64
}

// NewSet constructs a labeled metric set for one node and registers it
// with the default registry so WritePrometheus picks it up.
func NewSet(role string, nodeID int) *Set {
	s := metrics.NewSet()
	tag := func(name string) string {
		return fmt.Sprintf(`%s{role=%q,node="%d"}`, name, role, nodeID)
	}

	ms := &Set{
		set:             s,
		bytesSent:       s.NewCounter(tag("ps_bytes_sent_total")),
		bytesReceived:   s.NewCounter(tag("ps_bytes_received_total")),
		messagesSent:    s.NewCounter(tag("ps_messages_sent_total")),
		messagesDropped: s.NewCounter(tag("ps_messages_dropped_total")),
		resendRetries:   s.NewCounter(tag("ps_resend_retries_total")),
		duplicatesSeen:  s.NewCounter(tag("ps_duplicates_seen_total")),
	}
	s.NewGauge(tag("ps_inflight_requests"), func() float64 {
		return float64(ms.inFlightReqs.Load())
	})
	s.NewGauge(tag("ps_connected_peers"), func() float64 {
		return float64(ms.connectedPeers.Load())
	})

	metrics.RegisterSet(s)
	return ms
}

func (m *Set) AddBytesSent(n int64)     { m.bytesSent.Add(int(n)) }
func (m *Set) AddBytesReceived(n int64) { m.bytesReceived.Add(int(n)) }
func (m *Set) IncMessagesSent()         { m.messagesSent.Inc() }
func (m *Set) IncMessagesDropped()      { m.messagesDropped.Inc() }
func (m *Set) IncResendRetries()        { m.resendRetries.Inc() }
func (m *Set) IncDuplicatesSeen()       { m.duplicatesSeen.Inc() }

// SetInFlightRequests overwrites the in-flight request gauge. No
// package in this module calls it; the gauge stays at the last value set.
func (m *Set) SetInFlightRequests(n int) { m.inFlightReqs.Store(int64(n)) }

func (m *Set) SetConnectedPeers(n int) { m.connectedPeers.Store(int64(n)) }

// WritePrometheus renders this set in Prometheus text exposition format.
func (m *Set) WritePrometheus(w io.Writer) {
	m.set.WritePrometheus(w)
}

// Unregister removes this set from the default registry, used on node
// shutdown so repeated test runs in one process don't panic on a
// duplicate metric name.
func (m *Set) Unregister() {
	metrics.UnregisterSet(m.set)
}
