package metrics

import (
	"bytes"
	"strings"
	"testing"
)

func TestCountersAndGaugesRenderInPrometheusFormat(t *testing.T) {
	m := NewSet("worker", 9)
	defer m.Unregister()

	m.AddBytesSent(100)
	m.AddBytesReceived(42)
	m.IncMessagesSent()
	m.IncMessagesDropped()
	m.IncResendRetries()
	m.IncDuplicatesSeen()
	m.SetInFlightRequests(3)
	m.SetConnectedPeers(2)

	var buf bytes.Buffer
	m.WritePrometheus(&buf)
	out := buf.String()

	for _, want := range []string{
		`ps_bytes_sent_total{role="worker",node="9"} 100`,
		`ps_bytes_received_total{role="worker",node="9"} 42`,
		`ps_inflight_requests{role="worker",node="9"} 3`,
		`ps_connected_peers{role="worker",node="9"} 2`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, out)
		}
	}
}
