package wire

import (
	"bytes"
	"testing"

	"github.com/psgo/ps/internal/message"
	"github.com/psgo/ps/internal/sbuf"
)

// TestEncodeDecodeMetaRoundTrip tests that a fully populated Meta
// survives an encode/decode round trip.
func TestEncodeDecodeMetaRoundTrip(t *testing.T) {
	m := message.Meta{
		Head:       1,
		AppID:      2,
		CustomerID: 3,
		Sender:     9,
		Receiver:   8,
		Request:    true,
		Push:       true,
		Timestamp:  42,
		MsgSign:    0xdeadbeef,
		Priority:   5,
		DataSize:   10,
		Body:       []byte("hello"),
		DataType:   []int32{1, 2, 3},
	}

	enc := EncodeMeta(m)
	got, err := DecodeMeta(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Head != m.Head || got.AppID != m.AppID || got.CustomerID != m.CustomerID {
		t.Errorf("ids mismatch: got %+v", got)
	}
	if got.Sender != m.Sender || got.Receiver != m.Receiver {
		t.Errorf("sender/receiver mismatch: got %+v", got)
	}
	if !got.Request || !got.Push || got.Pull {
		t.Errorf("flags mismatch: got %+v", got)
	}
	if got.MsgSign != m.MsgSign {
		t.Errorf("msg sign mismatch: got %x want %x", got.MsgSign, m.MsgSign)
	}
	if !bytes.Equal(got.Body, m.Body) {
		t.Errorf("body mismatch: got %q", got.Body)
	}
	if len(got.DataType) != 3 || got.DataType[2] != 3 {
		t.Errorf("datatype mismatch: got %v", got.DataType)
	}
}

// TestEncodeDecodeControlRoundTrip tests that control messages with
// nodes survive a round trip.
func TestEncodeDecodeControlRoundTrip(t *testing.T) {
	m := message.Meta{
		Control: message.Control{
			Cmd:          message.CmdAddNode,
			BarrierGroup: message.GroupServer,
			Nodes: []message.Node{
				{Role: message.RoleServer, ID: 8, Hostname: "10.0.0.1", Port: 9091, CustomerID: 0},
				{Role: message.RoleWorker, ID: 9, Hostname: "10.0.0.2", Port: 9092, IsRecovered: true, RecoveryToken: "tok-1"},
			},
		},
	}

	enc := EncodeMeta(m)
	got, err := DecodeMeta(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Control.Cmd != message.CmdAddNode {
		t.Errorf("expected CmdAddNode, got %v", got.Control.Cmd)
	}
	if len(got.Control.Nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(got.Control.Nodes))
	}
	if got.Control.Nodes[1].RecoveryToken != "tok-1" || !got.Control.Nodes[1].IsRecovered {
		t.Errorf("recovery fields lost: got %+v", got.Control.Nodes[1])
	}
}

// TestDecodeMetaRejectsCorruption tests that a flipped byte is caught
// by the CRC16 check rather than silently misparsed.
func TestDecodeMetaRejectsCorruption(t *testing.T) {
	m := message.Meta{Head: 1, AppID: 2}
	enc := EncodeMeta(m)
	enc[3] ^= 0xFF

	if _, err := DecodeMeta(enc); err == nil {
		t.Fatal("expected CRC mismatch error, got nil")
	}
}

// TestWriteReadFramesRoundTrip tests the full multipart frame
// read/write path over an in-memory buffer.
func TestWriteReadFramesRoundTrip(t *testing.T) {
	msg := message.Message{
		Meta: message.Meta{Head: 1, AppID: 7, Push: true},
		Data: []*sbuf.Slice{sbuf.ViewOf([]byte("key1")), sbuf.ViewOf([]byte("val1"))},
	}

	var buf bytes.Buffer
	if err := WriteFrames(&buf, "ps8", msg); err != nil {
		t.Fatalf("write: %v", err)
	}

	identity, got, err := ReadFrames(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if identity != "ps8" {
		t.Errorf("expected identity ps8, got %q", identity)
	}
	if got.Meta.AppID != 7 || !got.Meta.Push {
		t.Errorf("meta mismatch: got %+v", got.Meta)
	}
	if len(got.Data) != 2 || string(got.Data[0].Bytes()) != "key1" || string(got.Data[1].Bytes()) != "val1" {
		t.Errorf("data mismatch: got %v", got.Data)
	}
}
