// Package wire encodes and decodes the Meta struct and frames messages
// on the connection, following the flags-byte encoding of
// rpc/serializer/binaryImpl.go and the length-delimited framing of
// rpc/transport/base/util.go's writeFrame/readFrame.
//
// A frame on the wire is:
//
//	identity frame:  "ps<id>" ascii, length-delimited
//	meta frame:      encoded Meta, length-delimited, CRC16 appended
//	N data frames:   one per message.Data entry, length-delimited
//
// Encoding a Meta only writes the optional fields that are actually
// set, the same way binarySerializerImpl uses a flags byte to skip
// absent Key/Value/Err/Meta fields instead of always emitting a zero
// length prefix.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/howeyc/crc16"
	"github.com/psgo/ps/internal/message"
)

const (
	flagRequest byte = 1 << 0
	flagPush    byte = 1 << 1
	flagPull    byte = 1 << 2
	flagSimple  byte = 1 << 3
	flagControl byte = 1 << 4
	flagBody    byte = 1 << 5
	flagDataT   byte = 1 << 6
)

// EncodeMeta serializes a Meta into a flags-prefixed binary frame
// followed by a 2-byte big-endian CRC16 (IBM polynomial) of the payload
// that precedes it.
func EncodeMeta(m message.Meta) []byte {
	var flags byte
	if m.Request {
		flags |= flagRequest
	}
	if m.Push {
		flags |= flagPush
	}
	if m.Pull {
		flags |= flagPull
	}
	if m.SimpleApp {
		flags |= flagSimple
	}
	if !m.Control.IsEmpty() {
		flags |= flagControl
	}
	if len(m.Body) > 0 {
		flags |= flagBody
	}
	if len(m.DataType) > 0 {
		flags |= flagDataT
	}

	buf := make([]byte, 0, 64)
	buf = append(buf, flags)
	buf = appendInt32(buf, m.Head)
	buf = appendInt32(buf, m.AppID)
	buf = appendInt32(buf, m.CustomerID)
	buf = appendInt32(buf, m.Sender)
	buf = appendInt32(buf, m.Receiver)
	buf = appendInt32(buf, m.Timestamp)
	buf = appendInt32(buf, m.Priority)
	buf = appendUint64(buf, m.MsgSign)
	buf = appendInt64(buf, m.DataSize)

	if flags&flagControl != 0 {
		buf = appendInt32(buf, int32(m.Control.Cmd))
		buf = appendInt32(buf, int32(m.Control.BarrierGroup))
		buf = appendInt32(buf, int32(len(m.Control.Nodes)))
		for _, n := range m.Control.Nodes {
			buf = appendInt32(buf, int32(n.Role))
			buf = appendInt32(buf, int32(n.ID))
			buf = appendInt32(buf, int32(n.CustomerID))
			buf = appendInt32(buf, int32(n.Port))
			buf = appendString(buf, n.Hostname)
			buf = appendString(buf, n.RecoveryToken)
			if n.IsRecovered {
				buf = append(buf, 1)
			} else {
				buf = append(buf, 0)
			}
		}
	}
	if flags&flagBody != 0 {
		buf = appendBytes(buf, m.Body)
	}
	if flags&flagDataT != 0 {
		buf = appendInt32(buf, int32(len(m.DataType)))
		for _, dt := range m.DataType {
			buf = appendInt32(buf, dt)
		}
	}

	sum := crc16.Checksum(buf, crc16.IBMTable)
	out := make([]byte, len(buf)+2)
	copy(out, buf)
	binary.BigEndian.PutUint16(out[len(buf):], sum)
	return out
}

// DecodeMeta parses a frame produced by EncodeMeta, verifying the
// trailing CRC16 before trusting the payload.
func DecodeMeta(frame []byte) (message.Meta, error) {
	var m message.Meta
	if len(frame) < 2 {
		return m, fmt.Errorf("wire: meta frame too short (%d bytes)", len(frame))
	}
	payload := frame[:len(frame)-2]
	wantSum := binary.BigEndian.Uint16(frame[len(frame)-2:])
	gotSum := crc16.Checksum(payload, crc16.IBMTable)
	if wantSum != gotSum {
		return m, fmt.Errorf("wire: meta frame CRC mismatch: got %04x want %04x", gotSum, wantSum)
	}

	r := &reader{buf: payload}
	flags, err := r.byte_()
	if err != nil {
		return m, err
	}
	if m.Head, err = r.int32(); err != nil {
		return m, err
	}
	if m.AppID, err = r.int32(); err != nil {
		return m, err
	}
	if m.CustomerID, err = r.int32(); err != nil {
		return m, err
	}
	if m.Sender, err = r.int32(); err != nil {
		return m, err
	}
	if m.Receiver, err = r.int32(); err != nil {
		return m, err
	}
	if m.Timestamp, err = r.int32(); err != nil {
		return m, err
	}
	if m.Priority, err = r.int32(); err != nil {
		return m, err
	}
	if m.MsgSign, err = r.uint64(); err != nil {
		return m, err
	}
	if m.DataSize, err = r.int64(); err != nil {
		return m, err
	}

	m.Request = flags&flagRequest != 0
	m.Push = flags&flagPush != 0
	m.Pull = flags&flagPull != 0
	m.SimpleApp = flags&flagSimple != 0

	if flags&flagControl != 0 {
		cmd, err := r.int32()
		if err != nil {
			return m, err
		}
		m.Control.Cmd = message.Cmd(cmd)
		if m.Control.BarrierGroup, err = r.int32AsInt(); err != nil {
			return m, err
		}
		n, err := r.int32()
		if err != nil {
			return m, err
		}
		m.Control.Nodes = make([]message.Node, 0, n)
		for i := int32(0); i < n; i++ {
			var node message.Node
			role, err := r.int32()
			if err != nil {
				return m, err
			}
			node.Role = message.Role(role)
			if node.ID, err = r.int32AsInt(); err != nil {
				return m, err
			}
			if node.CustomerID, err = r.int32AsInt(); err != nil {
				return m, err
			}
			if node.Port, err = r.int32AsInt(); err != nil {
				return m, err
			}
			if node.Hostname, err = r.string_(); err != nil {
				return m, err
			}
			if node.RecoveryToken, err = r.string_(); err != nil {
				return m, err
			}
			recovered, err := r.byte_()
			if err != nil {
				return m, err
			}
			node.IsRecovered = recovered != 0
			m.Control.Nodes = append(m.Control.Nodes, node)
		}
	}
	if flags&flagBody != 0 {
		if m.Body, err = r.bytes(); err != nil {
			return m, err
		}
	}
	if flags&flagDataT != 0 {
		n, err := r.int32()
		if err != nil {
			return m, err
		}
		m.DataType = make([]int32, n)
		for i := range m.DataType {
			if m.DataType[i], err = r.int32(); err != nil {
				return m, err
			}
		}
	}
	return m, nil
}
