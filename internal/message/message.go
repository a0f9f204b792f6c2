package message

import (
	"fmt"

	"github.com/psgo/ps/internal/sbuf"
)

// Meta is the metadata of one message, see spec §3.
type Meta struct {
	Head       int32
	AppID      int32
	CustomerID int32
	Sender     int32
	Receiver   int32
	Request    bool
	Push       bool
	Pull       bool
	SimpleApp  bool
	Control    Control
	Timestamp  int32
	MsgSign    uint64
	Priority   int32
	DataSize   int64
	Body       []byte
	DataType   []int32
}

// Message pairs metadata with an ordered sequence of shared byte slices,
// per spec §3 -- each entry may share a backing allocation with other
// slices (a transport read buffer, a sibling shard's view) and is
// released independently when its last reference drops.
type Message struct {
	Meta Meta
	Data []*sbuf.Slice
}

// AddData wraps b as a uniquely-held Slice, appends it, and keeps
// DataSize/DataType consistent. Callers building a message from local
// bytes (encoded keys/values, not a transport buffer) hand ownership of
// b to the Slice; it must not be mutated afterwards.
func (m *Message) AddData(b []byte, dtype int32) {
	m.Data = append(m.Data, sbuf.ViewOf(b))
	m.Meta.DataType = append(m.Meta.DataType, dtype)
	m.Meta.DataSize += int64(len(b))
}

func (m Message) String() string {
	return fmt.Sprintf("Meta{head=%d app=%d cust=%d %d->%d req=%v push=%v pull=%v ctrl=%s ts=%d} data=%d",
		m.Meta.Head, m.Meta.AppID, m.Meta.CustomerID, m.Meta.Sender, m.Meta.Receiver,
		m.Meta.Request, m.Meta.Push, m.Meta.Pull, m.Meta.Control.Cmd, m.Meta.Timestamp, len(m.Data))
}
