// Package transport provides the connection-level primitives Van uses to
// bind, accept, dial and exchange framed messages with peers. It
// generalizes rpc/transport/tcp's connector split (serverConnector /
// clientConnector wrapping a shared base transport) down to the two
// operations Van actually needs on a connection: SendMsg and RecvMsg,
// since the core's nodes hold long-lived, full-duplex connections to
// each other rather than dKV's per-shard-RPC request/response pattern.
package transport

import (
	"fmt"
	"net"
	"time"

	"github.com/psgo/ps/internal/message"
	"github.com/psgo/ps/internal/wire"
)

// Conn is one framed, full-duplex connection to a peer.
type Conn struct {
	raw      net.Conn
	identity string
}

// tcpKeepAlive matches the teacher's tcp.serverConnector.UpgradeConnection
// defaults: keep-alive enabled, Nagle disabled for low-latency control
// traffic.
func tcpKeepAlive(conn net.Conn) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	_ = tcpConn.SetNoDelay(true)
	_ = tcpConn.SetKeepAlive(true)
	_ = tcpConn.SetKeepAlivePeriod(30 * time.Second)
}

// Dial connects to addr (host:port) under the given identity ("ps<id>").
func Dial(network, addr, identity string) (*Conn, error) {
	raw, err := net.Dial(network, addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	tcpKeepAlive(raw)
	return &Conn{raw: raw, identity: identity}, nil
}

// Listener accepts inbound Conns on one local address.
type Listener struct {
	ln       net.Listener
	identity string
}

// Listen binds network/addr ("tcp", "host:port" or "tcp", ":0" for an
// ephemeral port, or "unix", "/path" for the local/ipc case).
func Listen(network, addr, identity string) (*Listener, error) {
	ln, err := net.Listen(network, addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	return &Listener{ln: ln, identity: identity}, nil
}

// Addr returns the bound local address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Accept blocks for the next inbound connection.
func (l *Listener) Accept() (*Conn, error) {
	raw, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	tcpKeepAlive(raw)
	return &Conn{raw: raw, identity: l.identity}, nil
}

// Close stops accepting new connections.
func (l *Listener) Close() error { return l.ln.Close() }

// SendMsg writes one framed message, identifying this end by identity.
func (c *Conn) SendMsg(msg message.Message) error {
	return wire.WriteFrames(c.raw, c.identity, msg)
}

// RecvMsg blocks for the next framed message and returns the remote
// peer's claimed identity frame alongside it.
func (c *Conn) RecvMsg() (peerIdentity string, msg message.Message, err error) {
	return wire.ReadFrames(c.raw)
}

// RemoteAddr returns the underlying connection's remote address.
func (c *Conn) RemoteAddr() net.Addr { return c.raw.RemoteAddr() }

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.raw.Close() }

// SetReadDeadline forwards to the underlying connection's read deadline.
func (c *Conn) SetReadDeadline(t time.Time) error { return c.raw.SetReadDeadline(t) }
