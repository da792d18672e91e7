// Package peer implements the client side of the peer protocol: a
// framed, poolable TCP connection and a per-remote-node client that
// retries sends and tracks liveness.
package peer

import (
	"errors"
	"net"
	"time"

	"github.com/bdeggleston/kickboxerdb-prototype/wire"
)

// ErrClosed is returned by Connection operations once the underlying
// socket has failed or been closed; callers retry with a fresh
// connection.
var ErrClosed = errors.New("peer: connection closed")

// Connection is a single TCP stream to a peer, framed by the wire
// codec, with a configurable I/O timeout.
type Connection struct {
	conn               net.Conn
	addr               string
	timeout            time.Duration
	handshakeCompleted bool
	closed             bool
}

// Dial opens a new connection to addr with the given per-operation
// timeout.
func Dial(addr string, timeout time.Duration) (*Connection, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	return &Connection{conn: conn, addr: addr, timeout: timeout}, nil
}

// NewConnection wraps an already-established net.Conn, as used on the
// accept side of the peer server.
func NewConnection(conn net.Conn, timeout time.Duration) *Connection {
	return &Connection{conn: conn, timeout: timeout}
}

func (c *Connection) HandshakeCompleted() bool { return c.handshakeCompleted }
func (c *Connection) SetHandshakeCompleted()   { c.handshakeCompleted = true }
func (c *Connection) IsClosed() bool           { return c.closed }
func (c *Connection) Addr() string             { return c.addr }

// Send writes a whole message, framed, applying the connection's write
// deadline.
func (c *Connection) Send(m wire.Message) error {
	if c.closed {
		return ErrClosed
	}
	if c.timeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	}
	if err := wire.WriteMessage(c.conn, m); err != nil {
		c.Close()
		return ErrClosed
	}
	return nil
}

// Receive reads exactly one framed message, applying the connection's
// read deadline. Any I/O error closes the connection and is reported
// as ErrClosed: a read either returns exactly the bytes requested or
// fails closed, never a short read.
func (c *Connection) Receive() (wire.Message, error) {
	if c.closed {
		return nil, ErrClosed
	}
	if c.timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	}
	m, err := wire.ReadMessage(c.conn)
	if err != nil {
		c.Close()
		return nil, ErrClosed
	}
	return m, nil
}

// Close marks the connection closed and releases the socket. Safe to
// call more than once.
func (c *Connection) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}
