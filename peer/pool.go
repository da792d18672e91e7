package peer

import (
	"sync"
	"time"
)

// Pool is an unbounded free list of live connections to one remote
// address, plus a leased set for clean shutdown accounting.
type Pool struct {
	addr    string
	timeout time.Duration

	mu     sync.Mutex
	idle   []*Connection
	leased map[*Connection]bool
}

// NewPool constructs an empty pool for addr. The pool itself holds no
// connection limit.
func NewPool(addr string, timeout time.Duration) *Pool {
	return &Pool{
		addr:    addr,
		timeout: timeout,
		leased:  make(map[*Connection]bool),
	}
}

// Get returns an idle connection if one exists, otherwise dials a new
// one. The returned connection is considered leased until Put or
// Discard is called on it.
func (p *Pool) Get() (*Connection, error) {
	p.mu.Lock()
	if n := len(p.idle); n > 0 {
		conn := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.leased[conn] = true
		p.mu.Unlock()
		return conn, nil
	}
	p.mu.Unlock()

	conn, err := Dial(p.addr, p.timeout)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.leased[conn] = true
	p.mu.Unlock()
	return conn, nil
}

// Put returns a connection to the idle list. A closed connection is
// discarded instead of re-pooled.
func (p *Pool) Put(conn *Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.leased, conn)
	if conn.IsClosed() {
		return
	}
	p.idle = append(p.idle, conn)
}

// Discard removes a connection from the leased set without re-pooling
// it, used when a connection has failed mid-use.
func (p *Pool) Discard(conn *Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.leased, conn)
}

// CloseAll closes every idle and leased connection, used on shutdown.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, conn := range p.idle {
		conn.Close()
	}
	p.idle = nil

	for conn := range p.leased {
		conn.Close()
	}
	p.leased = make(map[*Connection]bool)
}
