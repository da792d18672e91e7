// Package peerserver is the accept side of the peer protocol: it
// listens for inbound TCP connections, enforces the mandatory
// handshake-first-message rule, and dispatches every subsequent
// message on an accepted connection to the cluster layer.
package peerserver

import (
	"net"
	"sync"
	"time"

	logging "github.com/op/go-logging"

	"github.com/google/uuid"

	"github.com/bdeggleston/kickboxerdb-prototype/partitioner"
	"github.com/bdeggleston/kickboxerdb-prototype/peer"
	"github.com/bdeggleston/kickboxerdb-prototype/wire"
)

var logger = logging.MustGetLogger("peerserver")

// Cluster is the subset of cluster.Cluster the server needs: register
// a peer discovered via handshake, know this node's own identity, and
// dispatch a typed inbound message.
type Cluster interface {
	AddNode(id uuid.UUID, addr string, token partitioner.Token, name string) error
	Identity() peer.Identity
	Dispatch(m wire.Message) (wire.Message, error)
}

// Server accepts inbound peer connections on addr and dispatches
// every handshake-completed connection's messages to a Cluster.
type Server struct {
	addr    string
	cluster Cluster
	timeout time.Duration

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
	closed   bool
}

func NewServer(addr string, cluster Cluster, timeout time.Duration) *Server {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Server{addr: addr, cluster: cluster, timeout: timeout}
}

// Start begins listening and accepting in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptLoop(ln)
	return nil
}

// Addr returns the listener's bound address, which differs from the
// configured one when listening on port 0.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			logger.Warningf("accept: %v", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serve(conn)
		}()
	}
}

// serve enforces the handshake-first-message rule then loops
// dispatching every subsequent message to the cluster until the
// connection closes.
func (s *Server) serve(netConn net.Conn) {
	conn := peer.NewConnection(netConn, s.timeout)
	defer conn.Close()

	first, err := conn.Receive()
	if err != nil {
		return
	}

	req, ok := first.(*wire.ConnectionRequest)
	if !ok {
		conn.Send(&wire.ConnectionRefused{Base: wire.NewBase(s.cluster.Identity().ID), Reason: "first message must be a handshake"})
		return
	}

	if err := s.cluster.AddNode(req.Sender(), req.Addr, req.Token, req.Name); err != nil {
		conn.Send(&wire.ConnectionRefused{Base: wire.NewBase(s.cluster.Identity().ID), Reason: err.Error()})
		return
	}

	local := s.cluster.Identity()
	accept := &wire.ConnectionAccepted{
		Base:  wire.NewBase(local.ID),
		Addr:  local.Addr,
		Token: local.Token,
		Name:  local.Name,
	}
	if err := conn.Send(accept); err != nil {
		return
	}
	conn.SetHandshakeCompleted()

	for {
		m, err := conn.Receive()
		if err != nil {
			return
		}
		resp, err := s.cluster.Dispatch(m)
		if err != nil {
			logger.Warningf("dispatch %s: %v", m.Type(), err)
			resp = &wire.Error{Base: wire.NewBase(local.ID), Reason: err.Error()}
		}
		if err := conn.Send(resp); err != nil {
			return
		}
	}
}

// Stop closes the listener; in-flight connections are left to drain
// on their own read/write timeouts.
func (s *Server) Stop() error {
	s.mu.Lock()
	s.closed = true
	ln := s.listener
	s.mu.Unlock()
	if ln != nil {
		return ln.Close()
	}
	return nil
}
