package peer

import (
	"fmt"
	"sync"
	"time"

	logging "github.com/op/go-logging"

	"github.com/google/uuid"

	"github.com/bdeggleston/kickboxerdb-prototype/partitioner"
	"github.com/bdeggleston/kickboxerdb-prototype/topology"
	"github.com/bdeggleston/kickboxerdb-prototype/wire"
)

var logger = logging.MustGetLogger("peer")

// Identity is the minimal, cheap-to-copy record a Client needs about
// the local node to perform a handshake: id, address, current token,
// and name. Clients hold this rather than a reference back into the
// cluster.
type Identity struct {
	ID    uuid.UUID
	Addr  string
	Token partitioner.Token
	Name  string
}

// Client is the local proxy for one remote node: a connection pool,
// sends with retry, liveness tracking, and an optional saved message
// queue for hinted handoff.
type Client struct {
	mu sync.Mutex

	id     uuid.UUID
	addr   string
	token  partitioner.Token
	name   string
	status topology.NodeStatus

	lastPing time.Time
	latency  time.Duration

	saved []wire.Message // hinted-handoff placeholder

	local   Identity
	pool    *Pool
	timeout time.Duration
}

// NewClient constructs a client for a remote node known only by
// address; its id/token/name are filled in by the handshake response.
func NewClient(addr string, local Identity, timeout time.Duration) *Client {
	return &Client{
		addr:    addr,
		status:  topology.NodeInitialized,
		local:   local,
		pool:    NewPool(addr, timeout),
		timeout: timeout,
	}
}

// NewClientFromInfo constructs a client whose identity is already
// known, e.g. from a DiscoverPeersResponse.
func NewClientFromInfo(id uuid.UUID, addr string, token partitioner.Token, name string, local Identity, timeout time.Duration) *Client {
	c := NewClient(addr, local, timeout)
	c.id = id
	c.token = token
	c.name = name
	return c
}

func (c *Client) ID() uuid.UUID           { return c.id }
func (c *Client) Addr() string            { return c.addr }
func (c *Client) Name() string            { return c.name }
func (c *Client) Token() partitioner.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// SetToken updates the locally cached token after a ChangedTokenRequest
// for this peer.
func (c *Client) SetToken(t partitioner.Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = t
}

func (c *Client) Status() topology.NodeStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Client) setStatus(s topology.NodeStatus) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

func (c *Client) Latency() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latency
}

// Start performs an initial connect-and-handshake, populating identity
// fields discovered from the response when the client was constructed
// from an address alone.
func (c *Client) Start() error {
	conn, err := c.getConnection()
	if err != nil {
		return err
	}
	c.pool.Put(conn)
	c.setStatus(topology.NodeUp)
	return nil
}

// Stop closes every connection, pooled and leased.
func (c *Client) Stop() error {
	c.pool.CloseAll()
	c.setStatus(topology.NodeClosed)
	return nil
}

// getConnection leases a pooled connection, completing the handshake
// on it if it hasn't already been done.
func (c *Client) getConnection() (*Connection, error) {
	conn, err := c.pool.Get()
	if err != nil {
		c.setStatus(topology.NodeDown)
		return nil, err
	}

	if !conn.HandshakeCompleted() {
		if err := c.handshake(conn); err != nil {
			conn.Close()
			c.pool.Discard(conn)
			return nil, err
		}
	}
	return conn, nil
}

func (c *Client) handshake(conn *Connection) error {
	req := &wire.ConnectionRequest{
		Base:  wire.NewBase(c.local.ID),
		Addr:  c.local.Addr,
		Token: c.local.Token,
		Name:  c.local.Name,
	}
	if err := conn.Send(req); err != nil {
		c.setStatus(topology.NodeDown)
		return err
	}

	resp, err := conn.Receive()
	if err != nil {
		c.setStatus(topology.NodeDown)
		return err
	}

	switch m := resp.(type) {
	case *wire.ConnectionAccepted:
		c.mu.Lock()
		if c.status == topology.NodeInitialized {
			c.id = m.Sender()
			c.addr = m.Addr
			c.name = m.Name
			c.token = m.Token
		}
		c.mu.Unlock()
	case *wire.ConnectionRefused:
		c.setStatus(topology.NodeRefused)
		return fmt.Errorf("peer: connection to %s refused: %s", c.addr, m.Reason)
	default:
		c.setStatus(topology.NodeDown)
		return fmt.Errorf("peer: unexpected handshake response %T", resp)
	}

	conn.SetHandshakeCompleted()
	return nil
}

// SendMessage sends m and returns the peer's response, retrying up to
// retries times on a closed connection. A refused handshake is not
// retried: the error is returned at once and the status stays REFUSED.
// On exhaustion the client is marked DOWN and, if save is true, the
// message is queued for later replay as a hint.
func (c *Client) SendMessage(m wire.Message, save bool, retries int) (wire.Message, error) {
	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		conn, err := c.getConnection()
		if err != nil {
			if c.Status() == topology.NodeRefused {
				return nil, err
			}
			lastErr = err
			continue
		}

		if err := conn.Send(m); err != nil {
			c.pool.Discard(conn)
			lastErr = err
			continue
		}

		resp, err := conn.Receive()
		if err != nil {
			c.pool.Discard(conn)
			lastErr = err
			continue
		}

		c.setStatus(topology.NodeUp)
		c.pool.Put(conn)
		return resp, nil
	}

	c.setStatus(topology.NodeDown)
	logger.Warningf("%s marked DOWN after %d failed attempts: %v", c.addr, retries, lastErr)
	if save {
		c.mu.Lock()
		c.saved = append(c.saved, m)
		c.mu.Unlock()
	}
	return nil, fmt.Errorf("peer: send to %s failed after %d attempts: %w", c.addr, retries, lastErr)
}

// Ping round-trips a PingRequest and records the observed latency,
// marking the peer UP on success or DOWN on failure.
func (c *Client) Ping(retries int) error {
	start := time.Now()
	_, err := c.SendMessage(&wire.PingRequest{Base: wire.NewBase(c.local.ID)}, false, retries)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.lastPing = time.Now()
	c.latency = time.Since(start)
	c.mu.Unlock()
	return nil
}

// RetrievalResult is the raw outcome of a remote read: either a value
// (possibly a tombstone, Found=true, Data=nil) or a miss (Found=false).
type RetrievalResult struct {
	Found     bool
	Data      []byte
	Timestamp time.Time
}

// ExecuteRetrieval sends a RetrievalValueRequest and unpacks the raw
// response, translating UnknownKey into a miss.
func (c *Client) ExecuteRetrieval(instruction, key string, args []string, retries int) (RetrievalResult, error) {
	req := &wire.RetrievalValueRequest{
		Base:        wire.NewBase(c.local.ID),
		Instruction: instruction,
		Key:         key,
		Args:        args,
	}
	resp, err := c.SendMessage(req, false, retries)
	if err != nil {
		return RetrievalResult{}, err
	}
	switch m := resp.(type) {
	case *wire.RetrievalValueResponse:
		return RetrievalResult{
			Found:     true,
			Data:      m.Data,
			Timestamp: time.UnixMicro(m.TimestampUnixUTC).UTC(),
		}, nil
	case *wire.UnknownKey:
		return RetrievalResult{Found: false}, nil
	case *wire.Error:
		return RetrievalResult{}, fmt.Errorf("peer: %s: %s", c.addr, m.Reason)
	default:
		return RetrievalResult{}, fmt.Errorf("peer: unexpected retrieval response %T", resp)
	}
}

// ExecuteMutation sends a MutationRequest and unpacks the applied
// value's raw (data, timestamp).
func (c *Client) ExecuteMutation(instruction, key string, args []string, timestamp time.Time, retries int) (RetrievalResult, error) {
	req := &wire.MutationRequest{
		Base:             wire.NewBase(c.local.ID),
		Instruction:      instruction,
		Key:              key,
		Args:             args,
		TimestampUnixUTC: timestamp.UnixMicro(),
	}
	resp, err := c.SendMessage(req, true, retries)
	if err != nil {
		return RetrievalResult{}, err
	}
	switch m := resp.(type) {
	case *wire.MutationResponse:
		return RetrievalResult{
			Found:     true,
			Data:      m.Data,
			Timestamp: time.UnixMicro(m.TimestampUnixUTC).UTC(),
		}, nil
	case *wire.Error:
		return RetrievalResult{}, fmt.Errorf("peer: %s: %s", c.addr, m.Reason)
	default:
		return RetrievalResult{}, fmt.Errorf("peer: unexpected mutation response %T", resp)
	}
}

// SavedMessages returns and clears messages queued by failed sends
// with save=true, for replay once the peer comes back up. Automatic
// replay is not wired up; hinted handoff stops at the queue.
func (c *Client) SavedMessages() []wire.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	saved := c.saved
	c.saved = nil
	return saved
}

var _ topology.Node = (*Client)(nil)
