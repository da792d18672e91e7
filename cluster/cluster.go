// Package cluster composes the ring, peer clients, and a local store
// into a single logical distributed store: membership, replication,
// and streaming.
package cluster

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	logging "github.com/op/go-logging"

	"github.com/google/uuid"

	"github.com/bdeggleston/kickboxerdb-prototype/partitioner"
	"github.com/bdeggleston/kickboxerdb-prototype/peer"
	"github.com/bdeggleston/kickboxerdb-prototype/store"
	"github.com/bdeggleston/kickboxerdb-prototype/topology"
)

var logger = logging.MustGetLogger("cluster")

// Status is the cluster-wide lifecycle of this node: INITIALIZING
// while still streaming data from peers on first join, STREAMING
// whenever one or more inbound streams are active, NORMAL otherwise.
type Status string

const (
	StatusInitializing Status = "INITIALIZING"
	StatusStreaming    Status = "STREAMING"
	StatusNormal       Status = "NORMAL"
)

// Consistency is a tunable read/write quorum level.
type Consistency string

const (
	ConsistencyOne    Consistency = "ONE"
	ConsistencyQuorum Consistency = "QUORUM"
	ConsistencyAll    Consistency = "ALL"
)

// quorumCount maps a consistency level to the number of replica
// responses required: ONE=1, QUORUM=floor(n/2)+1, ALL=n.
func quorumCount(c Consistency, n int) (int, error) {
	switch c {
	case ConsistencyOne:
		return 1, nil
	case ConsistencyQuorum:
		return n/2 + 1, nil
	case ConsistencyAll:
		return n, nil
	default:
		return 0, fmt.Errorf("cluster: unknown consistency level %q", c)
	}
}

// Config bundles the parameters NewCluster needs.
type Config struct {
	Store             store.Store
	Addr              string
	Name              string
	Token             partitioner.Token
	NodeID            uuid.UUID
	ReplicationFactor uint
	Partitioner       partitioner.Partitioner
	Seeds             []string

	// DialTimeout bounds peer connection and per-message I/O.
	// ResponseTimeout bounds a single replica's response during
	// replication (default 10s).
	DialTimeout     time.Duration
	ResponseTimeout time.Duration
	Retries         int

	// MaxFanout bounds concurrent per-replica tasks; a pool of 50 is
	// adequate for a replication factor up to 10.
	MaxFanout int64
}

// Cluster is the single logical store formed by composing a local
// store with the rest of the ring over the peer protocol.
type Cluster struct {
	mu sync.RWMutex

	store       store.Store
	seeds       []string
	rf          uint
	name        string
	token       partitioner.Token
	nodeID      uuid.UUID
	addr        string
	partitioner partitioner.Partitioner

	dialTimeout     time.Duration
	responseTimeout time.Duration
	retries         int
	maxFanout       int64

	local *LocalNode

	ringMu sync.Mutex // serializes ring mutators; readers load the pointer lock-free
	ring   atomic.Pointer[topology.Ring]
	peers  map[uuid.UUID]*peer.Client // remote nodes, keyed by id

	status        Status
	streamingFrom map[uuid.UUID]bool // peer node ids currently streaming to us
}

// NewCluster validates cfg and constructs an unstarted Cluster.
func NewCluster(cfg Config) (*Cluster, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("cluster: store cannot be nil")
	}
	if cfg.Partitioner == nil {
		return nil, fmt.Errorf("cluster: partitioner cannot be nil")
	}
	if cfg.ReplicationFactor == 0 {
		logger.Warningf("replication factor 0: every node mirrors every key")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = 10 * time.Second
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if cfg.MaxFanout <= 0 {
		cfg.MaxFanout = 50
	}

	c := &Cluster{
		store:           cfg.Store,
		seeds:           append([]string(nil), cfg.Seeds...),
		rf:              cfg.ReplicationFactor,
		name:            cfg.Name,
		token:           cfg.Token,
		nodeID:          cfg.NodeID,
		addr:            cfg.Addr,
		partitioner:     cfg.Partitioner,
		dialTimeout:     cfg.DialTimeout,
		responseTimeout: cfg.ResponseTimeout,
		retries:         cfg.Retries,
		maxFanout:       cfg.MaxFanout,
		peers:           make(map[uuid.UUID]*peer.Client),
		status:          StatusInitializing,
		streamingFrom:   make(map[uuid.UUID]bool),
	}
	c.local = NewLocalNode(cfg.NodeID, cfg.Token, cfg.Name, cfg.Addr, cfg.Store)

	ring := topology.NewRing(cfg.Partitioner, cfg.ReplicationFactor)
	ring = ring.WithNode(c.local)
	c.ring.Store(ring)

	return c, nil
}

func (c *Cluster) identity() peer.Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return peer.Identity{ID: c.nodeID, Addr: c.addr, Token: c.token, Name: c.name}
}

func (c *Cluster) NodeID() uuid.UUID           { return c.nodeID }
func (c *Cluster) Addr() string                { return c.addr }
func (c *Cluster) Name() string                { return c.name }
func (c *Cluster) Token() partitioner.Token {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Cluster) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *Cluster) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
	logger.Infof("cluster status -> %s", s)
}

// Ring returns the current ring snapshot. The ring is modeled as an
// immutable snapshot: mutation builds a new one and atomically swaps
// the pointer, so readers never see a partially updated ring.
func (c *Cluster) Ring() *topology.Ring {
	return c.ring.Load()
}

// updateRing applies fn to the current snapshot and swaps the result
// in. Mutators serialize on ringMu so concurrent joins/discoveries
// can't lose each other's nodes; readers stay lock-free.
func (c *Cluster) updateRing(fn func(*topology.Ring) *topology.Ring) {
	c.ringMu.Lock()
	defer c.ringMu.Unlock()
	c.ring.Store(fn(c.ring.Load()))
}

// NodesForKey returns the current replica set for key.
func (c *Cluster) NodesForKey(key string) []topology.Node {
	return c.Ring().OwnersOfKey(key)
}

// addNode inserts n into the ring if absent (insert-if-absent, set-once
// semantics) and, once the cluster has started, starts its peer
// client.
func (c *Cluster) addNode(id uuid.UUID, addr string, token partitioner.Token, name string) (*peer.Client, error) {
	if id == c.nodeID {
		return nil, nil
	}

	ident := c.identity()
	c.mu.Lock()
	if existing, ok := c.peers[id]; ok {
		c.mu.Unlock()
		return existing, nil
	}
	cl := peer.NewClientFromInfo(id, addr, token, name, ident, c.dialTimeout)
	c.peers[id] = cl
	started := c.status != StatusInitializing
	c.mu.Unlock()

	c.updateRing(func(r *topology.Ring) *topology.Ring { return r.WithNode(cl) })

	if started {
		if err := cl.Start(); err != nil {
			logger.Warningf("starting peer %s (%s): %v", id, addr, err)
		}
	}

	// Transitive discovery: ask the new peer who it knows. Set-once
	// insertion terminates the walk once every node has been met.
	go func() {
		if err := c.discoverFrom(cl); err != nil {
			logger.Warningf("transitive discovery via %s: %v", cl.Addr(), err)
		}
	}()
	return cl, nil
}

// AddNode registers a remote peer discovered via a handshake or a
// discovery response. Exported for peerserver's inbound handshake
// handler.
func (c *Cluster) AddNode(id uuid.UUID, addr string, token partitioner.Token, name string) error {
	_, err := c.addNode(id, addr, token, name)
	return err
}

// Identity returns this node's handshake identity.
func (c *Cluster) Identity() peer.Identity {
	return c.identity()
}

// AllPeers returns every known remote peer client.
func (c *Cluster) AllPeers() []*peer.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*peer.Client, 0, len(c.peers))
	for _, p := range c.peers {
		out = append(out, p)
	}
	return out
}

// Start brings the cluster online: start the peer server's dependents
// (the caller wires the peerserver.Server separately, see
// cmd/kickboxerd), discover existing peers, and either join as a new
// node or resume as NORMAL.
func (c *Cluster) Start() error {
	c.mu.RLock()
	firstStartup := len(c.peers) == 0
	c.mu.RUnlock()

	if err := c.discoverPeers(); err != nil {
		return fmt.Errorf("cluster: discovering peers: %w", err)
	}

	if firstStartup && len(c.peers) > 0 {
		if err := c.JoinCluster(); err != nil {
			return fmt.Errorf("cluster: joining: %w", err)
		}
	} else {
		// A single node with no reachable seeds activates immediately.
		c.setStatus(StatusNormal)
	}

	return nil
}

// Stop closes every peer connection pool.
func (c *Cluster) Stop() error {
	for _, p := range c.AllPeers() {
		p.Stop()
	}
	return nil
}
