package cluster

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bdeggleston/kickboxerdb-prototype/partitioner"
	"github.com/bdeggleston/kickboxerdb-prototype/peer"
	"github.com/bdeggleston/kickboxerdb-prototype/store"
)

// opByName maps the wire's string instruction name to a store.Op: the
// wire field stays a short string for interop, but nothing past this
// boundary dispatches on the string.
func opByName(name string) (store.Op, error) {
	switch name {
	case "get":
		return store.OpGet, nil
	case "set":
		return store.OpSet, nil
	case "delete":
		return store.OpDelete, nil
	default:
		return 0, fmt.Errorf("cluster: unknown instruction %q", name)
	}
}

// LocalNode is the ring's view of this process: it answers retrievals
// and mutations directly against the local store instead of over a
// connection.
type LocalNode struct {
	id    uuid.UUID
	name  string
	addr  string
	store store.Store

	mu    sync.Mutex
	token partitioner.Token
}

func NewLocalNode(id uuid.UUID, token partitioner.Token, name, addr string, s store.Store) *LocalNode {
	return &LocalNode{id: id, token: token, name: name, addr: addr, store: s}
}

func (n *LocalNode) ID() uuid.UUID { return n.id }
func (n *LocalNode) Addr() string  { return n.addr }
func (n *LocalNode) Name() string  { return n.name }

func (n *LocalNode) Token() partitioner.Token {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.token
}

func (n *LocalNode) SetToken(t partitioner.Token) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.token = t
}

// ExecuteRetrieval runs instruction against the local store directly,
// matching peer.Client's signature so the replication coordinator can
// treat local and remote replicas uniformly.
func (n *LocalNode) ExecuteRetrieval(instruction, key string, args []string, _ int) (peer.RetrievalResult, error) {
	op, err := opByName(instruction)
	if err != nil {
		return peer.RetrievalResult{}, err
	}
	v, err := n.store.ExecuteQuery(op, key, args, time.Time{})
	if err != nil {
		return peer.RetrievalResult{}, err
	}
	if v == nil {
		return peer.RetrievalResult{Found: false}, nil
	}
	return peer.RetrievalResult{Found: true, Data: v.Data(), Timestamp: v.Timestamp()}, nil
}

// ExecuteMutation runs instruction against the local store directly.
func (n *LocalNode) ExecuteMutation(instruction, key string, args []string, timestamp time.Time, _ int) (peer.RetrievalResult, error) {
	op, err := opByName(instruction)
	if err != nil {
		return peer.RetrievalResult{}, err
	}
	v, err := n.store.ExecuteQuery(op, key, args, timestamp)
	if err != nil {
		return peer.RetrievalResult{}, err
	}
	return peer.RetrievalResult{Found: true, Data: v.Data(), Timestamp: v.Timestamp()}, nil
}
