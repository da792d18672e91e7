// Package topology holds the ring: the sorted collection of nodes keyed
// by token that determines ownership and replication for every key.
package topology

import (
	"github.com/google/uuid"

	"github.com/bdeggleston/kickboxerdb-prototype/partitioner"
)

// NodeStatus mirrors a peer's connection lifecycle.
type NodeStatus string

const (
	NodeInitialized NodeStatus = "INITIALIZED"
	NodeUp          NodeStatus = "UP"
	NodeDown        NodeStatus = "DOWN"
	NodeClosed      NodeStatus = "CLOSED"
	NodeRefused     NodeStatus = "REFUSED"
)

// Node is the ring's view of a cluster member: just enough to route a
// key. Liveness status is tracked separately by the peer client/local
// node that owns the connection, not by the ring, so that a status flip
// doesn't require a new ring snapshot: the ring is pure routing data,
// swapped only on membership/token changes.
type Node interface {
	ID() uuid.UUID
	Token() partitioner.Token
	Addr() string
	Name() string
}
