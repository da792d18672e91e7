package topology

import (
	"bytes"
	"sort"

	"github.com/google/uuid"

	"github.com/bdeggleston/kickboxerdb-prototype/partitioner"
)

// Ring is an immutable, sorted snapshot of the cluster's nodes, keyed
// by (token, node id) so that ordering stays deterministic even when
// tokens collide. Every mutation returns a new *Ring; the caller is
// expected to swap it in atomically rather than mutate it in place.
type Ring struct {
	partitioner       partitioner.Partitioner
	replicationFactor uint
	nodes             []Node // sorted by (Token, ID)
}

// NewRing constructs an empty ring for the given partitioner and
// replication factor.
func NewRing(p partitioner.Partitioner, replicationFactor uint) *Ring {
	return &Ring{partitioner: p, replicationFactor: replicationFactor}
}

func less(a, b Node) bool {
	if c := a.Token().Compare(b.Token()); c != 0 {
		return c < 0
	}
	ai, bi := a.ID(), b.ID()
	return bytes.Compare(ai[:], bi[:]) < 0
}

func cloneSorted(nodes []Node) []Node {
	out := make([]Node, len(nodes))
	copy(out, nodes)
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

// WithNode returns a new ring with n added, or with n replacing any
// existing node sharing its id (used for token changes). Insertion is
// otherwise set-once: the ring never holds two nodes with the same id.
func (r *Ring) WithNode(n Node) *Ring {
	next := make([]Node, 0, len(r.nodes)+1)
	for _, existing := range r.nodes {
		if existing.ID() != n.ID() {
			next = append(next, existing)
		}
	}
	next = append(next, n)
	return &Ring{partitioner: r.partitioner, replicationFactor: r.replicationFactor, nodes: cloneSorted(next)}
}

// WithoutNode returns a new ring with the node matching id removed.
func (r *Ring) WithoutNode(id uuid.UUID) *Ring {
	next := make([]Node, 0, len(r.nodes))
	for _, existing := range r.nodes {
		if existing.ID() != id {
			next = append(next, existing)
		}
	}
	return &Ring{partitioner: r.partitioner, replicationFactor: r.replicationFactor, nodes: next}
}

// Contains reports whether id is already a ring member.
func (r *Ring) Contains(id uuid.UUID) bool {
	_, ok := r.NodeByID(id)
	return ok
}

// NodeByID looks up a member by id.
func (r *Ring) NodeByID(id uuid.UUID) (Node, bool) {
	for _, n := range r.nodes {
		if n.ID() == id {
			return n, true
		}
	}
	return nil, false
}

// AllNodes returns every member, in ring order.
func (r *Ring) AllNodes() []Node {
	out := make([]Node, len(r.nodes))
	copy(out, r.nodes)
	return out
}

func (r *Ring) Size() int { return len(r.nodes) }

func (r *Ring) ReplicationFactor() uint { return r.replicationFactor }

func (r *Ring) Partitioner() partitioner.Partitioner { return r.partitioner }

// indexOfOwner returns the index of the node that owns token t: the
// first node encountered walking counter-clockwise (i.e. the node with
// the largest token <= t, wrapping to the ring's last node — largest
// overall token — if every token exceeds t).
func (r *Ring) indexOfOwner(t partitioner.Token) int {
	n := len(r.nodes)
	// smallest i such that nodes[i].Token() > t
	i := sort.Search(n, func(i int) bool {
		return r.nodes[i].Token().Compare(t) > 0
	})
	if i == 0 {
		return n - 1
	}
	return i - 1
}

// OwnersOf returns the owner of token t followed by the next
// replicationFactor-1 nodes clockwise: min(replicationFactor, |ring|)
// nodes total. replicationFactor == 0 means full mirror: every node
// owns every key.
func (r *Ring) OwnersOf(t partitioner.Token) []Node {
	n := len(r.nodes)
	if n == 0 {
		return nil
	}
	if r.replicationFactor == 0 {
		return r.AllNodes()
	}

	count := int(r.replicationFactor)
	if count > n {
		count = n
	}

	owner := r.indexOfOwner(t)
	out := make([]Node, count)
	for i := 0; i < count; i++ {
		out[i] = r.nodes[(owner+i)%n]
	}
	return out
}

// OwnersOfKey hashes key with the ring's partitioner and returns its
// owner/replica set.
func (r *Ring) OwnersOfKey(key string) []Node {
	return r.OwnersOf(r.partitioner.TokenOf(key))
}

// TokenRange is an inclusive-start, exclusive-end slice of the token
// space. It may wrap past the space's maximum back to zero, as the
// lowest-token node's range does.
type TokenRange struct {
	Start, End partitioner.Token
	Full       bool // the range covers the entire token space
}

// Contains reports whether t falls in the range, accounting for wrap.
func (tr TokenRange) Contains(t partitioner.Token) bool {
	if tr.Full {
		return true
	}
	if tr.Start.Compare(tr.End) <= 0 {
		return t.Compare(tr.Start) >= 0 && t.Compare(tr.End) < 0
	}
	// wraps past the top of the token space
	return t.Compare(tr.Start) >= 0 || t.Compare(tr.End) < 0
}

// OwnedRange computes the inclusive-exclusive token range for which
// self is primary-or-replica: from the token of the node
// replicationFactor-1 positions counter-clockwise, up to (but not
// including) the token of the next node clockwise. When the ring has
// replicationFactor or fewer members, every node owns the full token
// space.
func (r *Ring) OwnedRange(self uuid.UUID) (TokenRange, bool) {
	n := len(r.nodes)
	if n == 0 {
		return TokenRange{}, false
	}
	if r.replicationFactor == 0 || n <= int(r.replicationFactor) {
		return TokenRange{Full: true}, true
	}

	idx := -1
	for i, node := range r.nodes {
		if node.ID() == self {
			idx = i
			break
		}
	}
	if idx < 0 {
		return TokenRange{}, false
	}

	rf := int(r.replicationFactor)
	startIdx := ((idx-(rf-1))%n + n) % n
	endIdx := (idx + 1) % n

	start := r.nodes[startIdx].Token()
	end := r.nodes[endIdx].Token()
	return TokenRange{Start: start, End: end}, true
}

// Neighbours returns self's immediate ring neighbours: the node whose
// token precedes self's (left) and the node whose token follows it
// (right). Used by ChangeToken/RemoveNode to decide which peers need a
// new stream.
func (r *Ring) Neighbours(self uuid.UUID) (left, right Node, ok bool) {
	n := len(r.nodes)
	if n < 2 {
		return nil, nil, false
	}
	idx := -1
	for i, node := range r.nodes {
		if node.ID() == self {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, nil, false
	}
	left = r.nodes[(idx-1+n)%n]
	right = r.nodes[(idx+1)%n]
	return left, right, true
}
