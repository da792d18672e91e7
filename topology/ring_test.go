package topology

import (
	"testing"

	"github.com/google/uuid"

	"github.com/bdeggleston/kickboxerdb-prototype/partitioner"
)

type testNode struct {
	id    uuid.UUID
	token partitioner.Token
}

func node(token uint64) *testNode {
	return &testNode{id: uuid.New(), token: literalToken(token)}
}

func literalToken(v uint64) partitioner.Token {
	return partitioner.NewLiteralPartitioner().TokenOf(itoa(v))
}

func itoa(v uint64) string {
	// tiny local helper so this file doesn't need strconv just for this
	if v == 0 {
		return "0"
	}
	var digits []byte
	for v > 0 {
		digits = append([]byte{byte('0' + v%10)}, digits...)
		v /= 10
	}
	return string(digits)
}

func (n *testNode) ID() uuid.UUID            { return n.id }
func (n *testNode) Token() partitioner.Token { return n.token }
func (n *testNode) Addr() string             { return "" }
func (n *testNode) Name() string             { return "" }
func (n *testNode) Status() NodeStatus       { return NodeUp }

// builds a 10-node ring with tokens 0, 1000, ..., 9000.
func buildS1Ring(t *testing.T) (*Ring, []*testNode) {
	t.Helper()
	p := partitioner.NewLiteralPartitioner()
	r := NewRing(p, 3)
	nodes := make([]*testNode, 10)
	for i := 0; i < 10; i++ {
		n := node(uint64(i * 1000))
		nodes[i] = n
		r = r.WithNode(n)
	}
	return r, nodes
}

func TestOwnersOfKeyCountMatchesReplicationFactor(t *testing.T) {
	r, _ := buildS1Ring(t)
	owners := r.OwnersOfKey("500")
	if len(owners) != 3 {
		t.Fatalf("expected 3 owners, got %d", len(owners))
	}
}

func TestOwnersOfFullMirrorWhenReplicationFactorZero(t *testing.T) {
	p := partitioner.NewLiteralPartitioner()
	r := NewRing(p, 0)
	for i := 0; i < 5; i++ {
		r = r.WithNode(node(uint64(i * 1000)))
	}
	owners := r.OwnersOfKey("2500")
	if len(owners) != 5 {
		t.Fatalf("expected every node to own every key when rf=0, got %d", len(owners))
	}
}

func TestOwnersOfFullRingWhenSizeBelowReplicationFactor(t *testing.T) {
	p := partitioner.NewLiteralPartitioner()
	r := NewRing(p, 5)
	for i := 0; i < 3; i++ {
		r = r.WithNode(node(uint64(i * 1000)))
	}
	owners := r.OwnersOfKey("500")
	if len(owners) != 3 {
		t.Fatalf("expected all 3 nodes as owners when ring size <= rf, got %d", len(owners))
	}
}

// node 0's owned range is keys < 1000 or >= 8000 (wraps).
func TestOwnedRangeWrapsForLowestTokenNode(t *testing.T) {
	r, nodes := buildS1Ring(t)
	rng, ok := r.OwnedRange(nodes[0].ID())
	if !ok {
		t.Fatalf("expected an owned range for node 0")
	}
	for _, k := range []uint64{0, 500, 999, 8000, 8500, 9999} {
		if !rng.Contains(literalToken(k)) {
			t.Errorf("expected node 0's range to contain key %d", k)
		}
	}
	for _, k := range []uint64{1000, 4000, 7999} {
		if rng.Contains(literalToken(k)) {
			t.Errorf("expected node 0's range to exclude key %d", k)
		}
	}
}

// node 1's owned range is keys < 2000 or >= 9000.
func TestOwnedRangeForNode1(t *testing.T) {
	r, nodes := buildS1Ring(t)
	rng, ok := r.OwnedRange(nodes[1].ID())
	if !ok {
		t.Fatalf("expected an owned range for node 1")
	}
	for _, k := range []uint64{0, 1999, 9000, 9999} {
		if !rng.Contains(literalToken(k)) {
			t.Errorf("expected node 1's range to contain key %d", k)
		}
	}
	for _, k := range []uint64{2000, 8999} {
		if rng.Contains(literalToken(k)) {
			t.Errorf("expected node 1's range to exclude key %d", k)
		}
	}
}

func TestOwnersOfKeyDeterministicAcrossCalls(t *testing.T) {
	r, _ := buildS1Ring(t)
	first := r.OwnersOfKey("4242")
	second := r.OwnersOfKey("4242")
	if len(first) != len(second) {
		t.Fatalf("expected deterministic owner count")
	}
	for i := range first {
		if first[i].ID() != second[i].ID() {
			t.Fatalf("expected identical owner ordering across calls")
		}
	}
}

func TestWithNodeIsSetOnceByID(t *testing.T) {
	p := partitioner.NewLiteralPartitioner()
	r := NewRing(p, 3)
	n := node(500)
	r = r.WithNode(n)
	if r.Size() != 1 {
		t.Fatalf("expected 1 node, got %d", r.Size())
	}
	// re-adding the same id with a different token replaces, not duplicates
	moved := &testNode{id: n.id, token: literalToken(9000)}
	r = r.WithNode(moved)
	if r.Size() != 1 {
		t.Fatalf("expected WithNode to replace by id, got %d nodes", r.Size())
	}
	got, _ := r.NodeByID(n.id)
	if !got.Token().Equal(literalToken(9000)) {
		t.Fatalf("expected the node's token to be updated")
	}
}

func TestNeighboursWrapAtEnds(t *testing.T) {
	r, nodes := buildS1Ring(t)
	left, right, ok := r.Neighbours(nodes[0].ID())
	if !ok {
		t.Fatalf("expected neighbours for node 0")
	}
	if left.ID() != nodes[9].ID() {
		t.Fatalf("expected node 0's left neighbour to wrap to node 9")
	}
	if right.ID() != nodes[1].ID() {
		t.Fatalf("expected node 0's right neighbour to be node 1")
	}
}
