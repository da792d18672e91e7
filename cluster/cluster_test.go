package cluster

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bdeggleston/kickboxerdb-prototype/partitioner"
	"github.com/bdeggleston/kickboxerdb-prototype/store"
)

// ONE=1, QUORUM=floor(n/2)+1, ALL=n.
func TestQuorumCount(t *testing.T) {
	cases := []struct {
		c    Consistency
		n    int
		want int
	}{
		{ConsistencyOne, 5, 1},
		{ConsistencyQuorum, 5, 3},
		{ConsistencyQuorum, 4, 3},
		{ConsistencyQuorum, 1, 1},
		{ConsistencyAll, 5, 5},
	}
	for _, tc := range cases {
		got, err := quorumCount(tc.c, tc.n)
		if err != nil {
			t.Fatalf("unexpected error for %v/%d: %v", tc.c, tc.n, err)
		}
		if got != tc.want {
			t.Errorf("quorumCount(%v, %d) = %d, want %d", tc.c, tc.n, got, tc.want)
		}
	}
}

func TestQuorumCountUnknownConsistency(t *testing.T) {
	if _, err := quorumCount(Consistency("BOGUS"), 3); err == nil {
		t.Fatalf("expected an error for an unknown consistency level")
	}
}

// the wire's string instruction name is translated to a store.Op at
// exactly one boundary.
func TestOpByName(t *testing.T) {
	cases := map[string]store.Op{"get": store.OpGet, "set": store.OpSet, "delete": store.OpDelete}
	for name, want := range cases {
		got, err := opByName(name)
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", name, err)
		}
		if got != want {
			t.Errorf("opByName(%q) = %v, want %v", name, got, want)
		}
	}
	if _, err := opByName("bogus"); err == nil {
		t.Fatalf("expected an error for an unknown instruction name")
	}
}

func newTestCluster(t *testing.T, addr string, token partitioner.Token, rf uint, seeds []string) *Cluster {
	t.Helper()
	c, err := NewCluster(Config{
		Store:             store.NewMemStore(),
		Addr:              addr,
		Name:              addr,
		Token:             token,
		NodeID:            uuid.New(),
		ReplicationFactor: rf,
		Partitioner:       partitioner.NewMD5Partitioner(),
		Seeds:             seeds,
		DialTimeout:       time.Second,
		ResponseTimeout:   2 * time.Second,
		Retries:           2,
	})
	if err != nil {
		t.Fatalf("unexpected error constructing cluster: %v", err)
	}
	return c
}

// a local sub-request is gated only when the *target* is this node and
// this node's own status is INITIALIZING/STREAMING, never for anyone
// else.
func TestIsStreamGatedOnlyGatesSelf(t *testing.T) {
	c := newTestCluster(t, "127.0.0.1:1", partitioner.Token([]byte{0}), 1, nil)
	c.setStatus(StatusStreaming)

	if !c.isStreamGated(c.local) {
		t.Fatalf("expected self to be gated while STREAMING")
	}

	other := NewLocalNode(uuid.New(), partitioner.Token([]byte{1}), "other", "127.0.0.1:2", store.NewMemStore())
	if c.isStreamGated(other) {
		t.Fatalf("expected another node to never be gated by this node's own status")
	}
}

func TestReplicaForReturnsLocalForSelf(t *testing.T) {
	c := newTestCluster(t, "127.0.0.1:1", partitioner.Token([]byte{0}), 1, nil)
	rn, ok := c.replicaFor(c.local)
	if !ok || rn != replicaNode(c.local) {
		t.Fatalf("expected replicaFor(local node) to return c.local")
	}
}

func TestReplicaForUnknownPeerMisses(t *testing.T) {
	c := newTestCluster(t, "127.0.0.1:1", partitioner.Token([]byte{0}), 1, nil)
	ghost := NewLocalNode(uuid.New(), partitioner.Token([]byte{1}), "ghost", "127.0.0.1:9", store.NewMemStore())
	if _, ok := c.replicaFor(ghost); ok {
		t.Fatalf("expected no replica for a node the cluster has never added")
	}
}

func TestApplyTokenChangeUpdatesSelfAndRing(t *testing.T) {
	c := newTestCluster(t, "127.0.0.1:1", partitioner.Token([]byte{0}), 1, nil)
	newToken := partitioner.Token([]byte{9, 9})

	if err := c.applyTokenChange(c.nodeID, newToken); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.Token().Equal(newToken) {
		t.Fatalf("expected the cluster's own token to be updated")
	}
	n, ok := c.Ring().NodeByID(c.nodeID)
	if !ok || !n.Token().Equal(newToken) {
		t.Fatalf("expected the ring entry to reflect the new token")
	}
}

func TestApplyNodeRemovalDropsFromRingAndPeers(t *testing.T) {
	c := newTestCluster(t, "127.0.0.1:1", partitioner.Token([]byte{0}), 1, nil)
	if _, err := c.addNode(uuid.New(), "127.0.0.1:2", partitioner.Token([]byte{5}), "n1"); err != nil {
		t.Fatalf("unexpected error adding node: %v", err)
	}

	var target uuid.UUID
	for _, n := range c.Ring().AllNodes() {
		if n.ID() != c.nodeID {
			target = n.ID()
		}
	}
	if target == uuid.Nil {
		t.Fatalf("expected the added node to be in the ring")
	}

	c.applyNodeRemoval(target)

	if c.Ring().Contains(target) {
		t.Fatalf("expected node to be removed from the ring")
	}
	if _, ok := c.clientByID(target); ok {
		t.Fatalf("expected node to be removed from the peer table")
	}
}
