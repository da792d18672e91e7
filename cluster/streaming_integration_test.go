package cluster

import (
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bdeggleston/kickboxerdb-prototype/partitioner"
)

// These scenarios use the literal partitioner so key placement is
// checkable by eye: a key's token is its own integer value, and nodes
// sit at round-number tokens.

func literalNodeToken(v string) partitioner.Token {
	return partitioner.NewLiteralPartitioner().TokenOf(v)
}

func sortedKeys(c *Cluster) []string {
	keys := c.store.AllKeys()
	sort.Strings(keys)
	return keys
}

func writeAll(t *testing.T, c *Cluster, keys []string, consistency Consistency) {
	t.Helper()
	for _, k := range keys {
		if _, err := c.ExecuteMutation("set", k, []string{"v" + k}, time.Time{}, consistency, true); err != nil {
			t.Fatalf("writing %q: %v", k, err)
		}
	}
}

func waitForTokenView(t *testing.T, c *Cluster, id uuid.UUID, want partitioner.Token, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if n, ok := c.Ring().NodeByID(id); ok && n.Token().Equal(want) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s's token to converge on %s", id, want)
}

// a node joining a populated ring ends up with exactly the keys it now
// owns or replicates, streamed from its left neighbour.
func TestJoiningNodeStreamsItsRange(t *testing.T) {
	p := partitioner.NewLiteralPartitioner()

	addrA := freeAddr(t)
	a, srvA := startNode(t, addrA, p, literalNodeToken("1000"), 1, nil)
	defer a.Stop()
	defer srvA.Stop()

	writeAll(t, a, []string{"0", "500", "1500", "2500", "7000"}, ConsistencyOne)

	addrB := freeAddr(t)
	b, srvB := startNode(t, addrB, p, literalNodeToken("2000"), 1, []string{addrA})
	defer b.Stop()
	defer srvB.Stop()

	waitForStatus(t, b, StatusNormal, 10*time.Second)

	// with tokens {1000, 2000} and rf=1, B owns everything outside
	// [1000, 1999]: the wrap range plus [2000, ...].
	want := []string{"0", "2500", "500", "7000"}
	got := sortedKeys(b)
	if len(got) != len(want) {
		t.Fatalf("expected B's store to hold exactly %v after joining, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected B's store to hold exactly %v after joining, got %v", want, got)
		}
	}
}

// removing a node makes its right neighbour's replacement stream the
// orphaned range to the nodes that now cover it.
func TestRemoveNodeStreamsOrphanedRange(t *testing.T) {
	p := partitioner.NewLiteralPartitioner()

	addrA := freeAddr(t)
	a, srvA := startNode(t, addrA, p, literalNodeToken("0"), 2, nil)
	defer a.Stop()
	defer srvA.Stop()

	addrB := freeAddr(t)
	b, srvB := startNode(t, addrB, p, literalNodeToken("1000"), 2, []string{addrA})
	defer b.Stop()
	defer srvB.Stop()
	waitForStatus(t, b, StatusNormal, 10*time.Second)

	addrC := freeAddr(t)
	c, srvC := startNode(t, addrC, p, literalNodeToken("2000"), 2, []string{addrA, addrB})
	defer c.Stop()
	defer srvC.Stop()
	waitForStatus(t, c, StatusNormal, 10*time.Second)

	for _, n := range []*Cluster{a, b, c} {
		waitForRingSize(t, n, 3, 10*time.Second)
	}

	// owner/replica pairs: 500 -> (A, B), 1500 -> (B, C), 2500 -> (C, A)
	writeAll(t, a, []string{"500", "1500", "2500"}, ConsistencyAll)
	if a.store.KeyExists("1500") {
		t.Fatalf("expected key 1500 to live on B and C only before the removal")
	}

	if err := a.RemoveNode(b.NodeID(), true); err != nil {
		t.Fatalf("removing B: %v", err)
	}
	waitForStatus(t, a, StatusNormal, 10*time.Second)

	if a.Ring().Size() != 2 {
		t.Fatalf("expected A's ring to drop to 2 nodes, got %d", a.Ring().Size())
	}
	waitForRingSize(t, c, 2, 10*time.Second)

	// B's former primary range [1000, 1999] must now be covered by A.
	if !a.store.KeyExists("1500") {
		t.Fatalf("expected A to have streamed the removed node's range")
	}
}

// moving a node's token streams the keys of its new position from its
// new neighbours, and every peer converges on the new ring view.
func TestChangeTokenStreamsFromNewNeighbours(t *testing.T) {
	p := partitioner.NewLiteralPartitioner()

	addrA := freeAddr(t)
	a, srvA := startNode(t, addrA, p, literalNodeToken("0"), 1, nil)
	defer a.Stop()
	defer srvA.Stop()

	addrB := freeAddr(t)
	b, srvB := startNode(t, addrB, p, literalNodeToken("1000"), 1, []string{addrA})
	defer b.Stop()
	defer srvB.Stop()
	waitForStatus(t, b, StatusNormal, 10*time.Second)

	addrC := freeAddr(t)
	c, srvC := startNode(t, addrC, p, literalNodeToken("2000"), 1, []string{addrA, addrB})
	defer c.Stop()
	defer srvC.Stop()
	waitForStatus(t, c, StatusNormal, 10*time.Second)

	addrD := freeAddr(t)
	d, srvD := startNode(t, addrD, p, literalNodeToken("3000"), 1, []string{addrA, addrB, addrC})
	defer d.Stop()
	defer srvD.Stop()
	waitForStatus(t, d, StatusNormal, 10*time.Second)

	for _, n := range []*Cluster{a, b, c, d} {
		waitForRingSize(t, n, 4, 10*time.Second)
	}

	// rf=1 owners: 500 -> A, 1500 -> B, 2500 -> C, 3500 -> D
	writeAll(t, a, []string{"500", "1500", "2500", "3500"}, ConsistencyAll)

	newToken := literalNodeToken("2500")
	if err := b.ChangeToken(uuid.Nil, newToken, true); err != nil {
		t.Fatalf("changing B's token: %v", err)
	}

	for _, n := range []*Cluster{a, b, c, d} {
		waitForTokenView(t, n, b.NodeID(), newToken, 10*time.Second)
		waitForStatus(t, n, StatusNormal, 10*time.Second)
	}

	// B now owns [2500, 2999]; its new left neighbour C held 2500.
	if !b.store.KeyExists("2500") {
		t.Fatalf("expected B to have streamed its new range from its new neighbours")
	}
}
