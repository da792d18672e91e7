package cluster

import (
	"net"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bdeggleston/kickboxerdb-prototype/partitioner"
	"github.com/bdeggleston/kickboxerdb-prototype/peerserver"
	"github.com/bdeggleston/kickboxerdb-prototype/store"
)

// exercises peer/, peerserver/ and cluster/ together over real
// loopback connections.

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserving a free port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func startNode(t *testing.T, addr string, p partitioner.Partitioner, token partitioner.Token, rf uint, seeds []string) (*Cluster, *peerserver.Server) {
	t.Helper()
	c, err := NewCluster(Config{
		Store:             store.NewMemStore(),
		Addr:              addr,
		Name:              addr,
		Token:             token,
		NodeID:            uuid.New(),
		ReplicationFactor: rf,
		Partitioner:       p,
		Seeds:             seeds,
		DialTimeout:       time.Second,
		ResponseTimeout:   3 * time.Second,
		Retries:           2,
	})
	if err != nil {
		t.Fatalf("constructing cluster at %s: %v", addr, err)
	}

	srv := peerserver.NewServer(addr, c, 5*time.Second)
	if err := srv.Start(); err != nil {
		t.Fatalf("starting peer server at %s: %v", addr, err)
	}
	if err := c.Start(); err != nil {
		srv.Stop()
		t.Fatalf("starting cluster at %s: %v", addr, err)
	}
	return c, srv
}

func waitForStatus(t *testing.T, c *Cluster, want Status, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.Status() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for status %s, still %s", want, c.Status())
}

func waitForRingSize(t *testing.T, c *Cluster, want int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.Ring().Size() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for ring size %d, still %d", want, c.Ring().Size())
}

// S6: a lone node with no reachable seeds activates straight to NORMAL.
func TestSingleNodeSelfActivation(t *testing.T) {
	addr := freeAddr(t)
	c, srv := startNode(t, addr, partitioner.NewMD5Partitioner(), partitioner.Token([]byte{0}), 1, nil)
	defer c.Stop()
	defer srv.Stop()

	if c.Status() != StatusNormal {
		t.Fatalf("expected a lone node to activate straight to NORMAL, got %s", c.Status())
	}
}

// a second node joins via a seed, streams from its neighbour, and a
// write placed through the joining node is visible through the first,
// exercising discovery, JoinCluster, the streaming state machine, and
// the replication coordinator together.
func TestTwoNodeJoinAndReplication(t *testing.T) {
	addrA := freeAddr(t)
	a, srvA := startNode(t, addrA, partitioner.NewMD5Partitioner(), partitioner.Token([]byte{0x00}), 2, nil)
	defer a.Stop()
	defer srvA.Stop()

	if a.Status() != StatusNormal {
		t.Fatalf("expected the first node up to self-activate, got %s", a.Status())
	}

	addrB := freeAddr(t)
	b, srvB := startNode(t, addrB, partitioner.NewMD5Partitioner(), partitioner.Token([]byte{0x80}), 2, []string{addrA})
	defer b.Stop()
	defer srvB.Stop()

	waitForStatus(t, b, StatusNormal, 5*time.Second)
	if b.Ring().Size() != 2 {
		t.Fatalf("expected node B to discover node A, ring size = %d", b.Ring().Size())
	}
	waitForRingSize(t, a, 2, 5*time.Second)

	key := "widget"
	if _, err := b.ExecuteMutation("set", key, []string{"first"}, time.Time{}, ConsistencyOne, true); err != nil {
		t.Fatalf("unexpected error writing from B: %v", err)
	}

	got, err := a.ExecuteRetrieval("get", key, nil, ConsistencyOne, true)
	if err != nil {
		t.Fatalf("unexpected error reading from A: %v", err)
	}
	if got == nil || string(got.Data()) != "first" {
		t.Fatalf("expected A to see B's write via replication, got %v", got)
	}
}
