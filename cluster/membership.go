package cluster

import (
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/google/uuid"

	"github.com/bdeggleston/kickboxerdb-prototype/partitioner"
	"github.com/bdeggleston/kickboxerdb-prototype/peer"
	"github.com/bdeggleston/kickboxerdb-prototype/topology"
	"github.com/bdeggleston/kickboxerdb-prototype/wire"
)

// discoverPeers bootstraps from seeds (first startup only) and asks
// every known remote for its own peer list, adding anything new. Every
// seed is tried, not just the first reachable one: stopping early
// leaves bootstrap fragile if that seed turns out to be isolated.
func (c *Cluster) discoverPeers() error {
	c.mu.RLock()
	noPeersYet := len(c.peers) == 0
	c.mu.RUnlock()
	if noPeersYet && len(c.seeds) > 0 {
		g := new(errgroup.Group)
		g.SetLimit(int(c.maxFanout))
		for _, addr := range c.seeds {
			addr := addr
			g.Go(func() error {
				cl := peer.NewClient(addr, c.identity(), c.dialTimeout)
				if err := cl.Start(); err != nil {
					logger.Warningf("seed %s unreachable: %v", addr, err)
					return nil
				}
				if cl.ID() == c.nodeID {
					cl.Stop()
					return nil
				}
				c.mu.Lock()
				if _, ok := c.peers[cl.ID()]; ok {
					c.mu.Unlock()
					cl.Stop()
					return nil
				}
				c.peers[cl.ID()] = cl
				c.mu.Unlock()
				c.updateRing(func(r *topology.Ring) *topology.Ring { return r.WithNode(cl) })
				return nil
			})
		}
		_ = g.Wait() // per-seed errors are logged and swallowed, not fatal
	}

	for _, p := range c.AllPeers() {
		if err := c.discoverFrom(p); err != nil {
			logger.Warningf("discovering peers via %s: %v", p.Addr(), err)
		}
	}
	return nil
}

// discoverFrom asks one peer for its view of the cluster and adds any
// node we haven't met. addNode calls this for each newly inserted
// peer, so discovery walks the cluster transitively from a single
// reachable seed.
func (c *Cluster) discoverFrom(p *peer.Client) error {
	req := &wire.DiscoverPeersRequest{Base: wire.NewBase(c.nodeID)}
	resp, err := p.SendMessage(req, false, c.retries)
	if err != nil {
		return err
	}
	list, ok := resp.(*wire.DiscoverPeersResponse)
	if !ok {
		return fmt.Errorf("cluster: unexpected discovery response %T from %s", resp, p.Addr())
	}
	for _, info := range list.Peers {
		if info.NodeID == c.nodeID {
			continue
		}
		if _, err := c.addNode(info.NodeID, info.Addr, info.Token, info.Name); err != nil {
			return err
		}
	}
	return nil
}

// peerInfoList snapshots every known node (local and remote) as
// wire.PeerInfo, for a DiscoverPeersResponse.
func (c *Cluster) peerInfoList() []wire.PeerInfo {
	nodes := c.Ring().AllNodes()
	out := make([]wire.PeerInfo, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, wire.PeerInfo{NodeID: n.ID(), Addr: n.Addr(), Token: n.Token(), Name: n.Name()})
	}
	return out
}

// JoinCluster streams from the newly started node's left neighbour in
// the ring. If the ring contains only this node, status goes straight
// to NORMAL.
func (c *Cluster) JoinCluster() error {
	ring := c.Ring()
	if ring.Size() <= 1 {
		c.setStatus(StatusNormal)
		return nil
	}

	left, _, ok := ring.Neighbours(c.nodeID)
	if !ok {
		c.setStatus(StatusNormal)
		return nil
	}
	return c.streamFromNode(left)
}

// ChangeToken mutates target's token, recomputes the ring, optionally
// broadcasts the change, and streams from whichever of self's
// neighbours changed as a result. target == uuid.Nil means self.
// Peers receiving the broadcast run this same algorithm with
// alertCluster=false, so every node whose neighbours changed pulls the
// keys it now replicates; re-applying an already-applied change leaves
// the ring untouched and triggers no further streams.
func (c *Cluster) ChangeToken(target uuid.UUID, newToken partitioner.Token, alertCluster bool) error {
	if target == uuid.Nil {
		target = c.nodeID
	}

	oldRing := c.Ring()
	oldLeft, oldRight, hadNeighbours := oldRing.Neighbours(c.nodeID)

	if err := c.applyTokenChange(target, newToken); err != nil {
		return err
	}

	if alertCluster {
		req := &wire.ChangedTokenRequest{
			Base:         wire.NewBase(c.nodeID),
			TargetNodeID: target,
			NewToken:     newToken,
			AlertCluster: false, // the reflected copy never re-broadcasts, to avoid a storm
		}
		for _, p := range c.AllPeers() {
			if _, err := p.SendMessage(req, false, c.retries); err != nil {
				logger.Warningf("announcing token change to %s: %v", p.Addr(), err)
			}
		}
	}

	newRing := c.Ring()
	newLeft, newRight, hasNeighbours := newRing.Neighbours(c.nodeID)
	if !hasNeighbours {
		return nil
	}

	var changed []topology.Node
	if !hadNeighbours || oldLeft.ID() != newLeft.ID() {
		changed = append(changed, newLeft)
	}
	if !hadNeighbours || oldRight.ID() != newRight.ID() {
		changed = append(changed, newRight)
	}

	for _, n := range changed {
		if n.ID() == c.nodeID {
			continue
		}
		cl, ok := c.clientByID(n.ID())
		if !ok {
			continue
		}
		// Ack the token change synchronously before streaming, so the
		// peer never begins streaming under its old ring view.
		ackReq := &wire.ChangedTokenRequest{Base: wire.NewBase(c.nodeID), TargetNodeID: target, NewToken: newToken, AlertCluster: false}
		if _, err := cl.SendMessage(ackReq, false, c.retries); err != nil {
			logger.Warningf("acking token change with %s: %v", cl.Addr(), err)
			continue
		}
		if err := c.streamFromNode(n); err != nil {
			logger.Warningf("streaming from %s after token change: %v", cl.Addr(), err)
		}
	}
	return nil
}

// RemoveNode mirrors ChangeToken's shape: announce the removal, then —
// only for the right neighbour, if it changed — synchronously ack and
// stream, since the left side already replicated the removed node's
// range. Peers receiving the broadcast run this same algorithm with
// alertCluster=false; re-applying an already-applied removal changes
// nothing and triggers no stream.
func (c *Cluster) RemoveNode(target uuid.UUID, alertCluster bool) error {
	oldRing := c.Ring()
	_, oldRight, hadNeighbours := oldRing.Neighbours(c.nodeID)

	c.applyNodeRemoval(target)

	if alertCluster {
		req := &wire.RemoveNodeRequest{Base: wire.NewBase(c.nodeID), TargetNodeID: target, AlertCluster: false}
		for _, p := range c.AllPeers() {
			if _, err := p.SendMessage(req, false, c.retries); err != nil {
				logger.Warningf("announcing node removal to %s: %v", p.Addr(), err)
			}
		}
	}

	newRing := c.Ring()
	_, newRight, hasNeighbours := newRing.Neighbours(c.nodeID)
	if !hasNeighbours {
		return nil
	}
	if hadNeighbours && oldRight.ID() == newRight.ID() {
		return nil
	}
	if newRight.ID() == c.nodeID {
		return nil
	}

	cl, ok := c.clientByID(newRight.ID())
	if !ok {
		return nil
	}
	ackReq := &wire.RemoveNodeRequest{Base: wire.NewBase(c.nodeID), TargetNodeID: target, AlertCluster: false}
	if _, err := cl.SendMessage(ackReq, false, c.retries); err != nil {
		return fmt.Errorf("cluster: acking removal with %s: %w", cl.Addr(), err)
	}
	return c.streamFromNode(newRight)
}

// applyTokenChange mutates target's token and resorts the ring.
func (c *Cluster) applyTokenChange(target uuid.UUID, newToken partitioner.Token) error {
	if target == c.nodeID {
		c.mu.Lock()
		c.token = newToken
		c.mu.Unlock()
		c.local.SetToken(newToken)
		c.updateRing(func(r *topology.Ring) *topology.Ring { return r.WithNode(c.local) })
		return nil
	}
	cl, ok := c.clientByID(target)
	if !ok {
		return fmt.Errorf("cluster: unknown target node %s", target)
	}
	cl.SetToken(newToken)
	c.updateRing(func(r *topology.Ring) *topology.Ring { return r.WithNode(cl) })
	return nil
}

// applyNodeRemoval removes target from the ring and peer table.
func (c *Cluster) applyNodeRemoval(target uuid.UUID) {
	c.updateRing(func(r *topology.Ring) *topology.Ring { return r.WithoutNode(target) })
	c.mu.Lock()
	delete(c.peers, target)
	c.mu.Unlock()
}

func (c *Cluster) clientByID(id uuid.UUID) (*peer.Client, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cl, ok := c.peers[id]
	return cl, ok
}
