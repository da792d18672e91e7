package cluster

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/google/uuid"

	"github.com/bdeggleston/kickboxerdb-prototype/peer"
	"github.com/bdeggleston/kickboxerdb-prototype/store"
	"github.com/bdeggleston/kickboxerdb-prototype/topology"
)

// replicaNode is whatever the coordinator needs from a ring member to
// run a retrieval or mutation against it, whether local or remote.
// LocalNode and peer.Client both satisfy this.
type replicaNode interface {
	topology.Node
	ExecuteRetrieval(instruction, key string, args []string, retries int) (peer.RetrievalResult, error)
	ExecuteMutation(instruction, key string, args []string, timestamp time.Time, retries int) (peer.RetrievalResult, error)
}

func (c *Cluster) replicaFor(n topology.Node) (replicaNode, bool) {
	if n.ID() == c.nodeID {
		return c.local, true
	}
	c.mu.RLock()
	cl, ok := c.peers[n.ID()]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return cl, true
}

// isStreamGated reports whether a sub-request targeting n must fail
// because this node isn't ready to serve it locally: the target must
// *be this node* and this node's own status must be INITIALIZING or
// STREAMING — not whenever any stream anywhere is in progress.
func (c *Cluster) isStreamGated(n topology.Node) bool {
	if n.ID() != c.nodeID {
		return false
	}
	switch c.Status() {
	case StatusInitializing, StatusStreaming:
		return true
	default:
		return false
	}
}

type replicaResult struct {
	nodeID uuid.UUID
	result peer.RetrievalResult
	err    error
}

// ExecuteRetrieval scatters a read to every replica of key, bounded by
// maxFanout, waits for quorumCount responses (or ResponseTimeout),
// resolves the canonical value, and schedules background read-repair
// over the complete response map once every replica task has finished
// or timed out.
func (c *Cluster) ExecuteRetrieval(instruction, key string, args []string, consistency Consistency, synchronous bool) (store.Value, error) {
	op, err := opByName(instruction)
	if err != nil {
		return nil, err
	}
	if !op.ReturnsValue() {
		return nil, fmt.Errorf("cluster: %q is not a retrieval instruction", instruction)
	}

	nodes := c.NodesForKey(key)
	need, err := quorumCount(consistency, len(nodes))
	if err != nil {
		return nil, err
	}

	respCh := make(chan replicaResult, len(nodes))
	reconcileCh := make(chan replicaResult, len(nodes))
	nodeMap := make(map[uuid.UUID]topology.Node, len(nodes))

	sem := semaphore.NewWeighted(c.maxFanout)
	ctx := context.Background()

	spawned := 0
	for _, n := range nodes {
		nodeMap[n.ID()] = n
		rn, ok := c.replicaFor(n)
		if !ok {
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			continue
		}
		spawned++
		go func(n topology.Node, rn replicaNode) {
			defer sem.Release(1)
			var rr replicaResult
			rr.nodeID = n.ID()
			if c.isStreamGated(n) {
				rr.err = fmt.Errorf("cluster: %s is %s, local sub-read unsupported", n.ID(), c.Status())
			} else {
				rr.result, rr.err = rn.ExecuteRetrieval(instruction, key, args, c.retries)
			}
			respCh <- rr
			reconcileCh <- rr
		}(n, rn)
	}
	if spawned < need {
		return nil, fmt.Errorf("cluster: only %d of %d replicas of %q are contactable, %s consistency unsatisfiable", spawned, len(nodes), key, consistency)
	}

	values := make(map[uuid.UUID]store.Value, len(nodes))
	received := 0
	timeoutCh := time.After(c.responseTimeout)
	for len(values) < need {
		if received >= spawned {
			return nil, fmt.Errorf("cluster: could not satisfy %s consistency for %q: all replicas responded with errors", consistency, key)
		}
		select {
		case rr := <-respCh:
			received++
			if rr.err != nil {
				logger.Debugf("retrieval of %q from %s failed: %v", key, rr.nodeID, rr.err)
				continue
			}
			values[rr.nodeID] = resultValue(c.store, rr.result)
		case <-timeoutCh:
			return nil, fmt.Errorf("cluster: retrieval of %q timed out waiting for %s consistency", key, consistency)
		}
	}

	canonical, _, err := c.store.Reconcile(key, args, values)
	if err != nil {
		return nil, fmt.Errorf("cluster: reconciling %q: %w", key, err)
	}

	repairTimeout := c.responseTimeout * 2
	task := func() {
		c.reconcileRead(key, args, nodeMap, reconcileCh, spawned, repairTimeout)
	}
	if synchronous {
		task()
	} else {
		go task()
	}

	return canonical, nil
}

func resultValue(s store.Store, r peer.RetrievalResult) store.Value {
	if !r.Found {
		return nil
	}
	return s.ValueFromRaw(store.RawValue{Data: r.Data, Timestamp: r.Timestamp})
}

// reconcileRead gathers every replica task's response (bounded by
// timeout), re-resolves the complete map — responses that arrived
// after quorum included — and issues a repair write to every node
// whose value lags the canonical one. Failures are logged and
// discarded: read-repair is a best-effort optimization.
func (c *Cluster) reconcileRead(key string, args []string, nodeMap map[uuid.UUID]topology.Node, ch chan replicaResult, total int, timeout time.Duration) {
	values := make(map[uuid.UUID]store.Value, total)
	timeoutCh := time.After(timeout)
	received := 0
drain:
	for received < total {
		select {
		case rr := <-ch:
			received++
			if rr.err != nil {
				continue
			}
			values[rr.nodeID] = resultValue(c.store, rr.result)
		case <-timeoutCh:
			break drain
		}
	}

	_, instructions, err := c.store.Reconcile(key, args, values)
	if err != nil {
		logger.Warningf("resolving %q for read repair: %v", key, err)
		return
	}

	for nid, insts := range instructions {
		n, ok := nodeMap[nid]
		if !ok {
			continue
		}
		rn, ok := c.replicaFor(n)
		if !ok {
			continue
		}
		for _, inst := range insts {
			go func(rn replicaNode, inst *store.Instruction) {
				if _, err := rn.ExecuteMutation(inst.Op.String(), inst.Key, inst.Args, inst.Timestamp, c.retries); err != nil {
					logger.Debugf("repair write of %q failed: %v", inst.Key, err)
				}
			}(rn, inst)
		}
	}
}

// ExecuteMutation is the write path, symmetric to ExecuteRetrieval:
// scatter to replicas, wait for a quorum of acks, reconcile (currently
// a join-and-ignore placeholder) in the background.
func (c *Cluster) ExecuteMutation(instruction, key string, args []string, timestamp time.Time, consistency Consistency, synchronous bool) (store.Value, error) {
	op, err := opByName(instruction)
	if err != nil {
		return nil, err
	}
	if !op.IsMutation() {
		return nil, fmt.Errorf("cluster: %q is not a mutation instruction", instruction)
	}

	if timestamp.IsZero() {
		timestamp = time.Now().UTC().Truncate(time.Microsecond)
	}
	nodes := c.NodesForKey(key)
	need, err := quorumCount(consistency, len(nodes))
	if err != nil {
		return nil, err
	}

	respCh := make(chan replicaResult, len(nodes))
	sem := semaphore.NewWeighted(c.maxFanout)
	ctx := context.Background()

	spawned := 0
	for _, n := range nodes {
		rn, ok := c.replicaFor(n)
		if !ok {
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			continue
		}
		spawned++
		go func(n topology.Node, rn replicaNode) {
			defer sem.Release(1)
			var rr replicaResult
			rr.nodeID = n.ID()
			if c.isStreamGated(n) {
				rr.err = fmt.Errorf("cluster: %s is %s, local sub-write unsupported", n.ID(), c.Status())
			} else {
				rr.result, rr.err = rn.ExecuteMutation(instruction, key, args, timestamp, c.retries)
			}
			respCh <- rr
		}(n, rn)
	}
	if spawned < need {
		return nil, fmt.Errorf("cluster: only %d of %d replicas of %q are contactable, %s consistency unsatisfiable", spawned, len(nodes), key, consistency)
	}

	var canonical store.Value
	acked := 0
	received := 0
	timeoutCh := time.After(c.responseTimeout)
	for acked < need {
		if received >= spawned {
			return nil, fmt.Errorf("cluster: could not satisfy %s consistency for write %q: all replicas responded with errors", consistency, key)
		}
		select {
		case rr := <-respCh:
			received++
			if rr.err != nil {
				logger.Debugf("mutation of %q on %s failed: %v", key, rr.nodeID, rr.err)
				continue
			}
			acked++
			canonical = resultValue(c.store, rr.result)
		case <-timeoutCh:
			return nil, fmt.Errorf("cluster: write of %q timed out waiting for %s consistency", key, consistency)
		}
	}

	// Background reconciliation is a join-and-ignore placeholder,
	// reserved for future hinted-handoff distribution; the mutation
	// path performs no repair of its own today.
	task := func() {
		drained := 0
		timeoutCh := time.After(c.responseTimeout)
		for drained < spawned-received {
			select {
			case <-respCh:
				drained++
			case <-timeoutCh:
				return
			}
		}
	}
	if synchronous {
		task()
	} else {
		go task()
	}

	return canonical, nil
}
