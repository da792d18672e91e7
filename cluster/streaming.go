package cluster

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/bdeggleston/kickboxerdb-prototype/store"
	"github.com/bdeggleston/kickboxerdb-prototype/topology"
	"github.com/bdeggleston/kickboxerdb-prototype/wire"
)

// streamFromNode is the receiver side of a topology change: add src to
// the streaming set, flip status to STREAMING, then ask it to start
// sending. The actual data arrives later as StreamDataRequests handled
// by HandleStreamDataRequest.
func (c *Cluster) streamFromNode(src topology.Node) error {
	cl, ok := c.clientByID(src.ID())
	if !ok {
		return fmt.Errorf("cluster: no client for stream source %s", src.ID())
	}

	c.mu.Lock()
	c.streamingFrom[src.ID()] = true
	c.mu.Unlock()
	c.setStatus(StatusStreaming)

	resp, err := cl.SendMessage(&wire.StreamRequest{Base: wire.NewBase(c.nodeID)}, false, c.retries)
	if err != nil {
		return err
	}
	if _, ok := resp.(*wire.StreamResponse); !ok {
		return fmt.Errorf("cluster: expected StreamResponse from %s, got %T", src.ID(), resp)
	}
	return nil
}

// HandleStreamRequest is the producer side of a stream: ack
// immediately with StreamResponse, then asynchronously push every
// locally held key that dst replicates, followed by
// StreamCompleteRequest. The transfer runs on its own goroutine so the
// ack isn't held up by the whole key range.
func (c *Cluster) HandleStreamRequest(dst uuid.UUID) (*wire.StreamResponse, error) {
	cl, ok := c.clientByID(dst)
	if !ok {
		return nil, fmt.Errorf("cluster: no client for stream destination %s", dst)
	}
	go func() {
		if err := c.streamToNode(dst, cl); err != nil {
			logger.Warningf("streaming to %s: %v", dst, err)
		}
	}()
	return &wire.StreamResponse{Base: wire.NewBase(c.nodeID)}, nil
}

type messageSender interface {
	SendMessage(m wire.Message, save bool, retries int) (wire.Message, error)
	Addr() string
}

// streamToNode iterates local keys, sending every one replicated by
// dst in a StreamDataRequest, then signals completion.
func (c *Cluster) streamToNode(dst uuid.UUID, cl messageSender) error {
	replicates := func(key string) bool {
		for _, n := range c.NodesForKey(key) {
			if n.ID() == dst {
				return true
			}
		}
		return false
	}

	for _, key := range c.store.AllKeys() {
		if !replicates(key) {
			continue
		}
		raw, ok := c.store.GetRawValue(key)
		if !ok {
			continue
		}
		data, err := c.store.SerializeValue(c.store.ValueFromRaw(raw))
		if err != nil {
			return fmt.Errorf("cluster: serializing %q for stream: %w", key, err)
		}
		req := &wire.StreamDataRequest{
			Base:  wire.NewBase(c.nodeID),
			Items: []wire.StreamItem{{Key: key, Data: data}},
		}
		resp, err := cl.SendMessage(req, false, c.retries)
		if err != nil {
			return err
		}
		if _, ok := resp.(*wire.StreamDataResponse); !ok {
			return fmt.Errorf("cluster: expected StreamDataResponse from %s, got %T", cl.Addr(), resp)
		}
	}

	resp, err := cl.SendMessage(&wire.StreamCompleteRequest{Base: wire.NewBase(c.nodeID)}, false, c.retries)
	if err != nil {
		return err
	}
	if _, ok := resp.(*wire.StreamCompleteResponse); !ok {
		return fmt.Errorf("cluster: expected StreamCompleteResponse from %s, got %T", cl.Addr(), resp)
	}
	return nil
}

// HandleStreamDataRequest is the receiver side of one batch: merge
// each item into the local store with last-writer-wins, idempotently.
func (c *Cluster) HandleStreamDataRequest(items []wire.StreamItem) (*wire.StreamDataResponse, error) {
	for _, item := range items {
		v, err := c.store.DeserializeValue(item.Data)
		if err != nil {
			return nil, fmt.Errorf("cluster: deserializing streamed %q: %w", item.Key, err)
		}
		raw := store.RawValue{Data: v.Data(), Timestamp: v.Timestamp()}
		if err := c.store.SetAndReconcileRawValue(item.Key, raw); err != nil {
			return nil, fmt.Errorf("cluster: reconciling streamed %q: %w", item.Key, err)
		}
	}
	return &wire.StreamDataResponse{Base: wire.NewBase(c.nodeID)}, nil
}

// HandleStreamCompleteRequest removes src from the streaming set;
// status returns to NORMAL once it's empty.
func (c *Cluster) HandleStreamCompleteRequest(src uuid.UUID) (*wire.StreamCompleteResponse, error) {
	c.mu.Lock()
	delete(c.streamingFrom, src)
	empty := len(c.streamingFrom) == 0
	c.mu.Unlock()
	if empty {
		c.setStatus(StatusNormal)
	}
	return &wire.StreamCompleteResponse{Base: wire.NewBase(c.nodeID)}, nil
}
