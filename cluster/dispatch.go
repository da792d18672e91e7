package cluster

import (
	"fmt"
	"time"

	"github.com/bdeggleston/kickboxerdb-prototype/wire"
)

// Dispatch routes one inbound, post-handshake message to the right
// handler and returns its response. peerserver calls this for every
// message it reads off an accepted connection.
func (c *Cluster) Dispatch(m wire.Message) (wire.Message, error) {
	switch req := m.(type) {
	case *wire.Noop:
		return &wire.Noop{Base: wire.NewBase(c.nodeID)}, nil

	case *wire.PingRequest:
		return &wire.PingResponse{Base: wire.NewBase(c.nodeID)}, nil

	case *wire.DiscoverPeersRequest:
		return &wire.DiscoverPeersResponse{Base: wire.NewBase(c.nodeID), Peers: c.peerInfoList()}, nil

	case *wire.RetrievalValueRequest:
		return c.handleRetrieval(req)

	case *wire.MutationRequest:
		return c.handleMutation(req)

	case *wire.StreamRequest:
		return c.HandleStreamRequest(req.Sender())

	case *wire.StreamDataRequest:
		return c.HandleStreamDataRequest(req.Items)

	case *wire.StreamCompleteRequest:
		return c.HandleStreamCompleteRequest(req.Sender())

	case *wire.ChangedTokenRequest:
		// The broadcast copy runs the full change locally with
		// alertCluster=false: apply the mutation, then stream from this
		// node's own changed neighbours. Re-application is a no-op.
		if err := c.ChangeToken(req.TargetNodeID, req.NewToken, false); err != nil {
			return &wire.Error{Base: wire.NewBase(c.nodeID), Reason: err.Error()}, nil
		}
		return &wire.ChangedTokenResponse{Base: wire.NewBase(c.nodeID)}, nil

	case *wire.RemoveNodeRequest:
		if err := c.RemoveNode(req.TargetNodeID, false); err != nil {
			return &wire.Error{Base: wire.NewBase(c.nodeID), Reason: err.Error()}, nil
		}
		return &wire.RemoveNodeResponse{Base: wire.NewBase(c.nodeID)}, nil

	default:
		return &wire.Error{Base: wire.NewBase(c.nodeID), Reason: fmt.Sprintf("unsupported message type %s", m.Type())}, nil
	}
}

// handleRetrieval executes an inbound remote read against the local
// store directly, distinguishing a missing key (UnknownKey) from an
// unsupported instruction name (Error).
func (c *Cluster) handleRetrieval(req *wire.RetrievalValueRequest) (wire.Message, error) {
	op, err := opByName(req.Instruction)
	if err != nil {
		return &wire.Error{Base: wire.NewBase(c.nodeID), Reason: err.Error()}, nil
	}
	if !op.ReturnsValue() || !c.store.SupportsOp(op) {
		return &wire.Error{Base: wire.NewBase(c.nodeID), Reason: fmt.Sprintf("unsupported retrieval instruction %q", req.Instruction)}, nil
	}
	v, err := c.store.ExecuteQuery(op, req.Key, req.Args, time.Time{})
	if err != nil {
		return &wire.Error{Base: wire.NewBase(c.nodeID), Reason: err.Error()}, nil
	}
	if v == nil {
		return &wire.UnknownKey{Base: wire.NewBase(c.nodeID)}, nil
	}
	return &wire.RetrievalValueResponse{Base: wire.NewBase(c.nodeID), Data: v.Data(), TimestampUnixUTC: v.Timestamp().UnixMicro()}, nil
}

// handleMutation executes an inbound remote write against the local
// store directly.
func (c *Cluster) handleMutation(req *wire.MutationRequest) (wire.Message, error) {
	op, err := opByName(req.Instruction)
	if err != nil {
		return &wire.Error{Base: wire.NewBase(c.nodeID), Reason: err.Error()}, nil
	}
	if !op.IsMutation() || !c.store.SupportsOp(op) {
		return &wire.Error{Base: wire.NewBase(c.nodeID), Reason: fmt.Sprintf("unsupported mutation instruction %q", req.Instruction)}, nil
	}
	ts := time.UnixMicro(req.TimestampUnixUTC).UTC()
	v, err := c.store.ExecuteQuery(op, req.Key, req.Args, ts)
	if err != nil {
		return &wire.Error{Base: wire.NewBase(c.nodeID), Reason: err.Error()}, nil
	}
	return &wire.MutationResponse{Base: wire.NewBase(c.nodeID), Data: v.Data(), TimestampUnixUTC: v.Timestamp().UnixMicro()}, nil
}
