// Package wire implements the peer protocol's framed message catalog:
// message kinds, their positional bodies, and the binary codec that
// turns them into bytes on a TCP connection.
package wire

import (
	"github.com/google/uuid"

	"github.com/bdeggleston/kickboxerdb-prototype/partitioner"
)

// MessageType is the stable numeric code on the wire.
type MessageType uint32

const (
	TypeNoop MessageType = 0

	TypeConnectionRequest  MessageType = 101
	TypeConnectionAccepted MessageType = 102
	TypeConnectionRefused  MessageType = 103

	TypeDiscoverPeersRequest  MessageType = 201
	TypeDiscoverPeersResponse MessageType = 202

	TypePingRequest  MessageType = 210
	TypePingResponse MessageType = 211

	TypeRetrievalValueRequest  MessageType = 303
	TypeRetrievalValueResponse MessageType = 304
	TypeUnknownKey             MessageType = 305

	TypeMutationRequest  MessageType = 306
	TypeMutationResponse MessageType = 307

	TypeStreamRequest  MessageType = 705
	TypeStreamResponse MessageType = 706

	TypeStreamDataRequest  MessageType = 707
	TypeStreamDataResponse MessageType = 708

	TypeStreamCompleteRequest  MessageType = 709
	TypeStreamCompleteResponse MessageType = 710

	TypeChangedTokenRequest  MessageType = 805
	TypeChangedTokenResponse MessageType = 806

	TypeRemoveNodeRequest  MessageType = 807
	TypeRemoveNodeResponse MessageType = 808

	TypeError MessageType = 999
)

func (t MessageType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

var typeNames = map[MessageType]string{
	TypeNoop:                   "Noop",
	TypeConnectionRequest:      "ConnectionRequest",
	TypeConnectionAccepted:     "ConnectionAccepted",
	TypeConnectionRefused:      "ConnectionRefused",
	TypeDiscoverPeersRequest:   "DiscoverPeersRequest",
	TypeDiscoverPeersResponse:  "DiscoverPeersResponse",
	TypePingRequest:            "PingRequest",
	TypePingResponse:           "PingResponse",
	TypeRetrievalValueRequest:  "RetrievalValueRequest",
	TypeRetrievalValueResponse: "RetrievalValueResponse",
	TypeUnknownKey:             "UnknownKey",
	TypeMutationRequest:        "MutationRequest",
	TypeMutationResponse:       "MutationResponse",
	TypeStreamRequest:          "StreamRequest",
	TypeStreamResponse:         "StreamResponse",
	TypeStreamDataRequest:      "StreamDataRequest",
	TypeStreamDataResponse:     "StreamDataResponse",
	TypeStreamCompleteRequest:  "StreamCompleteRequest",
	TypeStreamCompleteResponse: "StreamCompleteResponse",
	TypeChangedTokenRequest:    "ChangedTokenRequest",
	TypeChangedTokenResponse:   "ChangedTokenResponse",
	TypeRemoveNodeRequest:      "RemoveNodeRequest",
	TypeRemoveNodeResponse:     "RemoveNodeResponse",
	TypeError:                  "Error",
}

// Message is implemented by every message body. Every message carries a
// sender id and a message id; responses do not correlate by message
// id, correlation is by strict in-order send/receive on a single
// pooled connection.
type Message interface {
	Type() MessageType
	Sender() uuid.UUID
	ID() uuid.UUID
}

// Base is embedded by every concrete message and supplies the sender/
// message id pair common to the whole catalog.
type Base struct {
	SenderID  uuid.UUID `msgpack:"sender_id"`
	MessageID uuid.UUID `msgpack:"message_id"`
}

// NewBase stamps a fresh message id for an outgoing message from sender.
func NewBase(sender uuid.UUID) Base {
	return Base{SenderID: sender, MessageID: uuid.New()}
}

func (b Base) Sender() uuid.UUID { return b.SenderID }
func (b Base) ID() uuid.UUID     { return b.MessageID }

// Noop is a heartbeat with no payload.
type Noop struct {
	Base
}

func (m *Noop) Type() MessageType { return TypeNoop }

// ConnectionRequest is the mandatory first message on a new connection.
type ConnectionRequest struct {
	Base
	Addr  string
	Token partitioner.Token
	Name  string
}

func (m *ConnectionRequest) Type() MessageType { return TypeConnectionRequest }

// ConnectionAccepted completes the handshake from the accepting side.
type ConnectionAccepted struct {
	Base
	Addr  string
	Token partitioner.Token
	Name  string
}

func (m *ConnectionAccepted) Type() MessageType { return TypeConnectionAccepted }

// ConnectionRefused terminates the handshake; the connection is closed
// immediately after this is sent.
type ConnectionRefused struct {
	Base
	Reason string
}

func (m *ConnectionRefused) Type() MessageType { return TypeConnectionRefused }

type DiscoverPeersRequest struct {
	Base
}

func (m *DiscoverPeersRequest) Type() MessageType { return TypeDiscoverPeersRequest }

// PeerInfo describes one node as returned by peer discovery.
type PeerInfo struct {
	NodeID uuid.UUID
	Addr   string
	Token  partitioner.Token
	Name   string
}

type DiscoverPeersResponse struct {
	Base
	Peers []PeerInfo
}

func (m *DiscoverPeersResponse) Type() MessageType { return TypeDiscoverPeersResponse }

type PingRequest struct {
	Base
}

func (m *PingRequest) Type() MessageType { return TypePingRequest }

type PingResponse struct {
	Base
}

func (m *PingResponse) Type() MessageType { return TypePingResponse }

// RetrievalValueRequest asks a replica to execute a named read
// instruction (e.g. "get") against a key.
type RetrievalValueRequest struct {
	Base
	Instruction string
	Key         string
	Args        []string
}

func (m *RetrievalValueRequest) Type() MessageType { return TypeRetrievalValueRequest }

// RetrievalValueResponse carries a value's raw payload and timestamp.
// Data == nil represents a tombstone, not a missing key — a missing key
// is UnknownKey instead.
type RetrievalValueResponse struct {
	Base
	Data             []byte
	TimestampUnixUTC int64 // microseconds since the Unix epoch
}

func (m *RetrievalValueResponse) Type() MessageType { return TypeRetrievalValueResponse }

// UnknownKey is returned instead of RetrievalValueResponse on a read
// miss; the coordinator treats it as a null value during resolution.
type UnknownKey struct {
	Base
}

func (m *UnknownKey) Type() MessageType { return TypeUnknownKey }

type MutationRequest struct {
	Base
	Instruction      string
	Key              string
	Args             []string
	TimestampUnixUTC int64
}

func (m *MutationRequest) Type() MessageType { return TypeMutationRequest }

type MutationResponse struct {
	Base
	Data             []byte
	TimestampUnixUTC int64
}

func (m *MutationResponse) Type() MessageType { return TypeMutationResponse }

// StreamRequest asks the receiving peer to start streaming the keys it
// replicates on our behalf to us.
type StreamRequest struct {
	Base
}

func (m *StreamRequest) Type() MessageType { return TypeStreamRequest }

// StreamResponse is an early ack; the actual data arrives on a separate
// sequence of StreamDataRequest messages initiated by the source.
type StreamResponse struct {
	Base
}

func (m *StreamResponse) Type() MessageType { return TypeStreamResponse }

// StreamItem is one key's raw value record as carried in a batch.
type StreamItem struct {
	Key  string
	Data []byte
}

type StreamDataRequest struct {
	Base
	Items []StreamItem
}

func (m *StreamDataRequest) Type() MessageType { return TypeStreamDataRequest }

type StreamDataResponse struct {
	Base
}

func (m *StreamDataResponse) Type() MessageType { return TypeStreamDataResponse }

type StreamCompleteRequest struct {
	Base
}

func (m *StreamCompleteRequest) Type() MessageType { return TypeStreamCompleteRequest }

type StreamCompleteResponse struct {
	Base
}

func (m *StreamCompleteResponse) Type() MessageType { return TypeStreamCompleteResponse }

// ChangedTokenRequest announces that target's token has moved.
// AlertCluster is false on the reflected copy a peer sends onward, so
// that the broadcast does not loop forever.
type ChangedTokenRequest struct {
	Base
	TargetNodeID uuid.UUID
	NewToken     partitioner.Token
	AlertCluster bool
}

func (m *ChangedTokenRequest) Type() MessageType { return TypeChangedTokenRequest }

type ChangedTokenResponse struct {
	Base
}

func (m *ChangedTokenResponse) Type() MessageType { return TypeChangedTokenResponse }

type RemoveNodeRequest struct {
	Base
	TargetNodeID uuid.UUID
	AlertCluster bool
}

func (m *RemoveNodeRequest) Type() MessageType { return TypeRemoveNodeRequest }

type RemoveNodeResponse struct {
	Base
}

func (m *RemoveNodeResponse) Type() MessageType { return TypeRemoveNodeResponse }

// Error is a textual failure reason sent in place of a typed response,
// covering both an invalid instruction name and any other protocol
// violation.
type Error struct {
	Base
	Reason string
}

func (m *Error) Type() MessageType { return TypeError }
