package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Every message is framed as [u32 message_type][u32 body_length][body],
// all integers big-endian. The body is a positional tuple encoded with
// msgpack's array-struct mode, so field order on the wire matches field
// declaration order in the Go struct.
var byteOrder = binary.BigEndian

const headerSize = 8 // 2 x u32

// registry maps a message type to a constructor producing the zero
// value to decode into.
var registry = map[MessageType]func() Message{
	TypeNoop:                   func() Message { return &Noop{} },
	TypeConnectionRequest:      func() Message { return &ConnectionRequest{} },
	TypeConnectionAccepted:     func() Message { return &ConnectionAccepted{} },
	TypeConnectionRefused:      func() Message { return &ConnectionRefused{} },
	TypeDiscoverPeersRequest:   func() Message { return &DiscoverPeersRequest{} },
	TypeDiscoverPeersResponse:  func() Message { return &DiscoverPeersResponse{} },
	TypePingRequest:            func() Message { return &PingRequest{} },
	TypePingResponse:           func() Message { return &PingResponse{} },
	TypeRetrievalValueRequest:  func() Message { return &RetrievalValueRequest{} },
	TypeRetrievalValueResponse: func() Message { return &RetrievalValueResponse{} },
	TypeUnknownKey:             func() Message { return &UnknownKey{} },
	TypeMutationRequest:        func() Message { return &MutationRequest{} },
	TypeMutationResponse:       func() Message { return &MutationResponse{} },
	TypeStreamRequest:          func() Message { return &StreamRequest{} },
	TypeStreamResponse:         func() Message { return &StreamResponse{} },
	TypeStreamDataRequest:      func() Message { return &StreamDataRequest{} },
	TypeStreamDataResponse:     func() Message { return &StreamDataResponse{} },
	TypeStreamCompleteRequest:  func() Message { return &StreamCompleteRequest{} },
	TypeStreamCompleteResponse: func() Message { return &StreamCompleteResponse{} },
	TypeChangedTokenRequest:    func() Message { return &ChangedTokenRequest{} },
	TypeChangedTokenResponse:   func() Message { return &ChangedTokenResponse{} },
	TypeRemoveNodeRequest:      func() Message { return &RemoveNodeRequest{} },
	TypeRemoveNodeResponse:     func() Message { return &RemoveNodeResponse{} },
	TypeError:                  func() Message { return &Error{} },
}

func marshalBody(m Message) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.UseArrayEncodedStructs(true)
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("wire: encode %v body: %w", m.Type(), err)
	}
	return buf.Bytes(), nil
}

func unmarshalBody(t MessageType, body []byte) (Message, error) {
	ctor, ok := registry[t]
	if !ok {
		return nil, fmt.Errorf("wire: unknown message type %d", t)
	}
	m := ctor()

	dec := msgpack.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(m); err != nil {
		return nil, fmt.Errorf("wire: decode %v body: %w", t, err)
	}
	return m, nil
}

// WriteMessage frames and writes a whole message in one call; writes
// are whole-message, never partial.
func WriteMessage(w io.Writer, m Message) error {
	body, err := marshalBody(m)
	if err != nil {
		return err
	}

	header := make([]byte, headerSize)
	byteOrder.PutUint32(header[0:4], uint32(m.Type()))
	byteOrder.PutUint32(header[4:8], uint32(len(body)))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("wire: write header: %w", err)
	}
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			return fmt.Errorf("wire: write body: %w", err)
		}
	}
	return nil
}

// ReadMessage reads exactly one framed message from r. It returns
// io.EOF if the connection is closed before any header byte arrives,
// and io.ErrUnexpectedEOF if it is closed partway through the header.
func ReadMessage(r io.Reader) (Message, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	t := MessageType(byteOrder.Uint32(header[0:4]))
	bodyLen := byteOrder.Uint32(header[4:8])

	body := make([]byte, bodyLen)
	if bodyLen > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, fmt.Errorf("wire: read body: %w", err)
		}
	}

	return unmarshalBody(t, body)
}
