package store

import (
	"bytes"
	"fmt"

	"github.com/bdeggleston/kickboxerdb-prototype/serializer"
)

// encodeRawValue/decodeRawValue serialize a RawValue for the wire and
// for Store.SerializeValue/DeserializeValue. A leading presence byte
// distinguishes a tombstone (no payload) from an empty payload, which
// the length prefix alone can't.
func encodeRawValue(raw RawValue) ([]byte, error) {
	buf := &bytes.Buffer{}

	present := byte(1)
	if raw.Data == nil {
		present = 0
	}
	if err := buf.WriteByte(present); err != nil {
		return nil, err
	}
	if present == 1 {
		if err := serializer.WriteFieldBytes(buf, raw.Data); err != nil {
			return nil, fmt.Errorf("store: encode payload: %w", err)
		}
	}
	if err := serializer.WriteTime(buf, raw.Timestamp); err != nil {
		return nil, fmt.Errorf("store: encode timestamp: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeRawValue(b []byte) (RawValue, error) {
	buf := bytes.NewReader(b)

	present, err := buf.ReadByte()
	if err != nil {
		return RawValue{}, fmt.Errorf("store: decode presence flag: %w", err)
	}

	var data []byte
	if present == 1 {
		data, err = serializer.ReadFieldBytes(buf)
		if err != nil {
			return RawValue{}, fmt.Errorf("store: decode payload: %w", err)
		}
	}

	ts, err := serializer.ReadTime(buf)
	if err != nil {
		return RawValue{}, fmt.Errorf("store: decode timestamp: %w", err)
	}
	return RawValue{Data: data, Timestamp: ts}, nil
}
