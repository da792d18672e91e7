// Package serializer holds the small length-prefixed field codec used
// for the store's raw per-key export format. Integers are big-endian,
// matching the rest of the wire format.
package serializer

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// WriteFieldBytes writes the field's length, then the field itself.
func WriteFieldBytes(w io.Writer, field []byte) error {
	size := uint32(len(field))
	if err := binary.Write(w, binary.BigEndian, &size); err != nil {
		return err
	}
	n, err := w.Write(field)
	if err != nil {
		return err
	}
	if uint32(n) != size {
		return fmt.Errorf("serializer: short write, expected %d bytes, wrote %d", size, n)
	}
	return nil
}

// ReadFieldBytes reads a length-prefixed field written by WriteFieldBytes.
func ReadFieldBytes(r io.Reader) ([]byte, error) {
	var size uint32
	if err := binary.Read(r, binary.BigEndian, &size); err != nil {
		return nil, err
	}
	if size == 0 {
		return []byte{}, nil
	}
	field := make([]byte, size)
	if _, err := io.ReadFull(r, field); err != nil {
		return nil, err
	}
	return field, nil
}

// WriteTime writes t as microseconds since the Unix epoch, the
// timestamp precision values carry throughout the store.
func WriteTime(w io.Writer, t time.Time) error {
	micros := t.UnixMicro()
	return binary.Write(w, binary.BigEndian, &micros)
}

// ReadTime reads a timestamp written by WriteTime.
func ReadTime(r io.Reader) (time.Time, error) {
	var micros int64
	if err := binary.Read(r, binary.BigEndian, &micros); err != nil {
		return time.Time{}, err
	}
	return time.UnixMicro(micros).UTC(), nil
}
