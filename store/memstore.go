package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// value is MemStore's concrete Value: an opaque payload plus a write
// timestamp. A nil payload is a tombstone.
type value struct {
	payload   []byte
	timestamp time.Time
}

func (v *value) Data() []byte          { return v.payload }
func (v *value) Timestamp() time.Time  { return v.timestamp }
func (v *value) IsTombstone() bool     { return v.payload == nil }
func (v *value) Equal(o Value) bool {
	ov, ok := o.(*value)
	if !ok {
		return false
	}
	if !v.timestamp.Equal(ov.timestamp) {
		return false
	}
	if v.IsTombstone() != ov.IsTombstone() {
		return false
	}
	return string(v.payload) == string(ov.payload)
}

func newValue(payload []byte, ts time.Time) *value {
	return &value{payload: payload, timestamp: ts}
}

func newTombstone(ts time.Time) *value {
	return &value{payload: nil, timestamp: ts}
}

// MemStore is the in-memory reference Store: get/set/delete over a
// last-writer-wins map.
type MemStore struct {
	mu   sync.RWMutex
	data map[string]*value
}

// NewMemStore constructs an empty store.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string]*value)}
}

var _ Store = (*MemStore)(nil)

func (s *MemStore) Start() error { return nil }
func (s *MemStore) Stop() error  { return nil }

func (s *MemStore) SupportsOp(op Op) bool {
	switch op {
	case OpGet, OpSet, OpDelete:
		return true
	default:
		return false
	}
}

// ExecuteQuery applies op to key. Set/Delete are last-writer-wins: a
// write whose timestamp does not exceed the stored value's timestamp
// is a no-op.
func (s *MemStore) ExecuteQuery(op Op, key string, args []string, timestamp time.Time) (Value, error) {
	switch op {
	case OpGet:
		s.mu.RLock()
		defer s.mu.RUnlock()
		v, ok := s.data[key]
		if !ok {
			return nil, nil
		}
		return v, nil

	case OpSet:
		if len(args) != 1 {
			return nil, fmt.Errorf("store: set requires exactly 1 arg, got %d", len(args))
		}
		return s.write(key, newValue([]byte(args[0]), timestamp))

	case OpDelete:
		return s.write(key, newTombstone(timestamp))

	default:
		return nil, fmt.Errorf("store: unsupported op %v", op)
	}
}

func (s *MemStore) write(key string, v *value) (Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.data[key]
	if ok && !existing.timestamp.Before(v.timestamp) {
		return existing, nil
	}
	s.data[key] = v
	return v, nil
}

// Reconcile picks the highest-timestamped value as canonical and
// returns a Set/Delete repair instruction for every node whose value
// lags it.
func (s *MemStore) Reconcile(key string, args []string, values map[uuid.UUID]Value) (Value, map[uuid.UUID][]*Instruction, error) {
	var canonical Value
	for _, v := range values {
		if v == nil {
			continue
		}
		if canonical == nil || v.Timestamp().After(canonical.Timestamp()) {
			canonical = v
		}
	}
	if canonical == nil {
		return nil, nil, nil
	}

	instructions := make(map[uuid.UUID][]*Instruction)
	for nid, v := range values {
		if v != nil && v.Equal(canonical) {
			continue
		}
		instructions[nid] = []*Instruction{repairInstruction(key, canonical)}
	}
	return canonical, instructions, nil
}

func repairInstruction(key string, v Value) *Instruction {
	if v.IsTombstone() {
		return NewInstruction(OpDelete, key, nil, v.Timestamp())
	}
	return NewInstruction(OpSet, key, []string{string(v.Data())}, v.Timestamp())
}

func (s *MemStore) SerializeValue(v Value) ([]byte, error) {
	return encodeRawValue(RawValue{Data: v.Data(), Timestamp: v.Timestamp()})
}

func (s *MemStore) DeserializeValue(b []byte) (Value, error) {
	raw, err := decodeRawValue(b)
	if err != nil {
		return nil, err
	}
	return newValue(raw.Data, raw.Timestamp), nil
}

func (s *MemStore) GetRawValue(key string) (RawValue, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data[key]
	if !ok {
		return RawValue{}, false
	}
	return RawValue{Data: v.payload, Timestamp: v.timestamp}, true
}

// SetAndReconcileRawValue idempotently merges a streamed record with
// whatever is already stored under key, last-writer-wins: applying the
// same record twice is a no-op the second time, and the merge commutes
// regardless of arrival order.
func (s *MemStore) SetAndReconcileRawValue(key string, raw RawValue) error {
	_, err := s.write(key, newValue(raw.Data, raw.Timestamp))
	return err
}

// ValueFromRaw wraps a wire-level (data, timestamp) pair as a Value,
// without touching the store. Used by the replication coordinator to
// place a remote node's response alongside locally produced values in
// a single Reconcile call.
func (s *MemStore) ValueFromRaw(raw RawValue) Value {
	return newValue(raw.Data, raw.Timestamp)
}

func (s *MemStore) AllKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return keys
}

func (s *MemStore) KeyExists(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.data[key]
	return ok
}
