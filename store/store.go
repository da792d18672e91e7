// Package store defines the contract the cluster layer consumes from a
// key-value backend, plus an in-memory reference implementation.
package store

import (
	"time"

	"github.com/google/uuid"
)

// Op is one of the instructions a Store knows how to execute: a
// closed, compile-time-checked set rather than a string dispatched by
// name.
type Op int

const (
	OpGet Op = iota
	OpSet
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpGet:
		return "get"
	case OpSet:
		return "set"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// IsMutation reports whether executing this op changes store state.
func (o Op) IsMutation() bool {
	return o == OpSet || o == OpDelete
}

// ReturnsValue reports whether the op's response carries a value the
// coordinator should resolve and hand back to the caller.
func (o Op) ReturnsValue() bool {
	return o == OpGet
}

// Value is a single timestamped, possibly-tombstoned payload.
// Resolution across replicas is last-writer-wins on Timestamp.
type Value interface {
	// Data is the opaque payload, or nil for a tombstone.
	Data() []byte
	// Timestamp is microsecond-precision write time.
	Timestamp() time.Time
	// IsTombstone reports whether this value represents a delete.
	IsTombstone() bool
	// Equal compares payload and timestamp.
	Equal(Value) bool
}

// RawValue is a value's data/timestamp pair as exchanged during
// streaming and used for export/import. It carries no knowledge of the
// Store's internal Value representation.
type RawValue struct {
	Data      []byte
	Timestamp time.Time
}

// Instruction is a single repair write computed during reconciliation,
// one per node whose value disagreed with the canonical one.
type Instruction struct {
	Op        Op
	Key       string
	Args      []string
	Timestamp time.Time
}

func NewInstruction(op Op, key string, args []string, timestamp time.Time) *Instruction {
	return &Instruction{Op: op, Key: key, Args: args, Timestamp: timestamp}
}

// Equal reports field-wise equality.
func (i *Instruction) Equal(o *Instruction) bool {
	if i.Op != o.Op || i.Key != o.Key || !i.Timestamp.Equal(o.Timestamp) {
		return false
	}
	if len(i.Args) != len(o.Args) {
		return false
	}
	for n := range i.Args {
		if i.Args[n] != o.Args[n] {
			return false
		}
	}
	return true
}

// Store is the backend contract the cluster layer is built against.
// An in-memory reference implementation ships as MemStore.
type Store interface {
	Start() error
	Stop() error

	// SupportsOp reports whether this store knows how to execute op.
	SupportsOp(op Op) bool

	// ExecuteQuery performs a read or write against the local store.
	ExecuteQuery(op Op, key string, args []string, timestamp time.Time) (Value, error)

	// Reconcile reduces per-replica responses (keyed by replying node)
	// to one canonical value, plus a set of repair instructions for
	// nodes whose value disagreed with the canonical one.
	Reconcile(key string, args []string, values map[uuid.UUID]Value) (Value, map[uuid.UUID][]*Instruction, error)

	// SerializeValue/DeserializeValue export a Value for the wire and
	// for GetRawValue/SetAndReconcileRawValue's byte payloads.
	SerializeValue(v Value) ([]byte, error)
	DeserializeValue(b []byte) (Value, error)

	// GetRawValue/SetAndReconcileRawValue support streaming: the
	// producer side reads a key's current record verbatim, the
	// receiver side merges a streamed record with whatever is already
	// stored under that key using last-writer-wins (idempotent and
	// commutative regardless of arrival order).
	GetRawValue(key string) (RawValue, bool)
	SetAndReconcileRawValue(key string, raw RawValue) error

	// ValueFromRaw builds a Value from a wire-level (data, timestamp)
	// pair, for the replication coordinator to fold a remote peer's
	// RetrievalValueResponse/MutationResponse into the same Value type
	// Reconcile expects alongside locally produced values.
	ValueFromRaw(raw RawValue) Value

	// AllKeys snapshots the live key set, including tombstones.
	AllKeys() []string
	KeyExists(key string) bool
}
