package partitioner

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
)

// LiteralPartitioner treats a key as the decimal string form of its own
// token; keys that don't parse as a non-negative integer panic. Useful
// for writing ring/cluster tests whose expected key placement can be
// checked by eye.
type LiteralPartitioner struct{}

// NewLiteralPartitioner returns the integer-literal test partitioner.
func NewLiteralPartitioner() *LiteralPartitioner {
	return &LiteralPartitioner{}
}

var maxLiteralToken = literalTokenOf(math.MaxUint64)

// big-endian: Token ordering is byte-lexicographic (see Token.Compare),
// so the encoding must preserve numeric order.
func literalTokenOf(v uint64) Token {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return Token(b)
}

func (p *LiteralPartitioner) MaxToken() Token {
	return maxLiteralToken
}

func (p *LiteralPartitioner) TokenOf(key string) Token {
	val, err := strconv.ParseUint(key, 10, 64)
	if err != nil {
		panic(fmt.Sprintf("the given key does not convert to an integer: %v", key))
	}
	return literalTokenOf(val)
}

func (p *LiteralPartitioner) RandomToken() Token {
	panic("LiteralPartitioner does not support random tokens")
}
