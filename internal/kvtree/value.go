// Package kvtree implements the ordered, typed key/value tree that the
// core library uses for handle metadata, per-file state, and
// transfer-method records. It is the concrete implementation of the
// black-box KV store contract: an ordered hierarchical map with typed
// leaves, insertion-order and sorted enumeration, subtree merge, and
// pack/unpack to a byte buffer for atomic, lock-protected persistence.
package kvtree

import "fmt"

// Kind tags the type of a leaf Value.
type Kind int

// Recognized leaf kinds, mirroring the axl_keys.h value types.
const (
	KindInt Kind = iota
	KindUint
	KindByteCount
	KindDouble
	KindString
	KindCRC32
	KindOpaque
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindByteCount:
		return "bytecount"
	case KindDouble:
		return "double"
	case KindString:
		return "string"
	case KindCRC32:
		return "crc32"
	case KindOpaque:
		return "opaque"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is a typed leaf value. Exactly one of the typed fields is
// meaningful, selected by Kind.
type Value struct {
	Kind      Kind
	Int       int64
	Uint      uint64
	ByteCount int64
	Double    float64
	String    string
	CRC32     uint32
	Opaque    []byte
}

// IntValue builds an integer leaf.
func IntValue(v int64) Value { return Value{Kind: KindInt, Int: v} }

// UintValue builds an unsigned-long leaf.
func UintValue(v uint64) Value { return Value{Kind: KindUint, Uint: v} }

// ByteCountValue builds a bytecount leaf.
func ByteCountValue(v int64) Value { return Value{Kind: KindByteCount, ByteCount: v} }

// DoubleValue builds a double leaf.
func DoubleValue(v float64) Value { return Value{Kind: KindDouble, Double: v} }

// StringValue builds a string leaf.
func StringValue(v string) Value { return Value{Kind: KindString, String: v} }

// CRC32Value builds a CRC32 leaf.
func CRC32Value(v uint32) Value { return Value{Kind: KindCRC32, CRC32: v} }

// OpaqueValue builds an opaque-pointer leaf (an uninterpreted byte blob
// as far as the tree is concerned; backends use it for cookies).
func OpaqueValue(v []byte) Value { return Value{Kind: KindOpaque, Opaque: v} }
