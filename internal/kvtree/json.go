package kvtree

import "encoding/json"

// wireValue is the on-the-wire shape of a Value. Only the field matching
// Kind is populated; the rest are left at their zero value, kept simple
// deliberately (bbolt values are small, and json is just a portable pack
// format here, not a performance-critical path).
type wireValue struct {
	Kind      Kind    `json:"kind"`
	Int       int64   `json:"int,omitempty"`
	Uint      uint64  `json:"uint,omitempty"`
	ByteCount int64   `json:"bytecount,omitempty"`
	Double    float64 `json:"double,omitempty"`
	String    string  `json:"string,omitempty"`
	CRC32     uint32  `json:"crc32,omitempty"`
	Opaque    []byte  `json:"opaque,omitempty"`
}

// wireEntry is one ordered (key, leaf-or-subtree) pair.
type wireEntry struct {
	Key   string      `json:"key"`
	Leaf  *wireValue  `json:"leaf,omitempty"`
	Child []wireEntry `json:"child,omitempty"`
}

func toWire(t *Tree) []wireEntry {
	var out []wireEntry
	t.Range(func(key string, leaf *Value, child *Tree) bool {
		e := wireEntry{Key: key}
		if child != nil {
			e.Child = toWire(child)
		} else {
			e.Leaf = &wireValue{
				Kind: leaf.Kind, Int: leaf.Int, Uint: leaf.Uint,
				ByteCount: leaf.ByteCount, Double: leaf.Double,
				String: leaf.String, CRC32: leaf.CRC32, Opaque: leaf.Opaque,
			}
		}
		out = append(out, e)
		return true
	})
	return out
}

func fromWire(entries []wireEntry) *Tree {
	t := New()
	for _, e := range entries {
		if e.Leaf != nil {
			t.Set(e.Key, Value{
				Kind: e.Leaf.Kind, Int: e.Leaf.Int, Uint: e.Leaf.Uint,
				ByteCount: e.Leaf.ByteCount, Double: e.Leaf.Double,
				String: e.Leaf.String, CRC32: e.Leaf.CRC32, Opaque: e.Leaf.Opaque,
			})
			continue
		}
		sub := fromWire(e.Child)
		t.order = append(t.order, e.Key)
		t.ensure()
		t.nodes[e.Key] = &node{child: sub}
	}
	return t
}

// Pack serializes t to a byte buffer preserving insertion order and leaf
// typing, for storage as a single bbolt value (or any other byte-oriented
// sink).
func (t *Tree) Pack() ([]byte, error) {
	return json.Marshal(toWire(t))
}

// Unpack parses a buffer produced by Pack into a fresh Tree.
func Unpack(data []byte) (*Tree, error) {
	if len(data) == 0 {
		return New(), nil
	}
	var entries []wireEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return fromWire(entries), nil
}
