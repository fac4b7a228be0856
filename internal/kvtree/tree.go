package kvtree

import (
	"sort"
	"strconv"
)

// node is either a leaf Value or a child Tree, never both.
type node struct {
	leaf  *Value
	child *Tree
}

// Tree is an ordered map from string keys to children, where a child is
// either another Tree (an interior node) or a typed Value (a leaf).
// Insertion order is preserved alongside a fast lookup map so callers can
// enumerate either way, matching the contract in SPEC_FULL.md §4.1.
type Tree struct {
	order []string
	nodes map[string]*node
}

// New returns an empty Tree.
func New() *Tree {
	return &Tree{nodes: make(map[string]*node)}
}

func (t *Tree) ensure() {
	if t.nodes == nil {
		t.nodes = make(map[string]*node)
	}
}

// Set stores a leaf Value under key, replacing whatever was there
// (leaf or subtree). New keys are appended to the insertion order;
// re-setting an existing key keeps its original position.
func (t *Tree) Set(key string, v Value) {
	t.ensure()
	if n, ok := t.nodes[key]; ok {
		n.leaf = &v
		n.child = nil
		return
	}
	t.order = append(t.order, key)
	t.nodes[key] = &node{leaf: &v}
}

// SetKey is Set keyed by an integer (e.g. a HandleId) rather than a string.
func (t *Tree) SetKey(key int64, v Value) {
	t.Set(strconv.FormatInt(key, 10), v)
}

// Get returns the leaf Value stored at key, if any.
func (t *Tree) Get(key string) (Value, bool) {
	if t == nil || t.nodes == nil {
		return Value{}, false
	}
	n, ok := t.nodes[key]
	if !ok || n.leaf == nil {
		return Value{}, false
	}
	return *n.leaf, true
}

// GetKey is Get keyed by an integer.
func (t *Tree) GetKey(key int64) (Value, bool) {
	return t.Get(strconv.FormatInt(key, 10))
}

// Unset removes key (leaf or subtree) entirely.
func (t *Tree) Unset(key string) {
	if t == nil || t.nodes == nil {
		return
	}
	if _, ok := t.nodes[key]; !ok {
		return
	}
	delete(t.nodes, key)
	for i, k := range t.order {
		if k == key {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// Child returns the subtree stored at key, if any.
func (t *Tree) Child(key string) (*Tree, bool) {
	if t == nil || t.nodes == nil {
		return nil, false
	}
	n, ok := t.nodes[key]
	if !ok || n.child == nil {
		return nil, false
	}
	return n.child, true
}

// ChildOrCreate returns the subtree at key, creating an empty one (and
// appending it to the insertion order) if it doesn't exist yet.
func (t *Tree) ChildOrCreate(key string) *Tree {
	t.ensure()
	if n, ok := t.nodes[key]; ok {
		if n.child == nil {
			n.child = New()
			n.leaf = nil
		}
		return n.child
	}
	sub := New()
	t.order = append(t.order, key)
	t.nodes[key] = &node{child: sub}
	return sub
}

// ChildOrCreateKey is ChildOrCreate keyed by an integer.
func (t *Tree) ChildOrCreateKey(key int64) *Tree {
	return t.ChildOrCreate(strconv.FormatInt(key, 10))
}

// Len returns the number of direct children (leaves + subtrees).
func (t *Tree) Len() int {
	if t == nil {
		return 0
	}
	return len(t.order)
}

// Range calls fn for every direct child in insertion order. fn receives
// the child's leaf (nil if it's a subtree) and its subtree (nil if it's
// a leaf). Iteration stops early if fn returns false.
func (t *Tree) Range(fn func(key string, leaf *Value, child *Tree) bool) {
	if t == nil {
		return
	}
	for _, k := range t.order {
		n := t.nodes[k]
		if !fn(k, n.leaf, n.child) {
			return
		}
	}
}

// RangeSorted is Range but visiting keys in lexicographic order.
func (t *Tree) RangeSorted(fn func(key string, leaf *Value, child *Tree) bool) {
	if t == nil {
		return
	}
	keys := make([]string, len(t.order))
	copy(keys, t.order)
	sort.Strings(keys)
	for _, k := range keys {
		n := t.nodes[k]
		if !fn(k, n.leaf, n.child) {
			return
		}
	}
}

// Keys returns the direct child keys in insertion order.
func (t *Tree) Keys() []string {
	if t == nil {
		return nil
	}
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Merge copies every child of src into t, recursively merging subtrees
// that exist in both and overwriting leaves. Keys present only in t are
// left untouched.
func (t *Tree) Merge(src *Tree) {
	if src == nil {
		return
	}
	src.Range(func(key string, leaf *Value, child *Tree) bool {
		if child != nil {
			dst, existed := t.Child(key)
			if !existed {
				dst = t.ChildOrCreate(key)
			}
			dst.Merge(child)
			return true
		}
		t.Set(key, *leaf)
		return true
	})
}

// Clone returns a deep copy of t.
func (t *Tree) Clone() *Tree {
	if t == nil {
		return nil
	}
	out := New()
	t.Range(func(key string, leaf *Value, child *Tree) bool {
		if child != nil {
			out.order = append(out.order, key)
			out.nodes[key] = &node{child: child.Clone()}
		} else {
			v := *leaf
			out.Set(key, v)
		}
		return true
	})
	return out
}
