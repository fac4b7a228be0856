package kvtree

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTreeSetGetOrder(t *testing.T) {
	tr := New()
	tr.Set("b", StringValue("second"))
	tr.Set("a", StringValue("first"))
	tr.Set("a", StringValue("first-updated"))

	v, ok := tr.Get("a")
	require.True(t, ok)
	assert.Equal(t, "first-updated", v.String)

	assert.Equal(t, []string{"b", "a"}, tr.Keys(), "re-setting a key keeps its original position")
}

func TestTreeRangeSorted(t *testing.T) {
	tr := New()
	tr.Set("zebra", IntValue(1))
	tr.Set("apple", IntValue(2))

	var sorted []string
	tr.RangeSorted(func(key string, leaf *Value, child *Tree) bool {
		sorted = append(sorted, key)
		return true
	})
	assert.Equal(t, []string{"apple", "zebra"}, sorted)
}

func TestTreeChildAndMerge(t *testing.T) {
	dst := New()
	files := dst.ChildOrCreate("FILES")
	files.Set("/a", StringValue("existing"))

	src := New()
	srcFiles := src.ChildOrCreate("FILES")
	srcFiles.Set("/b", StringValue("new"))
	src.Set("COMMAND", StringValue("RUN"))

	dst.Merge(src)

	dstFiles, ok := dst.Child("FILES")
	require.True(t, ok)
	_, hasA := dstFiles.Get("/a")
	_, hasB := dstFiles.Get("/b")
	assert.True(t, hasA)
	assert.True(t, hasB)

	cmd, ok := dst.Get("COMMAND")
	require.True(t, ok)
	assert.Equal(t, "RUN", cmd.String)
}

func TestTreePackUnpackRoundTrip(t *testing.T) {
	tr := New()
	tr.Set("SIZE", ByteCountValue(1 << 20))
	tr.Set("WRITTEN", ByteCountValue(0))
	sub := tr.ChildOrCreate("META")
	sub.Set("MODE", UintValue(0o644))
	sub.Set("CRC", CRC32Value(0xdeadbeef))

	packed, err := tr.Pack()
	require.NoError(t, err)

	out, err := Unpack(packed)
	require.NoError(t, err)

	size, ok := out.Get("SIZE")
	require.True(t, ok)
	assert.Equal(t, int64(1<<20), size.ByteCount)

	outSub, ok := out.Child("META")
	require.True(t, ok)
	crc, ok := outSub.Get("CRC")
	require.True(t, ok)
	assert.Equal(t, uint32(0xdeadbeef), crc.CRC32)
}

func TestLockedReadModifyWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.db")

	err := Locked(path, func(tr *Tree) error {
		tr.Set("COUNT", IntValue(1))
		return nil
	})
	require.NoError(t, err)

	err = Locked(path, func(tr *Tree) error {
		v, _ := tr.Get("COUNT")
		tr.Set("COUNT", IntValue(v.Int+1))
		return nil
	})
	require.NoError(t, err)

	tr, err := ReadOnly(path)
	require.NoError(t, err)
	v, ok := tr.Get("COUNT")
	require.True(t, ok)
	assert.Equal(t, int64(2), v.Int)
}
