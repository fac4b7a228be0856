package vendorshim

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecp-veloc/atl/internal/backend"
	"github.com/ecp-veloc/atl/internal/model"
	"github.com/ecp-veloc/atl/internal/vendor"
)

func TestStartWaitCompletesHandle(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "dst.bin")
	require.NoError(t, os.WriteFile(src, []byte("shim payload"), 0o644))

	sim := vendor.NewSimulator("vendora", 4)
	b := New(sim)

	h := model.NewHandle(1, model.VendorA, "alice", "")
	h.AddFile(src, dst)
	h.Entries[src].Size = int64(len("shim payload"))

	require.NoError(t, b.Start(context.Background(), h))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, b.Wait(ctx, h))

	outcome, err := b.Test(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, backend.CompletedSuccess, outcome)
	assert.Equal(t, model.AtDestination, h.Entries[src].State)

	require.NoError(t, b.Free(context.Background(), h))
	_, ok := b.def(h.ID)
	assert.False(t, ok)
}

func TestTestMapsFailedToCompletedError(t *testing.T) {
	dir := t.TempDir()
	sim := vendor.NewSimulator("vendorb", 4)
	b := New(sim)

	h := model.NewHandle(2, model.VendorB, "bob", "")
	h.AddFile(filepath.Join(dir, "missing"), filepath.Join(dir, "dst"))
	h.Entries[filepath.Join(dir, "missing")].Size = 10

	require.NoError(t, b.Start(context.Background(), h))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, b.Wait(ctx, h))

	outcome, err := b.Test(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, backend.CompletedError, outcome)
}

func TestTestMapsNotFoundToCompletedErrorWithNilErr(t *testing.T) {
	sim := vendor.NewSimulator("vendora", 4)
	b := New(sim)

	h := model.NewHandle(4, model.VendorA, "dave", "")
	h.AddFile("/src/a", "/dst/a")

	require.NoError(t, b.Start(context.Background(), h))
	defID, ok := b.def(h.ID)
	require.True(t, ok)
	require.NoError(t, sim.Delete(defID))

	outcome, err := b.Test(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, backend.CompletedError, outcome)
}

func TestCancelTreatsNotFoundAsSuccess(t *testing.T) {
	sim := vendor.NewSimulator("vendorb", 4)
	b := New(sim)

	h := model.NewHandle(5, model.VendorB, "erin", "")
	h.AddFile("/src/a", "/dst/a")

	require.NoError(t, b.Start(context.Background(), h))
	defID, ok := b.def(h.ID)
	require.True(t, ok)
	require.NoError(t, sim.Delete(defID))

	assert.NoError(t, b.Cancel(context.Background(), h))
}

func TestResumeUnsupported(t *testing.T) {
	b := New(vendor.NewSimulator("vendorc", 4))
	h := model.NewHandle(3, model.VendorC, "carol", "")
	err := b.Resume(context.Background(), h)
	assert.ErrorIs(t, err, backend.ErrResumeUnsupported)
}
