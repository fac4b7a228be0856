package atl

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLibraryEndToEndSyncTransfer(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")
	require.NoError(t, os.WriteFile(src, []byte("facade round trip"), 0o644))

	ctx := context.Background()
	lib, err := Init(ctx, Options{})
	require.NoError(t, err)
	defer lib.Finalize(ctx)

	id, err := lib.Create(Sync, "alice", "")
	require.NoError(t, err)
	require.NoError(t, lib.Add(id, src, dst))
	require.NoError(t, lib.Dispatch(ctx, id))
	require.NoError(t, lib.Wait(ctx, id))

	outcome, err := lib.Test(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, CompleteOK, outcome)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "facade round trip", string(got))

	require.NoError(t, lib.Free(ctx, id))
}

func TestLibraryPersistsAndResumesAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")
	statePath := filepath.Join(dir, "state.db")
	require.NoError(t, os.WriteFile(src, []byte("resumed payload"), 0o644))

	ctx := context.Background()
	lib, err := Init(ctx, Options{DefaultStateFilePath: statePath})
	require.NoError(t, err)

	id, err := lib.Create(Sync, "bob", "")
	require.NoError(t, err)
	require.NoError(t, lib.Add(id, src, dst))
	require.NoError(t, lib.Dispatch(ctx, id))
	require.NoError(t, lib.Finalize(ctx))

	lib2, err := Init(ctx, Options{DefaultStateFilePath: statePath})
	require.NoError(t, err)
	defer lib2.Finalize(ctx)

	require.NoError(t, lib2.Resume(ctx, id))

	require.NoError(t, lib2.Wait(ctx, id))

	outcome, err := lib2.Test(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, CompleteOK, outcome)
}

func TestConfigOverridesCopyMetadata(t *testing.T) {
	ctx := context.Background()
	lib, err := Init(ctx, Options{})
	require.NoError(t, err)
	defer lib.Finalize(ctx)

	prev, err := lib.Config(map[string]string{"copy_metadata": "true"})
	require.NoError(t, err)
	assert.Equal(t, "false", prev["copy_metadata"])
	assert.True(t, lib.cfg.CopyMetadata)
}

func TestZeroFileHandleCompletesImmediately(t *testing.T) {
	ctx := context.Background()
	lib, err := Init(ctx, Options{})
	require.NoError(t, err)
	defer lib.Finalize(ctx)

	id, err := lib.Create(Sync, "carol", "")
	require.NoError(t, err)
	require.NoError(t, lib.Dispatch(ctx, id))

	outcome, err := lib.Test(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, CompleteOK, outcome)
}
