package syncbackend

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecp-veloc/atl/internal/backend"
	"github.com/ecp-veloc/atl/internal/config"
	"github.com/ecp-veloc/atl/internal/model"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.FileBufSize = 64
	return cfg
}

func TestStartCopiesAllFilesSynchronously(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "out", "dst.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello sync backend"), 0o644))

	b := New(testConfig(), nil)
	h := model.NewHandle(1, model.Sync, "alice", "")
	h.AddFile(src, dst)

	require.NoError(t, b.Start(context.Background(), h))

	outcome, err := b.Test(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, model.AtDestination, h.Entries[src].State)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "hello sync backend", string(got))
	assert.Equal(t, int64(len("hello sync backend")), h.Entries[src].BytesTransferred)
	_ = outcome
}

func TestStartRecordsErrorForMissingSource(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "missing.txt")
	dst := filepath.Join(dir, "dst.txt")

	b := New(testConfig(), nil)
	h := model.NewHandle(2, model.Sync, "bob", "")
	h.AddFile(src, dst)

	require.NoError(t, b.Start(context.Background(), h))

	outcome, err := b.Test(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, model.FileError, h.Entries[src].State)
	assert.NotEmpty(t, h.Entries[src].ErrorMessage)
	_ = outcome
}

func TestResumeUnsupported(t *testing.T) {
	b := New(testConfig(), nil)
	h := model.NewHandle(3, model.Sync, "carol", "")
	err := b.Resume(context.Background(), h)
	assert.ErrorIs(t, err, backend.ErrResumeUnsupported)
}
