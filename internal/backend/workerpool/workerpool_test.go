package workerpool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

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

func TestPoolSizeClampsToWorkersAndFileCount(t *testing.T) {
	assert.Equal(t, 1, poolSize(0))
	assert.Equal(t, 1, poolSize(1))
	if numCPU() > 1 {
		assert.Equal(t, 2, poolSize(2))
	}
	assert.LessOrEqual(t, poolSize(1000), MaxWorkers)
}

func TestStartWaitCopiesAllFiles(t *testing.T) {
	dir := t.TempDir()
	b := New(testConfig(), nil)
	h := model.NewHandle(1, model.WorkerPool, "alice", "")

	const n = 8
	for i := 0; i < n; i++ {
		src := filepath.Join(dir, fmt.Sprintf("src%d.txt", i))
		dst := filepath.Join(dir, "out", fmt.Sprintf("dst%d.txt", i))
		require.NoError(t, os.WriteFile(src, []byte(fmt.Sprintf("payload-%d", i)), 0o644))
		h.AddFile(src, dst)
	}

	require.NoError(t, b.Start(context.Background(), h))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Wait(ctx, h))

	outcome, err := b.Test(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, backend.CompletedSuccess, outcome)
	assert.True(t, h.AllAtDestination())

	require.NoError(t, b.Free(context.Background(), h))
	_, ok := b.job(h.ID)
	assert.False(t, ok)
}

func TestCancelWithQueuedFilesDoesNotHang(t *testing.T) {
	dir := t.TempDir()
	b := New(testConfig(), nil)
	h := model.NewHandle(2, model.WorkerPool, "bob", "")

	for i := 0; i < 4; i++ {
		src := filepath.Join(dir, fmt.Sprintf("src%d.txt", i))
		dst := filepath.Join(dir, fmt.Sprintf("dst%d.txt", i))
		require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))
		h.AddFile(src, dst)
	}

	require.NoError(t, b.Start(context.Background(), h))
	require.NoError(t, b.Cancel(context.Background(), h))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Wait(ctx, h))
	// cancellation is cooperative: some files may still complete before
	// workers observe the flag, but the job must not hang.
}

func TestCancelInterruptsInFlightCopyPromptly(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.FileBufSize = 4 // force many chunk boundaries so Cancel lands mid-copy
	b := New(cfg, nil)
	h := model.NewHandle(3, model.WorkerPool, "carol", "")

	src := filepath.Join(dir, "big.bin")
	dst := filepath.Join(dir, "big_out.bin")
	payload := make([]byte, 4<<20) // 4 MiB, ~1M chunks at bufSize 4
	require.NoError(t, os.WriteFile(src, payload, 0o644))
	h.AddFile(src, dst)

	require.NoError(t, b.Start(context.Background(), h))
	require.NoError(t, b.Cancel(context.Background(), h))

	waitDone := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		waitDone <- b.Wait(ctx, h)
	}()

	select {
	case err := <-waitDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return promptly after Cancel on an in-flight copy")
	}
}
