package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultThenEnvThenExplicitPrecedence(t *testing.T) {
	cfg := Default()
	assert.Equal(t, int64(1<<20), cfg.FileBufSize)

	t.Setenv("AXL_FILE_BUF_SIZE", "4096")
	require.NoError(t, cfg.ApplyEnv())
	assert.Equal(t, int64(4096), cfg.FileBufSize)

	prev, err := cfg.Set(map[string]string{"file_buf_size": "8192"})
	require.NoError(t, err)
	assert.Equal(t, "4096", prev["file_buf_size"])
	assert.Equal(t, int64(8192), cfg.FileBufSize)
}

func TestSetUnknownOptionRejected(t *testing.T) {
	cfg := Default()
	_, err := cfg.Set(map[string]string{"bogus": "1"})
	assert.Error(t, err)
	assert.Equal(t, int64(1<<20), cfg.FileBufSize, "no partial mutation on rejection")
}

func TestLoadFileMissingIsNoOp(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.LoadFile("/nonexistent/path/atl.yaml"))
	assert.Equal(t, int64(1<<20), cfg.FileBufSize)
}
