package fileio

import (
	"os"
	"path/filepath"
)

// MkdirAll idempotently creates dir and all missing parents, mirroring
// os.MkdirAll but returning nil (rather than an error) when dir already
// exists as a directory — the exact "create parent directories
// idempotently" behavior Dispatch needs (SPEC_FULL.md §4.2).
func MkdirAll(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	fi, err := os.Stat(dir)
	if err == nil {
		if fi.IsDir() {
			return nil
		}
		return &os.PathError{Op: "mkdir", Path: dir, Err: os.ErrExist}
	}
	return os.MkdirAll(filepath.Clean(dir), 0o777)
}

// MkdirAllForFile creates the parent directory of destPath.
func MkdirAllForFile(destPath string) error {
	return MkdirAll(filepath.Dir(destPath))
}
