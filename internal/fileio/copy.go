// Package fileio implements the retrying, chunked, metadata-aware file
// I/O primitives every backend builds its copy on: open/read/write/close
// with bounded transient retry, idempotent recursive mkdir, CRC32
// hashing, and metadata capture/apply. Grounded on backend/local's
// Object.Update chunked-copy path and its platform metadata helpers,
// adapted from a single rclone Object into the plain source/dest path
// pairs ATL's FileEntry works with.
package fileio

import (
	"context"
	"io"
	"os"
)

// CopyResult reports what a Copy call actually moved, for the caller to
// fold into its FileEntry.
type CopyResult struct {
	BytesWritten int64
}

// Copy copies src to dst in bufSize chunks starting at resumeOffset
// bytes into both files (0 for a fresh copy). progress, if non-nil, is
// called after every chunk with the cumulative bytes written so the
// caller can update FileEntry.bytes_transferred incrementally — this is
// what lets WorkerPoolBackend and SyncBackend report progress without
// buffering the whole file.
//
// ctx is checked between chunks so a cancelled context stops the copy
// at a chunk boundary, matching the cooperative-cancellation contract
// in SPEC_FULL.md §9: no partial chunk is ever left half-written.
func Copy(ctx context.Context, src, dst string, bufSize int64, resumeOffset int64, progress func(written int64)) (CopyResult, error) {
	in, err := openRetrying(src, os.O_RDONLY, 0)
	if err != nil {
		return CopyResult{}, err
	}
	defer in.Close()

	if resumeOffset > 0 {
		if _, err := in.Seek(resumeOffset, io.SeekStart); err != nil {
			return CopyResult{}, err
		}
	}

	flags := os.O_WRONLY | os.O_CREATE
	if resumeOffset == 0 {
		flags |= os.O_TRUNC
	}
	out, err := openRetrying(dst, flags, 0o666)
	if err != nil {
		return CopyResult{}, err
	}
	defer func() {
		_ = closeRetrying(out)
	}()

	if resumeOffset > 0 {
		if _, err := out.Seek(resumeOffset, io.SeekStart); err != nil {
			return CopyResult{}, err
		}
	}

	buf := make([]byte, chunkSize(bufSize))
	written := resumeOffset
	for {
		select {
		case <-ctx.Done():
			return CopyResult{BytesWritten: written - resumeOffset}, ctx.Err()
		default:
		}

		n, rerr := readRetrying(in, buf)
		if n > 0 {
			wn, werr := writeRetrying(out, buf[:n])
			written += int64(wn)
			if progress != nil {
				progress(written)
			}
			if werr != nil {
				return CopyResult{BytesWritten: written - resumeOffset}, werr
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return CopyResult{BytesWritten: written - resumeOffset}, rerr
		}
	}

	if err := out.Sync(); err != nil {
		return CopyResult{BytesWritten: written - resumeOffset}, err
	}
	if err := closeRetrying(out); err != nil {
		return CopyResult{BytesWritten: written - resumeOffset}, err
	}
	return CopyResult{BytesWritten: written - resumeOffset}, nil
}

// CopyOneChunk copies exactly one bufSize-sized chunk of src starting at
// offset into dst at the same offset, fsyncing dst afterward. This is
// the primitive the DaemonCopier's main loop uses (SPEC_FULL.md §4.6
// step 6): it never reads past one chunk, so the caller controls
// throttling between calls.
func CopyOneChunk(src, dst *os.File, offset, bufSize, size int64) (n int64, err error) {
	want := bufSize
	if remaining := size - offset; remaining < want {
		want = remaining
	}
	if want <= 0 {
		return 0, nil
	}
	buf := make([]byte, want)
	if _, err := src.Seek(offset, io.SeekStart); err != nil {
		return 0, err
	}
	read, err := readRetrying(src, buf)
	if err != nil && err != io.EOF {
		return 0, err
	}
	if read == 0 {
		return 0, nil
	}
	if _, err := dst.Seek(offset, io.SeekStart); err != nil {
		return 0, err
	}
	written, err := writeRetrying(dst, buf[:read])
	if err != nil {
		return int64(written), err
	}
	if err := dst.Sync(); err != nil {
		return int64(written), err
	}
	return int64(written), nil
}
