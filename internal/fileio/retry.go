package fileio

import (
	"errors"
	"os"
	"syscall"
	"time"
)

// maxTransientRetries bounds how many times a single read/write/open is
// retried after a transient (EINTR/EAGAIN) failure before it's treated
// as permanent, per SPEC_FULL.md §7.
const maxTransientRetries = 5

const transientBackoff = 10 * time.Millisecond

func isTransient(err error) bool {
	return errors.Is(err, syscall.EINTR) || errors.Is(err, syscall.EAGAIN)
}

func openRetrying(path string, flag int, perm os.FileMode) (*os.File, error) {
	var lastErr error
	for attempt := 0; attempt < maxTransientRetries; attempt++ {
		f, err := os.OpenFile(path, flag, perm)
		if err == nil {
			return f, nil
		}
		if !isTransient(err) {
			return nil, err
		}
		lastErr = err
		time.Sleep(transientBackoff)
	}
	return nil, lastErr
}

func readRetrying(f *os.File, buf []byte) (int, error) {
	for attempt := 0; attempt < maxTransientRetries; attempt++ {
		n, err := f.Read(buf)
		if err == nil || !isTransient(err) {
			return n, err
		}
		time.Sleep(transientBackoff)
	}
	return 0, syscall.EAGAIN
}

func writeRetrying(f *os.File, buf []byte) (int, error) {
	written := 0
	retries := 0
	for written < len(buf) {
		n, err := f.Write(buf[written:])
		written += n
		if err == nil {
			continue
		}
		if !isTransient(err) {
			return written, err
		}
		retries++
		if retries >= maxTransientRetries {
			return written, err
		}
		time.Sleep(transientBackoff)
	}
	return written, nil
}

func closeRetrying(f *os.File) error {
	var lastErr error
	for attempt := 0; attempt < maxTransientRetries; attempt++ {
		err := f.Close()
		if err == nil || !isTransient(err) {
			return err
		}
		lastErr = err
		time.Sleep(transientBackoff)
	}
	return lastErr
}

func chunkSize(requested int64) int64 {
	if requested <= 0 {
		return 1 << 20
	}
	return requested
}
