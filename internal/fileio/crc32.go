package fileio

import (
	"hash/crc32"
	"io"
	"os"
)

// CRC32File hashes the full contents of path, reading in bufSize chunks
// through the retrying reader so a transient EINTR doesn't abort the
// whole hash.
func CRC32File(path string, bufSize int64) (uint32, error) {
	f, err := openRetrying(path, os.O_RDONLY, 0)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	h := crc32.NewIEEE()
	buf := make([]byte, chunkSize(bufSize))
	for {
		n, err := readRetrying(f, buf)
		if n > 0 {
			if _, werr := h.Write(buf[:n]); werr != nil {
				return 0, werr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
	}
	return h.Sum32(), nil
}
