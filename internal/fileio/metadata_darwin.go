//go:build darwin

package fileio

import (
	"time"

	"golang.org/x/sys/unix"
)

// statExtra is the darwin counterpart of metadata_linux.go: the BSD
// Stat_t spells the access/change timestamps Atimespec/Ctimespec instead
// of Atim/Ctim, matching backend/local's metadata_bsd.go split.
func statExtra(path string, m *Metadata) {
	var stat unix.Stat_t
	if err := unix.Lstat(path, &stat); err != nil {
		return
	}
	m.UID = int(stat.Uid)
	m.GID = int(stat.Gid)
	m.Atime = time.Unix(stat.Atimespec.Sec, stat.Atimespec.Nsec)
	m.Ctime = time.Unix(stat.Ctimespec.Sec, stat.Ctimespec.Nsec)
}
