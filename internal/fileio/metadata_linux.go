//go:build linux

package fileio

import (
	"time"

	"golang.org/x/sys/unix"
)

// statExtra fills in UID/GID/Atime/Ctime via a direct unix.Lstat call,
// grounded on backend/local's metadata_linux.go use of
// golang.org/x/sys/unix for the fields os.FileInfo doesn't expose.
func statExtra(path string, m *Metadata) {
	var stat unix.Stat_t
	if err := unix.Lstat(path, &stat); err != nil {
		return
	}
	m.UID = int(stat.Uid)
	m.GID = int(stat.Gid)
	m.Atime = time.Unix(stat.Atim.Sec, stat.Atim.Nsec)
	m.Ctime = time.Unix(stat.Ctim.Sec, stat.Ctim.Nsec)
}
