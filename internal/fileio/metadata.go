package fileio

import (
	"os"
	"time"
)

// Metadata is the captured subset of a source file's attributes ATL
// knows how to carry to the destination: mode, ownership, and the three
// POSIX timestamps. Fields are captured best-effort — a platform that
// can't report atime/ctime (or this process lacks permission to chown)
// leaves the corresponding field zero rather than failing the whole
// capture, per SPEC_FULL.md §9's "apply what is available" note.
type Metadata struct {
	Mode  os.FileMode
	UID   int
	GID   int
	Size  int64
	Atime time.Time
	Mtime time.Time
	Ctime time.Time
}

// Capture reads path's metadata for later Apply to a destination. It
// always succeeds for Mode/Size/Mtime (available from os.Stat on every
// platform); UID/GID/Atime/Ctime come from the platform-specific
// statExtra helper and are left zero where unsupported.
func Capture(path string) (*Metadata, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		return nil, err
	}
	m := &Metadata{
		Mode:  fi.Mode(),
		Size:  fi.Size(),
		Mtime: fi.ModTime(),
	}
	statExtra(path, m)
	return m, nil
}

// Apply re-applies captured metadata to an already-written destination
// file. Failures are returned as warning strings, never as an error, so
// metadata apply never fails a transfer on its own. The Sync and
// WorkerPool backends discard the returned warnings; they are not
// recorded on the FileEntry.
func Apply(path string, m *Metadata) (warnings []string) {
	if m == nil {
		return nil
	}
	if err := os.Chmod(path, m.Mode.Perm()); err != nil {
		warnings = append(warnings, "chmod: "+err.Error())
	}
	if m.UID != 0 || m.GID != 0 {
		if err := os.Chown(path, m.UID, m.GID); err != nil {
			warnings = append(warnings, "chown: "+err.Error())
		}
	}
	atime := m.Atime
	if atime.IsZero() {
		atime = m.Mtime
	}
	if !m.Mtime.IsZero() {
		if err := os.Chtimes(path, atime, m.Mtime); err != nil {
			warnings = append(warnings, "chtimes: "+err.Error())
		}
	}
	return warnings
}
