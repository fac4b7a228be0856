//go:build !linux && !darwin

package fileio

// statExtra is the fallback for platforms without a unix.Stat_t this
// package knows how to read (e.g. windows, plan9): UID/GID/Atime/Ctime
// stay zero, matching the "apply what is available" policy.
func statExtra(path string, m *Metadata) {}
