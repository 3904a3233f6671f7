//go:build !windows

package validation

import "syscall"

// freeSpace returns total and caller-available bytes on the filesystem
// holding path.
func freeSpace(path string) (total, free uint64, err error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, 0, err
	}
	return st.Blocks * uint64(st.Bsize), st.Bavail * uint64(st.Bsize), nil
}
