//go:build unix

package docstore

import (
	"fmt"
	"syscall"
)

// CheckFreeSpace reports whether the output filesystem has at least the
// configured minimum of free space, and how many bytes are free.
func (s *Store) CheckFreeSpace() (ok bool, freeBytes uint64, err error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(s.outputDir, &stat); err != nil {
		return false, 0, fmt.Errorf("docstore: statfs %s: %w", s.outputDir, err)
	}
	free := stat.Bavail * uint64(stat.Bsize)
	return free >= s.minFreeBytes, free, nil
}
