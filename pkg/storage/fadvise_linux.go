//go:build linux

package storage

import (
	"os"

	"golang.org/x/sys/unix"
)

// Containers are indexed front to back, so ask the kernel for aggressive
// readahead.
func adviseSequential(f *os.File) error {
	return unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_SEQUENTIAL)
}
