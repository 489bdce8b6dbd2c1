//go:build !linux

package storage

import "os"

func adviseSequential(f *os.File) error {
	return nil
}
