//go:build linux

package disk

import (
	"os"
	"syscall"
)

// syncFile flushes document data without forcing a metadata write.
func syncFile(file *os.File) error {
	if file == nil {
		return nil
	}
	return syscall.Fdatasync(int(file.Fd()))
}
