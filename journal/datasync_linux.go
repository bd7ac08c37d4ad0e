package journal

import (
	"os"
	"syscall"
)

// fdatasync skips the metadata flush that f.Sync does. Errors are not
// recoverable: the page cache may already consider the data clean.
func fdatasync(f *os.File) error {
	return syscall.Fdatasync(int(f.Fd()))
}
