//go:build linux

package pcapwriter

import (
	"os"

	"golang.org/x/sys/unix"
)

// syncFileRange issues an advisory sync_file_range hint over the whole
// file, to smooth write-back on high-speed disks. Errors are ignored:
// it is a hint, not a correctness requirement.
func syncFileRange(f *os.File) {
	_ = unix.SyncFileRange(int(f.Fd()), 0, 0, unix.SYNC_FILE_RANGE_WRITE)
}
