//go:build linux

package blockdev

import (
	"os"

	"golang.org/x/sys/unix"
)

// blockDeviceSizeBytes asks the kernel for the size of a real block device
// via BLKGETSIZE64, mirroring the ioctl pattern in disk/disk_unix.go's
// ReReadPartitionTable. Returns ok=false for anything that is not an
// *os.File backed by an actual block special file, so the caller falls
// back to Stat().Size() for plain image files.
func (d *Device) blockDeviceSizeBytes() (int64, bool) {
	info, err := d.storage.Stat()
	if err != nil || info.Mode()&os.ModeDevice == 0 {
		return 0, false
	}
	osFile, err := d.storage.Sys()
	if err != nil {
		return 0, false
	}
	size, err := unix.IoctlGetUint64(int(osFile.Fd()), unix.BLKGETSIZE64)
	if err != nil {
		return 0, false
	}
	return int64(size), true
}
