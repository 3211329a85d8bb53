// Package blockdev adapts a byte-addressable backend.Storage into the
// fixed-size sector read/write/sector-count contract that spec.md treats
// as an external collaborator (the block device driver). It does no
// buffering of its own; every call is a single raw I/O against the
// backing storage.
package blockdev

import (
	"errors"
	"fmt"
	"io"

	"github.com/blockfs/blockfs/backend"
)

// DefaultSectorSize matches spec.md §3's "typically 512".
const DefaultSectorSize = 512

// ErrShortIO is returned when a sector write does not cover the whole
// sector, which would otherwise silently corrupt the device.
var ErrShortIO = errors.New("blockdev: short sector read or write")

// Device is a fixed-size-sector view over a backend.Storage.
type Device struct {
	storage    backend.Storage
	sectorSize int
}

// New wraps storage as a sector-addressable device. sectorSize defaults to
// DefaultSectorSize if zero or negative.
func New(storage backend.Storage, sectorSize int) *Device {
	if sectorSize <= 0 {
		sectorSize = DefaultSectorSize
	}
	return &Device{storage: storage, sectorSize: sectorSize}
}

// SectorSize returns the fixed sector size this device was built with.
func (d *Device) SectorSize() int {
	return d.sectorSize
}

// SectorCount returns the number of whole sectors the backing storage has
// room for. On Linux, when the backing storage is a real block device,
// this asks the kernel directly (BLKGETSIZE64) rather than trusting
// Stat().Size(), which for a block special file is usually zero.
func (d *Device) SectorCount() (uint32, error) {
	size, err := d.sizeBytes()
	if err != nil {
		return 0, err
	}
	return uint32(size / int64(d.sectorSize)), nil
}

func (d *Device) sizeBytes() (int64, error) {
	if n, ok := d.blockDeviceSizeBytes(); ok {
		return n, nil
	}
	info, err := d.storage.Stat()
	if err != nil {
		return 0, fmt.Errorf("blockdev: stat backing storage: %w", err)
	}
	return info.Size(), nil
}

// ReadSector reads exactly one sector's worth of bytes into buf, which
// must be exactly SectorSize() long. Reading past a sparse image file's
// current extent zero-fills the remainder, matching how a freshly
// truncated backing file behaves before anything has ever been written
// to the tail sectors.
func (d *Device) ReadSector(sector uint32, buf []byte) error {
	if len(buf) != d.sectorSize {
		return fmt.Errorf("blockdev: read buffer length %d != sector size %d", len(buf), d.sectorSize)
	}
	n, err := d.storage.ReadAt(buf, int64(sector)*int64(d.sectorSize))
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("blockdev: read sector %d: %w", sector, err)
	}
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return nil
}

// WriteSector writes exactly one sector's worth of bytes from buf, which
// must be exactly SectorSize() long.
func (d *Device) WriteSector(sector uint32, buf []byte) error {
	if len(buf) != d.sectorSize {
		return fmt.Errorf("blockdev: write buffer length %d != sector size %d", len(buf), d.sectorSize)
	}
	w, err := d.storage.Writable()
	if err != nil {
		return fmt.Errorf("blockdev: storage not writable: %w", err)
	}
	n, err := w.WriteAt(buf, int64(sector)*int64(d.sectorSize))
	if err != nil {
		return fmt.Errorf("blockdev: write sector %d: %w", sector, err)
	}
	if n != d.sectorSize {
		return fmt.Errorf("%w: wrote %d of %d bytes for sector %d", ErrShortIO, n, d.sectorSize, sector)
	}
	return nil
}

// ReadFullSector is an alias for ReadSector, named to satisfy
// freemap.SectorIO directly: tests and tools that want the free-map on a
// raw device with no cache in front of it can hand *Device straight to
// freemap.Create/Open.
func (d *Device) ReadFullSector(sector uint32, buf []byte) error {
	return d.ReadSector(sector, buf)
}

// WriteFullSector is the write counterpart of ReadFullSector.
func (d *Device) WriteFullSector(sector uint32, buf []byte) error {
	return d.WriteSector(sector, buf)
}
