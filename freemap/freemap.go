// Package freemap is the concrete facade behind spec.md §6's free-map
// collaborator: "create/open/close the free-map, allocate(n), release(sector, n)".
// It is out of scope for redesign per §1, but something has to actually back
// sector allocation for inode/cache to run against, so this is a direct,
// minimal bitmap-over-sectors implementation built on the teacher's
// util/bitmap package.
package freemap

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/blockfs/blockfs/util/bitmap"
)

var log = logrus.WithField("component", "freemap")

// ErrOutOfSpace is returned when Allocate cannot find enough free sectors.
var ErrOutOfSpace = errors.New("freemap: out of space")

const magic = uint32(0xB10C4A57)

// SectorIO is the subset of cache.Cache this package needs: sector reads
// and writes that go through the buffer cache like every other sector
// access in the system (spec.md §2's data-flow invariant applies to the
// free-map's own sectors too).
type SectorIO interface {
	ReadFullSector(sector uint32, buf []byte) error
	WriteFullSector(sector uint32, buf []byte) error
	SectorSize() int
}

// header is the on-disk layout of sector 0: magic, volume id, and the
// number of bits the bitmap actually tracks (total sector count).
type header struct {
	Magic    uint32
	VolumeID [16]byte
	NumBits  uint32
}

const headerEncodedSize = 4 + 16 + 4

// Freemap tracks which sectors of the device are in use via a bitmap
// persisted just after its header sector.
type Freemap struct {
	io            SectorIO
	bm            *bitmap.Bitmap
	volumeID      uuid.UUID
	numBits       int
	bitmapSectors int
	sectorSize    int
}

// headerSector is always sector 0; the bitmap occupies the sectors right
// after it, and ordinary data starts at DataStartSector().
const headerSector = 0

// bitmapSectorsFor returns how many whole sectors are needed to store a
// bitmap covering numBits bits.
func bitmapSectorsFor(numBits, sectorSize int) int {
	nBytes := (numBits + 7) / 8
	if nBytes == 0 {
		return 0
	}
	return (nBytes + sectorSize - 1) / sectorSize
}

// DataStartSector returns the first sector number available for file data,
// given a total device sector count and sector size: one header sector
// plus however many sectors the bitmap itself needs.
func DataStartSector(totalSectors uint32, sectorSize int) uint32 {
	n := bitmapSectorsFor(int(totalSectors), sectorSize)
	return 1 + uint32(n)
}

// Create formats a fresh free-map covering totalSectors sectors, marking
// the header sector, the bitmap's own sectors, and the data-start sector
// (the root directory, per filesystem.Init) as in-use.
func Create(io SectorIO, totalSectors uint32) (*Freemap, error) {
	sectorSize := io.SectorSize()
	numBits := int(totalSectors)
	bmSectors := bitmapSectorsFor(numBits, sectorSize)

	fm := &Freemap{
		io:            io,
		bm:            bitmap.NewBits(numBits),
		volumeID:      uuid.New(),
		numBits:       numBits,
		bitmapSectors: bmSectors,
		sectorSize:    sectorSize,
	}

	// Reserve header sector, bitmap sectors, and the root directory sector.
	reserved := 1 + bmSectors + 1
	for i := 0; i < reserved && i < numBits; i++ {
		if err := fm.bm.Set(i); err != nil {
			return nil, fmt.Errorf("freemap: reserve sector %d: %w", i, err)
		}
	}

	if err := fm.flushHeader(); err != nil {
		return nil, err
	}
	if err := fm.flushBitmap(); err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{"total_sectors": totalSectors, "bitmap_sectors": bmSectors}).Info("formatted free-map")
	return fm, nil
}

// Open loads an existing free-map from sector 0 onward.
func Open(io SectorIO, totalSectors uint32) (*Freemap, error) {
	sectorSize := io.SectorSize()
	buf := make([]byte, sectorSize)
	if err := io.ReadFullSector(headerSector, buf); err != nil {
		return nil, fmt.Errorf("freemap: read header: %w", err)
	}
	hdr, err := decodeHeader(buf)
	if err != nil {
		return nil, err
	}
	if hdr.Magic != magic {
		return nil, fmt.Errorf("freemap: bad magic %#x", hdr.Magic)
	}

	numBits := int(hdr.NumBits)
	bmSectors := bitmapSectorsFor(numBits, sectorSize)
	raw := make([]byte, 0, bmSectors*sectorSize)
	sectorBuf := make([]byte, sectorSize)
	for i := 0; i < bmSectors; i++ {
		if err := io.ReadFullSector(uint32(1+i), sectorBuf); err != nil {
			return nil, fmt.Errorf("freemap: read bitmap sector %d: %w", i, err)
		}
		raw = append(raw, sectorBuf...)
	}

	fm := &Freemap{
		io:            io,
		bm:            bitmap.FromBytes(raw[:(numBits+7)/8]),
		volumeID:      uuid.UUID(hdr.VolumeID),
		numBits:       numBits,
		bitmapSectors: bmSectors,
		sectorSize:    sectorSize,
	}
	_ = totalSectors
	return fm, nil
}

// Close flushes any in-memory bitmap state. In this implementation every
// Allocate/Release already writes through, so Close is a best-effort
// final flush for symmetry with cache.Shutdown.
func (fm *Freemap) Close() error {
	return fm.flushBitmap()
}

// VolumeID returns the free-map's persisted volume identifier.
func (fm *Freemap) VolumeID() uuid.UUID {
	return fm.volumeID
}

// FreeCount returns the number of currently-unallocated sectors, by
// summing the bitmap's free runs. Tests use it to confirm Release (via
// inode.Engine.Close on a removed inode) actually gives every sector
// back instead of leaking some.
func (fm *Freemap) FreeCount() int {
	total := 0
	for _, c := range fm.bm.FreeList() {
		total += c.Count
	}
	return total
}

// Allocate finds n free sectors. It prefers a single contiguous run (so
// callers that want a contiguous extent get one when available) and falls
// back to n individually-free sectors otherwise, since spec.md's inode
// engine only ever allocates one sector at a time in practice.
func (fm *Freemap) Allocate(n int) ([]uint32, error) {
	if n <= 0 {
		return nil, fmt.Errorf("freemap: invalid allocation size %d", n)
	}

	if run := fm.findContiguousRun(n); run >= 0 {
		sectors := make([]uint32, n)
		for i := 0; i < n; i++ {
			if err := fm.bm.Set(run + i); err != nil {
				return nil, fmt.Errorf("freemap: set sector %d: %w", run+i, err)
			}
			sectors[i] = uint32(run + i)
		}
		if err := fm.flushBitmap(); err != nil {
			return nil, err
		}
		return sectors, nil
	}

	sectors := make([]uint32, 0, n)
	cursor := 0
	for len(sectors) < n {
		loc := fm.bm.FirstFree(cursor)
		if loc < 0 || loc >= fm.numBits {
			// roll back what we grabbed this call
			for _, s := range sectors {
				_ = fm.bm.Clear(int(s))
			}
			log.WithField("requested", n).Warn("free-map exhausted")
			return nil, ErrOutOfSpace
		}
		if err := fm.bm.Set(loc); err != nil {
			return nil, fmt.Errorf("freemap: set sector %d: %w", loc, err)
		}
		sectors = append(sectors, uint32(loc))
		cursor = loc + 1
	}
	if err := fm.flushBitmap(); err != nil {
		return nil, err
	}
	return sectors, nil
}

// findContiguousRun returns the starting bit of a free run of length n, or
// -1 if none exists.
func (fm *Freemap) findContiguousRun(n int) int {
	for _, c := range fm.bm.FreeList() {
		if c.Count >= n {
			return c.Position
		}
	}
	return -1
}

// Release marks n sectors starting at sector as free again.
func (fm *Freemap) Release(sector uint32, n int) error {
	for i := 0; i < n; i++ {
		if err := fm.bm.Clear(int(sector) + i); err != nil {
			return fmt.Errorf("freemap: clear sector %d: %w", sector+uint32(i), err)
		}
	}
	return fm.flushBitmap()
}

func (fm *Freemap) flushHeader() error {
	buf := make([]byte, fm.sectorSize)
	hdr := header{Magic: magic, NumBits: uint32(fm.numBits)}
	copy(hdr.VolumeID[:], fm.volumeID[:])
	encodeHeader(buf, hdr)
	return fm.io.WriteFullSector(headerSector, buf)
}

func (fm *Freemap) flushBitmap() error {
	raw := fm.bm.ToBytes()
	sectorBuf := make([]byte, fm.sectorSize)
	for i := 0; i < fm.bitmapSectors; i++ {
		for j := range sectorBuf {
			sectorBuf[j] = 0
		}
		start := i * fm.sectorSize
		end := start + fm.sectorSize
		if start < len(raw) {
			if end > len(raw) {
				end = len(raw)
			}
			copy(sectorBuf, raw[start:end])
		}
		if err := fm.io.WriteFullSector(uint32(1+i), sectorBuf); err != nil {
			return fmt.Errorf("freemap: write bitmap sector %d: %w", i, err)
		}
	}
	return nil
}

func encodeHeader(buf []byte, h header) {
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	copy(buf[4:20], h.VolumeID[:])
	binary.LittleEndian.PutUint32(buf[20:24], h.NumBits)
}

func decodeHeader(buf []byte) (header, error) {
	if len(buf) < headerEncodedSize {
		return header{}, fmt.Errorf("freemap: header sector too short (%d bytes)", len(buf))
	}
	var h header
	h.Magic = binary.LittleEndian.Uint32(buf[0:4])
	copy(h.VolumeID[:], buf[4:20])
	h.NumBits = binary.LittleEndian.Uint32(buf[20:24])
	return h, nil
}
