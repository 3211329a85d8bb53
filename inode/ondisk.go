package inode

import "encoding/binary"

// NoSector is the sentinel for "no sector allocated here yet" (SECTOR_MAGIC
// in the original, 0xffffffff).
const NoSector = uint32(0xFFFFFFFF)

const inodeMagic = uint32(0x494e4f44)

// DirectCount, IndirectCount, DoubleIndirectCapacity match spec.md §3's
// layout: 123 direct pointers, one indirect block of 128 pointers, one
// double-indirect block pointing at 128 indirect blocks of 128 pointers
// each.
const (
	DirectCount            = 123
	PointersPerBlock       = 128
	DoubleIndirectCapacity = PointersPerBlock * PointersPerBlock
)

// OnDiskSize is the encoded size of OnDisk; it must equal the device
// sector size (spec.md §3: "the inode's own metadata occupies exactly one
// sector").
const OnDiskSize = 4 + 4 + 4 + DirectCount*4 + 4 + 4

// OnDisk is the on-disk inode layout (struct inode_disk): length, a magic
// stamp, the isdir flag, 123 direct block pointers, one indirect pointer,
// and one double-indirect pointer.
type OnDisk struct {
	Length         uint32
	Magic          uint32
	IsDir          bool
	Direct         [DirectCount]uint32
	Indirect       uint32
	DoubleIndirect uint32
}

// NewOnDisk builds a fresh, zero-length inode with every pointer set to
// NoSector (init_sector_indirect applied to the direct table too, since a
// freshly calloc'd inode_disk in the original already reads as all-zero
// bytes for table_direct — but zero is sector 0, a real sector, so this
// port makes every slot explicitly NoSector instead of relying on a
// zero value that would collide with a real sector number).
func NewOnDisk(isDir bool) *OnDisk {
	od := &OnDisk{Magic: inodeMagic, IsDir: isDir, Indirect: NoSector, DoubleIndirect: NoSector}
	for i := range od.Direct {
		od.Direct[i] = NoSector
	}
	return od
}

// Encode writes od into buf, which must be at least OnDiskSize bytes.
func (od *OnDisk) Encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], od.Length)
	binary.LittleEndian.PutUint32(buf[4:8], od.Magic)
	isDir := uint32(0)
	if od.IsDir {
		isDir = 1
	}
	binary.LittleEndian.PutUint32(buf[8:12], isDir)
	off := 12
	for _, d := range od.Direct {
		binary.LittleEndian.PutUint32(buf[off:off+4], d)
		off += 4
	}
	binary.LittleEndian.PutUint32(buf[off:off+4], od.Indirect)
	binary.LittleEndian.PutUint32(buf[off+4:off+8], od.DoubleIndirect)
}

// DecodeOnDisk parses an OnDisk from buf, which must be at least
// OnDiskSize bytes.
func DecodeOnDisk(buf []byte) (*OnDisk, error) {
	if len(buf) < OnDiskSize {
		return nil, ErrCorruptInode
	}
	od := &OnDisk{}
	od.Length = binary.LittleEndian.Uint32(buf[0:4])
	od.Magic = binary.LittleEndian.Uint32(buf[4:8])
	od.IsDir = binary.LittleEndian.Uint32(buf[8:12]) != 0
	off := 12
	for i := range od.Direct {
		od.Direct[i] = binary.LittleEndian.Uint32(buf[off : off+4])
		off += 4
	}
	od.Indirect = binary.LittleEndian.Uint32(buf[off : off+4])
	od.DoubleIndirect = binary.LittleEndian.Uint32(buf[off+4 : off+8])
	if od.Magic != inodeMagic {
		return nil, ErrCorruptInode
	}
	return od, nil
}

// indirectBlock is struct indirect_inode: a flat table of PointersPerBlock
// sector numbers.
type indirectBlock struct {
	Table [PointersPerBlock]uint32
}

func newIndirectBlock() *indirectBlock {
	b := &indirectBlock{}
	for i := range b.Table {
		b.Table[i] = NoSector
	}
	return b
}

func (b *indirectBlock) encode(buf []byte) {
	off := 0
	for _, v := range b.Table {
		binary.LittleEndian.PutUint32(buf[off:off+4], v)
		off += 4
	}
}

func decodeIndirectBlock(buf []byte) *indirectBlock {
	b := &indirectBlock{}
	off := 0
	for i := range b.Table {
		b.Table[i] = binary.LittleEndian.Uint32(buf[off : off+4])
		off += 4
	}
	return b
}
