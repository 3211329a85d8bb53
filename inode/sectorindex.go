package inode

// sectorIndexKind mirrors struct sector_index's discriminant.
type sectorIndexKind int

const (
	kindDirect sectorIndexKind = iota
	kindIndirect
	kindDoubleIndirect
	kindOutOfRange
)

// sectorIndex is a direct port of set_sector_index: given a byte position,
// it identifies which level of the pointer tree holds the sector for that
// position and the index (or pair of indices) into it. Out of scope for
// the open-question redesign in §9 (no bug is flagged here), so this is
// kept exactly as the original computes it.
type sectorIndex struct {
	kind sectorIndexKind
	idx1 int
	idx2 int
}

func sectorIndexFor(pos int64) sectorIndex {
	p := pos / SectorSize

	switch {
	case p < DirectCount:
		return sectorIndex{kind: kindDirect, idx1: int(p)}
	case p < DirectCount+PointersPerBlock:
		return sectorIndex{kind: kindIndirect, idx1: int(p - DirectCount)}
	case p < DirectCount+PointersPerBlock+DoubleIndirectCapacity:
		p -= DirectCount + PointersPerBlock
		return sectorIndex{kind: kindDoubleIndirect, idx1: int(p / PointersPerBlock), idx2: int(p % PointersPerBlock)}
	default:
		return sectorIndex{kind: kindOutOfRange}
	}
}

// MaxFileSize is the largest file length, in bytes, this pointer layout can
// address (the last addressable byte offset is MaxFileSize-1): direct +
// indirect + double-indirect sectors, each SectorSize bytes.
const MaxFileSize = int64(DirectCount+PointersPerBlock+DoubleIndirectCapacity) * SectorSize
