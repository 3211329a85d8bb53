package inode

import "errors"

// SectorSize is the fixed sector size this package's pointer-tree math
// assumes, matching blockdev.DefaultSectorSize (spec.md §3: "typically
// 512"). NewEngine does not check the store's sector size; a store over a
// device with a different sector size is not supported.
const SectorSize = 512

var (
	// ErrCorruptInode is returned when an on-disk inode's magic value
	// doesn't match, or a sector is too short to hold one.
	ErrCorruptInode = errors.New("inode: corrupt on-disk inode")

	// ErrFileTooLarge is returned when a write would grow a file past
	// MaxFileSize, the largest file length the direct/indirect/double-indirect
	// pointer layout can address.
	ErrFileTooLarge = errors.New("inode: file too large for pointer layout")

	// ErrWriteDenied is returned by WriteAt when the inode has an active
	// deny-write hold (inode_deny_write in the original).
	ErrWriteDenied = errors.New("inode: writes denied on this inode")

	// ErrNoSuchInode is returned by Open when asked for a sector that has
	// never been formatted as an inode.
	ErrNoSuchInode = errors.New("inode: no inode at that sector")
)
