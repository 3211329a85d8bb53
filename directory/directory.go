// Package directory implements spec.md's directory entries and
// operations (Add/Remove/Lookup/ReadDir, "." / ".." seeding) on top of
// the inode engine's ReadAt/WriteAt, per SPEC_FULL.md's "included only
// where they interact with these two cores." original_source's
// src/filesys tree does not carry dir.c/dir.h (only cache/inode/filesys
// were retrieved), so the on-disk entry layout here is the standard
// pintos dir_entry shape implied by filesys.c's dir_add/dir_lookup/
// dir_readdir call sites: a fixed-width name, a sector number, and an
// in-use flag.
package directory

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/blockfs/blockfs/inode"
)

// NameMax is the longest file or directory name component this layout
// can hold, matching pintos's conventional NAME_MAX of 14.
const NameMax = 14

const entrySize = NameMax + 1 + 4 + 4 // name + nul + sector + in-use flag

var (
	ErrNameTooLong = errors.New("directory: name too long")
	ErrNameExists  = errors.New("directory: name already exists")
	ErrNotFound    = errors.New("directory: name not found")
	ErrNotEmpty    = errors.New("directory: directory not empty")
)

// entry is one directory record (struct dir_entry): a fixed-width name
// buffer, the sector holding that name's inode, and whether the slot is
// currently occupied.
type entry struct {
	name   [NameMax + 1]byte
	sector uint32
	inUse  bool
}

func (e *entry) Name() string {
	n := 0
	for n < len(e.name) && e.name[n] != 0 {
		n++
	}
	return string(e.name[:n])
}

func (e *entry) encode(buf []byte) {
	copy(buf[0:NameMax+1], e.name[:])
	binary.LittleEndian.PutUint32(buf[NameMax+1:NameMax+5], e.sector)
	inUse := uint32(0)
	if e.inUse {
		inUse = 1
	}
	binary.LittleEndian.PutUint32(buf[NameMax+5:NameMax+9], inUse)
}

func decodeEntry(buf []byte) entry {
	var e entry
	copy(e.name[:], buf[0:NameMax+1])
	e.sector = binary.LittleEndian.Uint32(buf[NameMax+1 : NameMax+5])
	e.inUse = binary.LittleEndian.Uint32(buf[NameMax+5:NameMax+9]) != 0
	return e
}

// Dir is an open directory: its own inode plus the engine used to read
// and write its entry table.
type Dir struct {
	engine *inode.Engine
	ino    *inode.Inode
}

// Create formats a new, empty directory inode at sector with room for
// entryCount entries (dir_create).
func Create(engine *inode.Engine, sector uint32, entryCount int) error {
	return engine.Create(sector, int64(entryCount)*entrySize, true)
}

// Open wraps an already-open inode as a directory handle (dir_open).
func Open(engine *inode.Engine, ino *inode.Inode) *Dir {
	return &Dir{engine: engine, ino: ino}
}

// Close releases the directory's reference to its inode (dir_close).
func (d *Dir) Close() error {
	return d.engine.Close(d.ino)
}

// Reopen increments the directory's inode reference count and returns a
// handle sharing it (dir_reopen).
func (d *Dir) Reopen() *Dir {
	return &Dir{engine: d.engine, ino: d.engine.Reopen(d.ino)}
}

// Inode returns the directory's backing inode (dir_get_inode).
func (d *Dir) Inode() *inode.Inode {
	return d.ino
}

// Lookup finds name in d and returns the sector of its inode
// (dir_lookup).
func (d *Dir) Lookup(name string) (uint32, error) {
	_, e, err := d.find(name)
	if err != nil {
		return 0, err
	}
	return e.sector, nil
}

// Add inserts a new entry name -> sector into d, reusing the first
// unused slot if one exists and appending otherwise (dir_add).
func (d *Dir) Add(name string, sector uint32) error {
	if len(name) == 0 || len(name) > NameMax {
		return ErrNameTooLong
	}
	if _, _, err := d.find(name); err == nil {
		return ErrNameExists
	}

	length, err := d.engine.Length(d.ino)
	if err != nil {
		return err
	}
	count := int(length) / entrySize

	buf := make([]byte, entrySize)
	for i := 0; i < count; i++ {
		if err := d.readEntry(i, buf); err != nil {
			return err
		}
		e := decodeEntry(buf)
		if !e.inUse {
			return d.writeEntryAt(i, name, sector)
		}
	}
	return d.writeEntryAt(count, name, sector)
}

// Remove deletes name from d (dir_remove). It does not itself free the
// removed entry's inode; callers that also want to deallocate the inode
// should call inode.Engine.Remove/Close on it themselves, matching how
// filesys_remove in the original separates "is this a non-empty
// directory" from the actual removal.
func (d *Dir) Remove(name string) error {
	idx, e, err := d.find(name)
	if err != nil {
		return err
	}
	e.inUse = false
	return d.writeEntryStruct(idx, e)
}

// ReadDir returns the next in-use, non-dot entry name starting at
// position start, and the index to resume from on the next call, mirroring
// dir_readdir's "." / ".." skipping.
func (d *Dir) ReadDir(start int) (name string, next int, ok bool, err error) {
	length, err := d.engine.Length(d.ino)
	if err != nil {
		return "", start, false, err
	}
	count := int(length) / entrySize
	buf := make([]byte, entrySize)
	for i := start; i < count; i++ {
		if err := d.readEntry(i, buf); err != nil {
			return "", start, false, err
		}
		e := decodeEntry(buf)
		if !e.inUse {
			continue
		}
		n := e.Name()
		if n == "." || n == ".." {
			continue
		}
		return n, i + 1, true, nil
	}
	return "", count, false, nil
}

// Entries returns every non-dot name currently in d.
func (d *Dir) Entries() ([]string, error) {
	var out []string
	idx := 0
	for {
		name, next, ok, err := d.ReadDir(idx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, name)
		idx = next
	}
}

// IsEmpty reports whether d contains anything besides "." and "..".
func (d *Dir) IsEmpty() (bool, error) {
	_, _, ok, err := d.ReadDir(0)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

func (d *Dir) find(name string) (int, entry, error) {
	length, err := d.engine.Length(d.ino)
	if err != nil {
		return 0, entry{}, err
	}
	count := int(length) / entrySize
	buf := make([]byte, entrySize)
	for i := 0; i < count; i++ {
		if err := d.readEntry(i, buf); err != nil {
			return 0, entry{}, err
		}
		e := decodeEntry(buf)
		if e.inUse && e.Name() == name {
			return i, e, nil
		}
	}
	return 0, entry{}, ErrNotFound
}

func (d *Dir) readEntry(idx int, buf []byte) error {
	n, err := d.engine.ReadAt(d.ino, buf, int64(idx)*entrySize)
	if err != nil {
		return fmt.Errorf("directory: read entry %d: %w", idx, err)
	}
	if n < entrySize {
		for i := n; i < entrySize; i++ {
			buf[i] = 0
		}
	}
	return nil
}

func (d *Dir) writeEntryAt(idx int, name string, sector uint32) error {
	var e entry
	copy(e.name[:], name)
	e.sector = sector
	e.inUse = true
	return d.writeEntryStruct(idx, e)
}

func (d *Dir) writeEntryStruct(idx int, e entry) error {
	buf := make([]byte, entrySize)
	e.encode(buf)
	_, err := d.engine.WriteAt(d.ino, buf, int64(idx)*entrySize)
	if err != nil {
		return fmt.Errorf("directory: write entry %d: %w", idx, err)
	}
	return nil
}
