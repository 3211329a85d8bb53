// Package filesystem is spec.md §4.9's facade: init/shutdown, the
// create/open/remove/mkdir/chdir surface, and the global I/O lock from
// §5 that serializes every read/write/open/seek/tell/filesize call
// across the whole filesystem. It wires together blockdev, cache,
// freemap, inode, directory, and pathresolve into one usable handle,
// adapted from the teacher's filesystem.FileSystem/Type shape (here
// narrowed to this one concrete on-disk format instead of a
// fat32/iso9660/ext4/squashfs union).
package filesystem

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/blockfs/blockfs/backend"
	"github.com/blockfs/blockfs/blockdev"
	"github.com/blockfs/blockfs/cache"
	"github.com/blockfs/blockfs/directory"
	"github.com/blockfs/blockfs/freemap"
	"github.com/blockfs/blockfs/inode"
	"github.com/blockfs/blockfs/pathresolve"
)

var log = logrus.WithField("component", "filesystem")

var (
	// ErrNotSupported mirrors the teacher's sentinel for the same purpose.
	ErrNotSupported = errors.New("filesystem: method not supported")
	// ErrNotADirectory is returned when a path operation expects a
	// directory and finds a plain file instead.
	ErrNotADirectory = errors.New("filesystem: not a directory")
	// ErrIsADirectory is returned when a path operation expects a plain
	// file and finds a directory instead.
	ErrIsADirectory = errors.New("filesystem: is a directory")
	// ErrNotFound is returned when a named path does not exist.
	ErrNotFound = errors.New("filesystem: not found")
	// ErrNotInitialized is returned by any operation attempted before
	// Init has run.
	ErrNotInitialized = errors.New("filesystem: not initialized")
)

// rootDirEntries is the initial entry capacity of the root directory and
// of every directory Mkdir creates. The root directory itself always lives
// at freemap.DataStartSector: immediately after the free-map's header and
// bitmap sectors, a pure function of total sector count (so it never needs
// its own persisted pointer).
const rootDirEntries = 16

// Options configures a FileSystem, in the teacher's functional-options
// style (c.f. diskfs.Create's variadic options).
type Options struct {
	SectorSize int
	SlotCount  int
	Format     bool
}

// Option mutates Options.
type Option func(*Options)

// WithSectorSize overrides the default sector size (512).
func WithSectorSize(n int) Option { return func(o *Options) { o.SectorSize = n } }

// WithSlotCount overrides the default cache slot count (64).
func WithSlotCount(n int) Option { return func(o *Options) { o.SlotCount = n } }

// WithFormat requests a fresh format instead of opening an existing
// volume.
func WithFormat() Option { return func(o *Options) { o.Format = true } }

func defaultOptions() Options {
	return Options{SectorSize: blockdev.DefaultSectorSize, SlotCount: cache.DefaultSlotCount}
}

// FileSystem is an open blockfs volume.
type FileSystem struct {
	// mu is spec.md §5's global I/O lock: held around every
	// read/write/open/seek/tell/filesize-equivalent call.
	mu sync.Mutex

	dev    *blockdev.Device
	cache  *cache.Cache
	fm     *freemap.Freemap
	engine *inode.Engine

	rootSector uint32
	cwdSector  uint32
}

// Init opens (or, with WithFormat, formats) a blockfs volume backed by
// storage, matching filesys_init/do_format.
func Init(storage backend.Storage, opts ...Option) (*FileSystem, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	dev := blockdev.New(storage, o.SectorSize)
	totalSectors, err := dev.SectorCount()
	if err != nil {
		return nil, fmt.Errorf("filesystem: determine device size: %w", err)
	}

	c := cache.New(dev, o.SlotCount)
	root := freemap.DataStartSector(totalSectors, o.SectorSize)

	var fm *freemap.Freemap
	var eng *inode.Engine

	if o.Format {
		fm, err = freemap.Create(c, totalSectors)
		if err != nil {
			return nil, fmt.Errorf("filesystem: format free-map: %w", err)
		}
		eng = inode.NewEngine(c, fm)
		if err := directory.Create(eng, root, rootDirEntries); err != nil {
			return nil, fmt.Errorf("filesystem: create root directory: %w", err)
		}
		rootIno, err := eng.Open(root)
		if err != nil {
			return nil, err
		}
		rootDir := directory.Open(eng, rootIno)
		if err := rootDir.Add(".", root); err != nil {
			return nil, fmt.Errorf("filesystem: seed root '.': %w", err)
		}
		if err := rootDir.Add("..", root); err != nil {
			return nil, fmt.Errorf("filesystem: seed root '..': %w", err)
		}
		if err := rootDir.Close(); err != nil {
			return nil, err
		}
		log.WithField("total_sectors", totalSectors).Info("formatted new volume")
	} else {
		fm, err = freemap.Open(c, totalSectors)
		if err != nil {
			return nil, fmt.Errorf("filesystem: open free-map: %w", err)
		}
		eng = inode.NewEngine(c, fm)
	}

	return &FileSystem{
		dev:        dev,
		cache:      c,
		fm:         fm,
		engine:     eng,
		rootSector: root,
		cwdSector:  root,
	}, nil
}

// VolumeID returns the volume's persisted identifier, for host tooling
// that wants to tag or log which volume it is looking at (cmd/blockfsutil
// stat).
func (f *FileSystem) VolumeID() uuid.UUID {
	return f.fm.VolumeID()
}

// Shutdown flushes the buffer cache and closes the free-map, matching
// filesys_done.
func (f *FileSystem) Shutdown() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fm.Close(); err != nil {
		return err
	}
	return f.cache.Shutdown()
}

// Create creates a new file named by path with the given initial size
// (filesys_create).
func (f *FileSystem) Create(path string, initialSize int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	res, err := pathresolve.Resolve(f.engine, f.rootSector, f.cwdSector, path)
	if err != nil {
		return err
	}
	defer res.Parent.Close()

	sectors, err := f.fm.Allocate(1)
	if err != nil {
		return err
	}
	sector := sectors[0]

	if err := f.engine.Create(sector, initialSize, false); err != nil {
		_ = f.fm.Release(sector, 1)
		return err
	}
	if err := res.Parent.Add(res.Final, sector); err != nil {
		_ = f.fm.Release(sector, 1)
		return err
	}
	return nil
}

// Open opens the file named by path (filesys_open).
func (f *FileSystem) Open(path string) (*File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	res, err := pathresolve.Resolve(f.engine, f.rootSector, f.cwdSector, path)
	if err != nil {
		return nil, err
	}
	defer res.Parent.Close()

	sector, err := res.Parent.Lookup(res.Final)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	ino, err := f.engine.Open(sector)
	if err != nil {
		return nil, err
	}
	return newFile(f, ino), nil
}

// Remove deletes the file or empty directory named by path
// (filesys_remove).
func (f *FileSystem) Remove(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	res, err := pathresolve.Resolve(f.engine, f.rootSector, f.cwdSector, path)
	if err != nil {
		return err
	}
	defer res.Parent.Close()

	sector, err := res.Parent.Lookup(res.Final)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	ino, err := f.engine.Open(sector)
	if err != nil {
		return err
	}
	isDir, err := f.engine.IsDir(ino)
	if err != nil {
		_ = f.engine.Close(ino)
		return err
	}
	if isDir {
		d := directory.Open(f.engine, ino)
		empty, err := d.IsEmpty()
		if err != nil {
			_ = d.Close()
			return err
		}
		if !empty {
			_ = d.Close()
			return directory.ErrNotEmpty
		}
		if err := res.Parent.Remove(res.Final); err != nil {
			_ = d.Close()
			return err
		}
		f.engine.Remove(ino)
		return d.Close()
	}

	if err := res.Parent.Remove(res.Final); err != nil {
		_ = f.engine.Close(ino)
		return err
	}
	f.engine.Remove(ino)
	return f.engine.Close(ino)
}

// Mkdir creates a new, empty directory named by path, seeded with "."
// and ".." (filesys_create_dir).
func (f *FileSystem) Mkdir(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	res, err := pathresolve.Resolve(f.engine, f.rootSector, f.cwdSector, path)
	if err != nil {
		return err
	}
	parentSector := res.Parent.Inode().Sector()

	sectors, err := f.fm.Allocate(1)
	if err != nil {
		_ = res.Parent.Close()
		return err
	}
	sector := sectors[0]

	if err := directory.Create(f.engine, sector, rootDirEntries); err != nil {
		_ = f.fm.Release(sector, 1)
		_ = res.Parent.Close()
		return err
	}
	if err := res.Parent.Add(res.Final, sector); err != nil {
		_ = f.fm.Release(sector, 1)
		_ = res.Parent.Close()
		return err
	}
	if err := res.Parent.Close(); err != nil {
		return err
	}

	ino, err := f.engine.Open(sector)
	if err != nil {
		return err
	}
	newDir := directory.Open(f.engine, ino)
	if err := newDir.Add(".", sector); err != nil {
		return err
	}
	if err := newDir.Add("..", parentSector); err != nil {
		return err
	}
	return newDir.Close()
}

// Chdir changes the filesystem's current directory to path
// (filesys_change_dir).
func (f *FileSystem) Chdir(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	res, err := pathresolve.Resolve(f.engine, f.rootSector, f.cwdSector, path+"/.")
	if err != nil {
		return err
	}
	f.cwdSector = res.Parent.Inode().Sector()
	return res.Parent.Close()
}
