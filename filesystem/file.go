package filesystem

import (
	"io"

	"github.com/blockfs/blockfs/directory"
	"github.com/blockfs/blockfs/inode"
)

// File is an open file handle on a FileSystem, restoring the syscall
// surface original_source/src/userprog/syscall.c layers on the inode
// engine: read, write, seek, tell, filesize, isdir, inumber, plus
// deny/allow-write for the currently-executing-file protection the
// original uses.
type File struct {
	fs     *FileSystem
	ino    *inode.Inode
	cursor int64
}

func newFile(fs *FileSystem, ino *inode.Inode) *File {
	return &File{fs: fs, ino: ino}
}

var _ io.ReaderAt = (*File)(nil)
var _ io.WriterAt = (*File)(nil)
var _ io.Seeker = (*File)(nil)

// ReadAt reads len(p) bytes starting at off, matching io.ReaderAt (and
// syscall read's semantics via the engine's own short-read-at-EOF
// behavior).
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	n, err := f.fs.engine.ReadAt(f.ino, p, off)
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt writes len(p) bytes starting at off, growing the file as
// needed, matching io.WriterAt.
func (f *File) WriteAt(p []byte, off int64) (int, error) {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	return f.fs.engine.WriteAt(f.ino, p, off)
}

// Read reads from the file's current cursor and advances it (syscall
// read without an explicit offset).
func (f *File) Read(p []byte) (int, error) {
	n, err := f.ReadAt(p, f.cursor)
	f.cursor += int64(n)
	return n, err
}

// Write writes to the file's current cursor and advances it (syscall
// write without an explicit offset).
func (f *File) Write(p []byte) (int, error) {
	n, err := f.WriteAt(p, f.cursor)
	f.cursor += int64(n)
	return n, err
}

// Seek repositions the cursor, matching io.Seeker (syscall seek).
func (f *File) Seek(offset int64, whence int) (int64, error) {
	length, err := f.Length()
	if err != nil {
		return 0, err
	}
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = f.cursor + offset
	case io.SeekEnd:
		pos = length + offset
	default:
		return 0, ErrNotSupported
	}
	if pos < 0 {
		pos = 0
	}
	f.cursor = pos
	return pos, nil
}

// Tell returns the file's current cursor position (syscall tell).
func (f *File) Tell() int64 {
	return f.cursor
}

// Length returns the file's current byte length (syscall filesize).
func (f *File) Length() (int64, error) {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	return f.fs.engine.Length(f.ino)
}

// IsDir reports whether this handle refers to a directory (syscall
// isdir).
func (f *File) IsDir() (bool, error) {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	return f.fs.engine.IsDir(f.ino)
}

// ReadDirNames returns the non-dot entry names of this handle, which
// must refer to a directory (syscall readdir, generalized to "give me
// every name" instead of one-at-a-time iteration).
func (f *File) ReadDirNames() ([]string, error) {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	d := directory.Open(f.fs.engine, f.ino)
	return d.Entries()
}

// Inumber returns the file's inode sector number (syscall inumber).
func (f *File) Inumber() uint32 {
	return f.ino.Sector()
}

// DenyWrite disables writes to the underlying inode (used to protect a
// running executable's backing file, as in the original).
func (f *File) DenyWrite() {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	f.fs.engine.DenyWrite(f.ino)
}

// AllowWrite re-enables writes previously denied by DenyWrite.
func (f *File) AllowWrite() {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	f.fs.engine.AllowWrite(f.ino)
}

// Close releases this handle's reference to the underlying inode
// (syscall close).
func (f *File) Close() error {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	return f.fs.engine.Close(f.ino)
}
