package testhelper

import (
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/blockfs/blockfs/backend"
)

// MemStorage is an in-memory backend.Storage so cache/inode/freemap/
// filesystem tests never touch the real filesystem. Sys() always fails
// (ErrNotSuitable), matching a plain file that is not a real block
// device.
type MemStorage struct {
	data []byte
}

// NewMemStorage creates an in-memory backend.Storage pre-sized to size
// bytes, all zero.
func NewMemStorage(size int64) *MemStorage {
	return &MemStorage{data: make([]byte, size)}
}

var _ backend.Storage = (*MemStorage)(nil)

func (m *MemStorage) Stat() (fs.FileInfo, error) {
	return memFileInfo{size: int64(len(m.data))}, nil
}

func (m *MemStorage) Read(b []byte) (int, error) {
	return m.ReadAt(b, 0)
}

func (m *MemStorage) Close() error {
	return nil
}

func (m *MemStorage) Seek(offset int64, whence int) (int64, error) {
	return 0, backend.ErrNotSuitable
}

func (m *MemStorage) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *MemStorage) WriteAt(p []byte, off int64) (int, error) {
	end := off + int64(len(p))
	if end > int64(len(m.data)) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
	return copy(m.data[off:end], p), nil
}

func (m *MemStorage) Sys() (*os.File, error) {
	return nil, backend.ErrNotSuitable
}

func (m *MemStorage) Writable() (backend.WritableFile, error) {
	return memWritable{m}, nil
}

type memWritable struct {
	m *MemStorage
}

func (w memWritable) Stat() (fs.FileInfo, error)              { return w.m.Stat() }
func (w memWritable) Read(b []byte) (int, error)              { return w.m.Read(b) }
func (w memWritable) Close() error                            { return nil }
func (w memWritable) Seek(o int64, whence int) (int64, error) { return w.m.Seek(o, whence) }
func (w memWritable) ReadAt(p []byte, off int64) (int, error) { return w.m.ReadAt(p, off) }
func (w memWritable) WriteAt(p []byte, off int64) (int, error) { return w.m.WriteAt(p, off) }

type memFileInfo struct {
	size int64
}

func (fi memFileInfo) Name() string       { return "memstorage" }
func (fi memFileInfo) Size() int64        { return fi.size }
func (fi memFileInfo) Mode() fs.FileMode  { return 0o600 }
func (fi memFileInfo) ModTime() time.Time { return time.Time{} }
func (fi memFileInfo) IsDir() bool        { return false }
func (fi memFileInfo) Sys() interface{}   { return nil }
