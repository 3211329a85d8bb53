// Package converter adapts a filesystem.FileSystem to the standard
// library's io/fs.FS, the way the teacher's converter.FS did for its own
// (much larger) FileSystem interface — so anything that wants a stdlib
// filesystem view (http.FileServer, archive/zip, text/template) can read
// straight out of a blockfs volume.
package converter

import (
	"io/fs"
	"path"
	"time"

	"github.com/blockfs/blockfs/filesystem"
)

type fsCompatible struct {
	fs *filesystem.FileSystem
}

// FS wraps f as a standard io/fs.FS.
func FS(f *filesystem.FileSystem) fs.FS {
	return &fsCompatible{fs: f}
}

func (f *fsCompatible) Open(name string) (fs.File, error) {
	file, err := f.fs.Open(name)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	return &fsFileWrapper{name: path.Base(name), file: file}, nil
}

type fsFileWrapper struct {
	name string
	file *filesystem.File
}

func (w *fsFileWrapper) Stat() (fs.FileInfo, error) {
	length, err := w.file.Length()
	if err != nil {
		return nil, err
	}
	isDir, err := w.file.IsDir()
	if err != nil {
		return nil, err
	}
	return fileInfo{name: w.name, size: length, isDir: isDir}, nil
}

func (w *fsFileWrapper) Read(p []byte) (int, error) {
	return w.file.Read(p)
}

func (w *fsFileWrapper) Close() error {
	return w.file.Close()
}

type fileInfo struct {
	name  string
	size  int64
	isDir bool
}

func (i fileInfo) Name() string       { return i.name }
func (i fileInfo) Size() int64        { return i.size }
func (i fileInfo) Mode() fs.FileMode  { return 0o444 }
func (i fileInfo) ModTime() time.Time { return time.Time{} }
func (i fileInfo) IsDir() bool        { return i.isDir }
func (i fileInfo) Sys() interface{}   { return nil }
