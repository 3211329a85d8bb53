package sync

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"

	"github.com/blockfs/blockfs/filesystem"
	"github.com/blockfs/blockfs/testhelper"
)

func newVolume(t *testing.T) *filesystem.FileSystem {
	t.Helper()
	storage := testhelper.NewMemStorage(1024 * 512)
	vol, err := filesystem.Init(storage, filesystem.WithFormat())
	require.NoError(t, err)
	return vol
}

func readWholeFile(t *testing.T, vol *filesystem.FileSystem, path string) string {
	t.Helper()
	f, err := vol.Open(path)
	require.NoError(t, err)
	defer f.Close()
	length, err := f.Length()
	require.NoError(t, err)
	buf := make([]byte, length)
	_, err = f.ReadAt(buf, 0)
	if err != nil {
		require.ErrorIs(t, err, fs.ErrClosed, "unexpected read error")
	}
	return string(buf)
}

func TestCopyFileSystemBasic(t *testing.T) {
	src := fstest.MapFS{
		"foo.txt": {Data: []byte("hello")},
		"dir":     {Mode: fs.ModeDir},
		"dir/bar": {Data: []byte("world")},
	}
	dst := newVolume(t)
	require.NoError(t, CopyFileSystem(src, dst))

	require.Equal(t, "hello", readWholeFile(t, dst, "foo.txt"))
	require.Equal(t, "world", readWholeFile(t, dst, "dir/bar"))
}

func TestCopyFileSystemCopiesZeroLengthFile(t *testing.T) {
	src := fstest.MapFS{
		"sl": {Data: []byte("")},
	}
	// A zero-length regular file must copy cleanly. The branch that skips
	// entries whose Mode().IsRegular() is false is not exercised here.
	dst := newVolume(t)
	require.NoError(t, CopyFileSystem(src, dst))
	require.Equal(t, "", readWholeFile(t, dst, "sl"))
}

func TestCopyOutRoundTrips(t *testing.T) {
	src := fstest.MapFS{
		"a.txt":     {Data: []byte("alpha")},
		"sub":       {Mode: fs.ModeDir},
		"sub/b.txt": {Data: []byte("beta")},
	}
	vol := newVolume(t)
	require.NoError(t, CopyFileSystem(src, vol))

	dir := t.TempDir()
	require.NoError(t, CopyOut(vol, ".", dir))

	a, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "alpha", string(a))

	b, err := os.ReadFile(filepath.Join(dir, "sub", "b.txt"))
	require.NoError(t, err)
	require.Equal(t, "beta", string(b))
}
