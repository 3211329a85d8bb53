package converter

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blockfs/blockfs/filesystem"
	"github.com/blockfs/blockfs/testhelper"
)

func newVolume(t *testing.T) *filesystem.FileSystem {
	t.Helper()
	storage := testhelper.NewMemStorage(512 * 512)
	fsys, err := filesystem.Init(storage, filesystem.WithFormat())
	require.NoError(t, err)
	return fsys
}

func TestOpenAndStatThroughIOFS(t *testing.T) {
	vol := newVolume(t)
	require.NoError(t, vol.Create("README.MD", 0))
	f, err := vol.Open("README.MD")
	require.NoError(t, err)
	_, err = f.WriteAt([]byte("hello"), 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	iofs := FS(vol)
	opened, err := iofs.Open("README.MD")
	require.NoError(t, err)
	defer opened.Close()

	stat, err := opened.Stat()
	require.NoError(t, err)
	require.Equal(t, int64(5), stat.Size())
	require.False(t, stat.IsDir())

	content, err := io.ReadAll(opened.(io.Reader))
	require.NoError(t, err)
	require.Equal(t, "hello", string(content))
}

func TestOpenMissingFileReturnsPathError(t *testing.T) {
	vol := newVolume(t)
	iofs := FS(vol)
	_, err := iofs.Open("nope")
	require.Error(t, err)
}
