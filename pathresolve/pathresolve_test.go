package pathresolve_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blockfs/blockfs/blockdev"
	"github.com/blockfs/blockfs/cache"
	"github.com/blockfs/blockfs/directory"
	"github.com/blockfs/blockfs/freemap"
	"github.com/blockfs/blockfs/inode"
	"github.com/blockfs/blockfs/pathresolve"
	"github.com/blockfs/blockfs/testhelper"
)

const rootSector = 10

func newFixture(t *testing.T) *inode.Engine {
	t.Helper()
	storage := testhelper.NewMemStorage(512 * blockdev.DefaultSectorSize)
	dev := blockdev.New(storage, blockdev.DefaultSectorSize)
	c := cache.New(dev, 16)
	fm, err := freemap.Create(c, 512)
	require.NoError(t, err)
	eng := inode.NewEngine(c, fm)

	require.NoError(t, directory.Create(eng, rootSector, 16))
	rootIno, err := eng.Open(rootSector)
	require.NoError(t, err)
	root := directory.Open(eng, rootIno)
	require.NoError(t, root.Add(".", rootSector))
	require.NoError(t, root.Add("..", rootSector))

	require.NoError(t, directory.Create(eng, 20, 16))
	subIno, err := eng.Open(20)
	require.NoError(t, err)
	sub := directory.Open(eng, subIno)
	require.NoError(t, sub.Add(".", 20))
	require.NoError(t, sub.Add("..", rootSector))
	require.NoError(t, root.Add("sub", 20))
	require.NoError(t, sub.Close())
	require.NoError(t, root.Close())

	return eng
}

func TestResolveTopLevelName(t *testing.T) {
	eng := newFixture(t)
	res, err := pathresolve.Resolve(eng, rootSector, rootSector, "newfile")
	require.NoError(t, err)
	require.Equal(t, "newfile", res.Final)
	require.NoError(t, res.Parent.Close())
}

func TestResolveDescendsIntoSubdirectory(t *testing.T) {
	eng := newFixture(t)
	res, err := pathresolve.Resolve(eng, rootSector, rootSector, "sub/thing")
	require.NoError(t, err)
	require.Equal(t, "thing", res.Final)
	require.Equal(t, uint32(20), res.Parent.Inode().Sector())
	require.NoError(t, res.Parent.Close())
}

func TestResolveRejectsNonDirectoryIntermediate(t *testing.T) {
	eng := newFixture(t)
	rootIno, err := eng.Open(rootSector)
	require.NoError(t, err)
	root := directory.Open(eng, rootIno)
	require.NoError(t, eng.Create(30, 0, false))
	require.NoError(t, root.Add("leaf", 30))
	require.NoError(t, root.Close())

	_, err = pathresolve.Resolve(eng, rootSector, rootSector, "leaf/deeper")
	require.ErrorIs(t, err, pathresolve.ErrNotADirectory)
}

func TestResolveEmptyPathAfterSlash(t *testing.T) {
	eng := newFixture(t)
	res, err := pathresolve.Resolve(eng, rootSector, rootSector, "/")
	require.NoError(t, err)
	require.Equal(t, ".", res.Final)
	require.NoError(t, res.Parent.Close())
}
