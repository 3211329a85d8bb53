package freemap_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blockfs/blockfs/blockdev"
	"github.com/blockfs/blockfs/freemap"
	"github.com/blockfs/blockfs/testhelper"
)

func newDevice(t *testing.T, sectors uint32) *blockdev.Device {
	t.Helper()
	storage := testhelper.NewMemStorage(int64(sectors) * blockdev.DefaultSectorSize)
	return blockdev.New(storage, blockdev.DefaultSectorSize)
}

func TestCreateReservesHeaderBitmapAndRoot(t *testing.T) {
	dev := newDevice(t, 128)
	fm, err := freemap.Create(dev, 128)
	require.NoError(t, err)

	sectors, err := fm.Allocate(1)
	require.NoError(t, err)
	require.NotContains(t, []uint32{0}, sectors[0], "header sector must not be handed out")
}

func TestAllocateAndReleaseRoundTrip(t *testing.T) {
	dev := newDevice(t, 128)
	fm, err := freemap.Create(dev, 128)
	require.NoError(t, err)

	got, err := fm.Allocate(5)
	require.NoError(t, err)
	require.Len(t, got, 5)

	require.NoError(t, fm.Release(got[0], 5))

	again, err := fm.Allocate(5)
	require.NoError(t, err)
	require.Len(t, again, 5)
}

func TestAllocateExhaustion(t *testing.T) {
	dev := newDevice(t, 16)
	fm, err := freemap.Create(dev, 16)
	require.NoError(t, err)

	// 16 bits total, a handful already reserved by Create; drain the rest.
	for {
		if _, err := fm.Allocate(1); err != nil {
			require.ErrorIs(t, err, freemap.ErrOutOfSpace)
			break
		}
	}
}

func TestOpenReloadsPersistedState(t *testing.T) {
	dev := newDevice(t, 64)
	fm, err := freemap.Create(dev, 64)
	require.NoError(t, err)
	volID := fm.VolumeID()

	sectors, err := fm.Allocate(3)
	require.NoError(t, err)
	require.NoError(t, fm.Close())

	reopened, err := freemap.Open(dev, 64)
	require.NoError(t, err)
	require.Equal(t, volID, reopened.VolumeID())

	// allocating again must not reuse sectors already marked used.
	more, err := reopened.Allocate(1)
	require.NoError(t, err)
	require.NotContains(t, sectors, more[0])
}
