package blockdev_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blockfs/blockfs/blockdev"
	"github.com/blockfs/blockfs/testhelper"
)

func TestSectorCountMatchesBackingSize(t *testing.T) {
	storage := testhelper.NewMemStorage(16 * blockdev.DefaultSectorSize)
	dev := blockdev.New(storage, blockdev.DefaultSectorSize)

	n, err := dev.SectorCount()
	require.NoError(t, err)
	require.EqualValues(t, 16, n)
}

func TestWriteThenReadSectorRoundTrips(t *testing.T) {
	storage := testhelper.NewMemStorage(4 * blockdev.DefaultSectorSize)
	dev := blockdev.New(storage, blockdev.DefaultSectorSize)

	buf := make([]byte, blockdev.DefaultSectorSize)
	for i := range buf {
		buf[i] = byte(i)
	}
	require.NoError(t, dev.WriteSector(2, buf))

	got := make([]byte, blockdev.DefaultSectorSize)
	require.NoError(t, dev.ReadSector(2, got))
	require.Equal(t, buf, got)
}

func TestReadSectorWrongBufferSizeRejected(t *testing.T) {
	storage := testhelper.NewMemStorage(4 * blockdev.DefaultSectorSize)
	dev := blockdev.New(storage, blockdev.DefaultSectorSize)
	require.Error(t, dev.ReadSector(0, make([]byte, 10)))
}

func TestReadPastExtentZeroFills(t *testing.T) {
	storage := testhelper.NewMemStorage(1 * blockdev.DefaultSectorSize)
	dev := blockdev.New(storage, blockdev.DefaultSectorSize)

	buf := make([]byte, blockdev.DefaultSectorSize)
	require.NoError(t, dev.ReadSector(0, buf))
	for _, b := range buf {
		require.Equal(t, byte(0), b)
	}
}

func TestFullSectorAliasesMatchReadWriteSector(t *testing.T) {
	storage := testhelper.NewMemStorage(2 * blockdev.DefaultSectorSize)
	dev := blockdev.New(storage, blockdev.DefaultSectorSize)

	payload := []byte("full sector alias round trip")
	buf := make([]byte, blockdev.DefaultSectorSize)
	copy(buf, payload)
	require.NoError(t, dev.WriteFullSector(1, buf))

	got := make([]byte, blockdev.DefaultSectorSize)
	require.NoError(t, dev.ReadFullSector(1, got))
	require.Equal(t, buf, got)
}
