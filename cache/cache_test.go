package cache_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blockfs/blockfs/blockdev"
	"github.com/blockfs/blockfs/cache"
	"github.com/blockfs/blockfs/testhelper"
)

func newCache(t *testing.T, sectors uint32, slots int) (*cache.Cache, *blockdev.Device) {
	t.Helper()
	storage := testhelper.NewMemStorage(int64(sectors) * blockdev.DefaultSectorSize)
	dev := blockdev.New(storage, blockdev.DefaultSectorSize)
	return cache.New(dev, slots), dev
}

func TestWriteThenReadHitsCache(t *testing.T) {
	c, _ := newCache(t, 8, 4)

	payload := make([]byte, blockdev.DefaultSectorSize)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(t, c.WriteFullSector(3, payload))

	got := make([]byte, blockdev.DefaultSectorSize)
	require.NoError(t, c.ReadFullSector(3, got))
	require.Equal(t, payload, got)
}

func TestShutdownFlushesDirtySlots(t *testing.T) {
	c, dev := newCache(t, 8, 4)

	payload := make([]byte, blockdev.DefaultSectorSize)
	payload[0] = 0xAB
	require.NoError(t, c.WriteFullSector(5, payload))
	require.NoError(t, c.Shutdown())

	raw := make([]byte, blockdev.DefaultSectorSize)
	require.NoError(t, dev.ReadSector(5, raw))
	require.Equal(t, byte(0xAB), raw[0])
}

// Writing to more distinct sectors than there are slots forces eviction;
// every evicted dirty slot must have reached the underlying device. The
// last 4 sectors written still occupy the 4 slots and, the cache being
// write-back, must not have reached the device yet.
func TestEvictionWritesBackDirtySlots(t *testing.T) {
	c, dev := newCache(t, 80, 4)

	for i := uint32(0); i < 20; i++ {
		buf := make([]byte, blockdev.DefaultSectorSize)
		buf[0] = byte(i + 1)
		require.NoError(t, c.WriteFullSector(i, buf))
	}

	for i := uint32(0); i < 20; i++ {
		raw := make([]byte, blockdev.DefaultSectorSize)
		require.NoError(t, dev.ReadSector(i, raw))
		want := byte(i + 1)
		if i >= 20-4 {
			want = 0 // still dirty in the cache, not yet written back
		}
		require.Equal(t, want, raw[0], "sector %d: evicted sectors on disk, cached ones not yet", i)
	}
}

func TestPartialSectorWritePreservesRestOfSector(t *testing.T) {
	c, _ := newCache(t, 4, 2)

	full := make([]byte, blockdev.DefaultSectorSize)
	for i := range full {
		full[i] = 0xFF
	}
	require.NoError(t, c.WriteFullSector(1, full))

	patch := []byte{0x01, 0x02, 0x03}
	require.NoError(t, c.WriteSector(1, patch, 0, len(patch), 10))

	got := make([]byte, blockdev.DefaultSectorSize)
	require.NoError(t, c.ReadFullSector(1, got))
	require.Equal(t, []byte{0x01, 0x02, 0x03}, got[10:13])
	require.Equal(t, byte(0xFF), got[9])
	require.Equal(t, byte(0xFF), got[13])
}
