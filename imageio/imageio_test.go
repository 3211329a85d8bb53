package imageio

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, codec Codec) {
	t.Helper()
	original := bytes.Repeat([]byte("blockfs image bytes, compress me please "), 4096)

	var compressed bytes.Buffer
	n, err := Export(&compressed, bytes.NewReader(original), codec)
	require.NoError(t, err)
	require.EqualValues(t, len(original), n)

	var restored bytes.Buffer
	n, err = Import(&restored, &compressed, codec)
	require.NoError(t, err)
	require.EqualValues(t, len(original), n)
	require.Equal(t, original, restored.Bytes())
}

func TestLZ4RoundTrip(t *testing.T) {
	roundTrip(t, CodecLZ4)
}

func TestXZRoundTrip(t *testing.T) {
	roundTrip(t, CodecXZ)
}

func TestUnknownCodecRejected(t *testing.T) {
	var buf bytes.Buffer
	_, err := Export(&buf, bytes.NewReader([]byte("x")), Codec("zstd"))
	require.ErrorIs(t, err, ErrUnknownCodec)

	_, err = Import(&buf, bytes.NewReader([]byte("x")), Codec("zstd"))
	require.ErrorIs(t, err, ErrUnknownCodec)
}
