// Package imageio streams a whole blockfs backing device image through a
// compressor for backup/restore, wiring the two codecs the teacher's
// go.mod carries (github.com/pierrec/lz4, github.com/ulikunitz/xz) but
// never exercises in the retrieved slice of its source.
package imageio

import (
	"errors"
	"fmt"
	"io"

	"github.com/pierrec/lz4"
	"github.com/ulikunitz/xz"
)

// Codec selects which compressor Export/Import uses.
type Codec string

const (
	CodecLZ4 Codec = "lz4"
	CodecXZ  Codec = "xz"
)

// ErrUnknownCodec is returned for any Codec value other than CodecLZ4 or
// CodecXZ.
var ErrUnknownCodec = errors.New("imageio: unknown codec")

// Export copies every byte of src through the chosen codec into dst,
// producing a compressed backup of a backing device image.
func Export(dst io.Writer, src io.Reader, codec Codec) (int64, error) {
	switch codec {
	case CodecLZ4:
		w := lz4.NewWriter(dst)
		n, err := io.Copy(w, src)
		if err != nil {
			return n, fmt.Errorf("imageio: lz4 compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return n, fmt.Errorf("imageio: lz4 finalize: %w", err)
		}
		return n, nil

	case CodecXZ:
		w, err := xz.NewWriter(dst)
		if err != nil {
			return 0, fmt.Errorf("imageio: xz writer: %w", err)
		}
		n, err := io.Copy(w, src)
		if err != nil {
			return n, fmt.Errorf("imageio: xz compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return n, fmt.Errorf("imageio: xz finalize: %w", err)
		}
		return n, nil

	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCodec, codec)
	}
}

// Import decompresses src (as produced by Export with the same codec)
// into dst, restoring a backing device image.
func Import(dst io.Writer, src io.Reader, codec Codec) (int64, error) {
	switch codec {
	case CodecLZ4:
		r := lz4.NewReader(src)
		n, err := io.Copy(dst, r)
		if err != nil {
			return n, fmt.Errorf("imageio: lz4 decompress: %w", err)
		}
		return n, nil

	case CodecXZ:
		r, err := xz.NewReader(src)
		if err != nil {
			return 0, fmt.Errorf("imageio: xz reader: %w", err)
		}
		n, err := io.Copy(dst, r)
		if err != nil {
			return n, fmt.Errorf("imageio: xz decompress: %w", err)
		}
		return n, nil

	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCodec, codec)
	}
}
