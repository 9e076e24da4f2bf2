package compression

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
)

// Decompressor is a reusable decompression context. The zstd stream state
// is reset before every payload, so one Decompressor serves any number of
// pages sequentially. Not safe for concurrent use; keep one per worker.
type Decompressor struct {
	z *zstd.Decoder
	r bytes.Reader
}

// NewDecompressor builds a fresh context.
func NewDecompressor() (*Decompressor, error) {
	z, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	return &Decompressor{z: z}, nil
}

// Close releases the codec state. The Decompressor is unusable afterwards.
func (d *Decompressor) Close() {
	if d.z != nil {
		d.z.Close()
		d.z = nil
	}
}

// Decompress expands src into dst, which must be sized to the exact
// unpacked length. Returns an error if the payload expands to any other
// size.
func (d *Decompressor) Decompress(dst, src []byte, codec Codec) error {
	switch codec {
	case None:
		if len(src) != len(dst) {
			return fmt.Errorf("raw payload size mismatch (expected %d, got %d)",
				len(dst), len(src))
		}
		copy(dst, src)
		return nil

	case Zstd:
		d.r.Reset(src)
		if err := d.z.Reset(&d.r); err != nil {
			return err
		}
		if _, err := io.ReadFull(d.z, dst); err != nil {
			return fmt.Errorf("zstd payload truncated: %w", err)
		}
		// The stream must end exactly at the expected size.
		var one [1]byte
		if n, _ := d.z.Read(one[:]); n != 0 {
			return fmt.Errorf("zstd payload larger than expected %d", len(dst))
		}
		return nil

	case S2:
		n, err := s2.DecodedLen(src)
		if err != nil {
			return err
		}
		if n != len(dst) {
			return fmt.Errorf("s2 payload size mismatch (expected %d, got %d)", len(dst), n)
		}
		_, err = s2.Decode(dst, src)
		return err

	case Snappy:
		n, err := snappy.DecodedLen(src)
		if err != nil {
			return err
		}
		if n != len(dst) {
			return fmt.Errorf("snappy payload size mismatch (expected %d, got %d)", len(dst), n)
		}
		_, err = snappy.Decode(dst, src)
		return err
	}
	return fmt.Errorf("unknown compression codec: %d", codec)
}
