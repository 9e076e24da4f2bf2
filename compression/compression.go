// Package compression provides the codecs used by xlog transaction frames.
// Pages are written compressed and expanded through a reusable Decompressor
// so read paths do not rebuild codec state per page.
package compression

import (
	"fmt"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
)

// Codec identifies the compression algorithm of a transaction frame.
type Codec uint8

const (
	// None stores the payload uncompressed.
	None Codec = 0

	// Zstd is the default codec for run pages.
	Zstd Codec = 1

	// S2 trades ratio for speed.
	S2 Codec = 2

	// Snappy is kept for compatibility with older files.
	Snappy Codec = 3
)

// String returns the codec name.
func (c Codec) String() string {
	switch c {
	case None:
		return "none"
	case Zstd:
		return "zstd"
	case S2:
		return "s2"
	case Snappy:
		return "snappy"
	}
	return "unknown"
}

// ZstdLevel selects the zstd encoder effort.
type ZstdLevel int

const (
	ZstdFastest ZstdLevel = 1
	ZstdDefault ZstdLevel = 3
	ZstdBetter  ZstdLevel = 6
	ZstdBest    ZstdLevel = 9
)

// Config holds compression configuration for a writer.
type Config struct {
	// Codec to apply to transaction payloads.
	Codec Codec

	// MinReductionPercent is the minimum size reduction required to keep a
	// payload compressed. Payloads that compress worse are stored raw.
	MinReductionPercent uint8

	// ZstdLevel applies when Codec is Zstd.
	ZstdLevel ZstdLevel
}

// DefaultConfig compresses with zstd at the default level.
func DefaultConfig() Config {
	return Config{Codec: Zstd, MinReductionPercent: 8, ZstdLevel: ZstdDefault}
}

// NoCompressionConfig stores payloads raw.
func NoCompressionConfig() Config {
	return Config{Codec: None}
}

// Compressor compresses transaction payloads. Implementations report the
// codec actually applied: a payload below the reduction threshold falls
// back to None.
type Compressor interface {
	Compress(dst, src []byte) ([]byte, Codec, error)
}

// NewCompressor builds a compressor for the configuration.
func NewCompressor(cfg Config) (Compressor, error) {
	switch cfg.Codec {
	case None:
		return noneCompressor{}, nil
	case Zstd:
		return newZstdCompressor(cfg)
	case S2:
		return s2Compressor{min: cfg.MinReductionPercent}, nil
	case Snappy:
		return snappyCompressor{min: cfg.MinReductionPercent}, nil
	}
	return nil, fmt.Errorf("unknown compression codec: %d", cfg.Codec)
}

// tooSmall reports whether compressed output misses the reduction threshold.
func tooSmall(min uint8, srcLen, dstLen int) bool {
	if min == 0 || srcLen == 0 {
		return false
	}
	return (srcLen-dstLen)*100/srcLen < int(min)
}

func copyInto(dst, src []byte) []byte {
	if cap(dst) < len(src) {
		dst = make([]byte, len(src))
	}
	dst = dst[:len(src)]
	copy(dst, src)
	return dst
}

type noneCompressor struct{}

func (noneCompressor) Compress(dst, src []byte) ([]byte, Codec, error) {
	return copyInto(dst, src), None, nil
}

type zstdCompressor struct {
	enc *zstd.Encoder
	min uint8
}

func newZstdCompressor(cfg Config) (Compressor, error) {
	var level zstd.EncoderLevel
	switch cfg.ZstdLevel {
	case ZstdFastest:
		level = zstd.SpeedFastest
	case ZstdBetter:
		level = zstd.SpeedBetterCompression
	case ZstdBest:
		level = zstd.SpeedBestCompression
	default:
		level = zstd.SpeedDefault
	}
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(level),
		zstd.WithLowerEncoderMem(true),
		zstd.WithWindowSize(1<<20))
	if err != nil {
		return nil, err
	}
	return &zstdCompressor{enc: enc, min: cfg.MinReductionPercent}, nil
}

func (c *zstdCompressor) Compress(dst, src []byte) ([]byte, Codec, error) {
	out := c.enc.EncodeAll(src, dst[:0])
	if tooSmall(c.min, len(src), len(out)) {
		return copyInto(dst, src), None, nil
	}
	return out, Zstd, nil
}

type s2Compressor struct {
	min uint8
}

func (c s2Compressor) Compress(dst, src []byte) ([]byte, Codec, error) {
	out := s2.Encode(dst[:0], src)
	if tooSmall(c.min, len(src), len(out)) {
		return copyInto(dst, src), None, nil
	}
	return out, S2, nil
}

type snappyCompressor struct {
	min uint8
}

func (c snappyCompressor) Compress(dst, src []byte) ([]byte, Codec, error) {
	out := snappy.Encode(dst[:0], src)
	if tooSmall(c.min, len(src), len(out)) {
		return copyInto(dst, src), None, nil
	}
	return out, Snappy, nil
}
