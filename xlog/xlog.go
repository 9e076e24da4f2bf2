// Package xlog implements the framed container format shared by run data
// files and their index siblings: a typed file header followed by CRC'd,
// optionally compressed transaction frames, each holding a sequence of
// typed rows.
package xlog

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/cockroachdb/errors"

	"github.com/shellac-db/shellac/compression"
)

const (
	// FileMagic opens every xlog file.
	FileMagic = 0x73686c78 // "shlx"

	// TxMagic opens every transaction frame.
	TxMagic = 0x0a74780a

	// FormatVersion is the current container version.
	FormatVersion = 1

	// FileHeaderSize is the fixed size of the file header:
	// magic u32 | version u32 | filetype [12]byte | crc u32.
	FileHeaderSize = 24

	// TxHeaderSize is the fixed size of a frame header:
	// magic u32 | packed u32 | unpacked u32 | codec u8 | pad [3]byte | crc u32.
	TxHeaderSize = 20

	fileTypeLen = 12
)

// FileType tags what a container holds.
type FileType string

const (
	// FileTypeRun tags page data files.
	FileTypeRun FileType = "RUN"

	// FileTypeIndex tags run metadata files.
	FileTypeIndex FileType = "INDEX"
)

// Row types for metadata rows. Statement rows use stmt.Kind values (1..3).
const (
	// RowRunInfo is the run metadata row, first row of an index file.
	RowRunInfo uint8 = 100

	// RowPageInfo describes one page; index files carry one per page.
	RowPageInfo uint8 = 101

	// RowPageIndex is the per-page offset table, last row of each page.
	RowPageIndex uint8 = 102
)

// ErrFormat marks structural defects in a container file.
var ErrFormat = errors.New("xlog: malformed file")

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Row is one typed row within a transaction payload.
type Row struct {
	Type uint8
	Body []byte
}

// AppendRow appends a framed row to dst: uvarint length of (type+body),
// then the type byte and body.
func AppendRow(dst []byte, t uint8, body []byte) []byte {
	dst = binary.AppendUvarint(dst, uint64(1+len(body)))
	dst = append(dst, t)
	dst = append(dst, body...)
	return dst
}

// DecodeRowAt decodes the row starting at off within a decompressed
// payload and returns it with the offset of the next row. The body aliases
// the payload.
func DecodeRowAt(payload []byte, off int) (Row, int, error) {
	if off < 0 || off >= len(payload) {
		return Row{}, 0, errors.Wrapf(ErrFormat, "row offset %d out of payload", off)
	}
	l, n := binary.Uvarint(payload[off:])
	if n <= 0 || l == 0 {
		return Row{}, 0, errors.Wrap(ErrFormat, "bad row length")
	}
	start := off + n
	end := start + int(l)
	if end > len(payload) {
		return Row{}, 0, errors.Wrap(ErrFormat, "row overruns payload")
	}
	return Row{Type: payload[start], Body: payload[start+1 : end]}, end, nil
}

// appendFileHeader serialises the file header.
func appendFileHeader(dst []byte, ft FileType) []byte {
	var hdr [FileHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:], FileMagic)
	binary.LittleEndian.PutUint32(hdr[4:], FormatVersion)
	copy(hdr[8:8+fileTypeLen], ft)
	crc := crc32.Checksum(hdr[:FileHeaderSize-4], crcTable)
	binary.LittleEndian.PutUint32(hdr[FileHeaderSize-4:], crc)
	return append(dst, hdr[:]...)
}

// checkFileHeader validates a file header and returns its file type.
func checkFileHeader(hdr []byte) (FileType, error) {
	if len(hdr) < FileHeaderSize {
		return "", errors.Wrap(ErrFormat, "short file header")
	}
	if binary.LittleEndian.Uint32(hdr) != FileMagic {
		return "", errors.Wrap(ErrFormat, "bad magic")
	}
	if v := binary.LittleEndian.Uint32(hdr[4:]); v != FormatVersion {
		return "", errors.Wrapf(ErrFormat, "unsupported version %d", v)
	}
	want := binary.LittleEndian.Uint32(hdr[FileHeaderSize-4:])
	if got := crc32.Checksum(hdr[:FileHeaderSize-4], crcTable); got != want {
		return "", errors.Wrap(ErrFormat, "file header checksum mismatch")
	}
	ft := hdr[8 : 8+fileTypeLen]
	end := 0
	for end < len(ft) && ft[end] != 0 {
		end++
	}
	return FileType(ft[:end]), nil
}

// txHeader is the decoded frame header.
type txHeader struct {
	packed   uint32
	unpacked uint32
	codec    compression.Codec
	crc      uint32
}

func decodeTxHeader(hdr []byte) (txHeader, error) {
	if len(hdr) < TxHeaderSize {
		return txHeader{}, errors.Wrap(ErrFormat, "short tx header")
	}
	if binary.LittleEndian.Uint32(hdr) != TxMagic {
		return txHeader{}, errors.Wrap(ErrFormat, "bad tx magic")
	}
	return txHeader{
		packed:   binary.LittleEndian.Uint32(hdr[4:]),
		unpacked: binary.LittleEndian.Uint32(hdr[8:]),
		codec:    compression.Codec(hdr[12]),
		crc:      binary.LittleEndian.Uint32(hdr[16:]),
	}, nil
}

// DecodeTxInto expands one complete transaction frame into dst, which must
// be sized to the frame's unpacked length. frame must hold the whole frame
// and nothing else: positional page reads never span frames.
func DecodeTxInto(dst, frame []byte, dec *compression.Decompressor) error {
	hdr, err := decodeTxHeader(frame)
	if err != nil {
		return err
	}
	if int(hdr.packed) != len(frame)-TxHeaderSize {
		return errors.Wrapf(ErrFormat, "frame size mismatch (header %d, have %d)",
			hdr.packed, len(frame)-TxHeaderSize)
	}
	if int(hdr.unpacked) != len(dst) {
		return errors.Wrapf(ErrFormat, "unpacked size mismatch (header %d, want %d)",
			hdr.unpacked, len(dst))
	}
	payload := frame[TxHeaderSize:]
	if got := crc32.Checksum(payload, crcTable); got != hdr.crc {
		return errors.Wrap(ErrFormat, "tx checksum mismatch")
	}
	return dec.Decompress(dst, payload, hdr.codec)
}
