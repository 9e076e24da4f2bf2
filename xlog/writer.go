package xlog

import (
	"bufio"
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"

	"github.com/shellac-db/shellac/compression"
)

// TxBuilder accumulates rows for one transaction frame and tracks the byte
// offset of each row within the unpacked payload.
type TxBuilder struct {
	payload []byte
	offsets []uint32
}

// AppendRow adds a row and returns its offset within the payload.
func (b *TxBuilder) AppendRow(t uint8, body []byte) uint32 {
	off := uint32(len(b.payload))
	b.payload = AppendRow(b.payload, t, body)
	b.offsets = append(b.offsets, off)
	return off
}

// Len returns the current unpacked payload size.
func (b *TxBuilder) Len() int { return len(b.payload) }

// RowOffsets returns the offset of every appended row.
func (b *TxBuilder) RowOffsets() []uint32 { return b.offsets }

// Reset clears the builder for reuse.
func (b *TxBuilder) Reset() {
	b.payload = b.payload[:0]
	b.offsets = b.offsets[:0]
}

// Writer produces an xlog container file.
type Writer struct {
	f    *os.File
	w    *bufio.Writer
	path string
	comp compression.Compressor
	off  uint64
	ztmp []byte
}

// Create opens a new container at path with the given file type tag.
func Create(path string, ft FileType, cfg compression.Config) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	comp, err := compression.NewCompressor(cfg)
	if err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := &Writer{f: f, w: bufio.NewWriter(f), path: path, comp: comp}
	if _, err := w.w.Write(appendFileHeader(nil, ft)); err != nil {
		f.Close()
		return nil, err
	}
	w.off = FileHeaderSize
	return w, nil
}

// Offset returns the file offset the next transaction frame will start at.
func (w *Writer) Offset() uint64 { return w.off }

// WriteTx compresses and writes one transaction frame. It returns the
// frame's file offset and its total on-disk size including the header.
func (w *Writer) WriteTx(b *TxBuilder) (offset uint64, size uint32, err error) {
	packed, codec, err := w.comp.Compress(w.ztmp[:0], b.payload)
	if err != nil {
		return 0, 0, err
	}
	w.ztmp = packed[:0]

	var hdr [TxHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:], TxMagic)
	binary.LittleEndian.PutUint32(hdr[4:], uint32(len(packed)))
	binary.LittleEndian.PutUint32(hdr[8:], uint32(len(b.payload)))
	hdr[12] = uint8(codec)
	binary.LittleEndian.PutUint32(hdr[16:], crc32.Checksum(packed, crcTable))

	offset = w.off
	if _, err := w.w.Write(hdr[:]); err != nil {
		return 0, 0, err
	}
	if _, err := w.w.Write(packed); err != nil {
		return 0, 0, err
	}
	size = uint32(TxHeaderSize + len(packed))
	w.off += uint64(size)
	return offset, size, nil
}

// Close flushes, syncs and closes the file.
func (w *Writer) Close() error {
	if err := w.w.Flush(); err != nil {
		w.f.Close()
		return err
	}
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}
