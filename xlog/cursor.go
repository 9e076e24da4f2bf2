package xlog

import (
	"io"
	"os"

	"github.com/cockroachdb/errors"

	"github.com/shellac-db/shellac/bufferpool"
	"github.com/shellac-db/shellac/compression"
)

// Cursor reads an xlog file sequentially: header, then transaction by
// transaction, row by row.
type Cursor struct {
	f        *os.File
	path     string
	dec      *compression.Decompressor
	off      int64
	payload  []byte
	rowOff   int
	inTx     bool
	detached bool
}

// OpenCursor opens path and validates the container header against the
// wanted file type.
func OpenCursor(path string, want FileType) (*Cursor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	var hdr [FileHeaderSize]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		f.Close()
		return nil, errors.Wrapf(ErrFormat, "%s: short header", path)
	}
	ft, err := checkFileHeader(hdr[:])
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "%s", path)
	}
	if ft != want {
		f.Close()
		return nil, errors.Wrapf(ErrFormat, "%s: wrong file type (expected %s, got %s)",
			path, want, ft)
	}
	dec, err := compression.NewDecompressor()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Cursor{f: f, path: path, dec: dec, off: FileHeaderSize}, nil
}

// Path returns the file path the cursor was opened with.
func (c *Cursor) Path() string { return c.path }

// NextTx loads and decompresses the next transaction frame. Returns io.EOF
// cleanly at end of file.
func (c *Cursor) NextTx() error {
	c.inTx = false
	var hdrBuf [TxHeaderSize]byte
	n, err := c.f.ReadAt(hdrBuf[:], c.off)
	if n == 0 && err == io.EOF {
		return io.EOF
	}
	if n < TxHeaderSize {
		return errors.Wrapf(ErrFormat, "%s: truncated tx header", c.path)
	}
	hdr, err := decodeTxHeader(hdrBuf[:])
	if err != nil {
		return errors.Wrapf(err, "%s", c.path)
	}
	packed := bufferpool.GetBuffer(int(hdr.packed))
	defer bufferpool.PutBuffer(packed)
	if pn, _ := c.f.ReadAt(packed, c.off+TxHeaderSize); pn < len(packed) {
		return errors.Wrapf(ErrFormat, "%s: truncated tx payload", c.path)
	}
	frame := bufferpool.GetBuffer(TxHeaderSize + int(hdr.packed))
	defer bufferpool.PutBuffer(frame)
	copy(frame, hdrBuf[:])
	copy(frame[TxHeaderSize:], packed)
	if cap(c.payload) < int(hdr.unpacked) {
		c.payload = make([]byte, hdr.unpacked)
	}
	c.payload = c.payload[:hdr.unpacked]
	if err := DecodeTxInto(c.payload, frame, c.dec); err != nil {
		return errors.Wrapf(err, "%s", c.path)
	}
	c.off += TxHeaderSize + int64(hdr.packed)
	c.rowOff = 0
	c.inTx = true
	return nil
}

// NextRow decodes the next row of the current transaction. Returns io.EOF
// at the end of the transaction.
func (c *Cursor) NextRow() (Row, error) {
	if !c.inTx {
		return Row{}, errors.Wrapf(ErrFormat, "%s: no current transaction", c.path)
	}
	if c.rowOff >= len(c.payload) {
		return Row{}, io.EOF
	}
	row, next, err := DecodeRowAt(c.payload, c.rowOff)
	if err != nil {
		return Row{}, errors.Wrapf(err, "%s", c.path)
	}
	c.rowOff = next
	return row, nil
}

// Detach hands ownership of the underlying file to the caller. Close will
// no longer close it.
func (c *Cursor) Detach() *os.File {
	c.detached = true
	return c.f
}

// Close releases the cursor and, unless detached, the file.
func (c *Cursor) Close() error {
	c.dec.Close()
	if c.detached {
		return nil
	}
	return c.f.Close()
}
