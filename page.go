package shellac

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/cockroachdb/errors"

	"github.com/shellac-db/shellac/bufferpool"
	"github.com/shellac-db/shellac/compression"
	"github.com/shellac-db/shellac/stmt"
	"github.com/shellac-db/shellac/xlog"
)

// Page is a materialised run page: the decompressed payload plus the
// per-row offset table. Rows stay encoded until asked for.
type Page struct {
	pageNo       uint32
	rowCount     uint32
	unpackedSize uint32
	indexOffset  uint32
	data         []byte
	offsets      []uint32
}

// RowCount returns the number of statement rows in the page.
func (p *Page) RowCount() uint32 { return p.rowCount }

// rowData returns the encoded bytes of row i, offset-table row excluded.
func (p *Page) rowData(i uint32) []byte {
	start := p.offsets[i]
	var end uint32
	if i+1 < p.rowCount {
		end = p.offsets[i+1]
	} else {
		// The offset table row follows the last statement row.
		end = p.indexOffset
	}
	return p.data[start:end]
}

// Statement decodes row i. The result aliases the page buffer; callers
// that keep it past the page's lifetime must Clone it.
func (p *Page) Statement(i uint32) (*stmt.Statement, error) {
	row, _, err := xlog.DecodeRowAt(p.data, int(p.offsets[i]))
	if err != nil {
		return nil, err
	}
	if !stmt.IsStatement(row.Type) {
		return nil, errors.Newf("unexpected row type %d at page row %d", row.Type, i)
	}
	return stmt.DecodeBody(stmt.Kind(row.Type), row.Body)
}

// ReadPage reads and decodes one page: positional read of the frame,
// streaming decompression into a buffer of exactly the unpacked size, then
// the offset-table row at the recorded position. The decompressor is reset
// per page, so one context serves many reads.
func ReadPage(pi *PageInfo, f *os.File, dec *compression.Decompressor) (*Page, error) {
	if f == nil {
		return nil, errors.WithStack(ErrClosed)
	}
	frame := bufferpool.GetBuffer(int(pi.Size))
	defer bufferpool.PutBuffer(frame)
	n, err := f.ReadAt(frame, int64(pi.Offset))
	if err != nil && !(err == io.EOF && n == len(frame)) {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, errInvalidRun(f.Name(), "unexpected EOF")
		}
		return nil, errors.Wrapf(err, "read page at %d", pi.Offset)
	}
	if err := failpoint(FailpointReadPage); err != nil {
		return nil, err
	}

	page := &Page{
		rowCount:     pi.RowCount,
		unpackedSize: pi.UnpackedSize,
		indexOffset:  pi.PageIndexOffset,
		data:         make([]byte, pi.UnpackedSize),
	}
	if err := xlog.DecodeTxInto(page.data, frame, dec); err != nil {
		return nil, wrapInvalidRun(err, f.Name())
	}

	if pi.PageIndexOffset >= pi.UnpackedSize {
		return nil, errInvalidRun(f.Name(), "page index offset %d beyond payload %d",
			pi.PageIndexOffset, pi.UnpackedSize)
	}
	row, _, err := xlog.DecodeRowAt(page.data, int(pi.PageIndexOffset))
	if err != nil {
		return nil, wrapInvalidRun(err, f.Name())
	}
	if row.Type != xlog.RowPageIndex {
		return nil, errInvalidRun(f.Name(), "wrong page index type (expected %d, got %d)",
			xlog.RowPageIndex, row.Type)
	}
	offsets, err := decodePageIndex(row.Body, pi.RowCount, f.Name())
	if err != nil {
		return nil, err
	}
	page.offsets = offsets
	return page, nil
}

// decodePageIndex extracts the row offset table from a PAGE_INDEX row body.
func decodePageIndex(body []byte, rowCount uint32, path string) ([]uint32, error) {
	var blob []byte
	err := xlog.WalkMap(body, func(id uint64, val []byte) error {
		if id == pageIndexIndex {
			blob = val
		}
		return nil
	})
	if err != nil {
		return nil, wrapInvalidRun(err, path)
	}
	if uint32(len(blob)) != 4*rowCount {
		return nil, errInvalidRun(path, "wrong page index size (expected %d, got %d)",
			4*rowCount, len(blob))
	}
	offsets := make([]uint32, rowCount)
	for i := range offsets {
		offsets[i] = binary.LittleEndian.Uint32(blob[4*i:])
	}
	return offsets, nil
}
