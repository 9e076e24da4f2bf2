package shellac

import (
	"github.com/shellac-db/shellac/keys"
	"github.com/shellac-db/shellac/stmt"
)

// SliceStream scans a slice forward, page by page. Compaction opens one
// stream per input slice and merges them; the stream keeps at most one
// page resident.
type SliceStream struct {
	env   *RunEnv
	slice *Slice
	def   *keys.KeyDef

	pageNo    uint32
	posInPage uint32
	page      *Page
	tuple     *stmt.Statement

	started bool
}

// NewSliceStream opens a stream over slice. Like the iterator, the stream
// borrows the slice.
func NewSliceStream(env *RunEnv, slice *Slice, def *keys.KeyDef) *SliceStream {
	return &SliceStream{
		env:    env,
		slice:  slice,
		def:    def,
		pageNo: slice.firstPageNo,
	}
}

// readPage materialises the current page. Streams run on compaction
// workers, so reads are always direct.
func (st *SliceStream) readPage() error {
	p, err := st.env.readPageDirect(st.slice.run, st.slice.run.info.Page(st.pageNo), st.pageNo)
	if err != nil {
		return err
	}
	st.page = p
	return nil
}

// seekBegin positions the stream on the first statement >= slice.begin.
func (st *SliceStream) seekBegin() error {
	if st.slice.begin == nil {
		return nil
	}
	if err := st.readPage(); err != nil {
		return err
	}
	beg, end := uint32(0), st.page.rowCount
	for beg != end {
		mid := beg + (end-beg)/2
		s, err := st.page.Statement(mid)
		if err != nil {
			return err
		}
		if stmt.CompareWithKey(s, st.slice.begin, st.def) < 0 {
			beg = mid + 1
		} else {
			end = mid
		}
	}
	st.posInPage = end
	if st.posInPage == st.page.rowCount {
		// The window starts on the next page.
		st.page = nil
		st.pageNo++
		st.posInPage = 0
	}
	return nil
}

// Next returns the next statement in the slice, or (nil, nil) at the end.
func (st *SliceStream) Next() (*stmt.Statement, error) {
	if !st.started {
		st.started = true
		if st.slice.Empty() {
			st.pageNo = st.slice.run.info.PageCount
		} else if err := st.seekBegin(); err != nil {
			return nil, err
		}
	}
	if st.pageNo >= st.slice.run.info.PageCount ||
		(!st.slice.Empty() && st.pageNo > st.slice.lastPageNo) {
		return nil, nil
	}
	if st.page == nil {
		if err := st.readPage(); err != nil {
			return nil, err
		}
	}
	s, err := st.page.Statement(st.posInPage)
	if err != nil {
		return nil, err
	}
	if st.slice.end != nil && st.pageNo == st.slice.lastPageNo &&
		stmt.CompareWithKey(s, st.slice.end, st.def) >= 0 {
		return nil, nil
	}
	s = s.Clone()
	st.tuple = s

	st.posInPage++
	if st.posInPage >= st.page.rowCount {
		st.page = nil
		st.pageNo++
		st.posInPage = 0
	}
	return s, nil
}

// Close drops the resident page and the stashed statement.
func (st *SliceStream) Close() {
	st.page = nil
	st.tuple = nil
}
