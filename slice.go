package shellac

import (
	"sync"

	"github.com/shellac-db/shellac/keys"
)

// Slice is the key window `[begin, end)` an LSM range exposes over a run.
// Many slices may reference one run. The page window covering the interval
// is precomputed at construction; redundant bounds are dropped.
type Slice struct {
	id  int64
	run *Run

	// begin and end are nil when the slice covers the run edge-to-edge on
	// that side.
	begin keys.Key
	end   keys.Key

	firstPageNo uint32
	lastPageNo  uint32

	// empty marks the degenerate window whose end falls before the first
	// page. firstPageNo/lastPageNo are meaningless then.
	empty bool

	// keysEst and sizeEst are proportional estimates over the page window.
	keysEst uint64
	sizeEst uint64

	mu       sync.Mutex
	pinCond  sync.Cond
	pinCount int
}

// NewSlice builds a slice over run bounded to [begin, end). Nil bounds
// mean unbounded. The slice takes its own run reference.
func NewSlice(id int64, run *Run, begin, end keys.Key, def *keys.KeyDef) *Slice {
	s := &Slice{id: id, run: run, begin: begin, end: end}
	s.pinCond.L = &s.mu
	run.Ref()
	s.setUpBeginning(def)
	s.setUpEnd(def)
	count := uint64(0)
	if !s.empty && run.info.PageCount > 0 {
		count = uint64(s.lastPageNo - s.firstPageNo + 1)
	}
	if run.info.PageCount > 0 {
		pc := uint64(run.info.PageCount)
		s.keysEst = (run.info.Keys*count + pc - 1) / pc
		s.sizeEst = (run.info.Size*count + pc - 1) / pc
	}
	return s
}

// setUpBeginning finds the first page that may hold begin. A begin at or
// below the first page's min key bounds nothing and is dropped.
func (s *Slice) setUpBeginning(def *keys.KeyDef) {
	info := &s.run.info
	if s.begin == nil || info.PageCount == 0 {
		s.firstPageNo = 0
		return
	}
	// Highest page with min_key < begin; the boundary key itself may
	// spread backwards into that page.
	beg, end := uint32(0), info.PageCount
	for beg != end {
		mid := beg + (end-beg)/2
		if def.Compare(info.Pages[mid].MinKey, s.begin) < 0 {
			beg = mid + 1
		} else {
			end = mid
		}
	}
	if end == 0 {
		s.begin = nil
		s.firstPageNo = 0
		return
	}
	s.firstPageNo = end - 1
}

// setUpEnd finds the last page that may hold keys below end.
func (s *Slice) setUpEnd(def *keys.KeyDef) {
	info := &s.run.info
	if info.PageCount == 0 {
		s.lastPageNo = 0
		s.empty = true
		return
	}
	if s.end == nil {
		s.lastPageNo = info.PageCount - 1
		return
	}
	// Highest page with min_key <= end.
	beg, end := uint32(0), info.PageCount
	for beg != end {
		mid := beg + (end-beg)/2
		if def.Compare(info.Pages[mid].MinKey, s.end) <= 0 {
			beg = mid + 1
		} else {
			end = mid
		}
	}
	if end == 0 {
		// The first page's min key is already past the window.
		s.lastPageNo = 0
		s.empty = true
		return
	}
	s.lastPageNo = end - 1
}

// Cut intersects [begin, end) with the slice's own window and returns a
// new slice over the same run, or nil when the intersection is empty.
func (s *Slice) Cut(id int64, begin, end keys.Key, def *keys.KeyDef) *Slice {
	if begin != nil && s.end != nil && def.Compare(begin, s.end) >= 0 {
		return nil
	}
	if end != nil && s.begin != nil && def.Compare(end, s.begin) <= 0 {
		return nil
	}
	if s.begin != nil && (begin == nil || def.Compare(begin, s.begin) < 0) {
		begin = s.begin
	}
	if s.end != nil && (end == nil || def.Compare(end, s.end) > 0) {
		end = s.end
	}
	return NewSlice(id, s.run, begin, end, def)
}

// ID returns the slice id.
func (s *Slice) ID() int64 { return s.id }

// Run returns the referenced run.
func (s *Slice) Run() *Run { return s.run }

// Begin returns the lower bound, nil if unbounded.
func (s *Slice) Begin() keys.Key { return s.begin }

// End returns the exclusive upper bound, nil if unbounded.
func (s *Slice) End() keys.Key { return s.end }

// FirstPageNo returns the first page of the window.
func (s *Slice) FirstPageNo() uint32 { return s.firstPageNo }

// LastPageNo returns the last page of the window, inclusive.
func (s *Slice) LastPageNo() uint32 { return s.lastPageNo }

// Empty reports whether the window provably holds no keys.
func (s *Slice) Empty() bool { return s.empty }

// KeysEst estimates the number of rows in the window.
func (s *Slice) KeysEst() uint64 { return s.keysEst }

// SizeEst estimates the on-disk bytes of the window.
func (s *Slice) SizeEst() uint64 { return s.sizeEst }

// Pin blocks teardown of the slice and the run's file descriptor while a
// worker reads on its behalf.
func (s *Slice) Pin() {
	s.mu.Lock()
	s.pinCount++
	s.mu.Unlock()
}

// Unpin releases a pin and wakes a waiting destroyer.
func (s *Slice) Unpin() {
	s.mu.Lock()
	s.pinCount--
	if s.pinCount == 0 {
		s.pinCond.Broadcast()
	}
	s.mu.Unlock()
}

// WaitPinned blocks until no reads are in flight.
func (s *Slice) WaitPinned() {
	s.mu.Lock()
	for s.pinCount > 0 {
		s.pinCond.Wait()
	}
	s.mu.Unlock()
}

// Release waits out in-flight reads and drops the run reference. The slice
// must not be used afterwards.
func (s *Slice) Release() {
	s.WaitPinned()
	s.run.Unref()
}
