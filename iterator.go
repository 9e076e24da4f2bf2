package shellac

import (
	"context"

	"github.com/shellac-db/shellac/bloom"
	"github.com/shellac-db/shellac/keys"
	"github.com/shellac-db/shellac/stmt"
)

// SeekType selects the direction and matching rule of an iterator seek.
type SeekType int

const (
	// EQ visits versions of the search key only.
	EQ SeekType = iota

	// GE iterates forward from the first key >= the search key.
	GE

	// GT iterates forward from the first key > the search key.
	GT

	// LE iterates backward from the last key <= the search key.
	LE

	// LT iterates backward from the last key < the search key.
	LT
)

// String returns the seek type name.
func (t SeekType) String() string {
	switch t {
	case EQ:
		return "EQ"
	case GE:
		return "GE"
	case GT:
		return "GT"
	case LE:
		return "LE"
	case LT:
		return "LT"
	}
	return "?"
}

func (t SeekType) reverse() bool { return t == LE || t == LT }

// ReadView is the MVCC snapshot cutoff: statements with a newer LSN are
// invisible to the iterator.
type ReadView interface {
	VLSN() uint64
}

// VLSN is a fixed read view.
type VLSN uint64

// VLSN returns the cutoff itself.
func (v VLSN) VLSN() uint64 { return uint64(v) }

// pos is a wide position within a run.
type pos struct {
	pageNo    uint32
	posInPage uint32
}

// IteratorConfig opens an Iterator.
type IteratorConfig struct {
	// Type and Key are the seek request. An empty key degrades to a full
	// forward or backward scan.
	Type SeekType
	Key  keys.Key

	// ReadView filters versions. Required.
	ReadView ReadView

	// KeyDef is the index's full ordering; UserKeyDef covers the
	// user-visible parts and drives bloom probing and EQ completeness.
	KeyDef     *keys.KeyDef
	UserKeyDef *keys.KeyDef

	// CoioRead routes page loads through the off-thread pool. Set on the
	// query path after recovery; recovery and worker contexts read
	// directly.
	CoioRead bool

	// IsPrimary marks iterators over a primary index.
	IsPrimary bool

	// Context bounds offloaded reads. Nil means context.Background().
	Context context.Context
}

// Iterator is a seekable, MVCC-filtered iterator over one slice. It is
// owned by a single task; never share across tasks.
type Iterator struct {
	env   *RunEnv
	slice *Slice
	ctx   context.Context

	typ       SeekType
	key       keys.Key
	rv        ReadView
	def       *keys.KeyDef
	userDef   *keys.KeyDef
	coioRead  bool
	isPrimary bool

	currPos     pos
	currStmt    *stmt.Statement
	currStmtPos pos

	// Two-slot page LRU. Two slots cover the binary-search case where the
	// anchor page must stay resident while the adjacent page loads.
	currPage *Page
	prevPage *Page

	searchStarted bool
	searchEnded   bool
}

// NewIterator opens an iterator over slice. The slice must outlive the
// iterator; the iterator borrows it without taking a reference.
func NewIterator(env *RunEnv, slice *Slice, cfg IteratorConfig) *Iterator {
	it := &Iterator{
		env:       env,
		slice:     slice,
		ctx:       cfg.Context,
		typ:       cfg.Type,
		key:       cfg.Key,
		rv:        cfg.ReadView,
		def:       cfg.KeyDef,
		userDef:   cfg.UserKeyDef,
		coioRead:  cfg.CoioRead,
		isPrimary: cfg.IsPrimary,
	}
	if it.ctx == nil {
		it.ctx = context.Background()
	}
	if it.userDef == nil {
		it.userDef = it.def
	}
	if cfg.Key.PartCount() == 0 {
		// No key: degrade to a plain directional scan.
		if cfg.Type == LT || cfg.Type == LE {
			it.typ = LE
		} else {
			it.typ = GE
		}
	}
	it.currPos = pos{pageNo: slice.run.info.PageCount}
	it.currStmtPos = pos{pageNo: ^uint32(0)}
	return it
}

/* two-slot page cache */

func (it *Iterator) cacheGet(pageNo uint32) *Page {
	if it.currPage != nil {
		if it.currPage.pageNo == pageNo {
			return it.currPage
		}
		if it.prevPage != nil && it.prevPage.pageNo == pageNo {
			it.prevPage, it.currPage = it.currPage, it.prevPage
			return it.currPage
		}
	}
	return nil
}

// cacheTouch promotes pageNo so the next cachePut cannot evict it. The
// page must be resident.
func (it *Iterator) cacheTouch(pageNo uint32) {
	it.cacheGet(pageNo)
}

func (it *Iterator) cachePut(p *Page, pageNo uint32) {
	it.prevPage = it.currPage
	it.currPage = p
	p.pageNo = pageNo
}

func (it *Iterator) cacheClean() {
	it.currStmt = nil
	it.currStmtPos = pos{pageNo: ^uint32(0)}
	it.currPage = nil
	it.prevPage = nil
}

/* page access */

func (it *Iterator) loadPage(pageNo uint32) (*Page, error) {
	if p := it.cacheGet(pageNo); p != nil {
		return p, nil
	}
	pi := it.slice.run.info.Page(pageNo)
	var (
		p   *Page
		err error
	)
	if it.coioRead {
		p, err = it.env.readPageOffthread(it.ctx, it.slice, pi, pageNo)
	} else {
		p, err = it.env.readPageDirect(it.slice.run, pi, pageNo)
	}
	if err != nil {
		return nil, err
	}
	it.cachePut(p, pageNo)
	return p, nil
}

// read materialises the statement at an arbitrary position. The result is
// detached from the page buffer.
func (it *Iterator) read(at pos) (*stmt.Statement, error) {
	p, err := it.loadPage(at.pageNo)
	if err != nil {
		return nil, err
	}
	s, err := p.Statement(at.posInPage)
	if err != nil {
		return nil, err
	}
	return s.Clone(), nil
}

/* binary search */

// searchPage runs lower_bound (EQ, GE, LT) or upper_bound (GT, LE) over
// the page min keys. Returns the insertion index and whether any page min
// equalled the key.
func (it *Iterator) searchPage(typ SeekType, key keys.Key) (uint32, bool) {
	info := &it.slice.run.info
	zeroCmp := 0
	if typ == GT || typ == LE {
		zeroCmp = -1
	}
	equal := false
	beg, end := uint32(0), info.PageCount
	for beg != end {
		mid := beg + (end-beg)/2
		c := it.def.Compare(info.Pages[mid].MinKey, key)
		if c == 0 {
			c = zeroCmp
		}
		if c == 0 {
			equal = true
		}
		if c < 0 {
			beg = mid + 1
		} else {
			end = mid
		}
	}
	return end, equal
}

// searchInPage is the same bound search within one page's rows.
func (it *Iterator) searchInPage(typ SeekType, key keys.Key, p *Page) (uint32, bool, error) {
	zeroCmp := 0
	if typ == GT || typ == LE {
		zeroCmp = -1
	}
	equal := false
	beg, end := uint32(0), p.rowCount
	for beg != end {
		mid := beg + (end-beg)/2
		s, err := p.Statement(mid)
		if err != nil {
			return 0, false, err
		}
		c := stmt.CompareWithKey(s, key, it.def)
		if c == 0 {
			c = zeroCmp
		}
		if c == 0 {
			equal = true
		}
		if c < 0 {
			beg = mid + 1
		} else {
			end = mid
		}
	}
	return end, equal, nil
}

// search locates the bound position for key across the whole run.
func (it *Iterator) search(typ SeekType, key keys.Key) (pos, bool, error) {
	pageNo, equal := it.searchPage(typ, key)
	if pageNo == 0 {
		return pos{0, 0}, equal, nil
	}
	pageNo--
	p, err := it.loadPage(pageNo)
	if err != nil {
		return pos{}, false, err
	}
	inPage, equalInPage, err := it.searchInPage(typ, key, p)
	if err != nil {
		return pos{}, false, err
	}
	if inPage == p.rowCount {
		// Landed past the page: the bound is the next page's first row,
		// and the page-min equality verdict stands.
		return pos{pageNo + 1, 0}, equal, nil
	}
	return pos{pageNo, inPage}, equalInPage, nil
}

/* stepping */

// nextPos computes the successor of currPos in the iteration direction.
// Returns false at the end of the run.
func (it *Iterator) nextPos(typ SeekType, out *pos) bool {
	info := &it.slice.run.info
	it.env.stats.Steps.Add(1)
	*out = it.currPos
	if typ.reverse() {
		if out.posInPage > 0 {
			out.posInPage--
			return true
		}
		if out.pageNo == 0 {
			return false
		}
		out.pageNo--
		out.posInPage = info.Pages[out.pageNo].RowCount - 1
		return true
	}
	out.posInPage++
	if out.posInPage >= info.Pages[out.pageNo].RowCount {
		out.pageNo++
		out.posInPage = 0
		if out.pageNo == info.PageCount {
			return false
		}
	}
	return true
}

// get returns the statement at currPos, caching it for repeated reads.
func (it *Iterator) get() (*stmt.Statement, error) {
	if it.searchEnded {
		return nil, nil
	}
	if it.currStmt != nil {
		if it.currStmtPos == it.currPos {
			return it.currStmt, nil
		}
		it.currStmt = nil
		it.currStmtPos = pos{pageNo: ^uint32(0)}
	}
	s, err := it.read(it.currPos)
	if err != nil {
		return nil, err
	}
	it.currStmt = s
	it.currStmtPos = it.currPos
	return s, nil
}

// findLSN skips versions newer than the read view. On entry the position
// must sit at the first statement of a key series in iteration order. For
// reverse directions it then walks on to the newest visible version of the
// key. Finally the result is checked against the slice bounds.
func (it *Iterator) findLSN(typ SeekType, key keys.Key) (*stmt.Statement, error) {
	vlsn := it.rv.VLSN()
	s, err := it.read(it.currPos)
	if err != nil {
		return nil, err
	}
	for s.LSN() > vlsn {
		if !it.nextPos(typ, &it.currPos) {
			it.cacheClean()
			it.searchEnded = true
			return nil, nil
		}
		s, err = it.read(it.currPos)
		if err != nil {
			return nil, err
		}
		if typ == EQ && stmt.CompareWithKey(s, key, it.def) != 0 {
			it.cacheClean()
			it.searchEnded = true
			return nil, nil
		}
	}
	if typ.reverse() {
		// The newest visible version sits first in key order, which is
		// last in reverse order: keep stepping while the key repeats.
		curPageNo := it.currPos.pageNo
		var test pos
		for it.nextPos(typ, &test) {
			// Keep the anchor page hot so loading the neighbour cannot
			// evict it mid-walk.
			it.cacheTouch(curPageNo)
			ts, err := it.read(test)
			if err != nil {
				return nil, err
			}
			if ts.LSN() > vlsn || stmt.Compare(s, ts, it.def) != 0 {
				break
			}
			it.currPos = test
			it.cacheTouch(curPageNo)
		}
	}
	res, err := it.get()
	if err != nil || res == nil {
		return res, err
	}
	if typ.reverse() {
		if it.slice.begin != nil &&
			stmt.CompareWithKey(res, it.slice.begin, it.def) < 0 {
			it.cacheClean()
			it.searchEnded = true
			return nil, nil
		}
	} else {
		if it.slice.end != nil &&
			stmt.CompareWithKey(res, it.slice.end, it.def) >= 0 {
			it.cacheClean()
			it.searchEnded = true
			return nil, nil
		}
	}
	return res, nil
}

/* seek */

// startFrom seeks without regard to slice bounds; start clamps first.
func (it *Iterator) startFrom(typ SeekType, key keys.Key) (*stmt.Statement, error) {
	info := &it.slice.run.info
	it.searchStarted = true

	if info.Bloom != nil && typ == EQ && it.userDef.IsComplete(key) {
		h := bloom.HashKey(key, it.userDef.PartCount)
		if !info.Bloom.MayContain(h) {
			it.searchEnded = true
			it.env.stats.BloomFiltered.Add(1)
			return nil, nil
		}
	}

	it.env.stats.Lookups.Add(1)

	switch info.PageCount {
	case 0:
		it.cacheClean()
		it.searchEnded = true
		return nil, nil
	case 1:
		// A bootstrap run may carry a single empty page.
		if info.Pages[0].RowCount == 0 {
			it.cacheClean()
			it.searchEnded = true
			return nil, nil
		}
		if _, err := it.loadPage(0); err != nil {
			return nil, err
		}
	}

	endPos := pos{pageNo: info.PageCount}
	equal := false
	if key.PartCount() > 0 {
		var err error
		it.currPos, equal, err = it.search(typ, key)
		if err != nil {
			return nil, err
		}
	} else if typ == LE {
		it.currPos = endPos
	} else {
		it.currPos = pos{0, 0}
	}
	if typ == EQ && !equal {
		it.cacheClean()
		it.searchEnded = true
		return nil, nil
	}
	if !typ.reverse() && it.currPos.pageNo == endPos.pageNo {
		it.cacheClean()
		it.searchEnded = true
		return nil, nil
	}
	if typ.reverse() {
		// Positioned on the bound itself; step back past it.
		return it.nextKey()
	}
	return it.findLSN(typ, key)
}

// start clamps the request against the slice bounds, then seeks.
func (it *Iterator) start() (*stmt.Statement, error) {
	typ, key := it.typ, it.key
	s := it.slice

	if s.begin != nil && (typ == GT || typ == GE || typ == EQ) {
		c := it.def.Compare(key, s.begin)
		if c < 0 && typ == EQ {
			it.searchStarted = true
			it.cacheClean()
			it.searchEnded = true
			return nil, nil
		}
		if c < 0 || (c == 0 && typ != GT) {
			typ = GE
			key = s.begin
		}
	}
	if s.end != nil && (typ == LT || typ == LE) {
		c := it.def.Compare(key, s.end)
		if c > 0 || (c == 0 && typ != LT) {
			typ = LT
			key = s.end
		}
	}
	return it.startFrom(typ, key)
}

/* public surface */

// fail transitions the iterator to its terminal state on an unrecoverable
// error, dropping cached pages so no partial state survives.
func (it *Iterator) fail() {
	it.cacheClean()
	it.searchEnded = true
}

// NextKey positions on the next distinct key and returns its newest
// visible version. The first call performs the seek. Returns (nil, nil) at
// the end of the slice.
func (it *Iterator) NextKey() (*stmt.Statement, error) {
	res, err := it.nextKeyOuter()
	if err != nil {
		it.fail()
	}
	return res, err
}

func (it *Iterator) nextKeyOuter() (*stmt.Statement, error) {
	if it.searchEnded {
		return nil, nil
	}
	if !it.searchStarted {
		if it.slice.Empty() {
			it.searchStarted = true
			it.searchEnded = true
			return nil, nil
		}
		return it.start()
	}
	return it.nextKey()
}

func (it *Iterator) nextKey() (*stmt.Statement, error) {
	info := &it.slice.run.info
	endPage := info.PageCount

	if it.typ.reverse() {
		if it.currPos.pageNo == 0 && it.currPos.posInPage == 0 {
			it.cacheClean()
			it.searchEnded = true
			return nil, nil
		}
		if it.currPos.pageNo == endPage {
			// Fresh reverse scan: hop onto the last row of the run.
			pageNo := endPage - 1
			p, err := it.loadPage(pageNo)
			if err != nil {
				return nil, err
			}
			if p.rowCount == 0 {
				it.cacheClean()
				it.searchEnded = true
				return nil, nil
			}
			it.currPos = pos{pageNo, p.rowCount - 1}
			return it.findLSN(it.typ, it.key)
		}
	}

	cur, err := it.read(it.currPos)
	if err != nil {
		return nil, err
	}
	curPageNo := it.currPos.pageNo

	// Skip the remaining versions of the current key.
	var next *stmt.Statement
	for {
		if !it.nextPos(it.typ, &it.currPos) {
			it.cacheClean()
			it.searchEnded = true
			return nil, nil
		}
		it.cacheTouch(curPageNo)
		next, err = it.read(it.currPos)
		if err != nil {
			return nil, err
		}
		it.cacheTouch(curPageNo)
		if stmt.Compare(cur, next, it.def) != 0 {
			break
		}
	}
	if it.typ == EQ && stmt.CompareWithKey(next, it.key, it.def) != 0 {
		it.cacheClean()
		it.searchEnded = true
		return nil, nil
	}
	return it.findLSN(it.typ, it.key)
}

// NextLSN returns the next older version of the current key, or (nil, nil)
// when none remains. Unlike NextKey it does not filter by the read view:
// the merge layer wants every older version in turn.
func (it *Iterator) NextLSN() (*stmt.Statement, error) {
	res, err := it.nextLSNOuter()
	if err != nil {
		it.fail()
	}
	return res, err
}

func (it *Iterator) nextLSNOuter() (*stmt.Statement, error) {
	if it.searchEnded {
		return nil, nil
	}
	if !it.searchStarted {
		if it.slice.Empty() {
			it.searchStarted = true
			it.searchEnded = true
			return nil, nil
		}
		return it.start()
	}
	var next pos
	if !it.nextPos(GE, &next) {
		return nil, nil
	}
	cur, err := it.read(it.currPos)
	if err != nil {
		return nil, err
	}
	ns, err := it.read(next)
	if err != nil {
		return nil, err
	}
	if stmt.Compare(cur, ns, it.def) != 0 {
		// Current key has no older version; hold position.
		return nil, nil
	}
	it.currPos = next
	return it.get()
}

// Restore re-seeks after the slice set changed beneath the iterator.
// lastStmt is the statement the merge layer last consumed. A never-started
// iterator given a nil lastStmt performs a plain start, and an iterator that
// has already started keeps its position and returns its current statement;
// only a never-started iterator given a lastStmt re-seeks past it. Returns
// the statement at the restored position and whether that position differs
// from lastStmt.
func (it *Iterator) Restore(lastStmt *stmt.Statement) (*stmt.Statement, bool, error) {
	res, changed, err := it.restore(lastStmt)
	if err != nil {
		it.fail()
	}
	return res, changed, err
}

func (it *Iterator) restore(lastStmt *stmt.Statement) (*stmt.Statement, bool, error) {
	if it.searchStarted || lastStmt == nil {
		if !it.searchStarted {
			res, err := it.nextKeyOuter()
			return res, false, err
		}
		res, err := it.get()
		return res, false, err
	}

	// Re-seek from the last consumed statement with a relaxed direction,
	// then roll past anything already seen.
	typ := it.typ
	switch typ {
	case GT, EQ:
		typ = GE
	case LT:
		typ = LE
	}
	next, err := it.startFrom(typ, lastStmt.Key())
	if err != nil || next == nil {
		return nil, false, err
	}
	changed := true
	if stmt.Compare(next, lastStmt, it.def) == 0 {
		changed = false
		if next.LSN() >= lastStmt.LSN() {
			for {
				next, err = it.NextLSN()
				if err != nil {
					return nil, false, err
				}
				if next == nil {
					next, err = it.NextKey()
					if err != nil {
						return nil, false, err
					}
					break
				}
				if next.LSN() < lastStmt.LSN() {
					break
				}
			}
			if next != nil {
				changed = true
			}
		}
	} else if it.typ == EQ && stmt.CompareWithKey(next, it.key, it.def) != 0 {
		it.cacheClean()
		it.searchEnded = true
		return nil, changed, nil
	}
	return next, changed, nil
}

// Cleanup releases pages and the cached statement. Call on the task that
// ran the iterator; Close may then run on the owner.
func (it *Iterator) Cleanup() {
	it.cacheClean()
}

// Close finishes the iterator. Cleanup must have run.
func (it *Iterator) Close() {
	it.slice = nil
	it.searchEnded = true
}
