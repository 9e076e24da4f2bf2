// Package shellac reads immutable sorted run files of an LSM storage
// engine: decoding their metadata, windowing them into slices, and serving
// ordered multi-version iterators and compaction streams over them.
package shellac

import (
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/shellac-db/shellac/bloom"
	"github.com/shellac-db/shellac/keys"
)

// Field ids of RUN_INFO rows.
const (
	runInfoMinKey    = 1
	runInfoMaxKey    = 2
	runInfoMinLSN    = 3
	runInfoMaxLSN    = 4
	runInfoPageCount = 5
	runInfoBloom     = 6
)

// runInfoMandatory is the bitmask of mandatory RUN_INFO fields. Bloom is
// optional.
const runInfoMandatory = 1<<runInfoMinKey | 1<<runInfoMaxKey |
	1<<runInfoMinLSN | 1<<runInfoMaxLSN | 1<<runInfoPageCount

// Field ids of PAGE_INFO rows. All mandatory.
const (
	pageInfoOffset          = 1
	pageInfoSize            = 2
	pageInfoRowCount        = 3
	pageInfoMinKey          = 4
	pageInfoUnpackedSize    = 5
	pageInfoPageIndexOffset = 6
)

const pageInfoMandatory = 1<<pageInfoOffset | 1<<pageInfoSize |
	1<<pageInfoRowCount | 1<<pageInfoMinKey |
	1<<pageInfoUnpackedSize | 1<<pageInfoPageIndexOffset

// Field id of PAGE_INDEX rows.
const pageIndexIndex = 1

// PageInfo describes one page of a run.
type PageInfo struct {
	// Offset of the page's transaction frame in the data file.
	Offset uint64

	// Size of the frame on disk, header included.
	Size uint32

	// RowCount is the number of statement rows in the page.
	RowCount uint32

	// UnpackedSize is the decompressed payload size.
	UnpackedSize uint32

	// PageIndexOffset locates the offset-table row within the payload.
	PageIndexOffset uint32

	// MinKey is the smallest key stored in the page.
	MinKey keys.Key
}

// RunInfo is the decoded metadata of a run.
type RunInfo struct {
	MinKey    keys.Key
	MaxKey    keys.Key
	MinLSN    uint64
	MaxLSN    uint64
	PageCount uint32
	Pages     []PageInfo

	// Bloom is nil when the run was written without a filter or the
	// filter was dropped for quota.
	Bloom *bloom.Filter

	// Size is the total on-disk page bytes; Keys the total row count.
	// Both are running sums over Pages.
	Size uint64
	Keys uint64
}

// Page returns the i-th page descriptor.
func (ri *RunInfo) Page(i uint32) *PageInfo {
	return &ri.Pages[i]
}

// Run is an open, immutable data file with decoded metadata. Runs are
// shared: slices and the owning LSM level hold references, and the file
// descriptor closes on the final release.
type Run struct {
	id     int64
	f      *os.File
	refs   atomic.Int32
	info   RunInfo
	env    *RunEnv
	logger *slog.Logger
}

// NewRun creates an empty run shell with one reference held by the caller.
func NewRun(id int64) *Run {
	r := &Run{id: id}
	r.refs.Store(1)
	return r
}

// ID returns the run's identifier.
func (r *Run) ID() int64 { return r.id }

// Info returns the decoded metadata.
func (r *Run) Info() *RunInfo { return &r.info }

// File returns the open data file. Valid while the caller holds a
// reference or a slice pin.
func (r *Run) File() *os.File { return r.f }

// Ref acquires a reference.
func (r *Run) Ref() {
	r.refs.Add(1)
}

// Unref releases a reference; the final release closes the data file.
func (r *Run) Unref() {
	if r.refs.Add(-1) != 0 {
		return
	}
	if r.f != nil {
		if err := r.f.Close(); err != nil && r.logger != nil {
			r.logger.Error("run file close failed", "run", r.id, "error", err)
		}
		r.f = nil
	}
	if r.info.Bloom != nil && r.env != nil {
		r.env.bloomRelease(int64(r.info.Bloom.SizeBytes()))
		r.info.Bloom = nil
	}
}

// Refs returns the current reference count. For tests and introspection.
func (r *Run) Refs() int32 { return r.refs.Load() }

// Empty reports whether the run holds no pages.
func (r *Run) Empty() bool { return r.info.PageCount == 0 }
