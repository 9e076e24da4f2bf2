package shellac

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/shellac-db/shellac/coio"
	"github.com/shellac-db/shellac/compression"
)

// RunEnv holds the process-wide resources of the read path: a pool of
// reusable decompression contexts, the off-thread read pool, the bloom
// memory quota, and counters.
type RunEnv struct {
	opts     EnvOptions
	logger   *slog.Logger
	decoders sync.Pool
	readPool *coio.Pool

	bloomUsed atomic.Int64

	stats EnvStats
}

// EnvStats counts read-path events. Counters are atomic: iterators run one
// task at a time, but many iterators share the env.
type EnvStats struct {
	// Lookups counts iterator seeks.
	Lookups atomic.Uint64

	// BloomFiltered counts point lookups rejected by a bloom filter.
	BloomFiltered atomic.Uint64

	// PagesRead counts pages materialised from disk.
	PagesRead atomic.Uint64

	// Steps counts position advances across all iterators.
	Steps atomic.Uint64

	// BloomBytes gauges memory held by loaded bloom filters.
	BloomBytes atomic.Int64
}

// NewRunEnv creates the environment.
func NewRunEnv(opts EnvOptions) (*RunEnv, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts.withDefaults()
	e := &RunEnv{
		opts:     opts,
		logger:   opts.Logger,
		readPool: coio.NewPool(opts.ReadWorkers),
	}
	e.decoders.New = func() any {
		d, err := compression.NewDecompressor()
		if err != nil {
			// zstd.NewReader with these options does not fail; treat
			// it as a programming error.
			panic(err)
		}
		return d
	}
	return e, nil
}

// Stats exposes the env counters.
func (e *RunEnv) Stats() *EnvStats { return &e.stats }

// getDecompressor takes a reusable decompression context. Pair with
// putDecompressor.
func (e *RunEnv) getDecompressor() *compression.Decompressor {
	return e.decoders.Get().(*compression.Decompressor)
}

func (e *RunEnv) putDecompressor(d *compression.Decompressor) {
	e.decoders.Put(d)
}

// bloomReserve charges size bytes against the quota. It reports false when
// the quota would be exceeded.
func (e *RunEnv) bloomReserve(size int64) bool {
	if e.opts.BloomQuota == 0 {
		e.stats.BloomBytes.Add(size)
		return true
	}
	for {
		used := e.bloomUsed.Load()
		if used+size > e.opts.BloomQuota {
			return false
		}
		if e.bloomUsed.CompareAndSwap(used, used+size) {
			e.stats.BloomBytes.Add(size)
			return true
		}
	}
}

// bloomRelease returns quota charged by bloomReserve.
func (e *RunEnv) bloomRelease(size int64) {
	if e.opts.BloomQuota != 0 {
		e.bloomUsed.Add(-size)
	}
	e.stats.BloomBytes.Add(-size)
}

// readPageDirect materialises a page on the calling goroutine.
func (e *RunEnv) readPageDirect(run *Run, pi *PageInfo, pageNo uint32) (*Page, error) {
	dec := e.getDecompressor()
	defer e.putDecompressor(dec)
	p, err := ReadPage(pi, run.File(), dec)
	if err != nil {
		return nil, err
	}
	p.pageNo = pageNo
	e.stats.PagesRead.Add(1)
	return p, nil
}

// readPageOffthread materialises a page on the read pool. The slice stays
// pinned for the duration of the read so the run's file cannot close under
// the worker; if the caller is cancelled mid-read, the unpin transfers to
// the task's abandon hook.
func (e *RunEnv) readPageOffthread(ctx context.Context, slice *Slice,
	pi *PageInfo, pageNo uint32) (*Page, error) {

	t := e.readPool.AllocTask()
	slice.Pin()

	// The task owns a copy of the page descriptor: the slice set may
	// change while the worker runs.
	info := *pi
	var page *Page
	t.OnAbandon = func() {
		slice.Unpin()
	}
	t.Fn = func() error {
		dec := e.getDecompressor()
		defer e.putDecompressor(dec)
		var err error
		page, err = ReadPage(&info, slice.Run().File(), dec)
		return err
	}
	if err := e.readPool.Run(ctx, t); err != nil {
		return nil, err
	}
	slice.Unpin()
	page.pageNo = pageNo
	e.stats.PagesRead.Add(1)
	return page, nil
}
