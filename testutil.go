package shellac

import (
	"encoding/binary"
	"fmt"
	"path/filepath"

	"github.com/shellac-db/shellac/bloom"
	"github.com/shellac-db/shellac/compression"
	"github.com/shellac-db/shellac/keys"
	"github.com/shellac-db/shellac/stmt"
	"github.com/shellac-db/shellac/xlog"
)

// RunFixture describes a run/index file pair to generate. Tests and
// tooling use it; the production write path (flush and compaction) lives
// in the engine above this package.
type RunFixture struct {
	Dir string
	ID  int64

	// PageRows is the number of statement rows per page.
	PageRows int

	// Bloom adds a filter over the user keys.
	Bloom bool

	// BloomFPRate defaults to 0.01.
	BloomFPRate float64

	Compression compression.Config
	KeyDef      *keys.KeyDef
	UserKeyDef  *keys.KeyDef
}

// RunPaths returns the data and index paths a fixture writes to.
func (fx *RunFixture) RunPaths() (runPath, indexPath string) {
	runPath = filepath.Join(fx.Dir, fmt.Sprintf("%012d.run", fx.ID))
	indexPath = filepath.Join(fx.Dir, fmt.Sprintf("%012d.index", fx.ID))
	return runPath, indexPath
}

// WriteRunFiles writes stmts, already sorted by (key asc, lsn desc), as a
// run/index pair and returns their paths.
func WriteRunFiles(fx RunFixture, stmts []*stmt.Statement) (runPath, indexPath string, err error) {
	if fx.PageRows <= 0 {
		fx.PageRows = 64
	}
	if fx.Compression == (compression.Config{}) {
		fx.Compression = compression.DefaultConfig()
	}
	if fx.UserKeyDef == nil {
		fx.UserKeyDef = fx.KeyDef
	}
	runPath, indexPath = fx.RunPaths()

	var info RunInfo
	info.MinLSN = ^uint64(0)
	var filter *bloom.Filter
	if fx.Bloom {
		rate := fx.BloomFPRate
		if rate == 0 {
			rate = 0.01
		}
		filter = bloom.New(uint64(len(stmts)), rate)
	}

	w, err := xlog.Create(runPath, xlog.FileTypeRun, fx.Compression)
	if err != nil {
		return "", "", err
	}
	defer func() {
		if err != nil {
			w.Close()
		}
	}()

	var tb xlog.TxBuilder
	for base := 0; base < len(stmts); base += fx.PageRows {
		page := stmts[base:min(base+fx.PageRows, len(stmts))]
		tb.Reset()
		offsets := make([]byte, 0, 4*len(page))
		for _, s := range page {
			off := tb.AppendRow(uint8(s.Kind()), s.AppendBody(nil))
			offsets = binary.LittleEndian.AppendUint32(offsets, off)
			if s.LSN() < info.MinLSN {
				info.MinLSN = s.LSN()
			}
			if s.LSN() > info.MaxLSN {
				info.MaxLSN = s.LSN()
			}
			if filter != nil {
				filter.Add(bloom.HashKey(s.Key(), fx.UserKeyDef.PartCount))
			}
		}
		var idx xlog.MapBuilder
		idx.PutBytes(pageIndexIndex, offsets)
		pageIndexOffset := tb.AppendRow(xlog.RowPageIndex, idx.Finish())

		unpacked := uint32(tb.Len())
		frameOff, frameSize, werr := w.WriteTx(&tb)
		if werr != nil {
			err = werr
			return "", "", err
		}
		info.Pages = append(info.Pages, PageInfo{
			Offset:          frameOff,
			Size:            frameSize,
			RowCount:        uint32(len(page)),
			UnpackedSize:    unpacked,
			PageIndexOffset: pageIndexOffset,
			MinKey:          page[0].Key(),
		})
	}
	if err = w.Close(); err != nil {
		return "", "", err
	}

	info.PageCount = uint32(len(info.Pages))
	if len(stmts) > 0 {
		info.MinKey = stmts[0].Key()
		info.MaxKey = stmts[len(stmts)-1].Key()
	} else {
		info.MinKey = keys.Encode()
		info.MaxKey = keys.Encode()
		info.MinLSN = 0
	}
	info.Bloom = filter

	if err = writeIndexFile(indexPath, &info, fx.Compression); err != nil {
		return "", "", err
	}
	return runPath, indexPath, nil
}

// writeIndexFile serialises run metadata as a single-transaction index
// container.
func writeIndexFile(path string, info *RunInfo, cfg compression.Config) error {
	w, err := xlog.Create(path, xlog.FileTypeIndex, cfg)
	if err != nil {
		return err
	}

	var tb xlog.TxBuilder
	var ri xlog.MapBuilder
	ri.PutBytes(runInfoMinKey, info.MinKey)
	ri.PutBytes(runInfoMaxKey, info.MaxKey)
	ri.PutUint(runInfoMinLSN, info.MinLSN)
	ri.PutUint(runInfoMaxLSN, info.MaxLSN)
	ri.PutUint(runInfoPageCount, uint64(info.PageCount))
	if info.Bloom != nil {
		ri.PutBytes(runInfoBloom, info.Bloom.Append(nil))
	}
	tb.AppendRow(xlog.RowRunInfo, ri.Finish())

	for i := range info.Pages {
		p := &info.Pages[i]
		var pi xlog.MapBuilder
		pi.PutUint(pageInfoOffset, p.Offset)
		pi.PutUint(pageInfoSize, uint64(p.Size))
		pi.PutUint(pageInfoRowCount, uint64(p.RowCount))
		pi.PutBytes(pageInfoMinKey, p.MinKey)
		pi.PutUint(pageInfoUnpackedSize, uint64(p.UnpackedSize))
		pi.PutUint(pageInfoPageIndexOffset, uint64(p.PageIndexOffset))
		tb.AppendRow(xlog.RowPageInfo, pi.Finish())
	}
	if _, _, err := w.WriteTx(&tb); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
