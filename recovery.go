package shellac

import (
	"io"

	"github.com/shellac-db/shellac/bloom"
	"github.com/shellac-db/shellac/keys"
	"github.com/shellac-db/shellac/xlog"
)

// runInfoFieldName names mandatory RUN_INFO fields for error reporting.
func runInfoFieldName(id int) string {
	switch id {
	case runInfoMinKey:
		return "MIN_KEY"
	case runInfoMaxKey:
		return "MAX_KEY"
	case runInfoMinLSN:
		return "MIN_LSN"
	case runInfoMaxLSN:
		return "MAX_LSN"
	case runInfoPageCount:
		return "PAGE_COUNT"
	}
	return "?"
}

func pageInfoFieldName(id int) string {
	switch id {
	case pageInfoOffset:
		return "OFFSET"
	case pageInfoSize:
		return "SIZE"
	case pageInfoRowCount:
		return "ROW_COUNT"
	case pageInfoMinKey:
		return "MIN_KEY"
	case pageInfoUnpackedSize:
		return "UNPACKED_SIZE"
	case pageInfoPageIndexOffset:
		return "PAGE_INDEX_OFFSET"
	}
	return "?"
}

// missingField returns the lowest set bit's index in mask.
func missingField(mask uint64) int {
	for i := 0; i < 64; i++ {
		if mask&(1<<i) != 0 {
			return i
		}
	}
	return -1
}

// RecoverRun opens an index/data file pair and decodes it into a Run. The
// caller owns the returned reference. On failure nothing leaks: both files
// are closed and the partially decoded metadata discarded.
func RecoverRun(env *RunEnv, id int64, indexPath, runPath string) (*Run, error) {
	run := NewRun(id)
	run.env = env
	run.logger = env.logger
	if err := recoverRunInto(env, run, indexPath, runPath); err != nil {
		run.Unref()
		return nil, err
	}
	return run, nil
}

func recoverRunInto(env *RunEnv, run *Run, indexPath, runPath string) error {
	cur, err := xlog.OpenCursor(indexPath, xlog.FileTypeIndex)
	if err != nil {
		return wrapInvalidRun(err, indexPath)
	}
	defer cur.Close()

	// The index holds a single transaction: RUN_INFO then one PAGE_INFO
	// per page.
	if err := cur.NextTx(); err != nil {
		if err == io.EOF {
			return errInvalidRun(indexPath, "unexpected EOF")
		}
		return err
	}
	row, err := cur.NextRow()
	if err != nil {
		if err == io.EOF {
			return errInvalidRun(indexPath, "unexpected EOF")
		}
		return err
	}
	if row.Type != xlog.RowRunInfo {
		return errInvalidRun(indexPath, "wrong row type (expected %d, got %d)",
			xlog.RowRunInfo, row.Type)
	}
	if err := decodeRunInfo(env, &run.info, row.Body, indexPath); err != nil {
		return err
	}

	run.info.Pages = make([]PageInfo, run.info.PageCount)
	want := run.info.PageCount
	run.info.PageCount = 0
	for pageNo := uint32(0); pageNo < want; pageNo++ {
		row, err := cur.NextRow()
		if err != nil {
			// Truncate the page table to the decoded prefix so the
			// partially built run tears down safely.
			run.info.Pages = run.info.Pages[:pageNo]
			if err == io.EOF {
				return errInvalidRun(indexPath, "unexpected EOF")
			}
			return err
		}
		if row.Type != xlog.RowPageInfo {
			run.info.Pages = run.info.Pages[:pageNo]
			return errInvalidRun(indexPath, "wrong row type (expected %d, got %d)",
				xlog.RowPageInfo, row.Type)
		}
		page := &run.info.Pages[pageNo]
		if err := decodePageInfo(page, row.Body, indexPath); err != nil {
			run.info.Pages = run.info.Pages[:pageNo]
			return err
		}
		run.info.PageCount = pageNo + 1
		run.info.Size += uint64(page.Size)
		run.info.Keys += uint64(page.RowCount)
	}

	// Metadata done; adopt the data file's descriptor.
	dataCur, err := xlog.OpenCursor(runPath, xlog.FileTypeRun)
	if err != nil {
		return wrapInvalidRun(err, runPath)
	}
	run.f = dataCur.Detach()
	return dataCur.Close()
}

// decodeRunInfo parses a RUN_INFO field map.
func decodeRunInfo(env *RunEnv, ri *RunInfo, body []byte, path string) error {
	missing := uint64(runInfoMandatory)
	err := xlog.WalkMap(body, func(id uint64, val []byte) error {
		if id < 64 {
			missing &^= 1 << id
		}
		switch id {
		case runInfoMinKey:
			ri.MinKey = keys.Key(val).Clone()
		case runInfoMaxKey:
			ri.MaxKey = keys.Key(val).Clone()
		case runInfoMinLSN:
			v, err := xlog.FieldUint(val)
			if err != nil {
				return err
			}
			ri.MinLSN = v
		case runInfoMaxLSN:
			v, err := xlog.FieldUint(val)
			if err != nil {
				return err
			}
			ri.MaxLSN = v
		case runInfoPageCount:
			v, err := xlog.FieldUint(val)
			if err != nil {
				return err
			}
			ri.PageCount = uint32(v)
		case runInfoBloom:
			f, _, err := bloom.Decode(val)
			if err != nil {
				return err
			}
			if !env.bloomReserve(int64(f.SizeBytes())) {
				env.logger.Warn("bloom quota exhausted, loading run without filter",
					"path", path, "size", f.SizeBytes())
				return nil
			}
			ri.Bloom = f
		}
		// Unknown fields are ignored.
		return nil
	})
	if err != nil {
		return wrapInvalidRun(err, path)
	}
	if missing != 0 {
		return errInvalidRun(path, "can't decode run info: missing mandatory key %s",
			runInfoFieldName(missingField(missing)))
	}
	return nil
}

// decodePageInfo parses a PAGE_INFO field map.
func decodePageInfo(p *PageInfo, body []byte, path string) error {
	missing := uint64(pageInfoMandatory)
	err := xlog.WalkMap(body, func(id uint64, val []byte) error {
		if id < 64 {
			missing &^= 1 << id
		}
		switch id {
		case pageInfoOffset:
			v, err := xlog.FieldUint(val)
			if err != nil {
				return err
			}
			p.Offset = v
		case pageInfoSize:
			v, err := xlog.FieldUint(val)
			if err != nil {
				return err
			}
			p.Size = uint32(v)
		case pageInfoRowCount:
			v, err := xlog.FieldUint(val)
			if err != nil {
				return err
			}
			p.RowCount = uint32(v)
		case pageInfoMinKey:
			p.MinKey = keys.Key(val).Clone()
		case pageInfoUnpackedSize:
			v, err := xlog.FieldUint(val)
			if err != nil {
				return err
			}
			p.UnpackedSize = uint32(v)
		case pageInfoPageIndexOffset:
			v, err := xlog.FieldUint(val)
			if err != nil {
				return err
			}
			p.PageIndexOffset = uint32(v)
		}
		return nil
	})
	if err != nil {
		return wrapInvalidRun(err, path)
	}
	if missing != 0 {
		return errInvalidRun(path, "can't decode page info: missing mandatory key %s",
			pageInfoFieldName(missingField(missing)))
	}
	if p.PageIndexOffset >= p.UnpackedSize {
		return errInvalidRun(path, "page index offset %d not below unpacked size %d",
			p.PageIndexOffset, p.UnpackedSize)
	}
	return nil
}
