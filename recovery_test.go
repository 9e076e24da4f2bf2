package shellac

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shellac-db/shellac/compression"
	"github.com/shellac-db/shellac/keys"
	"github.com/shellac-db/shellac/xlog"
)

func TestRecoverRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	stmts := seqStatements(1, 100, 7)
	run := buildRun(t, env, stmts, 16, true)

	info := run.Info()
	require.Equal(t, uint32(7), info.PageCount) // ceil(100/16)
	require.Equal(t, uint64(100), info.Keys)
	require.Equal(t, uint64(7), info.MinLSN)
	require.Equal(t, uint64(7), info.MaxLSN)
	require.Equal(t, keys.Key(u32key(1)), info.MinKey)
	require.Equal(t, keys.Key(u32key(100)), info.MaxKey)
	require.NotNil(t, info.Bloom)

	var size uint64
	for i := range info.Pages {
		p := &info.Pages[i]
		require.Less(t, p.PageIndexOffset, p.UnpackedSize)
		size += uint64(p.Size)
		if i > 0 {
			require.LessOrEqual(t,
				testKeyDef().Compare(info.Pages[i-1].MinKey, p.MinKey), 0)
		}
	}
	require.Equal(t, size, info.Size)
}

func TestRecoverEmptyRun(t *testing.T) {
	env := newTestEnv(t)
	run := buildRun(t, env, nil, 16, false)
	require.True(t, run.Empty())
	require.Zero(t, run.Info().Keys)
}

// writeCustomIndex writes an index container with full control over the
// rows, for malformed-file tests.
func writeCustomIndex(t *testing.T, dir string, build func(tb *xlog.TxBuilder)) string {
	t.Helper()
	path := filepath.Join(dir, "custom.index")
	w, err := xlog.Create(path, xlog.FileTypeIndex, compression.NoCompressionConfig())
	require.NoError(t, err)
	var tb xlog.TxBuilder
	build(&tb)
	_, _, err = w.WriteTx(&tb)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return path
}

func validRunFile(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "data.run")
	w, err := xlog.Create(path, xlog.FileTypeRun, compression.NoCompressionConfig())
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return path
}

func TestRecoverMissingMandatoryKey(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	indexPath := writeCustomIndex(t, dir, func(tb *xlog.TxBuilder) {
		var ri xlog.MapBuilder
		ri.PutBytes(runInfoMinKey, u32key(1))
		ri.PutBytes(runInfoMaxKey, u32key(2))
		// MIN_LSN deliberately absent.
		ri.PutUint(runInfoMaxLSN, 9)
		ri.PutUint(runInfoPageCount, 0)
		tb.AppendRow(xlog.RowRunInfo, ri.Finish())
	})
	_, err := RecoverRun(env, 1, indexPath, validRunFile(t, dir))
	var ire *InvalidRunError
	require.ErrorAs(t, err, &ire)
	require.Contains(t, ire.Reason, "MIN_LSN")
}

func TestRecoverWrongFirstRowType(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	indexPath := writeCustomIndex(t, dir, func(tb *xlog.TxBuilder) {
		var pi xlog.MapBuilder
		pi.PutUint(pageInfoOffset, 0)
		tb.AppendRow(xlog.RowPageInfo, pi.Finish())
	})
	_, err := RecoverRun(env, 1, indexPath, validRunFile(t, dir))
	var ire *InvalidRunError
	require.ErrorAs(t, err, &ire)
	require.Contains(t, ire.Reason, "wrong row type")
}

// An index that promises more pages than it carries fails with an
// unexpected EOF, and the partially built run tears down without leaking
// the data file.
func TestRecoverTruncatedPageTable(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	indexPath := writeCustomIndex(t, dir, func(tb *xlog.TxBuilder) {
		var ri xlog.MapBuilder
		ri.PutBytes(runInfoMinKey, u32key(1))
		ri.PutBytes(runInfoMaxKey, u32key(2))
		ri.PutUint(runInfoMinLSN, 1)
		ri.PutUint(runInfoMaxLSN, 9)
		ri.PutUint(runInfoPageCount, 3)
		tb.AppendRow(xlog.RowRunInfo, ri.Finish())
		var pi xlog.MapBuilder
		pi.PutUint(pageInfoOffset, xlog.FileHeaderSize)
		pi.PutUint(pageInfoSize, 64)
		pi.PutUint(pageInfoRowCount, 1)
		pi.PutBytes(pageInfoMinKey, u32key(1))
		pi.PutUint(pageInfoUnpackedSize, 32)
		pi.PutUint(pageInfoPageIndexOffset, 16)
		tb.AppendRow(xlog.RowPageInfo, pi.Finish())
		// Two PAGE_INFO rows short.
	})
	runPath := validRunFile(t, dir)
	run, err := RecoverRun(env, 1, indexPath, runPath)
	require.Nil(t, run)
	var ire *InvalidRunError
	require.ErrorAs(t, err, &ire)
	require.Contains(t, ire.Reason, "unexpected EOF")

	// No descriptor leaked: the data file is removable.
	require.NoError(t, os.Remove(runPath))
}

func TestRecoverWrongFileType(t *testing.T) {
	env := newTestEnv(t)
	stmts := seqStatements(1, 10, 1)
	fx := RunFixture{Dir: t.TempDir(), ID: 1, PageRows: 4, KeyDef: testKeyDef()}
	runPath, indexPath, err := WriteRunFiles(fx, stmts)
	require.NoError(t, err)

	// Swapped paths: the index opener sees a RUN tag.
	_, err = RecoverRun(env, 1, runPath, indexPath)
	require.Error(t, err)
	require.ErrorIs(t, err, xlog.ErrFormat)
}

func TestRecoverBloomQuota(t *testing.T) {
	stmts := seqStatements(1, 1000, 1)
	fx := RunFixture{Dir: t.TempDir(), ID: 1, PageRows: 64, Bloom: true, KeyDef: testKeyDef()}
	runPath, indexPath, err := WriteRunFiles(fx, stmts)
	require.NoError(t, err)

	env, err := NewRunEnv(EnvOptions{BloomQuota: 8})
	require.NoError(t, err)
	run, err := RecoverRun(env, 1, indexPath, runPath)
	require.NoError(t, err)
	defer run.Unref()

	// Quota too small for the filter: the run loads without it.
	require.Nil(t, run.Info().Bloom)
	require.Zero(t, env.Stats().BloomBytes.Load())
}

func TestRecoverBloomQuotaReleasedOnUnref(t *testing.T) {
	stmts := seqStatements(1, 1000, 1)
	fx := RunFixture{Dir: t.TempDir(), ID: 1, PageRows: 64, Bloom: true, KeyDef: testKeyDef()}
	runPath, indexPath, err := WriteRunFiles(fx, stmts)
	require.NoError(t, err)

	env, err := NewRunEnv(EnvOptions{BloomQuota: 1 << 20})
	require.NoError(t, err)
	run, err := RecoverRun(env, 1, indexPath, runPath)
	require.NoError(t, err)
	require.NotNil(t, run.Info().Bloom)
	require.Positive(t, env.Stats().BloomBytes.Load())

	run.Unref()
	require.Zero(t, env.Stats().BloomBytes.Load())
}

func TestRecoverCorruptBloomVersion(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	indexPath := writeCustomIndex(t, dir, func(tb *xlog.TxBuilder) {
		var ri xlog.MapBuilder
		ri.PutBytes(runInfoMinKey, u32key(1))
		ri.PutBytes(runInfoMaxKey, u32key(2))
		ri.PutUint(runInfoMinLSN, 1)
		ri.PutUint(runInfoMaxLSN, 9)
		ri.PutUint(runInfoPageCount, 0)
		ri.PutBytes(runInfoBloom, []byte{99}) // bogus version
		tb.AppendRow(xlog.RowRunInfo, ri.Finish())
	})
	_, err := RecoverRun(env, 1, indexPath, validRunFile(t, dir))
	require.Error(t, err)
}

func TestRecoverUnknownFieldsIgnored(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	indexPath := writeCustomIndex(t, dir, func(tb *xlog.TxBuilder) {
		var ri xlog.MapBuilder
		ri.PutBytes(runInfoMinKey, u32key(1))
		ri.PutBytes(runInfoMaxKey, u32key(2))
		ri.PutUint(runInfoMinLSN, 1)
		ri.PutUint(runInfoMaxLSN, 9)
		ri.PutUint(runInfoPageCount, 0)
		ri.PutBytes(63, []byte("future extension"))
		tb.AppendRow(xlog.RowRunInfo, ri.Finish())
	})
	run, err := RecoverRun(env, 1, indexPath, validRunFile(t, dir))
	require.NoError(t, err)
	run.Unref()
}
