package shellac

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shellac-db/shellac/keys"
	"github.com/shellac-db/shellac/stmt"
)

// Tests use single-part u32 keys under the bytewise comparator; big-endian
// encoding makes byte order match numeric order.
func u32key(vals ...uint32) keys.Key {
	parts := make([][]byte, len(vals))
	for i, v := range vals {
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, v)
		parts[i] = b
	}
	return keys.Encode(parts...)
}

func u32of(t *testing.T, k keys.Key) uint32 {
	t.Helper()
	p := k.Part(0)
	require.Len(t, p, 4)
	return binary.BigEndian.Uint32(p)
}

func testKeyDef() *keys.KeyDef { return keys.NewKeyDef(1) }

func repl(key uint32, lsn uint64) *stmt.Statement {
	return stmt.New(stmt.Replace, u32key(key), fmt.Appendf(nil, "val-%d@%d", key, lsn), lsn)
}

// seqStatements yields one replace per key in [from, to], all at lsn.
func seqStatements(from, to uint32, lsn uint64) []*stmt.Statement {
	var out []*stmt.Statement
	for k := from; k <= to; k++ {
		out = append(out, repl(k, lsn))
	}
	return out
}

func newTestEnv(t *testing.T) *RunEnv {
	t.Helper()
	env, err := NewRunEnv(EnvOptions{})
	require.NoError(t, err)
	return env
}

// buildRun writes stmts as a run and recovers it. The caller owns the
// returned reference; cleanup drops it.
func buildRun(t *testing.T, env *RunEnv, stmts []*stmt.Statement, pageRows int, withBloom bool) *Run {
	t.Helper()
	fx := RunFixture{
		Dir:      t.TempDir(),
		ID:       1,
		PageRows: pageRows,
		Bloom:    withBloom,
		KeyDef:   testKeyDef(),
	}
	runPath, indexPath, err := WriteRunFiles(fx, stmts)
	require.NoError(t, err)
	run, err := RecoverRun(env, fx.ID, indexPath, runPath)
	require.NoError(t, err)
	t.Cleanup(run.Unref)
	return run
}

// wholeSlice wraps the run edge to edge.
func wholeSlice(t *testing.T, run *Run) *Slice {
	t.Helper()
	s := NewSlice(100, run, nil, nil, testKeyDef())
	t.Cleanup(s.Release)
	return s
}

func boundedSlice(t *testing.T, run *Run, begin, end keys.Key) *Slice {
	t.Helper()
	s := NewSlice(101, run, begin, end, testKeyDef())
	t.Cleanup(s.Release)
	return s
}

func newIter(env *RunEnv, s *Slice, typ SeekType, key keys.Key, vlsn uint64) *Iterator {
	return NewIterator(env, s, IteratorConfig{
		Type:     typ,
		Key:      key,
		ReadView: VLSN(vlsn),
		KeyDef:   testKeyDef(),
	})
}

// drainKeys walks NextKey to exhaustion and returns the visited keys.
func drainKeys(t *testing.T, it *Iterator) []uint32 {
	t.Helper()
	var out []uint32
	for {
		s, err := it.NextKey()
		require.NoError(t, err)
		if s == nil {
			return out
		}
		out = append(out, u32of(t, s.Key()))
	}
}

const maxLSN = ^uint64(0)
