package shellac

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shellac-db/shellac/stmt"
)

func drainStream(t *testing.T, st *SliceStream) []*stmt.Statement {
	t.Helper()
	var out []*stmt.Statement
	for {
		s, err := st.Next()
		require.NoError(t, err)
		if s == nil {
			return out
		}
		out = append(out, s)
	}
}

func TestStreamFullScan(t *testing.T) {
	env := newTestEnv(t)
	run := buildRun(t, env, seqStatements(1, 100, 3), 16, false)
	s := wholeSlice(t, run)

	st := NewSliceStream(env, s, testKeyDef())
	defer st.Close()
	got := drainStream(t, st)

	require.Len(t, got, 100)
	for i, res := range got {
		require.Equal(t, uint32(i+1), u32of(t, res.Key()))
	}
}

// Consecutive statements are non-decreasing by user key; within one key
// the LSN strictly decreases.
func TestStreamOrdering(t *testing.T) {
	env := newTestEnv(t)
	stmts := []*stmt.Statement{
		repl(1, 9),
		repl(2, 8), repl(2, 4), repl(2, 2),
		repl(3, 6),
	}
	run := buildRun(t, env, stmts, 2, false)
	s := wholeSlice(t, run)

	st := NewSliceStream(env, s, testKeyDef())
	defer st.Close()
	got := drainStream(t, st)
	require.Len(t, got, len(stmts))

	def := testKeyDef()
	for i := 1; i < len(got); i++ {
		c := stmt.Compare(got[i-1], got[i], def)
		require.LessOrEqual(t, c, 0)
		if c == 0 {
			require.Greater(t, got[i-1].LSN(), got[i].LSN())
		}
	}
}

func TestStreamBeginInsidePage(t *testing.T) {
	env := newTestEnv(t)
	run := buildRun(t, env, seqStatements(10, 39, 1), 10, false)
	s := boundedSlice(t, run, u32key(25), nil)

	st := NewSliceStream(env, s, testKeyDef())
	defer st.Close()
	got := drainStream(t, st)
	require.Equal(t, uint32(25), u32of(t, got[0].Key()))
	require.Equal(t, uint32(39), u32of(t, got[len(got)-1].Key()))
	require.Len(t, got, 15)
}

// A begin landing past the end of its page starts on the next page.
func TestStreamBeginOnPageBoundary(t *testing.T) {
	env := newTestEnv(t)
	run := buildRun(t, env, seqStatements(10, 39, 1), 10, false)
	s := boundedSlice(t, run, u32key(20), nil)
	// begin == page 1 min: the window starts at page 0 (the boundary key
	// could spread backwards), and the seek must skip page 0 entirely.
	require.Equal(t, uint32(0), s.FirstPageNo())

	st := NewSliceStream(env, s, testKeyDef())
	defer st.Close()
	got := drainStream(t, st)
	require.Equal(t, uint32(20), u32of(t, got[0].Key()))
	require.Len(t, got, 20)
}

func TestStreamEndBound(t *testing.T) {
	env := newTestEnv(t)
	run := buildRun(t, env, seqStatements(10, 39, 1), 10, false)
	s := boundedSlice(t, run, u32key(15), u32key(35))

	st := NewSliceStream(env, s, testKeyDef())
	defer st.Close()
	got := drainStream(t, st)
	require.Equal(t, uint32(15), u32of(t, got[0].Key()))
	require.Equal(t, uint32(34), u32of(t, got[len(got)-1].Key()))
}

func TestStreamEmptySlice(t *testing.T) {
	env := newTestEnv(t)
	run := buildRun(t, env, seqStatements(10, 39, 1), 10, false)
	s := boundedSlice(t, run, nil, u32key(5))

	st := NewSliceStream(env, s, testKeyDef())
	defer st.Close()
	require.Empty(t, drainStream(t, st))
}

func TestStreamEmptyRun(t *testing.T) {
	env := newTestEnv(t)
	run := buildRun(t, env, nil, 10, false)
	s := wholeSlice(t, run)

	st := NewSliceStream(env, s, testKeyDef())
	defer st.Close()
	require.Empty(t, drainStream(t, st))
}
