package shellac

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetricsCollector(t *testing.T) {
	env := newTestEnv(t)
	run := thirtyRun(t, env, true)
	s := wholeSlice(t, run)

	it := newIter(env, s, EQ, u32key(15), maxLSN)
	res, err := it.NextKey()
	require.NoError(t, err)
	require.NotNil(t, res)
	it.Cleanup()

	c := NewMetricsCollector(env)
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))

	require.Equal(t, 5, testutil.CollectAndCount(c))
	expected := strings.NewReader(`
# HELP shellac_run_lookups_total Iterator seeks against run slices.
# TYPE shellac_run_lookups_total counter
shellac_run_lookups_total 1
# HELP shellac_run_pages_read_total Run pages materialised from disk.
# TYPE shellac_run_pages_read_total counter
shellac_run_pages_read_total 1
`)
	require.NoError(t, testutil.CollectAndCompare(c, expected,
		"shellac_run_lookups_total", "shellac_run_pages_read_total"))
}
