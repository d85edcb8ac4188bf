package stats_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/shardload/stats"
)

func TestWriteRowAddsHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.csv")
	row := stats.Row{Start: time.Unix(0, 0), Duration: 2 * time.Second, Type: "loader", Threads: 4, QueueSize: 256, EndPointConns: 3, WriteConcern: "majority"}

	require.NoError(t, stats.WriteRow(path, row))
	require.NoError(t, stats.WriteRow(path, row))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 3) // header + 2 rows
	require.Contains(t, lines[0], "time(s)")
}

func TestWriteRowNoopOnEmptyPath(t *testing.T) {
	require.NoError(t, stats.WriteRow("", stats.Row{}))
}

func TestRegistryCollectorsNonEmpty(t *testing.T) {
	r := stats.NewRegistry()
	require.Len(t, r.Collectors(), 5)
}

func TestIncMethodsIncrementUnderlyingCounters(t *testing.T) {
	r := stats.NewRegistry()
	r.IncRouted()
	r.IncSealed()
	r.IncSealed()
	r.IncSent()
	r.IncRetries()
	r.IncRejects()

	require.Equal(t, float64(1), testutil.ToFloat64(r.Routed))
	require.Equal(t, float64(2), testutil.ToFloat64(r.Sealed))
	require.Equal(t, float64(1), testutil.ToFloat64(r.Sent))
	require.Equal(t, float64(1), testutil.ToFloat64(r.Retries))
	require.Equal(t, float64(1), testutil.ToFloat64(r.Rejects))
}

func TestIncMethodsNilSafe(t *testing.T) {
	var r *stats.Registry
	require.NotPanics(t, func() {
		r.IncRouted()
		r.IncSealed()
		r.IncSent()
		r.IncRetries()
		r.IncRejects()
	})
}
