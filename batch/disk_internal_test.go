package batch

import (
	"testing"

	"github.com/NVIDIA/shardload/model"
	"github.com/stretchr/testify/require"
)

// withRAMBudget forces ramPressureMax to report budget for the duration of
// a test, then restores the real sys-backed sampler so later tests in this
// package (and batch_test) see the machine's actual free RAM again.
func withRAMBudget(t *testing.T, budget uint64) {
	t.Helper()
	origFree, origErr := ramFreeFn, ramErrFn
	resetRAMPressureForTest()
	ramFreeFn = func() uint64 { return budget }
	ramErrFn = func() error { return nil }
	t.Cleanup(func() {
		ramFreeFn, ramErrFn = origFree, origErr
		resetRAMPressureForTest()
	})
}

func TestDiskBuilderAccumulatesInRAMUnderNoPressure(t *testing.T) {
	withRAMBudget(t, 1<<30) // plenty of headroom

	dir := t.TempDir()
	b, err := newDiskBuilder("c0", 10, dir)
	require.NoError(t, err)
	defer b.Close()

	for _, n := range []int{1, 2, 3} {
		_, full := b.Append(model.Document{Fields: map[string]any{"n": n}})
		require.False(t, full)
	}
	require.False(t, b.spilling)
	require.Equal(t, 0, b.n)
	require.Equal(t, 3, b.open.Len())
}

func TestDiskBuilderSpillsOnceRAMPressureCrossed(t *testing.T) {
	withRAMBudget(t, 1) // any document crosses this immediately

	dir := t.TempDir()
	b, err := newDiskBuilder("c0", 10, dir)
	require.NoError(t, err)
	defer b.Close()

	_, full := b.Append(model.Document{Fields: map[string]any{"n": 1}})
	require.False(t, full)
	require.True(t, b.spilling)
	require.Equal(t, 1, b.n)
	require.Equal(t, 0, b.open.Len())

	_, full = b.Append(model.Document{Fields: map[string]any{"n": 2}})
	require.False(t, full)
	require.Equal(t, 2, b.n)

	remaining, ok := b.Flush()
	require.True(t, ok)
	require.Equal(t, 2, remaining.Len())
	require.EqualValues(t, 1, remaining.Docs[0].Fields["n"])
	require.EqualValues(t, 2, remaining.Docs[1].Fields["n"])
}

func TestDiskBuilderMigratesRAMPrefixWhenPressureCrossesMidAccumulation(t *testing.T) {
	budget := estimateSize(model.Document{Fields: map[string]any{"n": 1}})*2 + 1
	withRAMBudget(t, uint64(budget))

	dir := t.TempDir()
	b, err := newDiskBuilder("c0", 10, dir)
	require.NoError(t, err)
	defer b.Close()

	for _, n := range []int{1, 2, 3, 4} {
		b.Append(model.Document{Fields: map[string]any{"n": n}})
	}
	require.True(t, b.spilling)

	remaining, ok := b.Flush()
	require.True(t, ok)
	require.Equal(t, 4, remaining.Len())
	for i, n := range []int{1, 2, 3, 4} {
		require.EqualValues(t, n, remaining.Docs[i].Fields["n"])
	}
}
