package batch_test

import (
	"os"
	"testing"

	"github.com/NVIDIA/shardload/batch"
	"github.com/NVIDIA/shardload/model"
	"github.com/stretchr/testify/require"
)

func doc(n int) model.Document {
	return model.Document{Fields: map[string]any{"n": n}}
}

func TestRAMBuilderSealsOnFull(t *testing.T) {
	b, err := batch.NewBuilder(model.StrategyRAM, "c0", 3, "")
	require.NoError(t, err)
	defer b.Close()

	_, full := b.Append(doc(1))
	require.False(t, full)
	_, full = b.Append(doc(2))
	require.False(t, full)
	sealed, full := b.Append(doc(3))
	require.True(t, full)
	require.Equal(t, 3, sealed.Len())
	require.True(t, sealed.Sealed())
}

func TestRAMBuilderSortsOnPrep(t *testing.T) {
	spec, err := model.NewSpec([]model.KeyField{{Name: "n", Direction: model.Asc}}, false)
	require.NoError(t, err)

	b, err := batch.NewBuilder(model.StrategyRAM, "c0", 10, "")
	require.NoError(t, err)
	defer b.Close()
	for _, n := range []int{5, 1, 3} {
		b.Append(doc(n))
	}
	require.NoError(t, b.Prep(spec))
	remaining, ok := b.Flush()
	require.True(t, ok)
	require.Equal(t, 1, remaining.Docs[0].Fields["n"])
	require.Equal(t, 3, remaining.Docs[1].Fields["n"])
	require.Equal(t, 5, remaining.Docs[2].Fields["n"])
}

func TestDirectBuilderPreservesAppendOrder(t *testing.T) {
	spec, err := model.NewSpec([]model.KeyField{{Name: "n", Direction: model.Asc}}, false)
	require.NoError(t, err)

	b, err := batch.NewBuilder(model.StrategyDirect, "c0", 10, "")
	require.NoError(t, err)
	defer b.Close()
	for _, n := range []int{5, 1, 3} {
		b.Append(doc(n))
	}
	require.NoError(t, b.Prep(spec))
	remaining, ok := b.Flush()
	require.True(t, ok)
	require.Equal(t, 5, remaining.Docs[0].Fields["n"])
	require.Equal(t, 1, remaining.Docs[1].Fields["n"])
	require.Equal(t, 3, remaining.Docs[2].Fields["n"])
}

func TestEmptyBuilderFlushIsNoop(t *testing.T) {
	b, err := batch.NewBuilder(model.StrategyRAM, "c0", 10, "")
	require.NoError(t, err)
	defer b.Close()
	_, ok := b.Flush()
	require.False(t, ok)
}

func TestDiskBuilderRoundTrips(t *testing.T) {
	dir := t.TempDir()
	b, err := batch.NewBuilder(model.StrategyDisk, "c0", 3, dir)
	require.NoError(t, err)
	defer b.Close()

	_, full := b.Append(doc(1))
	require.False(t, full)
	_, full = b.Append(doc(2))
	require.False(t, full)
	sealed, full := b.Append(doc(3))
	require.True(t, full)
	require.Equal(t, 3, sealed.Len())
	require.EqualValues(t, 1, sealed.Docs[0].Fields["n"])
	require.EqualValues(t, 2, sealed.Docs[1].Fields["n"])
	require.EqualValues(t, 3, sealed.Docs[2].Fields["n"])

	// a second accumulation cycle over the same builder must not replay
	// the first batch's documents.
	_, full = b.Append(doc(4))
	require.False(t, full)
	remaining, ok := b.Flush()
	require.True(t, ok)
	require.Len(t, remaining.Docs, 1)
	require.EqualValues(t, 4, remaining.Docs[0].Fields["n"])
}

func TestDiskBuilderCloseRemovesSpillFile(t *testing.T) {
	dir := t.TempDir()
	b, err := batch.NewBuilder(model.StrategyDisk, "c0", 3, dir)
	require.NoError(t, err)
	b.Append(doc(1))
	require.NoError(t, b.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestDiskBuilderRequiresWorkPath(t *testing.T) {
	_, err := batch.NewBuilder(model.StrategyDisk, "c0", 3, "")
	require.Error(t, err)
}
