package roundrobin_test

import (
	"testing"

	"github.com/NVIDIA/shardload/roundrobin"
	"github.com/stretchr/testify/require"
)

func TestDistributesEvenly(t *testing.T) {
	c := roundrobin.New([]string{"a", "b", "c"})
	counts := map[string]int{}
	const k = 100
	for i := 0; i < k; i++ {
		v, ok := c.Next()
		require.True(t, ok)
		counts[v]++
	}
	for _, v := range []string{"a", "b", "c"} {
		require.GreaterOrEqual(t, counts[v], k/3)
		require.LessOrEqual(t, counts[v], k/3+1)
	}
}

func TestRemoveExcludesFromFutureNext(t *testing.T) {
	c := roundrobin.New([]string{"a", "b", "c"})
	c.Remove("b")
	require.Equal(t, 2, c.Len())
	for i := 0; i < 20; i++ {
		v, ok := c.Next()
		require.True(t, ok)
		require.NotEqual(t, "b", v)
	}
}

func TestEmptyAfterRemovingAll(t *testing.T) {
	c := roundrobin.New([]string{"a"})
	c.Remove("a")
	_, ok := c.Next()
	require.False(t, ok)
}
