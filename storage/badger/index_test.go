package badger

import (
	"fmt"
	"math"
	"testing"

	"github.com/poiesic/attrcat/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func angleVector(i int) []float32 {
	a := float64(i) * 0.3
	return []float32{float32(math.Cos(a)), float32(math.Sin(a))}
}

func TestVectorIndex_ReplacementsAreCompacted(t *testing.T) {
	const keys = 10
	vi, err := newVectorIndex(testDescriptor(2))
	require.NoError(t, err)

	for round := 0; round < 100; round++ {
		for i := 0; i < keys; i++ {
			require.NoError(t, vi.put(fmt.Sprintf("key-%d", i), angleVector(i)))
		}
		assert.LessOrEqual(t, vi.graph.Tombstones(), compactMinTombstones)
	}

	assert.Equal(t, keys, vi.size())
	assert.Len(t, vi.nodes, keys)

	for i := 0; i < keys; i++ {
		got, size, err := vi.search(angleVector(i), keys)
		require.NoError(t, err)
		assert.Equal(t, keys, size)
		require.Len(t, got, keys)
		assert.Equal(t, fmt.Sprintf("key-%d", i), got[0])
	}
}

func TestVectorIndex_WrongWidthRemovesEntry(t *testing.T) {
	vi, err := newVectorIndex(core.IndexDescriptor{Name: "attributes", Dimension: 2, Metric: core.MetricCosine})
	require.NoError(t, err)

	require.NoError(t, vi.put("customer", []float32{1, 0}))
	require.NoError(t, vi.put("customer", []float32{1, 0, 0}))

	assert.Equal(t, 0, vi.size())
	got, _, err := vi.search([]float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}
