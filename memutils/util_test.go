package memutils_test

import (
	"math"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/mmalloc/memutils"
)

func TestCheckPow2(t *testing.T) {
	for _, value := range []int{1, 2, 8, 1024} {
		require.NoError(t, memutils.CheckPow2(value, "value"))
	}

	for _, value := range []int{0, 3, 12, 1023} {
		err := memutils.CheckPow2(value, "value")
		require.True(t, errors.Is(err, memutils.PowerOfTwoError))
	}

	require.NoError(t, memutils.CheckPow2(uintptr(16), "alignment"))
}

func TestAlign(t *testing.T) {
	require.Equal(t, 0, memutils.AlignUp(0, 8))
	require.Equal(t, 8, memutils.AlignUp(1, 8))
	require.Equal(t, 8, memutils.AlignUp(8, 8))
	require.Equal(t, 40, memutils.AlignUp(36, 8))
}

func TestDetailedStatistics(t *testing.T) {
	var stats memutils.DetailedStatistics
	stats.Clear()
	require.Equal(t, math.MaxInt, stats.AllocationSizeMin)
	require.Equal(t, math.MaxInt, stats.UnusedRangeSizeMin)

	stats.AddAllocation(40)
	stats.AddAllocation(24)
	stats.AddUnusedRange(64)

	var other memutils.DetailedStatistics
	other.Clear()
	other.ChunkCount = 2
	other.ArenaBytes = 80
	other.AddAllocation(80)
	other.AddUnusedRange(8)

	stats.AddDetailedStatistics(&other)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			ChunkCount:      2,
			AllocationCount: 3,
			ArenaBytes:      80,
			AllocationBytes: 144,
		},
		UnusedRangeCount:   2,
		AllocationSizeMin:  24,
		AllocationSizeMax:  80,
		UnusedRangeSizeMin: 8,
		UnusedRangeSizeMax: 64,
	}, stats)
}
