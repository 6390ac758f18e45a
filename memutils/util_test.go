package memutils_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/blockpool/memutils"
)

func TestCheckPow2(t *testing.T) {
	for _, value := range []int{1, 2, 128, 4096, 1 << 20} {
		require.NoError(t, memutils.CheckPow2(value, "value"))
	}

	for _, value := range []int{0, 3, 96, 1000} {
		err := memutils.CheckPow2(value, "value")
		require.True(t, errors.Is(err, memutils.PowerOfTwoError))
	}

	err := memutils.CheckPow2(uint16(48), "container")
	require.EqualError(t, err, "container is 48: number must be a power of two")
}

func TestAlignment(t *testing.T) {
	require.Equal(t, 0, memutils.AlignDown(7, 8))
	require.Equal(t, 8, memutils.AlignDown(15, 8))
	require.Equal(t, 16, memutils.AlignDown(16, 8))

	require.True(t, memutils.IsAligned(0, 4))
	require.True(t, memutils.IsAligned(12, 4))
	require.False(t, memutils.IsAligned(6, 4))
	require.True(t, memutils.IsAligned(5, 1))
}

func TestStatisticsAggregate(t *testing.T) {
	var left memutils.DetailedStatistics
	left.Clear()
	left.PoolCount = 1
	left.PoolBytes = 1024
	left.AddAllocation(128)
	left.AddAllocation(256)
	left.AddFreeRange(640)

	var right memutils.DetailedStatistics
	right.Clear()
	right.PoolCount = 1
	right.PoolBytes = 4096
	right.AddAllocation(2048)
	right.AddFreeRange(1024)
	right.AddFreeRange(1024)

	var total memutils.DetailedStatistics
	total.Clear()
	total.AddDetailedStatistics(&left)
	total.AddDetailedStatistics(&right)

	require.Equal(t, memutils.Statistics{
		PoolCount:       2,
		AllocationCount: 3,
		PoolBytes:       5120,
		AllocationBytes: 2432,
	}, total.Statistics)
	require.Equal(t, 2688, total.FreeBytes())
	require.Equal(t, 3, total.FreeRangeCount)
	require.Equal(t, 128, total.AllocationSizeMin)
	require.Equal(t, 2048, total.AllocationSizeMax)
	require.Equal(t, 640, total.FreeRangeSizeMin)
	require.Equal(t, 1024, total.FreeRangeSizeMax)

	total.Clear()
	require.Equal(t, memutils.Statistics{}, total.Statistics)
}
