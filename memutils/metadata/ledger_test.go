package metadata_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/blockpool/memutils/metadata"
)

func TestLedgerRuns(t *testing.T) {
	ledger := metadata.NewLedger(128)
	require.Equal(t, 128, ledger.Len())
	require.Equal(t, 8, ledger.ContainerCount())
	require.True(t, ledger.RunIsClear(0, 128))

	ledger.SetRun(4, 4)
	require.Equal(t, uint16(0x00f0), ledger.Container(0))
	require.True(t, ledger.RunIsSet(4, 4))
	require.False(t, ledger.RunIsClear(0, 8))
	require.True(t, ledger.RunIsClear(0, 4))
	require.True(t, ledger.IsSet(7))
	require.False(t, ledger.IsSet(8))
	require.Equal(t, 4, ledger.OccupiedCount())

	ledger.ClearRun(4, 4)
	require.Equal(t, uint16(0), ledger.Container(0))
	require.Equal(t, 0, ledger.OccupiedCount())
}

func TestLedgerRunsSpanContainers(t *testing.T) {
	ledger := metadata.NewLedger(64)

	ledger.SetRun(16, 32)
	require.Equal(t, uint16(0), ledger.Container(0))
	require.Equal(t, uint16(0xffff), ledger.Container(1))
	require.Equal(t, uint16(0xffff), ledger.Container(2))
	require.Equal(t, uint16(0), ledger.Container(3))
	require.True(t, ledger.RunIsSet(16, 32))
	require.False(t, ledger.RunIsSet(0, 32))

	ledger.SetRun(14, 4)
	require.Equal(t, uint16(0xc000), ledger.Container(0))
	require.Equal(t, "c000 ffff ffff 0000", ledger.String())

	ledger.Clear()
	require.True(t, ledger.RunIsClear(0, 64))
}
