package classpool

import (
	"bytes"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/blockpool/memutils"
	"golang.org/x/exp/slog"
)

func TestLogFailureLevels(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	pool, err := New(logger, CreateOptions{})
	require.NoError(t, err)
	logs.Reset()

	pool.logFailure("allocation failed", memutils.LedgerCorruptf("class %d reports %d free units, but its ledger has no free run", 0, 3), slog.Int("Size", 100))
	require.Contains(t, logs.String(), "level=ERROR")
	require.Contains(t, logs.String(), `msg="allocation failed"`)
	require.Contains(t, logs.String(), "Size=100")
	require.Contains(t, logs.String(), "reports 3 free units")
	logs.Reset()

	pool.logFailure("allocation failed", errors.Wrap(memutils.ErrExhausted, "requested 100 bytes from class 0"), slog.Int("Size", 100))
	require.Contains(t, logs.String(), "level=DEBUG")
	require.NotContains(t, logs.String(), "level=ERROR")
}

func TestAllocateLogsExhaustionAtDebug(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelInfo}))

	pool, err := New(logger, CreateOptions{PoolSize: 2048, ClassCount: 4})
	require.NoError(t, err)

	for i := 0; i < 16; i++ {
		_, err = pool.Allocate(1)
		require.NoError(t, err)
	}

	_, err = pool.Allocate(1)
	require.True(t, errors.Is(err, memutils.ErrExhausted))
	require.Empty(t, strings.TrimSpace(logs.String()))
}
