package eventlog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLog(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendAndRecent(t *testing.T) {
	s := newTestLog(t)
	ctx := context.Background()

	for i, sym := range []string{"BTCUSDT", "ETHUSDT", "BTCUSDT"} {
		_, err := s.Append(ctx, Record{
			TraceID:  "trace-1",
			TS:       int64(1000 + i),
			Type:     "exit_decision",
			Symbol:   sym,
			Priority: "warning",
			Title:    "exit",
			Fields:   map[string]any{"confidence": 0.9},
		})
		require.NoError(t, err)
	}

	all, err := s.Recent(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int64(1002), all[0].TS, "newest first")

	btc, err := s.Recent(ctx, Query{Symbol: "btcusdt"})
	require.NoError(t, err)
	assert.Len(t, btc, 2)
	assert.Equal(t, "BTCUSDT", btc[0].Symbol)
	require.NotNil(t, btc[0].Fields)
	assert.InDelta(t, 0.9, btc[0].Fields["confidence"].(float64), 1e-9)
}

func TestRecentFiltersByType(t *testing.T) {
	s := newTestLog(t)
	ctx := context.Background()
	_, err := s.Append(ctx, Record{Type: "reconcile", Title: "drift"})
	require.NoError(t, err)
	_, err = s.Append(ctx, Record{Type: "exit_decision", Title: "exit"})
	require.NoError(t, err)

	got, err := s.Recent(ctx, Query{Type: "reconcile"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "drift", got[0].Title)
}
