package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sma-trading-bot/internal/types"
)

func newStore(t *testing.T) (*Store, string) {
	dir := t.TempDir()
	return New(filepath.Join(dir, "positions.json"), filepath.Join(dir, "stats.json")), dir
}

func TestMissingFilesAreEmpty(t *testing.T) {
	s, _ := newStore(t)
	ps, err := s.LoadPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ps)

	st, err := s.LoadStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.Stats{}, st)
}

func TestPositionsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	opened := time.Date(2026, 1, 5, 9, 30, 0, 0, time.UTC)
	want := []types.Position{
		{Instrument: "DOGE/USDT", Direction: types.Long, EntryPrice: 100, Quantity: 2, TakeProfit: 102, StopLoss: 99,
			TrailingFloor: optional.Some(100.5), OrderID: "1", OpenedAt: opened, State: types.StateOpen},
		{Instrument: "DOGE/USDT", Direction: types.Short, EntryPrice: 100, Quantity: 1, TakeProfit: 98, StopLoss: 101,
			TrailingFloor: optional.None[float64](), OrderID: "2", OpenedAt: opened, State: types.StateClosing},
	}
	require.NoError(t, s.SavePositions(ctx, 1, want))

	got, err := New(s.positionsPath, s.statsPath).LoadPositions(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 100.5, got[0].EffectiveStop())
	assert.Equal(t, 101.0, got[1].EffectiveStop())
	assert.Equal(t, types.StateClosing, got[1].State)
	assert.True(t, got[0].OpenedAt.Equal(opened))
}

func TestStaleSnapshotIgnored(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	require.NoError(t, s.SavePositions(ctx, 5, []types.Position{{Instrument: "A", Direction: types.Long}}))
	require.NoError(t, s.SavePositions(ctx, 3, nil))

	got, err := s.LoadPositions(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	require.NoError(t, s.SavePositions(ctx, 6, nil))
	got, err = s.LoadPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStatsRoundTripAndNoTempLeft(t *testing.T) {
	ctx := context.Background()
	s, dir := newStore(t)
	st := types.Stats{Wins: 3, Losses: 1, RealizedPnL: 4.5, LossDay: "2026-01-05", DailyLoss: 1}
	require.NoError(t, s.SaveStats(ctx, st))

	got, err := s.LoadStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, st, got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCorruptFileErrors(t *testing.T) {
	s, _ := newStore(t)
	require.NoError(t, os.WriteFile(s.statsPath, []byte("{not json"), 0o644))
	_, err := s.LoadStats(context.Background())
	assert.Error(t, err)
}
