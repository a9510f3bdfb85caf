package eod

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sma-trading-bot/internal/tradelog"
	"sma-trading-bot/internal/types"
)

func seedJournal(t *testing.T, dir string, day time.Time) *tradelog.Journal {
	j := tradelog.NewJournal(filepath.Join(dir, "trades_log.jsonl"))
	recs := []types.TradeRecord{
		{Kind: types.KindEntry, Instrument: "DOGE/USDT", Side: types.SideBuy, Quantity: 10, Price: 1, Time: day},
		{Kind: types.KindExit, Instrument: "DOGE/USDT", Side: types.SideSell, Quantity: 10, Price: 1.02,
			Reason: types.ReasonTakeProfit, PnL: 0.2, Time: day.Add(time.Minute)},
		{Kind: types.KindEntry, Instrument: "BTC/USDT", Side: types.SideSell, Quantity: 0.001, Price: 50000, Time: day},
		{Kind: types.KindExit, Instrument: "BTC/USDT", Side: types.SideBuy, Quantity: 0.001, Price: 50500,
			Reason: types.ReasonStopLoss, PnL: -0.5, Time: day.Add(time.Minute)},
		{Kind: types.KindEntry, Instrument: "DOGE/USDT", Side: types.SideBuy, Quantity: 5, Price: 1, Time: day.AddDate(0, 0, -1)},
	}
	for _, r := range recs {
		require.NoError(t, j.Append(t.Context(), r))
	}
	return j
}

func TestSummarizeDay(t *testing.T) {
	dir := t.TempDir()
	day := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	s, err := newSummarizer(seedJournal(t, dir, day), dir, "23:55", time.UTC, func() time.Time { return day })
	require.NoError(t, err)

	path, err := s.SummarizeToday()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "eod", "2026-01-05.csv"), path)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 4)
	assert.Equal(t, headers, rows[0])
	assert.Equal(t, []string{"BTC/USDT", "1", "1", "0", "1", "0.001", "50500.0000", "0.001", "50000.0000", "-0.50", "50.50", "50.00"}, rows[1])
	assert.Equal(t, "DOGE/USDT", rows[2][0])
	assert.Equal(t, "1", rows[2][1], "yesterday's entry is not counted")
	assert.Equal(t, "1", rows[2][3])
	assert.Equal(t, "TOTAL", rows[3][0])
	assert.Equal(t, "-0.30", rows[3][9])
}

func TestSummarizeEmptyDay(t *testing.T) {
	dir := t.TempDir()
	s, err := newSummarizer(tradelog.NewJournal(filepath.Join(dir, "none.jsonl")), dir, "15:40", time.UTC, time.Now)
	require.NoError(t, err)

	path, err := s.SummarizeDay(time.Now())
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestShouldRunNow(t *testing.T) {
	dir := t.TempDir()
	ist := time.FixedZone("IST", 19800)
	now := time.Date(2026, 1, 5, 15, 0, 0, 0, ist)
	s, err := newSummarizer(seedJournal(t, dir, now), dir, "15:40", ist, func() time.Time { return now })
	require.NoError(t, err)

	run, _ := s.ShouldRunNow()
	assert.False(t, run, "before cutoff")

	now = now.Add(time.Hour)
	run, path := s.ShouldRunNow()
	assert.True(t, run)

	got, err := s.SummarizeToday()
	require.NoError(t, err)
	assert.Equal(t, path, got)

	run, _ = s.ShouldRunNow()
	assert.False(t, run, "already written")
}

func TestBadClock(t *testing.T) {
	_, err := NewSummarizer(nil, "", "25:99", time.UTC)
	assert.Error(t, err)
}
