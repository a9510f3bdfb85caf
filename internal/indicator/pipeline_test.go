package indicator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sma-trading-bot/internal/types"
)

func testParams() Params {
	return Params{
		MAType:        "sma",
		ShortWindow:   3,
		LongWindow:    10,
		RSIPeriod:     5,
		MACDFast:      3,
		MACDSlow:      6,
		MACDSignal:    3,
		ChannelWindow: 4,
	}
}

func candles(closes ...float64) []types.Candle {
	out := make([]types.Candle, len(closes))
	for i, c := range closes {
		out[i] = types.Candle{Ts: int64(i) * 60, Open: c - 0.5, High: c + 1, Low: c - 1, Close: c, Vol: 100}
	}
	return out
}

func series(n int, f func(i int) float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = f(i)
	}
	return out
}

func TestLookback(t *testing.T) {
	assert.Equal(t, 10, testParams().Lookback())

	p := testParams()
	p.ChannelWindow = 20
	assert.Equal(t, 21, p.Lookback())
}

func TestComputeInsufficientData(t *testing.T) {
	p := testParams()
	for n := 0; n < p.Lookback(); n++ {
		_, err := Compute(candles(series(n, func(i int) float64 { return float64(i + 1) })...), p)
		require.Error(t, err, "n=%d", n)
		assert.True(t, errors.Is(err, types.ErrInsufficientData))
	}
}

func TestComputeValues(t *testing.T) {
	p := testParams()
	cs := candles(series(12, func(i int) float64 { return float64(i + 1) })...)
	s, err := Compute(cs, p)
	require.NoError(t, err)

	assert.Equal(t, int64(11*60), s.Time)
	assert.Equal(t, 12.0, s.Close)
	assert.InDelta(t, 11.0, s.ShortMA, 1e-9)
	assert.InDelta(t, 7.5, s.LongMA, 1e-9)
	assert.Equal(t, 100.0, s.RSI)
	assert.Equal(t, Green, s.Candle)
	// previous four highs: 9..12 -> 12 ; lows 7..10 -> 7
	assert.InDelta(t, 12.0, s.ChannelHigh, 1e-9)
	assert.InDelta(t, 7.0, s.ChannelLow, 1e-9)
	assert.Greater(t, s.MACD, 0.0)
}

func TestComputeEMA(t *testing.T) {
	p := testParams()
	p.MAType = "ema"
	cs := candles(series(12, func(i int) float64 { return 10 })...)
	s, err := Compute(cs, p)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, s.ShortMA, 1e-9)
	assert.InDelta(t, 10.0, s.LongMA, 1e-9)
}

func TestComputePair(t *testing.T) {
	p := testParams()
	cs := candles(series(11, func(i int) float64 { return float64(i + 1) })...)
	prev, cur, err := ComputePair(cs, p)
	require.NoError(t, err)
	assert.Equal(t, int64(9*60), prev.Time)
	assert.Equal(t, int64(10*60), cur.Time)

	_, _, err = ComputePair(cs[:10], p)
	assert.ErrorIs(t, err, types.ErrInsufficientData)
}

func TestValidate(t *testing.T) {
	require.NoError(t, testParams().Validate())

	p := testParams()
	p.ShortWindow = 10
	assert.Error(t, p.Validate())

	p = testParams()
	p.MACDFast = 6
	assert.Error(t, p.Validate())
}
