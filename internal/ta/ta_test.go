package ta

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMA(t *testing.T) {
	assert.InDelta(t, 3.0, SMA([]float64{1, 2, 3, 4, 5}, 3), 1e-9)
	assert.True(t, math.IsNaN(SMA([]float64{1, 2}, 3)))
	assert.True(t, math.IsNaN(SMA([]float64{1, 2}, 0)))
}

func TestSMAUsesTrailingWindowOnly(t *testing.T) {
	closes := []float64{100, 100, 100, 1, 2, 3}
	assert.InDelta(t, 2.0, SMA(closes, 3), 1e-9)
}

func TestEMASeries(t *testing.T) {
	s := EMASeries([]float64{1, 2, 3, 4}, 3)
	require.Len(t, s, 4)
	assert.True(t, math.IsNaN(s[0]))
	assert.True(t, math.IsNaN(s[1]))
	assert.InDelta(t, 2.0, s[2], 1e-9)
	// k = 0.5
	assert.InDelta(t, 3.0, s[3], 1e-9)
	assert.True(t, math.IsNaN(EMA([]float64{1, 2}, 3)))
}

func TestRSIBoundaries(t *testing.T) {
	rising := []float64{1, 2, 3, 4, 5, 6}
	assert.Equal(t, 100.0, RSI(rising, 5))

	flat := []float64{5, 5, 5, 5, 5, 5}
	assert.Equal(t, 100.0, RSI(flat, 5))

	falling := []float64{6, 5, 4, 3, 2, 1}
	assert.InDelta(t, 0.0, RSI(falling, 5), 1e-9)

	assert.True(t, math.IsNaN(RSI([]float64{1, 2, 3}, 5)), "incomplete window must not yield a value")
}

func TestRSIStaysInRange(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	closes := make([]float64, 300)
	price := 100.0
	for i := range closes {
		price += r.NormFloat64()
		closes[i] = price
	}
	for n := 15; n <= len(closes); n++ {
		v := RSI(closes[:n], 14)
		require.False(t, math.IsNaN(v))
		require.GreaterOrEqual(t, v, 0.0)
		require.LessOrEqual(t, v, 100.0)
	}
}

func TestRSIMixed(t *testing.T) {
	// gains 2, losses 1 over 3 deltas -> rs 2 -> 66.67
	v := RSI([]float64{10, 12, 11, 11}, 3)
	assert.InDelta(t, 66.6667, v, 1e-3)
}

func TestMACD(t *testing.T) {
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = float64(i + 1)
	}
	m, s, h := MACD(closes, 12, 26, 9)
	assert.Greater(t, m, 0.0, "fast EMA leads on a rising series")
	assert.InDelta(t, m-s, h, 1e-9)

	m, _, _ = MACD(closes[:30], 12, 26, 9)
	assert.True(t, math.IsNaN(m))
}

func TestHeikinAshi(t *testing.T) {
	o, c := HeikinAshi([]float64{10}, []float64{12}, []float64{9}, []float64{11})
	assert.InDelta(t, 10.5, o, 1e-9)
	assert.InDelta(t, 10.5, c, 1e-9)

	o, c = HeikinAshi([]float64{10, 11}, []float64{12, 14}, []float64{9, 11}, []float64{11, 13})
	assert.InDelta(t, 10.5, o, 1e-9)
	assert.InDelta(t, 12.25, c, 1e-9)

	o, _ = HeikinAshi(nil, nil, nil, nil)
	assert.True(t, math.IsNaN(o))
}

func TestHighestLowest(t *testing.T) {
	vals := []float64{5, 9, 1, 4, 7}
	assert.Equal(t, 7.0, Highest(vals, 2))
	assert.Equal(t, 9.0, Highest(vals, 5))
	assert.Equal(t, 1.0, Lowest(vals, 3))
	assert.True(t, math.IsNaN(Lowest(vals, 6)))
}
