// Package ta holds trailing-window indicator math. Every function looks only at
// the values it is given, oldest first, and returns NaN when the window is not
// fully populated.
package ta

import "math"

func SMA(closes []float64, n int) float64 {
	if len(closes) < n || n <= 0 {
		return math.NaN()
	}
	sum := 0.0
	for i := len(closes) - n; i < len(closes); i++ {
		sum += closes[i]
	}
	return sum / float64(n)
}

// EMASeries returns the exponential moving average aligned with vals. The
// first n-1 entries are NaN and entry n-1 is seeded with the SMA of the first
// n values.
func EMASeries(vals []float64, n int) []float64 {
	out := make([]float64, len(vals))
	for i := range out {
		out[i] = math.NaN()
	}
	if n <= 0 || len(vals) < n {
		return out
	}
	k := 2.0 / float64(n+1)
	out[n-1] = SMA(vals[:n], n)
	for i := n; i < len(vals); i++ {
		out[i] = vals[i]*k + out[i-1]*(1-k)
	}
	return out
}

func EMA(closes []float64, n int) float64 {
	s := EMASeries(closes, n)
	if len(s) == 0 {
		return math.NaN()
	}
	return s[len(s)-1]
}

// RSI uses the plain average of gains and losses over the last period deltas.
// It is 100 when the window holds no losses.
func RSI(closes []float64, period int) float64 {
	if len(closes) < period+1 || period <= 0 {
		return math.NaN()
	}
	gain, loss := 0.0, 0.0
	for i := len(closes) - period; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	if loss == 0 {
		return 100.0
	}
	rs := (gain / float64(period)) / (loss / float64(period))
	return 100.0 - (100.0 / (1.0 + rs))
}

// MACD returns the fast/slow EMA difference, its signal-period EMA and the
// histogram for the last value. It needs slow+signal-1 values.
func MACD(closes []float64, fast, slow, signal int) (macd, sig, hist float64) {
	nan := math.NaN()
	if fast <= 0 || slow <= 0 || signal <= 0 || fast >= slow || len(closes) < slow+signal-1 {
		return nan, nan, nan
	}
	f := EMASeries(closes, fast)
	s := EMASeries(closes, slow)
	line := make([]float64, 0, len(closes)-slow+1)
	for i := slow - 1; i < len(closes); i++ {
		line = append(line, f[i]-s[i])
	}
	sigSeries := EMASeries(line, signal)
	macd = line[len(line)-1]
	sig = sigSeries[len(sigSeries)-1]
	return macd, sig, macd - sig
}

// HeikinAshi returns the smoothed open and close of the last candle.
func HeikinAshi(opens, highs, lows, closes []float64) (haOpen, haClose float64) {
	n := len(closes)
	if n == 0 || len(opens) != n || len(highs) != n || len(lows) != n {
		return math.NaN(), math.NaN()
	}
	haOpen = (opens[0] + closes[0]) / 2
	haClose = (opens[0] + highs[0] + lows[0] + closes[0]) / 4
	for i := 1; i < n; i++ {
		haOpen = (haOpen + haClose) / 2
		haClose = (opens[i] + highs[i] + lows[i] + closes[i]) / 4
	}
	return haOpen, haClose
}

func Highest(vals []float64, n int) float64 {
	if len(vals) < n || n <= 0 {
		return math.NaN()
	}
	h := math.Inf(-1)
	for _, v := range vals[len(vals)-n:] {
		h = math.Max(h, v)
	}
	return h
}

func Lowest(vals []float64, n int) float64 {
	if len(vals) < n || n <= 0 {
		return math.NaN()
	}
	l := math.Inf(1)
	for _, v := range vals[len(vals)-n:] {
		l = math.Min(l, v)
	}
	return l
}
