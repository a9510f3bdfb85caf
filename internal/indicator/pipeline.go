// Package indicator turns a candle window into the snapshot the signal rules
// read.
package indicator

import (
	"fmt"
	"math"
	"strings"

	"sma-trading-bot/internal/ta"
	"sma-trading-bot/internal/types"
)

type Color string

const (
	Green Color = "green"
	Red   Color = "red"
)

// Params selects the windows used by the pipeline.
type Params struct {
	MAType        string // "sma" or "ema"
	ShortWindow   int
	LongWindow    int
	RSIPeriod     int
	MACDFast      int
	MACDSlow      int
	MACDSignal    int
	ChannelWindow int
}

// Lookback is the minimum number of candles every value in a snapshot needs.
func (p Params) Lookback() int {
	n := p.LongWindow
	if p.ShortWindow > n {
		n = p.ShortWindow
	}
	if p.RSIPeriod+1 > n {
		n = p.RSIPeriod + 1
	}
	if m := p.MACDSlow + p.MACDSignal - 1; m > n {
		n = m
	}
	// channel excludes the current candle
	if p.ChannelWindow+1 > n {
		n = p.ChannelWindow + 1
	}
	return n
}

func (p Params) Validate() error {
	if p.ShortWindow <= 0 || p.LongWindow <= 0 || p.ShortWindow >= p.LongWindow {
		return fmt.Errorf("indicator: short window %d must be positive and below long window %d", p.ShortWindow, p.LongWindow)
	}
	if p.RSIPeriod <= 0 {
		return fmt.Errorf("indicator: rsi period must be positive")
	}
	if p.MACDFast <= 0 || p.MACDFast >= p.MACDSlow || p.MACDSignal <= 0 {
		return fmt.Errorf("indicator: invalid macd windows %d/%d/%d", p.MACDFast, p.MACDSlow, p.MACDSignal)
	}
	if p.ChannelWindow <= 0 {
		return fmt.Errorf("indicator: channel window must be positive")
	}
	return nil
}

// Snapshot holds indicator values for the most recent candle of a window.
type Snapshot struct {
	Time        int64
	Close       float64
	Volume      float64
	ShortMA     float64
	LongMA      float64
	RSI         float64
	MACD        float64
	MACDSignal  float64
	MACDHist    float64
	Candle      Color
	ChannelHigh float64
	ChannelLow  float64
}

// Compute derives the snapshot for the last candle. Fewer candles than
// Lookback yields types.ErrInsufficientData and never a partial value.
func Compute(candles []types.Candle, p Params) (Snapshot, error) {
	need := p.Lookback()
	if len(candles) < need {
		return Snapshot{}, fmt.Errorf("indicator: have %d candles, need %d: %w", len(candles), need, types.ErrInsufficientData)
	}

	n := len(candles)
	opens := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i, c := range candles {
		opens[i], highs[i], lows[i], closes[i] = c.Open, c.High, c.Low, c.Close
	}

	last := candles[n-1]
	s := Snapshot{Time: last.Ts, Close: last.Close, Volume: last.Vol}
	if strings.EqualFold(p.MAType, "ema") {
		s.ShortMA = ta.EMA(closes, p.ShortWindow)
		s.LongMA = ta.EMA(closes, p.LongWindow)
	} else {
		s.ShortMA = ta.SMA(closes, p.ShortWindow)
		s.LongMA = ta.SMA(closes, p.LongWindow)
	}
	s.RSI = ta.RSI(closes, p.RSIPeriod)
	s.MACD, s.MACDSignal, s.MACDHist = ta.MACD(closes, p.MACDFast, p.MACDSlow, p.MACDSignal)

	haOpen, haClose := ta.HeikinAshi(opens, highs, lows, closes)
	s.Candle = Red
	if haClose > haOpen {
		s.Candle = Green
	}

	s.ChannelHigh = ta.Highest(highs[:n-1], p.ChannelWindow)
	s.ChannelLow = ta.Lowest(lows[:n-1], p.ChannelWindow)

	for _, v := range []float64{s.ShortMA, s.LongMA, s.RSI, s.MACD, s.MACDSignal, s.ChannelHigh, s.ChannelLow, haOpen} {
		if math.IsNaN(v) {
			return Snapshot{}, fmt.Errorf("indicator: incomplete window: %w", types.ErrInsufficientData)
		}
	}
	return s, nil
}

// ComputePair returns the snapshots for the previous and the last candle.
func ComputePair(candles []types.Candle, p Params) (prev, cur Snapshot, err error) {
	if len(candles) < p.Lookback()+1 {
		return Snapshot{}, Snapshot{}, fmt.Errorf("indicator: have %d candles, need %d: %w", len(candles), p.Lookback()+1, types.ErrInsufficientData)
	}
	if prev, err = Compute(candles[:len(candles)-1], p); err != nil {
		return Snapshot{}, Snapshot{}, err
	}
	if cur, err = Compute(candles, p); err != nil {
		return Snapshot{}, Snapshot{}, err
	}
	return prev, cur, nil
}
