// Package signal decides entries from indicator snapshots. It never places
// orders.
package signal

import (
	"sync"

	"github.com/moznion/go-optional"

	"sma-trading-bot/internal/indicator"
	"sma-trading-bot/internal/types"
)

// Rules configures the crossover rule and the optional confirmation filters.
type Rules struct {
	RSIUpper float64
	RSILower float64

	ChannelBreakout bool
	MACD            bool
	HeikinAshi      bool
	MinVolume       float64
	HigherTimeframe bool
}

// Input is everything one evaluation reads.
type Input struct {
	Prev indicator.Snapshot
	Cur  indicator.Snapshot
	// HigherMA is the moving average on the higher timeframe, when fetched.
	HigherMA optional.Option[float64]
}

// Evaluate applies the edge-triggered crossover: a long fires only on the
// sample where the short average moves from at-or-below to strictly above the
// long average, a short on the mirror transition.
func Evaluate(in Input, r Rules) types.Signal {
	prev, cur := in.Prev, in.Cur

	crossedUp := prev.ShortMA <= prev.LongMA && cur.ShortMA > cur.LongMA
	crossedDown := prev.ShortMA >= prev.LongMA && cur.ShortMA < cur.LongMA

	switch {
	case crossedUp && cur.RSI < r.RSIUpper && confirms(in, r, types.Long):
		return types.SignalLong
	case crossedDown && cur.RSI > r.RSILower && confirms(in, r, types.Short):
		return types.SignalShort
	}
	return types.SignalNone
}

func confirms(in Input, r Rules, dir types.Direction) bool {
	cur := in.Cur
	long := dir == types.Long

	if r.ChannelBreakout {
		if long && !(cur.Close > cur.ChannelHigh) {
			return false
		}
		if !long && !(cur.Close < cur.ChannelLow) {
			return false
		}
	}
	if r.MACD {
		if long && !(cur.MACDHist > 0) {
			return false
		}
		if !long && !(cur.MACDHist < 0) {
			return false
		}
	}
	if r.HeikinAshi {
		if long && cur.Candle != indicator.Green {
			return false
		}
		if !long && cur.Candle != indicator.Red {
			return false
		}
	}
	if r.MinVolume > 0 && cur.Volume < r.MinVolume {
		return false
	}
	if r.HigherTimeframe {
		if in.HigherMA.IsNone() {
			return false
		}
		ma := in.HigherMA.Unwrap()
		if long && !(cur.Close > ma) {
			return false
		}
		if !long && !(cur.Close < ma) {
			return false
		}
	}
	return true
}

// Generator wraps Evaluate with per-instrument memory of the candle a signal
// last fired on, so polling the same candle twice never fires twice.
type Generator struct {
	rules Rules

	mu    sync.Mutex
	fired map[types.PositionKey]int64
}

func NewGenerator(r Rules) *Generator {
	return &Generator{rules: r, fired: make(map[types.PositionKey]int64)}
}

func (g *Generator) Rules() Rules { return g.rules }

func (g *Generator) Next(instrument string, in Input) types.Signal {
	sig := Evaluate(in, g.rules)
	dir, ok := sig.Direction()
	if !ok {
		return types.SignalNone
	}

	key := types.PositionKey{Instrument: instrument, Direction: dir}
	g.mu.Lock()
	defer g.mu.Unlock()
	if ts, seen := g.fired[key]; seen && ts == in.Cur.Time {
		return types.SignalNone
	}
	g.fired[key] = in.Cur.Time
	return sig
}
