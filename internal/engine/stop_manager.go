package engine

import (
	"github.com/shopspring/decimal"

	"sma-trading-bot/internal/types"
)

// stopManager derives exit levels and decides exits.
type stopManager struct {
	takeProfitPct float64
	stopLossPct   float64
	trailing      bool
	trailingPct   float64
}

func newStopManager(tpPct, slPct float64, trailing bool, trailingPct float64) *stopManager {
	return &stopManager{
		takeProfitPct: tpPct,
		stopLossPct:   slPct,
		trailing:      trailing,
		trailingPct:   trailingPct,
	}
}

// levels computes take-profit and stop-loss for an entry.
//
//   - long:  tp = entry * (1 + tp%), sl = entry * (1 - sl%)
//   - short: tp = entry * (1 - tp%), sl = entry * (1 + sl%)
func (sm *stopManager) levels(dir types.Direction, entry float64) (tp, sl float64) {
	up := func(pct float64) float64 { return scale(entry, 100+pct) }
	down := func(pct float64) float64 { return scale(entry, 100-pct) }
	if dir == types.Short {
		return down(sm.takeProfitPct), up(sm.stopLossPct)
	}
	return up(sm.takeProfitPct), down(sm.stopLossPct)
}

// scale returns price * pct / 100 in decimal so round percentages land on
// round prices.
func scale(price, pct float64) float64 {
	v, _ := decimal.NewFromFloat(price).
		Mul(decimal.NewFromFloat(pct)).
		Div(decimal.NewFromInt(100)).
		Float64()
	return v
}

// trailCandidate returns the stop the trailing rule proposes at price. There
// is no candidate until price has moved past entry in the position's favour.
func (sm *stopManager) trailCandidate(p types.Position, price float64) (float64, bool) {
	if !sm.trailing || sm.trailingPct <= 0 {
		return 0, false
	}
	if p.Direction == types.Short {
		if price >= p.EntryPrice {
			return 0, false
		}
		return scale(price, 100+sm.trailingPct), true
	}
	if price <= p.EntryPrice {
		return 0, false
	}
	return scale(price, 100-sm.trailingPct), true
}

// exitReason checks take-profit first, then the effective stop.
func (sm *stopManager) exitReason(p types.Position, price float64) (types.ExitReason, bool) {
	stop := p.EffectiveStop()
	if p.Direction == types.Short {
		switch {
		case price <= p.TakeProfit:
			return types.ReasonTakeProfit, true
		case price >= stop:
			return types.ReasonStopLoss, true
		}
		return "", false
	}
	switch {
	case price >= p.TakeProfit:
		return types.ReasonTakeProfit, true
	case price <= stop:
		return types.ReasonStopLoss, true
	}
	return "", false
}

func (sm *stopManager) isTrailingEnabled() bool {
	return sm.trailing
}
