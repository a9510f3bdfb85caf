package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"sma-trading-bot/internal/logger"
	"sma-trading-bot/internal/types"
)

const dayLayout = "2006-01-02"

// riskManager owns order sizing, the daily-loss circuit breaker and the
// performance counters.
type riskManager struct {
	mu sync.Mutex

	stake           float64
	dailyLimit      float64
	balanceFraction float64
	loc             *time.Location

	stats        types.Stats
	limitAlerted string // day the limit notification went out
}

func newRiskManager(stake, dailyLimit, balanceFraction float64, loc *time.Location) *riskManager {
	if loc == nil {
		loc = time.UTC
	}
	return &riskManager{
		stake:           stake,
		dailyLimit:      dailyLimit,
		balanceFraction: balanceFraction,
		loc:             loc,
	}
}

func (rm *riskManager) day(t time.Time) string {
	return t.In(rm.loc).Format(dayLayout)
}

// rollover resets the daily counter when the calendar day changed. Callers
// hold rm.mu.
func (rm *riskManager) rollover(now time.Time) {
	if d := rm.day(now); rm.stats.LossDay != d {
		rm.stats.LossDay = d
		rm.stats.DailyLoss = 0
	}
}

// restore installs persisted counters. A daily loss from an earlier day is
// dropped on the next rollover check.
func (rm *riskManager) restore(s types.Stats, now time.Time) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.stats = s
	rm.rollover(now)
}

// size computes the order quantity for one entry.
//
// qty = max(market minimum, stake), floored to the lot step and bumped one
// step if flooring fell below the minimum. The order is rejected when
// price * qty is under the market's minimum notional.
func (rm *riskManager) size(price float64, m types.MarketInfo) (float64, error) {
	rm.mu.Lock()
	stake := rm.stake
	rm.mu.Unlock()

	q := decimal.NewFromFloat(stake)
	minQ := decimal.NewFromFloat(m.MinQty)
	if q.LessThan(minQ) {
		q = minQ
	}
	if m.StepSize > 0 {
		step := decimal.NewFromFloat(m.StepSize)
		q = q.Div(step).Floor().Mul(step)
		if q.LessThan(minQ) {
			q = q.Add(step)
		}
	}
	if !q.IsPositive() {
		return 0, fmt.Errorf("quantity %s: %w", q, types.ErrBelowMinNotional)
	}

	notional := q.Mul(decimal.NewFromFloat(price))
	if notional.LessThan(decimal.NewFromFloat(m.MinNotional)) {
		return 0, fmt.Errorf("notional %s < %v: %w", notional.StringFixed(4), m.MinNotional, types.ErrBelowMinNotional)
	}
	qty, _ := q.Float64()
	return qty, nil
}

// limitReached reports whether the daily loss has hit the configured limit.
func (rm *riskManager) limitReached(now time.Time) bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.rollover(now)
	return rm.dailyLimit > 0 && rm.stats.DailyLoss >= rm.dailyLimit
}

// shouldAlertLimit is true once per day, the first time the limit blocks an
// entry.
func (rm *riskManager) shouldAlertLimit(now time.Time) bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	d := rm.day(now)
	if rm.limitAlerted == d {
		return false
	}
	rm.limitAlerted = d
	return true
}

// checkBalance caps a single entry at balanceFraction of the free balance.
func (rm *riskManager) checkBalance(notional, free float64) error {
	if rm.balanceFraction <= 0 {
		return nil
	}
	if allowed := free * rm.balanceFraction; notional > allowed {
		return fmt.Errorf("notional %.4f exceeds %.0f%% of free balance %.4f: %w",
			notional, rm.balanceFraction*100, free, types.ErrInsufficientBalance)
	}
	return nil
}

// approve runs the sizing and loss-limit rules, in that order, for an entry
// whose ledger slot is already reserved.
func (rm *riskManager) approve(ctx context.Context, key types.PositionKey, price float64, m types.MarketInfo, now time.Time) (types.OrderIntent, error) {
	qty, err := rm.size(price, m)
	if err != nil {
		logger.Risk(ctx, key.Instrument, "BELOW_MIN_NOTIONAL", "direction", key.Direction, "price", price, "min_notional", m.MinNotional)
		return types.OrderIntent{}, err
	}
	if rm.limitReached(now) {
		s := rm.snapshot(now)
		logger.Risk(ctx, key.Instrument, "DAILY_LOSS_LIMIT", "daily_loss", s.DailyLoss, "limit", rm.dailyLimit)
		return types.OrderIntent{}, fmt.Errorf("daily loss %.4f >= %.4f: %w", s.DailyLoss, rm.dailyLimit, types.ErrDailyLossLimit)
	}
	return types.OrderIntent{
		Instrument: key.Instrument,
		Direction:  key.Direction,
		Quantity:   qty,
		Price:      price,
	}, nil
}

// recordClose books a confirmed exit. Take-profit counts as a win and
// stop-loss as a loss; other exits are classified by the sign of pnl. Any
// realized loss feeds the daily counter.
func (rm *riskManager) recordClose(reason types.ExitReason, pnl float64, now time.Time) types.Stats {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.rollover(now)

	switch {
	case reason == types.ReasonTakeProfit:
		rm.stats.Wins++
	case reason == types.ReasonStopLoss:
		rm.stats.Losses++
	case pnl > 0:
		rm.stats.Wins++
	case pnl < 0:
		rm.stats.Losses++
	}
	if pnl < 0 {
		rm.stats.DailyLoss += -pnl
	}
	rm.stats.RealizedPnL += pnl
	return rm.stats
}

func (rm *riskManager) snapshot(now time.Time) types.Stats {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.rollover(now)
	return rm.stats
}

func (rm *riskManager) getStake() float64 {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.stake
}

// adjustStake adds delta to the stake. The stake must stay positive.
func (rm *riskManager) adjustStake(delta float64) (float64, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	next, _ := decimal.NewFromFloat(rm.stake).Add(decimal.NewFromFloat(delta)).Float64()
	if next <= 0 {
		return rm.stake, fmt.Errorf("stake would become %v, must stay above zero", next)
	}
	rm.stake = next
	return next, nil
}
