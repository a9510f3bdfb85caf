package engine

import (
	"context"
	"errors"
	"fmt"

	"sma-trading-bot/internal/logger"
	"sma-trading-bot/internal/types"
)

// Monitor runs one pass over the open positions: ratchet trailing stops,
// then close anything whose take-profit or stop has been hit. A failure on
// one position never stops the others; the joined error carries every
// failure so the loop can tell transient from fatal.
func (e *Engine) Monitor(ctx context.Context) error {
	positions, _ := e.ledger.snapshot()

	var errs []error
	for _, p := range positions {
		if p.State != types.StateOpen {
			continue
		}
		price, err := e.lastPrice(ctx, p.Instrument)
		if err != nil {
			logger.WarnWithErr(ctx, "Price fetch failed, position checked next tick", err, "symbol", p.Instrument)
			errs = append(errs, err)
			continue
		}
		if err := e.checkPosition(ctx, p, price); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) checkPosition(ctx context.Context, p types.Position, price float64) error {
	if cand, ok := e.stops.trailCandidate(p, price); ok {
		old := p.EffectiveStop()
		if updated, moved := e.ledger.ratchet(p.Key(), cand); moved {
			p = updated
			e.persistPositions(ctx)
			logger.Info(ctx, "Trailing stop updated",
				"symbol", p.Instrument,
				"direction", p.Direction,
				"old_stop", old,
				"new_stop", p.EffectiveStop(),
				"price", price,
			)
		}
	}

	reason, hit := e.stops.exitReason(p, price)
	if !hit {
		return nil
	}
	logger.Info(ctx, "Exit level hit",
		"symbol", p.Instrument,
		"direction", p.Direction,
		"reason", reason,
		"price", price,
		"take_profit", p.TakeProfit,
		"stop", p.EffectiveStop(),
	)

	_, err := e.closePosition(ctx, p.Key(), reason, price)
	if errors.Is(err, types.ErrPositionBusy) || errors.Is(err, types.ErrPositionNotFound) {
		// someone else is closing it
		return nil
	}
	return err
}

func (e *Engine) lastPrice(ctx context.Context, symbol string) (float64, error) {
	if e.feed != nil {
		if p, ok := e.feed.LastPrice(symbol); ok && p > 0 {
			return p, nil
		}
	}
	return e.brk.LTP(ctx, symbol)
}

// ClosePosition flattens one position on operator request.
func (e *Engine) ClosePosition(ctx context.Context, key types.PositionKey, reason types.ExitReason) (types.TradeRecord, error) {
	ref, err := e.lastPrice(ctx, key.Instrument)
	if err != nil {
		logger.WarnWithErr(ctx, "No reference price for close, relying on fill price", err, "symbol", key.Instrument)
		ref = 0
	}
	return e.closePosition(ctx, key, reason, ref)
}

// CloseAll closes every open position and reports each failure.
func (e *Engine) CloseAll(ctx context.Context) ([]types.TradeRecord, error) {
	positions, _ := e.ledger.snapshot()

	var (
		recs []types.TradeRecord
		errs []error
	)
	for _, p := range positions {
		if p.State != types.StateOpen {
			continue
		}
		rec, err := e.ClosePosition(ctx, p.Key(), types.ReasonManual)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		recs = append(recs, rec)
	}
	return recs, errors.Join(errs...)
}

// closePosition is the Open -> Closing -> Closed transition. The position
// leaves the ledger only after the exchange confirms the closing order; a
// failed order puts it back to Open for the next tick. Stats and the daily
// loss counter move only on a confirmed fill.
func (e *Engine) closePosition(ctx context.Context, key types.PositionKey, reason types.ExitReason, refPrice float64) (types.TradeRecord, error) {
	p, err := e.ledger.beginClose(key)
	if err != nil {
		return types.TradeRecord{}, err
	}

	fill, err := e.orders.close(ctx, p, reason)
	if err != nil {
		e.ledger.revertClose(key)
		e.notifier.Notify(ctx, fmt.Sprintf("Closing %s failed, retrying next tick: %v", key, err), types.SeverityError)
		return types.TradeRecord{}, fmt.Errorf("close %s: %w", key, err)
	}

	exit := fill.Price
	if exit <= 0 {
		exit = refPrice
	}
	if exit <= 0 {
		exit = p.EntryPrice
	}
	pnl := p.PnL(exit)
	now := e.now()

	e.ledger.remove(key)
	stats := e.risk.recordClose(reason, pnl, now)
	e.persistPositions(ctx)
	e.persistStats(ctx, stats)

	rec := e.orders.record(ctx, types.TradeRecord{
		Kind:       types.KindExit,
		Instrument: p.Instrument,
		Direction:  p.Direction,
		Side:       p.Direction.ExitSide(),
		Quantity:   p.Quantity,
		Price:      exit,
		Reason:     reason,
		PnL:        pnl,
		OrderID:    fill.OrderID,
		OpenedAt:   p.OpenedAt,
	})

	sev := types.SeveritySuccess
	if pnl < 0 {
		sev = types.SeverityWarn
	}
	e.notifier.Notify(ctx, formatExit(p, exit, reason, pnl), sev)

	if e.risk.limitReached(now) && e.risk.shouldAlertLimit(now) {
		e.notifier.Notify(ctx, fmt.Sprintf("Daily loss limit reached (%.2f >= %.2f), new entries paused until tomorrow", stats.DailyLoss, e.cfg.Risk.DailyLossLimit), types.SeverityWarn)
	}
	return rec, nil
}
