package engine

import (
	"context"
	"fmt"
	"sort"

	"sma-trading-bot/internal/logger"
	"sma-trading-bot/internal/types"
)

// Reconcile aligns the ledger with the exchange. Local open positions the
// exchange no longer reports are dropped; when the ledger is empty, exchange
// exposure on configured symbols is adopted with exit levels from config.
// Running it twice with no exchange change leaves the ledger as one run did.
// On fetch failure the ledger is not touched.
func (e *Engine) Reconcile(ctx context.Context) (types.ReconcileReport, error) {
	remote, err := e.brk.OpenPositions(ctx, e.cfg.Symbols)
	if err != nil {
		logger.ErrorWithErr(ctx, "Reconciliation failed, ledger unchanged", err)
		e.notifier.Notify(ctx, fmt.Sprintf("Sync failed: %v", err), types.SeverityError)
		return types.ReconcileReport{}, fmt.Errorf("reconcile: %w", err)
	}

	live := make(map[types.PositionKey]types.ExchangePosition, len(remote))
	for _, rp := range remote {
		if rp.Size > 0 && e.tracked(rp.Instrument) {
			live[rp.Key()] = rp
		}
	}

	var report types.ReconcileReport
	report.Removed = e.ledger.dropMissing(live)

	if e.cfg.Reconcile.RebuildWhenEmpty {
		report.Adopted = e.ledger.adoptAll(e.adoptable(live))
	}

	if len(report.Removed) > 0 || len(report.Adopted) > 0 {
		e.persistPositions(ctx)
		logger.Info(ctx, "Ledger reconciled", "removed", len(report.Removed), "adopted", len(report.Adopted))
	}
	return report, nil
}

func (e *Engine) adoptable(live map[types.PositionKey]types.ExchangePosition) []types.Position {
	now := e.now()
	out := make([]types.Position, 0, len(live))
	for _, rp := range live {
		tp, sl := e.stops.levels(rp.Direction, rp.EntryPrice)
		out = append(out, types.Position{
			Instrument: rp.Instrument,
			Direction:  rp.Direction,
			EntryPrice: rp.EntryPrice,
			Quantity:   rp.Size,
			TakeProfit: tp,
			StopLoss:   sl,
			OrderID:    "reconciled",
			OpenedAt:   now,
			State:      types.StateOpen,
		})
	}
	sort.Slice(out, func(i, j int) bool { return keyLess(out[i].Key(), out[j].Key()) })
	return out
}

func (e *Engine) tracked(symbol string) bool {
	for _, s := range e.cfg.Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}
