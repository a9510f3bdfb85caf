package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"sma-trading-bot/internal/indicator"
	"sma-trading-bot/internal/interfaces"
	"sma-trading-bot/internal/logger"
	"sma-trading-bot/internal/tradelog"
	"sma-trading-bot/internal/types"
)

// orderExecutor places market orders and writes what they did to the
// journal and the decision log.
type orderExecutor struct {
	broker    interfaces.Broker
	journal   interfaces.Journal
	decisions *tradelog.DecisionLog
	now       func() time.Time
}

func newOrderExecutor(broker interfaces.Broker, journal interfaces.Journal, decisions *tradelog.DecisionLog, now func() time.Time) *orderExecutor {
	return &orderExecutor{
		broker:    broker,
		journal:   journal,
		decisions: decisions,
		now:       now,
	}
}

// open places the entry order for an approved intent.
func (oe *orderExecutor) open(ctx context.Context, intent types.OrderIntent) (types.Fill, error) {
	req := types.OrderReq{
		Instrument: intent.Instrument,
		Side:       intent.Direction.EntrySide(),
		Quantity:   intent.Quantity,
		Tag:        "SMA",
	}

	fill, err := oe.broker.PlaceOrder(ctx, req)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to place entry order", err,
			"symbol", intent.Instrument,
			"side", req.Side,
			"qty", intent.Quantity,
			"price", intent.Price,
		)
		return types.Fill{}, err
	}

	logger.Trade(ctx, intent.Instrument, string(req.Side), intent.Quantity, fill.Price, fill.OrderID, "direction", intent.Direction)
	return fill, nil
}

// close places the reduce-only order that flattens p.
func (oe *orderExecutor) close(ctx context.Context, p types.Position, reason types.ExitReason) (types.Fill, error) {
	req := types.OrderReq{
		Instrument: p.Instrument,
		Side:       p.Direction.ExitSide(),
		Quantity:   p.Quantity,
		ReduceOnly: true,
		Tag:        exitTag(reason),
	}

	fill, err := oe.broker.PlaceOrder(ctx, req)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to place closing order", err,
			"symbol", p.Instrument,
			"side", req.Side,
			"qty", p.Quantity,
			"reason", reason,
		)
		return types.Fill{}, err
	}

	logger.Trade(ctx, p.Instrument, string(req.Side), p.Quantity, fill.Price, fill.OrderID, "direction", p.Direction, "reason", reason)
	return fill, nil
}

// record stamps and journals a trade. Journal failures are logged only; the
// ledger stays authoritative.
func (oe *orderExecutor) record(ctx context.Context, rec types.TradeRecord) types.TradeRecord {
	rec.ID = uuid.NewString()
	rec.Time = oe.now().UTC()
	if oe.journal == nil {
		return rec
	}
	if err := oe.journal.Append(ctx, rec); err != nil {
		logger.WarnWithErr(ctx, "Failed to append trade record", err, "id", rec.ID, "symbol", rec.Instrument)
	}
	return rec
}

// logDecision writes one signal evaluation to the decision log.
func (oe *orderExecutor) logDecision(ctx context.Context, res *types.StepResult, snap *indicator.Snapshot) {
	if oe.decisions == nil {
		return
	}
	entry := tradelog.DecisionEntry{
		Symbol: res.Symbol,
		Signal: string(res.Signal),
		Reason: res.Reason,
		Price:  res.Price,
	}
	if snap != nil {
		entry.Indicators = map[string]float64{
			"SMA_SHORT": snap.ShortMA,
			"SMA_LONG":  snap.LongMA,
			"RSI":       snap.RSI,
			"MACD":      snap.MACD,
			"MACD_SIG":  snap.MACDSignal,
			"CH_HIGH":   snap.ChannelHigh,
			"CH_LOW":    snap.ChannelLow,
			"VOLUME":    snap.Volume,
		}
	}
	if err := oe.decisions.Append(entry); err != nil {
		logger.WarnWithErr(ctx, "Failed to append decision", err, "symbol", res.Symbol)
	}
}

func exitTag(r types.ExitReason) string {
	switch r {
	case types.ReasonTakeProfit:
		return "TP"
	case types.ReasonStopLoss:
		return "SL"
	case types.ReasonManual:
		return "MANUAL"
	}
	return "EXIT"
}
