package engineobs

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"sma-trading-bot/internal/interfaces"
	"sma-trading-bot/internal/logger"
	"sma-trading-bot/internal/trace"
	"sma-trading-bot/internal/types"
)

type observableEngine struct {
	interfaces.Engine
}

var _ interfaces.Engine = (*observableEngine)(nil)

// Wrap adds spans and cycle logs to the engine operations that reach the
// exchange. Read-only accessors pass straight through.
func Wrap(eng interfaces.Engine) interfaces.Engine {
	return &observableEngine{Engine: eng}
}

func (oe *observableEngine) Step(ctx context.Context, symbol string) (*types.StepResult, error) {
	ctx, span := trace.StartSpan(ctx, "engine.Step")
	defer span.End()
	span.SetAttributes(attribute.String("symbol", symbol))

	start := time.Now()
	logger.DebugSkip(ctx, 1, "Starting signal cycle", "symbol", symbol)

	result, err := oe.Engine.Step(ctx, symbol)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Signal cycle failed", err,
			"symbol", symbol,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return result, err
	}

	logger.DebugSkip(ctx, 1, "Signal cycle completed",
		"symbol", symbol,
		"signal", result.Signal,
		"reason", result.Reason,
		"price", result.Price,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

func (oe *observableEngine) Monitor(ctx context.Context) error {
	ctx, span := trace.StartSpan(ctx, "engine.Monitor")
	defer span.End()

	start := time.Now()
	err := oe.Engine.Monitor(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Monitor pass had failures", err, "duration_ms", time.Since(start).Milliseconds())
		return err
	}
	logger.DebugSkip(ctx, 1, "Monitor pass completed", "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (oe *observableEngine) Reconcile(ctx context.Context) (types.ReconcileReport, error) {
	ctx, span := trace.StartSpan(ctx, "engine.Reconcile")
	defer span.End()

	rep, err := oe.Engine.Reconcile(ctx)
	if err != nil {
		return rep, err
	}
	span.SetAttributes(
		attribute.Int("removed", len(rep.Removed)),
		attribute.Int("adopted", len(rep.Adopted)),
	)
	logger.InfoSkip(ctx, 1, "Reconcile completed", "removed", len(rep.Removed), "adopted", len(rep.Adopted))
	return rep, nil
}

func (oe *observableEngine) ClosePosition(ctx context.Context, key types.PositionKey, reason types.ExitReason) (types.TradeRecord, error) {
	ctx, span := trace.StartSpan(ctx, "engine.ClosePosition")
	defer span.End()
	span.SetAttributes(attribute.String("position", key.String()), attribute.String("reason", string(reason)))

	rec, err := oe.Engine.ClosePosition(ctx, key, reason)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Close failed", err, "position", key.String())
		return rec, err
	}
	logger.InfoSkip(ctx, 1, "Position closed", "position", key.String(), "pnl", rec.PnL)
	return rec, nil
}

func (oe *observableEngine) CloseAll(ctx context.Context) ([]types.TradeRecord, error) {
	ctx, span := trace.StartSpan(ctx, "engine.CloseAll")
	defer span.End()

	recs, err := oe.Engine.CloseAll(ctx)
	span.SetAttributes(attribute.Int("closed", len(recs)))
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Close all finished with failures", err, "closed", len(recs))
	}
	return recs, err
}
