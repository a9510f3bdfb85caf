package interfaces

import (
	"context"

	"sma-trading-bot/internal/types"
)

type Engine interface {
	Restore(ctx context.Context) error
	Step(ctx context.Context, symbol string) (*types.StepResult, error)
	Monitor(ctx context.Context) error
	Reconcile(ctx context.Context) (types.ReconcileReport, error)
	ClosePosition(ctx context.Context, key types.PositionKey, reason types.ExitReason) (types.TradeRecord, error)
	CloseAll(ctx context.Context) ([]types.TradeRecord, error)

	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Running() bool

	Status() types.Status
	Positions() []types.Position
	Stats() types.Stats
	Stake() float64
	AdjustStake(delta float64) (float64, error)
}
