package interfaces

import (
	"context"

	"sma-trading-bot/internal/types"
)

// StateStore persists the ledger and the counters between restarts. A store
// with nothing saved yet returns empty values and no error.
type StateStore interface {
	LoadPositions(ctx context.Context) ([]types.Position, error)
	SavePositions(ctx context.Context, seq uint64, positions []types.Position) error
	LoadStats(ctx context.Context) (types.Stats, error)
	SaveStats(ctx context.Context, stats types.Stats) error
}

// Journal is the append-only trade record.
type Journal interface {
	Append(ctx context.Context, rec types.TradeRecord) error
}
