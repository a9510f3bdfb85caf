package interfaces

import (
	"context"

	"sma-trading-bot/internal/types"
)

// Broker is the exchange capability set the engine trades through. Symbols
// are always in the configured notation (DOGE/USDT, INFY); adapters map them
// to their venue's own form.
type Broker interface {
	RecentCandles(ctx context.Context, symbol, timeframe string, n int) ([]types.Candle, error)
	LTP(ctx context.Context, symbol string) (float64, error)
	FreeBalance(ctx context.Context, asset string) (float64, error)
	PlaceOrder(ctx context.Context, req types.OrderReq) (types.Fill, error)
	// OpenPositions lists nonzero exchange positions for the given symbols.
	OpenPositions(ctx context.Context, symbols []string) ([]types.ExchangePosition, error)
	Market(ctx context.Context, symbol string) (types.MarketInfo, error)
	Start(ctx context.Context, symbols []string) error
	Stop(ctx context.Context)
}
