package interfaces

import "context"

// PriceFeed streams last traded prices so the monitor loop can skip a REST
// call per tick.
type PriceFeed interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context)
	Subscribe(ctx context.Context, symbols []string) error
	LastPrice(symbol string) (float64, bool)
}
