package engine

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"sma-trading-bot/internal/types"
)

const maxBackoff = 2 * time.Minute

// newLoopBackoff is the extra wait after consecutive transient errors:
// 1s, 2s, 4s ... capped at maxBackoff. It never gives up; a loop only ends
// on Stop.
func newLoopBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = maxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func formatEntry(p types.Position) string {
	return fmt.Sprintf("Opened %s %s\nqty %s @ %s\nTP %s | SL %s",
		p.Direction, p.Instrument,
		trimFloat(p.Quantity), trimFloat(p.EntryPrice),
		trimFloat(p.TakeProfit), trimFloat(p.StopLoss))
}

func formatExit(p types.Position, exit float64, reason types.ExitReason, pnl float64) string {
	return fmt.Sprintf("Closed %s %s (%s)\nqty %s @ %s -> %s\nPnL %+.4f",
		p.Direction, p.Instrument, reason,
		trimFloat(p.Quantity), trimFloat(p.EntryPrice), trimFloat(exit), pnl)
}

func trimFloat(v float64) string {
	return fmt.Sprintf("%.8g", v)
}
