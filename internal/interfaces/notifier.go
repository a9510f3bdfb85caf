package interfaces

import (
	"context"

	"sma-trading-bot/internal/types"
)

// Notifier delivers operator messages. Implementations must not block the
// trading loops on delivery.
type Notifier interface {
	Notify(ctx context.Context, text string, sev types.Severity)
	NotifyMenu(ctx context.Context, text string, buttons []types.Button)
}
