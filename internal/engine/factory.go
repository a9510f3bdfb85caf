package engine

import (
	"sma-trading-bot/internal/interfaces"
	"sma-trading-bot/internal/store"
)

func New(cfg *store.Config, brk interfaces.Broker, opts ...Option) interfaces.Engine {
	return newEngine(cfg, brk, opts...)
}
