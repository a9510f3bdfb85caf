package zerodha

import (
	"context"
	"errors"
	"fmt"
	"sync"

	kiteticker "github.com/zerodha/gokiteconnect/v4/ticker"

	"sma-trading-bot/internal/interfaces"
	"sma-trading-bot/internal/logger"
)

// tickerManager keeps the last traded price of every subscribed symbol from
// the Kite websocket.
type tickerManager struct {
	apiKey      string
	accessToken string
	mapper      *instrumentMapper

	ticker  *kiteticker.Ticker
	symbols []string // resubscribed on every connect

	mu     sync.RWMutex
	prices map[string]float64
}

var _ interfaces.PriceFeed = (*tickerManager)(nil)

func newTickerManager(apiKey, accessToken string, mapper *instrumentMapper) *tickerManager {
	return &tickerManager{
		apiKey:      apiKey,
		accessToken: accessToken,
		mapper:      mapper,
		prices:      make(map[string]float64),
	}
}

func (tm *tickerManager) Start(ctx context.Context) error {
	tm.ticker = kiteticker.New(tm.apiKey, tm.accessToken)
	tm.setupEventHandlers()

	go func() {
		logger.Info(ctx, "Starting Kite ticker")
		tm.ticker.Serve()
	}()
	return nil
}

func (tm *tickerManager) Stop(ctx context.Context) {
	if tm.ticker != nil {
		logger.Info(ctx, "Stopping Kite ticker")
		tm.ticker.Stop()
	}
}

func (tm *tickerManager) Subscribe(ctx context.Context, symbols []string) error {
	if tm.ticker == nil {
		return errors.New("zerodha: ticker not started")
	}
	tokens := tm.mapper.tokens(symbols)
	if len(tokens) == 0 {
		return fmt.Errorf("zerodha: no instrument tokens for %v", symbols)
	}

	if err := tm.ticker.Subscribe(tokens); err != nil {
		return fmt.Errorf("zerodha: subscribe: %w", err)
	}
	if err := tm.ticker.SetMode(kiteticker.ModeLTP, tokens); err != nil {
		return fmt.Errorf("zerodha: set ticker mode: %w", err)
	}

	logger.Info(ctx, "Subscribed to live prices", "symbols", symbols, "count", len(tokens))
	return nil
}

func (tm *tickerManager) LastPrice(symbol string) (float64, bool) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	p, ok := tm.prices[symbol]
	return p, ok
}

func (tm *tickerManager) setPrice(symbol string, price float64) {
	if symbol == "" || price <= 0 {
		return
	}
	tm.mu.Lock()
	tm.prices[symbol] = price
	tm.mu.Unlock()
}
