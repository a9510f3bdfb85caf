package zerodha

import (
	"context"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"
	"github.com/zerodha/gokiteconnect/v4/models"

	"sma-trading-bot/internal/logger"
)

func (tm *tickerManager) setupEventHandlers() {
	tm.ticker.OnConnect(tm.onConnect)
	tm.ticker.OnError(tm.onError)
	tm.ticker.OnClose(tm.onClose)
	tm.ticker.OnReconnect(tm.onReconnect)
	tm.ticker.OnNoReconnect(tm.onNoReconnect)
	tm.ticker.OnTick(tm.onTick)
	tm.ticker.OnOrderUpdate(tm.onOrderUpdate)
}

func (tm *tickerManager) onConnect() {
	ctx := context.Background()
	logger.Info(ctx, "Kite ticker connected")
	if len(tm.symbols) == 0 {
		return
	}
	if err := tm.Subscribe(ctx, tm.symbols); err != nil {
		logger.ErrorWithErr(ctx, "Kite ticker subscribe failed", err)
	}
}

func (tm *tickerManager) onError(err error) {
	logger.ErrorWithErr(context.Background(), "Kite ticker error", err)
}

func (tm *tickerManager) onClose(code int, reason string) {
	logger.Warn(context.Background(), "Kite ticker closed", "code", code, "reason", reason)
}

func (tm *tickerManager) onReconnect(attempt int, delay time.Duration) {
	logger.Info(context.Background(), "Kite ticker reconnecting", "attempt", attempt, "delay", delay)
}

func (tm *tickerManager) onNoReconnect(attempt int) {
	// the monitor falls back to REST prices from here on
	logger.Warn(context.Background(), "Kite ticker gave up reconnecting", "attempts", attempt)
}

func (tm *tickerManager) onTick(tick models.Tick) {
	tm.setPrice(tm.mapper.getSymbol(tick.InstrumentToken), tick.LastPrice)
}

func (tm *tickerManager) onOrderUpdate(order kiteconnect.Order) {
	logger.Debug(context.Background(), "Order update received",
		"order_id", order.OrderID,
		"status", order.Status,
		"symbol", order.TradingSymbol,
	)
}
