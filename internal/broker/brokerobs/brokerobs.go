package brokerobs

import (
	"context"
	"fmt"
	"time"

	"sma-trading-bot/internal/interfaces"
	"sma-trading-bot/internal/logger"
	"sma-trading-bot/internal/trace"
	"sma-trading-bot/internal/types"
)

// observableBroker wraps a Broker with logging, tracing and a deadline on
// every exchange call.
type observableBroker struct {
	broker  interfaces.Broker
	timeout time.Duration
}

var _ interfaces.Broker = (*observableBroker)(nil)

// Wrap wraps a broker with observability middleware. A zero timeout leaves
// the caller's deadline alone.
func Wrap(broker interfaces.Broker, timeout time.Duration) interfaces.Broker {
	return &observableBroker{broker: broker, timeout: timeout}
}

func (ob *observableBroker) call(ctx context.Context, name string) (context.Context, func()) {
	ctx, span := trace.StartSpan(ctx, "broker."+name)
	if ob.timeout <= 0 {
		return ctx, func() { span.End() }
	}
	ctx, cancel := context.WithTimeout(ctx, ob.timeout)
	return ctx, func() {
		cancel()
		span.End()
	}
}

func (ob *observableBroker) LTP(ctx context.Context, symbol string) (float64, error) {
	ctx, done := ob.call(ctx, "LTP")
	defer done()

	price, err := ob.broker.LTP(ctx, symbol)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch LTP", err, "symbol", symbol)
		return 0, err
	}
	logger.DebugSkip(ctx, 1, "LTP fetched", "symbol", symbol, "price", price)
	return price, nil
}

func (ob *observableBroker) RecentCandles(ctx context.Context, symbol, timeframe string, n int) ([]types.Candle, error) {
	ctx, done := ob.call(ctx, "RecentCandles")
	defer done()

	candles, err := ob.broker.RecentCandles(ctx, symbol, timeframe, n)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch candles", err, "symbol", symbol, "timeframe", timeframe, "count", n)
		return nil, err
	}
	logger.DebugSkip(ctx, 1, "Candles fetched", "symbol", symbol, "timeframe", timeframe, "count", len(candles))
	return candles, nil
}

func (ob *observableBroker) FreeBalance(ctx context.Context, asset string) (float64, error) {
	ctx, done := ob.call(ctx, "FreeBalance")
	defer done()

	bal, err := ob.broker.FreeBalance(ctx, asset)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch balance", err, "asset", asset)
		return 0, err
	}
	logger.DebugSkip(ctx, 1, "Balance fetched", "asset", asset, "free", bal)
	return bal, nil
}

func (ob *observableBroker) PlaceOrder(ctx context.Context, req types.OrderReq) (types.Fill, error) {
	ctx, done := ob.call(ctx, "PlaceOrder")
	defer done()

	logger.InfoSkip(ctx, 1, "Placing order",
		"symbol", req.Instrument,
		"side", req.Side,
		"qty", req.Quantity,
		"reduce_only", req.ReduceOnly,
		"tag", req.Tag,
	)

	fill, err := ob.broker.PlaceOrder(ctx, req)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to place order", err,
			"symbol", req.Instrument,
			"side", req.Side,
			"qty", req.Quantity,
		)
		return types.Fill{}, err
	}

	logger.InfoSkip(ctx, 1, "Order placed",
		"symbol", req.Instrument,
		"order_id", fill.OrderID,
		"price", fill.Price,
		"qty", fill.Quantity,
	)
	return fill, nil
}

func (ob *observableBroker) OpenPositions(ctx context.Context, symbols []string) ([]types.ExchangePosition, error) {
	ctx, done := ob.call(ctx, "OpenPositions")
	defer done()

	ps, err := ob.broker.OpenPositions(ctx, symbols)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch exchange positions", err, "symbols", symbols)
		return nil, err
	}
	logger.DebugSkip(ctx, 1, "Exchange positions fetched", "count", len(ps))
	return ps, nil
}

func (ob *observableBroker) Market(ctx context.Context, symbol string) (types.MarketInfo, error) {
	ctx, done := ob.call(ctx, "Market")
	defer done()

	m, err := ob.broker.Market(ctx, symbol)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch market info", err, "symbol", symbol)
		return types.MarketInfo{}, err
	}
	return m, nil
}

// Start gets no deadline: loading instruments can take a while on a cold
// start.
func (ob *observableBroker) Start(ctx context.Context, symbols []string) error {
	ctx, span := trace.StartSpan(ctx, "broker.Start")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Starting broker", "symbols", symbols, "count", len(symbols))

	if err := ob.broker.Start(ctx, symbols); err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to start broker", err, "symbols", symbols)
		return fmt.Errorf("broker start failed: %w", err)
	}

	logger.InfoSkip(ctx, 1, "Broker started", "symbols", symbols)
	return nil
}

func (ob *observableBroker) Stop(ctx context.Context) {
	ctx, span := trace.StartSpan(ctx, "broker.Stop")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Stopping broker")
	ob.broker.Stop(ctx)
	logger.InfoSkip(ctx, 1, "Broker stopped")
}
