// Package paper simulates fills on top of a real market-data source.
package paper

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"sma-trading-bot/internal/interfaces"
	"sma-trading-bot/internal/types"
)

// Broker reads candles, prices and market limits from data and keeps the
// account locally. Orders fill in full at the current price.
type Broker struct {
	data interfaces.Broker

	seq atomic.Int64

	mu        sync.Mutex
	balance   float64
	positions map[types.PositionKey]*types.ExchangePosition
}

var _ interfaces.Broker = (*Broker)(nil)

func New(data interfaces.Broker, balance float64) *Broker {
	return &Broker{
		data:      data,
		balance:   balance,
		positions: make(map[types.PositionKey]*types.ExchangePosition),
	}
}

func (b *Broker) Start(ctx context.Context, symbols []string) error {
	return b.data.Start(ctx, symbols)
}

func (b *Broker) Stop(ctx context.Context) { b.data.Stop(ctx) }

func (b *Broker) RecentCandles(ctx context.Context, symbol, timeframe string, n int) ([]types.Candle, error) {
	return b.data.RecentCandles(ctx, symbol, timeframe, n)
}

func (b *Broker) LTP(ctx context.Context, symbol string) (float64, error) {
	return b.data.LTP(ctx, symbol)
}

func (b *Broker) Market(ctx context.Context, symbol string) (types.MarketInfo, error) {
	return b.data.Market(ctx, symbol)
}

func (b *Broker) FreeBalance(context.Context, string) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balance, nil
}

func (b *Broker) PlaceOrder(ctx context.Context, req types.OrderReq) (types.Fill, error) {
	if req.Quantity <= 0 {
		return types.Fill{}, fmt.Errorf("paper: quantity must be positive, got %v", req.Quantity)
	}
	price, err := b.data.LTP(ctx, req.Instrument)
	if err != nil {
		return types.Fill{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if req.ReduceOnly {
		if err := b.reduce(req, price); err != nil {
			return types.Fill{}, err
		}
	} else {
		b.open(req, price)
	}
	return types.Fill{
		OrderID:  fmt.Sprintf("PAPER-%d", b.seq.Add(1)),
		Price:    price,
		Quantity: req.Quantity,
	}, nil
}

func (b *Broker) open(req types.OrderReq, price float64) {
	dir := types.Long
	if req.Side == types.SideSell {
		dir = types.Short
	}
	key := types.PositionKey{Instrument: req.Instrument, Direction: dir}

	p, ok := b.positions[key]
	if !ok {
		p = &types.ExchangePosition{Instrument: req.Instrument, Direction: dir}
		b.positions[key] = p
	}
	p.EntryPrice = (p.EntryPrice*p.Size + price*req.Quantity) / (p.Size + req.Quantity)
	p.Size += req.Quantity
	b.balance -= price * req.Quantity
}

func (b *Broker) reduce(req types.OrderReq, price float64) error {
	// a reduce-only sell closes a long and a buy closes a short
	dir := types.Long
	if req.Side == types.SideBuy {
		dir = types.Short
	}
	key := types.PositionKey{Instrument: req.Instrument, Direction: dir}

	p, ok := b.positions[key]
	if !ok || p.Size < req.Quantity {
		return fmt.Errorf("paper: reduce-only %s %v %s exceeds position", req.Side, req.Quantity, req.Instrument)
	}
	closed := types.Position{Direction: dir, EntryPrice: p.EntryPrice, Quantity: req.Quantity}
	b.balance += p.EntryPrice*req.Quantity + closed.PnL(price)

	p.Size -= req.Quantity
	if p.Size <= 1e-12 {
		delete(b.positions, key)
	}
	return nil
}

func (b *Broker) OpenPositions(_ context.Context, symbols []string) ([]types.ExchangePosition, error) {
	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[s] = true
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	var out []types.ExchangePosition
	for _, p := range b.positions {
		if want[p.Instrument] {
			out = append(out, *p)
		}
	}
	return out, nil
}

// Seed places exchange-side positions, used to resume a paper session from
// the persisted ledger.
func (b *Broker) Seed(ps []types.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range ps {
		ep := types.ExchangePosition{Instrument: p.Instrument, Direction: p.Direction, Size: p.Quantity, EntryPrice: p.EntryPrice}
		b.positions[ep.Key()] = &ep
	}
}
