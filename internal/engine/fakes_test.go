package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"sma-trading-bot/internal/store"
	"sma-trading-bot/internal/types"
)

type fakeBroker struct {
	mu sync.Mutex

	candles   map[string][]types.Candle
	prices    map[string]float64
	balance   float64
	market    types.MarketInfo
	positions []types.ExchangePosition

	positionsErr error
	orderErr     error
	priceErr     error
	orders       []types.OrderReq
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		candles: map[string][]types.Candle{},
		prices:  map[string]float64{},
		balance: 1000,
		market:  types.MarketInfo{QuoteAsset: "USDT", MinQty: 0.1, StepSize: 0.1, MinNotional: 5},
	}
}

func (f *fakeBroker) RecentCandles(_ context.Context, symbol, _ string, _ int) ([]types.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.candles[symbol], nil
}

func (f *fakeBroker) LTP(_ context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.priceErr != nil {
		return 0, f.priceErr
	}
	p, ok := f.prices[symbol]
	if !ok {
		return 0, errors.New("no price")
	}
	return p, nil
}

func (f *fakeBroker) FreeBalance(context.Context, string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, nil
}

func (f *fakeBroker) PlaceOrder(_ context.Context, req types.OrderReq) (types.Fill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.orderErr != nil {
		return types.Fill{}, f.orderErr
	}
	f.orders = append(f.orders, req)
	return types.Fill{
		OrderID:  fmt.Sprintf("ord-%d", len(f.orders)),
		Price:    f.prices[req.Instrument],
		Quantity: req.Quantity,
	}, nil
}

func (f *fakeBroker) OpenPositions(context.Context, []string) ([]types.ExchangePosition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.positionsErr != nil {
		return nil, f.positionsErr
	}
	return append([]types.ExchangePosition(nil), f.positions...), nil
}

func (f *fakeBroker) Market(_ context.Context, symbol string) (types.MarketInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.market
	m.Instrument = symbol
	return m, nil
}

func (f *fakeBroker) Start(context.Context, []string) error { return nil }
func (f *fakeBroker) Stop(context.Context)                  {}

func (f *fakeBroker) setPrice(symbol string, p float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = p
}

func (f *fakeBroker) orderCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

type fakeJournal struct {
	mu   sync.Mutex
	recs []types.TradeRecord
}

func (j *fakeJournal) Append(_ context.Context, rec types.TradeRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.recs = append(j.recs, rec)
	return nil
}

func (j *fakeJournal) all() []types.TradeRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]types.TradeRecord(nil), j.recs...)
}

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *fakeNotifier) Notify(_ context.Context, text string, _ types.Severity) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, text)
}

func (n *fakeNotifier) NotifyMenu(ctx context.Context, text string, _ []types.Button) {
	n.Notify(ctx, text, types.SeverityInfo)
}

func (n *fakeNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.msgs...)
}

type memStore struct {
	mu        sync.Mutex
	positions []types.Position
	stats     types.Stats
	seq       uint64
	saves     int
}

func (s *memStore) LoadPositions(context.Context) ([]types.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Position(nil), s.positions...), nil
}

func (s *memStore) SavePositions(_ context.Context, seq uint64, ps []types.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions = append([]types.Position(nil), ps...)
	s.seq = seq
	s.saves++
	return nil
}

func (s *memStore) LoadStats(context.Context) (types.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats, nil
}

func (s *memStore) SaveStats(_ context.Context, st types.Stats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = st
	return nil
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

const sym = "DOGE/USDT"

func testConfig() *store.Config {
	cfg := &store.Config{
		Mode:        "DRY_RUN",
		Symbols:     []string{sym},
		Timeframe:   "1m",
		StakeAmount: 1,
	}
	cfg.SignalInterval.Duration = 10 * time.Millisecond
	cfg.MonitorInterval.Duration = 10 * time.Millisecond
	cfg.Exchange.QuoteAsset = "USDT"

	cfg.Indicators.MAType = "sma"
	cfg.Indicators.ShortWindow = 3
	cfg.Indicators.LongWindow = 5
	cfg.Indicators.RSIPeriod = 3
	cfg.Indicators.MACDFast = 2
	cfg.Indicators.MACDSlow = 4
	cfg.Indicators.MACDSignal = 2
	cfg.Indicators.ChannelWindow = 3
	cfg.Indicators.Candles = 50

	cfg.Signal.RSIUpper = 90
	cfg.Signal.RSILower = 10

	cfg.Exit.TakeProfitPct = 2
	cfg.Exit.StopLossPct = 1

	cfg.Risk.DailyLossLimit = 100
	cfg.Risk.MaxBalanceFraction = 0.5
	cfg.Risk.Timezone = "UTC"

	cfg.Reconcile.RebuildWhenEmpty = true
	return cfg
}

func candlesFromCloses(closes ...float64) []types.Candle {
	out := make([]types.Candle, len(closes))
	for i, c := range closes {
		out[i] = types.Candle{Ts: int64(i+1) * 60, Open: c, High: c + 0.5, Low: c - 0.5, Close: c, Vol: 1000}
	}
	return out
}
