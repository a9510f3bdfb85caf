// Package binance trades USDT-margined futures through go-binance.
package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"sma-trading-bot/internal/interfaces"
	"sma-trading-bot/internal/types"
)

type Config struct {
	APIKey     string
	SecretKey  string
	Testnet    bool
	QuoteAsset string
	Symbols    []string
	Timeout    time.Duration
}

type Broker struct {
	client *futures.Client
	quote  string
	signed bool

	toLocal map[string]string // DOGEUSDT -> DOGE/USDT

	// hedge is the account's dual-side position mode, read in Start.
	hedge atomic.Bool

	mu      sync.RWMutex
	markets map[string]types.MarketInfo
}

var _ interfaces.Broker = (*Broker)(nil)

func New(cfg Config) *Broker {
	futures.UseTestnet = cfg.Testnet
	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.Timeout > 0 {
		client.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	toLocal := make(map[string]string, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		toLocal[ToVenue(s)] = s
	}
	return &Broker{
		client:  client,
		quote:   cfg.QuoteAsset,
		signed:  cfg.APIKey != "",
		toLocal: toLocal,
		markets: make(map[string]types.MarketInfo),
	}
}

// ToVenue maps DOGE/USDT to DOGEUSDT.
func ToVenue(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
}

func (b *Broker) Start(ctx context.Context, symbols []string) error {
	// without keys (paper trading on public data) the account is treated as
	// one-way, the stricter of the two
	if b.signed {
		mode, err := b.client.NewGetPositionModeService().Do(ctx)
		if err != nil {
			return classify(fmt.Errorf("binance: position mode: %w", err))
		}
		b.hedge.Store(mode.DualSidePosition)
	}

	// exchange filters are loaded up front so the first signal does not pay
	// for them
	return b.loadMarkets(ctx)
}

func (b *Broker) Stop(context.Context) {}

func (b *Broker) RecentCandles(ctx context.Context, symbol, timeframe string, n int) ([]types.Candle, error) {
	res, err := b.client.NewKlinesService().
		Symbol(ToVenue(symbol)).
		Interval(timeframe).
		Limit(n).
		Do(ctx)
	if err != nil {
		return nil, classify(fmt.Errorf("binance: klines %s: %w", symbol, err))
	}
	return parseKlines(res)
}

func (b *Broker) LTP(ctx context.Context, symbol string) (float64, error) {
	res, err := b.client.NewListPricesService().Symbol(ToVenue(symbol)).Do(ctx)
	if err != nil {
		return 0, classify(fmt.Errorf("binance: price %s: %w", symbol, err))
	}
	for _, p := range res {
		if p.Symbol == ToVenue(symbol) {
			return strconv.ParseFloat(p.Price, 64)
		}
	}
	return 0, fmt.Errorf("binance: no price for %s: %w", symbol, types.ErrUnknownInstrument)
}

func (b *Broker) FreeBalance(ctx context.Context, asset string) (float64, error) {
	res, err := b.client.NewGetBalanceService().Do(ctx)
	if err != nil {
		return 0, classify(fmt.Errorf("binance: balance: %w", err))
	}
	for _, bal := range res {
		if bal.Asset == asset {
			return strconv.ParseFloat(bal.AvailableBalance, 64)
		}
	}
	return 0, nil
}

func (b *Broker) PlaceOrder(ctx context.Context, req types.OrderReq) (types.Fill, error) {
	side, posSide, reduceOnly := orderSides(req, b.hedge.Load())

	svc := b.client.NewCreateOrderService().
		Symbol(ToVenue(req.Instrument)).
		Type(futures.OrderTypeMarket).
		Side(side).
		PositionSide(posSide).
		Quantity(formatQty(req.Quantity))
	if reduceOnly {
		svc = svc.ReduceOnly(true)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return types.Fill{}, classify(fmt.Errorf("binance: order %s %s: %w", req.Side, req.Instrument, err))
	}

	fill := types.Fill{OrderID: strconv.FormatInt(res.OrderID, 10), Quantity: req.Quantity}
	if avg, err := strconv.ParseFloat(res.AvgPrice, 64); err == nil {
		fill.Price = avg
	}
	if q, err := strconv.ParseFloat(res.ExecutedQuantity, 64); err == nil && q > 0 {
		fill.Quantity = q
	}
	return fill, nil
}

func (b *Broker) OpenPositions(ctx context.Context, symbols []string) ([]types.ExchangePosition, error) {
	res, err := b.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, classify(fmt.Errorf("binance: positions: %w", err))
	}

	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[ToVenue(s)] = true
	}
	var out []types.ExchangePosition
	for _, p := range res {
		if !want[p.Symbol] {
			continue
		}
		ep, ok := toExchangePosition(b.localSymbol(p.Symbol), p.PositionSide, p.PositionAmt, p.EntryPrice)
		if ok {
			out = append(out, ep)
		}
	}
	return out, nil
}

func (b *Broker) Market(ctx context.Context, symbol string) (types.MarketInfo, error) {
	b.mu.RLock()
	m, ok := b.markets[ToVenue(symbol)]
	b.mu.RUnlock()
	if ok {
		m.Instrument = symbol
		m.OneWay = !b.hedge.Load()
		return m, nil
	}

	if err := b.loadMarkets(ctx); err != nil {
		return types.MarketInfo{}, err
	}
	b.mu.RLock()
	m, ok = b.markets[ToVenue(symbol)]
	b.mu.RUnlock()
	if !ok {
		return types.MarketInfo{}, fmt.Errorf("binance: %s: %w", symbol, types.ErrUnknownInstrument)
	}
	m.Instrument = symbol
	m.OneWay = !b.hedge.Load()
	return m, nil
}

func (b *Broker) loadMarkets(ctx context.Context) error {
	info, err := b.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return classify(fmt.Errorf("binance: exchange info: %w", err))
	}
	markets := make(map[string]types.MarketInfo, len(info.Symbols))
	for _, s := range info.Symbols {
		m, err := marketFromFilters(s.Filters)
		if err != nil {
			return fmt.Errorf("binance: filters %s: %w", s.Symbol, err)
		}
		m.QuoteAsset = s.QuoteAsset
		if m.QuoteAsset == "" {
			m.QuoteAsset = b.quote
		}
		markets[s.Symbol] = m
	}

	b.mu.Lock()
	b.markets = markets
	b.mu.Unlock()
	return nil
}

func (b *Broker) localSymbol(venue string) string {
	if s, ok := b.toLocal[venue]; ok {
		return s
	}
	return venue
}

func parseKlines(res []*futures.Kline) ([]types.Candle, error) {
	out := make([]types.Candle, 0, len(res))
	for _, k := range res {
		var c types.Candle
		c.Ts = k.OpenTime / 1000
		vals := []*float64{&c.Open, &c.High, &c.Low, &c.Close, &c.Vol}
		for i, s := range []string{k.Open, k.High, k.Low, k.Close, k.Volume} {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("binance: kline at %d: %w", k.OpenTime, err)
			}
			*vals[i] = v
		}
		out = append(out, c)
	}
	return out, nil
}

// marketFromFilters reads MIN_NOTIONAL and the lot filters. MARKET_LOT_SIZE
// wins over LOT_SIZE when both are present since every order here is a
// market order.
func marketFromFilters(filters []map[string]interface{}) (types.MarketInfo, error) {
	var (
		m         types.MarketInfo
		marketLot bool
		err       error
	)
	for _, f := range filters {
		switch f["filterType"] {
		case "MIN_NOTIONAL":
			if m.MinNotional, err = extractFilter(f, "notional"); err != nil {
				return m, err
			}
		case "LOT_SIZE":
			if marketLot {
				continue
			}
			if m.StepSize, err = extractFilter(f, "stepSize"); err != nil {
				return m, err
			}
			if m.MinQty, err = extractFilter(f, "minQty"); err != nil {
				return m, err
			}
		case "MARKET_LOT_SIZE":
			step, err := extractFilter(f, "stepSize")
			if err != nil {
				return m, err
			}
			minQty, err := extractFilter(f, "minQty")
			if err != nil {
				return m, err
			}
			if step > 0 {
				m.StepSize, m.MinQty, marketLot = step, minQty, true
			}
		}
	}
	return m, nil
}

func extractFilter(filter map[string]interface{}, key string) (float64, error) {
	s, ok := filter[key].(string)
	if !ok {
		return 0, fmt.Errorf("bad string assertion: %s", key)
	}
	return strconv.ParseFloat(s, 64)
}

// orderSides maps an order onto the account's position mode. In hedge mode
// each direction has its own position side and Binance rejects reduceOnly,
// so an exit is a SELL on LONG or a BUY on SHORT. In one-way mode the
// position side is BOTH and exits stay reduce-only.
func orderSides(req types.OrderReq, hedge bool) (futures.SideType, futures.PositionSideType, bool) {
	side := futures.SideTypeBuy
	if req.Side == types.SideSell {
		side = futures.SideTypeSell
	}
	if !hedge {
		return side, futures.PositionSideTypeBoth, req.ReduceOnly
	}
	posSide := futures.PositionSideTypeLong
	if (side == futures.SideTypeSell) != req.ReduceOnly {
		posSide = futures.PositionSideTypeShort
	}
	return side, posSide, false
}

// toExchangePosition turns a position risk row into a directional position.
// Hedge-mode rows carry LONG or SHORT, one-way rows carry BOTH and a signed
// amount. Zero amounts are not positions.
func toExchangePosition(symbol, side, amt, entry string) (types.ExchangePosition, bool) {
	size, err := strconv.ParseFloat(amt, 64)
	if err != nil || size == 0 {
		return types.ExchangePosition{}, false
	}
	price, _ := strconv.ParseFloat(entry, 64)
	dir := types.Long
	if size < 0 {
		dir, size = types.Short, -size
	}
	switch futures.PositionSideType(side) {
	case futures.PositionSideTypeLong:
		dir = types.Long
	case futures.PositionSideTypeShort:
		dir = types.Short
	}
	return types.ExchangePosition{Instrument: symbol, Direction: dir, Size: size, EntryPrice: price}, true
}

func formatQty(q float64) string {
	return decimal.NewFromFloat(q).String()
}

// Binance codes that mean "try again later": unknown/timeout, too many
// requests, backend busy.
var transientCodes = map[int64]bool{-1000: true, -1001: true, -1003: true, -1007: true, -1008: true}

func classify(err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		if transientCodes[apiErr.Code] {
			return types.Transient(err)
		}
		return err
	}
	if types.IsTransient(err) {
		return types.Transient(err)
	}
	return err
}
