// Package zerodha trades NSE/BSE equities through Kite Connect.
package zerodha

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"sma-trading-bot/internal/interfaces"
	"sma-trading-bot/internal/types"
)

type Params struct {
	APIKey       string
	AccessToken  string
	Exchange     string
	Product      string
	Symbols      []string
	Timeout      time.Duration
	StreamPrices bool
}

type Zerodha struct {
	p      Params
	kc     *kiteconnect.Client
	mapper *instrumentMapper
	ticker *tickerManager
	now    func() time.Time
}

var _ interfaces.Broker = (*Zerodha)(nil)

func NewZerodha(p Params) *Zerodha {
	kc := kiteconnect.New(p.APIKey)
	kc.SetAccessToken(p.AccessToken)
	if p.Timeout > 0 {
		kc.SetHTTPClient(&http.Client{Timeout: p.Timeout})
	}

	z := &Zerodha{p: p, kc: kc, mapper: newInstrumentMapper(), now: time.Now}
	if p.StreamPrices {
		z.ticker = newTickerManager(p.APIKey, p.AccessToken, z.mapper)
	}
	return z
}

// PriceFeed returns the websocket price feed, or nil when streaming is off.
func (z *Zerodha) PriceFeed() interfaces.PriceFeed {
	if z.ticker == nil {
		return nil
	}
	return z.ticker
}

func (z *Zerodha) Start(ctx context.Context, symbols []string) error {
	if z.p.APIKey == "" || z.p.AccessToken == "" {
		return errors.New("zerodha: missing API key/access token")
	}
	if err := z.loadInstruments(symbols); err != nil {
		return err
	}
	if z.mapper.size() < len(symbols) {
		return fmt.Errorf("zerodha: %d of %d symbols not listed on %s: %w",
			len(symbols)-z.mapper.size(), len(symbols), z.p.Exchange, types.ErrUnknownInstrument)
	}

	if z.ticker == nil {
		return nil
	}
	z.ticker.symbols = symbols
	if err := z.ticker.Start(ctx); err != nil {
		return fmt.Errorf("zerodha: start ticker: %w", err)
	}
	return nil
}

func (z *Zerodha) Stop(ctx context.Context) {
	if z.ticker != nil {
		z.ticker.Stop(ctx)
	}
}

func (z *Zerodha) loadInstruments(symbols []string) error {
	all, err := z.kc.GetInstrumentsByExchange(z.p.Exchange)
	if err != nil {
		return classify(fmt.Errorf("zerodha: instruments %s: %w", z.p.Exchange, err))
	}
	z.mapper.load(all, symbols)
	return nil
}

func (z *Zerodha) lookup(symbol string) (instrument, error) {
	in, ok := z.mapper.get(symbol)
	if ok {
		return in, nil
	}
	if err := z.loadInstruments(z.p.Symbols); err != nil {
		return instrument{}, err
	}
	if in, ok = z.mapper.get(symbol); !ok {
		return instrument{}, fmt.Errorf("zerodha: %s: %w", symbol, types.ErrUnknownInstrument)
	}
	return in, nil
}

func (z *Zerodha) RecentCandles(ctx context.Context, symbol, timeframe string, n int) ([]types.Candle, error) {
	in, err := z.lookup(symbol)
	if err != nil {
		return nil, err
	}
	interval, step, err := kiteInterval(timeframe)
	if err != nil {
		return nil, err
	}

	to := z.now()
	from := to.Add(-lookback(step, n))
	data, err := z.kc.GetHistoricalData(int(in.token), interval, from, to, false, false)
	if err != nil {
		return nil, classify(fmt.Errorf("zerodha: history %s: %w", symbol, err))
	}

	out := make([]types.Candle, 0, len(data))
	for _, d := range data {
		out = append(out, types.Candle{
			Ts:    d.Date.Time.Unix(),
			Open:  d.Open,
			High:  d.High,
			Low:   d.Low,
			Close: d.Close,
			Vol:   float64(d.Volume),
		})
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

func (z *Zerodha) LTP(ctx context.Context, symbol string) (float64, error) {
	key := z.p.Exchange + ":" + symbol
	res, err := z.kc.GetLTP(key)
	if err != nil {
		return 0, classify(fmt.Errorf("zerodha: ltp %s: %w", symbol, err))
	}
	q, ok := res[key]
	if !ok {
		return 0, fmt.Errorf("zerodha: ltp %s: %w", symbol, types.ErrUnknownInstrument)
	}
	return q.LastPrice, nil
}

// FreeBalance reports net equity margin. Kite accounts hold a single
// currency so asset is ignored.
func (z *Zerodha) FreeBalance(ctx context.Context, _ string) (float64, error) {
	m, err := z.kc.GetUserMargins()
	if err != nil {
		return 0, classify(fmt.Errorf("zerodha: margins: %w", err))
	}
	return m.Equity.Net, nil
}

func (z *Zerodha) PlaceOrder(ctx context.Context, req types.OrderReq) (types.Fill, error) {
	qty := int(math.Round(req.Quantity))
	if qty <= 0 {
		return types.Fill{}, fmt.Errorf("zerodha: quantity %v rounds to zero", req.Quantity)
	}

	side := kiteconnect.TransactionTypeBuy
	if req.Side == types.SideSell {
		side = kiteconnect.TransactionTypeSell
	}
	res, err := z.kc.PlaceOrder(kiteconnect.VarietyRegular, kiteconnect.OrderParams{
		Exchange:        z.p.Exchange,
		Tradingsymbol:   req.Instrument,
		TransactionType: side,
		Product:         z.p.Product,
		OrderType:       kiteconnect.OrderTypeMarket,
		Quantity:        qty,
		Tag:             kiteTag(req.Tag),
	})
	if err != nil {
		return types.Fill{}, classify(fmt.Errorf("zerodha: order %s %s: %w", req.Side, req.Instrument, err))
	}

	fill := types.Fill{OrderID: res.OrderID, Quantity: float64(qty)}
	// market orders usually fill before the history call returns; a zero
	// price lets the engine fall back to the reference price
	if hist, err := z.kc.GetOrderHistory(res.OrderID); err == nil {
		fill.Price = averagePrice(hist)
	}
	return fill, nil
}

func (z *Zerodha) OpenPositions(ctx context.Context, symbols []string) ([]types.ExchangePosition, error) {
	res, err := z.kc.GetPositions()
	if err != nil {
		return nil, classify(fmt.Errorf("zerodha: positions: %w", err))
	}
	return netPositions(res.Net, z.p.Exchange, z.p.Product, symbols), nil
}

// Market reports the lot size as both minimum and step. Exchanges here have
// no minimum notional.
func (z *Zerodha) Market(ctx context.Context, symbol string) (types.MarketInfo, error) {
	in, err := z.lookup(symbol)
	if err != nil {
		return types.MarketInfo{}, err
	}
	lot := in.lotSize
	if lot <= 0 {
		lot = 1
	}
	return types.MarketInfo{Instrument: symbol, QuoteAsset: "INR", MinQty: lot, StepSize: lot, OneWay: true}, nil
}

var intervals = map[string]struct {
	name string
	step time.Duration
}{
	"1m":  {"minute", time.Minute},
	"3m":  {"3minute", 3 * time.Minute},
	"5m":  {"5minute", 5 * time.Minute},
	"10m": {"10minute", 10 * time.Minute},
	"15m": {"15minute", 15 * time.Minute},
	"30m": {"30minute", 30 * time.Minute},
	"1h":  {"60minute", time.Hour},
	"1d":  {"day", 24 * time.Hour},
}

func kiteInterval(timeframe string) (string, time.Duration, error) {
	iv, ok := intervals[timeframe]
	if !ok {
		return "", 0, fmt.Errorf("zerodha: unsupported timeframe %q", timeframe)
	}
	return iv.name, iv.step, nil
}

// lookback is how far back to ask for n bars. Sessions cover about a
// quarter of the day, and weekends and holidays eat more.
func lookback(step time.Duration, n int) time.Duration {
	if step >= 24*time.Hour {
		return time.Duration(n)*step*2 + 10*24*time.Hour
	}
	d := time.Duration(n) * step * 4
	if d < 5*24*time.Hour {
		d = 5 * 24 * time.Hour
	}
	return d
}

// kiteTag trims to the 20 characters Kite accepts.
func kiteTag(tag string) string {
	if len(tag) > 20 {
		return tag[:20]
	}
	return tag
}

func averagePrice(hist []kiteconnect.Order) float64 {
	for i := len(hist) - 1; i >= 0; i-- {
		if hist[i].AveragePrice > 0 {
			return hist[i].AveragePrice
		}
	}
	return 0
}

func netPositions(net []kiteconnect.Position, exchange, product string, symbols []string) []types.ExchangePosition {
	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[s] = true
	}

	var out []types.ExchangePosition
	for _, p := range net {
		if !want[p.Tradingsymbol] || p.Quantity == 0 {
			continue
		}
		if p.Exchange != exchange || (product != "" && p.Product != product) {
			continue
		}
		ep := types.ExchangePosition{
			Instrument: p.Tradingsymbol,
			Direction:  types.Long,
			Size:       float64(p.Quantity),
			EntryPrice: p.AveragePrice,
		}
		if p.Quantity < 0 {
			ep.Direction, ep.Size = types.Short, -ep.Size
		}
		out = append(out, ep)
	}
	return out
}

func classify(err error) error {
	var kerr kiteconnect.Error
	if errors.As(err, &kerr) {
		if kerr.ErrorType == kiteconnect.NetworkError || kerr.Code == http.StatusTooManyRequests || kerr.Code >= 500 {
			return types.Transient(err)
		}
		return err
	}
	if types.IsTransient(err) {
		return types.Transient(err)
	}
	return err
}
