package paper

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sma-trading-bot/internal/types"
)

type feed struct{ price float64 }

func (f *feed) RecentCandles(context.Context, string, string, int) ([]types.Candle, error) {
	return []types.Candle{{Close: f.price}}, nil
}
func (f *feed) LTP(context.Context, string) (float64, error)         { return f.price, nil }
func (f *feed) FreeBalance(context.Context, string) (float64, error) { return 0, nil }
func (f *feed) PlaceOrder(context.Context, types.OrderReq) (types.Fill, error) {
	panic("paper must not route orders to the data source")
}
func (f *feed) OpenPositions(context.Context, []string) ([]types.ExchangePosition, error) {
	return nil, nil
}
func (f *feed) Market(_ context.Context, s string) (types.MarketInfo, error) {
	return types.MarketInfo{Instrument: s, MinQty: 1, StepSize: 1}, nil
}
func (f *feed) Start(context.Context, []string) error { return nil }
func (f *feed) Stop(context.Context)                  {}

func TestPaperRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := &feed{price: 10}
	b := New(f, 1000)

	fill, err := b.PlaceOrder(ctx, types.OrderReq{Instrument: "X", Side: types.SideBuy, Quantity: 5})
	require.NoError(t, err)
	assert.Equal(t, 10.0, fill.Price)
	assert.Equal(t, "PAPER-1", fill.OrderID)

	bal, _ := b.FreeBalance(ctx, "USDT")
	assert.Equal(t, 950.0, bal)

	ps, _ := b.OpenPositions(ctx, []string{"X"})
	require.Len(t, ps, 1)
	assert.Equal(t, types.ExchangePosition{Instrument: "X", Direction: types.Long, Size: 5, EntryPrice: 10}, ps[0])

	f.price = 12
	_, err = b.PlaceOrder(ctx, types.OrderReq{Instrument: "X", Side: types.SideSell, Quantity: 5, ReduceOnly: true})
	require.NoError(t, err)

	bal, _ = b.FreeBalance(ctx, "USDT")
	assert.Equal(t, 1010.0, bal)
	ps, _ = b.OpenPositions(ctx, []string{"X"})
	assert.Empty(t, ps)
}

func TestPaperShortAndReduceOnly(t *testing.T) {
	ctx := context.Background()
	f := &feed{price: 10}
	b := New(f, 100)

	_, err := b.PlaceOrder(ctx, types.OrderReq{Instrument: "X", Side: types.SideSell, Quantity: 2})
	require.NoError(t, err)

	_, err = b.PlaceOrder(ctx, types.OrderReq{Instrument: "X", Side: types.SideSell, Quantity: 1, ReduceOnly: true})
	assert.Error(t, err, "no long to reduce")

	f.price = 9
	_, err = b.PlaceOrder(ctx, types.OrderReq{Instrument: "X", Side: types.SideBuy, Quantity: 2, ReduceOnly: true})
	require.NoError(t, err)
	bal, _ := b.FreeBalance(ctx, "")
	assert.Equal(t, 102.0, bal)
}

func TestSeed(t *testing.T) {
	b := New(&feed{price: 1}, 0)
	b.Seed([]types.Position{{Instrument: "X", Direction: types.Short, Quantity: 3, EntryPrice: 2}})
	ps, _ := b.OpenPositions(context.Background(), []string{"X", "Y"})
	require.Len(t, ps, 1)
	assert.Equal(t, types.Short, ps[0].Direction)
}
