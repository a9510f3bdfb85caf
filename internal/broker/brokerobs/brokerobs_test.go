package brokerobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sma-trading-bot/internal/types"
)

type slowBroker struct{ calls int }

func (s *slowBroker) RecentCandles(ctx context.Context, _, _ string, _ int) ([]types.Candle, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *slowBroker) LTP(context.Context, string) (float64, error) {
	s.calls++
	return 1.5, nil
}

func (s *slowBroker) FreeBalance(context.Context, string) (float64, error) { return 10, nil }

func (s *slowBroker) PlaceOrder(_ context.Context, req types.OrderReq) (types.Fill, error) {
	return types.Fill{}, errors.New("rejected")
}

func (s *slowBroker) OpenPositions(context.Context, []string) ([]types.ExchangePosition, error) {
	return nil, nil
}

func (s *slowBroker) Market(context.Context, string) (types.MarketInfo, error) {
	return types.MarketInfo{}, nil
}

func (s *slowBroker) Start(context.Context, []string) error { return errors.New("no creds") }
func (s *slowBroker) Stop(context.Context)                  {}

func TestWrapAppliesTimeout(t *testing.T) {
	b := Wrap(&slowBroker{}, 20*time.Millisecond)

	start := time.Now()
	_, err := b.RecentCandles(context.Background(), "X", "1m", 10)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, types.IsTransient(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestWrapPassesThrough(t *testing.T) {
	inner := &slowBroker{}
	b := Wrap(inner, 0)

	p, err := b.LTP(context.Background(), "X")
	require.NoError(t, err)
	assert.Equal(t, 1.5, p)
	assert.Equal(t, 1, inner.calls)

	_, err = b.PlaceOrder(context.Background(), types.OrderReq{Instrument: "X"})
	assert.EqualError(t, err, "rejected")

	err = b.Start(context.Background(), []string{"X"})
	assert.ErrorContains(t, err, "broker start failed")
}
