package binance

import (
	"errors"
	"testing"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sma-trading-bot/internal/types"
)

func TestToVenue(t *testing.T) {
	assert.Equal(t, "DOGEUSDT", ToVenue("DOGE/USDT"))
	assert.Equal(t, "BTCUSDT", ToVenue("btc/usdt"))
	assert.Equal(t, "ETHUSDT", ToVenue("ETHUSDT"))
}

func TestParseKlines(t *testing.T) {
	res := []*futures.Kline{
		{OpenTime: 1700000000000, Open: "0.1", High: "0.2", Low: "0.05", Close: "0.15", Volume: "1234.5"},
	}
	got, err := parseKlines(res)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, types.Candle{Ts: 1700000000, Open: 0.1, High: 0.2, Low: 0.05, Close: 0.15, Vol: 1234.5}, got[0])

	_, err = parseKlines([]*futures.Kline{{Open: "x"}})
	assert.Error(t, err)
}

func TestMarketFromFilters(t *testing.T) {
	filters := []map[string]interface{}{
		{"filterType": "PRICE_FILTER", "tickSize": "0.00001"},
		{"filterType": "LOT_SIZE", "stepSize": "1", "minQty": "1"},
		{"filterType": "MARKET_LOT_SIZE", "stepSize": "1", "minQty": "2"},
		{"filterType": "MIN_NOTIONAL", "notional": "5"},
	}
	m, err := marketFromFilters(filters)
	require.NoError(t, err)
	assert.Equal(t, 1.0, m.StepSize)
	assert.Equal(t, 2.0, m.MinQty)
	assert.Equal(t, 5.0, m.MinNotional)

	_, err = marketFromFilters([]map[string]interface{}{{"filterType": "MIN_NOTIONAL", "notional": 5}})
	assert.Error(t, err)
}

func TestToExchangePosition(t *testing.T) {
	p, ok := toExchangePosition("DOGE/USDT", "BOTH", "-30", "0.12")
	require.True(t, ok)
	assert.Equal(t, types.Short, p.Direction)
	assert.Equal(t, 30.0, p.Size)
	assert.Equal(t, 0.12, p.EntryPrice)

	p, ok = toExchangePosition("DOGE/USDT", "BOTH", "12.5", "0.1")
	require.True(t, ok)
	assert.Equal(t, types.Long, p.Direction)

	_, ok = toExchangePosition("DOGE/USDT", "BOTH", "0", "0")
	assert.False(t, ok)
}

func TestToExchangePositionHedgeRows(t *testing.T) {
	long, ok := toExchangePosition("DOGE/USDT", "LONG", "40", "0.1")
	require.True(t, ok)
	assert.Equal(t, types.Long, long.Direction)
	assert.Equal(t, 40.0, long.Size)

	short, ok := toExchangePosition("DOGE/USDT", "SHORT", "-25", "0.11")
	require.True(t, ok)
	assert.Equal(t, types.Short, short.Direction)
	assert.Equal(t, 25.0, short.Size)

	// the idle side of a hedge pair is reported with a zero amount
	_, ok = toExchangePosition("DOGE/USDT", "SHORT", "0", "0")
	assert.False(t, ok)
}

func TestOrderSides(t *testing.T) {
	cases := []struct {
		name       string
		req        types.OrderReq
		hedge      bool
		side       futures.SideType
		posSide    futures.PositionSideType
		reduceOnly bool
	}{
		{"one-way long entry", types.OrderReq{Side: types.SideBuy}, false, futures.SideTypeBuy, futures.PositionSideTypeBoth, false},
		{"one-way long exit", types.OrderReq{Side: types.SideSell, ReduceOnly: true}, false, futures.SideTypeSell, futures.PositionSideTypeBoth, true},
		{"hedge long entry", types.OrderReq{Side: types.SideBuy}, true, futures.SideTypeBuy, futures.PositionSideTypeLong, false},
		{"hedge long exit", types.OrderReq{Side: types.SideSell, ReduceOnly: true}, true, futures.SideTypeSell, futures.PositionSideTypeLong, false},
		{"hedge short entry", types.OrderReq{Side: types.SideSell}, true, futures.SideTypeSell, futures.PositionSideTypeShort, false},
		{"hedge short exit", types.OrderReq{Side: types.SideBuy, ReduceOnly: true}, true, futures.SideTypeBuy, futures.PositionSideTypeShort, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			side, posSide, reduceOnly := orderSides(tc.req, tc.hedge)
			assert.Equal(t, tc.side, side)
			assert.Equal(t, tc.posSide, posSide)
			assert.Equal(t, tc.reduceOnly, reduceOnly)
		})
	}
}

func TestClassify(t *testing.T) {
	rate := &common.APIError{Code: -1003, Message: "too many requests"}
	assert.True(t, types.IsTransient(classify(rate)))

	bad := &common.APIError{Code: -2019, Message: "margin is insufficient"}
	err := classify(bad)
	assert.False(t, types.IsTransient(err))
	assert.True(t, errors.Is(err, bad))
}

func TestFormatQty(t *testing.T) {
	assert.Equal(t, "15", formatQty(15))
	assert.Equal(t, "0.3", formatQty(0.3))
}
