package redisstore

import (
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"sma-trading-bot/internal/types"
)

func TestKeys(t *testing.T) {
	s := New(nil, "smabot")
	assert.Equal(t, "smabot:positions", s.key("positions"))
	assert.Equal(t, "smabot:stats", s.key("stats"))
}

// Snapshots go through msgpack; the optional trailing floor and the open
// time must survive it.
func TestPositionEncoding(t *testing.T) {
	opened := time.Date(2026, 1, 5, 9, 30, 0, 0, time.UTC)
	in := []types.Position{
		{Instrument: "DOGE/USDT", Direction: types.Long, EntryPrice: 0.1, Quantity: 60,
			StopLoss: 0.099, TrailingFloor: optional.Some(0.1005), OpenedAt: opened, State: types.StateOpen},
		{Instrument: "DOGE/USDT", Direction: types.Short, EntryPrice: 0.1, Quantity: 60,
			StopLoss: 0.101, OpenedAt: opened, State: types.StateOpen},
	}
	b, err := msgpack.Marshal(in)
	require.NoError(t, err)

	var out []types.Position
	require.NoError(t, msgpack.Unmarshal(b, &out))
	require.Len(t, out, 2)
	assert.Equal(t, 0.1005, out[0].EffectiveStop())
	assert.True(t, out[1].TrailingFloor.IsNone())
	assert.Equal(t, 0.101, out[1].EffectiveStop())
	assert.True(t, out[0].OpenedAt.Equal(opened))
}
