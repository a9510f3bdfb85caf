package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/moznion/go-optional"
)

type Candle struct {
	Ts                          int64
	Open, High, Low, Close, Vol float64
}

// Direction is the side of exposure a position carries.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// ParseDirection accepts both the position vocabulary (long/short) and the
// order vocabulary (buy/sell).
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "long", "buy":
		return Long, nil
	case "short", "sell":
		return Short, nil
	}
	return "", fmt.Errorf("unknown direction %q", s)
}

func (d Direction) Opposite() Direction {
	if d == Short {
		return Long
	}
	return Short
}

// EntrySide is the order side that opens exposure in this direction.
func (d Direction) EntrySide() Side {
	if d == Short {
		return SideSell
	}
	return SideBuy
}

// ExitSide is the order side that flattens exposure in this direction.
func (d Direction) ExitSide() Side {
	if d == Short {
		return SideBuy
	}
	return SideSell
}

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type PositionState string

const (
	StateOpening PositionState = "opening"
	StateOpen    PositionState = "open"
	StateClosing PositionState = "closing"
)

type ExitReason string

const (
	ReasonSignal     ExitReason = "signal"
	ReasonTakeProfit ExitReason = "take_profit"
	ReasonStopLoss   ExitReason = "stop_loss"
	ReasonManual     ExitReason = "manual"
)

type PositionKey struct {
	Instrument string
	Direction  Direction
}

func (k PositionKey) String() string {
	return k.Instrument + ":" + string(k.Direction)
}

// Position is one open directional exposure tracked by the ledger.
type Position struct {
	Instrument    string                   `json:"instrument"`
	Direction     Direction                `json:"direction"`
	EntryPrice    float64                  `json:"entry_price"`
	Quantity      float64                  `json:"quantity"`
	TakeProfit    float64                  `json:"take_profit"`
	StopLoss      float64                  `json:"stop_loss"`
	TrailingFloor optional.Option[float64] `json:"trailing_floor"`
	OrderID       string                   `json:"order_id"`
	OpenedAt      time.Time                `json:"opened_at"`
	State         PositionState            `json:"state"`
}

func (p Position) Key() PositionKey {
	return PositionKey{Instrument: p.Instrument, Direction: p.Direction}
}

// EffectiveStop is the ratcheted trailing floor when one has been set,
// otherwise the initial stop-loss.
func (p Position) EffectiveStop() float64 {
	if p.TrailingFloor.IsSome() {
		return p.TrailingFloor.Unwrap()
	}
	return p.StopLoss
}

// PnL is the profit of closing the whole position at price.
func (p Position) PnL(price float64) float64 {
	if p.Direction == Short {
		return (p.EntryPrice - price) * p.Quantity
	}
	return (price - p.EntryPrice) * p.Quantity
}

type TradeKind string

const (
	KindEntry TradeKind = "entry"
	KindExit  TradeKind = "exit"
)

// TradeRecord is one fill written to the journal. Records are never rewritten.
type TradeRecord struct {
	ID         string     `json:"id"`
	Kind       TradeKind  `json:"kind"`
	Instrument string     `json:"instrument"`
	Direction  Direction  `json:"direction"`
	Side       Side       `json:"side"`
	Quantity   float64    `json:"quantity"`
	Price      float64    `json:"price"`
	Reason     ExitReason `json:"reason"`
	PnL        float64    `json:"pnl"`
	OrderID    string     `json:"order_id"`
	OpenedAt   time.Time  `json:"opened_at"`
	Time       time.Time  `json:"time"`
}

// Stats are the lifetime performance counters plus the daily loss counter,
// persisted together so the circuit breaker survives restarts.
type Stats struct {
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	RealizedPnL float64 `json:"realized_pnl"`
	LossDay     string  `json:"loss_day"`
	DailyLoss   float64 `json:"daily_loss"`
}

type OrderReq struct {
	Instrument string
	Side       Side
	Quantity   float64
	ReduceOnly bool
	Tag        string
}

// Fill is what the exchange reports for an executed market order. Price is
// zero when the exchange did not report an average fill price.
type Fill struct {
	OrderID  string
	Price    float64
	Quantity float64
}

type ExchangePosition struct {
	Instrument string
	Direction  Direction
	Size       float64
	EntryPrice float64
}

func (p ExchangePosition) Key() PositionKey {
	return PositionKey{Instrument: p.Instrument, Direction: p.Direction}
}

// MarketInfo carries the tradability limits of an instrument.
type MarketInfo struct {
	Instrument  string
	QuoteAsset  string
	MinQty      float64
	StepSize    float64
	MinNotional float64
	// OneWay is set when the venue nets both directions of an instrument
	// into a single position, so a long and a short cannot coexist.
	OneWay bool
}

// OrderIntent is an entry approved by the risk checks.
type OrderIntent struct {
	Instrument string
	Direction  Direction
	Quantity   float64
	Price      float64
}

func (o OrderIntent) Notional() float64 { return o.Price * o.Quantity }

type Signal string

const (
	SignalNone  Signal = "none"
	SignalLong  Signal = "enter_long"
	SignalShort Signal = "enter_short"
)

func (s Signal) Direction() (Direction, bool) {
	switch s {
	case SignalLong:
		return Long, true
	case SignalShort:
		return Short, true
	}
	return "", false
}

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarn    Severity = "warn"
	SeverityError   Severity = "error"
)

// Button is one entry of an inline command menu.
type Button struct {
	Text    string `json:"text"`
	Command string `json:"command"`
}

// StepResult describes one signal-loop evaluation of an instrument.
type StepResult struct {
	Symbol   string    `json:"symbol"`
	Signal   Signal    `json:"signal"`
	Price    float64   `json:"price"`
	Time     int64     `json:"time"`
	Reason   string    `json:"reason"`
	Position *Position `json:"position,omitempty"`
}

type ReconcileReport struct {
	Removed []PositionKey `json:"removed"`
	Adopted []PositionKey `json:"adopted"`
}

type Status struct {
	Running      bool       `json:"running"`
	Mode         string     `json:"mode"`
	Symbols      []string   `json:"symbols"`
	Stake        float64    `json:"stake"`
	Positions    []Position `json:"positions"`
	Stats        Stats      `json:"stats"`
	DailyLimit   float64    `json:"daily_limit"`
	LimitReached bool       `json:"limit_reached"`
}
