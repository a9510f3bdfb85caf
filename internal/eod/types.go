package eod

import (
	"time"

	"sma-trading-bot/internal/types"
)

// DayReader returns the journal records of one calendar day.
type DayReader interface {
	ReadDay(t time.Time, loc *time.Location) ([]types.TradeRecord, error)
}

// aggRow is one symbol's line in the daily summary.
type aggRow struct {
	Symbol      string
	Entries     int
	Exits       int
	Wins        int
	Losses      int
	BuyQty      float64
	BuyValue    float64
	SellQty     float64
	SellValue   float64
	RealizedPnL float64
}

func (r *aggRow) add(rec types.TradeRecord) {
	switch rec.Side {
	case types.SideBuy:
		r.BuyQty += rec.Quantity
		r.BuyValue += rec.Quantity * rec.Price
	case types.SideSell:
		r.SellQty += rec.Quantity
		r.SellValue += rec.Quantity * rec.Price
	}

	if rec.Kind == types.KindEntry {
		r.Entries++
		return
	}
	r.Exits++
	r.RealizedPnL += rec.PnL
	switch {
	case rec.Reason == types.ReasonTakeProfit:
		r.Wins++
	case rec.Reason == types.ReasonStopLoss:
		r.Losses++
	case rec.PnL > 0:
		r.Wins++
	case rec.PnL < 0:
		r.Losses++
	}
}
