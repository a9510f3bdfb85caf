// Package eod writes the end-of-day CSV summary of the trade journal.
package eod

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"
)

type eodSummarizer struct {
	journal DayReader
	dir     string
	loc     *time.Location
	hour    int
	minute  int
	now     func() time.Time
}

var headers = []string{
	"symbol", "entries", "exits", "wins", "losses",
	"buy_qty", "buy_avg", "sell_qty", "sell_avg",
	"realized_pnl", "gross_buy_value", "gross_sell_value",
}

// SummarizeDay aggregates the day's journal per symbol into dir/eod/DATE.csv.
// A day without trades writes nothing and returns an empty path.
func (s *eodSummarizer) SummarizeDay(t time.Time) (string, error) {
	t = t.In(s.loc)
	recs, err := s.journal.ReadDay(t, s.loc)
	if err != nil {
		return "", fmt.Errorf("eod: read journal: %w", err)
	}
	if len(recs) == 0 {
		return "", nil
	}

	aggs := map[string]*aggRow{}
	for _, rec := range recs {
		row := aggs[rec.Instrument]
		if row == nil {
			row = &aggRow{Symbol: rec.Instrument}
			aggs[rec.Instrument] = row
		}
		row.add(rec)
	}
	keys := make([]string, 0, len(aggs))
	for k := range aggs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	outPath := eodCSVPath(s.dir, t)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", err
	}
	out, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	defer out.Close()

	w := csv.NewWriter(out)
	if err := w.Write(headers); err != nil {
		return "", err
	}
	var total aggRow
	total.Symbol = "TOTAL"
	for _, k := range keys {
		r := aggs[k]
		if err := w.Write(r.record()); err != nil {
			return "", err
		}
		total.Entries += r.Entries
		total.Exits += r.Exits
		total.Wins += r.Wins
		total.Losses += r.Losses
		total.BuyValue += r.BuyValue
		total.SellValue += r.SellValue
		total.RealizedPnL += r.RealizedPnL
	}
	if err := w.Write([]string{
		total.Symbol, strconv.Itoa(total.Entries), strconv.Itoa(total.Exits),
		strconv.Itoa(total.Wins), strconv.Itoa(total.Losses), "", "", "", "",
		fmt.Sprintf("%.2f", total.RealizedPnL), fmt.Sprintf("%.2f", total.BuyValue), fmt.Sprintf("%.2f", total.SellValue),
	}); err != nil {
		return "", err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return outPath, nil
}

func (r *aggRow) record() []string {
	return []string{
		r.Symbol,
		strconv.Itoa(r.Entries),
		strconv.Itoa(r.Exits),
		strconv.Itoa(r.Wins),
		strconv.Itoa(r.Losses),
		strconv.FormatFloat(r.BuyQty, 'f', -1, 64),
		fmt.Sprintf("%.4f", avg(r.BuyValue, r.BuyQty)),
		strconv.FormatFloat(r.SellQty, 'f', -1, 64),
		fmt.Sprintf("%.4f", avg(r.SellValue, r.SellQty)),
		fmt.Sprintf("%.2f", r.RealizedPnL),
		fmt.Sprintf("%.2f", r.BuyValue),
		fmt.Sprintf("%.2f", r.SellValue),
	}
}

func (s *eodSummarizer) SummarizeToday() (string, error) { return s.SummarizeDay(s.now()) }

// ShouldRunNow is true once the configured time of day has passed and
// today's summary does not exist yet.
func (s *eodSummarizer) ShouldRunNow() (bool, string) {
	now := s.now().In(s.loc)
	outPath := eodCSVPath(s.dir, now)
	if now.Before(cutoffOn(now, s.hour, s.minute)) {
		return false, outPath
	}
	if _, err := os.Stat(outPath); errors.Is(err, os.ErrNotExist) {
		return true, outPath
	}
	return false, outPath
}
