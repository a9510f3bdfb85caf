package eod

import (
	"fmt"
	"path/filepath"
	"time"
)

func eodCSVPath(dir string, t time.Time) string {
	return filepath.Join(dir, "eod", t.Format("2006-01-02")+".csv")
}

// parseClock reads an "HH:MM" time of day.
func parseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("eod: bad time of day %q: %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}

func cutoffOn(t time.Time, hour, minute int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), hour, minute, 0, 0, t.Location())
}

func avg(value, qty float64) float64 {
	if qty == 0 {
		return 0
	}
	return value / qty
}
