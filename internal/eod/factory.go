package eod

import (
	"time"

	"sma-trading-bot/internal/interfaces"
)

// NewSummarizer builds a summarizer writing under dir that runs after at
// ("HH:MM") in loc.
func NewSummarizer(journal DayReader, dir, at string, loc *time.Location) (interfaces.EodSummarizer, error) {
	return newSummarizer(journal, dir, at, loc, time.Now)
}

func newSummarizer(journal DayReader, dir, at string, loc *time.Location, now func() time.Time) (*eodSummarizer, error) {
	hour, minute, err := parseClock(at)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}
	return &eodSummarizer{journal: journal, dir: dir, loc: loc, hour: hour, minute: minute, now: now}, nil
}
