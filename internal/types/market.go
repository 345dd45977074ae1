package types

import (
	"time"

	"github.com/quantforge/backsim/pkg/errors"
)

// Bar is a single OHLCV record for a fixed time interval.
// Bars are immutable once produced and must be ordered by time ascending.
type Bar struct {
	Symbol string    `yaml:"symbol" json:"symbol" csv:"symbol"`
	Time   time.Time `yaml:"time" json:"time" csv:"time"`
	Open   float64   `yaml:"open" json:"open" csv:"open"`
	High   float64   `yaml:"high" json:"high" csv:"high"`
	Low    float64   `yaml:"low" json:"low" csv:"low"`
	Close  float64   `yaml:"close" json:"close" csv:"close"`
	Volume float64   `yaml:"volume" json:"volume" csv:"volume"`
}

// TypicalPrice returns (high + low + close) / 3, the price used by VWAP.
func (b Bar) TypicalPrice() float64 {
	return (b.High + b.Low + b.Close) / 3
}

// ValidateBars checks the bar series contract: non-empty, strictly ascending
// timestamps. Duplicate or out-of-order timestamps are a contract violation
// and are rejected rather than silently sorted.
func ValidateBars(bars []Bar) error {
	if len(bars) == 0 {
		return errors.New(errors.ErrCodeEmptyBarSeries, "bar series is empty")
	}

	for i := 1; i < len(bars); i++ {
		if bars[i].Time.Equal(bars[i-1].Time) {
			return errors.Newf(errors.ErrCodeDuplicateBars,
				"duplicate bar timestamp %s at index %d", bars[i].Time.Format(time.RFC3339), i)
		}

		if bars[i].Time.Before(bars[i-1].Time) {
			return errors.Newf(errors.ErrCodeUnorderedBars,
				"bar at index %d (%s) is earlier than its predecessor", i, bars[i].Time.Format(time.RFC3339))
		}
	}

	return nil
}
