package indicator

import (
	"github.com/moznion/go-optional"

	"github.com/quantforge/backsim/internal/types"
	"github.com/quantforge/backsim/pkg/errors"
)

// MACD is the Moving Average Convergence Divergence indicator. It produces
// three lines: the MACD line (primary), the signal line and the histogram.
type MACD struct {
	id           string
	fastPeriod   int
	slowPeriod   int
	signalPeriod int
}

// NewMACD creates a MACD indicator from its spec.
func NewMACD(spec types.IndicatorSpec) (Indicator, error) {
	if spec.FastPeriod <= 0 || spec.SlowPeriod <= 0 || spec.SignalPeriod <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidPeriod,
			"MACD periods must be positive, got %d/%d/%d", spec.FastPeriod, spec.SlowPeriod, spec.SignalPeriod)
	}

	if spec.FastPeriod >= spec.SlowPeriod {
		return nil, errors.Newf(errors.ErrCodeInvalidPeriod,
			"MACD fast period %d must be shorter than slow period %d", spec.FastPeriod, spec.SlowPeriod)
	}

	return &MACD{
		id:           spec.ID(),
		fastPeriod:   spec.FastPeriod,
		slowPeriod:   spec.SlowPeriod,
		signalPeriod: spec.SignalPeriod,
	}, nil
}

// Kind returns the indicator family.
func (m *MACD) Kind() types.IndicatorKind {
	return types.IndicatorKindMACD
}

// ID returns the series key for this instance.
func (m *MACD) ID() string {
	return m.id
}

// Compute returns the MACD, signal and histogram series. The MACD line is
// EMA(fast) - EMA(slow), valid from index slow-1; the signal line is an
// EMA(signal) over the MACD values, valid signalPeriod-1 bars later.
func (m *MACD) Compute(bars []types.Bar) SeriesSet {
	closes := make([]float64, len(bars))
	for i, bar := range bars {
		closes[i] = bar.Close
	}

	fast := emaOver(closes, m.fastPeriod)
	slow := emaOver(closes, m.slowPeriod)

	macdLine := NewSeries(len(bars))
	signalLine := NewSeries(len(bars))
	histogram := NewSeries(len(bars))

	// macd values re-indexed from the first slow-EMA bar so the signal EMA
	// warm-up counts only defined macd values
	macdStart := m.slowPeriod - 1
	if macdStart >= len(bars) {
		return m.seriesSet(macdLine, signalLine, histogram)
	}

	macdValues := make([]float64, 0, len(bars)-macdStart)

	for i := macdStart; i < len(bars); i++ {
		fastValue, fastOK := fast.ValueAt(i)
		slowValue, slowOK := slow.ValueAt(i)

		if !fastOK || !slowOK {
			continue
		}

		value := fastValue - slowValue
		macdLine[i] = optional.Some(value)
		macdValues = append(macdValues, value)
	}

	signalOver := emaOver(macdValues, m.signalPeriod)

	for j := range macdValues {
		i := macdStart + j
		if signalValue, ok := signalOver.ValueAt(j); ok {
			macdValue, _ := macdLine.ValueAt(i)
			signalLine[i] = optional.Some(signalValue)
			histogram[i] = optional.Some(macdValue - signalValue)
		}
	}

	return m.seriesSet(macdLine, signalLine, histogram)
}

func (m *MACD) seriesSet(macdLine, signalLine, histogram Series) SeriesSet {
	return SeriesSet{
		m.id:                macdLine,
		m.id + ".signal":    signalLine,
		m.id + ".histogram": histogram,
	}
}
