package indicator

import (
	"github.com/moznion/go-optional"

	"github.com/quantforge/backsim/internal/types"
	"github.com/quantforge/backsim/pkg/errors"
)

// EMA is the exponential moving average of closing prices, seeded with an
// SMA of the first period closes.
type EMA struct {
	id     string
	period int
}

// NewEMA creates an EMA indicator from its spec.
func NewEMA(spec types.IndicatorSpec) (Indicator, error) {
	if spec.Period <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidPeriod, "EMA period must be positive, got %d", spec.Period)
	}

	return &EMA{
		id:     spec.ID(),
		period: spec.Period,
	}, nil
}

// Kind returns the indicator family.
func (e *EMA) Kind() types.IndicatorKind {
	return types.IndicatorKindEMA
}

// ID returns the series key for this instance.
func (e *EMA) ID() string {
	return e.id
}

// Compute returns the EMA series with the first valid value at index period-1.
func (e *EMA) Compute(bars []types.Bar) SeriesSet {
	closes := make([]float64, len(bars))
	for i, bar := range bars {
		closes[i] = bar.Close
	}

	return SeriesSet{e.id: emaOver(closes, e.period)}
}

// emaOver computes an EMA over raw values: seed = SMA of the first period
// values, then value[i] = (v - prev) * k + prev with k = 2/(period+1).
// MACD reuses this for both its component EMAs and its signal line.
func emaOver(values []float64, period int) Series {
	series := NewSeries(len(values))

	if period <= 0 || len(values) < period {
		return series
	}

	var seed float64
	for i := 0; i < period; i++ {
		seed += values[i]
	}

	prev := seed / float64(period)
	series[period-1] = optional.Some(prev)

	multiplier := 2.0 / float64(period+1)

	for i := period; i < len(values); i++ {
		prev = (values[i]-prev)*multiplier + prev
		series[i] = optional.Some(prev)
	}

	return series
}
