package indicator

import (
	"math"

	"github.com/moznion/go-optional"

	"github.com/quantforge/backsim/internal/types"
	"github.com/quantforge/backsim/pkg/errors"
)

// ATR is the Wilder-smoothed Average True Range.
type ATR struct {
	id     string
	period int
}

// NewATR creates an ATR indicator from its spec.
func NewATR(spec types.IndicatorSpec) (Indicator, error) {
	if spec.Period <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidPeriod, "ATR period must be positive, got %d", spec.Period)
	}

	return &ATR{
		id:     spec.ID(),
		period: spec.Period,
	}, nil
}

// Kind returns the indicator family.
func (a *ATR) Kind() types.IndicatorKind {
	return types.IndicatorKindATR
}

// ID returns the series key for this instance.
func (a *ATR) ID() string {
	return a.id
}

// Compute returns the ATR series. True range for the first bar is high-low;
// afterwards it is max(high-low, |high-prevClose|, |low-prevClose|). The
// first ATR is a simple mean of the first period true ranges, then Wilder
// smoothing applies.
func (a *ATR) Compute(bars []types.Bar) SeriesSet {
	series := NewSeries(len(bars))

	if len(bars) < a.period {
		return SeriesSet{a.id: series}
	}

	trueRanges := make([]float64, len(bars))
	trueRanges[0] = bars[0].High - bars[0].Low

	for i := 1; i < len(bars); i++ {
		prevClose := bars[i-1].Close
		trueRanges[i] = math.Max(
			math.Max(
				bars[i].High-bars[i].Low,
				math.Abs(bars[i].High-prevClose),
			),
			math.Abs(bars[i].Low-prevClose),
		)
	}

	var sum float64
	for i := 0; i < a.period; i++ {
		sum += trueRanges[i]
	}

	prev := sum / float64(a.period)
	series[a.period-1] = optional.Some(prev)

	for i := a.period; i < len(bars); i++ {
		prev = (prev*float64(a.period-1) + trueRanges[i]) / float64(a.period)
		series[i] = optional.Some(prev)
	}

	return SeriesSet{a.id: series}
}
