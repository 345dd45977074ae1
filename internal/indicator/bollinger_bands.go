package indicator

import (
	"math"

	"github.com/moznion/go-optional"

	"github.com/quantforge/backsim/internal/types"
	"github.com/quantforge/backsim/pkg/errors"
)

// BollingerBands produces a middle SMA line (primary) plus upper and lower
// bands at stdDev multiples of the rolling population standard deviation.
type BollingerBands struct {
	id     string
	period int
	stdDev float64
}

// NewBollingerBands creates a Bollinger Bands indicator from its spec.
func NewBollingerBands(spec types.IndicatorSpec) (Indicator, error) {
	if spec.Period <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidPeriod, "BB period must be positive, got %d", spec.Period)
	}

	if spec.StdDevMultiplier <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidParameter,
			"BB std_dev_multiplier must be positive, got %f", spec.StdDevMultiplier)
	}

	return &BollingerBands{
		id:     spec.ID(),
		period: spec.Period,
		stdDev: spec.StdDevMultiplier,
	}, nil
}

// Kind returns the indicator family.
func (bb *BollingerBands) Kind() types.IndicatorKind {
	return types.IndicatorKindBollinger
}

// ID returns the series key for this instance.
func (bb *BollingerBands) ID() string {
	return bb.id
}

// Compute returns the middle, upper and lower band series, valid from
// index period-1.
func (bb *BollingerBands) Compute(bars []types.Bar) SeriesSet {
	middle := NewSeries(len(bars))
	upper := NewSeries(len(bars))
	lower := NewSeries(len(bars))

	if len(bars) >= bb.period {
		for i := bb.period - 1; i < len(bars); i++ {
			window := bars[i-bb.period+1 : i+1]

			var sum float64
			for _, bar := range window {
				sum += bar.Close
			}

			mean := sum / float64(bb.period)

			var variance float64
			for _, bar := range window {
				diff := bar.Close - mean
				variance += diff * diff
			}

			// population standard deviation over the window
			sd := math.Sqrt(variance / float64(bb.period))

			middle[i] = optional.Some(mean)
			upper[i] = optional.Some(mean + bb.stdDev*sd)
			lower[i] = optional.Some(mean - bb.stdDev*sd)
		}
	}

	return SeriesSet{
		bb.id:            middle,
		bb.id + ".upper": upper,
		bb.id + ".lower": lower,
	}
}
