package indicator

import (
	"github.com/moznion/go-optional"

	"github.com/quantforge/backsim/internal/types"
	"github.com/quantforge/backsim/pkg/errors"
)

// SMA is the simple moving average of closing prices.
type SMA struct {
	id     string
	period int
}

// NewSMA creates an SMA indicator from its spec.
func NewSMA(spec types.IndicatorSpec) (Indicator, error) {
	if spec.Period <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidPeriod, "SMA period must be positive, got %d", spec.Period)
	}

	return &SMA{
		id:     spec.ID(),
		period: spec.Period,
	}, nil
}

// Kind returns the indicator family.
func (s *SMA) Kind() types.IndicatorKind {
	return types.IndicatorKindSMA
}

// ID returns the series key for this instance.
func (s *SMA) ID() string {
	return s.id
}

// Compute returns the SMA series. The first valid index is period-1; a
// rolling sum keeps the computation linear in the bar count.
func (s *SMA) Compute(bars []types.Bar) SeriesSet {
	series := NewSeries(len(bars))

	if len(bars) < s.period {
		return SeriesSet{s.id: series}
	}

	var sum float64

	for i, bar := range bars {
		sum += bar.Close
		if i >= s.period {
			sum -= bars[i-s.period].Close
		}

		if i >= s.period-1 {
			series[i] = optional.Some(sum / float64(s.period))
		}
	}

	return SeriesSet{s.id: series}
}
