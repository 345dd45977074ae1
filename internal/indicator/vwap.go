package indicator

import (
	"github.com/moznion/go-optional"

	"github.com/quantforge/backsim/internal/types"
)

// VWAP is the volume-weighted average price accumulated from the start of
// the series (not a rolling window).
type VWAP struct {
	id string
}

// NewVWAP creates a VWAP indicator from its spec.
func NewVWAP(spec types.IndicatorSpec) (Indicator, error) {
	return &VWAP{
		id: spec.ID(),
	}, nil
}

// Kind returns the indicator family.
func (v *VWAP) Kind() types.IndicatorKind {
	return types.IndicatorKindVWAP
}

// ID returns the series key for this instance.
func (v *VWAP) ID() string {
	return v.id
}

// Compute returns the cumulative VWAP series. Bars remain undefined while
// the cumulative volume is zero.
func (v *VWAP) Compute(bars []types.Bar) SeriesSet {
	series := NewSeries(len(bars))

	var cumPV, cumVolume float64

	for i, bar := range bars {
		cumPV += bar.TypicalPrice() * bar.Volume
		cumVolume += bar.Volume

		if cumVolume > 0 {
			series[i] = optional.Some(cumPV / cumVolume)
		}
	}

	return SeriesSet{v.id: series}
}
