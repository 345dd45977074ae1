package indicator

import (
	"github.com/moznion/go-optional"

	"github.com/quantforge/backsim/internal/types"
	"github.com/quantforge/backsim/pkg/errors"
)

// RSI is the Relative Strength Index with Wilder smoothing.
type RSI struct {
	id     string
	period int
}

// NewRSI creates an RSI indicator from its spec.
func NewRSI(spec types.IndicatorSpec) (Indicator, error) {
	if spec.Period <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidPeriod, "RSI period must be positive, got %d", spec.Period)
	}

	return &RSI{
		id:     spec.ID(),
		period: spec.Period,
	}, nil
}

// Kind returns the indicator family.
func (r *RSI) Kind() types.IndicatorKind {
	return types.IndicatorKindRSI
}

// ID returns the series key for this instance.
func (r *RSI) ID() string {
	return r.id
}

// Compute returns the RSI series. The first average gain/loss is a simple
// mean over the first period changes; subsequent averages use Wilder's
// smoothing avg = (avgPrev*(period-1) + current) / period. The first valid
// index is period (one change per bar after the first).
func (r *RSI) Compute(bars []types.Bar) SeriesSet {
	series := NewSeries(len(bars))

	if len(bars) < r.period+1 {
		return SeriesSet{r.id: series}
	}

	var avgGain, avgLoss float64

	for i := 1; i <= r.period; i++ {
		change := bars[i].Close - bars[i-1].Close
		if change > 0 {
			avgGain += change
		} else {
			avgLoss += -change
		}
	}

	avgGain /= float64(r.period)
	avgLoss /= float64(r.period)

	series[r.period] = optional.Some(rsiFrom(avgGain, avgLoss))

	for i := r.period + 1; i < len(bars); i++ {
		change := bars[i].Close - bars[i-1].Close

		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}

		avgGain = (avgGain*float64(r.period-1) + gain) / float64(r.period)
		avgLoss = (avgLoss*float64(r.period-1) + loss) / float64(r.period)

		series[i] = optional.Some(rsiFrom(avgGain, avgLoss))
	}

	return SeriesSet{r.id: series}
}

func rsiFrom(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100 // Perfect uptrend
	}

	rs := avgGain / avgLoss

	return 100 - (100 / (1 + rs))
}
