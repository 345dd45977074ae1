package types

import "github.com/quantforge/backsim/pkg/errors"

// Timeframe identifies the interval each bar covers.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe30m Timeframe = "30m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
	Timeframe1w  Timeframe = "1w"
)

// AllTimeframes lists every supported timeframe, used for config schema enums.
var AllTimeframes = []any{
	Timeframe1m,
	Timeframe5m,
	Timeframe15m,
	Timeframe30m,
	Timeframe1h,
	Timeframe4h,
	Timeframe1d,
	Timeframe1w,
}

// annualizationFactors maps a timeframe to the number of bars in a trading
// year, assuming 252 trading days with a 390-minute session. Daily bars use
// the conventional 252.
var annualizationFactors = map[Timeframe]float64{
	Timeframe1m:  98280,
	Timeframe5m:  19656,
	Timeframe15m: 6552,
	Timeframe30m: 3276,
	Timeframe1h:  1638,
	Timeframe4h:  409.5,
	Timeframe1d:  252,
	Timeframe1w:  52,
}

// AnnualizationFactor returns the number of bars per trading year for the
// timeframe, used to annualize the Sharpe ratio.
func (t Timeframe) AnnualizationFactor() (float64, error) {
	factor, ok := annualizationFactors[t]
	if !ok {
		return 0, errors.Newf(errors.ErrCodeInvalidTimeframe, "unsupported timeframe %q", string(t))
	}

	return factor, nil
}

// Valid reports whether the timeframe is one of the supported intervals.
func (t Timeframe) Valid() bool {
	_, ok := annualizationFactors[t]

	return ok
}
