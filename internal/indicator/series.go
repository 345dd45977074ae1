package indicator

import (
	"github.com/moznion/go-optional"
)

// Series is one indicator line aligned to the bar sequence: series[i] holds
// the value at bar i, or None during the warm-up window. A Series is never
// mutated after construction, so it can be shared across evaluator and
// optimizer workers without synchronization.
type Series []optional.Option[float64]

// NewSeries returns an all-None series of the given length.
func NewSeries(length int) Series {
	s := make(Series, length)
	for i := range s {
		s[i] = optional.None[float64]()
	}

	return s
}

// ValueAt returns the value at bar index i and whether it is defined.
// Out-of-range indexes report undefined rather than panicking.
func (s Series) ValueAt(i int) (float64, bool) {
	if i < 0 || i >= len(s) {
		return 0, false
	}

	if s[i].IsNone() {
		return 0, false
	}

	return s[i].Unwrap(), true
}

// FirstValidIndex returns the index of the first defined value, or -1 when
// the series is entirely null (insufficient bars for the warm-up).
func (s Series) FirstValidIndex() int {
	for i := range s {
		if s[i].IsSome() {
			return i
		}
	}

	return -1
}

// SeriesSet holds every computed indicator line for one run, keyed by the
// indicator id ("SMA_20") with derived lines suffixed ("MACD_12_26_9.signal",
// "BB_20.upper"). Built once per run; read-only afterwards.
type SeriesSet map[string]Series
