// Package indicator computes technical indicator series from bar sequences.
//
// Every indicator is a pure function of its bar input: Compute returns one
// or more series aligned to the bars, with None values during the warm-up
// window. Insufficient bars for a period is not an error; the result is
// simply an all-None series and conditions over it evaluate to false.
package indicator

import (
	"github.com/quantforge/backsim/internal/types"
)

// Indicator computes one or more aligned series from a bar sequence.
type Indicator interface {
	// Kind returns the indicator family.
	Kind() types.IndicatorKind
	// ID returns the key conditions use to reference this instance, e.g. "SMA_20".
	ID() string
	// Compute maps the bar sequence to this indicator's series. The primary
	// line is keyed by ID(); derived lines use an ID().suffix key.
	Compute(bars []types.Bar) SeriesSet
}

// NewFromSpec builds the indicator described by the spec. The spec is
// assumed to have passed StrategyDefinition.Validate.
func NewFromSpec(spec types.IndicatorSpec) (Indicator, error) {
	registry := DefaultRegistry()

	return registry.Build(spec)
}

// ComputeAll computes every requested indicator into a single immutable
// SeriesSet. Duplicate specs (same id) are computed once.
func ComputeAll(specs []types.IndicatorSpec, bars []types.Bar) (SeriesSet, error) {
	set := make(SeriesSet)

	for _, spec := range specs {
		if _, exists := set[spec.ID()]; exists {
			continue
		}

		ind, err := NewFromSpec(spec)
		if err != nil {
			return nil, err
		}

		for key, series := range ind.Compute(bars) {
			set[key] = series
		}
	}

	return set, nil
}
