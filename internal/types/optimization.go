package types

import (
	"github.com/go-playground/validator/v10"

	"github.com/quantforge/backsim/pkg/errors"
)

// FitnessMetric selects which performance number ranks optimization candidates.
type FitnessMetric string

const (
	FitnessMetricSharpeRatio  FitnessMetric = "sharpe_ratio"
	FitnessMetricProfitFactor FitnessMetric = "profit_factor"
	FitnessMetricTotalReturn  FitnessMetric = "total_return"
)

// Extract returns the metric's value from a backtest result.
func (m FitnessMetric) Extract(result *BacktestResult) (float64, error) {
	switch m {
	case FitnessMetricSharpeRatio:
		return result.SharpeRatio, nil
	case FitnessMetricProfitFactor:
		return result.ProfitFactor, nil
	case FitnessMetricTotalReturn:
		return result.TotalReturn, nil
	default:
		return 0, errors.Newf(errors.ErrCodeInvalidFitnessMetric, "unknown fitness metric %q", string(m))
	}
}

// ParameterRange is the search space for one numeric strategy parameter.
// Candidate values are drawn from the grid {min, min+step, ..., max}.
type ParameterRange struct {
	Name string  `yaml:"name" json:"name" validate:"required"`
	Min  float64 `yaml:"min" json:"min"`
	Max  float64 `yaml:"max" json:"max"`
	Step float64 `yaml:"step" json:"step" validate:"gt=0"`
}

// Steps returns the number of grid points above Min.
func (r ParameterRange) Steps() int {
	if r.Step <= 0 || r.Max < r.Min {
		return 0
	}

	return int((r.Max - r.Min) / r.Step)
}

// Value returns the grid point at the given step index.
func (r ParameterRange) Value(step int) float64 {
	return r.Min + float64(step)*r.Step
}

const (
	// DefaultPopulationSize is the genetic algorithm's default population.
	DefaultPopulationSize = 20
	// DefaultGenerations is the genetic algorithm's default generation count.
	DefaultGenerations = 10
)

// OptimizationConfig drives the genetic parameter search.
type OptimizationConfig struct {
	Parameters []ParameterRange `yaml:"parameters" json:"parameters" validate:"min=1,dive"`
	Metric     FitnessMetric    `yaml:"metric" json:"metric" validate:"required,oneof=sharpe_ratio profit_factor total_return"`
	// PopulationSize defaults to 20 when zero.
	PopulationSize int `yaml:"population_size,omitempty" json:"population_size,omitempty" validate:"gte=0"`
	// Generations defaults to 10 when zero.
	Generations int `yaml:"generations,omitempty" json:"generations,omitempty" validate:"gte=0"`
	// Workers bounds concurrent candidate evaluation; zero means GOMAXPROCS.
	Workers int `yaml:"workers,omitempty" json:"workers,omitempty" validate:"gte=0"`
	// Seed makes the random search reproducible when non-zero.
	Seed int64 `yaml:"seed,omitempty" json:"seed,omitempty"`
}

// Validate checks the structural contract of the optimization config.
func (c *OptimizationConfig) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid optimization config", err)
	}

	for _, p := range c.Parameters {
		if p.Max < p.Min {
			return errors.Newf(errors.ErrCodeInvalidParameterRange,
				"parameter %q has max %.4f below min %.4f", p.Name, p.Max, p.Min)
		}
	}

	return nil
}

// EffectivePopulationSize returns the configured population or the default.
func (c *OptimizationConfig) EffectivePopulationSize() int {
	if c.PopulationSize > 0 {
		return c.PopulationSize
	}

	return DefaultPopulationSize
}

// EffectiveGenerations returns the configured generation count or the default.
func (c *OptimizationConfig) EffectiveGenerations() int {
	if c.Generations > 0 {
		return c.Generations
	}

	return DefaultGenerations
}

// ParameterSet maps parameter names to candidate values.
type ParameterSet map[string]float64

// Clone returns a copy of the parameter set.
func (p ParameterSet) Clone() ParameterSet {
	clone := make(ParameterSet, len(p))
	for k, v := range p {
		clone[k] = v
	}

	return clone
}

// OptimizationResult is one ranked candidate from the parameter search.
type OptimizationResult struct {
	Parameters ParameterSet  `yaml:"parameters" json:"parameters"`
	Metric     FitnessMetric `yaml:"metric" json:"metric"`
	Fitness    float64       `yaml:"fitness" json:"fitness"`
	// Summary carries the candidate's full backtest performance.
	Summary BacktestResult `yaml:"summary" json:"summary"`
}
