package types

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/moznion/go-optional"

	"github.com/quantforge/backsim/pkg/errors"
)

// IndicatorKind identifies a technical indicator family.
type IndicatorKind string

const (
	IndicatorKindSMA       IndicatorKind = "SMA"
	IndicatorKindEMA       IndicatorKind = "EMA"
	IndicatorKindRSI       IndicatorKind = "RSI"
	IndicatorKindMACD      IndicatorKind = "MACD"
	IndicatorKindBollinger IndicatorKind = "BB"
	IndicatorKindVWAP      IndicatorKind = "VWAP"
	IndicatorKindATR       IndicatorKind = "ATR"
)

// IndicatorSpec describes one indicator instance requested by a strategy.
// Period applies to SMA/EMA/RSI/BB/ATR; Fast/Slow/Signal apply to MACD;
// StdDevMultiplier applies to Bollinger Bands. VWAP takes no parameters.
type IndicatorSpec struct {
	Kind             IndicatorKind `yaml:"kind" json:"kind" validate:"required,oneof=SMA EMA RSI MACD BB VWAP ATR"`
	Period           int           `yaml:"period,omitempty" json:"period,omitempty" validate:"gte=0"`
	FastPeriod       int           `yaml:"fast_period,omitempty" json:"fast_period,omitempty" validate:"gte=0"`
	SlowPeriod       int           `yaml:"slow_period,omitempty" json:"slow_period,omitempty" validate:"gte=0"`
	SignalPeriod     int           `yaml:"signal_period,omitempty" json:"signal_period,omitempty" validate:"gte=0"`
	StdDevMultiplier float64       `yaml:"std_dev_multiplier,omitempty" json:"std_dev_multiplier,omitempty" validate:"gte=0"`
}

// ID returns the key under which this indicator's series are stored and
// referenced from condition expressions, e.g. "SMA_20" or "MACD_12_26_9".
func (s IndicatorSpec) ID() string {
	switch s.Kind {
	case IndicatorKindMACD:
		return fmt.Sprintf("%s_%d_%d_%d", s.Kind, s.FastPeriod, s.SlowPeriod, s.SignalPeriod)
	case IndicatorKindVWAP:
		return string(s.Kind)
	default:
		return fmt.Sprintf("%s_%d", s.Kind, s.Period)
	}
}

// PositionSide is the direction of a simulated position.
type PositionSide string

const (
	PositionSideLong  PositionSide = "LONG"
	PositionSideShort PositionSide = "SHORT"
)

// StrategyDefinition is the full declarative description of a trading
// strategy. It is immutable during a single backtest run; the optimizer
// clones it per candidate.
type StrategyDefinition struct {
	Name      string    `yaml:"name" json:"name"`
	Symbol    string    `yaml:"symbol" json:"symbol" validate:"required"`
	Timeframe Timeframe `yaml:"timeframe" json:"timeframe" validate:"required"`
	// Side defaults to LONG when empty.
	Side       PositionSide    `yaml:"side,omitempty" json:"side,omitempty" validate:"omitempty,oneof=LONG SHORT"`
	Indicators []IndicatorSpec `yaml:"indicators" json:"indicators" validate:"dive"`
	// EntryConditions must all hold for an entry signal (logical AND).
	EntryConditions []string `yaml:"entry_conditions" json:"entry_conditions"`
	// ExitConditions trigger an exit when any holds (logical OR).
	ExitConditions []string `yaml:"exit_conditions" json:"exit_conditions"`
	// PositionSizePercent caps the position notional as a percentage of balance.
	PositionSizePercent float64 `yaml:"position_size_percent" json:"position_size_percent" validate:"gt=0,lte=100"`

	StopLossPercent     optional.Option[float64] `yaml:"-" json:"stop_loss_percent,omitempty"`
	TakeProfitPercent   optional.Option[float64] `yaml:"-" json:"take_profit_percent,omitempty"`
	TrailingStopPercent optional.Option[float64] `yaml:"-" json:"trailing_stop_percent,omitempty"`
}

// UnmarshalYAML implements custom unmarshaling for StrategyDefinition,
// mapping absent stop/target fields to None.
func (s *StrategyDefinition) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type Definition struct {
		Name                string          `yaml:"name"`
		Symbol              string          `yaml:"symbol"`
		Timeframe           Timeframe       `yaml:"timeframe"`
		Side                PositionSide    `yaml:"side"`
		Indicators          []IndicatorSpec `yaml:"indicators"`
		EntryConditions     []string        `yaml:"entry_conditions"`
		ExitConditions      []string        `yaml:"exit_conditions"`
		PositionSizePercent float64         `yaml:"position_size_percent"`
		StopLossPercent     *float64        `yaml:"stop_loss_percent"`
		TakeProfitPercent   *float64        `yaml:"take_profit_percent"`
		TrailingStopPercent *float64        `yaml:"trailing_stop_percent"`
	}

	var def Definition
	if err := unmarshal(&def); err != nil {
		return err
	}

	s.Name = def.Name
	s.Symbol = def.Symbol
	s.Timeframe = def.Timeframe
	s.Side = def.Side
	s.Indicators = def.Indicators
	s.EntryConditions = def.EntryConditions
	s.ExitConditions = def.ExitConditions
	s.PositionSizePercent = def.PositionSizePercent

	if def.StopLossPercent != nil {
		s.StopLossPercent = optional.Some(*def.StopLossPercent)
	}

	if def.TakeProfitPercent != nil {
		s.TakeProfitPercent = optional.Some(*def.TakeProfitPercent)
	}

	if def.TrailingStopPercent != nil {
		s.TrailingStopPercent = optional.Some(*def.TrailingStopPercent)
	}

	return nil
}

// MarshalYAML mirrors UnmarshalYAML so definitions round-trip through YAML.
func (s StrategyDefinition) MarshalYAML() (interface{}, error) {
	out := map[string]interface{}{
		"name":                  s.Name,
		"symbol":                s.Symbol,
		"timeframe":             s.Timeframe,
		"indicators":            s.Indicators,
		"entry_conditions":      s.EntryConditions,
		"exit_conditions":       s.ExitConditions,
		"position_size_percent": s.PositionSizePercent,
	}

	if s.Side != "" {
		out["side"] = s.Side
	}

	if s.StopLossPercent.IsSome() {
		out["stop_loss_percent"] = s.StopLossPercent.Unwrap()
	}

	if s.TakeProfitPercent.IsSome() {
		out["take_profit_percent"] = s.TakeProfitPercent.Unwrap()
	}

	if s.TrailingStopPercent.IsSome() {
		out["trailing_stop_percent"] = s.TrailingStopPercent.Unwrap()
	}

	return out, nil
}

// EffectiveSide returns the configured side, defaulting to LONG.
func (s *StrategyDefinition) EffectiveSide() PositionSide {
	if s.Side == PositionSideShort {
		return PositionSideShort
	}

	return PositionSideLong
}

// Clone returns a deep copy of the definition. The optimizer mutates clones
// so the caller's definition stays untouched.
func (s *StrategyDefinition) Clone() *StrategyDefinition {
	clone := *s
	clone.Indicators = make([]IndicatorSpec, len(s.Indicators))
	copy(clone.Indicators, s.Indicators)
	clone.EntryConditions = make([]string, len(s.EntryConditions))
	copy(clone.EntryConditions, s.EntryConditions)
	clone.ExitConditions = make([]string, len(s.ExitConditions))
	copy(clone.ExitConditions, s.ExitConditions)

	return &clone
}

// Validate checks the structural contract of the definition. Condition
// expressions are validated separately when they are compiled at load time.
func (s *StrategyDefinition) Validate() error {
	validate := validator.New()
	if err := validate.Struct(s); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidStrategy, "invalid strategy definition", err)
	}

	if !s.Timeframe.Valid() {
		return errors.Newf(errors.ErrCodeInvalidTimeframe, "unsupported timeframe %q", string(s.Timeframe))
	}

	for _, spec := range s.Indicators {
		if err := validateIndicatorSpec(spec); err != nil {
			return err
		}
	}

	if pct, err := s.StopLossPercent.Take(); err == nil && pct <= 0 {
		return errors.New(errors.ErrCodeInvalidStrategy, "stop_loss_percent must be positive")
	}

	if pct, err := s.TakeProfitPercent.Take(); err == nil && pct <= 0 {
		return errors.New(errors.ErrCodeInvalidStrategy, "take_profit_percent must be positive")
	}

	if pct, err := s.TrailingStopPercent.Take(); err == nil && pct <= 0 {
		return errors.New(errors.ErrCodeInvalidStrategy, "trailing_stop_percent must be positive")
	}

	return nil
}

func validateIndicatorSpec(spec IndicatorSpec) error {
	switch spec.Kind {
	case IndicatorKindMACD:
		if spec.FastPeriod <= 0 || spec.SlowPeriod <= 0 || spec.SignalPeriod <= 0 {
			return errors.Newf(errors.ErrCodeInvalidPeriod,
				"MACD requires positive fast, slow and signal periods, got %d/%d/%d",
				spec.FastPeriod, spec.SlowPeriod, spec.SignalPeriod)
		}

		if spec.FastPeriod >= spec.SlowPeriod {
			return errors.Newf(errors.ErrCodeInvalidPeriod,
				"MACD fast period %d must be shorter than slow period %d", spec.FastPeriod, spec.SlowPeriod)
		}
	case IndicatorKindVWAP:
		// no parameters
	default:
		if spec.Period <= 0 {
			return errors.Newf(errors.ErrCodeInvalidPeriod,
				"%s requires a positive period, got %d", spec.Kind, spec.Period)
		}
	}

	if spec.Kind == IndicatorKindBollinger && spec.StdDevMultiplier <= 0 {
		return errors.New(errors.ErrCodeInvalidParameter, "BB requires a positive std_dev_multiplier")
	}

	return nil
}

// ParseIndicatorRef splits a condition operand like "SMA_20" or
// "MACD_12_26_9.signal" into the indicator id and an optional line suffix.
func ParseIndicatorRef(ref string) (id string, line string) {
	if idx := strings.IndexByte(ref, '.'); idx >= 0 {
		return ref[:idx], ref[idx+1:]
	}

	return ref, ""
}
