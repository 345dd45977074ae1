package optimizer

import (
	"strconv"
	"strings"

	"github.com/moznion/go-optional"

	"github.com/quantforge/backsim/internal/types"
	"github.com/quantforge/backsim/pkg/errors"
)

// Parameter names address strategy fields. Indicator parameters use the
// indicator's position in the strategy, e.g. "indicator.0.period" or
// "indicator.1.signal_period"; top-level fields are addressed directly as
// "stop_loss_percent", "take_profit_percent", "trailing_stop_percent" or
// "position_size_percent".
const indicatorParamPrefix = "indicator."

// ApplyParameters clones the strategy and overwrites the addressed fields
// with the candidate values. Condition expressions referencing an indicator
// whose identity changed (a new period changes its id) are rewritten to the
// new id, so "SMA_20 > SMA_50" follows its indicators through the search.
func ApplyParameters(strategy *types.StrategyDefinition, params types.ParameterSet) (*types.StrategyDefinition, error) {
	clone := strategy.Clone()
	renames := map[string]string{}

	for name, value := range params {
		if strings.HasPrefix(name, indicatorParamPrefix) {
			if err := applyIndicatorParameter(clone, name, value, renames); err != nil {
				return nil, err
			}

			continue
		}

		switch name {
		case "stop_loss_percent":
			clone.StopLossPercent = optional.Some(value)
		case "take_profit_percent":
			clone.TakeProfitPercent = optional.Some(value)
		case "trailing_stop_percent":
			clone.TrailingStopPercent = optional.Some(value)
		case "position_size_percent":
			clone.PositionSizePercent = value
		default:
			return nil, errors.Newf(errors.ErrCodeInvalidParameterRange,
				"parameter %q does not address any strategy field", name)
		}
	}

	clone.EntryConditions = rewriteConditions(clone.EntryConditions, renames)
	clone.ExitConditions = rewriteConditions(clone.ExitConditions, renames)

	return clone, nil
}

func applyIndicatorParameter(strategy *types.StrategyDefinition, name string, value float64, renames map[string]string) error {
	rest := strings.TrimPrefix(name, indicatorParamPrefix)

	idx := strings.IndexByte(rest, '.')
	if idx < 0 {
		return errors.Newf(errors.ErrCodeInvalidParameterRange,
			"parameter %q is missing an indicator field", name)
	}

	position, err := strconv.Atoi(rest[:idx])
	if err != nil || position < 0 || position >= len(strategy.Indicators) {
		return errors.Newf(errors.ErrCodeInvalidParameterRange,
			"parameter %q does not address an indicator of the strategy", name)
	}

	spec := strategy.Indicators[position]
	oldID := spec.ID()

	switch rest[idx+1:] {
	case "period":
		spec.Period = int(value)
	case "fast_period":
		spec.FastPeriod = int(value)
	case "slow_period":
		spec.SlowPeriod = int(value)
	case "signal_period":
		spec.SignalPeriod = int(value)
	case "std_dev_multiplier":
		spec.StdDevMultiplier = value
	default:
		return errors.Newf(errors.ErrCodeInvalidParameterRange,
			"parameter %q addresses unknown indicator field %q", name, rest[idx+1:])
	}

	strategy.Indicators[position] = spec

	if newID := spec.ID(); newID != oldID {
		renames[oldID] = newID
	}

	return nil
}

// rewriteConditions maps renamed indicator ids through every condition
// expression. Operands are compared by indicator id, so line suffixes like
// ".signal" survive the rename.
func rewriteConditions(conditions []string, renames map[string]string) []string {
	if len(renames) == 0 {
		return conditions
	}

	rewritten := make([]string, len(conditions))

	for i, expr := range conditions {
		tokens := strings.Fields(expr)
		for j, token := range tokens {
			id, line := types.ParseIndicatorRef(token)
			if newID, ok := renames[id]; ok {
				if line != "" {
					tokens[j] = newID + "." + line
				} else {
					tokens[j] = newID
				}
			}
		}

		rewritten[i] = strings.Join(tokens, " ")
	}

	return rewritten
}
