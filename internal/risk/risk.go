// Package risk sizes entries and enforces account-level limits. Sizing is
// loss-based when a stop price exists (risk a fixed balance fraction
// between entry and stop) and notional-based otherwise, with the notional
// always capped by both the strategy's position size and the account's
// maximum position percentage.
package risk

import (
	"fmt"
	"math"

	"github.com/moznion/go-optional"

	"github.com/quantforge/backsim/internal/types"
	"github.com/quantforge/backsim/pkg/errors"
)

// Manager applies one RiskSettings snapshot to sizing and limit checks.
type Manager struct {
	settings types.RiskSettings
}

// NewManager validates the settings once so every later call can assume
// they are consistent.
func NewManager(settings types.RiskSettings) (*Manager, error) {
	if err := settings.Validate(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidRiskSettings, "invalid risk settings", err)
	}

	return &Manager{settings: settings}, nil
}

// Settings returns the settings the manager was built with.
func (m *Manager) Settings() types.RiskSettings {
	return m.settings
}

// PositionSize computes the entry quantity for an order at entryPrice.
//
// With a stop price the quantity risks RiskPerTradePercent of the balance
// over the entry-to-stop distance. Without one the quantity targets the
// strategy's notional percentage directly. Either way the resulting
// notional never exceeds min(positionSizePercent, MaxPositionPercent) of
// the balance. A stop equal to the entry has zero risk distance and is
// rejected rather than sized to infinity.
func (m *Manager) PositionSize(balance, entryPrice, positionSizePercent float64, stopPrice optional.Option[float64]) (float64, error) {
	if balance <= 0 || entryPrice <= 0 {
		return 0, nil
	}

	capPercent := math.Min(positionSizePercent, m.settings.MaxPositionPercent)
	if capPercent <= 0 {
		return 0, nil
	}

	maxNotional := balance * capPercent / 100

	if stop, ok := stopPrice.Take(); ok == nil {
		distance := math.Abs(entryPrice - stop)
		if distance == 0 {
			return 0, errors.Newf(errors.ErrCodeZeroStopDistance,
				"stop price %.4f equals entry price, cannot size by risk", stop)
		}

		riskAmount := balance * m.settings.RiskPerTradePercent / 100
		quantity := riskAmount / distance

		if quantity*entryPrice > maxNotional {
			quantity = maxNotional / entryPrice
		}

		return quantity, nil
	}

	return maxNotional / entryPrice, nil
}

// CheckLimits validates a prospective entry against the current account
// state. Every violated rule contributes a reason; the order is valid only
// when no rule fails.
func (m *Manager) CheckLimits(account types.AccountState, order types.CandidateOrder) types.LimitCheckResult {
	result := types.LimitCheckResult{IsValid: true}

	reject := func(format string, args ...any) {
		result.IsValid = false
		result.Reasons = append(result.Reasons, fmt.Sprintf(format, args...))
	}

	notional := order.Quantity * order.Price

	if order.Quantity <= 0 {
		reject("order quantity %.6f is not positive", order.Quantity)
	}

	if account.Balance > 0 && notional > account.Balance*m.settings.MaxPositionPercent/100 {
		reject("position notional %.2f exceeds %.1f%% of balance %.2f",
			notional, m.settings.MaxPositionPercent, account.Balance)
	}

	if m.settings.MaxConcurrentPositions > 0 && account.OpenPositions >= m.settings.MaxConcurrentPositions {
		reject("open positions %d at concurrent limit %d",
			account.OpenPositions, m.settings.MaxConcurrentPositions)
	}

	if m.settings.MaxDailyLossPercent > 0 && account.Balance > 0 &&
		-account.DailyPnL >= account.Balance*m.settings.MaxDailyLossPercent/100 {
		reject("daily loss %.2f at limit %.1f%% of balance", -account.DailyPnL, m.settings.MaxDailyLossPercent)
	}

	if m.settings.MaxLeverage > 0 && account.Balance > 0 &&
		(account.TotalExposure+notional) > account.Balance*m.settings.MaxLeverage {
		reject("exposure %.2f would exceed leverage limit %.1fx",
			account.TotalExposure+notional, m.settings.MaxLeverage)
	}

	if m.settings.MaxDrawdownPercent > 0 && account.Drawdown*100 >= m.settings.MaxDrawdownPercent {
		reject("drawdown %.2f%% at limit %.1f%%", account.Drawdown*100, m.settings.MaxDrawdownPercent)
	}

	return result
}

// UpdateTrailingStop ratchets a trailing stop toward the current price.
// Long stops only move up, short stops only move down; the stop never
// loosens. The returned option is the new stop, or the existing one when
// no tightening applies.
func UpdateTrailingStop(side types.PositionSide, current optional.Option[float64], price, trailingPercent float64) optional.Option[float64] {
	if trailingPercent <= 0 || price <= 0 {
		return current
	}

	var candidate float64

	switch side {
	case types.PositionSideLong:
		candidate = price * (1 - trailingPercent/100)
	case types.PositionSideShort:
		candidate = price * (1 + trailingPercent/100)
	default:
		return current
	}

	existing, err := current.Take()
	if err != nil {
		return optional.Some(candidate)
	}

	switch side {
	case types.PositionSideLong:
		if candidate > existing {
			return optional.Some(candidate)
		}
	case types.PositionSideShort:
		if candidate < existing {
			return optional.Some(candidate)
		}
	}

	return current
}
