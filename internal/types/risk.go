package types

import (
	"github.com/go-playground/validator/v10"

	"github.com/quantforge/backsim/pkg/errors"
)

// RiskSettings are the account-level limits supplied by the caller and
// consumed read-only by the risk manager.
type RiskSettings struct {
	// RiskPerTradePercent is the balance fraction risked between entry and stop.
	RiskPerTradePercent float64 `yaml:"risk_per_trade_percent" json:"risk_per_trade_percent" validate:"gt=0,lte=100"`
	// MaxPositionPercent caps position notional as a percentage of balance.
	MaxPositionPercent float64 `yaml:"max_position_percent" json:"max_position_percent" validate:"gt=0,lte=100"`
	// MaxDailyLossPercent rejects new entries once the day's realized loss
	// exceeds this percentage of the starting balance.
	MaxDailyLossPercent float64 `yaml:"max_daily_loss_percent" json:"max_daily_loss_percent" validate:"gte=0,lte=100"`
	// MaxLeverage caps total exposure relative to balance.
	MaxLeverage float64 `yaml:"max_leverage" json:"max_leverage" validate:"gte=0"`
	// MaxConcurrentPositions caps simultaneously open positions.
	MaxConcurrentPositions int `yaml:"max_concurrent_positions" json:"max_concurrent_positions" validate:"gte=0"`
	// MaxDrawdownPercent rejects new entries once running drawdown exceeds this.
	MaxDrawdownPercent float64 `yaml:"max_drawdown_percent" json:"max_drawdown_percent" validate:"gte=0,lte=100"`
}

// DefaultRiskSettings are conservative account limits: 2% risk per trade,
// 10% position cap, 5% daily loss, 20% drawdown.
func DefaultRiskSettings() RiskSettings {
	return RiskSettings{
		RiskPerTradePercent:    2,
		MaxPositionPercent:     10,
		MaxDailyLossPercent:    5,
		MaxLeverage:            1,
		MaxConcurrentPositions: 1,
		MaxDrawdownPercent:     20,
	}
}

// Validate checks the settings contract.
func (r *RiskSettings) Validate() error {
	validate := validator.New()
	if err := validate.Struct(r); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidRiskSettings, "invalid risk settings", err)
	}

	return nil
}

// AccountState is the runner's view of the account consulted by limit checks.
type AccountState struct {
	Balance       float64
	DailyPnL      float64
	Drawdown      float64
	OpenPositions int
	TotalExposure float64
}

// CandidateOrder describes a prospective entry submitted to limit checks.
type CandidateOrder struct {
	Symbol   string
	Side     PositionSide
	Quantity float64
	Price    float64
}

// LimitCheckResult reports the outcome of risk validation. Any violated
// rule appends a human-readable reason and fails the order (fail-closed).
type LimitCheckResult struct {
	IsValid bool
	Reasons []string
}
