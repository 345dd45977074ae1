package types

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// BacktestResult is the immutable output of one backtest run.
type BacktestResult struct {
	// ID is the unique identifier for this backtest run.
	ID string `yaml:"id" json:"id"`
	// StrategyName identifies the strategy definition that produced the run.
	StrategyName string    `yaml:"strategy_name" json:"strategy_name"`
	Symbol       string    `yaml:"symbol" json:"symbol"`
	Timeframe    Timeframe `yaml:"timeframe" json:"timeframe"`
	StartTime    time.Time `yaml:"start_time" json:"start_time"`
	EndTime      time.Time `yaml:"end_time" json:"end_time"`

	InitialBalance float64 `yaml:"initial_balance" json:"initial_balance"`
	FinalBalance   float64 `yaml:"final_balance" json:"final_balance"`

	// TotalTrades counts completed round trips, not individual fills.
	TotalTrades   int `yaml:"total_trades" json:"total_trades"`
	WinningTrades int `yaml:"winning_trades" json:"winning_trades"`
	LosingTrades  int `yaml:"losing_trades" json:"losing_trades"`

	WinRate      float64 `yaml:"win_rate" json:"win_rate"`
	ProfitFactor float64 `yaml:"profit_factor" json:"profit_factor"`
	SharpeRatio  float64 `yaml:"sharpe_ratio" json:"sharpe_ratio"`
	// MaxDrawdown is the worst peak-to-trough equity decline in percent, 0-100.
	MaxDrawdown float64 `yaml:"max_drawdown" json:"max_drawdown"`
	// TotalReturn is (final - initial) / initial in percent.
	TotalReturn      float64 `yaml:"total_return" json:"total_return"`
	AnnualizedReturn float64 `yaml:"annualized_return" json:"annualized_return"`

	AverageWin           float64 `yaml:"average_win" json:"average_win"`
	AverageLoss          float64 `yaml:"average_loss" json:"average_loss"`
	LargestWin           float64 `yaml:"largest_win" json:"largest_win"`
	LargestLoss          float64 `yaml:"largest_loss" json:"largest_loss"`
	MaxConsecutiveWins   int     `yaml:"max_consecutive_wins" json:"max_consecutive_wins"`
	MaxConsecutiveLosses int     `yaml:"max_consecutive_losses" json:"max_consecutive_losses"`

	TotalFees float64 `yaml:"total_fees" json:"total_fees"`

	// Trades is the ordered fill list, alternating entry and exit.
	Trades []SimulatedTrade `yaml:"trades" json:"trades"`
	// EquityCurve has one seed point plus one point per processed bar.
	EquityCurve []EquityPoint `yaml:"equity_curve" json:"equity_curve"`
}

// WriteBacktestResult serializes the result to a YAML file.
func WriteBacktestResult(path string, result BacktestResult) error {
	data, err := yaml.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal backtest result to YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write backtest result to file: %w", err)
	}

	return nil
}
