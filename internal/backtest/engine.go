// Package backtest simulates a declarative strategy over a historical bar
// series and reports trade-level and portfolio-level performance. Runs are
// deterministic: the same strategy, config and bars always produce the
// same trades and metrics.
package backtest

import (
	"go.uber.org/zap"

	"github.com/quantforge/backsim/internal/logger"
	"github.com/quantforge/backsim/internal/types"
)

// RunBacktest is the convenience entry point: default settings, the given
// starting balance, no journal.
func RunBacktest(strategy *types.StrategyDefinition, bars []types.Bar, initialBalance float64) (*types.BacktestResult, error) {
	config := DefaultConfig()
	config.InitialCapital = initialBalance

	engine, err := NewEngine(config, nil)
	if err != nil {
		return nil, err
	}

	return engine.RunBacktest(strategy, bars)
}

// Engine binds one config to many strategy runs.
type Engine struct {
	config Config
	logger *logger.Logger
	sink   TradeSink
}

// NewEngine validates the config and returns an engine.
func NewEngine(config Config, log *logger.Logger) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Engine{config: config, logger: log}, nil
}

// Config returns the engine's config.
func (e *Engine) Config() Config {
	return e.config
}

// SetTradeSink attaches a sink receiving every fill of every run.
func (e *Engine) SetTradeSink(sink TradeSink) {
	e.sink = sink
}

// RunBacktest executes one strategy over the bars and returns the result.
func (e *Engine) RunBacktest(strategy *types.StrategyDefinition, bars []types.Bar) (*types.BacktestResult, error) {
	runner, err := NewRunner(strategy, e.config, e.logger)
	if err != nil {
		return nil, err
	}

	if e.sink != nil {
		runner.SetTradeSink(e.sink)
	}

	result, err := runner.Run(bars)
	if err != nil {
		return nil, err
	}

	e.logger.Info("backtest completed",
		zap.String("strategy", strategy.Name),
		zap.String("symbol", strategy.Symbol),
		zap.Int("trades", result.TotalTrades),
		zap.Float64("total_return", result.TotalReturn),
		zap.Float64("sharpe", result.SharpeRatio))

	return result, nil
}
