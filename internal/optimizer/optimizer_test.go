package optimizer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/quantforge/backsim/internal/backtest"
	"github.com/quantforge/backsim/internal/backtest/commission"
	"github.com/quantforge/backsim/internal/types"
	"github.com/quantforge/backsim/pkg/errors"
)

type OptimizerTestSuite struct {
	suite.Suite
}

func TestOptimizerSuite(t *testing.T) {
	suite.Run(t, new(OptimizerTestSuite))
}

func (s *OptimizerTestSuite) engineConfig() backtest.Config {
	config := backtest.DefaultConfig()
	config.Broker = commission.BrokerZero
	config.Risk = types.RiskSettings{
		RiskPerTradePercent: 2,
		MaxPositionPercent:  100,
		MaxLeverage:         2,
	}

	return config
}

func (s *OptimizerTestSuite) barsFromCloses(closes ...float64) []types.Bar {
	bars := make([]types.Bar, len(closes))
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	for i, close := range closes {
		bars[i] = types.Bar{
			Symbol: "TEST",
			Time:   start.AddDate(0, 0, i),
			Open:   close,
			High:   close,
			Low:    close,
			Close:  close,
			Volume: 1000,
		}
	}

	return bars
}

func (s *OptimizerTestSuite) strategy() *types.StrategyDefinition {
	return &types.StrategyDefinition{
		Name:                "opt",
		Symbol:              "TEST",
		Timeframe:           types.Timeframe1d,
		EntryConditions:     []string{"price >= 100"},
		ExitConditions:      []string{"price < 1"},
		PositionSizePercent: 10,
	}
}

func (s *OptimizerTestSuite) TestApplyParametersTopLevel() {
	strategy := s.strategy()

	applied, err := ApplyParameters(strategy, types.ParameterSet{
		"stop_loss_percent":     3,
		"position_size_percent": 40,
	})
	s.Require().NoError(err)

	s.Equal(40.0, applied.PositionSizePercent)
	s.Equal(3.0, applied.StopLossPercent.Unwrap())

	// The source strategy is untouched.
	s.Equal(10.0, strategy.PositionSizePercent)
	s.True(strategy.StopLossPercent.IsNone())
}

func (s *OptimizerTestSuite) TestApplyParametersRewritesConditionRefs() {
	strategy := s.strategy()
	strategy.Indicators = []types.IndicatorSpec{
		{Kind: types.IndicatorKindSMA, Period: 20},
		{Kind: types.IndicatorKindSMA, Period: 50},
	}
	strategy.EntryConditions = []string{"SMA_20 > SMA_50"}
	strategy.ExitConditions = []string{"SMA_20 < SMA_50"}

	applied, err := ApplyParameters(strategy, types.ParameterSet{
		"indicator.0.period": 10,
		"indicator.1.period": 30,
	})
	s.Require().NoError(err)

	s.Equal(10, applied.Indicators[0].Period)
	s.Equal(30, applied.Indicators[1].Period)
	s.Equal([]string{"SMA_10 > SMA_30"}, applied.EntryConditions)
	s.Equal([]string{"SMA_10 < SMA_30"}, applied.ExitConditions)
}

func (s *OptimizerTestSuite) TestApplyParametersRewritesLineSuffix() {
	strategy := s.strategy()
	strategy.Indicators = []types.IndicatorSpec{
		{Kind: types.IndicatorKindMACD, FastPeriod: 12, SlowPeriod: 26, SignalPeriod: 9},
	}
	strategy.EntryConditions = []string{"MACD_12_26_9 > MACD_12_26_9.signal"}

	applied, err := ApplyParameters(strategy, types.ParameterSet{
		"indicator.0.signal_period": 7,
	})
	s.Require().NoError(err)

	s.Equal([]string{"MACD_12_26_7 > MACD_12_26_7.signal"}, applied.EntryConditions)
}

func (s *OptimizerTestSuite) TestApplyParametersUnknownName() {
	_, err := ApplyParameters(s.strategy(), types.ParameterSet{"bogus": 1})
	s.Require().Error(err)
	s.True(errors.HasCode(err, errors.ErrCodeInvalidParameterRange))

	_, err = ApplyParameters(s.strategy(), types.ParameterSet{"indicator.5.period": 10})
	s.Require().Error(err)
	s.True(errors.HasCode(err, errors.ErrCodeInvalidParameterRange))
}

func (s *OptimizerTestSuite) optimizationConfig() types.OptimizationConfig {
	return types.OptimizationConfig{
		Parameters: []types.ParameterRange{
			{Name: "position_size_percent", Min: 10, Max: 100, Step: 10},
		},
		Metric:         types.FitnessMetricTotalReturn,
		PopulationSize: 20,
		Generations:    5,
		Workers:        2,
		Seed:           42,
	}
}

func (s *OptimizerTestSuite) TestOptimizeConvergesOnLargerPosition() {
	// Monotonic rally: total return grows linearly with position size, so
	// the search must rank larger sizes higher.
	bars := s.barsFromCloses(100, 102, 104, 106, 108, 110, 112, 114, 116, 118, 120)

	optimizer, err := New(s.engineConfig(), s.optimizationConfig(), nil)
	s.Require().NoError(err)

	results, err := optimizer.Optimize(context.Background(), s.strategy(), bars)
	s.Require().NoError(err)
	s.Require().NotEmpty(results)

	best := results[0]
	s.GreaterOrEqual(best.Parameters["position_size_percent"], 80.0)

	// Entered at 100 and force-closed at 120, a 20% move, so the return is
	// 0.2 times the allocated percentage.
	s.InDelta(best.Parameters["position_size_percent"]*0.2, best.Fitness, 1e-6)

	for i := 1; i < len(results); i++ {
		s.LessOrEqual(results[i].Fitness, results[i-1].Fitness, "results must be ordered best first")
	}
}

func (s *OptimizerTestSuite) TestOptimizeDeterministicWithSeed() {
	bars := s.barsFromCloses(100, 101, 99, 103, 105, 102, 108, 110, 107, 112)

	first, err := New(s.engineConfig(), s.optimizationConfig(), nil)
	s.Require().NoError(err)
	second, err := New(s.engineConfig(), s.optimizationConfig(), nil)
	s.Require().NoError(err)

	firstResults, err := first.Optimize(context.Background(), s.strategy(), bars)
	s.Require().NoError(err)
	secondResults, err := second.Optimize(context.Background(), s.strategy(), bars)
	s.Require().NoError(err)

	s.Require().Equal(len(firstResults), len(secondResults))
	for i := range firstResults {
		s.Equal(firstResults[i].Parameters, secondResults[i].Parameters)
		s.Equal(firstResults[i].Fitness, secondResults[i].Fitness)
	}
}

func (s *OptimizerTestSuite) TestOptimizeCancellation() {
	bars := s.barsFromCloses(100, 101, 102, 103, 104, 105)

	optimizer, err := New(s.engineConfig(), s.optimizationConfig(), nil)
	s.Require().NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = optimizer.Optimize(ctx, s.strategy(), bars)
	s.Require().Error(err)
	s.True(errors.HasCode(err, errors.ErrCodeOptimizationCancelled))
}

func (s *OptimizerTestSuite) TestOnGenerationCallback() {
	bars := s.barsFromCloses(100, 102, 104, 106, 108)

	optimizer, err := New(s.engineConfig(), s.optimizationConfig(), nil)
	s.Require().NoError(err)

	var generations []int
	optimizer.OnGeneration = func(generation int, best types.OptimizationResult) {
		generations = append(generations, generation)
	}

	_, err = optimizer.Optimize(context.Background(), s.strategy(), bars)
	s.Require().NoError(err)
	s.Equal([]int{1, 2, 3, 4, 5}, generations)
}

func (s *OptimizerTestSuite) TestInvalidCandidatesRankLast() {
	// MACD fast period range overlapping the slow period makes some
	// candidates structurally invalid; they must sink, not abort the run.
	strategy := s.strategy()
	strategy.Indicators = []types.IndicatorSpec{
		{Kind: types.IndicatorKindMACD, FastPeriod: 12, SlowPeriod: 26, SignalPeriod: 9},
	}
	strategy.EntryConditions = []string{"MACD_12_26_9 > MACD_12_26_9.signal"}

	config := s.optimizationConfig()
	config.Parameters = []types.ParameterRange{
		{Name: "indicator.0.fast_period", Min: 20, Max: 32, Step: 4},
	}
	config.Generations = 2

	optimizer, err := New(s.engineConfig(), config, nil)
	s.Require().NoError(err)

	bars := s.barsFromCloses(
		100, 101, 102, 103, 104, 105, 106, 107, 108, 109,
		110, 111, 112, 113, 114, 115, 116, 117, 118, 119,
		120, 121, 122, 123, 124, 125, 126, 127, 128, 129,
		130, 131, 132, 133, 134, 135, 136, 137, 138, 139,
	)

	results, err := optimizer.Optimize(context.Background(), strategy, bars)
	s.Require().NoError(err)
	s.Require().NotEmpty(results)

	for i := 1; i < len(results); i++ {
		s.LessOrEqual(results[i].Fitness, results[i-1].Fitness)
	}
}

func (s *OptimizerTestSuite) TestOptimizeStrategyConvenience() {
	bars := s.barsFromCloses(100, 102, 104, 106, 108, 110, 112, 114, 116, 118, 120)

	results, err := OptimizeStrategy(context.Background(), s.strategy(), bars, s.optimizationConfig())
	s.Require().NoError(err)
	s.Require().NotEmpty(results)

	// The default risk settings cap the notional at 10% regardless of the
	// candidate's position size, so every candidate rides the 20% rally with
	// a tenth of the account.
	s.InDelta(2.0, results[0].Fitness, 1e-6)
}
