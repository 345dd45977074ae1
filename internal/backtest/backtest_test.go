package backtest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/suite"

	"github.com/quantforge/backsim/internal/backtest/commission"
	"github.com/quantforge/backsim/internal/types"
	"github.com/quantforge/backsim/pkg/errors"
)

type BacktestTestSuite struct {
	suite.Suite
}

func TestBacktestSuite(t *testing.T) {
	suite.Run(t, new(BacktestTestSuite))
}

func (s *BacktestTestSuite) config() Config {
	config := DefaultConfig()
	config.Broker = commission.BrokerZero
	config.Risk = types.RiskSettings{
		RiskPerTradePercent: 2,
		MaxPositionPercent:  100,
		MaxLeverage:         2,
	}

	return config
}

func (s *BacktestTestSuite) barsFromCloses(closes ...float64) []types.Bar {
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

func (s *BacktestTestSuite) strategy() *types.StrategyDefinition {
	return &types.StrategyDefinition{
		Name:      "test",
		Symbol:    "TEST",
		Timeframe: types.Timeframe1d,
		Indicators: []types.IndicatorSpec{
			{Kind: types.IndicatorKindSMA, Period: 2},
			{Kind: types.IndicatorKindSMA, Period: 5},
		},
		EntryConditions:     []string{"SMA_2 > SMA_5"},
		ExitConditions:      []string{"SMA_2 < SMA_5"},
		PositionSizePercent: 50,
	}
}

func (s *BacktestTestSuite) run(strategy *types.StrategyDefinition, bars []types.Bar) *types.BacktestResult {
	engine, err := NewEngine(s.config(), nil)
	s.Require().NoError(err)

	result, err := engine.RunBacktest(strategy, bars)
	s.Require().NoError(err)

	return result
}

func (s *BacktestTestSuite) TestSMACrossoverRoundTrip() {
	// Ramp up to force the fast average over the slow one, then collapse.
	closes := []float64{
		100, 100, 100, 100, 100,
		101, 103, 105, 107, 109,
		111, 113, 115, 117, 119,
		115, 110, 105, 100, 95,
		90, 88, 86, 84, 82,
		82, 82, 82, 82, 82,
	}
	bars := s.barsFromCloses(closes...)

	result := s.run(s.strategy(), bars)

	s.Require().NotEmpty(result.Trades)
	s.Equal(0, len(result.Trades)%2, "fills must pair into round trips")
	s.Equal(len(result.Trades)/2, result.TotalTrades)

	// The slow average needs 5 bars, so nothing can fire before index 4.
	s.False(result.Trades[0].Timestamp.Before(bars[4].Time))

	for i, trade := range result.Trades {
		if i%2 == 0 {
			s.Equal(types.PurchaseTypeBuy, trade.Side)
		} else {
			s.Equal(types.PurchaseTypeSell, trade.Side)
		}
	}
}

func (s *BacktestTestSuite) TestLinearRallySingleEntryForcedClose() {
	// 30 daily bars rising 100..129: price crosses over its 10-bar average
	// as soon as that average exists and never crosses back, so the run is
	// one entry plus the forced close at the last bar.
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	bars := s.barsFromCloses(closes...)

	strategy := s.strategy()
	strategy.Indicators = []types.IndicatorSpec{{Kind: types.IndicatorKindSMA, Period: 10}}
	strategy.EntryConditions = []string{"price > SMA_10"}
	strategy.ExitConditions = []string{"price < SMA_10"}
	strategy.PositionSizePercent = 10

	result := s.run(strategy, bars)

	s.Require().Len(result.Trades, 2)
	s.Equal(bars[9].Time, result.Trades[0].Timestamp)
	s.Equal(109.0, result.Trades[0].Price)
	s.Equal(types.TradeReasonEndOfData, result.Trades[1].Reason)
	s.Equal(129.0, result.Trades[1].Price)
	s.Greater(result.FinalBalance, result.InitialBalance)
}

func (s *BacktestTestSuite) TestNoReentryOnExitBar() {
	strategy := s.strategy()
	strategy.Indicators = nil
	strategy.EntryConditions = []string{"price > 1"}
	strategy.ExitConditions = []string{"price < 1"}
	strategy.StopLossPercent = optional.Some(2.0)

	bars := s.barsFromCloses(100, 100, 100)
	bars[1].Low = 97

	result := s.run(strategy, bars)

	// Stop fires on the second bar; the always-true entry signal must wait
	// for the third bar, which then force-closes at the end.
	s.Require().Len(result.Trades, 4)
	s.Equal(types.TradeReasonStopLoss, result.Trades[1].Reason)
	s.Equal(bars[1].Time, result.Trades[1].Timestamp)
	s.Equal(bars[2].Time, result.Trades[2].Timestamp)
	s.Equal(types.TradeReasonEndOfData, result.Trades[3].Reason)
}

func (s *BacktestTestSuite) TestStopLossExitsIntrabar() {
	strategy := s.strategy()
	strategy.Indicators = nil
	strategy.EntryConditions = []string{"price >= 100"}
	strategy.ExitConditions = []string{"price < 1"}
	strategy.StopLossPercent = optional.Some(2.0)

	bars := s.barsFromCloses(100, 99, 99)
	// The second bar trades through the stop without closing there.
	bars[1].Low = 97
	bars[1].High = 100

	result := s.run(strategy, bars)

	s.Require().Len(result.Trades, 2)
	s.Equal(types.TradeReasonStopLoss, result.Trades[1].Reason)
	s.Equal(98.0, result.Trades[1].Price, "stop fills at the stop price, not the bar close")

	// 2% risk of 10000 over the 2.00 stop distance sizes 100 units, then
	// the 50% notional cap trims it to 50.
	s.InDelta(50.0, result.Trades[0].Quantity, 1e-9)
	s.InDelta(9900.0, result.FinalBalance, 1e-9)
}

func (s *BacktestTestSuite) TestTakeProfitExitsIntrabar() {
	strategy := s.strategy()
	strategy.Indicators = nil
	strategy.EntryConditions = []string{"price == 100"}
	strategy.ExitConditions = []string{"price < 1"}
	strategy.TakeProfitPercent = optional.Some(5.0)

	bars := s.barsFromCloses(100, 104, 104)
	bars[1].High = 106

	result := s.run(strategy, bars)

	s.Require().Len(result.Trades, 2)
	s.Equal(types.TradeReasonTakeProfit, result.Trades[1].Reason)
	s.Equal(105.0, result.Trades[1].Price)
}

func (s *BacktestTestSuite) TestTrailingStopRatchetsThenExits() {
	strategy := s.strategy()
	strategy.Indicators = nil
	strategy.EntryConditions = []string{"price == 100"}
	strategy.ExitConditions = []string{"price < 1"}
	strategy.TrailingStopPercent = optional.Some(5.0)

	bars := s.barsFromCloses(100, 110, 108)
	bars[1].Low = 109
	// 5% behind the 110 close puts the stop at 104.5.
	bars[2].Low = 104

	result := s.run(strategy, bars)

	s.Require().Len(result.Trades, 2)
	s.Equal(types.TradeReasonTrailingStop, result.Trades[1].Reason)
	s.InDelta(104.5, result.Trades[1].Price, 1e-9)
}

func (s *BacktestTestSuite) TestForcedCloseAtEndOfData() {
	strategy := s.strategy()
	strategy.Indicators = nil
	strategy.EntryConditions = []string{"price >= 100"}
	strategy.ExitConditions = []string{"price < 1"}

	bars := s.barsFromCloses(100, 102, 104)
	result := s.run(strategy, bars)

	s.Require().Len(result.Trades, 2)
	s.Equal(types.TradeReasonEndOfData, result.Trades[1].Reason)
	s.Equal(bars[2].Time, result.Trades[1].Timestamp)
	s.Equal(104.0, result.Trades[1].Price)
}

func (s *BacktestTestSuite) TestNoEntryConditionsNeverEnters() {
	strategy := s.strategy()
	strategy.Indicators = nil
	strategy.EntryConditions = nil
	strategy.ExitConditions = []string{"price < 1"}

	result := s.run(strategy, s.barsFromCloses(100, 101, 102, 103))

	s.Empty(result.Trades)
	s.Zero(result.TotalTrades)
	s.Equal(result.InitialBalance, result.FinalBalance)
}

func (s *BacktestTestSuite) TestShortSide() {
	strategy := s.strategy()
	strategy.Indicators = nil
	strategy.Side = types.PositionSideShort
	strategy.EntryConditions = []string{"price >= 100"}
	strategy.ExitConditions = []string{"price < 95"}

	bars := s.barsFromCloses(100, 90, 90)
	result := s.run(strategy, bars)

	s.Require().Len(result.Trades, 2)
	s.Equal(types.PurchaseTypeSell, result.Trades[0].Side)
	s.Equal(types.PurchaseTypeBuy, result.Trades[1].Side)

	// 50% notional of 10000 at 100 shorts 50 units; covering at 90 banks
	// 50 * 10 = 500.
	s.InDelta(10500.0, result.FinalBalance, 1e-9)
}

func (s *BacktestTestSuite) TestEquityCurveShapeAndConservation() {
	bars := s.barsFromCloses(100, 100, 100, 100, 100, 101, 103, 105, 103, 100, 97, 95)
	result := s.run(s.strategy(), bars)

	s.Len(result.EquityCurve, len(bars)+1, "seed point plus one per bar")
	s.Equal(result.InitialBalance, result.EquityCurve[0].Equity)

	final := result.EquityCurve[len(result.EquityCurve)-1]
	s.InDelta(result.FinalBalance, final.Equity, 1e-9)

	var pnl float64
	for _, roundTrip := range types.PairRoundTrips(result.Trades) {
		pnl += roundTrip.PnL
	}
	s.InDelta(result.InitialBalance+pnl, result.FinalBalance, 1e-6)
}

func (s *BacktestTestSuite) TestDeterminism() {
	closes := []float64{
		100, 100, 100, 100, 100, 102, 104, 106, 104, 101, 98, 96, 99, 103, 107, 104, 100,
	}
	bars := s.barsFromCloses(closes...)

	first := s.run(s.strategy(), bars)
	second := s.run(s.strategy(), bars)

	s.Equal(len(first.Trades), len(second.Trades))
	for i := range first.Trades {
		s.Equal(first.Trades[i].Price, second.Trades[i].Price)
		s.Equal(first.Trades[i].Quantity, second.Trades[i].Quantity)
		s.Equal(first.Trades[i].Timestamp, second.Trades[i].Timestamp)
	}

	s.Equal(first.FinalBalance, second.FinalBalance)
	s.Equal(first.SharpeRatio, second.SharpeRatio)
	s.Equal(first.EquityCurve, second.EquityCurve)
}

func (s *BacktestTestSuite) TestCommissionReducesBalance() {
	config := s.config()
	config.Broker = commission.BrokerPercentage

	strategy := s.strategy()
	strategy.Indicators = nil
	strategy.EntryConditions = []string{"price >= 100"}
	strategy.ExitConditions = []string{"price < 1"}

	engine, err := NewEngine(config, nil)
	s.Require().NoError(err)

	result, err := engine.RunBacktest(strategy, s.barsFromCloses(100, 100, 100))
	s.Require().NoError(err)

	s.Require().Len(result.Trades, 2)
	s.Greater(result.TotalFees, 0.0)
	s.InDelta(result.InitialBalance-result.TotalFees, result.FinalBalance, 1e-9)
}

func (s *BacktestTestSuite) TestTimeWindowClipsBars() {
	bars := s.barsFromCloses(100, 100, 100, 100, 100, 100)

	config := s.config()
	config.StartTime = optional.Some(bars[2].Time)
	config.EndTime = optional.Some(bars[4].Time)

	strategy := s.strategy()
	strategy.Indicators = nil
	strategy.EntryConditions = nil
	strategy.ExitConditions = []string{"price < 1"}

	engine, err := NewEngine(config, nil)
	s.Require().NoError(err)

	result, err := engine.RunBacktest(strategy, bars)
	s.Require().NoError(err)

	s.Equal(bars[2].Time, result.StartTime)
	s.Equal(bars[4].Time, result.EndTime)
	s.Len(result.EquityCurve, 4)
}

func (s *BacktestTestSuite) TestUnknownIndicatorRefRejected() {
	strategy := s.strategy()
	strategy.EntryConditions = []string{"SMA_99 > SMA_5"}

	engine, err := NewEngine(s.config(), nil)
	s.Require().NoError(err)

	_, err = engine.RunBacktest(strategy, s.barsFromCloses(100, 100, 100, 100, 100, 100))
	s.Require().Error(err)
	s.True(errors.HasCode(err, errors.ErrCodeUnknownIndicatorRef))
}

func (s *BacktestTestSuite) TestUnorderedBarsRejected() {
	bars := s.barsFromCloses(100, 101, 102)
	bars[1].Time = bars[2].Time.AddDate(0, 0, 1)

	engine, err := NewEngine(s.config(), nil)
	s.Require().NoError(err)

	_, err = engine.RunBacktest(s.strategy(), bars)
	s.Require().Error(err)
	s.True(errors.HasCode(err, errors.ErrCodeUnorderedBars))
}

func (s *BacktestTestSuite) TestConfigSchemaGeneration() {
	config := DefaultConfig()

	schemaJSON, err := config.GenerateSchemaJSON()
	s.Require().NoError(err)
	s.Contains(schemaJSON, "initial_capital")
	s.Contains(schemaJSON, "broker")
}

func (s *BacktestTestSuite) TestInvalidConfigRejected() {
	config := DefaultConfig()
	config.InitialCapital = 0

	_, err := NewEngine(config, nil)
	s.Require().Error(err)
	s.True(errors.HasCode(err, errors.ErrCodeBacktestConfigError))
}

func (s *BacktestTestSuite) TestRunBacktestConvenience() {
	closes := []float64{
		100, 100, 100, 100, 100,
		101, 103, 105, 107, 109,
		111, 113, 115, 117, 119,
	}

	result, err := RunBacktest(s.strategy(), s.barsFromCloses(closes...), 5000)
	s.Require().NoError(err)

	s.InDelta(5000.0, result.InitialBalance, 1e-9)
	s.NotEmpty(result.Trades)
}

func (s *BacktestTestSuite) TestAnnualizationOverride() {
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	bars := s.barsFromCloses(closes...)

	strategy := s.strategy()
	strategy.Indicators = []types.IndicatorSpec{{Kind: types.IndicatorKindSMA, Period: 5}}
	strategy.EntryConditions = []string{"close > SMA_5"}
	strategy.ExitConditions = nil

	base := s.run(strategy, bars)
	s.Require().Greater(base.SharpeRatio, 0.0)

	// Quadrupling the bars-per-year factor doubles the Sharpe ratio since it
	// only enters through a square root.
	config := s.config()
	config.AnnualizationFactor = 4 * 252

	engine, err := NewEngine(config, nil)
	s.Require().NoError(err)

	overridden, err := engine.RunBacktest(strategy, bars)
	s.Require().NoError(err)
	s.InDelta(2*base.SharpeRatio, overridden.SharpeRatio, 1e-9)
}

func (s *BacktestTestSuite) TestLoadConfigFromYAML() {
	path := filepath.Join(s.T().TempDir(), "config.yaml")
	content := `initial_capital: 25000
broker: percentage
annualization_factor: 365
risk:
  risk_per_trade_percent: 1
  max_position_percent: 20
  max_leverage: 1
start_time: 2024-01-02T00:00:00Z
`
	s.Require().NoError(os.WriteFile(path, []byte(content), 0o644))

	config, err := LoadConfig(path)
	s.Require().NoError(err)

	s.InDelta(25000.0, config.InitialCapital, 1e-9)
	s.Equal(commission.BrokerPercentage, config.Broker)
	s.InDelta(365.0, config.AnnualizationFactor, 1e-9)
	s.InDelta(1.0, config.Risk.RiskPerTradePercent, 1e-9)
	s.True(config.StartTime.IsSome())
	s.True(config.EndTime.IsNone())
}

func (s *BacktestTestSuite) TestLoadConfigDefaultsRisk() {
	path := filepath.Join(s.T().TempDir(), "config.yaml")
	s.Require().NoError(os.WriteFile(path, []byte("initial_capital: 1000\n"), 0o644))

	config, err := LoadConfig(path)
	s.Require().NoError(err)
	s.Equal(types.DefaultRiskSettings(), config.Risk)
}

func (s *BacktestTestSuite) TestDrawdownBoundedOnUnstoppedShort() {
	strategy := s.strategy()
	strategy.Indicators = nil
	strategy.Side = types.PositionSideShort
	strategy.EntryConditions = []string{"price >= 100"}
	strategy.ExitConditions = nil
	strategy.PositionSizePercent = 100

	// Shorting 100 units at 100 and covering at 500 wipes the account out.
	// The equity curve floors at zero so drawdown keeps its 0-100 bound.
	result := s.run(strategy, s.barsFromCloses(100, 150, 250, 400, 500))

	s.InDelta(-30000.0, result.FinalBalance, 1e-9)
	s.InDelta(100.0, result.MaxDrawdown, 1e-9)

	for _, point := range result.EquityCurve {
		s.GreaterOrEqual(point.Equity, 0.0)
		s.GreaterOrEqual(point.Drawdown, 0.0)
		s.LessOrEqual(point.Drawdown, 100.0)
	}
}

func (s *BacktestTestSuite) TestDailyLossLimitCountsBothLegsFees() {
	start := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	closes := []float64{100, 98, 98, 98}
	bars := make([]types.Bar, len(closes))
	for i, close := range closes {
		bars[i] = types.Bar{
			Symbol: "TEST",
			Time:   start.Add(time.Duration(i) * time.Hour),
			Open:   close,
			High:   close,
			Low:    close,
			Close:  close,
			Volume: 1000,
		}
	}

	strategy := s.strategy()
	strategy.Timeframe = types.Timeframe1h
	strategy.Indicators = nil
	strategy.EntryConditions = []string{"price >= 1"}
	strategy.ExitConditions = nil
	strategy.PositionSizePercent = 100
	strategy.StopLossPercent = optional.Some(2.0)

	config := s.config()
	config.Broker = commission.BrokerPercentage
	config.Risk.MaxDailyLossPercent = 2.2

	engine, err := NewEngine(config, nil)
	s.Require().NoError(err)

	result, err := engine.RunBacktest(strategy, bars)
	s.Require().NoError(err)

	// The stopped trade loses 200 plus 19.80 in fees across both legs,
	// 2.25% of the remaining balance. Counting the entry leg's fee in the
	// day's realized loss pushes it past the 2.2% limit, so the always-true
	// entry signal cannot re-enter for the rest of the day.
	s.Require().Len(result.Trades, 2)
	s.Equal(types.TradeReasonStopLoss, result.Trades[1].Reason)
	s.InDelta(9780.2, result.FinalBalance, 1e-6)
}

func (s *BacktestTestSuite) TestStopReasonDistinguishesRatchetFromFixed() {
	strategy := s.strategy()
	strategy.Indicators = nil
	strategy.EntryConditions = []string{"price >= 100"}
	strategy.ExitConditions = nil
	strategy.StopLossPercent = optional.Some(2.0)
	strategy.TrailingStopPercent = optional.Some(2.0)

	// Price never rises, so the stop is still the fixed one when it fires.
	fixed := s.run(strategy, s.barsFromCloses(100, 97, 97))
	s.Require().GreaterOrEqual(len(fixed.Trades), 2)
	s.Equal(types.TradeReasonStopLoss, fixed.Trades[1].Reason)
	s.InDelta(98.0, fixed.Trades[1].Price, 1e-9)

	// A rally to 105 ratchets the stop up to 102.9 before the pullback hits
	// it, so the same level now reports as a trailing stop.
	trailed := s.run(strategy, s.barsFromCloses(100, 105, 101, 101))
	s.Require().GreaterOrEqual(len(trailed.Trades), 2)
	s.Equal(types.TradeReasonTrailingStop, trailed.Trades[1].Reason)
	s.InDelta(102.9, trailed.Trades[1].Price, 1e-9)
}
