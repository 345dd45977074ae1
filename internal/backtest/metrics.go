package backtest

import (
	"math"

	"github.com/quantforge/backsim/internal/types"
)

// ComputeMetrics fills the performance fields of a result from its trades
// and equity curve. A run with no completed round trips yields zeroed trade
// statistics rather than an error.
func ComputeMetrics(result *types.BacktestResult) error {
	annualization, err := result.Timeframe.AnnualizationFactor()
	if err != nil {
		return err
	}
	return computeMetrics(result, annualization)
}

// ComputeMetricsWithAnnualization is ComputeMetrics with an explicit bars-per-year
// factor instead of the one derived from the result's timeframe.
func ComputeMetricsWithAnnualization(result *types.BacktestResult, annualization float64) error {
	return computeMetrics(result, annualization)
}

func computeMetrics(result *types.BacktestResult, annualization float64) error {
	roundTrips := types.PairRoundTrips(result.Trades)
	fillTradeStats(result, roundTrips)

	if result.InitialBalance > 0 {
		result.TotalReturn = (result.FinalBalance - result.InitialBalance) / result.InitialBalance * 100
	}

	result.SharpeRatio = sharpeRatio(result.EquityCurve, annualization)
	result.MaxDrawdown = maxDrawdown(result.EquityCurve)
	result.AnnualizedReturn = annualizedReturn(result, annualization)

	return nil
}

func fillTradeStats(result *types.BacktestResult, roundTrips []types.RoundTrip) {
	result.TotalTrades = len(roundTrips)

	var (
		grossProfit, grossLoss float64
		sumWins, sumLosses     float64
		winStreak, lossStreak  int
	)

	for _, roundTrip := range roundTrips {
		switch {
		case roundTrip.PnL > 0:
			result.WinningTrades++
			grossProfit += roundTrip.PnL
			sumWins += roundTrip.PnL
			winStreak++
			lossStreak = 0

			if roundTrip.PnL > result.LargestWin {
				result.LargestWin = roundTrip.PnL
			}
			if winStreak > result.MaxConsecutiveWins {
				result.MaxConsecutiveWins = winStreak
			}
		case roundTrip.PnL < 0:
			result.LosingTrades++
			grossLoss += -roundTrip.PnL
			sumLosses += roundTrip.PnL
			lossStreak++
			winStreak = 0

			if roundTrip.PnL < result.LargestLoss {
				result.LargestLoss = roundTrip.PnL
			}
			if lossStreak > result.MaxConsecutiveLosses {
				result.MaxConsecutiveLosses = lossStreak
			}
		default:
			// flat round trips break both streaks
			winStreak = 0
			lossStreak = 0
		}
	}

	if result.TotalTrades > 0 {
		result.WinRate = float64(result.WinningTrades) / float64(result.TotalTrades) * 100
	}

	if result.WinningTrades > 0 {
		result.AverageWin = sumWins / float64(result.WinningTrades)
	}

	if result.LosingTrades > 0 {
		result.AverageLoss = sumLosses / float64(result.LosingTrades)
	}

	switch {
	case grossLoss > 0:
		result.ProfitFactor = grossProfit / grossLoss
	case grossProfit > 0:
		// No losing trades: report the gross profit itself, uncapped.
		result.ProfitFactor = grossProfit
	}
}

// sharpeRatio computes mean/stddev of per-bar equity returns scaled by the
// square root of the bars-per-year factor. A flat curve has no volatility
// and scores zero.
func sharpeRatio(curve []types.EquityPoint, annualization float64) float64 {
	if len(curve) < 3 {
		return 0
	}

	returns := make([]float64, 0, len(curve)-1)

	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev <= 0 {
			return 0
		}

		returns = append(returns, (curve[i].Equity-prev)/prev)
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))

	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}

	return mean / std * math.Sqrt(annualization)
}

func maxDrawdown(curve []types.EquityPoint) float64 {
	var worst float64
	for _, point := range curve {
		if point.Drawdown > worst {
			worst = point.Drawdown
		}
	}

	return worst
}

func annualizedReturn(result *types.BacktestResult, annualization float64) float64 {
	if result.InitialBalance <= 0 || len(result.EquityCurve) < 2 {
		return 0
	}

	if result.FinalBalance <= 0 {
		return -100
	}

	bars := float64(len(result.EquityCurve) - 1)
	growth := result.FinalBalance / result.InitialBalance

	return (math.Pow(growth, annualization/bars) - 1) * 100
}
