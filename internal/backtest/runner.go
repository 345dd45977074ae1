package backtest

import (
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantforge/backsim/internal/backtest/commission"
	"github.com/quantforge/backsim/internal/condition"
	"github.com/quantforge/backsim/internal/indicator"
	"github.com/quantforge/backsim/internal/logger"
	"github.com/quantforge/backsim/internal/risk"
	"github.com/quantforge/backsim/internal/types"
	"github.com/quantforge/backsim/pkg/errors"
)

// TradeSink receives every fill as it happens. The trade journal implements
// it; runs without one pass nil.
type TradeSink interface {
	RecordTrade(trade types.SimulatedTrade) error
}

// Runner executes one strategy over one bar series. It owns no shared
// state, so distinct runners are safe to drive concurrently.
type Runner struct {
	strategy *types.StrategyDefinition
	config   Config
	fee      commission.CommissionFee
	riskMgr  *risk.Manager
	logger   *logger.Logger
	sink     TradeSink
}

// NewRunner validates the strategy and config and builds a runner.
func NewRunner(strategy *types.StrategyDefinition, config Config, log *logger.Logger) (*Runner, error) {
	if err := strategy.Validate(); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	riskMgr, err := risk.NewManager(config.Risk)
	if err != nil {
		return nil, err
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	if len(strategy.EntryConditions) == 0 {
		log.Warn("strategy has no entry conditions and will never open a position",
			zap.String("strategy", strategy.Name))
	}

	return &Runner{
		strategy: strategy,
		config:   config,
		fee:      commission.GetCommissionFeeHandler(config.Broker),
		riskMgr:  riskMgr,
		logger:   log,
	}, nil
}

// SetTradeSink attaches a sink receiving every fill. Optimizer workers
// leave it unset to keep candidate evaluation side-effect free.
func (r *Runner) SetTradeSink(sink TradeSink) {
	r.sink = sink
}

// runState is the mutable account state of one run.
type runState struct {
	balance    decimal.Decimal
	position   *types.SimulatedPosition
	trades     []types.SimulatedTrade
	equity     []types.EquityPoint
	peakEquity float64
	totalFees  decimal.Decimal
	dailyPnL   decimal.Decimal
	dailyDate  string
}

// Run processes the bars in order and returns the completed result. Bars
// must be strictly ordered by time; any open position is force-closed at
// the final bar's close.
func (r *Runner) Run(bars []types.Bar) (*types.BacktestResult, error) {
	if err := types.ValidateBars(bars); err != nil {
		return nil, err
	}

	bars = r.clipToWindow(bars)
	if len(bars) == 0 {
		return nil, errors.New(errors.ErrCodeEmptyBarSeries, "no bars inside the configured time window")
	}

	set, err := indicator.ComputeAll(r.strategy.Indicators, bars)
	if err != nil {
		return nil, err
	}

	entryConds, err := condition.ParseAll(r.strategy.EntryConditions)
	if err != nil {
		return nil, err
	}

	exitConds, err := condition.ParseAll(r.strategy.ExitConditions)
	if err != nil {
		return nil, err
	}

	if err := condition.BindCheck(entryConds, set); err != nil {
		return nil, err
	}

	if err := condition.BindCheck(exitConds, set); err != nil {
		return nil, err
	}

	state := &runState{
		balance:    decimal.NewFromFloat(r.config.InitialCapital),
		peakEquity: r.config.InitialCapital,
	}
	state.equity = append(state.equity, types.EquityPoint{
		Time:   bars[0].Time,
		Equity: r.config.InitialCapital,
	})

	for i := range bars {
		bar := bars[i]
		r.rollDailyPnL(state, bar.Time)

		// Exits are resolved before entries, and a bar that exits never
		// re-enters; the entry signal is reconsidered on the next bar.
		wasFlat := state.position == nil

		if state.position != nil {
			if err := r.checkIntrabarExits(state, bar); err != nil {
				return nil, err
			}
		}

		if state.position != nil && condition.AnyTrue(exitConds, set, bars, i) {
			if err := r.closePosition(state, bar.Close, bar.Time, types.TradeReasonSignal); err != nil {
				return nil, err
			}
		}

		if state.position != nil {
			r.updateTrailingStop(state, bar.Close)
		}

		if wasFlat && condition.AllTrue(entryConds, set, bars, i) {
			if err := r.tryEnter(state, bar); err != nil {
				return nil, err
			}
		}

		r.recordEquity(state, bar)
	}

	if state.position != nil {
		last := bars[len(bars)-1]
		if err := r.closePosition(state, last.Close, last.Time, types.TradeReasonEndOfData); err != nil {
			return nil, err
		}

		// Replace the final point so the curve reflects the forced close.
		state.equity = state.equity[:len(state.equity)-1]
		r.recordEquity(state, last)
	}

	return r.buildResult(state, bars)
}

func (r *Runner) clipToWindow(bars []types.Bar) []types.Bar {
	start, startErr := r.config.StartTime.Take()
	end, endErr := r.config.EndTime.Take()

	if startErr != nil && endErr != nil {
		return bars
	}

	clipped := make([]types.Bar, 0, len(bars))

	for _, bar := range bars {
		if startErr == nil && bar.Time.Before(start) {
			continue
		}

		if endErr == nil && bar.Time.After(end) {
			continue
		}

		clipped = append(clipped, bar)
	}

	return clipped
}

func (r *Runner) rollDailyPnL(state *runState, t time.Time) {
	date := t.UTC().Format("2006-01-02")
	if date != state.dailyDate {
		state.dailyDate = date
		state.dailyPnL = decimal.Zero
	}
}

// checkIntrabarExits fires stop and target exits using the bar's range.
// When both levels fall inside one bar the stop wins; that is the
// conservative fill assumption for OHLC data.
func (r *Runner) checkIntrabarExits(state *runState, bar types.Bar) error {
	position := state.position

	if stop, err := position.StopPrice.Take(); err == nil {
		breached := (position.Side == types.PositionSideLong && bar.Low <= stop) ||
			(position.Side == types.PositionSideShort && bar.High >= stop)
		if breached {
			reason := types.TradeReasonStopLoss
			if position.StopTrailed {
				reason = types.TradeReasonTrailingStop
			}

			return r.closePosition(state, stop, bar.Time, reason)
		}
	}

	if target, err := position.TakeProfitPrice.Take(); err == nil {
		reached := (position.Side == types.PositionSideLong && bar.High >= target) ||
			(position.Side == types.PositionSideShort && bar.Low <= target)
		if reached {
			return r.closePosition(state, target, bar.Time, types.TradeReasonTakeProfit)
		}
	}

	return nil
}

func (r *Runner) updateTrailingStop(state *runState, price float64) {
	percent, err := r.strategy.TrailingStopPercent.Take()
	if err != nil {
		return
	}

	position := state.position
	next := risk.UpdateTrailingStop(position.Side, position.StopPrice, price, percent)

	if tightened, err := next.Take(); err == nil {
		if existing, err := position.StopPrice.Take(); err != nil || tightened != existing {
			position.StopTrailed = true
		}
	}

	position.StopPrice = next
}

func (r *Runner) tryEnter(state *runState, bar types.Bar) error {
	side := r.strategy.EffectiveSide()
	entryPrice := bar.Close
	balance, _ := state.balance.Float64()

	stopPrice := optional.None[float64]()
	if percent, err := r.strategy.StopLossPercent.Take(); err == nil {
		if side == types.PositionSideShort {
			stopPrice = optional.Some(entryPrice * (1 + percent/100))
		} else {
			stopPrice = optional.Some(entryPrice * (1 - percent/100))
		}
	}

	quantity, err := r.riskMgr.PositionSize(balance, entryPrice, r.strategy.PositionSizePercent, stopPrice)
	if err != nil {
		return err
	}

	if quantity <= 0 {
		return nil
	}

	check := r.riskMgr.CheckLimits(r.accountState(state, bar), types.CandidateOrder{
		Symbol:   r.strategy.Symbol,
		Side:     side,
		Quantity: quantity,
		Price:    entryPrice,
	})
	if !check.IsValid {
		r.logger.Debug("entry rejected by risk limits",
			zap.Time("bar", bar.Time),
			zap.Strings("reasons", check.Reasons))

		return nil
	}

	takeProfit := optional.None[float64]()
	if percent, err := r.strategy.TakeProfitPercent.Take(); err == nil {
		if side == types.PositionSideShort {
			takeProfit = optional.Some(entryPrice * (1 - percent/100))
		} else {
			takeProfit = optional.Some(entryPrice * (1 + percent/100))
		}
	}

	stopTrailed := false
	if stopPrice.IsNone() {
		if percent, err := r.strategy.TrailingStopPercent.Take(); err == nil {
			stopPrice = risk.UpdateTrailingStop(side, optional.None[float64](), entryPrice, percent)
			stopTrailed = stopPrice.IsSome()
		}
	}

	fee := r.fee.Calculate(quantity, entryPrice)
	notional := decimal.NewFromFloat(quantity).Mul(decimal.NewFromFloat(entryPrice))

	purchaseType := types.PurchaseTypeBuy
	if side == types.PositionSideShort {
		purchaseType = types.PurchaseTypeSell
		state.balance = state.balance.Add(notional).Sub(decimal.NewFromFloat(fee))
	} else {
		state.balance = state.balance.Sub(notional).Sub(decimal.NewFromFloat(fee))
	}

	state.totalFees = state.totalFees.Add(decimal.NewFromFloat(fee))

	state.position = &types.SimulatedPosition{
		Symbol:          r.strategy.Symbol,
		Side:            side,
		Quantity:        quantity,
		EntryPrice:      entryPrice,
		EntryTime:       bar.Time,
		EntryFee:        fee,
		StopPrice:       stopPrice,
		TakeProfitPrice: takeProfit,
		StopTrailed:     stopTrailed,
	}

	return r.recordTrade(state, types.SimulatedTrade{
		ID:         uuid.New().String(),
		Symbol:     r.strategy.Symbol,
		Side:       purchaseType,
		Quantity:   quantity,
		Price:      entryPrice,
		Timestamp:  bar.Time,
		Fee:        fee,
		TotalValue: quantity * entryPrice,
		Reason:     types.TradeReasonSignal,
	})
}

func (r *Runner) closePosition(state *runState, price float64, t time.Time, reason types.TradeReason) error {
	position := state.position
	fee := r.fee.Calculate(position.Quantity, price)
	notional := decimal.NewFromFloat(position.Quantity).Mul(decimal.NewFromFloat(price))

	purchaseType := types.PurchaseTypeSell
	if position.Side == types.PositionSideShort {
		purchaseType = types.PurchaseTypeBuy
		state.balance = state.balance.Sub(notional).Sub(decimal.NewFromFloat(fee))
	} else {
		state.balance = state.balance.Add(notional).Sub(decimal.NewFromFloat(fee))
	}

	state.totalFees = state.totalFees.Add(decimal.NewFromFloat(fee))
	// The realized daily PnL carries both legs' fees, matching the round-trip
	// PnL the metrics report.
	state.dailyPnL = state.dailyPnL.Add(decimal.NewFromFloat(position.UnrealizedPnL(price) - fee - position.EntryFee))
	state.position = nil

	return r.recordTrade(state, types.SimulatedTrade{
		ID:         uuid.New().String(),
		Symbol:     position.Symbol,
		Side:       purchaseType,
		Quantity:   position.Quantity,
		Price:      price,
		Timestamp:  t,
		Fee:        fee,
		TotalValue: position.Quantity * price,
		Reason:     reason,
	})
}

func (r *Runner) recordTrade(state *runState, trade types.SimulatedTrade) error {
	state.trades = append(state.trades, trade)

	if r.sink != nil {
		if err := r.sink.RecordTrade(trade); err != nil {
			return errors.Wrap(errors.ErrCodeJournalFailed, "failed to record trade", err)
		}
	}

	return nil
}

func (r *Runner) currentEquity(state *runState, markPrice float64) float64 {
	balance, _ := state.balance.Float64()
	if state.position == nil {
		return balance
	}

	notional := state.position.Quantity * markPrice
	if state.position.Side == types.PositionSideShort {
		return balance - notional
	}

	return balance + notional
}

func (r *Runner) accountState(state *runState, bar types.Bar) types.AccountState {
	equity := r.currentEquity(state, bar.Close)
	if equity < 0 {
		equity = 0
	}

	balance, _ := state.balance.Float64()
	dailyPnL, _ := state.dailyPnL.Float64()

	drawdown := 0.0
	if state.peakEquity > 0 && equity < state.peakEquity {
		drawdown = (state.peakEquity - equity) / state.peakEquity
	}

	account := types.AccountState{
		Balance:  balance,
		DailyPnL: dailyPnL,
		Drawdown: drawdown,
	}

	if state.position != nil {
		account.OpenPositions = 1
		account.TotalExposure = state.position.Quantity * bar.Close
	}

	return account
}

func (r *Runner) recordEquity(state *runState, bar types.Bar) {
	equity := r.currentEquity(state, bar.Close)
	if equity > state.peakEquity {
		state.peakEquity = equity
	}

	// A mark below zero means the account is wiped out. The curve floors
	// there so drawdown stays inside its 0-100 bound even when an unstopped
	// short runs past the short-sale proceeds.
	if equity < 0 {
		equity = 0
	}

	drawdown := 0.0
	if state.peakEquity > 0 && equity < state.peakEquity {
		drawdown = (state.peakEquity - equity) / state.peakEquity * 100
	}

	state.equity = append(state.equity, types.EquityPoint{
		Time:     bar.Time,
		Equity:   equity,
		Drawdown: drawdown,
	})
}

func (r *Runner) buildResult(state *runState, bars []types.Bar) (*types.BacktestResult, error) {
	finalBalance, _ := state.balance.Float64()
	totalFees, _ := state.totalFees.Float64()

	result := &types.BacktestResult{
		ID:             uuid.New().String(),
		StrategyName:   r.strategy.Name,
		Symbol:         r.strategy.Symbol,
		Timeframe:      r.strategy.Timeframe,
		StartTime:      bars[0].Time,
		EndTime:        bars[len(bars)-1].Time,
		InitialBalance: r.config.InitialCapital,
		FinalBalance:   finalBalance,
		TotalFees:      totalFees,
		Trades:         state.trades,
		EquityCurve:    state.equity,
	}

	if r.config.AnnualizationFactor > 0 {
		if err := ComputeMetricsWithAnnualization(result, r.config.AnnualizationFactor); err != nil {
			return nil, err
		}
	} else if err := ComputeMetrics(result); err != nil {
		return nil, err
	}

	return result, nil
}
