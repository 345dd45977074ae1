package types

import (
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
)

// PurchaseType is the direction of a single simulated fill.
type PurchaseType string

const (
	PurchaseTypeBuy  PurchaseType = "BUY"
	PurchaseTypeSell PurchaseType = "SELL"
)

// TradeReason records why a simulated trade happened.
type TradeReason string

const (
	TradeReasonSignal       TradeReason = "signal"
	TradeReasonStopLoss     TradeReason = "stop_loss"
	TradeReasonTakeProfit   TradeReason = "take_profit"
	TradeReasonTrailingStop TradeReason = "trailing_stop"
	TradeReasonEndOfData    TradeReason = "end_of_data"
)

// SimulatedTrade is one fill recorded by the backtest runner. Two trades
// (entry + exit) bound one round trip; PnL is derived from the pair rather
// than stored on either trade.
type SimulatedTrade struct {
	ID         string       `yaml:"id" json:"id" csv:"id"`
	Symbol     string       `yaml:"symbol" json:"symbol" csv:"symbol"`
	Side       PurchaseType `yaml:"side" json:"side" csv:"side"`
	Quantity   float64      `yaml:"quantity" json:"quantity" csv:"quantity"`
	Price      float64      `yaml:"price" json:"price" csv:"price"`
	Timestamp  time.Time    `yaml:"timestamp" json:"timestamp" csv:"timestamp"`
	Fee        float64      `yaml:"fee" json:"fee" csv:"fee"`
	TotalValue float64      `yaml:"total_value" json:"total_value" csv:"total_value"`
	Reason     TradeReason  `yaml:"reason" json:"reason" csv:"reason"`
}

// SimulatedPosition is an open position inside a single runner. At most one
// exists per symbol; it is created on entry and destroyed on full close.
type SimulatedPosition struct {
	Symbol          string
	Side            PositionSide
	Quantity        float64
	EntryPrice      float64
	EntryTime       time.Time
	// EntryFee is the commission paid on the opening fill, kept so the
	// realized loss of the round trip carries both legs' fees.
	EntryFee        float64
	StopPrice       optional.Option[float64]
	TakeProfitPrice optional.Option[float64]
	// StopTrailed is set once StopPrice was placed or moved by the trailing
	// ratchet, so an exit at that level reports as a trailing stop.
	StopTrailed bool
}

// UnrealizedPnL marks the position to the given price.
func (p *SimulatedPosition) UnrealizedPnL(price float64) float64 {
	qty := decimal.NewFromFloat(p.Quantity)
	entry := decimal.NewFromFloat(p.EntryPrice)
	mark := decimal.NewFromFloat(price)

	var pnl decimal.Decimal
	if p.Side == PositionSideShort {
		pnl = entry.Sub(mark).Mul(qty)
	} else {
		pnl = mark.Sub(entry).Mul(qty)
	}

	result, _ := pnl.Float64()

	return result
}

// RoundTrip pairs an entry trade with its closing trade.
type RoundTrip struct {
	Entry SimulatedTrade
	Exit  SimulatedTrade
	PnL   float64
}

// PairRoundTrips walks an ordered trade list and pairs consecutive
// entry/exit fills into round trips. The runner guarantees alternating
// entry and exit trades per symbol, so pairing is positional. Fees on both
// legs are deducted from the round-trip PnL.
func PairRoundTrips(trades []SimulatedTrade) []RoundTrip {
	roundTrips := make([]RoundTrip, 0, len(trades)/2)

	for i := 0; i+1 < len(trades); i += 2 {
		entry := trades[i]
		exit := trades[i+1]

		entryValue := decimal.NewFromFloat(entry.Quantity).Mul(decimal.NewFromFloat(entry.Price))
		exitValue := decimal.NewFromFloat(exit.Quantity).Mul(decimal.NewFromFloat(exit.Price))
		fees := decimal.NewFromFloat(entry.Fee).Add(decimal.NewFromFloat(exit.Fee))

		var gross decimal.Decimal
		if entry.Side == PurchaseTypeSell {
			// short round trip: sold first, bought back on exit
			gross = entryValue.Sub(exitValue)
		} else {
			gross = exitValue.Sub(entryValue)
		}

		pnl, _ := gross.Sub(fees).Float64()

		roundTrips = append(roundTrips, RoundTrip{
			Entry: entry,
			Exit:  exit,
			PnL:   pnl,
		})
	}

	return roundTrips
}

// EquityPoint is the mark-to-market account value after one processed bar.
type EquityPoint struct {
	Time time.Time `yaml:"time" json:"time" csv:"time"`
	// Equity is cash balance plus unrealized PnL of any open position.
	Equity float64 `yaml:"equity" json:"equity" csv:"equity"`
	// Drawdown is the percentage decline from the running peak, 0-100.
	Drawdown float64 `yaml:"drawdown" json:"drawdown" csv:"drawdown"`
}
