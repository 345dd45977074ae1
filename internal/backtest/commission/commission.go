package commission

// CommissionFee computes the fee in account currency for a single fill.
type CommissionFee interface {
	// Calculate returns the fee for filling quantity units at price.
	Calculate(quantity, price float64) float64
}

type Broker string

const (
	BrokerZero              Broker = "zero_commission"
	BrokerInteractiveBroker Broker = "interactive_broker"
	BrokerPercentage        Broker = "percentage"
)

var AllBrokers = []any{
	BrokerZero,
	BrokerInteractiveBroker,
	BrokerPercentage,
}

// GetCommissionFeeHandler maps a broker name to its fee model. Unknown
// brokers fall back to zero commission.
func GetCommissionFeeHandler(broker Broker) CommissionFee {
	switch broker {
	case BrokerInteractiveBroker:
		return NewInteractiveBrokerCommissionFee()
	case BrokerPercentage:
		return NewPercentageCommissionFee(DefaultPercentageRate)
	case BrokerZero:
		return NewZeroCommissionFee()
	default:
		return NewZeroCommissionFee()
	}
}
