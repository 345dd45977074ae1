package commission

// DefaultPercentageRate is 0.1% of the fill notional, a common spot
// exchange taker rate.
const DefaultPercentageRate = 0.1

// PercentageCommissionFee charges a fixed percentage of the fill notional.
type PercentageCommissionFee struct {
	ratePercent float64
}

func NewPercentageCommissionFee(ratePercent float64) CommissionFee {
	if ratePercent < 0 {
		ratePercent = 0
	}

	return &PercentageCommissionFee{ratePercent: ratePercent}
}

func (c *PercentageCommissionFee) Calculate(quantity, price float64) float64 {
	if quantity <= 0 || price <= 0 {
		return 0
	}

	return quantity * price * c.ratePercent / 100
}
