package market

import (
	"realty_go/internal/domain"

	"github.com/shopspring/decimal"
)

var (
	impactUnit = decimal.NewFromInt(10000)
	impactStep = decimal.NewFromFloat(0.01)
)

// ComputePriceImpact moves previousPrice by 1% for every 10,000 units traded,
// up for buys and down for sells. This is a linear depth model, not an order
// book walk. An unknown side leaves the price unchanged.
func ComputePriceImpact(previousPrice, tradeAmount float64, side domain.Side) float64 {
	impact := decimal.NewFromFloat(tradeAmount).Div(impactUnit).Mul(impactStep)

	var factor decimal.Decimal
	switch side {
	case domain.SideBuy:
		factor = decimal.NewFromInt(1).Add(impact)
	case domain.SideSell:
		factor = decimal.NewFromInt(1).Sub(impact)
	default:
		return previousPrice
	}

	return decimal.NewFromFloat(previousPrice).Mul(factor).InexactFloat64()
}
