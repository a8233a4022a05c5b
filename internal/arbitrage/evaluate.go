package arbitrage

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/skinbot/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Evaluate prices one buy against one sell-side reference. The fee is taken
// from the sell side:
//
//	net    = target * (1 - fee/100)
//	profit = net - buy
//	pct    = profit / buy * 100
//
// It reports false when either price is non-positive, the fee is outside
// [0, 100], or pct is below minProfitPercent. The returned opportunity only
// carries the price fields; callers fill in the item identity.
func Evaluate(buyPrice, targetSellPrice int64, feePercent, minProfitPercent float64) (domain.Opportunity, bool) {
	if buyPrice <= 0 || targetSellPrice <= 0 {
		return domain.Opportunity{}, false
	}
	if feePercent < 0 || feePercent > 100 {
		return domain.Opportunity{}, false
	}

	buy := decimal.NewFromInt(buyPrice)
	keep := hundred.Sub(decimal.NewFromFloat(feePercent))
	net := decimal.NewFromInt(targetSellPrice).Mul(keep).Div(hundred)
	profit := net.Sub(buy)
	pct := profit.Mul(hundred).Div(buy)

	if pct.LessThan(decimal.NewFromFloat(minProfitPercent)) {
		return domain.Opportunity{}, false
	}
	return domain.Opportunity{
		BuyPrice:        buyPrice,
		TargetSellPrice: targetSellPrice,
		EstimatedProfit: profit,
		ProfitPercent:   pct.InexactFloat64(),
	}, true
}

// NetProceeds returns what a sale at price yields after the fee.
func NetProceeds(price int64, feePercent float64) decimal.Decimal {
	keep := hundred.Sub(decimal.NewFromFloat(feePercent))
	return decimal.NewFromInt(price).Mul(keep).Div(hundred)
}
