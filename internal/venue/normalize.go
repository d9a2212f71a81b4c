package venue

import "github.com/shopspring/decimal"

// decimalOddsToProbability converts sportsbook decimal odds to an implied
// probability, applying the venue's commission to net winnings first so
// the probability is directly comparable to a CLOB token price.
// netOdds = 1 + (odds-1)*(1-commission); probability = 1/netOdds.
func decimalOddsToProbability(odds, commission decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if odds.LessThanOrEqual(one) {
		return one
	}
	netOdds := one.Add(odds.Sub(one).Mul(one.Sub(commission)))
	if netOdds.IsZero() {
		return decimal.Zero
	}
	return one.Div(netOdds)
}
