// Package kelly sizes arbitrage trades with a fractional-Kelly stake,
// capped by available liquidity and a hard exposure ceiling.
package kelly

import (
	"github.com/shopspring/decimal"
)

// Sizer computes fractional-Kelly position sizes.
//
//	f* = (b*p - q) / b
//
// where b is the net profit ratio of the trade, p is the estimated win
// probability and q = 1-p. In an atomic arbitrage p is close to 1, which
// drives f* toward betting the full bankroll; Fraction trims that down to
// account for execution risk (partial fills, contract bugs, slippage) that
// the probability model doesn't capture.
type Sizer struct {
	Fraction       decimal.Decimal
	MaxExposurePct decimal.Decimal
	MinBet         decimal.Decimal
}

// New builds a Sizer. fraction is the portion of full Kelly to wager (e.g.
// 0.25 for quarter-Kelly); maxExposurePct caps any single bet as a fraction
// of bankroll regardless of what Kelly suggests; minBet floors out wagers
// too small to be worth the round-trip fees.
func New(fraction, maxExposurePct, minBet decimal.Decimal) *Sizer {
	return &Sizer{Fraction: fraction, MaxExposurePct: maxExposurePct, MinBet: minBet}
}

// Size returns the USD amount to wager given available bankroll, the
// estimated win probability, the net profit ratio of the trade (b in the
// Kelly formula) and the liquidity the book can actually absorb.
func (s *Sizer) Size(bankroll, winProb, profitRatio, liquidityLimit decimal.Decimal) decimal.Decimal {
	if profitRatio.Sign() <= 0 {
		return decimal.Zero
	}

	b := profitRatio
	p := winProb
	q := decimal.NewFromInt(1).Sub(p)

	fStar := b.Mul(p).Sub(q).Div(b)
	if fStar.Sign() <= 0 {
		return decimal.Zero
	}

	safeF := fStar.Mul(s.Fraction)
	wager := bankroll.Mul(safeF)

	exposureCap := bankroll.Mul(s.MaxExposurePct)
	wager = decimal.Min(wager, exposureCap)
	wager = decimal.Min(wager, liquidityLimit)

	if wager.LessThan(s.MinBet) {
		return decimal.Zero
	}
	return wager
}
