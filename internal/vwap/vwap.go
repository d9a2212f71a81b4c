// Package vwap walks an order book's levels to price a target size and
// applies an aggressive-mode slippage buffer so a validated fill price
// stays achievable even as the book moves between quote and execution.
package vwap

import (
	"github.com/shopspring/decimal"

	"arbiter/pkg/types"
)

// Engine prices a target size against order book depth.
type Engine struct {
	slippagePenalty decimal.Decimal
}

// New builds an Engine with the given slippage penalty (e.g. 0.005 for
// 0.5%), applied against the buy side and subtracted from the sell side so
// the validated price remains achievable under adverse book movement.
func New(slippagePenalty decimal.Decimal) *Engine {
	return &Engine{slippagePenalty: slippagePenalty}
}

// CalculateBuyVWAP walks asks ascending and returns the average fill price
// for targetSize plus the slippage penalty, or false if the book can't
// absorb the full size.
func (e *Engine) CalculateBuyVWAP(asks []types.PriceLevel, targetSize decimal.Decimal) (decimal.Decimal, bool) {
	if len(asks) == 0 || targetSize.Sign() <= 0 {
		return decimal.Zero, false
	}

	var totalCost decimal.Decimal
	remaining := targetSize

	for _, level := range asks {
		if remaining.Sign() <= 0 {
			break
		}
		take := decimal.Min(remaining, level.Size)
		totalCost = totalCost.Add(take.Mul(level.Price))
		remaining = remaining.Sub(take)
	}

	if remaining.Sign() > 0 {
		return decimal.Zero, false
	}

	rawVWAP := totalCost.Div(targetSize)
	final := rawVWAP.Mul(decimal.NewFromInt(1).Add(e.slippagePenalty))
	return final, true
}

// CalculateSellVWAP walks bids descending and returns the average fill
// price for targetSize minus the slippage penalty, or false if the book
// can't absorb the full size.
func (e *Engine) CalculateSellVWAP(bids []types.PriceLevel, targetSize decimal.Decimal) (decimal.Decimal, bool) {
	if len(bids) == 0 || targetSize.Sign() <= 0 {
		return decimal.Zero, false
	}

	var totalRevenue decimal.Decimal
	remaining := targetSize

	for _, level := range bids {
		if remaining.Sign() <= 0 {
			break
		}
		take := decimal.Min(remaining, level.Size)
		totalRevenue = totalRevenue.Add(take.Mul(level.Price))
		remaining = remaining.Sub(take)
	}

	if remaining.Sign() > 0 {
		return decimal.Zero, false
	}

	rawVWAP := totalRevenue.Div(targetSize)
	final := rawVWAP.Mul(decimal.NewFromInt(1).Sub(e.slippagePenalty))
	return final, true
}

// CalculateVWAP dispatches to the buy or sell walk for the given side.
func (e *Engine) CalculateVWAP(side types.Side, levels []types.PriceLevel, targetSize decimal.Decimal) (decimal.Decimal, bool) {
	if side == types.BUY {
		return e.CalculateBuyVWAP(levels, targetSize)
	}
	return e.CalculateSellVWAP(levels, targetSize)
}
