package detect

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"arbiter/pkg/types"
)

// AtomicDetector watches a single CLOB market's YES and NO books for the
// sum-violation condition: ask(YES)+ask(NO) below $1 (buy both, mint and
// merge for $1) or bid(YES)+bid(NO) above $1 (split $1, sell both).
type AtomicDetector struct {
	epsilon         decimal.Decimal // minimum deviation from $1 to act on
	minNetProfit    decimal.Decimal // relative floor, fraction of entry cost
	minNetProfitAbs decimal.Decimal // absolute floor, dollars over the whole trade
	feeRate         decimal.Decimal
	logger          *slog.Logger
}

// NewAtomicDetector builds an AtomicDetector. epsilon is a fraction of $1
// notional, minNetProfit a fraction of entry cost, and minNetProfitAbs a
// dollar amount.
func NewAtomicDetector(epsilon, minNetProfit, minNetProfitAbs, feeRate decimal.Decimal, logger *slog.Logger) *AtomicDetector {
	return &AtomicDetector{
		epsilon:         epsilon,
		minNetProfit:    minNetProfit,
		minNetProfitAbs: minNetProfitAbs,
		feeRate:         feeRate,
		logger:          logger.With("component", "detect.atomic"),
	}
}

// Check evaluates one mapping's current YES/NO quotes and returns an
// Opportunity if the atomic sum-violation condition clears the deviation
// epsilon and either net-profit floor: the relative floor (a fraction of
// entry cost) or the absolute floor (total dollars over the trade size).
func (d *AtomicDetector) Check(mapping types.MarketMapping, yes, no types.MarketUpdate) (types.Opportunity, bool) {
	one := decimal.NewFromInt(1)

	// Case 1: buy YES + buy NO, mint pair, redeem for $1.
	buyCost := yes.BestAsk.Add(no.BestAsk)
	if deviation := one.Sub(buyCost); deviation.GreaterThan(d.epsilon) {
		net, relative := d.netProfit(deviation, buyCost)
		size := decimal.Min(yes.AskSize, no.AskSize)
		if d.clearsFloor(relative, net, size) {
			return d.build(mapping, types.KindAtomic, relative, []types.ExecutionLeg{
				{Venue: yes.Venue, InstrumentID: yes.InstrumentID, Side: types.BUY, Price: yes.BestAsk, Size: size, OrderType: types.OrderTypeFOK},
				{Venue: no.Venue, InstrumentID: no.InstrumentID, Side: types.BUY, Price: no.BestAsk, Size: size, OrderType: types.OrderTypeFOK},
				{Venue: yes.Venue, InstrumentID: mapping.CLOBConditionID, Side: types.SELL, Price: decimal.NewFromInt(1), Size: size, OrderType: types.OrderTypeMerge},
			}), true
		}
	}

	// Case 2: split $1 into YES+NO, sell both.
	sellRevenue := yes.BestBid.Add(no.BestBid)
	if deviation := sellRevenue.Sub(one); deviation.GreaterThan(d.epsilon) {
		net, relative := d.netProfit(deviation, one)
		size := decimal.Min(yes.BidSize, no.BidSize)
		if d.clearsFloor(relative, net, size) {
			return d.build(mapping, types.KindAtomic, relative, []types.ExecutionLeg{
				{Venue: yes.Venue, InstrumentID: mapping.CLOBConditionID, Side: types.BUY, Price: decimal.NewFromInt(1), Size: size, OrderType: types.OrderTypeMint},
				{Venue: yes.Venue, InstrumentID: yes.InstrumentID, Side: types.SELL, Price: yes.BestBid, Size: size, OrderType: types.OrderTypeFOK},
				{Venue: no.Venue, InstrumentID: no.InstrumentID, Side: types.SELL, Price: no.BestBid, Size: size, OrderType: types.OrderTypeFOK},
			}), true
		}
	}

	return types.Opportunity{}, false
}

// clearsFloor reports whether the opportunity clears either net-profit
// floor: the relative ratio, or the absolute dollar profit over size units.
func (d *AtomicDetector) clearsFloor(relative, netPerUnit, size decimal.Decimal) bool {
	if relative.GreaterThanOrEqual(d.minNetProfit) {
		return true
	}
	return netPerUnit.Mul(size).GreaterThanOrEqual(d.minNetProfitAbs)
}

// netProfit applies the venue's fee on gross winnings, mirroring the
// original fee-on-winnings accounting rather than fee-on-notional, and
// returns both the per-unit dollar profit and its ratio to entry cost.
func (d *AtomicDetector) netProfit(grossDeviation, entryCost decimal.Decimal) (net, relative decimal.Decimal) {
	fee := grossDeviation.Mul(d.feeRate)
	net = grossDeviation.Sub(fee)
	if entryCost.IsZero() {
		return net, decimal.Zero
	}
	return net, net.Div(entryCost)
}

func (d *AtomicDetector) build(mapping types.MarketMapping, kind types.OpportunityKind, netEV decimal.Decimal, legs []types.ExecutionLeg) types.Opportunity {
	now := time.Now()
	return types.Opportunity{
		ID:         uuid.NewString(),
		Kind:       kind,
		Mapping:    mapping,
		Legs:       legs,
		NetEV:      netEV,
		Confidence: mapping.Confidence,
		DetectedAt: now,
		ExpiresAt:  now.Add(2 * time.Second),
	}
}
