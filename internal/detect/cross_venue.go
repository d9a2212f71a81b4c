package detect

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"arbiter/pkg/types"
)

// ArbitrageDetector compares a CLOB token's implied probability against an
// equivalent sportsbook-exchange quote and emits an Opportunity whenever
// the cross-venue expected value clears the configured floor, gated by a
// per-mapping cooldown so one mispricing doesn't fire a burst of duplicate
// opportunities while it persists.
type ArbitrageDetector struct {
	minEV    decimal.Decimal
	cooldown time.Duration

	mu       sync.Mutex
	lastFire map[string]time.Time // mapping ID -> last opportunity emission
	logger   *slog.Logger
}

// NewArbitrageDetector builds an ArbitrageDetector.
func NewArbitrageDetector(minEV decimal.Decimal, cooldown time.Duration, logger *slog.Logger) *ArbitrageDetector {
	return &ArbitrageDetector{
		minEV:    minEV,
		cooldown: cooldown,
		lastFire: make(map[string]time.Time),
		logger:   logger.With("component", "detect.cross_venue"),
	}
}

// Check compares clob (a CLOB-venue MarketUpdate) against exchange (an
// ExchangeA/B-venue MarketUpdate for the mapped selection/market) and
// returns an Opportunity when net EV clears minEV and the mapping isn't in
// cooldown.
//
// Both BestBid and BestAsk on the exchange side already carry the
// commission-adjusted implied probability (q_net), so EV is the
// multiplicative form ev = p_implied_decimal_from_exchange * p_poly - 1,
// where p_implied_decimal_from_exchange = 1 / q_net reduces to a straight
// division once q_net is already expressed as a probability:
// ev = poly_price / exchange_implied_prob - 1.
//
// Two directions are evaluated: buy the CLOB ask and lay it away on the
// exchange (buy_poly_lay_exchange, pricing off the exchange's lay/ask
// side), and the reverse: sell the CLOB bid and back the exchange
// (buy_poly_back_exchange, pricing off the exchange's back/bid side).
func (d *ArbitrageDetector) Check(mapping types.MarketMapping, clob, exchange types.MarketUpdate) (types.Opportunity, bool) {
	if d.inCooldown(mapping.ID) {
		return types.Opportunity{}, false
	}

	// Direction 1 (buy_poly_lay_exchange): buy CLOB ask, lay away on the
	// exchange's ask-side implied probability.
	if !exchange.BestAsk.IsZero() {
		if ev := clob.BestAsk.Div(exchange.BestAsk).Sub(decimal.NewFromInt(1)); ev.GreaterThanOrEqual(d.minEV) {
			size := decimal.Min(clob.AskSize, exchange.AskSize)
			opp := d.build(mapping, ev, []types.ExecutionLeg{
				{Venue: clob.Venue, InstrumentID: clob.InstrumentID, Side: types.BUY, Price: clob.BestAsk, Size: size, OrderType: types.OrderTypeFOK},
			})
			d.markFired(mapping.ID)
			return opp, true
		}
	}

	// Direction 2 (buy_poly_back_exchange): sell CLOB bid, back the
	// exchange's bid-side implied probability.
	if !exchange.BestBid.IsZero() {
		if ev := clob.BestBid.Div(exchange.BestBid).Sub(decimal.NewFromInt(1)); ev.GreaterThanOrEqual(d.minEV) {
			size := decimal.Min(clob.BidSize, exchange.BidSize)
			opp := d.build(mapping, ev, []types.ExecutionLeg{
				{Venue: clob.Venue, InstrumentID: clob.InstrumentID, Side: types.SELL, Price: clob.BestBid, Size: size, OrderType: types.OrderTypeFOK},
			})
			d.markFired(mapping.ID)
			return opp, true
		}
	}

	return types.Opportunity{}, false
}

func (d *ArbitrageDetector) inCooldown(mappingID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	last, ok := d.lastFire[mappingID]
	return ok && time.Since(last) < d.cooldown
}

func (d *ArbitrageDetector) markFired(mappingID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastFire[mappingID] = time.Now()
}

func (d *ArbitrageDetector) build(mapping types.MarketMapping, netEV decimal.Decimal, legs []types.ExecutionLeg) types.Opportunity {
	now := time.Now()
	return types.Opportunity{
		ID:         uuid.NewString(),
		Kind:       types.KindCrossVenue,
		Mapping:    mapping,
		Legs:       legs,
		NetEV:      netEV,
		Confidence: mapping.Confidence,
		DetectedAt: now,
		ExpiresAt:  now.Add(3 * time.Second),
	}
}
