package detect

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"arbiter/internal/polytope"
	"arbiter/pkg/types"
)

// PolytopeDetector watches a group of mutually-exclusive CLOB outcomes that
// belong to the same event (e.g. a three-way match-winner market: home,
// draw, away) and flags a multi-market arbitrage whenever their combined
// mid prices drift outside the no-arbitrage polytope (every outcome's
// probability sums to 1) by more than a configured threshold.
//
// Cross-venue and atomic detection only ever reason about one or two
// tokens at a time; this is the only detector that needs the Barrier
// Frank-Wolfe projector, since projecting N correlated prices onto their
// nearest feasible point is what finds the arbitrage a pairwise comparison
// would miss.
type PolytopeDetector struct {
	threshold    decimal.Decimal
	minNetProfit decimal.Decimal
	cooldown     time.Duration
	projector    *polytope.Projector

	mu       sync.Mutex
	lastFire map[string]time.Time // event name -> last opportunity emission
	logger   *slog.Logger
}

// NewPolytopeDetector builds a PolytopeDetector. threshold is the minimum
// infinity-norm deviation (as a fraction of $1) between observed and
// projected prices to act on; projector performs the actual KL projection.
func NewPolytopeDetector(threshold, minNetProfit decimal.Decimal, cooldown time.Duration, projector *polytope.Projector, logger *slog.Logger) *PolytopeDetector {
	return &PolytopeDetector{
		threshold:    threshold,
		minNetProfit: minNetProfit,
		cooldown:     cooldown,
		projector:    projector,
		lastFire:     make(map[string]time.Time),
		logger:       logger.With("component", "detect.polytope"),
	}
}

// Check evaluates one event's group of mutually-exclusive outcome quotes.
// mappings and quotes must be parallel slices of equal length (len >= 2),
// each MarketMapping's CLOBYesTokenID being the outcome token this group
// member trades. Returns an Opportunity proposing one leg per outcome whose
// projected fair price diverges from its current quote.
func (d *PolytopeDetector) Check(eventName string, mappings []types.MarketMapping, quotes []types.MarketUpdate) (types.Opportunity, bool) {
	if len(mappings) < 2 || len(mappings) != len(quotes) {
		return types.Opportunity{}, false
	}
	if d.inCooldown(eventName) {
		return types.Opportunity{}, false
	}

	n := len(quotes)
	theta := make([]float64, n)
	for i, q := range quotes {
		mid := q.BestBid.Add(q.BestAsk).Div(decimal.NewFromInt(2))
		theta[i], _ = mid.Float64()
	}

	coeffs := make(map[int]float64, n)
	for i := 0; i < n; i++ {
		coeffs[i] = 1
	}
	poly := polytope.New(n, []polytope.Constraint{{Coeffs: coeffs, Sense: polytope.EQ, RHS: 1}})

	mu, err := d.projector.Project(theta, poly)
	if err != nil {
		d.logger.Debug("polytope projection failed", "event", eventName, "error", err)
		return types.Opportunity{}, false
	}

	maxDeviation := 0.0
	for i := range mu {
		dev := mu[i] - theta[i]
		if dev < 0 {
			dev = -dev
		}
		if dev > maxDeviation {
			maxDeviation = dev
		}
	}
	if decimal.NewFromFloat(maxDeviation).LessThanOrEqual(d.threshold) {
		return types.Opportunity{}, false
	}

	var legs []types.ExecutionLeg
	for i, q := range quotes {
		deviation := mu[i] - theta[i]
		switch {
		case deviation > 0:
			// projector says this outcome is worth more than it trades
			// for: buy it at the ask.
			legs = append(legs, types.ExecutionLeg{
				Venue: q.Venue, InstrumentID: q.InstrumentID, Side: types.BUY,
				Price: q.BestAsk, Size: q.AskSize, OrderType: types.OrderTypeFOK,
			})
		case deviation < 0:
			legs = append(legs, types.ExecutionLeg{
				Venue: q.Venue, InstrumentID: q.InstrumentID, Side: types.SELL,
				Price: q.BestBid, Size: q.BidSize, OrderType: types.OrderTypeFOK,
			})
		}
	}
	if len(legs) == 0 {
		return types.Opportunity{}, false
	}

	netEV := decimal.NewFromFloat(maxDeviation).Sub(d.minNetProfit)
	if netEV.IsNegative() {
		return types.Opportunity{}, false
	}

	opp := d.build(mappings[0], netEV, legs)
	d.markFired(eventName)
	return opp, true
}

func (d *PolytopeDetector) inCooldown(eventName string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	last, ok := d.lastFire[eventName]
	return ok && time.Since(last) < d.cooldown
}

func (d *PolytopeDetector) markFired(eventName string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastFire[eventName] = time.Now()
}

func (d *PolytopeDetector) build(mapping types.MarketMapping, netEV decimal.Decimal, legs []types.ExecutionLeg) types.Opportunity {
	now := time.Now()
	return types.Opportunity{
		ID:         uuid.NewString(),
		Kind:       types.KindMultiMarket,
		Mapping:    mapping,
		Legs:       legs,
		NetEV:      netEV,
		Confidence: mapping.Confidence,
		DetectedAt: now,
		ExpiresAt:  now.Add(3 * time.Second),
	}
}
