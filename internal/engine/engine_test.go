package engine

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"arbiter/internal/config"
	"arbiter/internal/kelly"
	"arbiter/internal/risk"
	"arbiter/pkg/types"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func leg(v types.Venue, price, size string) types.ExecutionLeg {
	return types.ExecutionLeg{Venue: v, Price: dec(price), Size: dec(size)}
}

func TestOpportunityVenuesDeduplicates(t *testing.T) {
	t.Parallel()
	opp := types.Opportunity{Legs: []types.ExecutionLeg{
		leg(types.VenueCLOB, "0.5", "10"),
		leg(types.VenueCLOB, "0.5", "10"),
		leg(types.VenueExchangeA, "0.6", "10"),
	}}
	got := opportunityVenues(opp)
	if len(got) != 2 {
		t.Fatalf("got %d venues, want 2: %v", len(got), got)
	}
}

func TestMustFloat64(t *testing.T) {
	t.Parallel()
	if got := mustFloat64(dec("12.5")); got != 12.5 {
		t.Errorf("mustFloat64 = %v, want 12.5", got)
	}
}

func TestToVenueConfigSettlement(t *testing.T) {
	t.Parallel()
	clobCfg := toVenueConfig(types.VenueCLOB, config.VenueEndpoint{BaseURL: "https://clob", FeeRatePct: 0.02}, 500*time.Millisecond)
	if clobCfg.Settlement != "on_chain" {
		t.Errorf("CLOB settlement = %q, want on_chain", clobCfg.Settlement)
	}
	exCfg := toVenueConfig(types.VenueExchangeA, config.VenueEndpoint{BaseURL: "https://a"}, 500*time.Millisecond)
	if exCfg.Settlement != "cash" {
		t.Errorf("ExchangeA settlement = %q, want cash", exCfg.Settlement)
	}
}

func TestExpectedPayoutAtomicIsLegSize(t *testing.T) {
	t.Parallel()
	opp := types.Opportunity{
		Kind: types.KindAtomic,
		Legs: []types.ExecutionLeg{leg(types.VenueCLOB, "0.5", "100")},
	}
	e := &Engine{}
	got := e.expectedPayout(opp)
	if !got.Equal(dec("100")) {
		t.Errorf("expectedPayout = %s, want 100", got)
	}
}

func TestExpectedPayoutCrossVenueAddsEV(t *testing.T) {
	t.Parallel()
	opp := types.Opportunity{
		Kind:  types.KindCrossVenue,
		NetEV: dec("0.1"),
		Legs:  []types.ExecutionLeg{leg(types.VenueCLOB, "0.5", "10")},
	}
	e := &Engine{}
	got := e.expectedPayout(opp)
	want := dec("0.5").Mul(dec("10")).Add(dec("0.1").Mul(dec("10")))
	if !got.Equal(want) {
		t.Errorf("expectedPayout = %s, want %s", got, want)
	}
}

func TestBookRegistryRoundTrip(t *testing.T) {
	t.Parallel()
	e := &Engine{books: make(map[instrumentKey]types.OrderBookSnapshot)}
	snap := types.OrderBookSnapshot{
		Bids: []types.PriceLevel{{Price: dec("0.4"), Size: dec("50")}},
	}
	e.books[instrumentKey{venue: types.VenueCLOB, instrumentID: "tok-yes"}] = snap

	got, ok := e.Book(types.VenueCLOB, "tok-yes")
	if !ok {
		t.Fatal("expected book to be found")
	}
	if len(got.Bids) != 1 || !got.Bids[0].Price.Equal(dec("0.4")) {
		t.Errorf("unexpected book contents: %+v", got)
	}

	if _, ok := e.Book(types.VenueCLOB, "missing"); ok {
		t.Error("expected no book for unknown instrument")
	}
}

func TestSizeOpportunityScalesDownNeverUp(t *testing.T) {
	t.Parallel()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := &Engine{
		kellySizer: kelly.New(dec("0.5"), dec("1"), dec("0")),
		guardian:   risk.NewGuardian(config.RiskConfig{}, 100, nil, logger),
	}

	opp := types.Opportunity{
		Kind:       types.KindAtomic,
		NetEV:      dec("0.05"),
		Confidence: 0.9,
		Legs: []types.ExecutionLeg{
			leg(types.VenueCLOB, "0.5", "1000"),
			leg(types.VenueCLOB, "0.5", "1000"),
		},
	}

	// A guardian with no store reports the 100 USD bankroll it was built with.
	sized := e.sizeOpportunity(opp)

	for _, l := range sized.Legs {
		if l.Size.GreaterThan(dec("1000")) {
			t.Errorf("leg size %s exceeds original liquidity 1000", l.Size)
		}
	}
}
