package detect

import (
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"arbiter/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestAtomicDetectorBuyMerge(t *testing.T) {
	t.Parallel()
	d := NewAtomicDetector(dec("0.005"), dec("0.002"), dec("0.05"), dec("0.02"), testLogger())

	yes := types.MarketUpdate{Venue: types.VenueCLOB, InstrumentID: "yes-1", BestAsk: dec("0.45"), AskSize: dec("100")}
	no := types.MarketUpdate{Venue: types.VenueCLOB, InstrumentID: "no-1", BestAsk: dec("0.45"), AskSize: dec("100")}

	opp, ok := d.Check(types.MarketMapping{ID: "m1"}, yes, no)
	if !ok {
		t.Fatal("expected an opportunity when YES+NO asks sum well under $1")
	}
	if opp.Kind != types.KindAtomic {
		t.Errorf("Kind = %v, want KindAtomic", opp.Kind)
	}
	if len(opp.Legs) != 3 {
		t.Fatalf("expected 3 legs (buy YES, buy NO, merge), got %d", len(opp.Legs))
	}
	for _, leg := range opp.Legs[:2] {
		if leg.Side != types.BUY {
			t.Errorf("leg %+v should be BUY in the buy-merge direction", leg)
		}
	}
	if opp.Legs[2].OrderType != types.OrderTypeMerge {
		t.Errorf("last leg should be the on-chain merge, got %+v", opp.Legs[2])
	}
}

func TestAtomicDetectorSplitSell(t *testing.T) {
	t.Parallel()
	d := NewAtomicDetector(dec("0.005"), dec("0.002"), dec("0.05"), dec("0.02"), testLogger())

	yes := types.MarketUpdate{Venue: types.VenueCLOB, InstrumentID: "yes-1", BestBid: dec("0.58"), BidSize: dec("100")}
	no := types.MarketUpdate{Venue: types.VenueCLOB, InstrumentID: "no-1", BestBid: dec("0.55"), BidSize: dec("100")}

	opp, ok := d.Check(types.MarketMapping{ID: "m1"}, yes, no)
	if !ok {
		t.Fatal("expected an opportunity when YES+NO bids sum well over $1")
	}
	if len(opp.Legs) != 3 {
		t.Fatalf("expected 3 legs (mint, sell YES, sell NO), got %d", len(opp.Legs))
	}
	if opp.Legs[0].OrderType != types.OrderTypeMint {
		t.Errorf("first leg should be the on-chain mint, got %+v", opp.Legs[0])
	}
	for _, leg := range opp.Legs[1:] {
		if leg.Side != types.SELL {
			t.Errorf("leg %+v should be SELL in the split-sell direction", leg)
		}
	}
}

func TestAtomicDetectorNoOpportunityWithinEpsilon(t *testing.T) {
	t.Parallel()
	d := NewAtomicDetector(dec("0.02"), dec("0.002"), dec("0.05"), dec("0.02"), testLogger())

	yes := types.MarketUpdate{BestAsk: dec("0.50"), AskSize: dec("100")}
	no := types.MarketUpdate{BestAsk: dec("0.495"), AskSize: dec("100")}

	if _, ok := d.Check(types.MarketMapping{ID: "m1"}, yes, no); ok {
		t.Error("deviation within epsilon should not produce an opportunity")
	}
}

func TestAtomicDetectorSizedToMinAvailable(t *testing.T) {
	t.Parallel()
	d := NewAtomicDetector(dec("0.005"), dec("0.002"), dec("0.05"), dec("0.02"), testLogger())

	yes := types.MarketUpdate{BestAsk: dec("0.40"), AskSize: dec("30")}
	no := types.MarketUpdate{BestAsk: dec("0.40"), AskSize: dec("100")}

	opp, ok := d.Check(types.MarketMapping{ID: "m1"}, yes, no)
	if !ok {
		t.Fatal("expected opportunity")
	}
	for _, leg := range opp.Legs {
		if !leg.Size.Equal(dec("30")) {
			t.Errorf("leg size = %v, want 30 (min of available sizes)", leg.Size)
		}
	}
}
