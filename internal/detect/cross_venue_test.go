package detect

import (
	"testing"
	"time"

	"arbiter/pkg/types"
)

func TestArbitrageDetectorBuyCLOBDirection(t *testing.T) {
	t.Parallel()
	d := NewArbitrageDetector(dec("0.03"), time.Second, testLogger())

	clob := types.MarketUpdate{Venue: types.VenueCLOB, InstrumentID: "yes-1", BestAsk: dec("0.45"), AskSize: dec("50")}
	exch := types.MarketUpdate{Venue: types.VenueExchangeA, InstrumentID: "sel-1", BestAsk: dec("0.4118"), AskSize: dec("80")}

	opp, ok := d.Check(types.MarketMapping{ID: "m1"}, clob, exch)
	if !ok {
		t.Fatal("expected opportunity: CLOB ask is well above the exchange's lay-implied probability")
	}
	if len(opp.Legs) != 1 || opp.Legs[0].Side != types.BUY {
		t.Errorf("expected a single BUY leg on the CLOB, got %+v", opp.Legs)
	}
	if !opp.Legs[0].Size.Equal(dec("50")) {
		t.Errorf("size = %v, want 50 (min of clob/exchange ask size)", opp.Legs[0].Size)
	}
	if !opp.NetEV.Round(3).Equal(dec("0.093")) {
		t.Errorf("EV = %v, want ~0.093 (0.45/0.4118 - 1)", opp.NetEV)
	}
}

func TestArbitrageDetectorSellCLOBDirection(t *testing.T) {
	t.Parallel()
	d := NewArbitrageDetector(dec("0.03"), time.Second, testLogger())

	clob := types.MarketUpdate{Venue: types.VenueCLOB, InstrumentID: "yes-1", BestBid: dec("0.60"), BidSize: dec("50")}
	exch := types.MarketUpdate{Venue: types.VenueExchangeB, InstrumentID: "mkt-1", BestBid: dec("0.50"), BidSize: dec("80")}

	opp, ok := d.Check(types.MarketMapping{ID: "m1"}, clob, exch)
	if !ok {
		t.Fatal("expected opportunity: CLOB bid well above the exchange's back-implied probability")
	}
	if len(opp.Legs) != 1 || opp.Legs[0].Side != types.SELL {
		t.Errorf("expected a single SELL leg on the CLOB, got %+v", opp.Legs)
	}
}

func TestArbitrageDetectorBelowMinEV(t *testing.T) {
	t.Parallel()
	d := NewArbitrageDetector(dec("0.05"), time.Second, testLogger())

	clob := types.MarketUpdate{BestAsk: dec("0.50"), AskSize: dec("50")}
	exch := types.MarketUpdate{BestAsk: dec("0.49"), AskSize: dec("50")}

	if _, ok := d.Check(types.MarketMapping{ID: "m1"}, clob, exch); ok {
		t.Error("EV of ~0.02 should not clear a 0.05 floor")
	}
}

func TestArbitrageDetectorCooldownSuppressesRepeat(t *testing.T) {
	t.Parallel()
	d := NewArbitrageDetector(dec("0.03"), time.Hour, testLogger())

	clob := types.MarketUpdate{BestAsk: dec("0.45"), AskSize: dec("50")}
	exch := types.MarketUpdate{BestAsk: dec("0.4118"), AskSize: dec("80")}

	if _, ok := d.Check(types.MarketMapping{ID: "m1"}, clob, exch); !ok {
		t.Fatal("first check should fire")
	}
	if _, ok := d.Check(types.MarketMapping{ID: "m1"}, clob, exch); ok {
		t.Error("second check within cooldown window should be suppressed")
	}
}

func TestArbitrageDetectorCooldownIsPerMapping(t *testing.T) {
	t.Parallel()
	d := NewArbitrageDetector(dec("0.03"), time.Hour, testLogger())

	clob := types.MarketUpdate{BestAsk: dec("0.45"), AskSize: dec("50")}
	exch := types.MarketUpdate{BestAsk: dec("0.4118"), AskSize: dec("80")}

	if _, ok := d.Check(types.MarketMapping{ID: "m1"}, clob, exch); !ok {
		t.Fatal("m1 should fire")
	}
	if _, ok := d.Check(types.MarketMapping{ID: "m2"}, clob, exch); !ok {
		t.Error("m2 should not be suppressed by m1's cooldown")
	}
}
