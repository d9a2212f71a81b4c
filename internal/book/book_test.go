package book

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"arbiter/pkg/types"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func lvl(price, size string) types.PriceLevel {
	return types.PriceLevel{Price: dec(price), Size: dec(size)}
}

func TestApplySnapshot(t *testing.T) {
	t.Parallel()
	b := NewBook(types.VenueCLOB, "tok-yes")

	b.ApplySnapshot(types.OrderBookSnapshot{
		Bids: []types.PriceLevel{lvl("0.54", "200"), lvl("0.55", "100")},
		Asks: []types.PriceLevel{lvl("0.57", "150")},
	})

	bid, ask, ok := b.BestBidAsk()
	if !ok {
		t.Fatal("BestBidAsk returned ok=false after snapshot")
	}
	if !bid.Price.Equal(dec("0.55")) {
		t.Errorf("best bid = %v, want 0.55", bid.Price)
	}
	if !ask.Price.Equal(dec("0.57")) {
		t.Errorf("best ask = %v, want 0.57", ask.Price)
	}
}

func TestApplyDeltaInsertUpdateRemove(t *testing.T) {
	t.Parallel()
	b := NewBook(types.VenueExchangeA, "sel-1")
	now := time.Now()

	b.ApplyDelta(types.BUY, dec("0.50"), dec("100"), now, 0)
	b.ApplyDelta(types.BUY, dec("0.52"), dec("50"), now, 0)

	bid, _, ok := b.BestBidAsk()
	_ = ok
	snap := b.Snapshot()
	if len(snap.Bids) != 2 {
		t.Fatalf("expected 2 bid levels, got %d", len(snap.Bids))
	}
	if !snap.Bids[0].Price.Equal(dec("0.52")) {
		t.Errorf("top bid = %v, want 0.52 (best first)", snap.Bids[0].Price)
	}
	_ = bid

	// update existing level
	b.ApplyDelta(types.BUY, dec("0.52"), dec("999"), now, 0)
	snap = b.Snapshot()
	if !snap.Bids[0].Size.Equal(dec("999")) {
		t.Errorf("updated size = %v, want 999", snap.Bids[0].Size)
	}

	// remove via zero size
	b.ApplyDelta(types.BUY, dec("0.52"), decimal.Zero, now, 0)
	snap = b.Snapshot()
	if len(snap.Bids) != 1 {
		t.Fatalf("expected level removed, got %d bids", len(snap.Bids))
	}
	if !snap.Bids[0].Price.Equal(dec("0.50")) {
		t.Errorf("remaining bid = %v, want 0.50", snap.Bids[0].Price)
	}
}

func TestMidPriceEmptyBook(t *testing.T) {
	t.Parallel()
	b := NewBook(types.VenueCLOB, "tok")

	if _, ok := b.MidPrice(); ok {
		t.Error("MidPrice should return ok=false for empty book")
	}
}

func TestMidPricePopulated(t *testing.T) {
	t.Parallel()
	b := NewBook(types.VenueCLOB, "tok")
	b.ApplySnapshot(types.OrderBookSnapshot{
		Bids: []types.PriceLevel{lvl("0.50", "100")},
		Asks: []types.PriceLevel{lvl("0.60", "100")},
	})

	mid, ok := b.MidPrice()
	if !ok {
		t.Fatal("MidPrice returned ok=false")
	}
	if !mid.Equal(dec("0.55")) {
		t.Errorf("mid = %v, want 0.55", mid)
	}
}

func TestIsCrossed(t *testing.T) {
	t.Parallel()
	b := NewBook(types.VenueCLOB, "tok")
	b.ApplySnapshot(types.OrderBookSnapshot{
		Bids: []types.PriceLevel{lvl("0.60", "100")},
		Asks: []types.PriceLevel{lvl("0.58", "100")},
	})

	if !b.IsCrossed() {
		t.Error("expected book with bid > ask to be reported crossed")
	}
}

func TestIsStale(t *testing.T) {
	t.Parallel()
	b := NewBook(types.VenueCLOB, "tok")

	if !b.IsStale(time.Second) {
		t.Error("new book should be stale")
	}

	b.ApplySnapshot(types.OrderBookSnapshot{
		Bids: []types.PriceLevel{lvl("0.50", "100")},
		Asks: []types.PriceLevel{lvl("0.60", "100")},
	})
	if b.IsStale(time.Second) {
		t.Error("just-updated book should not be stale")
	}

	time.Sleep(20 * time.Millisecond)
	if !b.IsStale(5 * time.Millisecond) {
		t.Error("book should be stale after maxAge elapses")
	}
}

func TestWalkSide(t *testing.T) {
	t.Parallel()
	b := NewBook(types.VenueCLOB, "tok")
	b.ApplySnapshot(types.OrderBookSnapshot{
		Asks: []types.PriceLevel{lvl("0.50", "100"), lvl("0.52", "100")},
	})

	avg, filled, ok := b.WalkSide(types.BUY, dec("150"))
	if !ok {
		t.Fatal("WalkSide should fill 150 from 200 available")
	}
	if !filled.Equal(dec("150")) {
		t.Errorf("filled = %v, want 150", filled)
	}
	want := dec("0.50").Mul(dec("100")).Add(dec("0.52").Mul(dec("50"))).Div(dec("150"))
	if !avg.Equal(want) {
		t.Errorf("avg price = %v, want %v", avg, want)
	}
}

func TestApplyDeltaDropsOutOfOrderSequence(t *testing.T) {
	t.Parallel()
	b := NewBook(types.VenueExchangeA, "sel-1")
	now := time.Now()

	b.ApplyDelta(types.BUY, dec("0.50"), dec("100"), now, 5)
	b.ApplyDelta(types.BUY, dec("0.60"), dec("100"), now, 3) // stale, arrived after seq 5

	snap := b.Snapshot()
	if len(snap.Bids) != 1 || !snap.Bids[0].Price.Equal(dec("0.50")) {
		t.Fatalf("out-of-order delta should have been dropped, got bids %+v", snap.Bids)
	}
	if b.LastSequence() != 5 {
		t.Errorf("LastSequence() = %d, want 5", b.LastSequence())
	}

	b.ApplyDelta(types.BUY, dec("0.70"), dec("10"), now, 6)
	if b.LastSequence() != 6 {
		t.Errorf("LastSequence() = %d, want 6 after a newer delta", b.LastSequence())
	}
}

func TestApplySnapshotDropsOutOfOrderSequence(t *testing.T) {
	t.Parallel()
	b := NewBook(types.VenueCLOB, "tok")

	b.ApplySnapshot(types.OrderBookSnapshot{SequenceNumber: 10, Bids: []types.PriceLevel{lvl("0.50", "100")}})
	b.ApplySnapshot(types.OrderBookSnapshot{SequenceNumber: 4, Bids: []types.PriceLevel{lvl("0.99", "1")}})

	snap := b.Snapshot()
	if len(snap.Bids) != 1 || !snap.Bids[0].Price.Equal(dec("0.50")) {
		t.Fatalf("stale snapshot should have been dropped, got bids %+v", snap.Bids)
	}
}

func TestWalkSideInsufficientLiquidity(t *testing.T) {
	t.Parallel()
	b := NewBook(types.VenueCLOB, "tok")
	b.ApplySnapshot(types.OrderBookSnapshot{
		Asks: []types.PriceLevel{lvl("0.50", "10")},
	})

	_, filled, ok := b.WalkSide(types.BUY, dec("100"))
	if ok {
		t.Error("expected ok=false when book can't fill target size")
	}
	if !filled.Equal(dec("10")) {
		t.Errorf("filled = %v, want 10 (all available)", filled)
	}
}
