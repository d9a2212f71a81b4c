package router

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"arbiter/internal/recovery"
	"arbiter/internal/vwap"
	"arbiter/pkg/types"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func lvl(price, size string) types.PriceLevel {
	return types.PriceLevel{Price: dec(price), Size: dec(size)}
}

// fakeBooks serves fixed snapshots keyed by instrument ID, ignoring venue.
type fakeBooks struct {
	snapshots map[string]types.OrderBookSnapshot
}

func (f *fakeBooks) Book(venueID types.Venue, instrumentID string) (types.OrderBookSnapshot, bool) {
	snap, ok := f.snapshots[instrumentID]
	return snap, ok
}

type fakeOrderClient struct {
	placeFn func(leg types.ExecutionLeg) (types.LegResult, error)
}

func (f *fakeOrderClient) Venue() types.Venue                        { return types.VenueCLOB }
func (f *fakeOrderClient) Run(ctx context.Context) error             { return nil }
func (f *fakeOrderClient) Subscribe(instrumentIDs ...string) error   { return nil }
func (f *fakeOrderClient) Unsubscribe(instrumentIDs ...string) error { return nil }
func (f *fakeOrderClient) CancelAll(ctx context.Context) error       { return nil }
func (f *fakeOrderClient) PlaceOrder(ctx context.Context, leg types.ExecutionLeg) (types.LegResult, error) {
	return f.placeFn(leg)
}

func newTestRouter(client *fakeOrderClient, books *fakeBooks, minNetProfit string) *Router {
	rec := recovery.New(client, 50*time.Millisecond, testLogger())
	return New(client, nil, nil, nil, vwap.New(dec("0")), books, rec, dec(minNetProfit), time.Second, testLogger())
}

func TestExecuteFullFill(t *testing.T) {
	t.Parallel()
	client := &fakeOrderClient{
		placeFn: func(leg types.ExecutionLeg) (types.LegResult, error) {
			return types.LegResult{Leg: leg, FilledSize: leg.Size, AvgPrice: leg.Price, OrderID: "ok"}, nil
		},
	}
	books := &fakeBooks{snapshots: map[string]types.OrderBookSnapshot{
		"yes-1": {Asks: []types.PriceLevel{lvl("0.45", "100")}},
	}}
	r := newTestRouter(client, books, "0.01")

	opp := types.Opportunity{
		ID: "opp-1",
		Legs: []types.ExecutionLeg{
			{Venue: types.VenueCLOB, InstrumentID: "yes-1", Side: types.BUY, Price: dec("0.45"), Size: dec("10"), OrderType: types.OrderTypeFOK},
		},
	}

	result, err := r.Execute(context.Background(), opp, dec("10"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.FullyFilled {
		t.Error("expected FullyFilled")
	}
}

func TestExecuteProfitGateRejects(t *testing.T) {
	t.Parallel()
	client := &fakeOrderClient{
		placeFn: func(leg types.ExecutionLeg) (types.LegResult, error) {
			t.Fatal("should not dispatch when gated")
			return types.LegResult{}, nil
		},
	}
	books := &fakeBooks{snapshots: map[string]types.OrderBookSnapshot{
		"yes-1": {Asks: []types.PriceLevel{lvl("0.95", "100")}},
	}}
	r := newTestRouter(client, books, "1.0")

	opp := types.Opportunity{
		Legs: []types.ExecutionLeg{
			{Venue: types.VenueCLOB, InstrumentID: "yes-1", Side: types.BUY, Price: dec("0.95"), Size: dec("10"), OrderType: types.OrderTypeFOK},
		},
	}

	_, err := r.Execute(context.Background(), opp, dec("9.6"))
	var gateErr *GateError
	if !errors.As(err, &gateErr) {
		t.Fatalf("expected GateError, got %v", err)
	}
	if gateErr.Reason != ReasonProfitGatingFailed {
		t.Errorf("reason = %v, want ReasonProfitGatingFailed", gateErr.Reason)
	}
}

func TestExecuteInsufficientLiquidityGate(t *testing.T) {
	t.Parallel()
	client := &fakeOrderClient{placeFn: func(leg types.ExecutionLeg) (types.LegResult, error) {
		t.Fatal("should not dispatch when gated")
		return types.LegResult{}, nil
	}}
	books := &fakeBooks{snapshots: map[string]types.OrderBookSnapshot{
		"yes-1": {Asks: []types.PriceLevel{lvl("0.45", "1")}},
	}}
	r := newTestRouter(client, books, "0")

	opp := types.Opportunity{
		Legs: []types.ExecutionLeg{
			{Venue: types.VenueCLOB, InstrumentID: "yes-1", Side: types.BUY, Price: dec("0.45"), Size: dec("100"), OrderType: types.OrderTypeFOK},
		},
	}

	_, err := r.Execute(context.Background(), opp, dec("100"))
	var gateErr *GateError
	if !errors.As(err, &gateErr) {
		t.Fatalf("expected GateError, got %v", err)
	}
	if gateErr.Reason != ReasonInsufficientLiquidity {
		t.Errorf("reason = %v, want ReasonInsufficientLiquidity", gateErr.Reason)
	}
}

func TestExecutePartialFillTriggersRecovery(t *testing.T) {
	t.Parallel()
	client := &fakeOrderClient{
		placeFn: func(leg types.ExecutionLeg) (types.LegResult, error) {
			if leg.InstrumentID == "no-1" && leg.OrderType == types.OrderTypeFOK && leg.Side == types.BUY && leg.Price.Equal(dec("1")) {
				// retry leg from recovery succeeds
				return types.LegResult{Leg: leg, FilledSize: leg.Size, OrderID: "retry-ok"}, nil
			}
			if leg.InstrumentID == "yes-1" {
				return types.LegResult{Leg: leg, FilledSize: leg.Size, OrderID: "first-ok"}, nil
			}
			return types.LegResult{}, errors.New("no liquidity")
		},
	}
	books := &fakeBooks{snapshots: map[string]types.OrderBookSnapshot{
		"yes-1": {Asks: []types.PriceLevel{lvl("0.40", "100")}},
		"no-1":  {Asks: []types.PriceLevel{lvl("0.40", "100")}},
	}}
	r := newTestRouter(client, books, "0")

	opp := types.Opportunity{
		Legs: []types.ExecutionLeg{
			{Venue: types.VenueCLOB, InstrumentID: "yes-1", Side: types.BUY, Price: dec("0.40"), Size: dec("10"), OrderType: types.OrderTypeFOK},
			{Venue: types.VenueCLOB, InstrumentID: "no-1", Side: types.BUY, Price: dec("0.40"), Size: dec("10"), OrderType: types.OrderTypeFOK},
		},
	}

	result, err := r.Execute(context.Background(), opp, dec("10"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.FullyFilled {
		t.Error("should not be marked fully filled at the router level even if recovery recovers it")
	}
	if result.RecoveryAction != string(recovery.ActionRetried) {
		t.Errorf("RecoveryAction = %q, want %q", result.RecoveryAction, recovery.ActionRetried)
	}
}
