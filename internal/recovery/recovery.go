// Package recovery implements the anti-loss handler the SmartRouter falls
// back to when a multi-leg strategy partially fills: retry the failed legs
// within a short window, and if that doesn't close the gap, liquidate the
// legs that did fill so the book never carries one-sided inventory risk.
package recovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"arbiter/internal/venue"
	"arbiter/pkg/types"
)

const pollInterval = 50 * time.Millisecond

// Action describes what the handler ended up doing.
type Action string

const (
	ActionRetried    Action = "retried"
	ActionLiquidated Action = "liquidated"
)

// Handler re-submits failed legs for a bounded window, then liquidates any
// successful legs if the failed ones never close.
type Handler struct {
	orderClient venue.OrderClient
	retryWindow time.Duration
	logger      *slog.Logger
}

// New builds a Handler. retryWindow is how long to keep re-submitting
// failed legs before giving up and liquidating.
func New(orderClient venue.OrderClient, retryWindow time.Duration, logger *slog.Logger) *Handler {
	return &Handler{
		orderClient: orderClient,
		retryWindow: retryWindow,
		logger:      logger.With("component", "recovery"),
	}
}

// HandlePartialFailure is the entry point the router calls when a strategy
// comes back with a mix of filled and failed legs. It returns which action
// it took and the results of whatever orders it placed along the way.
//
// On-chain legs (mint/merge) are never retried or liquidated here: they
// either land atomically on-chain or they don't, and once posted there is
// no "inventory" to unwind the way there is for a filled CLOB leg.
func (h *Handler) HandlePartialFailure(ctx context.Context, successful []types.LegResult, failed []types.ExecutionLeg) (Action, []types.LegResult) {
	h.logger.Warn("partial execution detected, attempting recovery",
		"successful", len(successful), "failed", len(failed))

	retried, ok := h.attemptRetry(ctx, failed)
	if ok {
		h.logger.Info("recovery succeeded on retry", "legs", len(retried))
		return ActionRetried, retried
	}

	h.logger.Error("retry window exhausted, liquidating filled legs", "legs", len(successful))
	liquidated := h.liquidatePositions(ctx, successful)
	return ActionLiquidated, liquidated
}

// attemptRetry re-submits each failed CLOB leg aggressively (crossing the
// spread) every pollInterval until every leg fills or retryWindow elapses.
// On-chain legs in the failed set are left for the caller to decide on;
// they never count toward "filled" here.
func (h *Handler) attemptRetry(ctx context.Context, failed []types.ExecutionLeg) ([]types.LegResult, bool) {
	deadline := time.Now().Add(h.retryWindow)
	remaining := failed

	for time.Now().Before(deadline) {
		var stillFailed []types.ExecutionLeg
		var results []types.LegResult

		for _, leg := range remaining {
			if leg.OrderType == types.OrderTypeMint || leg.OrderType == types.OrderTypeMerge {
				stillFailed = append(stillFailed, leg)
				continue
			}

			aggressive := leg
			aggressive.OrderType = types.OrderTypeFOK
			aggressive.Price = aggressivePrice(leg.Side)

			result, err := h.orderClient.PlaceOrder(ctx, aggressive)
			if err != nil {
				h.logger.Warn("retry leg failed", "instrument", leg.InstrumentID, "err", err)
				stillFailed = append(stillFailed, leg)
				continue
			}
			results = append(results, result)
		}

		if len(stillFailed) == 0 {
			return results, true
		}
		remaining = stillFailed

		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(pollInterval):
		}
	}

	return nil, false
}

// liquidatePositions dumps every successful leg at the inverted side,
// crossing the spread to exit as fast as possible.
func (h *Handler) liquidatePositions(ctx context.Context, open []types.LegResult) []types.LegResult {
	var closed []types.LegResult
	for _, filled := range open {
		leg := filled.Leg
		closeSide := types.SELL
		if leg.Side == types.SELL {
			closeSide = types.BUY
		}

		closeLeg := types.ExecutionLeg{
			Venue:        leg.Venue,
			InstrumentID: leg.InstrumentID,
			Side:         closeSide,
			Price:        aggressivePrice(closeSide),
			Size:         filled.FilledSize,
			OrderType:    types.OrderTypeFOK,
		}

		h.logger.Warn("liquidating position", "instrument", leg.InstrumentID, "side", closeSide, "size", closeLeg.Size)

		result, err := h.orderClient.PlaceOrder(ctx, closeLeg)
		if err != nil {
			h.logger.Error("liquidation order failed", "instrument", leg.InstrumentID, "err", err)
			continue
		}
		closed = append(closed, result)
	}
	return closed
}

// aggressivePrice returns a limit price that always crosses the spread:
// $1 to buy, $0 to sell, the binary-market equivalent of a market order.
func aggressivePrice(side types.Side) decimal.Decimal {
	if side == types.BUY {
		return decimal.NewFromInt(1)
	}
	return decimal.Zero
}
