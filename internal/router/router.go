// Package router implements the SmartRouter execution state machine:
// VWAP-validates every leg of an opportunity, gates on projected net
// profit, dispatches legs in parallel, and classifies the outcome as a
// full fill, a clean failure, or a partial fill requiring recovery.
//
// State machine per strategy attempt:
//
//	INIT -> GATING -> DISPATCHING -> {FULL_FILL | ALL_FAIL | PARTIAL}
//	PARTIAL -> RECOVERING -> {RECOVERED | LIQUIDATED}
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"arbiter/internal/chain"
	"arbiter/internal/recovery"
	"arbiter/internal/venue"
	"arbiter/internal/vwap"
	"arbiter/pkg/types"
)

// chainFeePerLeg is the simplified per-on-chain-leg fee estimate used for
// pre-flight gating, mirroring the original router's "$0.05 per tx
// simplified" placeholder ahead of a real gas-cost projection.
const chainFeePerLeg = 0.05

// State is the SmartRouter's classification of one strategy attempt.
type State string

const (
	StateFullFill   State = "FULL_FILL"
	StateAllFail    State = "ALL_FAIL"
	StatePartial    State = "PARTIAL"
	StateRecovered  State = "RECOVERED"
	StateLiquidated State = "LIQUIDATED"
)

// GateReason explains why an attempt was aborted before dispatch.
type GateReason string

const (
	ReasonInsufficientLiquidity GateReason = "insufficient_liquidity"
	ReasonProfitGatingFailed    GateReason = "profit_gating_failed"
)

// GateError is returned when a strategy is aborted before any leg is sent.
type GateError struct {
	Reason GateReason
	Detail string
}

func (e *GateError) Error() string { return fmt.Sprintf("%s: %s", e.Reason, e.Detail) }

// BookSource resolves the current order book for one leg, used for VWAP
// validation. internal/engine wires this to a registry fed by the bus.
type BookSource interface {
	Book(venueID types.Venue, instrumentID string) (types.OrderBookSnapshot, bool)
}

// Router is the SmartRouter: it owns no opportunity-detection logic, only
// the validate/gate/dispatch/recover pipeline that turns an Opportunity
// into filled or unwound inventory.
type Router struct {
	orderClient  venue.OrderClient
	signer       *chain.LocalSigner
	racer        *chain.RpcRacer
	gasEstimator *chain.GasEstimator
	vwapEngine   *vwap.Engine
	books        BookSource
	recovery     *recovery.Handler

	minNetProfit decimal.Decimal
	legTimeout   time.Duration

	logger *slog.Logger
}

// New builds a Router.
func New(
	orderClient venue.OrderClient,
	signer *chain.LocalSigner,
	racer *chain.RpcRacer,
	gasEstimator *chain.GasEstimator,
	vwapEngine *vwap.Engine,
	books BookSource,
	rec *recovery.Handler,
	minNetProfit decimal.Decimal,
	legTimeout time.Duration,
	logger *slog.Logger,
) *Router {
	return &Router{
		orderClient:  orderClient,
		signer:       signer,
		racer:        racer,
		gasEstimator: gasEstimator,
		vwapEngine:   vwapEngine,
		books:        books,
		recovery:     rec,
		minNetProfit: minNetProfit,
		legTimeout:   legTimeout,
		logger:       logger.With("component", "router"),
	}
}

// Execute validates, gates, and dispatches opp, recovering from a partial
// fill if one occurs. It returns a GateError (never a generic error) when
// the attempt is aborted before dispatch, so callers can distinguish
// "no trade happened" from "some legs may now be in flight".
func (r *Router) Execute(ctx context.Context, opp types.Opportunity, expectedPayout decimal.Decimal) (types.ExecutionResult, error) {
	startedAt := time.Now()

	chainFees := r.estimateChainFees(ctx, opp.Legs)

	totalCost, err := r.validateVWAP(opp.Legs)
	if err != nil {
		return types.ExecutionResult{}, err
	}

	netProfit := expectedPayout.Sub(totalCost).Sub(chainFees)
	if netProfit.LessThan(r.minNetProfit) {
		return types.ExecutionResult{}, &GateError{
			Reason: ReasonProfitGatingFailed,
			Detail: fmt.Sprintf("net $%s < min $%s", netProfit.StringFixed(4), r.minNetProfit.StringFixed(4)),
		}
	}

	r.logger.Info("dispatching strategy", "opportunity_id", opp.ID, "net_profit_projected", netProfit.StringFixed(4), "legs", len(opp.Legs))
	legResults := r.dispatch(ctx, opp.Legs)

	var successful []types.LegResult
	var failedLegs []types.ExecutionLeg
	for _, res := range legResults {
		if res.Err != nil {
			failedLegs = append(failedLegs, res.Leg)
			continue
		}
		successful = append(successful, res)
	}

	result := types.ExecutionResult{
		Opportunity: opp,
		Legs:        legResults,
		StartedAt:   startedAt,
		FinishedAt:  time.Now(),
	}

	switch {
	case len(failedLegs) == 0:
		result.FullyFilled = true
		result.RealizedProfit = netProfit
		r.logger.Info("strategy fully filled", "opportunity_id", opp.ID)
	case len(successful) == 0:
		r.logger.Error("strategy failed entirely, flat position", "opportunity_id", opp.ID)
	default:
		r.logger.Warn("partial fill, handing off to recovery", "opportunity_id", opp.ID, "filled", len(successful), "failed", len(failedLegs))
		action, _ := r.recovery.HandlePartialFailure(ctx, successful, failedLegs)
		result.RecoveryAction = string(action)
	}

	return result, nil
}

// estimateChainFees returns the simplified chain-fee projection for any
// on-chain legs in the strategy, warming the gas estimator cache in the
// process so the actual broadcast later reuses fresh gas params.
func (r *Router) estimateChainFees(ctx context.Context, legs []types.ExecutionLeg) decimal.Decimal {
	onChainCount := 0
	for _, leg := range legs {
		if leg.OrderType == types.OrderTypeMint || leg.OrderType == types.OrderTypeMerge {
			onChainCount++
		}
	}
	if onChainCount == 0 {
		return decimal.Zero
	}

	if r.gasEstimator != nil {
		r.gasEstimator.GetOptimalGas(ctx)
	}
	return decimal.NewFromFloat(chainFeePerLeg).Mul(decimal.NewFromInt(int64(onChainCount)))
}

// validateVWAP walks each leg's book depth and returns the total signed
// cost (buys positive, sells negative) net of slippage, or a GateError if
// any leg lacks sufficient depth.
func (r *Router) validateVWAP(legs []types.ExecutionLeg) (decimal.Decimal, error) {
	total := decimal.Zero

	for _, leg := range legs {
		var price decimal.Decimal

		switch {
		case leg.OrderType == types.OrderTypeMint:
			price = decimal.NewFromInt(1)
		case leg.OrderType == types.OrderTypeMerge:
			price = decimal.NewFromInt(1)
		default:
			snap, ok := r.books.Book(leg.Venue, leg.InstrumentID)
			if !ok {
				// No live book cached yet; fall back to the detector's quoted
				// limit price rather than aborting outright.
				price = leg.Price
				break
			}
			levels := snap.Asks
			if leg.Side == types.SELL {
				levels = snap.Bids
			}
			vwapPrice, ok := r.vwapEngine.CalculateVWAP(leg.Side, levels, leg.Size)
			if !ok {
				return decimal.Zero, &GateError{
					Reason: ReasonInsufficientLiquidity,
					Detail: fmt.Sprintf("%s/%s size %s", leg.Venue, leg.InstrumentID, leg.Size),
				}
			}
			price = vwapPrice
		}

		cost := price.Mul(leg.Size)
		if leg.Side == types.SELL && leg.OrderType != types.OrderTypeMint {
			total = total.Sub(cost)
		} else {
			total = total.Add(cost)
		}
	}

	return total, nil
}

// dispatch sends every leg concurrently and waits for all of them,
// matching asyncio.gather(return_exceptions=True): one leg's failure never
// cancels the others, since partial fills are a first-class outcome here,
// not an error to propagate.
func (r *Router) dispatch(ctx context.Context, legs []types.ExecutionLeg) []types.LegResult {
	results := make([]types.LegResult, len(legs))

	var g errgroup.Group
	var mu sync.Mutex

	for i, leg := range legs {
		i, leg := i, leg
		g.Go(func() error {
			legCtx, cancel := context.WithTimeout(ctx, r.legTimeout)
			defer cancel()

			start := time.Now()
			result, err := r.dispatchOne(legCtx, leg)
			result.Duration = time.Since(start)
			result.Leg = leg
			if err != nil {
				result.Err = err
				r.logger.Error("leg failed", "instrument", leg.InstrumentID, "venue", leg.Venue, "err", err)
			}

			mu.Lock()
			results[i] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// dispatchOne routes a single leg to the CLOB order client or the RPC
// racer depending on whether it is an on-chain mint/merge operation.
func (r *Router) dispatchOne(ctx context.Context, leg types.ExecutionLeg) (types.LegResult, error) {
	if leg.OrderType == types.OrderTypeMint || leg.OrderType == types.OrderTypeMerge {
		return r.dispatchOnChain(ctx, leg)
	}
	return r.orderClient.PlaceOrder(ctx, leg)
}

// dispatchOnChain signs a mint/merge transaction and races it to the
// configured RPC endpoints.
func (r *Router) dispatchOnChain(ctx context.Context, leg types.ExecutionLeg) (types.LegResult, error) {
	if r.signer == nil || r.racer == nil {
		return types.LegResult{}, fmt.Errorf("on-chain leg dispatched without a signer/rpc racer configured")
	}

	isMint := leg.OrderType == types.OrderTypeMint
	amount := leg.Size.Shift(6).BigInt() // USDC, 6 decimals

	gas := r.gasEstimator.GetOptimalGas(ctx)
	nonce := uint64(time.Now().UnixNano()) // placeholder; real nonce tracking lives with the funder wallet's tx manager

	rawHex, err := r.signer.SignMintMergeTx(leg.InstrumentID, amount, nonce, isMint, gas)
	if err != nil {
		return types.LegResult{}, fmt.Errorf("sign mint/merge tx: %w", err)
	}

	txHash, err := r.racer.BroadcastTxRacing(ctx, rawHex)
	if err != nil {
		return types.LegResult{}, fmt.Errorf("broadcast mint/merge tx: %w", err)
	}

	return types.LegResult{
		FilledSize: leg.Size,
		AvgPrice:   leg.Price,
		OrderID:    txHash,
	}, nil
}
