package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	gasEstimatorTimeout = 2 * time.Second
	baseFeeHistorySize  = 10
	maxBaseFeeChangePct = 0.125 // EIP-1559 caps base fee movement at 12.5% per block
)

// GasParams is an EIP-1559 fee pair plus the base fee it was derived from.
type GasParams struct {
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	EstimatedBaseFee     *big.Int
	Source               string
}

// GasEstimator predicts EIP-1559 gas parameters for next-block inclusion,
// preferring live RPC fee history and falling back to a gas station API and
// then hardcoded safe values if both sources are unavailable.
type GasEstimator struct {
	http          *resty.Client
	logger        *slog.Logger
	gasStationURL string
	rpcURL        string
	multiplier    float64
	baseFeeHist   []int64
}

// NewGasEstimator builds a GasEstimator. gasMultiplier is a safety factor
// applied to the priority fee (and, for gas-station quotes, to the max fee
// as well) to stay competitive for block inclusion.
func NewGasEstimator(gasStationURL, rpcURL string, gasMultiplier float64, logger *slog.Logger) *GasEstimator {
	if gasMultiplier <= 0 {
		gasMultiplier = 1.1
	}
	return &GasEstimator{
		http:          resty.New().SetTimeout(gasEstimatorTimeout),
		logger:        logger,
		gasStationURL: gasStationURL,
		rpcURL:        rpcURL,
		multiplier:    gasMultiplier,
	}
}

// GetOptimalGas fetches gas parameters, trying RPC fee history first, then
// the gas station API, then a hardcoded fallback.
func (g *GasEstimator) GetOptimalGas(ctx context.Context) GasParams {
	if g.rpcURL != "" {
		if params, err := g.fromRPC(ctx); err == nil {
			return params
		} else {
			g.logger.Debug("rpc gas fetch failed", "err", err)
		}
	}

	params, err := g.fromGasStation(ctx)
	if err != nil {
		g.logger.Warn("gas station fetch failed, using fallback", "err", err)
		return g.fallback()
	}
	return params
}

type feeHistoryResponse struct {
	Result struct {
		BaseFeePerGas []string   `json:"baseFeePerGas"`
		Reward        [][]string `json:"reward"`
	} `json:"result"`
}

func (g *GasEstimator) fromRPC(ctx context.Context) (GasParams, error) {
	payload := map[string]any{
		"jsonrpc": "2.0",
		"method":  "eth_feeHistory",
		"params":  []any{"0x5", "latest", []int{25, 50, 75}},
		"id":      1,
	}

	var parsed feeHistoryResponse
	resp, err := g.http.R().SetContext(ctx).SetBody(payload).SetResult(&parsed).Post(g.rpcURL)
	if err != nil || resp.IsError() {
		return GasParams{}, fmt.Errorf("fee history request failed: %w", err)
	}
	if len(parsed.Result.BaseFeePerGas) == 0 || len(parsed.Result.Reward) == 0 {
		return GasParams{}, fmt.Errorf("empty fee history response")
	}

	latestBase, err := parseHexBigInt(parsed.Result.BaseFeePerGas[len(parsed.Result.BaseFeePerGas)-1])
	if err != nil {
		return GasParams{}, err
	}
	g.updateBaseFeeHistory(latestBase.Int64())
	predictedBase := g.predictNextBaseFee(latestBase.Int64())

	medianPriority := int64(30e9)
	lastReward := parsed.Result.Reward[len(parsed.Result.Reward)-1]
	if len(lastReward) >= 2 {
		if v, err := parseHexBigInt(lastReward[1]); err == nil {
			medianPriority = v.Int64()
		}
	}

	priorityFee := int64(float64(medianPriority) * g.multiplier)
	maxFee := predictedBase + priorityFee*2

	return GasParams{
		MaxFeePerGas:         big.NewInt(maxFee),
		MaxPriorityFeePerGas: big.NewInt(priorityFee),
		EstimatedBaseFee:     big.NewInt(predictedBase),
		Source:               "rpc",
	}, nil
}

type gasStationResponse struct {
	Fast struct {
		MaxFee         float64 `json:"maxFee"`
		MaxPriorityFee float64 `json:"maxPriorityFee"`
	} `json:"fast"`
	EstimatedBaseFee float64 `json:"estimatedBaseFee"`
}

func (g *GasEstimator) fromGasStation(ctx context.Context) (GasParams, error) {
	var parsed gasStationResponse
	resp, err := g.http.R().SetContext(ctx).SetResult(&parsed).Get(g.gasStationURL)
	if err != nil || resp.IsError() {
		return GasParams{}, fmt.Errorf("gas station request failed: %w", err)
	}

	toWei := func(gwei float64) int64 { return int64(gwei * 1e9 * g.multiplier) }
	return GasParams{
		MaxFeePerGas:         big.NewInt(toWei(parsed.Fast.MaxFee)),
		MaxPriorityFeePerGas: big.NewInt(toWei(parsed.Fast.MaxPriorityFee)),
		EstimatedBaseFee:     big.NewInt(int64(parsed.EstimatedBaseFee * 1e9)),
		Source:               "gas_station",
	}, nil
}

func (g *GasEstimator) fallback() GasParams {
	return GasParams{
		MaxFeePerGas:         big.NewInt(300e9),
		MaxPriorityFeePerGas: big.NewInt(50e9),
		EstimatedBaseFee:     big.NewInt(100e9),
		Source:               "fallback",
	}
}

func (g *GasEstimator) updateBaseFeeHistory(baseFee int64) {
	g.baseFeeHist = append(g.baseFeeHist, baseFee)
	if len(g.baseFeeHist) > baseFeeHistorySize {
		g.baseFeeHist = g.baseFeeHist[len(g.baseFeeHist)-baseFeeHistorySize:]
	}
}

// predictNextBaseFee extrapolates the recent base fee trend, damped by
// half, and clamps the result to EIP-1559's 12.5% max per-block change.
func (g *GasEstimator) predictNextBaseFee(current int64) int64 {
	if len(g.baseFeeHist) < 2 {
		return current
	}

	n := len(g.baseFeeHist)
	start := n - 3
	if start < 0 {
		start = 0
	}
	recent := g.baseFeeHist[start:]
	avgChange := float64(recent[len(recent)-1]-recent[0]) / float64(len(recent))

	predicted := current + int64(avgChange*0.5)
	maxIncrease := int64(float64(current) * maxBaseFeeChangePct)
	if predicted > current+maxIncrease {
		return current + maxIncrease
	}
	if predicted < current-maxIncrease {
		return current - maxIncrease
	}
	return predicted
}

// EstimateTxCostUSD converts a gas limit and the last observed base fee
// into an approximate USD transaction cost.
func (g *GasEstimator) EstimateTxCostUSD(gasLimit int64, polPriceUSD float64) float64 {
	baseFee := int64(100e9)
	if len(g.baseFeeHist) > 0 {
		baseFee = g.baseFeeHist[len(g.baseFeeHist)-1]
	}
	priorityFee := int64(30e9)
	totalGasPrice := baseFee + priorityFee

	costWei := float64(gasLimit) * float64(totalGasPrice)
	costMatic := costWei / 1e18
	return costMatic * polPriceUSD
}

func parseHexBigInt(hex string) (*big.Int, error) {
	if len(hex) > 2 && hex[:2] == "0x" {
		hex = hex[2:]
	}
	v, err := strconv.ParseInt(hex, 16, 64)
	if err != nil {
		var ok bool
		bi := new(big.Int)
		bi, ok = bi.SetString(hex, 16)
		if !ok {
			return nil, fmt.Errorf("parse hex big int %q: %w", hex, err)
		}
		return bi, nil
	}
	return big.NewInt(v), nil
}
