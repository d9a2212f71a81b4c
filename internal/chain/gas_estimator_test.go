package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGetOptimalGasFromGasStation(t *testing.T) {
	t.Parallel()

	station := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"fast":             map[string]any{"maxFee": 50.0, "maxPriorityFee": 30.0},
			"estimatedBaseFee": 20.0,
		})
	}))
	defer station.Close()

	est := NewGasEstimator(station.URL, "", 1.0, testLogger())
	params := est.GetOptimalGas(context.Background())

	if params.Source != "gas_station" {
		t.Errorf("source = %q, want gas_station", params.Source)
	}
	if params.MaxFeePerGas.Int64() != 50e9 {
		t.Errorf("maxFeePerGas = %v, want 50 gwei", params.MaxFeePerGas)
	}
}

func TestGetOptimalGasFallsBackOnStationFailure(t *testing.T) {
	t.Parallel()

	station := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer station.Close()

	est := NewGasEstimator(station.URL, "", 1.0, testLogger())
	params := est.GetOptimalGas(context.Background())

	if params.Source != "fallback" {
		t.Errorf("source = %q, want fallback", params.Source)
	}
}

func TestPredictNextBaseFeeCapsAtTwelvePointFivePercent(t *testing.T) {
	t.Parallel()
	est := NewGasEstimator("", "", 1.0, testLogger())
	est.baseFeeHist = []int64{100, 100, 200}

	predicted := est.predictNextBaseFee(200)
	maxAllowed := int64(200 + 200*125/1000)
	if predicted > maxAllowed {
		t.Errorf("predicted = %d, exceeds 12.5%% cap of %d", predicted, maxAllowed)
	}
}

func TestPredictNextBaseFeeNoHistoryReturnsCurrent(t *testing.T) {
	t.Parallel()
	est := NewGasEstimator("", "", 1.0, testLogger())
	if got := est.predictNextBaseFee(150); got != 150 {
		t.Errorf("predictNextBaseFee = %d, want 150", got)
	}
}

func TestEstimateTxCostUSD(t *testing.T) {
	t.Parallel()
	est := NewGasEstimator("", "", 1.0, testLogger())
	est.baseFeeHist = []int64{100e9}

	cost := est.EstimateTxCostUSD(200000, 0.5)
	if cost <= 0 {
		t.Errorf("cost = %v, want positive", cost)
	}
}
