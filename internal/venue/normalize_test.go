package venue

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestDecimalOddsToProbability(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name       string
		odds       string
		commission string
		want       string
	}{
		{"even money no commission", "2.0", "0", "0.5"},
		{"favorite no commission", "1.25", "0", "0.8"},
		{"odds at or below 1 clamps to probability 1", "1.0", "0.02", "1"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := decimalOddsToProbability(decimal.RequireFromString(tc.odds), decimal.RequireFromString(tc.commission))
			want := decimal.RequireFromString(tc.want)
			if !got.Equal(want) {
				t.Errorf("decimalOddsToProbability(%s, %s) = %v, want %v", tc.odds, tc.commission, got, want)
			}
		})
	}
}

func TestDecimalOddsToProbabilityAppliesCommission(t *testing.T) {
	t.Parallel()
	// odds=2.0, commission=0.1 -> netOdds = 1 + (1)*(0.9) = 1.9 -> prob = 1/1.9
	got := decimalOddsToProbability(decimal.NewFromFloat(2.0), decimal.NewFromFloat(0.1))
	want := decimal.NewFromInt(1).Div(decimal.NewFromFloat(1.9))
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}
