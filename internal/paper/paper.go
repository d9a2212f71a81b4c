// Package paper implements a paper-trading ledger: the same execution
// results the SmartRouter produces in live mode are recorded against a
// virtual balance instead of broadcast to a venue, so a strategy can be
// run end-to-end and graded without risking capital.
//
// Grounded on GoPolymarket-polymarket-trader's paper.Simulator (balance
// tracking, fee accounting, trade counters) adapted from a per-order fill
// simulator to a per-opportunity ledger, since this engine's own VWAP and
// Kelly sizing already produce a realistic fill price before the router
// ever reaches paper mode — there is no order book left to simulate
// against here, only the result to book.
package paper

import (
	"encoding/csv"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"arbiter/pkg/types"
)

// Config configures a Ledger's starting state.
type Config struct {
	InitialBalanceUSD decimal.Decimal
}

// Snapshot is a point-in-time read of the ledger's state.
type Snapshot struct {
	InitialBalanceUSD decimal.Decimal
	BalanceUSD        decimal.Decimal
	TotalVolumeUSD    decimal.Decimal
	TotalTrades       int
	Wins              int
	Losses            int
}

// Ledger tracks a virtual balance across recorded execution results and
// mirrors each one to a CSV file for after-the-fact review.
type Ledger struct {
	mu sync.Mutex

	initialBalance decimal.Decimal
	balance        decimal.Decimal
	totalVolume    decimal.Decimal
	totalTrades    int
	wins           int
	losses         int

	csvFile   *os.File
	csvWriter *csv.Writer
}

var csvHeader = []string{
	"timestamp", "opportunity_id", "kind", "fully_filled",
	"realized_profit_usd", "balance_after_usd", "recovery_action",
}

// NewLedger opens (creating if necessary) a CSV ledger at csvPath and
// returns a Ledger seeded with cfg.InitialBalanceUSD.
func NewLedger(cfg Config, csvPath string) (*Ledger, error) {
	initial := cfg.InitialBalanceUSD
	if initial.IsZero() {
		initial = decimal.NewFromInt(1000)
	}

	writeHeader := true
	if info, err := os.Stat(csvPath); err == nil && info.Size() > 0 {
		writeHeader = false
	}

	f, err := os.OpenFile(csvPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open paper ledger csv: %w", err)
	}
	w := csv.NewWriter(f)
	if writeHeader {
		if err := w.Write(csvHeader); err != nil {
			f.Close()
			return nil, fmt.Errorf("write csv header: %w", err)
		}
		w.Flush()
	}

	return &Ledger{
		initialBalance: initial,
		balance:        initial,
		csvFile:        f,
		csvWriter:      w,
	}, nil
}

// Close flushes and closes the underlying CSV file.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.csvWriter.Flush()
	return l.csvFile.Close()
}

// Record applies an ExecutionResult to the virtual balance and appends a
// row to the CSV ledger.
func (l *Ledger) Record(result types.ExecutionResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.balance = l.balance.Add(result.RealizedProfit)
	l.totalTrades++
	if result.RealizedProfit.IsPositive() {
		l.wins++
	} else if result.RealizedProfit.IsNegative() {
		l.losses++
	}

	for _, leg := range result.Legs {
		l.totalVolume = l.totalVolume.Add(leg.AvgPrice.Mul(leg.FilledSize))
	}

	row := []string{
		time.Now().UTC().Format(time.RFC3339),
		result.Opportunity.ID,
		string(result.Opportunity.Kind),
		fmt.Sprintf("%t", result.FullyFilled),
		result.RealizedProfit.String(),
		l.balance.String(),
		result.RecoveryAction,
	}
	if err := l.csvWriter.Write(row); err != nil {
		return fmt.Errorf("write csv row: %w", err)
	}
	l.csvWriter.Flush()
	return l.csvWriter.Error()
}

// Snapshot returns the ledger's current state.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{
		InitialBalanceUSD: l.initialBalance,
		BalanceUSD:        l.balance,
		TotalVolumeUSD:    l.totalVolume,
		TotalTrades:       l.totalTrades,
		Wins:              l.wins,
		Losses:            l.losses,
	}
}
