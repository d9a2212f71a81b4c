package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"arbiter/pkg/types"
)

func TestOpportunityWritesJSONLine(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	l.Opportunity(types.Opportunity{
		ID:         "opp-1",
		Kind:       types.KindAtomic,
		NetEV:      decimal.NewFromFloat(0.12),
		DetectedAt: time.Now(),
	})
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	line := strings.TrimSpace(string(data))

	var decoded map[string]any
	if err := json.Unmarshal([]byte(line), &decoded); err != nil {
		t.Fatalf("line is not valid JSON: %v\n%s", err, line)
	}
	if decoded["kind"] != "opportunity" {
		t.Errorf("kind = %v, want opportunity", decoded["kind"])
	}
	if decoded["opportunity_id"] != "opp-1" {
		t.Errorf("opportunity_id = %v, want opp-1", decoded["opportunity_id"])
	}
}

func TestResultAndEventAppend(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	l.Result(types.ExecutionResult{
		FullyFilled:    false,
		RealizedProfit: decimal.Zero,
		RecoveryAction: "liquidated",
		FinishedAt:     time.Now(),
	})
	l.Event("risk_pause", map[string]any{"reason": "drawdown"})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}

	var second map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("second line not valid JSON: %v", err)
	}
	if second["kind"] != "risk_pause" {
		t.Errorf("kind = %v, want risk_pause", second["kind"])
	}
	if second["reason"] != "drawdown" {
		t.Errorf("reason = %v, want drawdown", second["reason"])
	}
}

func TestOpenAppendsAcrossReopens(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	l1, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	l1.Event("first", nil)
	l1.Close()

	l2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	l2.Event("second", nil)
	l2.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2 across reopen", len(lines))
	}
}
