package risk

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"arbiter/internal/config"
)

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxDrawdownUSD:       50,
		MaxConsecutiveLosses: 3,
		MaxAPIErrorRate:      5,
		ErrorRateWindow:      time.Minute,
		MaxGlobalExposureUSD: 1000,
		CooldownAfterKill:    5 * time.Minute,
	}
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestGuardian() *Guardian {
	return NewGuardian(testRiskConfig(), 1000, nil, testLogger())
}

func TestCanTradeUnderLimits(t *testing.T) {
	t.Parallel()
	g := newTestGuardian()
	if !g.CanTrade() {
		t.Error("expected CanTrade true with no trades reported")
	}
}

func TestDrawdownKillSwitch(t *testing.T) {
	t.Parallel()
	g := newTestGuardian()

	g.processReport(TradeReport{RealizedPnL: -60, Timestamp: time.Now()})

	if g.CanTrade() {
		t.Error("expected CanTrade false after drawdown exceeds MaxDrawdownUSD")
	}

	select {
	case sig := <-g.killCh:
		if sig.Reason == "" {
			t.Error("expected a non-empty kill reason")
		}
	default:
		t.Error("expected a kill signal on the channel")
	}
}

func TestConsecutiveLossesKillSwitch(t *testing.T) {
	t.Parallel()
	g := newTestGuardian()

	for i := 0; i < 3; i++ {
		g.processReport(TradeReport{RealizedPnL: -1, Timestamp: time.Now()})
	}

	if g.CanTrade() {
		t.Error("expected CanTrade false after MaxConsecutiveLosses losing trades")
	}
}

func TestWinningTradeResetsConsecutiveLosses(t *testing.T) {
	t.Parallel()
	g := newTestGuardian()

	g.processReport(TradeReport{RealizedPnL: -1, Timestamp: time.Now()})
	g.processReport(TradeReport{RealizedPnL: -1, Timestamp: time.Now()})
	g.processReport(TradeReport{RealizedPnL: 5, Timestamp: time.Now()})

	g.mu.RLock()
	losses := g.consecutiveLosses
	g.mu.RUnlock()

	if losses != 0 {
		t.Errorf("consecutiveLosses = %d, want 0 after a winning trade", losses)
	}
}

func TestAPIErrorRateKillSwitch(t *testing.T) {
	t.Parallel()
	g := newTestGuardian()

	for i := 0; i < 5; i++ {
		g.recordAPIError()
	}

	if g.CanTrade() {
		t.Error("expected CanTrade false after MaxAPIErrorRate errors")
	}
}

func TestAPIErrorsTrimOutsideWindow(t *testing.T) {
	t.Parallel()
	g := newTestGuardian()
	g.cfg.ErrorRateWindow = 20 * time.Millisecond

	for i := 0; i < 5; i++ {
		g.recordAPIError()
	}
	time.Sleep(40 * time.Millisecond)
	g.trimExpiredAPIErrors()

	snap := g.Snapshot()
	if snap.RecentAPIErrors != 0 {
		t.Errorf("RecentAPIErrors = %d, want 0 after window expiry", snap.RecentAPIErrors)
	}
}

func TestPauseExpiresAfterCooldown(t *testing.T) {
	t.Parallel()
	g := newTestGuardian()
	g.cfg.CooldownAfterKill = 30 * time.Millisecond
	g.cfg.ErrorRateWindow = 30 * time.Millisecond

	for i := 0; i < 5; i++ {
		g.recordAPIError()
	}
	if g.CanTrade() {
		t.Fatal("expected paused immediately after API error rate breach")
	}

	time.Sleep(50 * time.Millisecond)
	g.trimExpiredAPIErrors()
	if !g.CanTrade() {
		t.Error("expected CanTrade true once both the cooldown and the error window have elapsed")
	}
}
