// Package risk enforces engine-wide kill switches independent of any single
// market or venue.
//
// The guardian runs as a standalone goroutine that receives TradeReports
// from the router after every execution attempt and checks them against
// three kill switches:
//
//   - Drawdown:        pauses trading once cumulative PnL drops more than
//     MaxDrawdownUSD below the starting balance.
//   - Consecutive losses: pauses trading after MaxConsecutiveLosses losing
//     trades in a row.
//   - API error rate:  pauses trading once MaxAPIErrorRate or more errors
//     land within ErrorRateWindow.
//
// When a limit is breached, the guardian emits a KillSignal on KillCh(),
// persists the pause to disk so a restart doesn't silently clear it, and
// stays paused until CooldownAfterKill elapses.
package risk

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"arbiter/internal/config"
	"arbiter/internal/store"
)

const killStateKey = "risk_kill_state"

// TradeReport is sent by the router after every execution attempt.
type TradeReport struct {
	OpportunityID string
	RealizedPnL   float64
	Timestamp     time.Time
}

// KillSignal tells the engine to halt new strategy dispatch.
type KillSignal struct {
	Reason string
	Until  time.Time
}

// killState is the subset of Guardian state persisted across restarts.
type killState struct {
	PauseUntil        time.Time `json:"pause_until"`
	CurrentBalance    float64   `json:"current_balance"`
	ConsecutiveLosses int       `json:"consecutive_losses"`
}

// Guardian aggregates trade outcomes and API error events and enforces the
// engine-wide kill switches.
type Guardian struct {
	cfg    config.RiskConfig
	logger *slog.Logger
	store  *store.Store

	mu                sync.RWMutex
	initialBalance    float64
	currentBalance    float64
	consecutiveLosses int
	pauseUntil        time.Time
	apiErrors         []time.Time

	reportCh   chan TradeReport
	apiErrorCh chan struct{}
	killCh     chan KillSignal
}

// NewGuardian builds a Guardian with the given starting balance, persisting
// kill-switch state through st (may be nil to disable persistence, e.g. in
// tests). On construction it tries to restore any pause that survived a
// restart.
func NewGuardian(cfg config.RiskConfig, initialBalance float64, st *store.Store, logger *slog.Logger) *Guardian {
	g := &Guardian{
		cfg:            cfg,
		logger:         logger.With("component", "risk"),
		store:          st,
		initialBalance: initialBalance,
		currentBalance: initialBalance,
		reportCh:       make(chan TradeReport, 100),
		apiErrorCh:     make(chan struct{}, 100),
		killCh:         make(chan KillSignal, 10),
	}
	g.restore()
	return g
}

func (g *Guardian) restore() {
	if g.store == nil {
		return
	}
	var state killState
	ok, err := g.store.Load(killStateKey, &state)
	if err != nil {
		g.logger.Warn("failed to load persisted kill state", "err", err)
		return
	}
	if !ok {
		return
	}
	g.pauseUntil = state.PauseUntil
	g.currentBalance = state.CurrentBalance
	g.consecutiveLosses = state.ConsecutiveLosses
	if time.Now().Before(g.pauseUntil) {
		g.logger.Warn("restored active kill-switch pause from disk", "until", g.pauseUntil)
	}
}

func (g *Guardian) persist() {
	if g.store == nil {
		return
	}
	state := killState{
		PauseUntil:        g.pauseUntil,
		CurrentBalance:    g.currentBalance,
		ConsecutiveLosses: g.consecutiveLosses,
	}
	if err := g.store.Save(killStateKey, state); err != nil {
		g.logger.Warn("failed to persist kill state", "err", err)
	}
}

// Run starts the guardian's event loop until ctx is cancelled.
func (g *Guardian) Run(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case report := <-g.reportCh:
			g.processReport(report)
		case <-g.apiErrorCh:
			g.recordAPIError()
		case <-ticker.C:
			g.trimExpiredAPIErrors()
		}
	}
}

// Report submits a trade outcome (non-blocking).
func (g *Guardian) Report(report TradeReport) {
	select {
	case g.reportCh <- report:
	default:
		g.logger.Warn("risk report channel full, dropping report", "opportunity_id", report.OpportunityID)
	}
}

// ReportAPIError records a venue/RPC API error toward the error-rate kill
// switch (non-blocking).
func (g *Guardian) ReportAPIError() {
	select {
	case g.apiErrorCh <- struct{}{}:
	default:
	}
}

// KillCh returns the channel the engine reads kill signals from.
func (g *Guardian) KillCh() <-chan KillSignal {
	return g.killCh
}

// CanTrade reports whether the guardian currently permits new strategy
// dispatch. This is the fast, lock-protected check the engine makes before
// handing each opportunity to the router.
func (g *Guardian) CanTrade() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if time.Now().Before(g.pauseUntil) {
		return false
	}
	if g.drawdown() > g.cfg.MaxDrawdownUSD {
		return false
	}
	if g.consecutiveLosses >= g.cfg.MaxConsecutiveLosses {
		return false
	}
	if float64(len(g.apiErrors)) >= g.cfg.MaxAPIErrorRate {
		return false
	}
	return true
}

// drawdown returns the dollar loss from the initial balance, floored at 0.
func (g *Guardian) drawdown() float64 {
	loss := g.initialBalance - g.currentBalance
	if loss < 0 {
		return 0
	}
	return loss
}

func (g *Guardian) processReport(report TradeReport) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.currentBalance += report.RealizedPnL
	if report.RealizedPnL < 0 {
		g.consecutiveLosses++
	} else {
		g.consecutiveLosses = 0
	}

	if g.drawdown() > g.cfg.MaxDrawdownUSD {
		g.pause("max drawdown breached")
	}
	if g.consecutiveLosses >= g.cfg.MaxConsecutiveLosses {
		g.pause("consecutive loss limit breached")
	}
	g.persist()
}

func (g *Guardian) recordAPIError() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	g.apiErrors = append(g.apiErrors, now)
	g.trimAPIErrorsLocked(now)

	if float64(len(g.apiErrors)) >= g.cfg.MaxAPIErrorRate {
		g.pause("API error rate limit breached")
	}
}

func (g *Guardian) trimExpiredAPIErrors() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.trimAPIErrorsLocked(time.Now())
}

func (g *Guardian) trimAPIErrorsLocked(now time.Time) {
	cutoff := 0
	for cutoff < len(g.apiErrors) && now.Sub(g.apiErrors[cutoff]) > g.cfg.ErrorRateWindow {
		cutoff++
	}
	g.apiErrors = g.apiErrors[cutoff:]
}

// pause must be called with g.mu held.
func (g *Guardian) pause(reason string) {
	g.pauseUntil = time.Now().Add(g.cfg.CooldownAfterKill)
	g.logger.Error("risk kill switch engaged", "reason", reason, "cooldown_until", g.pauseUntil)

	sig := KillSignal{Reason: reason, Until: g.pauseUntil}
	select {
	case g.killCh <- sig:
	default:
		select {
		case <-g.killCh:
		default:
		}
		g.killCh <- sig
	}
	g.persist()
}

// Snapshot returns a point-in-time view of the guardian's aggregate state,
// for the metrics exporter and the audit log.
type Snapshot struct {
	CurrentBalance    float64
	Drawdown          float64
	ConsecutiveLosses int
	PauseActive       bool
	PauseUntil        time.Time
	RecentAPIErrors   int
}

func (g *Guardian) Snapshot() Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return Snapshot{
		CurrentBalance:    g.currentBalance,
		Drawdown:          g.drawdown(),
		ConsecutiveLosses: g.consecutiveLosses,
		PauseActive:       time.Now().Before(g.pauseUntil),
		PauseUntil:        g.pauseUntil,
		RecentAPIErrors:   len(g.apiErrors),
	}
}
