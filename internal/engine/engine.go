// Package engine is the central orchestrator of the arbitrage bot.
//
// It wires together every subsystem:
//
//  1. Three venue clients (CLOB, ExchangeA, ExchangeB) ingest normalized
//     market data onto a shared bus.
//  2. A mapping table correlates instruments across venues into
//     MarketMappings.
//  3. Engine maintains the latest quote per mapping leg and feeds complete
//     pairs to the atomic and cross-venue detectors, and complete
//     same-event groups to the multi-market polytope detector.
//  4. A detected Opportunity is Kelly-sized against the current bankroll,
//     gated by the risk guardian and per-venue circuit breakers, then handed
//     to the SmartRouter for VWAP validation, profit gating, and dispatch.
//  5. Every stage mirrors to the audit log, the paper ledger (when enabled),
//     the metrics exporter, and the alert manager.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop()
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"arbiter/internal/audit"
	"arbiter/internal/breaker"
	"arbiter/internal/bus"
	"arbiter/internal/chain"
	"arbiter/internal/config"
	"arbiter/internal/detect"
	"arbiter/internal/kelly"
	"arbiter/internal/mapping"
	"arbiter/internal/metrics"
	"arbiter/internal/notify"
	"arbiter/internal/paper"
	"arbiter/internal/polytope"
	"arbiter/internal/recovery"
	"arbiter/internal/risk"
	"arbiter/internal/router"
	"arbiter/internal/store"
	"arbiter/internal/venue"
	"arbiter/internal/vwap"
	"arbiter/pkg/types"
)

const (
	breakerThreshold = 5
	breakerCooldown  = 30 * time.Second
)

// instrumentKey identifies one venue+instrument book in the engine's book
// registry.
type instrumentKey struct {
	venue        types.Venue
	instrumentID string
}

// mappingQuotes holds the most recent tick this engine has seen for each
// leg of one MarketMapping. A detector only runs once the legs it needs
// are both present.
type mappingQuotes struct {
	clobYes   *types.MarketUpdate
	clobNo    *types.MarketUpdate
	exchangeA *types.MarketUpdate
	exchangeB *types.MarketUpdate
}

// Engine orchestrates ingestion, detection, sizing, risk gating, and
// execution for the arbitrage strategy.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger

	bus           *bus.Bus
	mappingSource *mapping.Source

	clobClient      *venue.CLOBClient
	exchangeAClient *venue.ExchangeAClient
	exchangeBClient *venue.ExchangeBClient

	atomicDetector   *detect.AtomicDetector
	crossDetector    *detect.ArbitrageDetector
	polytopeDetector *detect.PolytopeDetector
	kellySizer       *kelly.Sizer

	router          *router.Router
	recoveryHandler *recovery.Handler
	guardian        *risk.Guardian

	signer       *chain.LocalSigner
	racer        *chain.RpcRacer
	gasEstimator *chain.GasEstimator

	breakersMu sync.Mutex
	breakers   map[types.Venue]*breaker.Breaker

	metricsExporter *metrics.Exporter
	metricsServer   *metrics.Server
	auditLog        *audit.Log
	paperLedger     *paper.Ledger
	notifier        *notify.Manager

	store *store.Store

	booksMu sync.RWMutex
	books   map[instrumentKey]types.OrderBookSnapshot

	quotesMu sync.Mutex
	quotes   map[string]*mappingQuotes // mapping ID -> latest quotes

	riskHaltOnce sync.Once
	riskHaltCh   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and wires all engine components. It never starts any
// goroutines; call Start for that.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	st, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	b := bus.New(logger)

	mappingSource, err := mapping.NewSource(cfg.Mapping.FilePath, cfg.Mapping.MinConfidence, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("load mapping table: %w", err)
	}

	dryRun := cfg.DryRun || cfg.Mode != "live"

	var signer *chain.LocalSigner
	if cfg.Mode == "live" {
		signer, err = chain.NewLocalSigner(cfg.Wallet)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("build signer: %w", err)
		}
	}

	clobCfg := toVenueConfig(types.VenueCLOB, cfg.Venues.CLOB, cfg.Detection.StaleBookTimeout)
	clobClient := venue.NewCLOBClient(clobCfg, b, signer, dryRun, logger)

	var exchangeAClient *venue.ExchangeAClient
	if cfg.Venues.ExchangeA.BaseURL != "" {
		exchangeAClient = venue.NewExchangeAClient(toVenueConfig(types.VenueExchangeA, cfg.Venues.ExchangeA, cfg.Detection.StaleBookTimeout), b, logger)
	}

	var exchangeBClient *venue.ExchangeBClient
	if cfg.Venues.ExchangeB.BaseURL != "" {
		exchangeBClient = venue.NewExchangeBClient(toVenueConfig(types.VenueExchangeB, cfg.Venues.ExchangeB, cfg.Detection.StaleBookTimeout), cfg.Venues.PollInterval, b, logger)
	}

	racer := chain.NewRpcRacer(cfg.RPC.Endpoints, logger)
	rpcURL := ""
	if len(cfg.RPC.Endpoints) > 0 {
		rpcURL = cfg.RPC.Endpoints[0]
	}
	gasEstimator := chain.NewGasEstimator(cfg.RPC.GasStationURL, rpcURL, 0, logger)

	atomicDetector := detect.NewAtomicDetector(
		decimal.NewFromFloat(cfg.Detection.AtomicEpsilon),
		decimal.NewFromFloat(cfg.Detection.MinEV),
		decimal.NewFromFloat(cfg.Detection.AtomicMinProfitAbs),
		decimal.NewFromFloat(cfg.Venues.CLOB.FeeRatePct),
		logger,
	)
	crossDetector := detect.NewArbitrageDetector(decimal.NewFromFloat(cfg.Detection.MinEV), cfg.Detection.CooldownPerMapping, logger)
	projector := polytope.NewProjector(polytope.ProjectorConfig{
		MaxIterations: cfg.Polytope.MaxIterations,
		Tolerance:     cfg.Polytope.Tolerance,
		BarrierWeight: cfg.Polytope.BarrierWeight,
		StallRounds:   cfg.Polytope.StallRounds,
	}, cfg.Polytope.CacheSize)
	polytopeDetector := detect.NewPolytopeDetector(
		decimal.NewFromFloat(cfg.Polytope.DeviationThreshold),
		decimal.NewFromFloat(cfg.Polytope.MinNetProfit),
		cfg.Polytope.CooldownPerEvent,
		projector,
		logger,
	)
	kellySizer := kelly.New(
		decimal.NewFromFloat(cfg.Execution.KellyFraction),
		decimal.NewFromFloat(cfg.Risk.MaxExposurePct),
		decimal.NewFromFloat(1),
	)

	guardian := risk.NewGuardian(cfg.Risk, cfg.Paper.StartBalance, st, logger)
	recoveryHandler := recovery.New(clobClient, cfg.Execution.RecoveryWindow, logger)

	e := &Engine{
		cfg:             cfg,
		logger:          logger.With("component", "engine"),
		bus:             b,
		mappingSource:   mappingSource,
		clobClient:      clobClient,
		exchangeAClient: exchangeAClient,
		exchangeBClient:  exchangeBClient,
		atomicDetector:   atomicDetector,
		crossDetector:    crossDetector,
		polytopeDetector: polytopeDetector,
		kellySizer:       kellySizer,
		recoveryHandler:  recoveryHandler,
		guardian:         guardian,
		signer:           signer,
		racer:            racer,
		gasEstimator:     gasEstimator,
		breakers:         make(map[types.Venue]*breaker.Breaker),
		store:            st,
		books:            make(map[instrumentKey]types.OrderBookSnapshot),
		quotes:           make(map[string]*mappingQuotes),
		riskHaltCh:       make(chan struct{}),
	}
	e.router = router.New(
		clobClient, signer, racer, gasEstimator,
		vwap.New(decimal.NewFromFloat(cfg.Execution.VWAPSlippageBps/10000)),
		e, recoveryHandler,
		decimal.NewFromFloat(cfg.Execution.MinNetProfitUSD),
		cfg.Execution.LegTimeout,
		logger,
	)

	if cfg.Metrics.Enabled {
		e.metricsExporter = metrics.New()
		e.metricsServer = metrics.NewServer(cfg.Metrics.Port, e.metricsExporter, logger)
	}
	if cfg.Audit.Path != "" {
		auditLog, err := audit.Open(cfg.Audit.Path)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		e.auditLog = auditLog
	}
	if cfg.Mode == "paper" {
		ledger, err := paper.NewLedger(paper.Config{InitialBalanceUSD: decimal.NewFromFloat(cfg.Paper.StartBalance)}, cfg.Paper.LedgerPath)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("open paper ledger: %w", err)
		}
		e.paperLedger = ledger
	}

	sinks := []notify.Sink{notify.NewConsoleSink(logger)}
	if cfg.Notify.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookSink(cfg.Notify.WebhookURL))
	}
	e.notifier = notify.NewManager(cfg.Notify.MinLevel, logger, sinks...)

	return e, nil
}

func toVenueConfig(v types.Venue, ep config.VenueEndpoint, staleTimeout time.Duration) types.VenueConfig {
	settlement := "cash"
	if v == types.VenueCLOB {
		settlement = "on_chain"
	}
	return types.VenueConfig{
		Venue:        v,
		BaseURL:      ep.BaseURL,
		WSURL:        ep.WSURL,
		FeeRate:      decimal.NewFromFloat(ep.FeeRatePct),
		Settlement:   settlement,
		APIKey:       ep.APIKey,
		APISecret:    ep.APISecret,
		Passphrase:   ep.Passphrase,
		StaleTimeout: staleTimeout,
	}
}

// Book implements router.BookSource against the engine's own book registry,
// fed by every MarketUpdate this engine consumes off the bus.
func (e *Engine) Book(venueID types.Venue, instrumentID string) (types.OrderBookSnapshot, bool) {
	e.booksMu.RLock()
	defer e.booksMu.RUnlock()
	snap, ok := e.books[instrumentKey{venue: venueID, instrumentID: instrumentID}]
	return snap, ok
}

// Start launches every background goroutine: venue clients, mapping
// reloads, the risk guardian, the metrics server, and the ingestion loop.
func (e *Engine) Start() error {
	e.ctx, e.cancel = context.WithCancel(context.Background())

	if err := e.subscribeAll(); err != nil {
		return fmt.Errorf("subscribe venues: %w", err)
	}

	e.goRun("venue.clob", e.clobClient.Run)
	if e.exchangeAClient != nil {
		e.goRun("venue.exchange_a", e.exchangeAClient.Run)
	}
	if e.exchangeBClient != nil {
		e.goRun("venue.exchange_b", e.exchangeBClient.Run)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.mappingSource.Run(e.ctx, e.cfg.Mapping.ReloadInterval)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.guardian.Run(e.ctx)
	}()

	if e.metricsServer != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.metricsServer.Start(); err != nil {
				e.logger.Error("metrics server error", "error", err)
			}
		}()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.ingestLoop()
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.killLoop()
	}()

	e.logger.Info("engine started", "mode", e.cfg.Mode, "dry_run", e.cfg.DryRun, "mappings", e.mappingSource.Table().Len())
	return nil
}

// goRun runs a venue client's Run method in a tracked goroutine, logging
// any error that isn't just context cancellation.
func (e *Engine) goRun(name string, run func(context.Context) error) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("venue client stopped with error", "client", name, "error", err)
		}
	}()
}

// subscribeAll subscribes every venue client to the instruments its current
// mapping table references.
func (e *Engine) subscribeAll() error {
	table := e.mappingSource.Table()

	var clobTokens, exchangeASelections, exchangeBMarkets []string
	for _, m := range table.All() {
		if m.CLOBYesTokenID != "" {
			clobTokens = append(clobTokens, m.CLOBYesTokenID)
		}
		if m.CLOBNoTokenID != "" {
			clobTokens = append(clobTokens, m.CLOBNoTokenID)
		}
		if m.ExchangeASelectionID != "" {
			exchangeASelections = append(exchangeASelections, m.ExchangeASelectionID)
		}
		if m.ExchangeBMarketID != "" {
			exchangeBMarkets = append(exchangeBMarkets, m.ExchangeBMarketID)
		}
	}

	if len(clobTokens) > 0 {
		if err := e.clobClient.Subscribe(clobTokens...); err != nil {
			return fmt.Errorf("subscribe clob: %w", err)
		}
	}
	if e.exchangeAClient != nil && len(exchangeASelections) > 0 {
		if err := e.exchangeAClient.Subscribe(exchangeASelections...); err != nil {
			return fmt.Errorf("subscribe exchange_a: %w", err)
		}
	}
	if e.exchangeBClient != nil && len(exchangeBMarkets) > 0 {
		if err := e.exchangeBClient.Subscribe(exchangeBMarkets...); err != nil {
			return fmt.Errorf("subscribe exchange_b: %w", err)
		}
	}
	return nil
}

// ingestLoop consumes normalized updates off the bus, maintains the book
// registry and per-mapping quote cache, and feeds the detectors.
func (e *Engine) ingestLoop() {
	updates, unsubscribe := e.bus.Subscribe(e.ctx)
	defer unsubscribe()

	for {
		select {
		case <-e.ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			e.handleUpdate(update)
		}
	}
}

func (e *Engine) handleUpdate(update types.MarketUpdate) {
	if update.Book != nil {
		e.booksMu.Lock()
		e.books[instrumentKey{venue: update.Venue, instrumentID: update.InstrumentID}] = *update.Book
		e.booksMu.Unlock()
	}

	m, ok := e.mappingSource.Table().ByInstrument(update.Venue, update.InstrumentID)
	if !ok {
		return
	}

	q := e.updateQuotes(m, update)
	e.tryDetect(m, q)
}

// supersedes reports whether incoming should replace cached in the quote
// cache. A SequenceNumber of 0 opts out of the check (unset by the
// producer); otherwise an update with a sequence number at or below the
// cached one is out of order and is dropped.
func supersedes(cached *types.MarketUpdate, incoming types.MarketUpdate) bool {
	if cached == nil {
		return true
	}
	if incoming.SequenceNumber == 0 || cached.SequenceNumber == 0 {
		return true
	}
	return incoming.SequenceNumber > cached.SequenceNumber
}

func (e *Engine) updateQuotes(m types.MarketMapping, update types.MarketUpdate) mappingQuotes {
	e.quotesMu.Lock()
	defer e.quotesMu.Unlock()

	q, ok := e.quotes[m.ID]
	if !ok {
		q = &mappingQuotes{}
		e.quotes[m.ID] = q
	}

	u := update
	switch {
	case update.Venue == types.VenueCLOB && update.InstrumentID == m.CLOBYesTokenID:
		if supersedes(q.clobYes, update) {
			q.clobYes = &u
		}
	case update.Venue == types.VenueCLOB && update.InstrumentID == m.CLOBNoTokenID:
		if supersedes(q.clobNo, update) {
			q.clobNo = &u
		}
	case update.Venue == types.VenueExchangeA:
		if supersedes(q.exchangeA, update) {
			q.exchangeA = &u
		}
	case update.Venue == types.VenueExchangeB:
		if supersedes(q.exchangeB, update) {
			q.exchangeB = &u
		}
	}
	return *q
}

// fresh reports whether u was received within the configured staleness
// window. A nil or stale update can't be trusted for detection: the
// counterpart leg may have moved since the cached tick was taken.
func (e *Engine) fresh(u *types.MarketUpdate) bool {
	if u == nil {
		return false
	}
	return time.Since(u.ReceivedAt) <= e.cfg.Detection.StaleBookTimeout
}

// tryDetect runs every detector whose required legs are present in q and
// fresh, and processes any opportunity found. A leg older than
// StaleBookTimeout skips the detection pass it would otherwise feed,
// rather than running a detector against a stale counterpart quote.
func (e *Engine) tryDetect(m types.MarketMapping, q mappingQuotes) {
	if e.fresh(q.clobYes) && e.fresh(q.clobNo) {
		if opp, found := e.atomicDetector.Check(m, *q.clobYes, *q.clobNo); found {
			e.processOpportunity(opp)
		}
	}
	if e.fresh(q.clobYes) && e.fresh(q.exchangeA) {
		if opp, found := e.crossDetector.Check(m, *q.clobYes, *q.exchangeA); found {
			e.processOpportunity(opp)
		}
	}
	if e.fresh(q.clobYes) && e.fresh(q.exchangeB) {
		if opp, found := e.crossDetector.Check(m, *q.clobYes, *q.exchangeB); found {
			e.processOpportunity(opp)
		}
	}
	if m.EventName != "" {
		e.tryDetectMultiMarket(m.EventName)
	}
}

// tryDetectMultiMarket gathers every mapping sharing eventName and runs the
// polytope detector only when a fresh CLOB YES quote is cached for every one
// of them. An event with fewer than two mappings never has an arbitrage, so
// it is skipped.
func (e *Engine) tryDetectMultiMarket(eventName string) {
	var groupMappings []types.MarketMapping
	for _, m := range e.mappingSource.Table().All() {
		if m.EventName == eventName {
			groupMappings = append(groupMappings, m)
		}
	}
	if len(groupMappings) < 2 {
		return
	}

	e.quotesMu.Lock()
	var quotes []types.MarketUpdate
	for _, m := range groupMappings {
		q, ok := e.quotes[m.ID]
		if !ok || !e.fresh(q.clobYes) {
			e.quotesMu.Unlock()
			return
		}
		quotes = append(quotes, *q.clobYes)
	}
	e.quotesMu.Unlock()

	if opp, found := e.polytopeDetector.Check(eventName, groupMappings, quotes); found {
		e.processOpportunity(opp)
	}
}

// processOpportunity sizes, gates, and (if allowed) executes a detected
// Opportunity, mirroring every stage to audit/metrics/notify.
func (e *Engine) processOpportunity(opp types.Opportunity) {
	if e.auditLog != nil {
		e.auditLog.Opportunity(opp)
	}
	if e.metricsExporter != nil {
		netEV, _ := opp.NetEV.Float64()
		e.metricsExporter.RecordOpportunity(string(opp.Kind), netEV)
	}

	opp = e.sizeOpportunity(opp)
	if opp.Legs[0].Size.IsZero() {
		return
	}

	if !e.guardian.CanTrade() {
		e.logger.Debug("opportunity skipped, risk guardian paused trading", "opportunity_id", opp.ID)
		return
	}
	for _, venueID := range opportunityVenues(opp) {
		if !e.breakerFor(venueID).Allow() {
			e.logger.Debug("opportunity skipped, venue breaker open", "opportunity_id", opp.ID, "venue", venueID)
			return
		}
	}

	expectedPayout := e.expectedPayout(opp)
	result, err := e.router.Execute(e.ctx, opp, expectedPayout)
	if err != nil {
		e.logger.Debug("opportunity gated before dispatch", "opportunity_id", opp.ID, "reason", err)
		return
	}

	e.recordResult(result)
}

// sizeOpportunity scales an Opportunity's leg sizes down to the Kelly stake
// implied by the engine's current bankroll, never scaling them up.
func (e *Engine) sizeOpportunity(opp types.Opportunity) types.Opportunity {
	bankroll := decimal.NewFromFloat(e.guardian.Snapshot().CurrentBalance)

	liquidityNotional := decimal.Zero
	for _, leg := range opp.Legs {
		notional := leg.Price.Mul(leg.Size)
		if notional.GreaterThan(liquidityNotional) {
			liquidityNotional = notional
		}
	}
	if liquidityNotional.IsZero() {
		return opp
	}

	winProb := decimal.NewFromFloat(0.99)
	if opp.Kind == types.KindCrossVenue {
		winProb = decimal.NewFromFloat(opp.Confidence)
	}
	wager := e.kellySizer.Size(bankroll, winProb, opp.NetEV, liquidityNotional)
	if wager.IsZero() {
		for i := range opp.Legs {
			opp.Legs[i].Size = decimal.Zero
		}
		return opp
	}

	scale := decimal.Min(decimal.NewFromInt(1), wager.Div(liquidityNotional))
	for i := range opp.Legs {
		opp.Legs[i].Size = opp.Legs[i].Size.Mul(scale)
	}
	return opp
}

// expectedPayout is the gross USD payout of an opportunity's intended
// outcome, before execution costs: $1 per unit for atomic strategies, and
// total leg notional plus its EV edge for strategies priced off a single
// net-EV figure (cross-venue takes only its first leg, per the Non-goal on
// cross-exchange market making; multi-market sums every leg in the group).
func (e *Engine) expectedPayout(opp types.Opportunity) decimal.Decimal {
	if opp.Kind == types.KindAtomic {
		return opp.Legs[0].Size
	}
	if opp.Kind == types.KindMultiMarket {
		notional := decimal.Zero
		for _, leg := range opp.Legs {
			notional = notional.Add(leg.Price.Mul(leg.Size))
		}
		return notional.Add(opp.NetEV.Mul(notional))
	}
	return opp.Legs[0].Price.Mul(opp.Legs[0].Size).Add(opp.NetEV.Mul(opp.Legs[0].Size))
}

func (e *Engine) recordResult(result types.ExecutionResult) {
	for _, leg := range result.Legs {
		br := e.breakerFor(leg.Leg.Venue)
		outcome := "filled"
		if leg.Err != nil {
			outcome = "failed"
			br.RecordFailure()
		} else {
			br.RecordSuccess()
		}
		if e.metricsExporter != nil {
			e.metricsExporter.RecordLeg(string(leg.Leg.Venue), leg.Duration, outcome)
			e.metricsExporter.SetBreakerState(string(leg.Leg.Venue), string(br.State()))
		}
	}

	if result.RecoveryAction != "" && e.metricsExporter != nil {
		e.metricsExporter.RecordRecovery(result.RecoveryAction)
	}

	e.guardian.Report(risk.TradeReport{
		OpportunityID: result.Opportunity.ID,
		RealizedPnL:   mustFloat64(result.RealizedProfit),
		Timestamp:     result.FinishedAt,
	})

	if e.auditLog != nil {
		e.auditLog.Result(result)
	}
	if e.paperLedger != nil {
		if err := e.paperLedger.Record(result); err != nil {
			e.logger.Warn("paper ledger record failed", "error", err)
		}
	}

	level := types.AlertInfo
	if !result.FullyFilled {
		level = types.AlertWarning
	}
	e.notifier.Notify(e.ctx, types.AlertEvent{
		Level:     level,
		Component: "router",
		Message:   fmt.Sprintf("opportunity %s: fully_filled=%t profit=%s recovery=%s", result.Opportunity.ID, result.FullyFilled, result.RealizedProfit.StringFixed(2), result.RecoveryAction),
		At:        result.FinishedAt,
	})
}

func (e *Engine) breakerFor(v types.Venue) *breaker.Breaker {
	e.breakersMu.Lock()
	defer e.breakersMu.Unlock()
	b, ok := e.breakers[v]
	if !ok {
		b = breaker.New(breakerThreshold, breakerCooldown)
		e.breakers[v] = b
	}
	return b
}

// killLoop reacts to risk guardian kill signals by alerting immediately and
// signaling RiskHalted, which the CLI entrypoint treats as grounds for a
// full process shutdown. CanTrade() already blocks new opportunities on its
// own for the cooldown window; the halt signal exists because a kill switch
// tripping at all is a serious enough event to warrant operator review
// before the process resumes trading on its own.
func (e *Engine) killLoop() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case kill := <-e.guardian.KillCh():
			e.logger.Warn("risk guardian paused trading", "reason", kill.Reason, "until", kill.Until)
			if e.metricsExporter != nil {
				e.metricsExporter.SetRiskPaused(true)
			}
			if e.auditLog != nil {
				e.auditLog.Event("risk_pause", map[string]any{"reason": kill.Reason, "until": kill.Until})
			}
			e.notifier.Notify(e.ctx, types.AlertEvent{
				Level:     types.AlertCritical,
				Component: "risk",
				Message:   fmt.Sprintf("trading paused: %s until %s", kill.Reason, kill.Until.Format(time.RFC3339)),
				At:        time.Now(),
			})
			e.riskHaltOnce.Do(func() { close(e.riskHaltCh) })
		}
	}
}

// RiskHalted is closed the first time the risk guardian trips a kill
// switch. The CLI entrypoint selects on it alongside OS signals and exits
// with the risk-triggered-shutdown status code.
func (e *Engine) RiskHalted() <-chan struct{} {
	return e.riskHaltCh
}

func opportunityVenues(opp types.Opportunity) []types.Venue {
	seen := make(map[types.Venue]bool)
	var out []types.Venue
	for _, leg := range opp.Legs {
		if !seen[leg.Venue] {
			seen[leg.Venue] = true
			out = append(out, leg.Venue)
		}
	}
	return out
}

func mustFloat64(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// Stop gracefully shuts down: cancels all contexts, cancels any resting
// CLOB orders as a safety net, and closes every resource.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")
	e.cancel()

	cancelCtx, cancelCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelCancel()
	if err := e.clobClient.CancelAll(cancelCtx); err != nil {
		e.logger.Error("failed to cancel all orders on shutdown", "error", err)
	}

	if e.metricsServer != nil {
		if err := e.metricsServer.Stop(); err != nil {
			e.logger.Error("failed to stop metrics server", "error", err)
		}
	}

	e.wg.Wait()

	if e.auditLog != nil {
		e.auditLog.Close()
	}
	if e.paperLedger != nil {
		e.paperLedger.Close()
	}
	e.store.Close()

	e.logger.Info("shutdown complete")
}
