// Package metrics exports the engine's operational counters and gauges via
// Prometheus, mounted on a stdlib http.Server the same way the teacher
// mounts its dashboard routes in internal/api/server.go — just serving
// promhttp's handler instead of a JSON snapshot API.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter owns every metric the engine emits, registered against a
// private registry so this package never pollutes the default
// prometheus.DefaultRegisterer (and stays safe to construct more than once
// in tests).
type Exporter struct {
	registry *prometheus.Registry

	OpportunitiesTotal *prometheus.CounterVec
	NetEV              *prometheus.HistogramVec
	LegLatency         *prometheus.HistogramVec
	LegResultTotal     *prometheus.CounterVec
	RecoveryTotal      *prometheus.CounterVec
	RiskPaused         prometheus.Gauge
	GasPriceGwei       prometheus.Gauge
	RPCNodeLatency     *prometheus.GaugeVec
	VenueBreakerState  *prometheus.GaugeVec
}

// New builds an Exporter with all collectors registered.
func New() *Exporter {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	e := &Exporter{
		registry: reg,
		OpportunitiesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arbiter",
			Name:      "opportunities_total",
			Help:      "Opportunities detected, by kind.",
		}, []string{"kind"}),
		NetEV: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "arbiter",
			Name:      "opportunity_net_ev",
			Help:      "Net expected value of detected opportunities, in USD.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"kind"}),
		LegLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "arbiter",
			Name:      "leg_dispatch_seconds",
			Help:      "Dispatch latency per execution leg.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"venue"}),
		LegResultTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arbiter",
			Name:      "leg_result_total",
			Help:      "Execution leg outcomes, by venue and result.",
		}, []string{"venue", "result"}),
		RecoveryTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arbiter",
			Name:      "recovery_total",
			Help:      "Recovery handler outcomes, by action.",
		}, []string{"action"}),
		RiskPaused: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "arbiter",
			Name:      "risk_paused",
			Help:      "1 if the risk guardian's kill switch is currently active.",
		}),
		GasPriceGwei: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "arbiter",
			Name:      "gas_price_gwei",
			Help:      "Most recently observed max fee per gas, in gwei.",
		}),
		RPCNodeLatency: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "arbiter",
			Name:      "rpc_node_latency_ms",
			Help:      "Average observed latency per RPC endpoint.",
		}, []string{"node"}),
		VenueBreakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "arbiter",
			Name:      "venue_breaker_state",
			Help:      "Circuit breaker state per venue (0=closed, 1=half_open, 2=open).",
		}, []string{"venue"}),
	}

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "arbiter",
		Name:      "build_info",
		Help:      "Always 1; present so scrape targets are distinguishable from a dead process.",
	}, func() float64 { return 1 })

	return e
}

// RecordOpportunity tracks a detected opportunity's kind and net EV.
func (e *Exporter) RecordOpportunity(kind string, netEV float64) {
	e.OpportunitiesTotal.WithLabelValues(kind).Inc()
	e.NetEV.WithLabelValues(kind).Observe(netEV)
}

// RecordLeg tracks one dispatched leg's latency and outcome.
func (e *Exporter) RecordLeg(venue string, duration time.Duration, result string) {
	e.LegLatency.WithLabelValues(venue).Observe(duration.Seconds())
	e.LegResultTotal.WithLabelValues(venue, result).Inc()
}

// RecordRecovery tracks a recovery handler action.
func (e *Exporter) RecordRecovery(action string) {
	e.RecoveryTotal.WithLabelValues(action).Inc()
}

// SetRiskPaused reflects the risk guardian's current pause state.
func (e *Exporter) SetRiskPaused(paused bool) {
	if paused {
		e.RiskPaused.Set(1)
		return
	}
	e.RiskPaused.Set(0)
}

// breakerStateValue maps a breaker state name to the gauge value it exports.
func breakerStateValue(state string) float64 {
	switch state {
	case "HALF_OPEN":
		return 1
	case "OPEN":
		return 2
	default:
		return 0
	}
}

// SetBreakerState reflects one venue's circuit breaker state.
func (e *Exporter) SetBreakerState(venue, state string) {
	e.VenueBreakerState.WithLabelValues(venue).Set(breakerStateValue(state))
}

// Server serves the Exporter's registry at /metrics over plain HTTP.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds a metrics Server bound to port, serving exporter's
// registry.
func NewServer(port int, exporter *Exporter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(exporter.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With("component", "metrics-server"),
	}
}

// Start blocks serving HTTP until the server is stopped.
func (s *Server) Start() error {
	s.logger.Info("metrics server starting", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
