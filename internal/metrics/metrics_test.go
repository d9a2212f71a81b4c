package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func TestRecordOpportunityExposedViaHandler(t *testing.T) {
	t.Parallel()
	e := New()
	e.RecordOpportunity("atomic_yes_no", 0.05)

	handler := promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, "arbiter_opportunities_total") {
		t.Error("expected arbiter_opportunities_total in scrape output")
	}
	if !strings.Contains(body, `kind="atomic_yes_no"`) {
		t.Error("expected kind label in scrape output")
	}
}

func TestRecordLegTracksLatencyAndResult(t *testing.T) {
	t.Parallel()
	e := New()
	e.RecordLeg("clob", 15*time.Millisecond, "filled")

	handler := promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, "arbiter_leg_result_total") {
		t.Error("expected arbiter_leg_result_total in scrape output")
	}
}

func TestBreakerStateValue(t *testing.T) {
	t.Parallel()
	cases := map[string]float64{"CLOSED": 0, "HALF_OPEN": 1, "OPEN": 2, "": 0}
	for state, want := range cases {
		if got := breakerStateValue(state); got != want {
			t.Errorf("breakerStateValue(%q) = %v, want %v", state, got, want)
		}
	}
}

func TestSetRiskPausedToggles(t *testing.T) {
	t.Parallel()
	e := New()
	e.SetRiskPaused(true)
	e.SetRiskPaused(false)
}
