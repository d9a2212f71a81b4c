// Package mapping loads and serves the cross-venue MarketMapping table: the
// pre-built correspondence between a CLOB condition and its equivalent
// markets/selections on the two sportsbook exchanges. Entity resolution
// itself (fuzzy name matching) is out of scope — this package only indexes
// and reloads a table produced elsewhere.
package mapping

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"arbiter/pkg/types"
)

// Table is an immutable, atomically-swappable index over a set of
// MarketMappings, keyed by every venue-specific ID each mapping carries.
type Table struct {
	byID        map[string]types.MarketMapping
	byCLOBToken map[string]types.MarketMapping // yes or no token ID -> mapping
	byExchangeA map[string]types.MarketMapping // selection ID -> mapping
	byExchangeB map[string]types.MarketMapping // market ID -> mapping
}

func newTable(mappings []types.MarketMapping, minConfidence float64) *Table {
	t := &Table{
		byID:        make(map[string]types.MarketMapping, len(mappings)),
		byCLOBToken: make(map[string]types.MarketMapping),
		byExchangeA: make(map[string]types.MarketMapping),
		byExchangeB: make(map[string]types.MarketMapping),
	}
	for _, m := range mappings {
		if m.Confidence < minConfidence {
			continue
		}
		t.byID[m.ID] = m
		if m.CLOBYesTokenID != "" {
			t.byCLOBToken[m.CLOBYesTokenID] = m
		}
		if m.CLOBNoTokenID != "" {
			t.byCLOBToken[m.CLOBNoTokenID] = m
		}
		if m.ExchangeASelectionID != "" {
			t.byExchangeA[m.ExchangeASelectionID] = m
		}
		if m.ExchangeBMarketID != "" {
			t.byExchangeB[m.ExchangeBMarketID] = m
		}
	}
	return t
}

// ByInstrument looks up the mapping that owns instrumentID on venue.
func (t *Table) ByInstrument(venue types.Venue, instrumentID string) (types.MarketMapping, bool) {
	var m types.MarketMapping
	var ok bool
	switch venue {
	case types.VenueCLOB:
		m, ok = t.byCLOBToken[instrumentID]
	case types.VenueExchangeA:
		m, ok = t.byExchangeA[instrumentID]
	case types.VenueExchangeB:
		m, ok = t.byExchangeB[instrumentID]
	}
	return m, ok
}

// ByID looks up a mapping by its own ID.
func (t *Table) ByID(id string) (types.MarketMapping, bool) {
	m, ok := t.byID[id]
	return m, ok
}

// All returns every mapping currently loaded.
func (t *Table) All() []types.MarketMapping {
	out := make([]types.MarketMapping, 0, len(t.byID))
	for _, m := range t.byID {
		out = append(out, m)
	}
	return out
}

// Len reports how many mappings passed the confidence floor.
func (t *Table) Len() int { return len(t.byID) }

// Source loads a Table from a JSON file and keeps it fresh on an interval,
// swapping the active Table atomically so readers never see a partial
// reload.
type Source struct {
	path          string
	minConfidence float64
	logger        *slog.Logger

	current atomic.Pointer[Table]
}

// NewSource constructs a Source backed by path. It performs an initial
// synchronous load so the engine never starts with an empty table.
func NewSource(path string, minConfidence float64, logger *slog.Logger) (*Source, error) {
	s := &Source{path: path, minConfidence: minConfidence, logger: logger.With("component", "mapping")}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Table returns the currently active mapping table.
func (s *Source) Table() *Table {
	return s.current.Load()
}

// Run reloads the table every interval until ctx is cancelled. Reload
// failures are logged and the previous table stays active.
func (s *Source) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.reload(); err != nil {
				s.logger.Warn("mapping reload failed, keeping previous table", "error", err)
			}
		}
	}
}

// Reload forces an immediate reload, e.g. in response to SIGHUP.
func (s *Source) Reload() error {
	return s.reload()
}

func (s *Source) reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("mapping: read %s: %w", s.path, err)
	}

	var mappings []types.MarketMapping
	if err := json.Unmarshal(data, &mappings); err != nil {
		return fmt.Errorf("mapping: decode %s: %w", s.path, err)
	}

	table := newTable(mappings, s.minConfidence)
	s.current.Store(table)
	s.logger.Info("mapping table loaded", "count", table.Len(), "path", s.path)
	return nil
}
