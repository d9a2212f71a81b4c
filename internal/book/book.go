// Package book maintains a live, level-by-level order book per instrument
// and answers the walk-the-book / staleness questions the detection and
// execution layers need.
package book

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"arbiter/pkg/types"
)

// Book is a mutable, mutex-protected order book for a single instrument.
// Bids are kept sorted descending by price, asks ascending, so the best
// level is always index 0.
type Book struct {
	mu sync.RWMutex

	venue        types.Venue
	instrumentID string

	bids []types.PriceLevel
	asks []types.PriceLevel

	updated time.Time
	lastSeq int64 // highest SequenceNumber applied so far; 0 means unset
}

// NewBook constructs an empty book for instrumentID on venue.
func NewBook(venue types.Venue, instrumentID string) *Book {
	return &Book{venue: venue, instrumentID: instrumentID}
}

// ApplySnapshot replaces the entire book with snap, discarding prior state.
// Used when a venue pushes a full book (the CLOB's "book" events) and for
// REST snapshots. A snapshot whose SequenceNumber is behind the highest
// sequence already applied is dropped: a later update has already
// superseded it, so rewinding the book would throw away fresher state.
// A SequenceNumber of zero opts out of the check (caller doesn't track one).
func (b *Book) ApplySnapshot(snap types.OrderBookSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if snap.SequenceNumber != 0 && snap.SequenceNumber < b.lastSeq {
		return
	}

	b.bids = sortedBids(append([]types.PriceLevel(nil), snap.Bids...))
	b.asks = sortedAsks(append([]types.PriceLevel(nil), snap.Asks...))
	b.updated = now(snap.Timestamp)
	if snap.SequenceNumber > b.lastSeq {
		b.lastSeq = snap.SequenceNumber
	}
}

// ApplyDelta applies a single incremental price-level change. A size of
// zero removes the level; otherwise the level at that price is inserted or
// replaced. This is the operation the teacher's ApplyPriceChange never
// implemented — it only touched a hash, leaving levels stale.
//
// seq enforces the same supersede/drop ordering as ApplySnapshot: a delta
// older than the highest sequence already applied to this book is dropped
// rather than risk corrupting state with an out-of-order update. Pass 0 to
// opt out of the check.
func (b *Book) ApplyDelta(side types.Side, price, size decimal.Decimal, at time.Time, seq int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if seq != 0 && seq < b.lastSeq {
		return
	}

	switch side {
	case types.BUY:
		b.bids = applyLevel(b.bids, price, size, true)
	case types.SELL:
		b.asks = applyLevel(b.asks, price, size, false)
	}
	b.updated = now(at)
	if seq > b.lastSeq {
		b.lastSeq = seq
	}
}

// applyLevel inserts, updates, or removes price in levels, keeping the
// slice sorted (descending for bids, ascending for asks).
func applyLevel(levels []types.PriceLevel, price, size decimal.Decimal, descending bool) []types.PriceLevel {
	idx := sort.Search(len(levels), func(i int) bool {
		if descending {
			return levels[i].Price.LessThanOrEqual(price)
		}
		return levels[i].Price.GreaterThanOrEqual(price)
	})

	if idx < len(levels) && levels[idx].Price.Equal(price) {
		if size.IsZero() {
			return append(levels[:idx], levels[idx+1:]...)
		}
		levels[idx].Size = size
		return levels
	}

	if size.IsZero() {
		return levels
	}

	levels = append(levels, types.PriceLevel{})
	copy(levels[idx+1:], levels[idx:])
	levels[idx] = types.PriceLevel{Price: price, Size: size}
	return levels
}

func sortedBids(levels []types.PriceLevel) []types.PriceLevel {
	sort.Slice(levels, func(i, j int) bool { return levels[i].Price.GreaterThan(levels[j].Price) })
	return levels
}

func sortedAsks(levels []types.PriceLevel) []types.PriceLevel {
	sort.Slice(levels, func(i, j int) bool { return levels[i].Price.LessThan(levels[j].Price) })
	return levels
}

// Snapshot returns an immutable copy of the current book state.
func (b *Book) Snapshot() types.OrderBookSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return types.OrderBookSnapshot{
		InstrumentID: b.instrumentID,
		Venue:        b.venue,
		Bids:         append([]types.PriceLevel(nil), b.bids...),
		Asks:         append([]types.PriceLevel(nil), b.asks...),
		Timestamp:    b.updated,
	}
}

// BestBidAsk returns the top of book. ok is false if either side is empty.
func (b *Book) BestBidAsk() (bid, ask types.PriceLevel, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.bids) == 0 || len(b.asks) == 0 {
		return types.PriceLevel{}, types.PriceLevel{}, false
	}
	return b.bids[0], b.asks[0], true
}

// MidPrice returns (best bid + best ask) / 2. ok is false for an empty book.
func (b *Book) MidPrice() (decimal.Decimal, bool) {
	bid, ask, ok := b.BestBidAsk()
	if !ok {
		return decimal.Zero, false
	}
	return bid.Price.Add(ask.Price).Div(decimal.NewFromInt(2)), true
}

// IsCrossed reports whether the best bid is at or above the best ask — a
// state that should never survive a single venue's own matching engine and
// usually indicates a desynced book.
func (b *Book) IsCrossed() bool {
	bid, ask, ok := b.BestBidAsk()
	if !ok {
		return false
	}
	return bid.Price.GreaterThanOrEqual(ask.Price)
}

// IsStale reports whether the book hasn't been updated within maxAge.
func (b *Book) IsStale(maxAge time.Duration) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.updated.IsZero() {
		return true
	}
	return time.Since(b.updated) > maxAge
}

// LastUpdated returns the timestamp of the most recent applied update.
func (b *Book) LastUpdated() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updated
}

// LastSequence returns the highest SequenceNumber applied so far.
func (b *Book) LastSequence() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastSeq
}

// WalkSide walks levels on the given side, accumulating size until target
// is reached, and returns the volume-weighted average price for that size.
// ok is false if the book cannot fill target.
func (b *Book) WalkSide(side types.Side, target decimal.Decimal) (avgPrice decimal.Decimal, filled decimal.Decimal, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var levels []types.PriceLevel
	switch side {
	case types.BUY:
		levels = b.asks // buying walks the ask side
	case types.SELL:
		levels = b.bids // selling walks the bid side
	}

	remaining := target
	notional := decimal.Zero
	for _, lvl := range levels {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		take := decimal.Min(remaining, lvl.Size)
		notional = notional.Add(take.Mul(lvl.Price))
		filled = filled.Add(take)
		remaining = remaining.Sub(take)
	}

	if filled.IsZero() {
		return decimal.Zero, decimal.Zero, false
	}
	return notional.Div(filled), filled, filled.GreaterThanOrEqual(target)
}

func now(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
