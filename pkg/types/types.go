// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the engine — venue identifiers,
// normalized market updates, cross-venue mappings, opportunities, execution
// legs/results, and order-book primitives. It has no dependencies on
// internal packages so it can be imported by any layer.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Venues
// ————————————————————————————————————————————————————————————————————————

// Venue identifies one of the three trading venues this engine watches.
type Venue string

const (
	VenueCLOB      Venue = "clob"       // on-chain binary CLOB (Polymarket-style)
	VenueExchangeA Venue = "exchange_a" // streaming sportsbook exchange (Betfair-style)
	VenueExchangeB Venue = "exchange_b" // polled sportsbook exchange (SX Bet-style)
)

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// OrderType enumerates the supported order lifecycles.
type OrderType string

const (
	OrderTypeGTC   OrderType = "GTC"   // Good-Til-Cancelled
	OrderTypeFOK   OrderType = "FOK"   // Fill-Or-Kill, used for taker legs
	OrderTypeMint  OrderType = "MINT"  // on-chain split: $1 USDC -> 1 YES + 1 NO
	OrderTypeMerge OrderType = "MERGE" // on-chain merge: 1 YES + 1 NO -> $1 USDC
)

// SignatureType identifies the signing scheme for the CTF exchange contract.
type SignatureType int

const (
	SigEOA        SignatureType = 0
	SigProxy      SignatureType = 1
	SigGnosisSafe SignatureType = 2
)

// TickSize represents the price granularity for a CLOB market.
type TickSize string

const (
	Tick01    TickSize = "0.1"
	Tick001   TickSize = "0.01"
	Tick0001  TickSize = "0.001"
	Tick00001 TickSize = "0.0001"
)

// Decimals returns the number of decimal places for a tick size.
func (t TickSize) Decimals() int {
	switch t {
	case Tick01:
		return 1
	case Tick001:
		return 2
	case Tick0001:
		return 3
	case Tick00001:
		return 4
	default:
		return 2
	}
}

// AmountDecimals returns the number of decimal places for an order amount
// (price × size) at this tick size: two more than Decimals.
func (t TickSize) AmountDecimals() int {
	return t.Decimals() + 2
}

// ————————————————————————————————————————————————————————————————————————
// Order book
// ————————————————————————————————————————————————————————————————————————

// PriceLevel is a single bid or ask level in an order book.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// OrderBookSnapshot is a point-in-time view of one instrument's order book.
type OrderBookSnapshot struct {
	InstrumentID   string
	Venue          Venue
	SequenceNumber int64 // per-(venue, market) monotonic; 0 opts out of ordering checks
	Bids           []PriceLevel // sorted descending by price (best bid first)
	Asks           []PriceLevel // sorted ascending by price (best ask first)
	Timestamp      time.Time
}

// BestBid returns the top bid level, ok=false if empty.
func (s OrderBookSnapshot) BestBid() (PriceLevel, bool) {
	if len(s.Bids) == 0 {
		return PriceLevel{}, false
	}
	return s.Bids[0], true
}

// BestAsk returns the top ask level, ok=false if empty.
func (s OrderBookSnapshot) BestAsk() (PriceLevel, bool) {
	if len(s.Asks) == 0 {
		return PriceLevel{}, false
	}
	return s.Asks[0], true
}

// ————————————————————————————————————————————————————————————————————————
// Normalized market data
// ————————————————————————————————————————————————————————————————————————

// MarketUpdate is the normalized tick emitted by every VenueClient. The
// exchange clients publish commission-adjusted implied probabilities; the
// CLOB client publishes raw book prices, not net of its taker fee, and
// carries that fee in FeeRate.
type MarketUpdate struct {
	Venue          Venue
	InstrumentID   string // token ID (CLOB) or market/selection ID (exchanges)
	SequenceNumber int64  // per-(venue, market) monotonic; supersedes all prior values < itself
	BestBid        decimal.Decimal
	BestAsk        decimal.Decimal
	BidSize        decimal.Decimal
	AskSize        decimal.Decimal
	FeeRate        decimal.Decimal // fraction, e.g. 0.02 for 2%
	Book           *OrderBookSnapshot
	ReceivedAt     time.Time
	IngressAt      time.Time // when the venue client read the wire message
}

// VenueConfig is the static per-venue configuration consumed by venue
// client constructors.
type VenueConfig struct {
	Venue        Venue
	BaseURL      string
	WSURL        string
	FeeRate      decimal.Decimal
	Settlement   string // "on_chain" | "cash"
	APIKey       string
	APISecret    string
	Passphrase   string
	StaleTimeout time.Duration // max age before a cached book is flagged stale
}

// ————————————————————————————————————————————————————————————————————————
// Cross-venue mapping
// ————————————————————————————————————————————————————————————————————————

// MarketMapping links equivalent markets across venues: the same underlying
// event expressed as a CLOB condition and/or an exchange market ID.
type MarketMapping struct {
	ID             string
	Sport          string
	EventName      string
	Confidence     float64
	Source         string // "static" | "vector" | "ai" | "cache"
	MappedAt       time.Time
	CLOBConditionID string
	CLOBYesTokenID  string
	CLOBNoTokenID   string
	ExchangeAMarketID string
	ExchangeASelectionID string
	ExchangeBMarketID string
}

// ————————————————————————————————————————————————————————————————————————
// Opportunities & execution
// ————————————————————————————————————————————————————————————————————————

// OpportunityKind distinguishes the three detection strategies.
type OpportunityKind string

const (
	KindCrossVenue  OpportunityKind = "cross_venue"
	KindAtomic      OpportunityKind = "atomic_yes_no"
	KindMultiMarket OpportunityKind = "multi_market"
)

// Opportunity is an actionable arbitrage candidate emitted by the detection
// core and consumed by the SmartRouter.
type Opportunity struct {
	ID          string
	Kind        OpportunityKind
	Mapping     MarketMapping
	Legs        []ExecutionLeg // legs as proposed by the detector, before sizing
	NetEV       decimal.Decimal
	Confidence  float64
	DetectedAt  time.Time
	ExpiresAt   time.Time
}

// ExecutionLeg is one side of an opportunity: trade InstrumentID on Venue at
// (at most) Price for Size.
type ExecutionLeg struct {
	Venue        Venue
	InstrumentID string
	Side         Side
	Price        decimal.Decimal
	Size         decimal.Decimal
	OrderType    OrderType
}

// LegResult is the outcome of dispatching one ExecutionLeg.
type LegResult struct {
	Leg        ExecutionLeg
	FilledSize decimal.Decimal
	AvgPrice   decimal.Decimal
	OrderID    string
	Err        error
	Duration   time.Duration
}

// ExecutionResult is the SmartRouter's final outcome for one opportunity.
type ExecutionResult struct {
	Opportunity    Opportunity
	Legs           []LegResult
	FullyFilled    bool
	RealizedProfit decimal.Decimal
	StartedAt      time.Time
	FinishedAt     time.Time
	RecoveryAction string // "" | "retried" | "liquidated"
}

// ————————————————————————————————————————————————————————————————————————
// Alerts & audit
// ————————————————————————————————————————————————————————————————————————

// AlertLevel is the severity of an AlertEvent.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "info"
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
)

// AlertEvent is a structured notification emitted to the alerting sink.
type AlertEvent struct {
	Level     AlertLevel
	Component string
	Message   string
	At        time.Time
	Fields    map[string]any
}

// AuditRecord is one line of the append-only audit log.
type AuditRecord struct {
	Kind        string // "opportunity" | "result" | an Event kind such as "risk_pause"
	At          time.Time
	Opportunity *Opportunity      `json:"opportunity,omitempty"`
	Result      *ExecutionResult  `json:"result,omitempty"`
	Fields      map[string]any    `json:"fields,omitempty"`
}
