// Package venue implements the three VenueClient variants: a REST+WS client
// for the on-chain binary CLOB, a streaming TCP client for the Betfair-style
// exchange, and a polling REST client for the SX-style exchange. All three
// normalize into types.MarketUpdate so the rest of the engine never has to
// know which wire protocol produced a tick.
package venue

import (
	"context"

	"arbiter/pkg/types"
)

// Client is implemented by every venue-specific market-data client. Run
// blocks until ctx is cancelled, publishing normalized updates to the bus
// passed at construction time. The streaming clients reconnect on failure
// with backoff; the polling client retries on its next poll tick.
type Client interface {
	Venue() types.Venue
	Run(ctx context.Context) error
	Subscribe(instrumentIDs ...string) error
	Unsubscribe(instrumentIDs ...string) error
}

// OrderClient is implemented by venues where this engine places orders
// (the CLOB; the sportsbook exchanges are taker-only read sources in the
// initial scope, matching the "Non-goals" on cross-exchange market making).
type OrderClient interface {
	Client
	PlaceOrder(ctx context.Context, leg types.ExecutionLeg) (types.LegResult, error)
	CancelAll(ctx context.Context) error
}
