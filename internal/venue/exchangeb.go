package venue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"arbiter/internal/bus"
	"arbiter/pkg/types"
)

const exchangeBDefaultPollInterval = 2 * time.Second

// exchangeBMarket mirrors one market's quote in the polled REST response.
type exchangeBMarket struct {
	MarketID  string `json:"marketId"`
	BestBack  string `json:"bestBack"`
	BestLay   string `json:"bestLay"`
	BackSize  string `json:"backSize"`
	LaySize   string `json:"laySize"`
}

// ExchangeBClient polls a REST endpoint on an interval, since this venue
// has no streaming feed.
type ExchangeBClient struct {
	cfg          types.VenueConfig
	http         *resty.Client
	bus          *bus.Bus
	logger       *slog.Logger
	pollInterval time.Duration
	rl           *RateLimiter

	mu   sync.RWMutex
	subs map[string]bool

	seqMu sync.Mutex
	seqs  map[string]int64 // marketID -> last assigned sequence number
}

// NewExchangeBClient constructs an ExchangeBClient that publishes
// normalized updates to bus on a polling cadence.
func NewExchangeBClient(cfg types.VenueConfig, pollInterval time.Duration, b *bus.Bus, logger *slog.Logger) *ExchangeBClient {
	if pollInterval <= 0 {
		pollInterval = exchangeBDefaultPollInterval
	}
	return &ExchangeBClient{
		cfg: cfg,
		http: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetTimeout(10 * time.Second).
			SetRetryCount(2),
		bus:          b,
		logger:       logger.With("component", "venue.exchange_b"),
		pollInterval: pollInterval,
		rl:           NewRateLimiter(60, 0, 60, time.Minute),
		subs:         make(map[string]bool),
		seqs:         make(map[string]int64),
	}
}

// nextSeq returns the next per-market sequence number, assigned in poll
// order.
func (c *ExchangeBClient) nextSeq(marketID string) int64 {
	c.seqMu.Lock()
	defer c.seqMu.Unlock()
	c.seqs[marketID]++
	return c.seqs[marketID]
}

func (c *ExchangeBClient) Venue() types.Venue { return types.VenueExchangeB }

func (c *ExchangeBClient) Subscribe(marketIDs ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range marketIDs {
		c.subs[id] = true
	}
	return nil
}

func (c *ExchangeBClient) Unsubscribe(marketIDs ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range marketIDs {
		delete(c.subs, id)
	}
	return nil
}

// Run polls fetchMarkets on pollInterval until ctx is cancelled.
func (c *ExchangeBClient) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	if err := c.poll(ctx); err != nil {
		c.logger.Warn("exchange_b initial poll failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.poll(ctx); err != nil {
				c.logger.Warn("exchange_b poll failed", "error", err)
			}
		}
	}
}

func (c *ExchangeBClient) poll(ctx context.Context) error {
	c.mu.RLock()
	ids := make([]string, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	c.mu.RUnlock()
	if len(ids) == 0 {
		return nil
	}

	if err := c.rl.Book.Wait(ctx); err != nil {
		return err
	}

	var markets []exchangeBMarket
	r, err := c.http.R().SetContext(ctx).SetQueryParam("marketIds", joinIDs(ids)).SetResult(&markets).Get("/markets")
	if err != nil {
		return fmt.Errorf("exchange_b fetch markets: %w", err)
	}
	if r.IsError() {
		return fmt.Errorf("exchange_b fetch markets: status %d", r.StatusCode())
	}

	now := time.Now()
	for _, m := range markets {
		back, err := decimal.NewFromString(m.BestBack)
		if err != nil {
			continue
		}
		lay, err := decimal.NewFromString(m.BestLay)
		if err != nil {
			continue
		}
		backSize, _ := decimal.NewFromString(m.BackSize)
		laySize, _ := decimal.NewFromString(m.LaySize)

		c.bus.Publish(types.MarketUpdate{
			Venue:          types.VenueExchangeB,
			InstrumentID:   m.MarketID,
			SequenceNumber: c.nextSeq(m.MarketID),
			BestBid:        decimalOddsToProbability(back, c.cfg.FeeRate),
			BestAsk:        decimalOddsToProbability(lay, c.cfg.FeeRate),
			BidSize:        backSize,
			AskSize:        laySize,
			FeeRate:        c.cfg.FeeRate,
			ReceivedAt:     time.Now(),
			IngressAt:      now,
		})
	}
	return nil
}

func joinIDs(ids []string) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += id
	}
	return out
}
