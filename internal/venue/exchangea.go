package venue

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"arbiter/internal/book"
	"arbiter/internal/bus"
	"arbiter/pkg/types"
)

const (
	exchangeAHeartbeat = 60 * time.Second
	exchangeADialTO    = 10 * time.Second
)

// exchangeAChangeMsg mirrors a Betfair-style market-change message: one
// JSON object per line, newline-delimited, over a persistent TLS socket.
type exchangeAChangeMsg struct {
	Op  string `json:"op"`
	MC  []struct {
		ID  string `json:"id"`
		RC  []struct {
			ID  string      `json:"id"`
			Batb [][]float64 `json:"batb"` // best available to back: [level, price, size]
			Batl [][]float64 `json:"batl"` // best available to lay
		} `json:"rc"`
	} `json:"mc"`
}

// ExchangeAClient streams incremental selection price changes over a raw
// TCP+TLS socket, the Betfair Exchange Stream API's wire format.
type ExchangeAClient struct {
	cfg    types.VenueConfig
	bus    *bus.Bus
	logger *slog.Logger

	mu    sync.RWMutex
	books map[string]*book.Book // selectionID -> book
	subs  map[string]bool

	seqMu sync.Mutex
	seqs  map[string]int64 // selectionID -> last assigned sequence number

	connMu sync.Mutex
	conn   net.Conn
}

// NewExchangeAClient constructs an ExchangeAClient that publishes
// normalized updates to bus.
func NewExchangeAClient(cfg types.VenueConfig, b *bus.Bus, logger *slog.Logger) *ExchangeAClient {
	return &ExchangeAClient{
		cfg:    cfg,
		bus:    b,
		logger: logger.With("component", "venue.exchange_a"),
		books:  make(map[string]*book.Book),
		subs:   make(map[string]bool),
		seqs:   make(map[string]int64),
	}
}

// nextSeq returns the next per-selection sequence number, assigned in the
// order this client reads messages off the wire.
func (c *ExchangeAClient) nextSeq(selectionID string) int64 {
	c.seqMu.Lock()
	defer c.seqMu.Unlock()
	c.seqs[selectionID]++
	return c.seqs[selectionID]
}

func (c *ExchangeAClient) Venue() types.Venue { return types.VenueExchangeA }

func (c *ExchangeAClient) Subscribe(selectionIDs ...string) error {
	c.mu.Lock()
	for _, id := range selectionIDs {
		c.subs[id] = true
		if _, ok := c.books[id]; !ok {
			c.books[id] = book.NewBook(types.VenueExchangeA, id)
		}
	}
	c.mu.Unlock()
	return c.resubscribe()
}

func (c *ExchangeAClient) Unsubscribe(selectionIDs ...string) error {
	c.mu.Lock()
	for _, id := range selectionIDs {
		delete(c.subs, id)
		delete(c.books, id)
	}
	c.mu.Unlock()
	return c.resubscribe()
}

func (c *ExchangeAClient) resubscribe() error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return nil
	}
	return c.writeSubscription(conn)
}

func (c *ExchangeAClient) writeSubscription(conn net.Conn) error {
	c.mu.RLock()
	ids := make([]string, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	c.mu.RUnlock()

	msg := map[string]any{"op": "marketSubscription", "id": 1, "marketFilter": map[string]any{"marketIds": ids}}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = conn.Write(append(data, '\r', '\n'))
	return err
}

// Run maintains the streaming socket with exponential-backoff reconnect
// until ctx is cancelled.
func (c *ExchangeAClient) Run(ctx context.Context) error {
	if c.cfg.StaleTimeout > 0 {
		go c.watchStaleBooks(ctx)
	}
	backoff := NewBackoff(time.Second, 30*time.Second)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := c.connectAndRead(ctx); err != nil {
			c.logger.Warn("exchange_a stream disconnected, reconnecting", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff.Next()):
			}
			continue
		}
		backoff.Reset()
	}
}

// watchStaleBooks warns when a subscribed selection's book hasn't changed
// within StaleTimeout, e.g. a runner was suspended without an explicit
// market-close message.
func (c *ExchangeAClient) watchStaleBooks(ctx context.Context) {
	interval := c.cfg.StaleTimeout / 2
	if interval < 50*time.Millisecond {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.RLock()
			for id, b := range c.books {
				if b.IsStale(c.cfg.StaleTimeout) {
					c.logger.Warn("exchange_a book stale", "selection_id", id, "last_updated", b.LastUpdated())
				}
			}
			c.mu.RUnlock()
		}
	}
}

func (c *ExchangeAClient) connectAndRead(ctx context.Context) error {
	dialer := &net.Dialer{Timeout: exchangeADialTO}
	conn, err := tls.DialWithDialer(dialer, "tcp", c.cfg.WSURL, &tls.Config{MinVersion: tls.VersionTLS12})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	defer func() {
		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()
	}()

	if err := c.authenticate(conn); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	if err := c.writeSubscription(conn); err != nil {
		return fmt.Errorf("initial subscribe: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		conn.SetReadDeadline(time.Now().Add(exchangeAHeartbeat + 10*time.Second))
		c.dispatch(scanner.Bytes())
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read: %w", err)
	}
	return fmt.Errorf("stream closed by peer")
}

func (c *ExchangeAClient) authenticate(conn net.Conn) error {
	msg := map[string]any{
		"op":            "authentication",
		"appKey":        c.cfg.APIKey,
		"session":       c.cfg.APISecret,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = conn.Write(append(data, '\r', '\n'))
	return err
}

func (c *ExchangeAClient) dispatch(line []byte) {
	var msg exchangeAChangeMsg
	if err := json.Unmarshal(line, &msg); err != nil {
		c.logger.Warn("exchange_a: malformed message", "error", err)
		return
	}
	if msg.Op != "mcm" {
		return
	}

	now := time.Now()
	for _, mc := range msg.MC {
		for _, rc := range mc.RC {
			c.mu.RLock()
			b, ok := c.books[rc.ID]
			c.mu.RUnlock()
			if !ok {
				continue
			}
			seq := c.nextSeq(rc.ID)
			c.applyRunnerChange(b, rc.Batb, rc.Batl, now, seq)
			c.publish(rc.ID, b, now, seq)
		}
	}
}

func (c *ExchangeAClient) applyRunnerChange(b *book.Book, batb, batl [][]float64, at time.Time, seq int64) {
	for _, entry := range batb {
		if len(entry) != 3 {
			continue
		}
		if entry[0] != 0 { // only track the best level
			continue
		}
		b.ApplyDelta(types.BUY, decimal.NewFromFloat(entry[1]), decimal.NewFromFloat(entry[2]), at, seq)
	}
	for _, entry := range batl {
		if len(entry) != 3 {
			continue
		}
		if entry[0] != 0 {
			continue
		}
		b.ApplyDelta(types.SELL, decimal.NewFromFloat(entry[1]), decimal.NewFromFloat(entry[2]), at, seq)
	}
}

// publish converts top-of-book decimal odds (back=bid, lay=ask) to implied
// probabilities so downstream detectors compare directly against CLOB
// token prices without knowing which venue a quote came from.
func (c *ExchangeAClient) publish(selectionID string, b *book.Book, ingressAt time.Time, seq int64) {
	bid, ask, ok := b.BestBidAsk()
	if !ok {
		return
	}
	c.bus.Publish(types.MarketUpdate{
		Venue:          types.VenueExchangeA,
		InstrumentID:   selectionID,
		SequenceNumber: seq,
		BestBid:        decimalOddsToProbability(bid.Price, c.cfg.FeeRate),
		BestAsk:        decimalOddsToProbability(ask.Price, c.cfg.FeeRate),
		BidSize:        bid.Size,
		AskSize:        ask.Size,
		FeeRate:        c.cfg.FeeRate,
		ReceivedAt:     time.Now(),
		IngressAt:      ingressAt,
	})
}
