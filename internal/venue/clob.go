package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"arbiter/internal/book"
	"arbiter/internal/bus"
	"arbiter/internal/chain"
	"arbiter/pkg/types"
)

const (
	clobPingInterval = 50 * time.Second
	clobReadTimeout  = 90 * time.Second
)

// clobBookLevel mirrors one price/size pair in the CLOB's wire format.
type clobBookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type clobBookResponse struct {
	AssetID string          `json:"asset_id"`
	Bids    []clobBookLevel `json:"bids"`
	Asks    []clobBookLevel `json:"asks"`
}

type clobWSEvent struct {
	EventType string          `json:"event_type"`
	AssetID   string          `json:"asset_id"`
	Buys      []clobBookLevel `json:"buys"`
	Sells     []clobBookLevel `json:"sells"`
	Price     string          `json:"price"`
	Side      string          `json:"side"`
}

// CLOBClient is the VenueClient for the on-chain binary CLOB: REST for
// snapshots, WebSocket for incremental book and trade events.
type CLOBClient struct {
	cfg    types.VenueConfig
	http   *resty.Client
	bus    *bus.Bus
	logger *slog.Logger
	rl     *RateLimiter

	mu     sync.RWMutex
	books  map[string]*book.Book // instrumentID -> book
	connMu sync.Mutex
	conn   *websocket.Conn
	subs   map[string]bool

	seqMu sync.Mutex
	seqs  map[string]int64 // instrumentID -> last assigned sequence number

	signer *chain.LocalSigner
	dryRun bool
}

// NewCLOBClient constructs a CLOB client that publishes normalized updates
// to bus. signer may be nil for a read-only (market-data-only) client; it
// is required before PlaceOrder or CancelAll can be called.
func NewCLOBClient(cfg types.VenueConfig, b *bus.Bus, signer *chain.LocalSigner, dryRun bool, logger *slog.Logger) *CLOBClient {
	return &CLOBClient{
		cfg: cfg,
		http: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetTimeout(10 * time.Second).
			SetRetryCount(3).
			SetRetryWaitTime(500 * time.Millisecond),
		bus:    b,
		logger: logger.With("component", "venue.clob"),
		rl:     NewRateLimiter(350, 300, 150, 50*time.Second),
		books:  make(map[string]*book.Book),
		subs:   make(map[string]bool),
		seqs:   make(map[string]int64),
		signer: signer,
		dryRun: dryRun,
	}
}

// nextSeq returns the next per-instrument sequence number, assigned in the
// order this client reads messages off the wire.
func (c *CLOBClient) nextSeq(instrumentID string) int64 {
	c.seqMu.Lock()
	defer c.seqMu.Unlock()
	c.seqs[instrumentID]++
	return c.seqs[instrumentID]
}

func (c *CLOBClient) Venue() types.Venue { return types.VenueCLOB }

// Subscribe adds instrumentIDs to the watch set, creates an empty book for
// each, and re-sends the WebSocket subscription when connected; the initial
// book for each arrives as a "book" event on the feed.
func (c *CLOBClient) Subscribe(instrumentIDs ...string) error {
	c.mu.Lock()
	for _, id := range instrumentIDs {
		c.subs[id] = true
		if _, ok := c.books[id]; !ok {
			c.books[id] = book.NewBook(types.VenueCLOB, id)
		}
	}
	c.mu.Unlock()
	return c.resubscribe()
}

func (c *CLOBClient) Unsubscribe(instrumentIDs ...string) error {
	c.mu.Lock()
	for _, id := range instrumentIDs {
		delete(c.subs, id)
		delete(c.books, id)
	}
	c.mu.Unlock()
	return c.resubscribe()
}

func (c *CLOBClient) resubscribe() error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return nil
	}
	return c.writeSubscription(conn)
}

func (c *CLOBClient) writeSubscription(conn *websocket.Conn) error {
	c.mu.RLock()
	ids := make([]string, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	c.mu.RUnlock()

	msg := map[string]any{"type": "market", "assets_ids": ids}
	return conn.WriteJSON(msg)
}

// Run maintains the WebSocket connection with exponential-backoff
// reconnect until ctx is cancelled.
func (c *CLOBClient) Run(ctx context.Context) error {
	if c.cfg.StaleTimeout > 0 {
		go c.watchStaleBooks(ctx)
	}
	backoff := NewBackoff(time.Second, 30*time.Second)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := c.connectAndRead(ctx); err != nil {
			c.logger.Warn("clob websocket disconnected, reconnecting", "error", err)
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

// watchStaleBooks warns when a subscribed book hasn't seen an update
// within StaleTimeout, e.g. a feed silently stopped pushing deltas while
// the websocket itself stayed open.
func (c *CLOBClient) watchStaleBooks(ctx context.Context) {
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
					c.logger.Warn("clob book stale", "instrument_id", id, "last_updated", b.LastUpdated())
				}
			}
			c.mu.RUnlock()
		}
	}
}

func (c *CLOBClient) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.WSURL, nil)
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

	if err := c.writeSubscription(conn); err != nil {
		return fmt.Errorf("initial subscribe: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(clobPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()
	defer func() { <-done }()

	for {
		conn.SetReadDeadline(time.Now().Add(clobReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		c.dispatch(data)

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func (c *CLOBClient) dispatch(data []byte) {
	var events []clobWSEvent
	if err := json.Unmarshal(data, &events); err != nil {
		var single clobWSEvent
		if err2 := json.Unmarshal(data, &single); err2 != nil {
			c.logger.Warn("clob: malformed message", "error", err)
			return
		}
		events = []clobWSEvent{single}
	}
	for _, ev := range events {
		c.applyEvent(ev)
	}
}

func (c *CLOBClient) applyEvent(ev clobWSEvent) {
	c.mu.RLock()
	b, ok := c.books[ev.AssetID]
	c.mu.RUnlock()
	if !ok {
		return
	}

	now := time.Now()
	seq := c.nextSeq(ev.AssetID)
	switch ev.EventType {
	case "book":
		b.ApplySnapshot(types.OrderBookSnapshot{
			InstrumentID:   ev.AssetID,
			Venue:          types.VenueCLOB,
			SequenceNumber: seq,
			Bids:           toLevels(ev.Buys),
			Asks:           toLevels(ev.Sells),
			Timestamp:      now,
		})
	case "price_change":
		price, err := decimal.NewFromString(ev.Price)
		if err != nil {
			return
		}
		side := types.BUY
		if ev.Side == "SELL" {
			side = types.SELL
		}
		b.ApplyDelta(side, price, decimal.Zero, now, seq)
	default:
		return
	}

	c.publish(ev.AssetID, b, now, seq)
}

func (c *CLOBClient) publish(instrumentID string, b *book.Book, ingressAt time.Time, seq int64) {
	bid, ask, ok := b.BestBidAsk()
	if !ok {
		return
	}
	snap := b.Snapshot()
	c.bus.Publish(types.MarketUpdate{
		Venue:          types.VenueCLOB,
		InstrumentID:   instrumentID,
		SequenceNumber: seq,
		BestBid:        bid.Price,
		BestAsk:        ask.Price,
		BidSize:        bid.Size,
		AskSize:        ask.Size,
		FeeRate:        c.cfg.FeeRate,
		Book:           &snap,
		ReceivedAt:     time.Now(),
		IngressAt:      ingressAt,
	})
}

func toLevels(raw []clobBookLevel) []types.PriceLevel {
	out := make([]types.PriceLevel, 0, len(raw))
	for _, lvl := range raw {
		price, err := decimal.NewFromString(lvl.Price)
		if err != nil {
			continue
		}
		size, err := decimal.NewFromString(lvl.Size)
		if err != nil {
			continue
		}
		out = append(out, types.PriceLevel{Price: price, Size: size})
	}
	return out
}

// FetchSnapshot fetches an L2 book snapshot over REST, applies it to the
// instrument's book and publishes the result. An instrument that is not
// subscribed is ignored.
func (c *CLOBClient) FetchSnapshot(ctx context.Context, instrumentID string) error {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return err
	}
	var resp clobBookResponse
	r, err := c.http.R().SetContext(ctx).SetQueryParam("token_id", instrumentID).SetResult(&resp).Get("/book")
	if err != nil {
		return fmt.Errorf("clob get book: %w", err)
	}
	if r.IsError() {
		return fmt.Errorf("clob get book: status %d", r.StatusCode())
	}

	c.mu.RLock()
	b, ok := c.books[instrumentID]
	c.mu.RUnlock()
	if !ok {
		return nil
	}
	now := time.Now()
	seq := c.nextSeq(instrumentID)
	b.ApplySnapshot(types.OrderBookSnapshot{
		InstrumentID:   instrumentID,
		Venue:          types.VenueCLOB,
		SequenceNumber: seq,
		Bids:           toLevels(resp.Bids),
		Asks:           toLevels(resp.Asks),
		Timestamp:      now,
	})
	c.publish(instrumentID, b, now, seq)
	return nil
}

type clobOrderPayload struct {
	Order struct {
		Maker         string `json:"maker"`
		Signer        string `json:"signer"`
		Taker         string `json:"taker"`
		TokenID       string `json:"tokenId"`
		MakerAmount   string `json:"makerAmount"`
		TakerAmount   string `json:"takerAmount"`
		Side          string `json:"side"`
		Expiration    string `json:"expiration"`
		Nonce         string `json:"nonce"`
		FeeRateBps    string `json:"feeRateBps"`
		SignatureType int    `json:"signatureType"`
		Signature     string `json:"signature"`
	} `json:"order"`
	OrderType string `json:"orderType"`
}

type clobOrderResponse struct {
	Success       bool   `json:"success"`
	OrderID       string `json:"orderID"`
	Status        string `json:"status"`
	ErrorMsg      string `json:"errorMsg"`
	MakingAmount  string `json:"makingAmount"`
	TakingAmount  string `json:"takingAmount"`
}

// PlaceOrder signs and submits a single FOK/GTC order to the CLOB. It
// satisfies venue.OrderClient.
func (c *CLOBClient) PlaceOrder(ctx context.Context, leg types.ExecutionLeg) (types.LegResult, error) {
	start := time.Now()
	if c.dryRun {
		c.logger.Info("dry-run: would place order", "instrument", leg.InstrumentID, "side", leg.Side, "price", leg.Price, "size", leg.Size)
		return types.LegResult{Leg: leg, FilledSize: leg.Size, AvgPrice: leg.Price, OrderID: "dry-run", Duration: time.Since(start)}, nil
	}
	if c.signer == nil {
		return types.LegResult{Leg: leg, Err: fmt.Errorf("clob: no signer configured")}, fmt.Errorf("clob: no signer configured")
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return types.LegResult{Leg: leg, Err: err}, err
	}

	makerAmt, takerAmt := decimalToAmounts(leg.Price, leg.Size, leg.Side)
	expiration := time.Now().Add(time.Minute).Unix()
	nonce := uint64(time.Now().UnixNano())

	sig, err := c.signer.SignOrder(leg.InstrumentID, makerAmt, takerAmt, leg.Side, expiration, nonce, 0)
	if err != nil {
		return types.LegResult{Leg: leg, Err: err}, err
	}

	var payload clobOrderPayload
	payload.Order.Maker = c.signer.FunderAddress().Hex()
	payload.Order.Signer = c.signer.Address().Hex()
	payload.Order.Taker = "0x0000000000000000000000000000000000000000"
	payload.Order.TokenID = leg.InstrumentID
	payload.Order.MakerAmount = makerAmt.String()
	payload.Order.TakerAmount = takerAmt.String()
	payload.Order.Side = string(leg.Side)
	payload.Order.Expiration = fmt.Sprintf("%d", expiration)
	payload.Order.Nonce = fmt.Sprintf("%d", nonce)
	payload.Order.FeeRateBps = "0"
	payload.Order.Signature = "0x" + fmt.Sprintf("%x", sig)
	payload.OrderType = string(leg.OrderType)

	body, err := json.Marshal(payload)
	if err != nil {
		return types.LegResult{Leg: leg, Err: err}, err
	}
	headers, err := c.signer.L2Headers(c.cfg.APIKey, c.cfg.APISecret, c.cfg.Passphrase, "POST", "/order", string(body))
	if err != nil {
		return types.LegResult{Leg: leg, Err: err}, err
	}

	var result clobOrderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(payload).
		SetResult(&result).
		Post("/order")
	if err != nil {
		return types.LegResult{Leg: leg, Err: err, Duration: time.Since(start)}, err
	}
	if resp.IsError() || !result.Success {
		err := fmt.Errorf("clob: order rejected: %s", result.ErrorMsg)
		return types.LegResult{Leg: leg, Err: err, Duration: time.Since(start)}, err
	}

	filled := leg.Size
	avgPrice := leg.Price
	return types.LegResult{
		Leg:        leg,
		FilledSize: filled,
		AvgPrice:   avgPrice,
		OrderID:    result.OrderID,
		Duration:   time.Since(start),
	}, nil
}

// CancelAll cancels every open order on the CLOB. It satisfies
// venue.OrderClient.
func (c *CLOBClient) CancelAll(ctx context.Context) error {
	if c.dryRun {
		c.logger.Info("dry-run: would cancel all orders")
		return nil
	}
	if c.signer == nil {
		return fmt.Errorf("clob: no signer configured")
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	headers, err := c.signer.L2Headers(c.cfg.APIKey, c.cfg.APISecret, c.cfg.Passphrase, "DELETE", "/cancel-all", "")
	if err != nil {
		return err
	}

	resp, err := c.http.R().SetContext(ctx).SetHeaders(headers).Delete("/cancel-all")
	if err != nil {
		return fmt.Errorf("cancel-all: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("cancel-all: status %d", resp.StatusCode())
	}
	c.logger.Info("cancelled all open orders")
	return nil
}

// decimalToAmounts converts a human-readable price/size pair into maker and
// taker amounts scaled to USDC's 6 decimals, the CTF exchange contract's
// on-chain unit.
func decimalToAmounts(price, size decimal.Decimal, side types.Side) (makerAmt, takerAmt *big.Int) {
	scale := decimal.NewFromInt(1_000_000)
	switch side {
	case types.BUY:
		cost := price.Mul(size)
		makerAmt = cost.Mul(scale).BigInt()
		takerAmt = size.Mul(scale).BigInt()
	default:
		makerAmt = size.Mul(scale).BigInt()
		revenue := price.Mul(size)
		takerAmt = revenue.Mul(scale).BigInt()
	}
	return makerAmt, takerAmt
}
