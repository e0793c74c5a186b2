// Package wsfeed implements a venue connector backed by a generic JSON
// websocket quote stream. The connector keeps the latest quote per symbol in
// memory and serves market data from that cache; order placement is not
// supported, feed-only venues contribute prices, not liquidity routing.
package wsfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/arbx/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message.
	pongWait = 30 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff.
	maxReconnectDelay = 60 * time.Second
)

// quoteMessage is the wire shape the feed pushes per symbol update.
type quoteMessage struct {
	Type     string  `json:"type"`
	Symbol   string  `json:"symbol"`
	Bid      float64 `json:"bid"`
	Ask      float64 `json:"ask"`
	BidDepth float64 `json:"bid_depth"`
	AskDepth float64 `json:"ask_depth"`
	TS       int64   `json:"ts_ms"`
}

// subscribeCmd is sent after connecting to select symbols.
type subscribeCmd struct {
	ID      int64    `json:"id"`
	Cmd     string   `json:"cmd"`
	Symbols []string `json:"symbols"`
}

// Config configures a feed connector.
type Config struct {
	VenueID string
	URL     string
	Symbols []string
}

// Connector is a feed-only domain.VenueConnector.
type Connector struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.RWMutex
	conn   *websocket.Conn
	stop   chan struct{} // closed when conn is replaced; retires its loops
	closed bool
	cmdID  int64
	quotes map[string]domain.MarketData
	subs   []func(domain.VenueEvent)

	// writeMu serializes websocket writes; gorilla/websocket supports at
	// most one concurrent writer per connection.
	writeMu sync.Mutex

	done chan struct{}
}

var _ domain.VenueConnector = (*Connector)(nil)

// New creates a feed connector. Initialize dials the websocket.
func New(cfg Config, logger *slog.Logger) *Connector {
	return &Connector{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "wsfeed"), slog.String("venue", cfg.VenueID)),
		quotes: make(map[string]domain.MarketData),
		done:   make(chan struct{}),
	}
}

// Initialize dials the feed and starts the read and ping loops.
func (c *Connector) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("wsfeed: connector is closed")
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("wsfeed: connect %s: %w", c.cfg.URL, err)
	}

	// Retire the previous connection's read and ping loops before the new
	// connection takes over; two ping loops on one conn would interleave
	// writes.
	if c.stop != nil {
		close(c.stop)
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	stop := make(chan struct{})
	c.conn = conn
	c.stop = stop

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	if len(c.cfg.Symbols) > 0 {
		if err := c.sendSubscribe(conn, c.cfg.Symbols); err != nil {
			return fmt.Errorf("wsfeed: subscribe: %w", err)
		}
	}

	go c.readLoop(conn, stop)
	go c.pingLoop(conn, stop)
	return nil
}

// Cleanup closes the websocket and stops background loops.
func (c *Connector) Cleanup(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}

	if c.conn != nil {
		c.writeMu.Lock()
		_ = c.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		c.writeMu.Unlock()
		return c.conn.Close()
	}
	return nil
}

func (c *Connector) Status() domain.VenueStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch {
	case c.closed, c.conn == nil:
		return domain.VenueDisconnected
	default:
		return domain.VenueConnected
	}
}

func (c *Connector) Health(ctx context.Context) (domain.VenueHealth, error) {
	status := c.Status()
	h := domain.VenueHealth{
		Status:    status,
		CheckedAt: time.Now().UTC(),
	}
	if status != domain.VenueConnected {
		h.Message = "feed disconnected"
	}
	return h, nil
}

// MarketData serves the latest cached quote for symbol.
func (c *Connector) MarketData(ctx context.Context, symbol string) (domain.MarketData, error) {
	c.mu.RLock()
	md, ok := c.quotes[symbol]
	c.mu.RUnlock()
	if !ok {
		return domain.MarketData{}, &domain.DataError{
			VenueID: c.cfg.VenueID,
			Symbol:  symbol,
			Err:     domain.ErrNotFound,
		}
	}
	return md, nil
}

// OrderBook synthesizes a single-level book from the cached quote; the feed
// protocol carries top-of-book only.
func (c *Connector) OrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBook, error) {
	md, err := c.MarketData(ctx, symbol)
	if err != nil {
		return domain.OrderBook{}, err
	}
	return domain.OrderBook{
		VenueID:   c.cfg.VenueID,
		Symbol:    symbol,
		Bids:      []domain.PriceLevel{{Price: md.Bid, Size: md.BidDepth}},
		Asks:      []domain.PriceLevel{{Price: md.Ask, Size: md.AskDepth}},
		Timestamp: md.LastUpdate,
	}, nil
}

// PlaceOrder always fails: the feed carries no trading endpoint.
func (c *Connector) PlaceOrder(ctx context.Context, order domain.Order) (domain.OrderResult, error) {
	return domain.OrderResult{
			Success: false,
			VenueID: c.cfg.VenueID,
			Error:   "feed-only venue does not accept orders",
		}, &domain.ExecutionError{
			VenueID: c.cfg.VenueID,
			OrderID: order.ID,
			Err:     domain.ErrDisabled,
		}
}

// Balances reports empty holdings; the feed has no account.
func (c *Connector) Balances(ctx context.Context) ([]domain.Balance, error) {
	return nil, nil
}

func (c *Connector) Subscribe(fn func(domain.VenueEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, fn)
}

// sendSubscribe sends a subscribe command. Caller must hold c.mu.
func (c *Connector) sendSubscribe(conn *websocket.Conn, symbols []string) error {
	c.cmdID++
	cmd := subscribeCmd{ID: c.cmdID, Cmd: "subscribe", Symbols: symbols}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal subscribe: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads quote messages from its own connection and updates the
// cache. On disconnect it attempts reconnection with backoff. A closed stop
// channel means the connection was replaced and this loop must not reconnect.
func (c *Connector) readLoop(conn *websocket.Conn, stop chan struct{}) {
	defer conn.Close()

	for {
		select {
		case <-c.done:
			return
		case <-stop:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			case <-stop:
				return
			default:
			}
			c.notify(domain.VenueEvent{
				VenueID: c.cfg.VenueID,
				Type:    "status_change",
				Payload: map[string]any{"status": string(domain.VenueDisconnected)},
				At:      time.Now().UTC(),
			})
			c.reconnect()
			return
		}

		c.handleMessage(message)
	}
}

// pingLoop keeps its connection alive until the connection is replaced or
// the connector shuts down.
func (c *Connector) pingLoop(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-stop:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// handleMessage parses one feed message into the quote cache.
func (c *Connector) handleMessage(raw []byte) {
	var msg quoteMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if msg.Type != "quote" || msg.Symbol == "" {
		return
	}

	updated := time.UnixMilli(msg.TS).UTC()
	if msg.TS == 0 {
		updated = time.Now().UTC()
	}
	md := domain.MarketData{
		VenueID:    c.cfg.VenueID,
		Symbol:     msg.Symbol,
		Bid:        msg.Bid,
		Ask:        msg.Ask,
		BidDepth:   msg.BidDepth,
		AskDepth:   msg.AskDepth,
		Spread:     msg.Ask - msg.Bid,
		Price:      (msg.Bid + msg.Ask) / 2,
		Quality:    domain.QualityRealtime,
		LastUpdate: updated,
	}

	c.mu.Lock()
	c.quotes[msg.Symbol] = md
	c.mu.Unlock()
}

// reconnect re-establishes the feed with exponential backoff.
func (c *Connector) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-c.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := c.Initialize(ctx)
		cancel()
		if err == nil {
			c.logger.Info("feed reconnected")
			c.notify(domain.VenueEvent{
				VenueID: c.cfg.VenueID,
				Type:    "status_change",
				Payload: map[string]any{"status": string(domain.VenueConnected)},
				At:      time.Now().UTC(),
			})
			return
		}
		c.logger.Warn("feed reconnect failed", slog.String("error", err.Error()))

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (c *Connector) notify(ev domain.VenueEvent) {
	c.mu.RLock()
	subs := make([]func(domain.VenueEvent), len(c.subs))
	copy(subs, c.subs)
	c.mu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}
