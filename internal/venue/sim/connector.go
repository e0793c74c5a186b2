// Package sim provides a deterministic in-memory venue connector used by the
// sim run mode and by tests. Quotes are seeded per symbol and orders fill
// instantly at the quoted price plus a configurable fee.
package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/arbx/internal/domain"
)

// Quote seeds one side of the simulated book for a symbol.
type Quote struct {
	Bid      float64
	Ask      float64
	BidDepth float64
	AskDepth float64
}

// Config controls a simulated venue's behavior.
type Config struct {
	VenueID    string
	FeeBps     float64            // taker fee applied to fills
	LatencyMs  float64            // reported in health checks
	Quotes     map[string]Quote   // symbol -> seeded quote
	Balances   map[string]float64 // asset -> total (USD value = total)
	FailOrders bool               // forces PlaceOrder to fail, for tests
}

// Connector is an in-memory domain.VenueConnector.
type Connector struct {
	cfg Config

	mu     sync.RWMutex
	status domain.VenueStatus
	quotes map[string]Quote
	subs   []func(domain.VenueEvent)
	fills  []domain.Order
}

var _ domain.VenueConnector = (*Connector)(nil)

// New creates a simulated connector. Quotes and balances may be nil.
func New(cfg Config) *Connector {
	quotes := make(map[string]Quote, len(cfg.Quotes))
	for s, q := range cfg.Quotes {
		quotes[s] = q
	}
	return &Connector{
		cfg:    cfg,
		status: domain.VenueDisconnected,
		quotes: quotes,
	}
}

func (c *Connector) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = domain.VenueConnected
	return nil
}

func (c *Connector) Cleanup(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = domain.VenueDisconnected
	return nil
}

func (c *Connector) Status() domain.VenueStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *Connector) Health(ctx context.Context) (domain.VenueHealth, error) {
	return domain.VenueHealth{
		Status:    c.Status(),
		LatencyMs: c.cfg.LatencyMs,
		ErrorRate: 0,
		CheckedAt: time.Now().UTC(),
	}, nil
}

// SetQuote replaces the seeded quote for a symbol. Tests use this to move the
// market between detection cycles.
func (c *Connector) SetQuote(symbol string, q Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quotes[symbol] = q
}

// SetStatus overrides the reported status, simulating a degraded or dropped
// connection.
func (c *Connector) SetStatus(s domain.VenueStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = s
}

func (c *Connector) MarketData(ctx context.Context, symbol string) (domain.MarketData, error) {
	c.mu.RLock()
	q, ok := c.quotes[symbol]
	c.mu.RUnlock()
	if !ok {
		return domain.MarketData{}, &domain.DataError{
			VenueID: c.cfg.VenueID,
			Symbol:  symbol,
			Err:     domain.ErrNotFound,
		}
	}
	now := time.Now().UTC()
	return domain.MarketData{
		VenueID:    c.cfg.VenueID,
		Symbol:     symbol,
		Bid:        q.Bid,
		Ask:        q.Ask,
		BidDepth:   q.BidDepth,
		AskDepth:   q.AskDepth,
		Spread:     q.Ask - q.Bid,
		Price:      (q.Bid + q.Ask) / 2,
		Quality:    domain.QualityRealtime,
		LastUpdate: now,
	}, nil
}

func (c *Connector) OrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBook, error) {
	c.mu.RLock()
	q, ok := c.quotes[symbol]
	c.mu.RUnlock()
	if !ok {
		return domain.OrderBook{}, &domain.DataError{
			VenueID: c.cfg.VenueID,
			Symbol:  symbol,
			Err:     domain.ErrNotFound,
		}
	}
	// Single-level book; depth beyond 1 just repeats the top with decayed size.
	book := domain.OrderBook{
		VenueID:   c.cfg.VenueID,
		Symbol:    symbol,
		Timestamp: time.Now().UTC(),
	}
	if depth < 1 {
		depth = 1
	}
	for i := 0; i < depth; i++ {
		step := float64(i) * 0.01
		size := q.BidDepth / float64(i+1)
		book.Bids = append(book.Bids, domain.PriceLevel{Price: q.Bid - step, Size: size})
		book.Asks = append(book.Asks, domain.PriceLevel{Price: q.Ask + step, Size: q.AskDepth / float64(i+1)})
	}
	return book, nil
}

func (c *Connector) PlaceOrder(ctx context.Context, order domain.Order) (domain.OrderResult, error) {
	if c.cfg.FailOrders {
		return domain.OrderResult{
				Success: false,
				VenueID: c.cfg.VenueID,
				Error:   "simulated venue rejected order",
			}, &domain.ExecutionError{
				VenueID: c.cfg.VenueID,
				OrderID: order.ID,
				Err:     fmt.Errorf("sim: order rejected"),
			}
	}

	c.mu.Lock()
	q, ok := c.quotes[order.Symbol]
	if ok {
		c.fills = append(c.fills, order)
	}
	c.mu.Unlock()
	if !ok {
		return domain.OrderResult{
				Success: false,
				VenueID: c.cfg.VenueID,
				Error:   "symbol not quoted",
			}, &domain.ExecutionError{
				VenueID: c.cfg.VenueID,
				OrderID: order.ID,
				Err:     domain.ErrNotFound,
			}
	}

	// Fill at the touch for the taker side.
	price := q.Ask
	if order.Side == domain.OrderSideSell {
		price = q.Bid
	}
	fees := price * order.Quantity * c.cfg.FeeBps / 10_000
	res := domain.OrderResult{
		Success:          true,
		OrderID:          uuid.NewString(),
		VenueID:          c.cfg.VenueID,
		ExecutionPrice:   price,
		ExecutedQuantity: order.Quantity,
		Fees:             fees,
	}
	c.notify(domain.VenueEvent{
		VenueID: c.cfg.VenueID,
		Type:    "order_executed",
		Payload: map[string]any{
			"order_id": res.OrderID,
			"symbol":   order.Symbol,
			"side":     string(order.Side),
			"price":    price,
			"quantity": order.Quantity,
		},
		At: time.Now().UTC(),
	})
	return res, nil
}

func (c *Connector) Balances(ctx context.Context) ([]domain.Balance, error) {
	balances := make([]domain.Balance, 0, len(c.cfg.Balances))
	for asset, total := range c.cfg.Balances {
		balances = append(balances, domain.Balance{
			Asset:    asset,
			Total:    total,
			USDValue: total,
		})
	}
	return balances, nil
}

func (c *Connector) Subscribe(fn func(domain.VenueEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, fn)
}

// Fills returns the orders accepted so far, in placement order.
func (c *Connector) Fills() []domain.Order {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Order, len(c.fills))
	copy(out, c.fills)
	return out
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
