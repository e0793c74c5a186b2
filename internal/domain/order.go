package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// TimeInForce indicates the order's lifetime policy.
type TimeInForce string

const (
	TIFImmediateOrCancel TimeInForce = "IOC"
	TIFGoodTillCancelled TimeInForce = "GTC"
	TIFFillOrKill        TimeInForce = "FOK"
)

// Order is a venue-agnostic trading order. Both arbitrage legs are IOC so an
// unfillable remainder cancels instead of resting on the book.
type Order struct {
	ID          string
	Symbol      string
	Side        OrderSide
	Quantity    float64
	Price       float64
	TimeInForce TimeInForce
	VenueID     string // set by routing; empty lets the strategy choose
	CreatedAt   time.Time
}

// Notional returns price * quantity.
func (o Order) Notional() float64 {
	return o.Price * o.Quantity
}

// OrderResult is the venue's answer to a placed order.
type OrderResult struct {
	Success          bool
	OrderID          string
	VenueID          string
	ExecutionPrice   float64
	ExecutedQuantity float64
	Fees             float64
	Error            string
}

// Balance is one asset's holding on a venue.
type Balance struct {
	Asset    string
	Total    float64
	USDValue float64
}
