package domain

import "time"

// DataQuality classifies how fresh a venue snapshot is.
type DataQuality string

const (
	QualityRealtime DataQuality = "realtime"
	QualityDelayed  DataQuality = "delayed"
	QualityStale    DataQuality = "stale"
)

// MarketData is a per-venue snapshot of the top of book for one symbol.
type MarketData struct {
	VenueID    string
	Symbol     string
	Bid        float64
	Ask        float64
	BidDepth   float64
	AskDepth   float64
	Spread     float64
	Price      float64
	Quality    DataQuality
	LastUpdate time.Time
}

// Mid returns the midpoint of bid and ask, or the last price when one side
// is missing.
func (m MarketData) Mid() float64 {
	if m.Bid > 0 && m.Ask > 0 {
		return (m.Bid + m.Ask) / 2
	}
	return m.Price
}

// PriceLevel is a single price+size entry in an order book.
type PriceLevel struct {
	Price float64
	Size  float64
}

// OrderBook is a depth snapshot for one symbol on one venue.
type OrderBook struct {
	VenueID   string
	Symbol    string
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp time.Time
}

// BestBid returns the highest bid, or 0 when the book is empty.
func (b OrderBook) BestBid() float64 {
	if len(b.Bids) == 0 {
		return 0
	}
	return b.Bids[0].Price
}

// BestAsk returns the lowest ask, or 0 when the book is empty.
func (b OrderBook) BestAsk() float64 {
	if len(b.Asks) == 0 {
		return 0
	}
	return b.Asks[0].Price
}
