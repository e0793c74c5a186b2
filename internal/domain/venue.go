package domain

import (
	"context"
	"time"
)

// VenueStatus is the connector's reported connection state.
type VenueStatus string

const (
	VenueConnected    VenueStatus = "connected"
	VenueDisconnected VenueStatus = "disconnected"
	VenueDegraded     VenueStatus = "degraded"
)

// VenueHealth is a structured health snapshot from a connector.
type VenueHealth struct {
	Status    VenueStatus
	LatencyMs float64
	ErrorRate float64
	Message   string
	CheckedAt time.Time
}

// VenueConfig is the static per-venue configuration supplied at registration.
type VenueConfig struct {
	Name           string
	MakerFeeBps    float64
	TakerFeeBps    float64
	AvgLatencyMs   float64
	Reliability    float64 // 0..1, drives execution-risk bucketing
	RateLimitPerS  int
	MaxConnections int
}

// VenueEvent is a notification re-published from a connector.
type VenueEvent struct {
	VenueID string
	Type    string // "status_change", "error", "order_executed"
	Payload map[string]any
	At      time.Time
}

// VenueConnector is the capability contract every venue adapter must expose.
// Initialize is guaranteed to run before first use and Cleanup after last use.
type VenueConnector interface {
	Initialize(ctx context.Context) error
	Cleanup(ctx context.Context) error

	Status() VenueStatus
	Health(ctx context.Context) (VenueHealth, error)

	MarketData(ctx context.Context, symbol string) (MarketData, error)
	OrderBook(ctx context.Context, symbol string, depth int) (OrderBook, error)
	PlaceOrder(ctx context.Context, order Order) (OrderResult, error)
	Balances(ctx context.Context) ([]Balance, error)

	// Subscribe registers a callback for connector notifications. Connectors
	// must not block inside the callback.
	Subscribe(fn func(VenueEvent))
}

// VenueRegistration is the registry's bookkeeping for one connected venue.
type VenueRegistration struct {
	VenueID         string
	Connector       VenueConnector
	Config          VenueConfig
	LastHealthCheck time.Time
	Active          bool
	Connections     int
}

// PoolSummary aggregates connection slots and health across registrations.
type PoolSummary struct {
	ActiveVenues   int
	TotalVenues    int
	ActiveSlots    int
	AvailableSlots int
	HealthRatio    float64 // active / total, 0 when empty
	UpdatedAt      time.Time
}
