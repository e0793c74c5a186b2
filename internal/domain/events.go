package domain

import (
	"context"
	"time"
)

// Event types emitted by the arbitrage core. Consumers (metrics, alerting,
// dashboards) subscribe explicitly; nothing in the core depends on anyone
// listening.
const (
	EventVenueRegistered   = "venue_registered"
	EventVenueUnregistered = "venue_unregistered"
	EventVenueHealth       = "venue_health"
	EventDataError         = "data_error"
	EventOpportunities     = "opportunities_detected"
	EventHighValueAlert    = "high_value_opportunity_alert"
	EventExecutionResult   = "execution_result"
	EventUnhedgedExposure  = "unhedged_exposure"
	EventPerformance       = "performance_snapshot"
)

// Event is a structured notification pushed onto the event bus.
type Event struct {
	Type    string         `json:"type"`
	VenueID string         `json:"venue_id,omitempty"`
	Symbol  string         `json:"symbol,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
	At      time.Time      `json:"at"`
}

// EventBus decouples event producers from consumers. Publish must never
// block the caller; slow subscribers lose events rather than stalling the
// trading path.
type EventBus interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(ctx context.Context, types ...string) (<-chan Event, error)
}
