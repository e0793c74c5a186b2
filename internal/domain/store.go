package domain

import (
	"context"
	"time"
)

// OpportunityStore persists detected opportunities for later analysis.
type OpportunityStore interface {
	Insert(ctx context.Context, opp Opportunity) error
	ListRecent(ctx context.Context, limit int) ([]Opportunity, error)
	ListBefore(ctx context.Context, before time.Time) ([]Opportunity, error)
}

// ExecutionStore persists execution results with their legs.
type ExecutionStore interface {
	Create(ctx context.Context, res ExecutionResult) error
	GetByPlanID(ctx context.Context, planID string) (ExecutionResult, error)
	ListRecent(ctx context.Context, limit int) ([]ExecutionResult, error)
	ListBefore(ctx context.Context, before time.Time) ([]ExecutionResult, error)
}

// MarketDataMirror mirrors aggregated snapshots into a shared cache so other
// processes can read the same view the detector used.
type MarketDataMirror interface {
	SetSnapshot(ctx context.Context, md MarketData) error
	GetSnapshot(ctx context.Context, venueID, symbol string) (MarketData, error)
}

// BlobWriter uploads an object to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
}

// FeeModel estimates total fees for a two-leg trade. Implementations are
// pluggable; the default uses per-venue taker fee rates.
type FeeModel interface {
	EstimateFees(buyVenue, sellVenue string, buyPrice, sellPrice, volume float64) float64
	LegFee(venueID string, notional float64) float64
}

// LatencyModel estimates round-trip execution time for a venue pair.
type LatencyModel interface {
	EstimateMs(buyVenue, sellVenue string) float64
}
