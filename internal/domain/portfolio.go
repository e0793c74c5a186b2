package domain

import "time"

// AssetAllocation is one asset's share of the cross-venue portfolio.
type AssetAllocation struct {
	Asset      string
	Total      float64
	USDValue   float64
	Percent    float64
	VenueCount int
}

// Portfolio aggregates balances across all active venues.
type Portfolio struct {
	TotalValueUSD     float64
	Allocations       []AssetAllocation
	VenueValues       map[string]float64
	ConcentrationRisk float64 // largest asset share, 0..1
	VenueRisk         float64 // largest venue share, 0..1
	RefreshedAt       time.Time
}
