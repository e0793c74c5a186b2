package domain

import "time"

// RiskLevel is a discrete bucketing of liquidity or execution risk.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// OpportunityQuality buckets opportunities by spread and volume.
type OpportunityQuality string

const (
	QualityExcellent OpportunityQuality = "excellent"
	QualityGood      OpportunityQuality = "good"
	QualityFair      OpportunityQuality = "fair"
	QualityPoor      OpportunityQuality = "poor"
)

// Opportunity is a scored, time-bounded candidate arbitrage trade between two
// venues: buy at BuyVenue's ask, sell at SellVenue's bid. Immutable once
// created; superseded entries are overwritten by ID in the active set.
type Opportunity struct {
	ID               string
	Symbol           string
	BuyVenue         string
	SellVenue        string
	BuyPrice         float64
	SellPrice        float64
	NetSpread        float64
	NetSpreadPercent float64
	MaxVolume        float64
	EstimatedProfit  float64
	RequiredCapital  float64
	RiskScore        float64 // 0..100
	LiquidityRisk    RiskLevel
	ExecutionRisk    RiskLevel
	Quality          OpportunityQuality
	Confidence       float64 // 0..1
	DetectedAt       time.Time
	ExpiresAt        time.Time
}

// Expired reports whether the opportunity is no longer actionable at t.
// An opportunity whose ExpiresAt equals t counts as expired.
func (o Opportunity) Expired(t time.Time) bool {
	return !t.Before(o.ExpiresAt)
}
