package arbitrage

import (
	"time"

	"github.com/alanyoungcy/arbx/internal/domain"
)

// Fixed risk penalties added on top of the base score. Each observed
// condition adds its penalty once per side where noted; the sum is capped at
// 100.
const (
	penaltyThinDepth   = 15 // side depth under 2x candidate volume
	penaltyWideSpread  = 10 // side quoted spread over 0.1% of price
	penaltyNotRealtime = 15 // side data quality below realtime
	penaltyDeepFill    = 10 // volume over 80% of the thinner side's depth
)

// Confidence starts at a neutral base and earns fixed increments per side
// for realtime quality and sub-second data age, capped at 1.0.
const (
	confidenceBase     = 0.5
	confidenceRealtime = 0.15
	confidenceFresh    = 0.10
	maxFreshAge        = time.Second
)

// riskScore computes the 0-100 risk score for a candidate.
func riskScore(base float64, buy, sell domain.MarketData, volume float64) float64 {
	score := base

	// The buy leg consumes ask-side depth, the sell leg bid-side depth.
	if buy.AskDepth < 2*volume {
		score += penaltyThinDepth
	}
	if sell.BidDepth < 2*volume {
		score += penaltyThinDepth
	}
	if buy.Spread > buy.Mid()*0.001 {
		score += penaltyWideSpread
	}
	if sell.Spread > sell.Mid()*0.001 {
		score += penaltyWideSpread
	}
	if buy.Quality != domain.QualityRealtime {
		score += penaltyNotRealtime
	}
	if sell.Quality != domain.QualityRealtime {
		score += penaltyNotRealtime
	}

	thinner := buy.AskDepth
	if sell.BidDepth < thinner {
		thinner = sell.BidDepth
	}
	if thinner > 0 && volume > 0.8*thinner {
		score += penaltyDeepFill
	}

	if score > 100 {
		score = 100
	}
	return score
}

// confidence computes the 0-1 confidence for a candidate at time now.
func confidence(buy, sell domain.MarketData, now time.Time) float64 {
	c := confidenceBase
	for _, side := range []domain.MarketData{buy, sell} {
		if side.Quality == domain.QualityRealtime {
			c += confidenceRealtime
		}
		if !side.LastUpdate.IsZero() && now.Sub(side.LastUpdate) < maxFreshAge {
			c += confidenceFresh
		}
	}
	if c > 1.0 {
		c = 1.0
	}
	return c
}

// liquidityRisk buckets the candidate volume.
func liquidityRisk(volume float64) domain.RiskLevel {
	switch {
	case volume >= 1000:
		return domain.RiskLow
	case volume >= 100:
		return domain.RiskMedium
	default:
		return domain.RiskHigh
	}
}

// executionRisk buckets the weaker venue's reliability.
func executionRisk(buyReliability, sellReliability float64) domain.RiskLevel {
	weaker := buyReliability
	if sellReliability < weaker {
		weaker = sellReliability
	}
	switch {
	case weaker >= 0.95:
		return domain.RiskLow
	case weaker >= 0.80:
		return domain.RiskMedium
	default:
		return domain.RiskHigh
	}
}

// qualityBucket classifies by net spread percent and volume thresholds.
func qualityBucket(netSpreadPercent, volume float64) domain.OpportunityQuality {
	switch {
	case netSpreadPercent >= 1.0 && volume >= 1000:
		return domain.QualityExcellent
	case netSpreadPercent >= 0.5 && volume >= 500:
		return domain.QualityGood
	case netSpreadPercent >= 0.2 && volume >= 100:
		return domain.QualityFair
	default:
		return domain.QualityPoor
	}
}
