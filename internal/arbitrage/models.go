// Package arbitrage detects, scores and maintains cross-venue arbitrage
// opportunities from aggregated market data.
package arbitrage

// TakerFeeModel estimates fees from per-venue taker rates in basis points.
// Venues without a configured rate fall back to DefaultBps.
type TakerFeeModel struct {
	Bps        map[string]float64
	DefaultBps float64
}

// NewTakerFeeModel builds a fee model from a per-venue bps table. A zero
// defaultBps falls back to 10 bps (0.1% per leg).
func NewTakerFeeModel(bps map[string]float64, defaultBps float64) *TakerFeeModel {
	if defaultBps <= 0 {
		defaultBps = 10
	}
	table := make(map[string]float64, len(bps))
	for k, v := range bps {
		table[k] = v
	}
	return &TakerFeeModel{Bps: table, DefaultBps: defaultBps}
}

func (m *TakerFeeModel) rate(venueID string) float64 {
	if r, ok := m.Bps[venueID]; ok {
		return r
	}
	return m.DefaultBps
}

// EstimateFees returns the combined fee per unit of volume for a two-leg
// trade: each leg pays its venue's taker rate on that leg's price.
func (m *TakerFeeModel) EstimateFees(buyVenue, sellVenue string, buyPrice, sellPrice, _ float64) float64 {
	return buyPrice*m.rate(buyVenue)/10_000 + sellPrice*m.rate(sellVenue)/10_000
}

// LegFee returns the fee for a single leg's notional.
func (m *TakerFeeModel) LegFee(venueID string, notional float64) float64 {
	return notional * m.rate(venueID) / 10_000
}

// FixedLatencyModel estimates execution time from per-venue round-trip
// constants in milliseconds.
type FixedLatencyModel struct {
	Ms        map[string]float64
	DefaultMs float64
}

// NewFixedLatencyModel builds a latency model from a per-venue table. A zero
// defaultMs falls back to 150ms per venue.
func NewFixedLatencyModel(ms map[string]float64, defaultMs float64) *FixedLatencyModel {
	if defaultMs <= 0 {
		defaultMs = 150
	}
	table := make(map[string]float64, len(ms))
	for k, v := range ms {
		table[k] = v
	}
	return &FixedLatencyModel{Ms: table, DefaultMs: defaultMs}
}

func (m *FixedLatencyModel) venueMs(venueID string) float64 {
	if v, ok := m.Ms[venueID]; ok {
		return v
	}
	return m.DefaultMs
}

// EstimateMs returns the expected total execution time for dispatching one
// leg to each venue. Legs run concurrently but both must settle, so the
// estimate sums both round trips as a conservative bound.
func (m *FixedLatencyModel) EstimateMs(buyVenue, sellVenue string) float64 {
	return m.venueMs(buyVenue) + m.venueMs(sellVenue)
}
