package arbitrage

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/arbx/internal/domain"
)

// maxRiskScore rejects candidates scored above this before they ever reach
// the planner.
const maxRiskScore = 80

// MarketAggregator is the slice of the venue registry the detector needs.
type MarketAggregator interface {
	AggregatedMarketData(ctx context.Context, symbol string) (map[string]domain.MarketData, error)
	VenueConfig(venueID string) (domain.VenueConfig, bool)
}

// DetectorConfig holds detection thresholds.
type DetectorConfig struct {
	MinProfitThreshold float64 // percent
	MaxProfitThreshold float64 // percent; above this the quote is treated as a data outlier
	MinVolumeThreshold float64
	MaxLatencyMs       float64
	OpportunityExpiry  time.Duration
	BaseRiskScore      float64
}

// Detector computes pairwise price discrepancies over aggregated market data
// and maintains the active-opportunity set.
type Detector struct {
	cfg     DetectorConfig
	agg     MarketAggregator
	fees    domain.FeeModel
	latency domain.LatencyModel
	bus     domain.EventBus
	store   domain.OpportunityStore // optional
	logger  *slog.Logger

	mu     sync.Mutex
	active map[string]domain.Opportunity
}

// NewDetector creates a Detector. store may be nil, in which case detected
// opportunities are not persisted.
func NewDetector(
	cfg DetectorConfig,
	agg MarketAggregator,
	fees domain.FeeModel,
	latency domain.LatencyModel,
	bus domain.EventBus,
	store domain.OpportunityStore,
	logger *slog.Logger,
) *Detector {
	if cfg.BaseRiskScore <= 0 {
		cfg.BaseRiskScore = 20
	}
	return &Detector{
		cfg:     cfg,
		agg:     agg,
		fees:    fees,
		latency: latency,
		bus:     bus,
		store:   store,
		logger:  logger.With(slog.String("component", "arb_detector")),
		active:  make(map[string]domain.Opportunity),
	}
}

// Detect scans every requested symbol, evaluates every ordered venue pair in
// both directions, and returns the surviving opportunities sorted descending
// by net spread percent. The active set is updated in the same pass: expired
// entries are dropped and survivors are upserted by ID.
func (d *Detector) Detect(ctx context.Context, symbols []string) ([]domain.Opportunity, error) {
	now := time.Now().UTC()
	var found []domain.Opportunity

	for _, symbol := range symbols {
		data, err := d.agg.AggregatedMarketData(ctx, symbol)
		if err != nil {
			// Aggregation failures for one symbol never abort the batch.
			d.logger.WarnContext(ctx, "aggregation failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
			continue
		}
		if len(data) < 2 {
			continue
		}

		venueIDs := make([]string, 0, len(data))
		for id := range data {
			venueIDs = append(venueIDs, id)
		}
		sort.Strings(venueIDs)

		for _, buyVenue := range venueIDs {
			for _, sellVenue := range venueIDs {
				if buyVenue == sellVenue {
					continue
				}
				opp, ok := d.evaluatePair(symbol, data[buyVenue], data[sellVenue], now)
				if !ok {
					continue
				}
				found = append(found, opp)
			}
		}
	}

	sort.Slice(found, func(i, j int) bool {
		return found[i].NetSpreadPercent > found[j].NetSpreadPercent
	})

	d.mu.Lock()
	for id, opp := range d.active {
		if opp.Expired(now) {
			delete(d.active, id)
		}
	}
	for _, opp := range found {
		d.active[opp.ID] = opp
	}
	d.mu.Unlock()

	if d.store != nil {
		for _, opp := range found {
			if err := d.store.Insert(ctx, opp); err != nil {
				d.logger.WarnContext(ctx, "opportunity insert failed",
					slog.String("opp_id", opp.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	return found, nil
}

// evaluatePair scores one directed candidate: buy at the buy venue's ask,
// sell at the sell venue's bid.
func (d *Detector) evaluatePair(symbol string, buy, sell domain.MarketData, now time.Time) (domain.Opportunity, bool) {
	buyPrice := buy.Ask
	sellPrice := sell.Bid
	if buyPrice <= 0 || sellPrice <= 0 {
		return domain.Opportunity{}, false
	}

	grossSpread := sellPrice - buyPrice
	if grossSpread <= 0 {
		return domain.Opportunity{}, false
	}

	maxVolume := buy.AskDepth
	if sell.BidDepth < maxVolume {
		maxVolume = sell.BidDepth
	}
	if maxVolume < d.cfg.MinVolumeThreshold {
		return domain.Opportunity{}, false
	}

	estimatedFees := d.fees.EstimateFees(buy.VenueID, sell.VenueID, buyPrice, sellPrice, maxVolume)
	netSpread := grossSpread - estimatedFees
	netSpreadPercent := netSpread / buyPrice * 100

	if netSpreadPercent < d.cfg.MinProfitThreshold {
		return domain.Opportunity{}, false
	}
	// Spreads this wide are bad quotes, not free money.
	if netSpreadPercent > d.cfg.MaxProfitThreshold {
		return domain.Opportunity{}, false
	}

	if estMs := d.latency.EstimateMs(buy.VenueID, sell.VenueID); estMs > d.cfg.MaxLatencyMs {
		return domain.Opportunity{}, false
	}

	score := riskScore(d.cfg.BaseRiskScore, buy, sell, maxVolume)
	if score > maxRiskScore {
		return domain.Opportunity{}, false
	}

	buyCfg, _ := d.agg.VenueConfig(buy.VenueID)
	sellCfg, _ := d.agg.VenueConfig(sell.VenueID)

	return domain.Opportunity{
		ID:               uuid.New().String(),
		Symbol:           symbol,
		BuyVenue:         buy.VenueID,
		SellVenue:        sell.VenueID,
		BuyPrice:         buyPrice,
		SellPrice:        sellPrice,
		NetSpread:        netSpread,
		NetSpreadPercent: netSpreadPercent,
		MaxVolume:        maxVolume,
		EstimatedProfit:  netSpread * maxVolume,
		RequiredCapital:  buyPrice * maxVolume,
		RiskScore:        score,
		LiquidityRisk:    liquidityRisk(maxVolume),
		ExecutionRisk:    executionRisk(buyCfg.Reliability, sellCfg.Reliability),
		Quality:          qualityBucket(netSpreadPercent, maxVolume),
		Confidence:       confidence(buy, sell, now),
		DetectedAt:       now,
		ExpiresAt:        now.Add(d.cfg.OpportunityExpiry),
	}, true
}

// Active returns a snapshot of the non-expired active opportunity set.
func (d *Detector) Active() []domain.Opportunity {
	now := time.Now().UTC()
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.Opportunity, 0, len(d.active))
	for _, opp := range d.active {
		if !opp.Expired(now) {
			out = append(out, opp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].NetSpreadPercent > out[j].NetSpreadPercent
	})
	return out
}

// Get returns an active opportunity by ID.
func (d *Detector) Get(id string) (domain.Opportunity, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	opp, ok := d.active[id]
	return opp, ok
}

// RemoveExpired drops entries expired at t and returns how many were
// removed. A second run at the same t removes nothing.
func (d *Detector) RemoveExpired(t time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	removed := 0
	for id, opp := range d.active {
		if opp.Expired(t) {
			delete(d.active, id)
			removed++
		}
	}
	return removed
}

// Clear empties the active set. Used on shutdown.
func (d *Detector) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active = make(map[string]domain.Opportunity)
}
