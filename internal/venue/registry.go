// Package venue owns the set of connected trading venues. It aggregates
// market data, order books and balances across them with settle-all
// semantics, tracks per-venue health, and routes outgoing orders.
package venue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/arbx/internal/domain"
)

// RegistryConfig holds the registry's limits and cadences.
type RegistryConfig struct {
	MaxVenues           int
	HealthCheckInterval time.Duration
	PortfolioTTL        time.Duration
	RequestTimeout      time.Duration
	// CacheTTL bounds reuse of aggregated snapshots; aligned with the
	// engine's price update interval.
	CacheTTL time.Duration
	// Routing selects the default strategy for orders submitted without a
	// venue binding: "best_price", "smart" or "fixed". Empty means
	// best_price. FixedVenue names the target when Routing is "fixed".
	Routing    string
	FixedVenue string
}

// marketDataEntry is one cached aggregation result for a symbol.
type marketDataEntry struct {
	data      map[string]domain.MarketData
	fetchedAt time.Time
}

type orderBookEntry struct {
	books     map[string]domain.OrderBook
	depth     int
	fetchedAt time.Time
}

// Registry is the venue registry and aggregation layer.
type Registry struct {
	cfg     RegistryConfig
	bus     domain.EventBus
	mirror  domain.MarketDataMirror // optional
	routing RoutingStrategy
	logger  *slog.Logger

	mu     sync.RWMutex
	venues map[string]*domain.VenueRegistration
	pool   domain.PoolSummary

	cacheMu   sync.RWMutex
	mdCache   map[string]*marketDataEntry
	bookCache map[string]*orderBookEntry

	pfMu      sync.RWMutex
	portfolio *domain.Portfolio
}

// NewRegistry creates an empty Registry. mirror may be nil; when set,
// aggregated snapshots are mirrored into it best-effort.
func NewRegistry(cfg RegistryConfig, bus domain.EventBus, mirror domain.MarketDataMirror, logger *slog.Logger) *Registry {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if cfg.Routing == "" {
		cfg.Routing = "best_price"
	}
	routing, err := NewRoutingStrategy(cfg.Routing, cfg.FixedVenue)
	if err != nil {
		// Config validation rejects unknown tags before construction;
		// fall back rather than fail on direct misuse.
		routing = BestPriceRouting{}
	}
	return &Registry{
		cfg:       cfg,
		bus:       bus,
		mirror:    mirror,
		routing:   routing,
		logger:    logger.With(slog.String("component", "venue_registry")),
		venues:    make(map[string]*domain.VenueRegistration),
		mdCache:   make(map[string]*marketDataEntry),
		bookCache: make(map[string]*orderBookEntry),
	}
}

// Register initializes the connector, wires its notifications into the event
// bus, and stores the registration. It fails with a CapacityError when the
// registry is full and ErrDuplicateVenue when the venue is already present.
func (r *Registry) Register(ctx context.Context, venueID string, conn domain.VenueConnector, cfg domain.VenueConfig) error {
	r.mu.Lock()
	if len(r.venues) >= r.cfg.MaxVenues {
		current := len(r.venues)
		r.mu.Unlock()
		return &domain.CapacityError{Resource: "venues", Limit: r.cfg.MaxVenues, Current: current}
	}
	if _, exists := r.venues[venueID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("venue: register %s: %w", venueID, domain.ErrDuplicateVenue)
	}
	r.mu.Unlock()

	// Initialize outside the lock; connectors may dial out here.
	if err := conn.Initialize(ctx); err != nil {
		return fmt.Errorf("venue: initialize %s: %w", venueID, err)
	}

	conn.Subscribe(func(ev domain.VenueEvent) {
		payload := map[string]any{"venue_event": ev.Type}
		for k, v := range ev.Payload {
			payload[k] = v
		}
		_ = r.bus.Publish(context.Background(), domain.Event{
			Type:    domain.EventVenueHealth,
			VenueID: venueID,
			Payload: payload,
			At:      time.Now().UTC(),
		})
	})

	reg := &domain.VenueRegistration{
		VenueID:         venueID,
		Connector:       conn,
		Config:          cfg,
		LastHealthCheck: time.Now().UTC(),
		Active:          true,
		Connections:     1,
	}

	r.mu.Lock()
	// Re-check both conditions: another Register may have won the race
	// during Initialize, or filled the last slot.
	if _, exists := r.venues[venueID]; exists {
		r.mu.Unlock()
		cleanupCtx, cancel := context.WithTimeout(context.Background(), r.cfg.RequestTimeout)
		_ = conn.Cleanup(cleanupCtx)
		cancel()
		return fmt.Errorf("venue: register %s: %w", venueID, domain.ErrDuplicateVenue)
	}
	if len(r.venues) >= r.cfg.MaxVenues {
		current := len(r.venues)
		r.mu.Unlock()
		cleanupCtx, cancel := context.WithTimeout(context.Background(), r.cfg.RequestTimeout)
		_ = conn.Cleanup(cleanupCtx)
		cancel()
		return &domain.CapacityError{Resource: "venues", Limit: r.cfg.MaxVenues, Current: current}
	}
	r.venues[venueID] = reg
	r.updatePoolLocked()
	r.mu.Unlock()

	r.logger.InfoContext(ctx, "venue registered",
		slog.String("venue", venueID),
		slog.Float64("taker_fee_bps", cfg.TakerFeeBps),
	)
	_ = r.bus.Publish(ctx, domain.Event{
		Type:    domain.EventVenueRegistered,
		VenueID: venueID,
		At:      time.Now().UTC(),
	})
	return nil
}

// Unregister tears down the connector, purges every cached entry for the
// venue, and removes the registration.
func (r *Registry) Unregister(ctx context.Context, venueID string) error {
	r.mu.Lock()
	reg, ok := r.venues[venueID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("venue: unregister %s: %w", venueID, domain.ErrNotFound)
	}
	delete(r.venues, venueID)
	r.updatePoolLocked()
	r.mu.Unlock()

	if err := reg.Connector.Cleanup(ctx); err != nil {
		r.logger.WarnContext(ctx, "connector cleanup failed",
			slog.String("venue", venueID),
			slog.String("error", err.Error()),
		)
	}

	r.purgeVenue(venueID)

	r.logger.InfoContext(ctx, "venue unregistered", slog.String("venue", venueID))
	_ = r.bus.Publish(ctx, domain.Event{
		Type:    domain.EventVenueUnregistered,
		VenueID: venueID,
		At:      time.Now().UTC(),
	})
	return nil
}

// purgeVenue drops the venue's entries from all aggregation caches.
func (r *Registry) purgeVenue(venueID string) {
	r.cacheMu.Lock()
	for sym, entry := range r.mdCache {
		delete(entry.data, venueID)
		if len(entry.data) == 0 {
			delete(r.mdCache, sym)
		}
	}
	for sym, entry := range r.bookCache {
		delete(entry.books, venueID)
		if len(entry.books) == 0 {
			delete(r.bookCache, sym)
		}
	}
	r.cacheMu.Unlock()

	r.pfMu.Lock()
	r.portfolio = nil
	r.pfMu.Unlock()
}

// updatePoolLocked recomputes the connection-pool summary. Caller holds r.mu.
func (r *Registry) updatePoolLocked() {
	p := domain.PoolSummary{
		TotalVenues: len(r.venues),
		UpdatedAt:   time.Now().UTC(),
	}
	for _, reg := range r.venues {
		max := reg.Config.MaxConnections
		if max <= 0 {
			max = 1
		}
		if reg.Active {
			p.ActiveVenues++
			p.ActiveSlots += reg.Connections
			p.AvailableSlots += max - reg.Connections
		}
	}
	if p.TotalVenues > 0 {
		p.HealthRatio = float64(p.ActiveVenues) / float64(p.TotalVenues)
	}
	r.pool = p
}

// Pool returns the latest connection-pool summary.
func (r *Registry) Pool() domain.PoolSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pool
}

// VenueConfig returns the static config for a venue and whether it exists.
func (r *Registry) VenueConfig(venueID string) (domain.VenueConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.venues[venueID]
	if !ok {
		return domain.VenueConfig{}, false
	}
	return reg.Config, true
}

// ActiveVenueIDs returns the IDs of registered venues currently active.
func (r *Registry) ActiveVenueIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.venues))
	for id, reg := range r.venues {
		if reg.Active {
			ids = append(ids, id)
		}
	}
	return ids
}

// activeRegistrations snapshots the active registrations for fan-out use.
func (r *Registry) activeRegistrations() []*domain.VenueRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	regs := make([]*domain.VenueRegistration, 0, len(r.venues))
	for _, reg := range r.venues {
		if reg.Active {
			regs = append(regs, reg)
		}
	}
	return regs
}

// RunHealthLoop polls every registration's health on the configured interval
// until ctx is cancelled. A connector reporting disconnected flips the
// registration inactive, which gates it out of aggregation and detection.
func (r *Registry) RunHealthLoop(ctx context.Context) error {
	interval := r.cfg.HealthCheckInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("health loop started", slog.Duration("interval", interval))
	defer r.logger.Info("health loop stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.checkAll(ctx)
		}
	}
}

// checkAll runs one health sweep over every registration.
func (r *Registry) checkAll(ctx context.Context) {
	r.mu.RLock()
	regs := make([]*domain.VenueRegistration, 0, len(r.venues))
	for _, reg := range r.venues {
		regs = append(regs, reg)
	}
	r.mu.RUnlock()

	for _, reg := range regs {
		hctx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
		health, err := reg.Connector.Health(hctx)
		cancel()

		now := time.Now().UTC()
		active := err == nil && health.Status != domain.VenueDisconnected

		r.mu.Lock()
		if cur, ok := r.venues[reg.VenueID]; ok {
			changed := cur.Active != active
			cur.LastHealthCheck = now
			cur.Active = active
			r.updatePoolLocked()
			r.mu.Unlock()

			if changed {
				r.logger.Warn("venue active state changed",
					slog.String("venue", reg.VenueID),
					slog.Bool("active", active),
				)
			}
			payload := map[string]any{"active": active}
			if err != nil {
				payload["error"] = err.Error()
			} else {
				payload["status"] = string(health.Status)
				payload["latency_ms"] = health.LatencyMs
			}
			_ = r.bus.Publish(ctx, domain.Event{
				Type:    domain.EventVenueHealth,
				VenueID: reg.VenueID,
				Payload: payload,
				At:      now,
			})
		} else {
			r.mu.Unlock()
		}
	}
}

// Close cleans up every connector and clears the registry. Used on shutdown.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	regs := make([]*domain.VenueRegistration, 0, len(r.venues))
	for _, reg := range r.venues {
		regs = append(regs, reg)
	}
	r.venues = make(map[string]*domain.VenueRegistration)
	r.updatePoolLocked()
	r.mu.Unlock()

	for _, reg := range regs {
		if err := reg.Connector.Cleanup(ctx); err != nil {
			r.logger.Warn("connector cleanup failed on close",
				slog.String("venue", reg.VenueID),
				slog.String("error", err.Error()),
			)
		}
	}

	r.cacheMu.Lock()
	r.mdCache = make(map[string]*marketDataEntry)
	r.bookCache = make(map[string]*orderBookEntry)
	r.cacheMu.Unlock()
}
