package venue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/arbx/internal/domain"
)

// RoutingStrategy selects a target venue for an outgoing order. Strategies
// form a small closed set (best-price, smart, fixed); there is no open-ended
// plugin mechanism.
type RoutingStrategy interface {
	Name() string
	SelectVenue(ctx context.Context, r *Registry, order domain.Order) (string, error)
}

// NewRoutingStrategy builds the strategy for a config tag.
func NewRoutingStrategy(tag, fixedVenue string) (RoutingStrategy, error) {
	switch tag {
	case "best_price":
		return BestPriceRouting{}, nil
	case "smart":
		return SmartRouting{}, nil
	case "fixed":
		if fixedVenue == "" {
			return nil, fmt.Errorf("venue: fixed routing requires a venue id")
		}
		return FixedRouting{VenueID: fixedVenue}, nil
	default:
		return nil, fmt.Errorf("venue: unknown routing strategy %q", tag)
	}
}

// BestPriceRouting picks the venue quoting the best price for the order's
// side: lowest ask for buys, highest bid for sells.
type BestPriceRouting struct{}

func (BestPriceRouting) Name() string { return "best_price" }

func (BestPriceRouting) SelectVenue(ctx context.Context, r *Registry, order domain.Order) (string, error) {
	data, err := r.AggregatedMarketData(ctx, order.Symbol)
	if err != nil {
		return "", err
	}
	best := ""
	var bestPx float64
	for venueID, md := range data {
		switch order.Side {
		case domain.OrderSideBuy:
			if md.Ask > 0 && (best == "" || md.Ask < bestPx) {
				best, bestPx = venueID, md.Ask
			}
		case domain.OrderSideSell:
			if md.Bid > 0 && (best == "" || md.Bid > bestPx) {
				best, bestPx = venueID, md.Bid
			}
		}
	}
	if best == "" {
		return "", fmt.Errorf("venue: no quote for %s: %w", order.Symbol, domain.ErrNotFound)
	}
	return best, nil
}

// SmartRouting adjusts the quoted price by the venue's taker fee and scales
// by reliability, so a slightly worse quote on a more dependable venue can
// win.
type SmartRouting struct{}

func (SmartRouting) Name() string { return "smart" }

func (SmartRouting) SelectVenue(ctx context.Context, r *Registry, order domain.Order) (string, error) {
	data, err := r.AggregatedMarketData(ctx, order.Symbol)
	if err != nil {
		return "", err
	}
	best := ""
	var bestScore float64
	for venueID, md := range data {
		cfg, ok := r.VenueConfig(venueID)
		if !ok {
			continue
		}
		reliability := cfg.Reliability
		if reliability <= 0 {
			reliability = 0.5
		}
		var score float64
		switch order.Side {
		case domain.OrderSideBuy:
			if md.Ask <= 0 {
				continue
			}
			effective := md.Ask * (1 + cfg.TakerFeeBps/10_000)
			score = reliability / effective
		case domain.OrderSideSell:
			if md.Bid <= 0 {
				continue
			}
			effective := md.Bid * (1 - cfg.TakerFeeBps/10_000)
			score = reliability * effective
		}
		if best == "" || score > bestScore {
			best, bestScore = venueID, score
		}
	}
	if best == "" {
		return "", fmt.Errorf("venue: no routable quote for %s: %w", order.Symbol, domain.ErrNotFound)
	}
	return best, nil
}

// FixedRouting always routes to one configured venue.
type FixedRouting struct {
	VenueID string
}

func (FixedRouting) Name() string { return "fixed" }

func (f FixedRouting) SelectVenue(_ context.Context, r *Registry, _ domain.Order) (string, error) {
	r.mu.RLock()
	reg, ok := r.venues[f.VenueID]
	r.mu.RUnlock()
	if !ok || !reg.Active {
		return "", fmt.Errorf("venue: fixed venue %s unavailable: %w", f.VenueID, domain.ErrNotFound)
	}
	return f.VenueID, nil
}

// SubmitOrder routes an order through the registry's configured default
// strategy. Orders already bound to a venue go straight there.
func (r *Registry) SubmitOrder(ctx context.Context, order domain.Order) (domain.OrderResult, error) {
	return r.ExecuteOrder(ctx, order, r.routing)
}

// PlaceLeg forwards an order that is already bound to a venue, bypassing
// routing. Arbitrage legs use this: the venue pair is part of the
// opportunity, not a routing decision.
func (r *Registry) PlaceLeg(ctx context.Context, order domain.Order) (domain.OrderResult, error) {
	if order.VenueID == "" {
		return domain.OrderResult{}, fmt.Errorf("venue: leg order %s has no venue", order.ID)
	}
	return r.ExecuteOrder(ctx, order, FixedRouting{VenueID: order.VenueID})
}

// ExecuteOrder routes the order with the given strategy, forwards it to the
// selected venue's connector, and returns the venue's result. Failures
// propagate as ExecutionError tagged with the venue.
func (r *Registry) ExecuteOrder(ctx context.Context, order domain.Order, strategy RoutingStrategy) (domain.OrderResult, error) {
	venueID := order.VenueID
	if venueID == "" {
		selected, err := strategy.SelectVenue(ctx, r, order)
		if err != nil {
			return domain.OrderResult{}, fmt.Errorf("venue: route order %s: %w", order.ID, err)
		}
		venueID = selected
	}

	r.mu.RLock()
	reg, ok := r.venues[venueID]
	r.mu.RUnlock()
	if !ok || !reg.Active {
		return domain.OrderResult{}, &domain.ExecutionError{
			VenueID: venueID,
			OrderID: order.ID,
			Err:     domain.ErrNotFound,
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
	defer cancel()

	order.VenueID = venueID
	res, err := reg.Connector.PlaceOrder(callCtx, order)
	if err != nil {
		return domain.OrderResult{}, &domain.ExecutionError{VenueID: venueID, OrderID: order.ID, Err: err}
	}
	res.VenueID = venueID

	r.logger.InfoContext(ctx, "order forwarded",
		slog.String("venue", venueID),
		slog.String("order_id", order.ID),
		slog.String("side", string(order.Side)),
		slog.String("routing", strategy.Name()),
		slog.Bool("success", res.Success),
	)
	_ = r.bus.Publish(ctx, domain.Event{
		Type:    domain.EventVenueHealth,
		VenueID: venueID,
		Payload: map[string]any{"venue_event": "order_executed", "order_id": order.ID, "success": res.Success},
		At:      time.Now().UTC(),
	})
	return res, nil
}
