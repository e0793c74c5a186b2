package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbx/internal/arbitrage"
	s3blob "github.com/alanyoungcy/arbx/internal/blob/s3"
	"github.com/alanyoungcy/arbx/internal/config"
	"github.com/alanyoungcy/arbx/internal/domain"
	"github.com/alanyoungcy/arbx/internal/engine"
	"github.com/alanyoungcy/arbx/internal/executor"
	"github.com/alanyoungcy/arbx/internal/notify"
	"github.com/alanyoungcy/arbx/internal/venue"
	"github.com/alanyoungcy/arbx/internal/venue/sim"
	"github.com/alanyoungcy/arbx/internal/venue/wsfeed"
)

// core bundles the built arbitrage components for one mode run.
type core struct {
	registry    *venue.Registry
	detector    *arbitrage.Detector
	coordinator *executor.Coordinator
	engine      *engine.Engine
}

// buildCore constructs the registry, detector, planner, coordinator and
// engine from configuration. autoExecute overrides the config flag so modes
// can force it on or off.
func (a *App) buildCore(deps *Dependencies, autoExecute bool) *core {
	cfg := a.cfg

	registry := venue.NewRegistry(venue.RegistryConfig{
		MaxVenues:           cfg.Registry.MaxVenues,
		HealthCheckInterval: cfg.Registry.HealthCheckInterval.Duration,
		PortfolioTTL:        cfg.Registry.PortfolioTTL.Duration,
		RequestTimeout:      cfg.Registry.RequestTimeout.Duration,
		CacheTTL:            cfg.Engine.PriceUpdateInterval.Duration,
		Routing:             cfg.Registry.Routing,
		FixedVenue:          cfg.Registry.FixedVenue,
	}, deps.Bus, deps.Mirror, a.logger)

	fees := arbitrage.NewTakerFeeModel(cfg.Registry.FeeBps, 0)
	latency := arbitrage.NewFixedLatencyModel(cfg.Registry.LatencyMs, 0)

	detector := arbitrage.NewDetector(arbitrage.DetectorConfig{
		MinProfitThreshold: cfg.Arbitrage.MinProfitThreshold,
		MaxProfitThreshold: cfg.Arbitrage.MaxProfitThreshold,
		MinVolumeThreshold: cfg.Arbitrage.MinVolumeThreshold,
		MaxLatencyMs:       cfg.Arbitrage.MaxLatencyMs,
		OpportunityExpiry:  cfg.Arbitrage.OpportunityExpiry.Duration,
		BaseRiskScore:      cfg.Arbitrage.BaseRiskScore,
	}, registry, fees, latency, deps.Bus, deps.OpportunityStore, a.logger)

	planner := executor.NewPlanner(executor.PlannerConfig{
		MaxPositionSize:    cfg.Execution.MaxPositionSize,
		MaxDailyVolume:     cfg.Execution.MaxDailyVolume,
		RiskBudgetPerTrade: cfg.Execution.RiskBudgetPerTrade,
	}, fees, a.logger)

	coordinator := executor.NewCoordinator(executor.CoordinatorConfig{
		AutoExecute:             autoExecute,
		MaxConcurrentArbitrages: cfg.Execution.MaxConcurrentArbitrages,
		MaxDailyVolume:          cfg.Execution.MaxDailyVolume,
		ExecutionTimeout:        cfg.Execution.ExecutionTimeout.Duration,
		MaxLatencyMs:            cfg.Arbitrage.MaxLatencyMs,
		PreTradeValidation:      cfg.Execution.PreTradeValidation,
		PostTradeValidation:     cfg.Execution.PostTradeValidation,
	}, planner, registry, deps.Bus, deps.ExecutionStore, a.logger)

	eng := engine.New(engine.Config{
		Symbols:                   cfg.Arbitrage.Symbols,
		PriceUpdateInterval:       cfg.Engine.PriceUpdateInterval.Duration,
		PerformanceReviewInterval: cfg.Engine.PerformanceReviewInterval.Duration,
		AutoExecute:               autoExecute,
		MaxAutoExecutions:         cfg.Engine.MaxAutoExecutions,
		AlertSpreadPercent:        cfg.Engine.AlertSpreadPercent,
		AlertVolume:               cfg.Engine.AlertVolume,
		ExecutionTimeout:          cfg.Execution.ExecutionTimeout.Duration,
	}, detector, coordinator, registry, deps.Bus, a.logger)

	return &core{
		registry:    registry,
		detector:    detector,
		coordinator: coordinator,
		engine:      eng,
	}
}

// registerVenues connects every configured venue.
func (a *App) registerVenues(ctx context.Context, registry *venue.Registry) error {
	for i, spec := range a.cfg.Venues {
		var connector domain.VenueConnector
		switch spec.Kind {
		case "wsfeed":
			connector = wsfeed.New(wsfeed.Config{
				VenueID: spec.ID,
				URL:     spec.URL,
				Symbols: a.cfg.Arbitrage.Symbols,
			}, a.logger)
		case "sim":
			connector = sim.New(sim.Config{
				VenueID:   spec.ID,
				FeeBps:    spec.TakerFeeBps,
				LatencyMs: spec.AvgLatencyMs,
				Quotes:    simQuotes(a.cfg.Arbitrage.Symbols, i),
			})
		default:
			return fmt.Errorf("app: venue %s: unknown kind %q", spec.ID, spec.Kind)
		}

		err := registry.Register(ctx, spec.ID, connector, domain.VenueConfig{
			Name:           spec.ID,
			MakerFeeBps:    spec.MakerFeeBps,
			TakerFeeBps:    spec.TakerFeeBps,
			AvgLatencyMs:   spec.AvgLatencyMs,
			Reliability:    spec.Reliability,
			RateLimitPerS:  spec.RateLimitPerS,
			MaxConnections: spec.MaxConnections,
		})
		if err != nil {
			return fmt.Errorf("app: register venue %s: %w", spec.ID, err)
		}
	}
	return nil
}

// run starts the engine and the auxiliary loops and blocks until ctx is
// cancelled or a loop fails.
func (a *App) run(ctx context.Context, deps *Dependencies, c *core) error {
	if err := a.registerVenues(ctx, c.registry); err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		c.registry.Close(closeCtx)
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return c.engine.Run(gctx) })

	// Alert delivery rides alongside the engine, never in its path.
	bridge := notify.NewAlertBridge(deps.Bus, deps.Notifier, a.cfg.Notify.Events, a.logger)
	g.Go(func() error { return bridge.Run(gctx) })

	if deps.BlobWriter != nil && deps.ExecutionStore != nil {
		archiver := s3blob.NewArchiver(deps.BlobWriter, deps.ExecutionStore, c.coordinator, a.logger)
		g.Go(func() error { return archiver.RunDailyLoop(gctx) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return nil
	}
	return err
}

// DetectMode scans for opportunities and publishes them without trading.
func (a *App) DetectMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting detect mode")
	return a.run(ctx, deps, a.buildCore(deps, false))
}

// TradeMode scans and executes per the configured auto-execute flag.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode",
		slog.Bool("auto_execute", a.cfg.Execution.AutoExecute),
	)
	return a.run(ctx, deps, a.buildCore(deps, a.cfg.Execution.AutoExecute))
}

// SimMode runs the full pipeline against simulated venues with seeded
// divergent quotes, always auto-executing. Configured sim venues are used
// when present; otherwise two demo venues are registered.
func (a *App) SimMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sim mode")

	if len(a.cfg.Venues) == 0 {
		a.seedDemoVenues()
	}
	return a.run(ctx, deps, a.buildCore(deps, true))
}

// OrderMode registers the configured venues, submits the single configured
// order through the registry's routing strategy, logs the outcome, and
// exits. Manual operator orders outside the arbitrage loop go through here.
func (a *App) OrderMode(ctx context.Context, deps *Dependencies) error {
	spec := a.cfg.Order
	a.logger.InfoContext(ctx, "starting order mode",
		slog.String("symbol", spec.Symbol),
		slog.String("side", spec.Side),
		slog.Float64("quantity", spec.Quantity),
		slog.String("routing", a.cfg.Registry.Routing),
	)

	c := a.buildCore(deps, false)
	if err := a.registerVenues(ctx, c.registry); err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		c.registry.Close(closeCtx)
	}()

	order := domain.Order{
		ID:          uuid.New().String(),
		Symbol:      spec.Symbol,
		Side:        domain.OrderSide(strings.ToLower(spec.Side)),
		Quantity:    spec.Quantity,
		Price:       spec.Price,
		TimeInForce: domain.TIFImmediateOrCancel,
		VenueID:     spec.Venue,
		CreatedAt:   time.Now().UTC(),
	}
	res, err := c.registry.SubmitOrder(ctx, order)
	if err != nil {
		return fmt.Errorf("app: submit order: %w", err)
	}

	a.logger.InfoContext(ctx, "order settled",
		slog.String("order_id", order.ID),
		slog.String("venue", res.VenueID),
		slog.Bool("success", res.Success),
		slog.Float64("execution_price", res.ExecutionPrice),
		slog.Float64("executed_quantity", res.ExecutedQuantity),
		slog.Float64("fees", res.Fees),
	)
	return nil
}

// seedDemoVenues appends two in-memory venues whose quotes diverge, so sim
// mode produces opportunities out of the box.
func (a *App) seedDemoVenues() {
	a.cfg.Venues = append(a.cfg.Venues,
		demoVenueSpec("sim-alpha"),
		demoVenueSpec("sim-beta"),
	)
}

func demoVenueSpec(id string) config.VenueSpec {
	return config.VenueSpec{
		ID:          id,
		Kind:        "sim",
		TakerFeeBps: 10,
		Reliability: 0.99,
	}
}

// simQuotes seeds deterministic per-venue quotes. Successive venues are
// shifted upward so their books cross and the detector has something to find.
func simQuotes(symbols []string, venueIndex int) map[string]sim.Quote {
	quotes := make(map[string]sim.Quote, len(symbols))
	for i, s := range symbols {
		base := 100.0 + float64(i)*50 + float64(venueIndex)*0.5
		quotes[s] = sim.Quote{
			Bid:      base - 0.05,
			Ask:      base + 0.05,
			BidDepth: 2_000,
			AskDepth: 2_000,
		}
	}
	return quotes
}
