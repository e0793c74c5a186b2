// Package engine runs the periodic loops that drive detection, auto
// execution, performance reporting and state cleanup.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbx/internal/arbitrage"
	"github.com/alanyoungcy/arbx/internal/domain"
	"github.com/alanyoungcy/arbx/internal/executor"
	"github.com/alanyoungcy/arbx/internal/venue"
)

// cleanupInterval is fixed; opportunity/plan expiry carries the actual
// time-sensitivity, the sweep only reclaims memory.
const cleanupInterval = 60 * time.Second

// Config holds loop cadences, the symbol universe and alert thresholds.
type Config struct {
	Symbols                   []string
	PriceUpdateInterval       time.Duration
	PerformanceReviewInterval time.Duration
	AutoExecute               bool
	MaxAutoExecutions         int
	AlertSpreadPercent        float64
	AlertVolume               float64
	ExecutionTimeout          time.Duration
}

// Engine wires the detector, coordinator and registry into the lifecycle
// loops.
type Engine struct {
	cfg         Config
	detector    *arbitrage.Detector
	coordinator *executor.Coordinator
	registry    *venue.Registry
	bus         domain.EventBus
	logger      *slog.Logger
}

// New creates an Engine.
func New(
	cfg Config,
	detector *arbitrage.Detector,
	coordinator *executor.Coordinator,
	registry *venue.Registry,
	bus domain.EventBus,
	logger *slog.Logger,
) *Engine {
	if cfg.MaxAutoExecutions <= 0 {
		cfg.MaxAutoExecutions = 3
	}
	return &Engine{
		cfg:         cfg,
		detector:    detector,
		coordinator: coordinator,
		registry:    registry,
		bus:         bus,
		logger:      logger.With(slog.String("component", "engine")),
	}
}

// Run starts all loops and blocks until ctx is cancelled, then performs the
// bounded shutdown sequence: wait for in-flight executions and clear state.
func (e *Engine) Run(ctx context.Context) error {
	e.coordinator.ResetDailyIfNeeded(time.Now().UTC())

	g, loopCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.scanLoop(loopCtx) })
	g.Go(func() error { return e.performanceLoop(loopCtx) })
	g.Go(func() error { return e.cleanupLoop(loopCtx) })
	g.Go(func() error { return e.registry.RunHealthLoop(loopCtx) })

	err := g.Wait()
	e.shutdown()
	return err
}

// scanLoop runs a detection cycle every price update interval.
func (e *Engine) scanLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.PriceUpdateInterval)
	defer ticker.Stop()

	e.logger.Info("scan loop started",
		slog.Duration("interval", e.cfg.PriceUpdateInterval),
		slog.Int("symbols", len(e.cfg.Symbols)),
		slog.Bool("auto_execute", e.cfg.AutoExecute),
	)
	defer e.logger.Info("scan loop stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.scanCycle(ctx)
		}
	}
}

// scanCycle performs one detection pass and, when enabled, auto-executes the
// strongest opportunities.
func (e *Engine) scanCycle(ctx context.Context) {
	e.coordinator.ResetDailyIfNeeded(time.Now().UTC())

	opps, err := e.detector.Detect(ctx, e.cfg.Symbols)
	if err != nil {
		e.logger.WarnContext(ctx, "detection cycle failed", slog.String("error", err.Error()))
		return
	}
	if len(opps) == 0 {
		return
	}

	_ = e.bus.Publish(ctx, domain.Event{
		Type: domain.EventOpportunities,
		Payload: map[string]any{
			"count":           len(opps),
			"best_spread_pct": opps[0].NetSpreadPercent,
			"best_symbol":     opps[0].Symbol,
		},
		At: time.Now().UTC(),
	})

	for _, opp := range opps {
		if opp.NetSpreadPercent >= e.cfg.AlertSpreadPercent || opp.MaxVolume >= e.cfg.AlertVolume {
			_ = e.bus.Publish(ctx, domain.Event{
				Type:   domain.EventHighValueAlert,
				Symbol: opp.Symbol,
				Payload: map[string]any{
					"opp_id":         opp.ID,
					"buy_venue":      opp.BuyVenue,
					"sell_venue":     opp.SellVenue,
					"net_spread_pct": opp.NetSpreadPercent,
					"max_volume":     opp.MaxVolume,
					"quality":        string(opp.Quality),
				},
				At: time.Now().UTC(),
			})
		}
	}

	if !e.cfg.AutoExecute {
		return
	}

	var picked []domain.Opportunity
	for _, opp := range opps {
		if opp.Quality == domain.QualityExcellent && opp.Confidence > 0.8 {
			picked = append(picked, opp)
			if len(picked) == e.cfg.MaxAutoExecutions {
				break
			}
		}
	}
	if len(picked) == 0 {
		return
	}

	// Failed executions are reported and swallowed; the loop must survive.
	var wg sync.WaitGroup
	for _, opp := range picked {
		wg.Add(1)
		go func(opp domain.Opportunity) {
			defer wg.Done()
			res, err := e.coordinator.ExecuteArbitrage(ctx, opp)
			if err != nil {
				e.logger.WarnContext(ctx, "auto execution rejected",
					slog.String("opp_id", opp.ID),
					slog.String("error", err.Error()),
				)
				return
			}
			if !res.Success {
				e.logger.WarnContext(ctx, "auto execution failed",
					slog.String("opp_id", opp.ID),
					slog.String("error", res.Error),
				)
			}
		}(opp)
	}
	wg.Wait()
}

// performanceLoop emits a metrics snapshot on its interval.
func (e *Engine) performanceLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.PerformanceReviewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m := e.coordinator.Metrics()
			m.ActiveOpportunities = len(e.detector.Active())
			_ = e.bus.Publish(ctx, domain.Event{
				Type: domain.EventPerformance,
				Payload: map[string]any{
					"total_executions":      m.TotalExecutions,
					"successful_executions": m.SuccessfulExecutions,
					"success_rate":          m.SuccessRate,
					"net_profit":            m.NetProfit,
					"daily_volume":          m.DailyVolume,
					"avg_execution_ms":      m.AvgExecutionMs,
					"active_opportunities":  m.ActiveOpportunities,
					"concurrent":            m.ConcurrentExecutions,
				},
				At: time.Now().UTC(),
			})
			e.logger.InfoContext(ctx, "performance snapshot",
				slog.Int("executions", m.TotalExecutions),
				slog.Float64("net_profit", m.NetProfit),
				slog.Float64("success_rate", m.SuccessRate),
			)
		}
	}
}

// cleanupLoop reclaims expired opportunities and plans and tags stale cache
// entries every 60 seconds.
func (e *Engine) cleanupLoop(ctx context.Context) error {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			now := time.Now().UTC()
			opps := e.detector.RemoveExpired(now)
			plans := e.coordinator.RemoveExpiredPlans(now)
			stale := e.registry.MarkStale(3 * e.cfg.PriceUpdateInterval)
			if opps+plans+stale > 0 {
				e.logger.Debug("cleanup pass",
					slog.Int("expired_opportunities", opps),
					slog.Int("expired_plans", plans),
					slog.Int("stale_cache_entries", stale),
				)
			}
		}
	}
}

// shutdown waits for in-flight executions bounded by the execution timeout,
// then clears all in-memory state.
func (e *Engine) shutdown() {
	waitCtx, cancel := context.WithTimeout(context.Background(), e.cfg.ExecutionTimeout)
	defer cancel()
	if err := e.coordinator.WaitIdle(waitCtx); err != nil {
		e.logger.Warn("shutdown proceeded with executions still in flight",
			slog.String("error", err.Error()),
		)
	}
	e.detector.Clear()
	e.coordinator.Clear()
	e.logger.Info("engine state cleared")
}
