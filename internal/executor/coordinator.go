package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/arbx/internal/domain"
)

// historyCap bounds the in-memory execution history; the oldest entry is
// evicted when a new result arrives at capacity.
const historyCap = 1000

// LegPlacer dispatches a single venue-bound order. Implemented by the venue
// registry.
type LegPlacer interface {
	PlaceLeg(ctx context.Context, order domain.Order) (domain.OrderResult, error)
}

// CoordinatorConfig holds execution gating limits.
type CoordinatorConfig struct {
	AutoExecute             bool
	MaxConcurrentArbitrages int
	MaxDailyVolume          float64
	ExecutionTimeout        time.Duration
	MaxLatencyMs            float64
	// PreTradeValidation re-checks the plan against current constraints
	// immediately before dispatch. Disabling it trades safety for latency.
	PreTradeValidation bool
	// PostTradeValidation reconciles fills against the plan after dispatch
	// and attaches warnings on divergence.
	PostTradeValidation bool
}

// Coordinator owns the shared risk counters and runs two-leg executions.
// Counters are plain fields guarded by one mutex; there are no process-wide
// singletons.
type Coordinator struct {
	cfg     CoordinatorConfig
	planner *Planner
	placer  LegPlacer
	bus     domain.EventBus
	store   domain.ExecutionStore // optional
	logger  *slog.Logger

	mu          sync.Mutex
	concurrent  int
	dailyVolume float64
	lastReset   time.Time // start of the current accounting day, UTC
	plans       map[string]*domain.ExecutionPlan
	history     []domain.ExecutionResult
	metrics     domain.PerformanceMetrics
}

// NewCoordinator creates a Coordinator. store may be nil, in which case
// results are kept only in the bounded in-memory history.
func NewCoordinator(
	cfg CoordinatorConfig,
	planner *Planner,
	placer LegPlacer,
	bus domain.EventBus,
	store domain.ExecutionStore,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		cfg:       cfg,
		planner:   planner,
		placer:    placer,
		bus:       bus,
		store:     store,
		logger:    logger.With(slog.String("component", "arb_coordinator")),
		lastReset: dayStart(time.Now().UTC()),
		plans:     make(map[string]*domain.ExecutionPlan),
	}
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ResetDailyIfNeeded zeroes the daily volume counter when the calendar day
// has rolled over since the last reset. Called on start and on every scan.
func (c *Coordinator) ResetDailyIfNeeded(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetDailyLocked(now)
}

func (c *Coordinator) resetDailyLocked(now time.Time) {
	if day := dayStart(now.UTC()); day.After(c.lastReset) {
		c.logger.Info("daily volume reset",
			slog.Float64("previous_volume", c.dailyVolume),
			slog.Time("day", day),
		)
		c.dailyVolume = 0
		c.lastReset = day
	}
}

// SetAutoExecute flips the auto-execution gate at runtime.
func (c *Coordinator) SetAutoExecute(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.AutoExecute = enabled
}

// ExecuteArbitrage attempts a two-leg execution of the opportunity. It fails
// fast with a typed error when auto-execution is disabled or a capacity
// limit is reached; the caller must retry later, nothing is queued. All
// post-acceptance failures are captured in the returned ExecutionResult with
// a nil error.
func (c *Coordinator) ExecuteArbitrage(ctx context.Context, opp domain.Opportunity) (domain.ExecutionResult, error) {
	now := time.Now().UTC()

	c.mu.Lock()
	c.resetDailyLocked(now)
	if !c.cfg.AutoExecute {
		c.mu.Unlock()
		return rejection(opp, domain.ErrDisabled.Error()), domain.ErrDisabled
	}
	if c.concurrent >= c.cfg.MaxConcurrentArbitrages {
		err := &domain.CapacityError{
			Resource: "concurrent_arbitrages",
			Limit:    c.cfg.MaxConcurrentArbitrages,
			Current:  c.concurrent,
		}
		c.mu.Unlock()
		return rejection(opp, err.Error()), err
	}
	if c.dailyVolume >= c.cfg.MaxDailyVolume {
		err := &domain.CapacityError{
			Resource: "daily_volume",
			Limit:    int(c.cfg.MaxDailyVolume),
			Current:  int(c.dailyVolume),
		}
		c.mu.Unlock()
		return rejection(opp, err.Error()), err
	}
	c.concurrent++
	dailyVolume := c.dailyVolume
	c.mu.Unlock()

	// The counter must come back down no matter how execution ends.
	defer func() {
		c.mu.Lock()
		c.concurrent--
		c.mu.Unlock()
	}()

	started := time.Now()

	// The plan stays private until validation settles its status; only then
	// is its pointer published into c.plans, where Metrics and the cleanup
	// loop read it under the mutex.
	tracked := c.planner.CreatePlan(opp, dailyVolume, now)

	if c.cfg.PreTradeValidation {
		if err := c.planner.Validate(&tracked, time.Now().UTC()); err != nil {
			if tracked.Status == domain.PlanPending {
				tracked.Status = domain.PlanFailed
			}
			c.mu.Lock()
			c.plans[tracked.ID] = &tracked
			c.mu.Unlock()
			res := rejection(opp, err.Error())
			res.PlanID = tracked.ID
			c.record(ctx, res)
			c.logger.InfoContext(ctx, "plan rejected",
				slog.String("plan_id", tracked.ID),
				slog.String("reason", err.Error()),
			)
			return res, nil
		}
	}

	tracked.Status = domain.PlanExecuting
	c.mu.Lock()
	c.plans[tracked.ID] = &tracked
	c.mu.Unlock()

	buyRes, sellRes := c.dispatchLegs(ctx, &tracked)
	execTime := time.Since(started)

	res := c.settle(&tracked, buyRes, sellRes, execTime)
	c.record(ctx, res)

	c.logger.InfoContext(ctx, "arbitrage settled",
		slog.String("plan_id", tracked.ID),
		slog.Bool("success", res.Success),
		slog.Float64("realized_profit", res.RealizedProfit),
		slog.Duration("execution_time", execTime),
	)
	return res, nil
}

// rejection builds the degenerate pre-dispatch result shape.
func rejection(opp domain.Opportunity, reason string) domain.ExecutionResult {
	return domain.ExecutionResult{
		OpportunityID: opp.ID,
		Success:       false,
		Error:         reason,
		CompletedAt:   time.Now().UTC(),
	}
}

// dispatchLegs fires both legs together and waits for both to settle. One
// leg's failure is observed, never used to cancel its sibling.
func (c *Coordinator) dispatchLegs(ctx context.Context, plan *domain.ExecutionPlan) (buyRes, sellRes domain.LegResult) {
	dispatchCtx, cancel := context.WithTimeout(ctx, c.cfg.ExecutionTimeout)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		buyRes = c.placeLeg(dispatchCtx, plan.BuyLeg)
	}()
	go func() {
		defer wg.Done()
		sellRes = c.placeLeg(dispatchCtx, plan.SellLeg)
	}()
	wg.Wait()
	return buyRes, sellRes
}

func (c *Coordinator) placeLeg(ctx context.Context, leg domain.PlanLeg) domain.LegResult {
	out := domain.LegResult{
		VenueID:       leg.VenueID,
		Side:          leg.Order.Side,
		ExpectedPrice: leg.Order.Price,
	}
	res, err := c.placer.PlaceLeg(ctx, leg.Order)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	out.OrderID = res.OrderID
	out.ExecutionPrice = res.ExecutionPrice
	out.ExecutedQuantity = res.ExecutedQuantity
	out.Fees = res.Fees
	if !res.Success {
		if res.Error != "" {
			out.Error = res.Error
		} else {
			out.Error = "order rejected"
		}
	}
	return out
}

// settle reconciles the two leg outcomes into the final result and plan
// status, and advances the shared counters.
func (c *Coordinator) settle(plan *domain.ExecutionPlan, buyRes, sellRes domain.LegResult, execTime time.Duration) domain.ExecutionResult {
	res := domain.ExecutionResult{
		PlanID:        plan.ID,
		OpportunityID: plan.Opportunity.ID,
		ExecutionTime: execTime,
		CompletedAt:   time.Now().UTC(),
	}

	buyOK := buyRes.Error == "" && buyRes.ExecutedQuantity > 0
	sellOK := sellRes.Error == "" && sellRes.ExecutedQuantity > 0
	if buyOK {
		res.BuyResult = &buyRes
	}
	if sellOK {
		res.SellResult = &sellRes
	}

	executedNotional := buyRes.ExecutionPrice * buyRes.ExecutedQuantity

	c.mu.Lock()
	if buyOK || sellOK {
		c.dailyVolume += executedNotional
	}
	if !buyOK || !sellOK {
		plan.Status = domain.PlanFailed
	} else {
		plan.Status = domain.PlanCompleted
	}
	c.mu.Unlock()

	if !buyOK || !sellOK {
		res.Success = false
		switch {
		case buyOK && !sellOK:
			res.Error = fmt.Sprintf("sell leg failed: %s", sellRes.Error)
			res.Warning = "one-sided fill: buy leg executed without its hedge; exposure is NOT automatically unwound"
		case sellOK && !buyOK:
			res.Error = fmt.Sprintf("buy leg failed: %s", buyRes.Error)
			res.Warning = "one-sided fill: sell leg executed without its hedge; exposure is NOT automatically unwound"
		default:
			res.Error = fmt.Sprintf("both legs failed: buy=%s sell=%s", buyRes.Error, sellRes.Error)
		}
		res.TotalFees = buyRes.Fees + sellRes.Fees
		return res
	}

	res.Success = true
	res.TotalFees = buyRes.Fees + sellRes.Fees

	proceeds := sellRes.ExecutionPrice * sellRes.ExecutedQuantity
	cost := buyRes.ExecutionPrice * buyRes.ExecutedQuantity
	res.RealizedProfit = proceeds - cost - res.TotalFees
	if cost > 0 {
		res.RealizedProfitPercent = res.RealizedProfit / cost * 100
	}

	// Slippage is adverse movement on each leg combined: paying more on the
	// buy and receiving less on the sell both count positive.
	res.Slippage = (buyRes.ExecutionPrice - buyRes.ExpectedPrice) + (sellRes.ExpectedPrice - sellRes.ExecutionPrice)

	if c.cfg.MaxLatencyMs > 0 {
		res.TimingScore = 1 - float64(execTime.Milliseconds())/c.cfg.MaxLatencyMs
		if res.TimingScore < 0 {
			res.TimingScore = 0
		}
	}
	profitScore := 0.0
	if res.RealizedProfit > 0 {
		profitScore = 1.0
	}
	res.ExecutionEfficiency = 0.5*res.TimingScore + 0.5*profitScore

	if plan.RiskScore > 0 {
		res.RiskAdjustedReturn = res.RealizedProfitPercent / (plan.RiskScore / 100)
	} else {
		res.RiskAdjustedReturn = res.RealizedProfitPercent
	}

	if c.cfg.PostTradeValidation {
		res.Warning = postTradeWarning(plan, buyRes, sellRes)
	}

	return res
}

// postTradeWarning reconciles the fills against the plan: a leg filled short
// of its planned quantity, or legs filled in unequal quantities, leaves net
// inventory the plan did not intend.
func postTradeWarning(plan *domain.ExecutionPlan, buyRes, sellRes domain.LegResult) string {
	const eps = 1e-9
	var checks []string
	if buyRes.ExecutedQuantity < plan.BuyLeg.Order.Quantity-eps {
		checks = append(checks, fmt.Sprintf("buy leg filled %.4f of %.4f",
			buyRes.ExecutedQuantity, plan.BuyLeg.Order.Quantity))
	}
	if sellRes.ExecutedQuantity < plan.SellLeg.Order.Quantity-eps {
		checks = append(checks, fmt.Sprintf("sell leg filled %.4f of %.4f",
			sellRes.ExecutedQuantity, plan.SellLeg.Order.Quantity))
	}
	if diff := buyRes.ExecutedQuantity - sellRes.ExecutedQuantity; diff > eps || diff < -eps {
		checks = append(checks, fmt.Sprintf("leg quantities diverge by %.4f", diff))
	}
	if len(checks) == 0 {
		return ""
	}
	return "post-trade check: " + strings.Join(checks, "; ")
}

// record appends the result to the bounded history, folds it into the
// running metrics, persists it when a store is wired, and publishes it.
func (c *Coordinator) record(ctx context.Context, res domain.ExecutionResult) {
	c.mu.Lock()
	if len(c.history) >= historyCap {
		c.history = c.history[1:]
	}
	c.history = append(c.history, res)

	m := &c.metrics
	m.TotalExecutions++
	if res.Success {
		m.SuccessfulExecutions++
	} else {
		m.FailedExecutions++
	}
	m.TotalProfit += res.RealizedProfit
	m.TotalFees += res.TotalFees
	m.NetProfit = m.TotalProfit
	if m.TotalExecutions > 0 {
		m.AverageProfit = m.TotalProfit / float64(m.TotalExecutions)
		m.SuccessRate = float64(m.SuccessfulExecutions) / float64(m.TotalExecutions)
	}
	ms := float64(res.ExecutionTime.Milliseconds())
	m.AvgExecutionMs += (ms - m.AvgExecutionMs) / float64(m.TotalExecutions)
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Create(ctx, res); err != nil {
			c.logger.WarnContext(ctx, "execution record persist failed",
				slog.String("plan_id", res.PlanID),
				slog.String("error", err.Error()),
			)
		}
	}

	payload := map[string]any{
		"plan_id":         res.PlanID,
		"success":         res.Success,
		"realized_profit": res.RealizedProfit,
		"total_fees":      res.TotalFees,
	}
	if res.Error != "" {
		payload["error"] = res.Error
	}
	_ = c.bus.Publish(ctx, domain.Event{
		Type:    domain.EventExecutionResult,
		Payload: payload,
		At:      time.Now().UTC(),
	})
	if res.Warning != "" {
		_ = c.bus.Publish(ctx, domain.Event{
			Type: domain.EventUnhedgedExposure,
			Payload: map[string]any{
				"plan_id": res.PlanID,
				"warning": res.Warning,
			},
			At: time.Now().UTC(),
		})
	}
}

// Metrics returns a snapshot of the running aggregates.
func (c *Coordinator) Metrics() domain.PerformanceMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.metrics
	m.ConcurrentExecutions = c.concurrent
	m.DailyVolume = c.dailyVolume

	var exposure float64
	for _, p := range c.plans {
		if p.Status == domain.PlanExecuting {
			exposure += p.BuyLeg.Order.Notional()
		}
	}
	m.CurrentExposure = exposure
	if exposure > 0 {
		m.ReturnOnExposure = m.NetProfit / exposure
	}
	m.SnapshotAt = time.Now().UTC()
	return m
}

// History returns a copy of the bounded execution history, newest last.
func (c *Coordinator) History() []domain.ExecutionResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.ExecutionResult, len(c.history))
	copy(out, c.history)
	return out
}

// DailyVolume returns the current daily executed notional.
func (c *Coordinator) DailyVolume() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dailyVolume
}

// AddDailyVolume advances the daily counter directly. Exposed for wiring
// pre-existing fills at startup and for tests.
func (c *Coordinator) AddDailyVolume(v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dailyVolume += v
}

// RemoveExpiredPlans prunes plans that expired at or before t and are not
// executing. Returns how many were removed; a second run at the same t
// removes nothing.
func (c *Coordinator) RemoveExpiredPlans(t time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for id, p := range c.plans {
		if p.Status == domain.PlanExecuting {
			continue
		}
		if !t.Before(p.ExpiresAt) {
			delete(c.plans, id)
			removed++
		}
	}
	return removed
}

// WaitIdle blocks until no plan is executing or ctx expires. Used during
// shutdown, bounded by the caller's deadline.
func (c *Coordinator) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		c.mu.Lock()
		inflight := c.concurrent
		c.mu.Unlock()
		if inflight == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Clear drops plans and history. Used on shutdown after WaitIdle.
func (c *Coordinator) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plans = make(map[string]*domain.ExecutionPlan)
	c.history = nil
}
