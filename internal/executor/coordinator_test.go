package executor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbx/internal/arbitrage"
	"github.com/alanyoungcy/arbx/internal/domain"
	"github.com/alanyoungcy/arbx/internal/events"
)

// fakePlacer fills legs from canned per-venue results. An optional gate
// channel holds every call open until released, to pin executions in flight.
type fakePlacer struct {
	mu    sync.Mutex
	fills map[string]domain.OrderResult
	errs  map[string]error
	gate  chan struct{}
	calls []domain.Order
}

func (p *fakePlacer) PlaceLeg(ctx context.Context, order domain.Order) (domain.OrderResult, error) {
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return domain.OrderResult{}, ctx.Err()
		}
	}
	p.mu.Lock()
	p.calls = append(p.calls, order)
	p.mu.Unlock()
	if err := p.errs[order.VenueID]; err != nil {
		return domain.OrderResult{}, err
	}
	res, ok := p.fills[order.VenueID]
	if !ok {
		return domain.OrderResult{Success: false, VenueID: order.VenueID, Error: "no quote"}, nil
	}
	return res, nil
}

func fullFills() map[string]domain.OrderResult {
	return map[string]domain.OrderResult{
		"alpha": {
			Success:          true,
			OrderID:          "ord-buy",
			VenueID:          "alpha",
			ExecutionPrice:   100,
			ExecutedQuantity: 10,
			Fees:             1.0,
		},
		"beta": {
			Success:          true,
			OrderID:          "ord-sell",
			VenueID:          "beta",
			ExecutionPrice:   101,
			ExecutedQuantity: 10,
			Fees:             1.01,
		},
	}
}

func newTestCoordinator(t *testing.T, cfg CoordinatorConfig, placer LegPlacer) (*Coordinator, *events.Bus) {
	t.Helper()
	logger := testLogger()
	planner := NewPlanner(PlannerConfig{
		MaxPositionSize:    1_000_000,
		MaxDailyVolume:     cfg.MaxDailyVolume,
		RiskBudgetPerTrade: 100_000,
	}, arbitrage.NewTakerFeeModel(nil, 0), logger)
	bus := events.NewBus(logger)
	return NewCoordinator(cfg, planner, placer, bus, nil, logger), bus
}

func defaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		AutoExecute:             true,
		MaxConcurrentArbitrages: 5,
		MaxDailyVolume:          1_000_000,
		ExecutionTimeout:        time.Second,
		MaxLatencyMs:            1000,
		PreTradeValidation:      true,
		PostTradeValidation:     true,
	}
}

func smallOpportunity(now time.Time) domain.Opportunity {
	opp := testOpportunity(now)
	opp.MaxVolume = 10
	opp.RiskScore = 0
	return opp
}

func TestExecuteArbitrageSuccess(t *testing.T) {
	placer := &fakePlacer{fills: fullFills()}
	c, bus := newTestCoordinator(t, defaultCoordinatorConfig(), placer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := bus.Subscribe(ctx, domain.EventExecutionResult)
	require.NoError(t, err)

	res, err := c.ExecuteArbitrage(ctx, smallOpportunity(time.Now().UTC()))
	require.NoError(t, err)

	require.True(t, res.Success)
	require.NotNil(t, res.BuyResult)
	require.NotNil(t, res.SellResult)
	assert.InDelta(t, 2.01, res.TotalFees, 1e-9)
	// 10 units: proceeds 1010, cost 1000, minus fees.
	assert.InDelta(t, 7.99, res.RealizedProfit, 1e-9)
	assert.InDelta(t, 0.799, res.RealizedProfitPercent, 1e-9)
	assert.Zero(t, res.Slippage)

	// The buy leg's executed notional counts toward the daily budget.
	assert.InDelta(t, 1000, c.DailyVolume(), 1e-9)

	m := c.Metrics()
	assert.Equal(t, 1, m.TotalExecutions)
	assert.Equal(t, 1, m.SuccessfulExecutions)
	assert.InDelta(t, 7.99, m.NetProfit, 1e-9)
	assert.InDelta(t, 1.0, m.SuccessRate, 1e-9)

	require.Len(t, c.History(), 1)

	select {
	case ev := <-ch:
		assert.Equal(t, domain.EventExecutionResult, ev.Type)
		assert.Equal(t, res.PlanID, ev.Payload["plan_id"])
		assert.Equal(t, true, ev.Payload["success"])
	case <-time.After(time.Second):
		t.Fatal("no execution_result event published")
	}

	// Both legs were dispatched, one per venue.
	require.Len(t, placer.calls, 2)
}

func TestExecuteArbitrageDisabled(t *testing.T) {
	cfg := defaultCoordinatorConfig()
	cfg.AutoExecute = false
	c, _ := newTestCoordinator(t, cfg, &fakePlacer{fills: fullFills()})

	res, err := c.ExecuteArbitrage(context.Background(), smallOpportunity(time.Now().UTC()))
	require.ErrorIs(t, err, domain.ErrDisabled)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)

	c.SetAutoExecute(true)
	res, err = c.ExecuteArbitrage(context.Background(), smallOpportunity(time.Now().UTC()))
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestExecuteArbitrageConcurrencyLimit(t *testing.T) {
	cfg := defaultCoordinatorConfig()
	cfg.MaxConcurrentArbitrages = 1

	placer := &fakePlacer{fills: fullFills(), gate: make(chan struct{})}
	c, _ := newTestCoordinator(t, cfg, placer)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.ExecuteArbitrage(context.Background(), smallOpportunity(time.Now().UTC()))
	}()

	require.Eventually(t, func() bool {
		return c.Metrics().ConcurrentExecutions == 1
	}, time.Second, 5*time.Millisecond)

	_, err := c.ExecuteArbitrage(context.Background(), smallOpportunity(time.Now().UTC()))
	var capErr *domain.CapacityError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, "concurrent_arbitrages", capErr.Resource)

	close(placer.gate)
	<-done
	assert.Equal(t, 0, c.Metrics().ConcurrentExecutions)
}

func TestExecuteArbitrageDailyVolumeLimit(t *testing.T) {
	cfg := defaultCoordinatorConfig()
	c, _ := newTestCoordinator(t, cfg, &fakePlacer{fills: fullFills()})

	c.AddDailyVolume(cfg.MaxDailyVolume)

	_, err := c.ExecuteArbitrage(context.Background(), smallOpportunity(time.Now().UTC()))
	var capErr *domain.CapacityError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, "daily_volume", capErr.Resource)
}

func TestExecuteArbitrageValidationRejection(t *testing.T) {
	c, _ := newTestCoordinator(t, defaultCoordinatorConfig(), &fakePlacer{fills: fullFills()})

	opp := smallOpportunity(time.Now().UTC().Add(-time.Minute))
	// Validation failures are results, not errors.
	res, err := c.ExecuteArbitrage(context.Background(), opp)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "expiry")
	assert.Equal(t, 1, c.Metrics().FailedExecutions)
	assert.Zero(t, c.DailyVolume())
}

func TestMetricsStableDuringRejectedExecutions(t *testing.T) {
	cfg := defaultCoordinatorConfig()
	cfg.MaxConcurrentArbitrages = 16
	c, _ := newTestCoordinator(t, cfg, &fakePlacer{fills: fullFills()})

	// Hammer the read paths while expired opportunities are rejected, so a
	// plan mutated outside the coordinator's lock shows up under -race.
	stop := make(chan struct{})
	var readers sync.WaitGroup
	readers.Add(1)
	go func() {
		defer readers.Done()
		for {
			select {
			case <-stop:
				return
			default:
				_ = c.Metrics()
				_ = c.RemoveExpiredPlans(time.Now().UTC())
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				opp := smallOpportunity(time.Now().UTC().Add(-time.Minute))
				_, _ = c.ExecuteArbitrage(context.Background(), opp)
			}
		}()
	}
	wg.Wait()
	close(stop)
	readers.Wait()

	assert.Equal(t, 100, c.Metrics().FailedExecutions)
}

func TestExecuteArbitragePreTradeValidationDisabled(t *testing.T) {
	cfg := defaultCoordinatorConfig()
	cfg.PreTradeValidation = false
	c, _ := newTestCoordinator(t, cfg, &fakePlacer{fills: fullFills()})

	// With the pre-dispatch re-check switched off, even an expired
	// opportunity goes straight to the venues.
	res, err := c.ExecuteArbitrage(context.Background(), smallOpportunity(time.Now().UTC().Add(-time.Minute)))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, c.Metrics().SuccessfulExecutions)
}

func TestExecuteArbitragePostTradePartialFillWarning(t *testing.T) {
	fills := fullFills()
	buy := fills["alpha"]
	buy.ExecutedQuantity = 6
	fills["alpha"] = buy

	c, _ := newTestCoordinator(t, defaultCoordinatorConfig(), &fakePlacer{fills: fills})
	res, err := c.ExecuteArbitrage(context.Background(), smallOpportunity(time.Now().UTC()))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Warning, "buy leg filled 6.0000 of 10.0000")
	assert.Contains(t, res.Warning, "diverge")

	cfg := defaultCoordinatorConfig()
	cfg.PostTradeValidation = false
	c2, _ := newTestCoordinator(t, cfg, &fakePlacer{fills: fills})
	res, err = c2.ExecuteArbitrage(context.Background(), smallOpportunity(time.Now().UTC()))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, res.Warning)
}

func TestExecuteArbitrageOneSidedFill(t *testing.T) {
	placer := &fakePlacer{
		fills: fullFills(),
		errs: map[string]error{
			"beta": fmt.Errorf("venue rejected order"),
		},
	}
	c, bus := newTestCoordinator(t, defaultCoordinatorConfig(), placer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := bus.Subscribe(ctx, domain.EventUnhedgedExposure)
	require.NoError(t, err)

	res, err := c.ExecuteArbitrage(ctx, smallOpportunity(time.Now().UTC()))
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "sell leg failed")
	assert.Contains(t, res.Warning, "NOT automatically unwound")
	require.NotNil(t, res.BuyResult)
	assert.Nil(t, res.SellResult)

	// The naked buy leg still consumed daily budget.
	assert.InDelta(t, 1000, c.DailyVolume(), 1e-9)

	select {
	case ev := <-ch:
		assert.Equal(t, res.PlanID, ev.Payload["plan_id"])
	case <-time.After(time.Second):
		t.Fatal("no unhedged_exposure event published")
	}
}

func TestExecuteArbitrageBothLegsFailed(t *testing.T) {
	placer := &fakePlacer{
		errs: map[string]error{
			"alpha": fmt.Errorf("down"),
			"beta":  fmt.Errorf("down"),
		},
	}
	c, _ := newTestCoordinator(t, defaultCoordinatorConfig(), placer)

	res, err := c.ExecuteArbitrage(context.Background(), smallOpportunity(time.Now().UTC()))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "both legs failed")
	assert.Nil(t, res.BuyResult)
	assert.Nil(t, res.SellResult)
	assert.Empty(t, res.Warning)
	assert.Zero(t, c.DailyVolume())
}

func TestRemoveExpiredPlansIdempotent(t *testing.T) {
	c, _ := newTestCoordinator(t, defaultCoordinatorConfig(), &fakePlacer{fills: fullFills()})

	now := time.Now().UTC()
	_, err := c.ExecuteArbitrage(context.Background(), smallOpportunity(now))
	require.NoError(t, err)

	assert.Equal(t, 0, c.RemoveExpiredPlans(now))
	assert.Equal(t, 1, c.RemoveExpiredPlans(now.Add(2*time.Minute)))
	assert.Equal(t, 0, c.RemoveExpiredPlans(now.Add(2*time.Minute)))
}

func TestResetDailyVolume(t *testing.T) {
	c, _ := newTestCoordinator(t, defaultCoordinatorConfig(), &fakePlacer{})

	c.AddDailyVolume(500)
	c.ResetDailyIfNeeded(time.Now().UTC())
	assert.InDelta(t, 500, c.DailyVolume(), 1e-9)

	c.ResetDailyIfNeeded(time.Now().UTC().Add(24 * time.Hour))
	assert.Zero(t, c.DailyVolume())
}

func TestWaitIdle(t *testing.T) {
	placer := &fakePlacer{fills: fullFills(), gate: make(chan struct{})}
	c, _ := newTestCoordinator(t, defaultCoordinatorConfig(), placer)

	go func() {
		_, _ = c.ExecuteArbitrage(context.Background(), smallOpportunity(time.Now().UTC()))
	}()
	require.Eventually(t, func() bool {
		return c.Metrics().ConcurrentExecutions == 1
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, c.WaitIdle(ctx), "still in flight")

	close(placer.gate)
	require.NoError(t, c.WaitIdle(context.Background()))
}
