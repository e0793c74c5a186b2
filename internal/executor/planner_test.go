package executor

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbx/internal/arbitrage"
	"github.com/alanyoungcy/arbx/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOpportunity(now time.Time) domain.Opportunity {
	return domain.Opportunity{
		ID:               "opp-1",
		Symbol:           "BTC/USDT",
		BuyVenue:         "alpha",
		SellVenue:        "beta",
		BuyPrice:         100,
		SellPrice:        101,
		NetSpread:        0.799,
		NetSpreadPercent: 0.799,
		MaxVolume:        1000,
		RiskScore:        20,
		LiquidityRisk:    domain.RiskLow,
		ExecutionRisk:    domain.RiskLow,
		Quality:          domain.QualityGood,
		Confidence:       0.9,
		DetectedAt:       now,
		ExpiresAt:        now.Add(30 * time.Second),
	}
}

func newTestPlanner(cfg PlannerConfig) *Planner {
	return NewPlanner(cfg, arbitrage.NewTakerFeeModel(nil, 0), testLogger())
}

func TestCreatePlanSizing(t *testing.T) {
	now := time.Now().UTC()
	p := newTestPlanner(PlannerConfig{
		MaxPositionSize:    10_000,
		MaxDailyVolume:     100_000,
		RiskBudgetPerTrade: 500,
	})

	plan := p.CreatePlan(testOpportunity(now), 0, now)

	// Position cap 10000/100 = 100 units, scaled by (1 - 20/100*0.5) = 0.9.
	require.InDelta(t, 90, plan.BuyLeg.Order.Quantity, 1e-9)
	require.InDelta(t, 90, plan.SellLeg.Order.Quantity, 1e-9)

	assert.Equal(t, domain.OrderSideBuy, plan.BuyLeg.Order.Side)
	assert.Equal(t, domain.OrderSideSell, plan.SellLeg.Order.Side)
	assert.Equal(t, domain.TIFImmediateOrCancel, plan.BuyLeg.Order.TimeInForce)
	assert.Equal(t, domain.TIFImmediateOrCancel, plan.SellLeg.Order.TimeInForce)
	assert.Equal(t, "alpha", plan.BuyLeg.VenueID)
	assert.Equal(t, "beta", plan.SellLeg.VenueID)
	assert.Equal(t, 100.0, plan.BuyLeg.Order.Price)
	assert.Equal(t, 101.0, plan.SellLeg.Order.Price)
	assert.Equal(t, domain.PlanPending, plan.Status)

	// 10 bps on each leg's notional.
	assert.InDelta(t, 9.0, plan.BuyLeg.EstimatedFee, 1e-9)
	assert.InDelta(t, 9.09, plan.SellLeg.EstimatedFee, 1e-9)

	// Fees plus 1% of buy notional reserved for slippage.
	assert.InDelta(t, 18.09+9000*0.01, plan.MaxLoss, 1e-9)
	assert.InDelta(t, 0.799*90-18.09, plan.ExpectedProfit, 1e-9)
	assert.Equal(t, now.Add(30*time.Second), plan.ExpiresAt)
}

func TestCreatePlanDailyBudgetClamp(t *testing.T) {
	now := time.Now().UTC()
	p := newTestPlanner(PlannerConfig{
		MaxPositionSize:    1_000_000,
		MaxDailyVolume:     100_000,
		RiskBudgetPerTrade: 5_000,
	})

	// 95k of the 100k daily budget already used: 5000/100 = 50 units left.
	plan := p.CreatePlan(testOpportunity(now), 95_000, now)
	assert.InDelta(t, 50*0.9, plan.BuyLeg.Order.Quantity, 1e-9)
}

func TestCreatePlanRiskScaling(t *testing.T) {
	now := time.Now().UTC()
	p := newTestPlanner(PlannerConfig{
		MaxPositionSize:    1_000_000,
		MaxDailyVolume:     1_000_000,
		RiskBudgetPerTrade: 5_000,
	})

	opp := testOpportunity(now)
	opp.RiskScore = 80
	plan := p.CreatePlan(opp, 0, now)

	// (1 - 80/100*0.5) = 0.6 of the 1000-unit opportunity volume.
	assert.InDelta(t, 600, plan.BuyLeg.Order.Quantity, 1e-9)
}

func TestCreatePlanExhaustedBudget(t *testing.T) {
	now := time.Now().UTC()
	p := newTestPlanner(PlannerConfig{
		MaxPositionSize:    10_000,
		MaxDailyVolume:     100_000,
		RiskBudgetPerTrade: 500,
	})

	plan := p.CreatePlan(testOpportunity(now), 100_000, now)
	assert.Zero(t, plan.BuyLeg.Order.Quantity)

	err := p.Validate(&plan, now)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "expected_profit", verr.Check)
}

func TestValidateExpiry(t *testing.T) {
	now := time.Now().UTC()
	p := newTestPlanner(PlannerConfig{
		MaxPositionSize:    10_000,
		MaxDailyVolume:     100_000,
		RiskBudgetPerTrade: 500,
	})
	plan := p.CreatePlan(testOpportunity(now), 0, now)

	require.NoError(t, p.Validate(&plan, now))

	// The expiry instant itself is already too late.
	err := p.Validate(&plan, plan.ExpiresAt)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "expiry", verr.Check)
	assert.Equal(t, domain.PlanExpired, plan.Status)
}

func TestValidateRiskBudget(t *testing.T) {
	now := time.Now().UTC()
	p := newTestPlanner(PlannerConfig{
		MaxPositionSize:    10_000,
		MaxDailyVolume:     100_000,
		RiskBudgetPerTrade: 50,
	})
	plan := p.CreatePlan(testOpportunity(now), 0, now)

	err := p.Validate(&plan, now)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "risk_budget", verr.Check)
}

func TestValidatePositionSize(t *testing.T) {
	now := time.Now().UTC()
	p := newTestPlanner(PlannerConfig{
		MaxPositionSize:    10_000,
		MaxDailyVolume:     100_000,
		RiskBudgetPerTrade: 5_000,
	})
	plan := p.CreatePlan(testOpportunity(now), 0, now)

	// Simulate the limit tightening between planning and dispatch.
	plan.BuyLeg.Order.Quantity = 200

	err := p.Validate(&plan, now)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "position_size", verr.Check)
}

func TestRiskFactors(t *testing.T) {
	now := time.Now().UTC()
	opp := testOpportunity(now)
	opp.LiquidityRisk = domain.RiskHigh
	opp.ExecutionRisk = domain.RiskMedium
	opp.Confidence = 0.5
	opp.RiskScore = 65

	factors := riskFactors(opp)
	assert.Len(t, factors, 4)

	clean := testOpportunity(now)
	assert.Empty(t, riskFactors(clean))
}
