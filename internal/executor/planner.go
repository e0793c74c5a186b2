// Package executor turns opportunities into validated two-leg plans and
// coordinates their dispatch under the shared risk budget.
package executor

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/arbx/internal/domain"
)

// slippageBuffer is the fraction of buy-side notional reserved for adverse
// fills when sizing the maximum loss of a plan.
const slippageBuffer = 0.01

// PlannerConfig holds position sizing and risk budget limits.
type PlannerConfig struct {
	MaxPositionSize    float64
	MaxDailyVolume     float64
	RiskBudgetPerTrade float64
}

// Planner constructs and validates execution plans.
type Planner struct {
	cfg    PlannerConfig
	fees   domain.FeeModel
	logger *slog.Logger
}

// NewPlanner creates a Planner.
func NewPlanner(cfg PlannerConfig, fees domain.FeeModel, logger *slog.Logger) *Planner {
	return &Planner{
		cfg:    cfg,
		fees:   fees,
		logger: logger.With(slog.String("component", "arb_planner")),
	}
}

// CreatePlan sizes the trade by the remaining daily budget and the
// opportunity's risk score, then builds one immediate-or-cancel order per
// leg. Higher risk scores shrink the position: size is scaled by
// (1 - riskScore/100 * 0.5).
func (p *Planner) CreatePlan(opp domain.Opportunity, dailyVolume float64, now time.Time) domain.ExecutionPlan {
	size := opp.MaxVolume
	if byPosition := p.cfg.MaxPositionSize / opp.BuyPrice; byPosition < size {
		size = byPosition
	}
	if byDaily := (p.cfg.MaxDailyVolume - dailyVolume) / opp.BuyPrice; byDaily < size {
		size = byDaily
	}
	size *= 1 - opp.RiskScore/100*0.5
	if size < 0 {
		size = 0
	}

	planID := uuid.New().String()

	buyOrder := domain.Order{
		ID:          uuid.New().String(),
		Symbol:      opp.Symbol,
		Side:        domain.OrderSideBuy,
		Quantity:    size,
		Price:       opp.BuyPrice,
		TimeInForce: domain.TIFImmediateOrCancel,
		VenueID:     opp.BuyVenue,
		CreatedAt:   now,
	}
	sellOrder := domain.Order{
		ID:          uuid.New().String(),
		Symbol:      opp.Symbol,
		Side:        domain.OrderSideSell,
		Quantity:    size,
		Price:       opp.SellPrice,
		TimeInForce: domain.TIFImmediateOrCancel,
		VenueID:     opp.SellVenue,
		CreatedAt:   now,
	}

	buyFee := p.fees.LegFee(opp.BuyVenue, buyOrder.Notional())
	sellFee := p.fees.LegFee(opp.SellVenue, sellOrder.Notional())
	totalFees := buyFee + sellFee

	plan := domain.ExecutionPlan{
		ID:             planID,
		Opportunity:    opp,
		BuyLeg:         domain.PlanLeg{VenueID: opp.BuyVenue, Order: buyOrder, EstimatedFee: buyFee},
		SellLeg:        domain.PlanLeg{VenueID: opp.SellVenue, Order: sellOrder, EstimatedFee: sellFee},
		RiskScore:      opp.RiskScore,
		RiskFactors:    riskFactors(opp),
		MaxLoss:        totalFees + buyOrder.Notional()*slippageBuffer,
		ExpectedProfit: opp.NetSpread*size - totalFees,
		CreatedAt:      now,
		ExpiresAt:      opp.ExpiresAt,
		Status:         domain.PlanPending,
	}

	p.logger.Debug("plan created",
		slog.String("plan_id", planID),
		slog.String("opp_id", opp.ID),
		slog.Float64("size", size),
		slog.Float64("expected_profit", plan.ExpectedProfit),
		slog.Float64("max_loss", plan.MaxLoss),
	)
	return plan
}

// riskFactors lists the human-readable drivers of the opportunity's risk.
func riskFactors(opp domain.Opportunity) []string {
	var factors []string
	if opp.LiquidityRisk != domain.RiskLow {
		factors = append(factors, fmt.Sprintf("%s liquidity at %.0f units", opp.LiquidityRisk, opp.MaxVolume))
	}
	if opp.ExecutionRisk != domain.RiskLow {
		factors = append(factors, fmt.Sprintf("%s execution risk on venue pair %s/%s", opp.ExecutionRisk, opp.BuyVenue, opp.SellVenue))
	}
	if opp.Confidence < 0.7 {
		factors = append(factors, fmt.Sprintf("confidence %.2f below 0.70", opp.Confidence))
	}
	if opp.RiskScore >= 50 {
		factors = append(factors, fmt.Sprintf("risk score %.0f", opp.RiskScore))
	}
	return factors
}

// Validate re-checks a plan against still-current constraints immediately
// before dispatch. Every check must hold or the plan is rejected and never
// executed. A plan whose expiry has been reached (ExpiresAt <= now) is
// marked expired.
func (p *Planner) Validate(plan *domain.ExecutionPlan, now time.Time) error {
	if !now.Before(plan.ExpiresAt) {
		plan.Status = domain.PlanExpired
		return &domain.ValidationError{
			PlanID: plan.ID,
			Check:  "expiry",
			Detail: fmt.Sprintf("plan expired at %s", plan.ExpiresAt.Format(time.RFC3339Nano)),
		}
	}
	if plan.MaxLoss > p.cfg.RiskBudgetPerTrade {
		return &domain.ValidationError{
			PlanID: plan.ID,
			Check:  "risk_budget",
			Detail: fmt.Sprintf("max loss %.2f exceeds budget %.2f", plan.MaxLoss, p.cfg.RiskBudgetPerTrade),
		}
	}
	if notional := plan.BuyLeg.Order.Quantity * plan.Opportunity.BuyPrice; notional > p.cfg.MaxPositionSize {
		return &domain.ValidationError{
			PlanID: plan.ID,
			Check:  "position_size",
			Detail: fmt.Sprintf("notional %.2f exceeds max position %.2f", notional, p.cfg.MaxPositionSize),
		}
	}
	if plan.ExpectedProfit <= 0 {
		return &domain.ValidationError{
			PlanID: plan.ID,
			Check:  "expected_profit",
			Detail: fmt.Sprintf("expected profit %.4f is not positive", plan.ExpectedProfit),
		}
	}
	return nil
}
