package domain

import "time"

// PlanStatus is the execution plan state machine:
// pending -> executing -> {completed | failed}, with expired reachable from
// pending when validation runs after ExpiresAt.
type PlanStatus string

const (
	PlanPending   PlanStatus = "pending"
	PlanExecuting PlanStatus = "executing"
	PlanCompleted PlanStatus = "completed"
	PlanFailed    PlanStatus = "failed"
	PlanExpired   PlanStatus = "expired"
)

// PlanLeg is one side of a two-leg plan: an order bound to a venue with its
// estimated fee.
type PlanLeg struct {
	VenueID      string
	Order        Order
	EstimatedFee float64
}

// ExecutionPlan is a concrete, validated two-leg order plan built from an
// opportunity. Created by the planner, mutated only by the coordinator.
type ExecutionPlan struct {
	ID             string
	Opportunity    Opportunity
	BuyLeg         PlanLeg
	SellLeg        PlanLeg
	RiskScore      float64
	RiskFactors    []string
	MaxLoss        float64
	ExpectedProfit float64
	CreatedAt      time.Time
	ExpiresAt      time.Time
	Status         PlanStatus
}

// LegResult is the realized outcome of one dispatched leg.
type LegResult struct {
	VenueID          string
	OrderID          string
	Side             OrderSide
	ExpectedPrice    float64
	ExecutionPrice   float64
	ExecutedQuantity float64
	Fees             float64
	Error            string
}

// ExecutionResult is the typed outcome of one arbitrage attempt. It is always
// returned, never thrown: capacity rejections, validation failures and leg
// failures all land here with Success=false.
type ExecutionResult struct {
	PlanID                string
	OpportunityID         string
	Success               bool
	RealizedProfit        float64
	RealizedProfitPercent float64
	TotalFees             float64
	Slippage              float64
	ExecutionEfficiency   float64
	TimingScore           float64
	RiskAdjustedReturn    float64
	ExecutionTime         time.Duration
	BuyResult             *LegResult
	SellResult            *LegResult
	Error                 string
	Warning               string
	CompletedAt           time.Time
}

// PerformanceMetrics are running aggregates over the execution history.
type PerformanceMetrics struct {
	TotalExecutions      int
	SuccessfulExecutions int
	FailedExecutions     int
	TotalProfit          float64
	TotalFees            float64
	NetProfit            float64
	AverageProfit        float64
	SuccessRate          float64
	AvgExecutionMs       float64
	CurrentExposure      float64
	ReturnOnExposure     float64
	DailyVolume          float64
	ConcurrentExecutions int
	ActiveOpportunities  int
	SnapshotAt           time.Time
}
