package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbx/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore using PostgreSQL.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

var _ domain.ExecutionStore = (*ExecutionStore)(nil)

// NewExecutionStore creates a new ExecutionStore.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

// Create inserts an execution result and its legs in one transaction.
func (s *ExecutionStore) Create(ctx context.Context, res domain.ExecutionResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO executions (plan_id, opportunity_id, success, realized_profit,
			realized_profit_percent, total_fees, slippage, execution_efficiency,
			timing_score, risk_adjusted_return, execution_ms, error, warning, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		res.PlanID, res.OpportunityID, res.Success, res.RealizedProfit,
		res.RealizedProfitPercent, res.TotalFees, res.Slippage, res.ExecutionEfficiency,
		res.TimingScore, res.RiskAdjustedReturn, res.ExecutionTime.Milliseconds(),
		res.Error, res.Warning, res.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert execution %s: %w", res.PlanID, err)
	}

	for _, leg := range []*domain.LegResult{res.BuyResult, res.SellResult} {
		if leg == nil {
			continue
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO execution_legs (plan_id, venue_id, order_id, side,
				expected_price, execution_price, executed_quantity, fees, error)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			res.PlanID, leg.VenueID, leg.OrderID, string(leg.Side),
			leg.ExpectedPrice, leg.ExecutionPrice, leg.ExecutedQuantity, leg.Fees, leg.Error,
		)
		if err != nil {
			return fmt.Errorf("postgres: insert execution leg: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// GetByPlanID returns an execution result with its legs.
func (s *ExecutionStore) GetByPlanID(ctx context.Context, planID string) (domain.ExecutionResult, error) {
	var res domain.ExecutionResult
	var executionMs int64
	err := s.pool.QueryRow(ctx, `
		SELECT plan_id, opportunity_id, success, realized_profit, realized_profit_percent,
			total_fees, slippage, execution_efficiency, timing_score, risk_adjusted_return,
			execution_ms, error, warning, completed_at
		FROM executions WHERE plan_id = $1`, planID,
	).Scan(&res.PlanID, &res.OpportunityID, &res.Success, &res.RealizedProfit,
		&res.RealizedProfitPercent, &res.TotalFees, &res.Slippage, &res.ExecutionEfficiency,
		&res.TimingScore, &res.RiskAdjustedReturn, &executionMs, &res.Error, &res.Warning,
		&res.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ExecutionResult{}, domain.ErrNotFound
		}
		return domain.ExecutionResult{}, fmt.Errorf("postgres: get execution %s: %w", planID, err)
	}
	res.ExecutionTime = time.Duration(executionMs) * time.Millisecond

	rows, err := s.pool.Query(ctx, `
		SELECT venue_id, order_id, side, expected_price, execution_price,
			executed_quantity, fees, error
		FROM execution_legs WHERE plan_id = $1 ORDER BY id`, planID)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("postgres: get execution legs %s: %w", planID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var leg domain.LegResult
		var side string
		if err := rows.Scan(&leg.VenueID, &leg.OrderID, &side, &leg.ExpectedPrice,
			&leg.ExecutionPrice, &leg.ExecutedQuantity, &leg.Fees, &leg.Error); err != nil {
			return domain.ExecutionResult{}, err
		}
		leg.Side = domain.OrderSide(side)
		legCopy := leg
		switch leg.Side {
		case domain.OrderSideBuy:
			res.BuyResult = &legCopy
		case domain.OrderSideSell:
			res.SellResult = &legCopy
		}
	}
	if err := rows.Err(); err != nil {
		return domain.ExecutionResult{}, err
	}
	return res, nil
}

// ListRecent returns the most recent execution results without their legs.
func (s *ExecutionStore) ListRecent(ctx context.Context, limit int) ([]domain.ExecutionResult, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT plan_id, opportunity_id, success, realized_profit, realized_profit_percent,
			total_fees, slippage, execution_efficiency, timing_score, risk_adjusted_return,
			execution_ms, error, warning, completed_at
		FROM executions ORDER BY completed_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	return scanExecutions(rows)
}

// ListBefore returns execution results completed before the given time.
func (s *ExecutionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ExecutionResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT plan_id, opportunity_id, success, realized_profit, realized_profit_percent,
			total_fees, slippage, execution_efficiency, timing_score, risk_adjusted_return,
			execution_ms, error, warning, completed_at
		FROM executions WHERE completed_at < $1 ORDER BY completed_at DESC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions before %s: %w", before, err)
	}
	return scanExecutions(rows)
}

func scanExecutions(rows pgx.Rows) ([]domain.ExecutionResult, error) {
	defer rows.Close()
	var list []domain.ExecutionResult
	for rows.Next() {
		var res domain.ExecutionResult
		var executionMs int64
		if err := rows.Scan(&res.PlanID, &res.OpportunityID, &res.Success,
			&res.RealizedProfit, &res.RealizedProfitPercent, &res.TotalFees,
			&res.Slippage, &res.ExecutionEfficiency, &res.TimingScore,
			&res.RiskAdjustedReturn, &executionMs, &res.Error, &res.Warning,
			&res.CompletedAt); err != nil {
			return nil, err
		}
		res.ExecutionTime = time.Duration(executionMs) * time.Millisecond
		list = append(list, res)
	}
	return list, rows.Err()
}
