package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbx/internal/domain"
)

// OpportunityStore implements domain.OpportunityStore using PostgreSQL.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

var _ domain.OpportunityStore = (*OpportunityStore)(nil)

// NewOpportunityStore creates a new OpportunityStore.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

// Insert persists one detected opportunity. Re-detected IDs overwrite the
// previous row, mirroring the in-memory active set.
func (s *OpportunityStore) Insert(ctx context.Context, opp domain.Opportunity) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO opportunities (id, symbol, buy_venue, sell_venue, buy_price, sell_price,
			net_spread, net_spread_percent, max_volume, estimated_profit, required_capital,
			risk_score, liquidity_risk, execution_risk, quality, confidence, detected_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (id) DO UPDATE SET
			net_spread = EXCLUDED.net_spread,
			net_spread_percent = EXCLUDED.net_spread_percent,
			max_volume = EXCLUDED.max_volume,
			estimated_profit = EXCLUDED.estimated_profit,
			required_capital = EXCLUDED.required_capital,
			risk_score = EXCLUDED.risk_score,
			liquidity_risk = EXCLUDED.liquidity_risk,
			execution_risk = EXCLUDED.execution_risk,
			quality = EXCLUDED.quality,
			confidence = EXCLUDED.confidence,
			detected_at = EXCLUDED.detected_at,
			expires_at = EXCLUDED.expires_at`,
		opp.ID, opp.Symbol, opp.BuyVenue, opp.SellVenue, opp.BuyPrice, opp.SellPrice,
		opp.NetSpread, opp.NetSpreadPercent, opp.MaxVolume, opp.EstimatedProfit, opp.RequiredCapital,
		opp.RiskScore, string(opp.LiquidityRisk), string(opp.ExecutionRisk), string(opp.Quality),
		opp.Confidence, opp.DetectedAt, opp.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert opportunity %s: %w", opp.ID, err)
	}
	return nil
}

// ListRecent returns the most recently detected opportunities.
func (s *OpportunityStore) ListRecent(ctx context.Context, limit int) ([]domain.Opportunity, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, symbol, buy_venue, sell_venue, buy_price, sell_price,
			net_spread, net_spread_percent, max_volume, estimated_profit, required_capital,
			risk_score, liquidity_risk, execution_risk, quality, confidence, detected_at, expires_at
		FROM opportunities ORDER BY detected_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities: %w", err)
	}
	return scanOpportunities(rows)
}

// ListBefore returns opportunities detected before the given time.
func (s *OpportunityStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Opportunity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, symbol, buy_venue, sell_venue, buy_price, sell_price,
			net_spread, net_spread_percent, max_volume, estimated_profit, required_capital,
			risk_score, liquidity_risk, execution_risk, quality, confidence, detected_at, expires_at
		FROM opportunities WHERE detected_at < $1 ORDER BY detected_at DESC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities before %s: %w", before, err)
	}
	return scanOpportunities(rows)
}

func scanOpportunities(rows pgx.Rows) ([]domain.Opportunity, error) {
	defer rows.Close()
	var list []domain.Opportunity
	for rows.Next() {
		var opp domain.Opportunity
		var liquidity, execution, quality string
		if err := rows.Scan(&opp.ID, &opp.Symbol, &opp.BuyVenue, &opp.SellVenue,
			&opp.BuyPrice, &opp.SellPrice, &opp.NetSpread, &opp.NetSpreadPercent,
			&opp.MaxVolume, &opp.EstimatedProfit, &opp.RequiredCapital, &opp.RiskScore,
			&liquidity, &execution, &quality, &opp.Confidence,
			&opp.DetectedAt, &opp.ExpiresAt); err != nil {
			return nil, err
		}
		opp.LiquidityRisk = domain.RiskLevel(liquidity)
		opp.ExecutionRisk = domain.RiskLevel(execution)
		opp.Quality = domain.OpportunityQuality(quality)
		list = append(list, opp)
	}
	return list, rows.Err()
}
