package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avolkov/arbengine/internal/domain"
)

// OpportunityStore implements domain.OpportunityArchive using PostgreSQL.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityStore creates an OpportunityStore backed by the given pool.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

const oppSelectCols = `id, symbol, buy_exchange, sell_exchange,
	buy_price, sell_price, spread, spread_pct, net_profit, risk_level,
	liquidity_buy, liquidity_sell, gas_fee_estimate, exec_time_estimate_ms,
	created_at, expires_at`

// Insert stores a detected opportunity for later analysis.
func (s *OpportunityStore) Insert(ctx context.Context, opp domain.ArbitrageOpportunity) error {
	const query = `
		INSERT INTO opportunity_history (
			id, symbol, buy_exchange, sell_exchange,
			buy_price, sell_price, spread, spread_pct, net_profit, risk_level,
			liquidity_buy, liquidity_sell, gas_fee_estimate, exec_time_estimate_ms,
			created_at, expires_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14,
			$15, $16
		)`

	_, err := s.pool.Exec(ctx, query,
		opp.ID, opp.Symbol, opp.BuyExchange, opp.SellExchange,
		opp.BuyPrice, opp.SellPrice, opp.Spread, opp.SpreadPct, opp.NetProfit, string(opp.RiskLevel),
		opp.LiquidityBuy, opp.LiquiditySell, opp.GasFeeEstimate, opp.ExecTimeEstimate.Milliseconds(),
		opp.CreatedAt, opp.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert opportunity %s: %w", opp.ID, err)
	}
	return nil
}

// ListRecent returns the most recent opportunities ordered by detection time.
func (s *OpportunityStore) ListRecent(ctx context.Context, limit int) ([]domain.ArbitrageOpportunity, error) {
	query := `SELECT ` + oppSelectCols + ` FROM opportunity_history ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}
	return s.list(ctx, query, args...)
}

// ListBefore returns opportunities detected before the cutoff, oldest first,
// for the cold-storage archiver.
func (s *OpportunityStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ArbitrageOpportunity, error) {
	query := `SELECT ` + oppSelectCols + ` FROM opportunity_history WHERE created_at < $1 ORDER BY created_at ASC`
	return s.list(ctx, query, before)
}

// DeleteBefore removes opportunities detected before the cutoff and returns
// the number of rows deleted.
func (s *OpportunityStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM opportunity_history WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete opportunities before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}

func (s *OpportunityStore) list(ctx context.Context, query string, args ...any) ([]domain.ArbitrageOpportunity, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities: %w", err)
	}
	defer rows.Close()

	var opps []domain.ArbitrageOpportunity
	for rows.Next() {
		var opp domain.ArbitrageOpportunity
		var riskLevel string
		var execTimeMs int64

		if err := rows.Scan(
			&opp.ID, &opp.Symbol, &opp.BuyExchange, &opp.SellExchange,
			&opp.BuyPrice, &opp.SellPrice, &opp.Spread, &opp.SpreadPct, &opp.NetProfit, &riskLevel,
			&opp.LiquidityBuy, &opp.LiquiditySell, &opp.GasFeeEstimate, &execTimeMs,
			&opp.CreatedAt, &opp.ExpiresAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan opportunity: %w", err)
		}
		opp.RiskLevel = domain.RiskLevel(riskLevel)
		opp.ExecTimeEstimate = time.Duration(execTimeMs) * time.Millisecond
		opps = append(opps, opp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list opportunities rows: %w", err)
	}
	return opps, nil
}

// Compile-time interface check.
var _ domain.OpportunityArchive = (*OpportunityStore)(nil)
