package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avolkov/arbengine/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore using PostgreSQL.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates an ExecutionStore backed by the given pool.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

const execSelectCols = `id, opportunity_id, symbol, buy_exchange, sell_exchange,
	state, buy_order_ref, sell_order_ref,
	requested_amount, filled_amount, realized_profit, slippage_usd,
	error, started_at, completed_at`

// Create stores a new execution attempt.
func (s *ExecutionStore) Create(ctx context.Context, attempt domain.ExecutionAttempt) error {
	const query = `
		INSERT INTO execution_attempts (
			id, opportunity_id, symbol, buy_exchange, sell_exchange,
			state, buy_order_ref, sell_order_ref,
			requested_amount, filled_amount, realized_profit, slippage_usd,
			error, started_at, completed_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10, $11, $12,
			$13, $14, $15
		)`

	_, err := s.pool.Exec(ctx, query,
		attempt.ID, attempt.OpportunityID, attempt.Symbol, attempt.BuyExchange, attempt.SellExchange,
		string(attempt.State), attempt.BuyOrderRef, attempt.SellOrderRef,
		attempt.RequestedAmount, attempt.FilledAmount, attempt.RealizedProfit, attempt.SlippageUSD,
		attempt.Error, attempt.StartedAt, attempt.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create attempt %s: %w", attempt.ID, err)
	}
	return nil
}

// Update rewrites the mutable fields of an attempt.
func (s *ExecutionStore) Update(ctx context.Context, attempt domain.ExecutionAttempt) error {
	const query = `
		UPDATE execution_attempts SET
			state           = $2,
			buy_order_ref   = $3,
			sell_order_ref  = $4,
			filled_amount   = $5,
			realized_profit = $6,
			slippage_usd    = $7,
			error           = $8,
			completed_at    = $9
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		attempt.ID, string(attempt.State), attempt.BuyOrderRef, attempt.SellOrderRef,
		attempt.FilledAmount, attempt.RealizedProfit, attempt.SlippageUSD,
		attempt.Error, attempt.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update attempt %s: %w", attempt.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("attempt %s: %w", attempt.ID, domain.ErrNotFound)
	}
	return nil
}

// GetByID returns a single attempt.
func (s *ExecutionStore) GetByID(ctx context.Context, id string) (domain.ExecutionAttempt, error) {
	query := `SELECT ` + execSelectCols + ` FROM execution_attempts WHERE id = $1`
	rows, err := s.pool.Query(ctx, query, id)
	if err != nil {
		return domain.ExecutionAttempt{}, fmt.Errorf("postgres: get attempt %s: %w", id, err)
	}
	defer rows.Close()

	attempts, err := scanAttempts(rows)
	if err != nil {
		return domain.ExecutionAttempt{}, err
	}
	if len(attempts) == 0 {
		return domain.ExecutionAttempt{}, fmt.Errorf("attempt %s: %w", id, domain.ErrNotFound)
	}
	return attempts[0], nil
}

// ListRecent returns the most recent attempts ordered by start time.
func (s *ExecutionStore) ListRecent(ctx context.Context, limit int) ([]domain.ExecutionAttempt, error) {
	query := `SELECT ` + execSelectCols + ` FROM execution_attempts ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent attempts: %w", err)
	}
	defer rows.Close()
	return scanAttempts(rows)
}

// ListBefore returns attempts started before the cutoff, oldest first, for
// the cold-storage archiver.
func (s *ExecutionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ExecutionAttempt, error) {
	query := `SELECT ` + execSelectCols + ` FROM execution_attempts WHERE started_at < $1 ORDER BY started_at ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list attempts before %s: %w", before, err)
	}
	defer rows.Close()
	return scanAttempts(rows)
}

// SumRealizedProfit totals realized profit across attempts started at or
// after since.
func (s *ExecutionStore) SumRealizedProfit(ctx context.Context, since time.Time) (float64, error) {
	const query = `
		SELECT COALESCE(SUM(realized_profit), 0)
		FROM execution_attempts
		WHERE started_at >= $1 AND state = 'completed'`

	var total float64
	if err := s.pool.QueryRow(ctx, query, since).Scan(&total); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("postgres: sum realized profit: %w", err)
	}
	return total, nil
}

func scanAttempts(rows pgx.Rows) ([]domain.ExecutionAttempt, error) {
	var attempts []domain.ExecutionAttempt
	for rows.Next() {
		var a domain.ExecutionAttempt
		var state string

		if err := rows.Scan(
			&a.ID, &a.OpportunityID, &a.Symbol, &a.BuyExchange, &a.SellExchange,
			&state, &a.BuyOrderRef, &a.SellOrderRef,
			&a.RequestedAmount, &a.FilledAmount, &a.RealizedProfit, &a.SlippageUSD,
			&a.Error, &a.StartedAt, &a.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan attempt: %w", err)
		}
		a.State = domain.ExecutionState(state)
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: attempts rows: %w", err)
	}
	return attempts, nil
}

// Compile-time interface check.
var _ domain.ExecutionStore = (*ExecutionStore)(nil)
