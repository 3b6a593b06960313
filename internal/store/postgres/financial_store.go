package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lnp2pbot/escrowd/internal/domain"
)

// FinancialStore implements domain.FinancialStore using PostgreSQL.
type FinancialStore struct {
	pool *pgxpool.Pool
}

// NewFinancialStore creates a new FinancialStore backed by the given pool.
func NewFinancialStore(pool *pgxpool.Pool) *FinancialStore {
	return &FinancialStore{pool: pool}
}

// Create records the financials of one order. orders are unique, so a
// second record for the same order yields domain.ErrAlreadyExists.
func (s *FinancialStore) Create(ctx context.Context, tx domain.FinancialTransaction) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO financial_transactions (id, order_id, community_id, amount, bot_fee,
			community_fee, routing_fee, net_profit, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		tx.ID, tx.OrderID, tx.CommunityID, tx.Amount, tx.BotFee,
		tx.CommunityFee, tx.RoutingFee, tx.NetProfit, tx.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: financial transaction for order %s: %w", tx.OrderID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create financial transaction %s: %w", tx.ID, err)
	}
	return nil
}

// ListBetween returns transactions created in [from, to).
func (s *FinancialStore) ListBetween(ctx context.Context, from, to time.Time) ([]domain.FinancialTransaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, order_id, community_id, amount, bot_fee, community_fee, routing_fee,
			net_profit, created_at
		 FROM financial_transactions
		 WHERE created_at >= $1 AND created_at < $2
		 ORDER BY created_at ASC`, from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres: list financial transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.FinancialTransaction
	for rows.Next() {
		var tx domain.FinancialTransaction
		if err := rows.Scan(&tx.ID, &tx.OrderID, &tx.CommunityID, &tx.Amount, &tx.BotFee,
			&tx.CommunityFee, &tx.RoutingFee, &tx.NetProfit, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan financial transaction: %w", err)
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list financial transactions rows: %w", err)
	}
	return out, nil
}

var _ domain.FinancialStore = (*FinancialStore)(nil)
