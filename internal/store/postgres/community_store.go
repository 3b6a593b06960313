package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lnp2pbot/escrowd/internal/domain"
)

// CommunityStore implements domain.CommunityStore using PostgreSQL.
type CommunityStore struct {
	pool *pgxpool.Pool
}

// NewCommunityStore creates a new CommunityStore backed by the given pool.
func NewCommunityStore(pool *pgxpool.Pool) *CommunityStore {
	return &CommunityStore{pool: pool}
}

// Create inserts a community. Solvers are stored as JSONB.
func (s *CommunityStore) Create(ctx context.Context, c domain.Community) error {
	solvers, err := json.Marshal(c.Solvers)
	if err != nil {
		return fmt.Errorf("postgres: marshal solvers: %w", err)
	}
	currencies := c.Currencies
	if currencies == nil {
		currencies = []string{}
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO communities (id, name, creator_id, fee, earnings, orders_to_redeem,
			solvers, currencies, dispute_channel, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.Name, c.CreatorID, c.Fee, c.Earnings, c.OrdersToRedeem,
		solvers, currencies, c.DisputeChannel, c.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: create community %s: %w", c.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create community %s: %w", c.ID, err)
	}
	return nil
}

// GetByID retrieves a community.
func (s *CommunityStore) GetByID(ctx context.Context, id string) (domain.Community, error) {
	var c domain.Community
	var solvers []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, creator_id, fee, earnings, orders_to_redeem, solvers,
			currencies, dispute_channel, created_at
		 FROM communities WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.CreatorID, &c.Fee, &c.Earnings, &c.OrdersToRedeem,
		&solvers, &c.Currencies, &c.DisputeChannel, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Community{}, fmt.Errorf("postgres: get community %s: %w", id, domain.ErrNotFound)
		}
		return domain.Community{}, fmt.Errorf("postgres: get community %s: %w", id, err)
	}
	if len(solvers) > 0 {
		if err := json.Unmarshal(solvers, &c.Solvers); err != nil {
			return domain.Community{}, fmt.Errorf("postgres: unmarshal solvers %s: %w", id, err)
		}
	}
	return c, nil
}

// CreditOrderEarnings flips orders.calculated and credits the community in
// one transaction. The calculated = FALSE guard makes a repeated credit a
// no-op.
func (s *CommunityStore) CreditOrderEarnings(ctx context.Context, orderID, communityID string, amount int64) (bool, error) {
	applied := false
	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE orders SET calculated = TRUE, updated_at = NOW()
			 WHERE id = $1 AND calculated = FALSE`, orderID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
			}
			return nil
		}

		tag, err = tx.Exec(ctx,
			`UPDATE communities SET earnings = earnings + $2, orders_to_redeem = orders_to_redeem + 1
			 WHERE id = $1`, communityID, amount)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("community %s: %w", communityID, domain.ErrNotFound)
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("postgres: credit earnings order %s: %w", orderID, err)
	}
	return applied, nil
}

// SettleWithdrawal marks the withdrawal paid and debits the community in one
// transaction. Earnings are floored at zero.
func (s *CommunityStore) SettleWithdrawal(ctx context.Context, paymentID, communityID string, amount int64, paidAt time.Time) (bool, error) {
	var applied bool
	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE pending_payments SET paid = TRUE, paid_at = $2
			 WHERE id = $1 AND paid = FALSE`, paymentID, paidAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM pending_payments WHERE id = $1)`, paymentID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("payment %s: %w", paymentID, domain.ErrNotFound)
			}
			return nil
		}

		tag, err = tx.Exec(ctx,
			`UPDATE communities SET earnings = GREATEST(earnings - $2, 0), orders_to_redeem = 0
			 WHERE id = $1`, communityID, amount)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("community %s: %w", communityID, domain.ErrNotFound)
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("postgres: settle withdrawal %s: %w", paymentID, err)
	}
	return applied, nil
}

var _ domain.CommunityStore = (*CommunityStore)(nil)
