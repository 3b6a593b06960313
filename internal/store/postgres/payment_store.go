package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lnp2pbot/escrowd/internal/domain"
)

// PaymentStore implements domain.PendingPaymentStore using PostgreSQL.
type PaymentStore struct {
	pool *pgxpool.Pool
}

// NewPaymentStore creates a new PaymentStore backed by the given pool.
func NewPaymentStore(pool *pgxpool.Pool) *PaymentStore {
	return &PaymentStore{pool: pool}
}

const paymentCols = `id, order_id, community_id, user_id, description, amount,
	payment_request, hash, attempts, paid, is_invoice_expired, paid_at, created_at`

func scanPayment(row scanner) (domain.PendingPayment, error) {
	var p domain.PendingPayment
	err := row.Scan(
		&p.ID, &p.OrderID, &p.CommunityID, &p.UserID, &p.Description, &p.Amount,
		&p.PaymentRequest, &p.Hash, &p.Attempts, &p.Paid, &p.IsInvoiceExpired, &p.PaidAt, &p.CreatedAt,
	)
	return p, err
}

func collectPayments(rows pgx.Rows) ([]domain.PendingPayment, error) {
	defer rows.Close()
	var out []domain.PendingPayment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Create inserts a pending payment.
func (s *PaymentStore) Create(ctx context.Context, p domain.PendingPayment) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pending_payments (`+paymentCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		p.ID, p.OrderID, p.CommunityID, p.UserID, p.Description, p.Amount,
		p.PaymentRequest, p.Hash, p.Attempts, p.Paid, p.IsInvoiceExpired, p.PaidAt, p.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: create pending payment %s: %w", p.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create pending payment %s: %w", p.ID, err)
	}
	return nil
}

// GetByID retrieves a pending payment.
func (s *PaymentStore) GetByID(ctx context.Context, id string) (domain.PendingPayment, error) {
	p, err := scanPayment(s.pool.QueryRow(ctx,
		`SELECT `+paymentCols+` FROM pending_payments WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PendingPayment{}, fmt.Errorf("postgres: get pending payment %s: %w", id, domain.ErrNotFound)
		}
		return domain.PendingPayment{}, fmt.Errorf("postgres: get pending payment %s: %w", id, err)
	}
	return p, nil
}

func (s *PaymentStore) list(ctx context.Context, what, where string, args ...any) ([]domain.PendingPayment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+paymentCols+` FROM pending_payments WHERE `+where+` ORDER BY created_at ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list %s: %w", what, err)
	}
	out, err := collectPayments(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan %s: %w", what, err)
	}
	return out, nil
}

// ListByOrder returns every payment queued for an order.
func (s *PaymentStore) ListByOrder(ctx context.Context, orderID string) ([]domain.PendingPayment, error) {
	return s.list(ctx, "order payments", `order_id = $1`, orderID)
}

// ListByCommunity returns every withdrawal queued for a community.
func (s *PaymentStore) ListByCommunity(ctx context.Context, communityID string) ([]domain.PendingPayment, error) {
	return s.list(ctx, "community payments", `community_id = $1`, communityID)
}

// ListRetriable returns unresolved payments with attempts below max.
func (s *PaymentStore) ListRetriable(ctx context.Context, maxAttempts int, community bool) ([]domain.PendingPayment, error) {
	where := `paid = FALSE AND is_invoice_expired = FALSE AND attempts < $1 AND `
	if community {
		where += `community_id <> ''`
	} else {
		where += `order_id <> ''`
	}
	return s.list(ctx, "retriable payments", where, maxAttempts)
}

// ClaimAttempt increments attempts iff it still equals expected and the
// payment is unresolved.
func (s *PaymentStore) ClaimAttempt(ctx context.Context, id string, expected int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pending_payments SET attempts = attempts + 1
		 WHERE id = $1 AND attempts = $2 AND paid = FALSE AND is_invoice_expired = FALSE`,
		id, expected,
	)
	if err != nil {
		return fmt.Errorf("postgres: claim attempt %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.missOrFailed(ctx, "claim attempt", id)
	}
	return nil
}

// MarkPaid resolves a payment as paid.
func (s *PaymentStore) MarkPaid(ctx context.Context, id string, paidAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pending_payments SET paid = TRUE, paid_at = $2 WHERE id = $1 AND paid = FALSE`,
		id, paidAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: mark paid %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.missOrFailed(ctx, "mark paid", id)
	}
	return nil
}

// MarkExpired resolves a payment whose invoice can no longer be paid.
func (s *PaymentStore) MarkExpired(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pending_payments SET is_invoice_expired = TRUE
		 WHERE id = $1 AND paid = FALSE AND is_invoice_expired = FALSE`,
		id,
	)
	if err != nil {
		return fmt.Errorf("postgres: mark expired %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.missOrFailed(ctx, "mark expired", id)
	}
	return nil
}

func (s *PaymentStore) missOrFailed(ctx context.Context, op, id string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM pending_payments WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("postgres: %s %s: %w", op, id, err)
	}
	if !exists {
		return fmt.Errorf("postgres: %s %s: %w", op, id, domain.ErrNotFound)
	}
	return fmt.Errorf("postgres: %s %s: %w", op, id, domain.ErrPreconditionFailed)
}

var _ domain.PendingPaymentStore = (*PaymentStore)(nil)
