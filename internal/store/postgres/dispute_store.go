package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lnp2pbot/escrowd/internal/domain"
)

// DisputeStore implements domain.DisputeStore using PostgreSQL.
type DisputeStore struct {
	pool *pgxpool.Pool
}

// NewDisputeStore creates a new DisputeStore backed by the given pool.
func NewDisputeStore(pool *pgxpool.Pool) *DisputeStore {
	return &DisputeStore{pool: pool}
}

const disputeCols = `id, order_id, community_id, initiator, seller_id, buyer_id,
	status, solver_id, created_at, updated_at`

func scanDispute(row scanner) (domain.Dispute, error) {
	var d domain.Dispute
	var initiator, status string
	err := row.Scan(&d.ID, &d.OrderID, &d.CommunityID, &initiator, &d.SellerID, &d.BuyerID,
		&status, &d.SolverID, &d.CreatedAt, &d.UpdatedAt)
	d.Initiator = domain.Role(initiator)
	d.Status = domain.DisputeStatus(status)
	return d, err
}

// Create inserts a dispute. A second open dispute for the same order is
// rejected with domain.ErrAlreadyExists.
func (s *DisputeStore) Create(ctx context.Context, d domain.Dispute) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO disputes (`+disputeCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		d.ID, d.OrderID, d.CommunityID, string(d.Initiator), d.SellerID, d.BuyerID,
		string(d.Status), d.SolverID, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: create dispute %s: %w", d.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create dispute %s: %w", d.ID, err)
	}
	return nil
}

// GetOpenByOrder returns the unresolved dispute of an order.
func (s *DisputeStore) GetOpenByOrder(ctx context.Context, orderID string) (domain.Dispute, error) {
	d, err := scanDispute(s.pool.QueryRow(ctx,
		`SELECT `+disputeCols+` FROM disputes
		 WHERE order_id = $1 AND status IN ('WAITING_FOR_SOLVER', 'IN_PROGRESS')`, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Dispute{}, fmt.Errorf("postgres: open dispute for order %s: %w", orderID, domain.ErrNotFound)
		}
		return domain.Dispute{}, fmt.Errorf("postgres: open dispute for order %s: %w", orderID, err)
	}
	return d, nil
}

// Update writes status and solver provided the stored status still equals
// expected.
func (s *DisputeStore) Update(ctx context.Context, d domain.Dispute, expected domain.DisputeStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE disputes SET status = $2, solver_id = $3, updated_at = NOW()
		 WHERE id = $1 AND status = $4`,
		d.ID, string(d.Status), d.SolverID, string(expected),
	)
	if err != nil {
		return fmt.Errorf("postgres: update dispute %s: %w", d.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update dispute %s: %w", d.ID, domain.ErrPreconditionFailed)
	}
	return nil
}

// ListOpen returns unresolved disputes, oldest first.
func (s *DisputeStore) ListOpen(ctx context.Context, opts domain.ListOpts) ([]domain.Dispute, error) {
	query := `SELECT ` + disputeCols + ` FROM disputes
		WHERE status IN ('WAITING_FOR_SOLVER', 'IN_PROGRESS') ORDER BY created_at ASC`
	args := []any{}
	argIdx := 1
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open disputes: %w", err)
	}
	defer rows.Close()

	var out []domain.Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan dispute: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list open disputes rows: %w", err)
	}
	return out, nil
}

var _ domain.DisputeStore = (*DisputeStore)(nil)
