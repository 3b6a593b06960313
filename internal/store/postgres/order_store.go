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

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// orderCols lists the order columns in scan and insert order.
const orderCols = `id, type, description, creator_id, seller_id, buyer_id, community_id,
	amount, fiat_amount, min_amount, max_amount, fiat_code, payment_method,
	price_margin, price_from_api, fee, bot_fee, community_fee, routing_fee,
	is_golden_honey_badger, hash, secret, hold_invoice, buyer_invoice, status,
	buyer_dispute, seller_dispute, buyer_dispute_token, seller_dispute_token,
	previous_dispute_status, buyer_cooperative_cancel, seller_cooperative_cancel,
	created_at, taken_at, invoice_held_at, calculated, admin_warned,
	paid_hold_buyer_invoice_updated`

func orderArgs(o domain.Order) []any {
	return []any{
		o.ID, string(o.Type), o.Description, o.CreatorID, o.SellerID, o.BuyerID, o.CommunityID,
		o.Amount, o.FiatAmount, o.MinAmount, o.MaxAmount, o.FiatCode, o.PaymentMethod,
		o.PriceMargin, o.PriceFromAPI, o.Fee, o.BotFee, o.CommunityFee, o.RoutingFee,
		o.IsGoldenHoneyBadger, o.Hash, o.Secret, o.HoldInvoice, o.BuyerInvoice, string(o.Status),
		o.BuyerDispute, o.SellerDispute, o.BuyerDisputeToken, o.SellerDisputeToken,
		string(o.PreviousDisputeStatus), o.BuyerCooperativeCancel, o.SellerCooperativeCancel,
		o.CreatedAt, o.TakenAt, o.InvoiceHeldAt, o.Calculated, o.AdminWarned,
		o.PaidHoldBuyerInvoiceUpdated,
	}
}

func scanOrder(row scanner) (domain.Order, error) {
	var o domain.Order
	var typ, status, prev string
	err := row.Scan(
		&o.ID, &typ, &o.Description, &o.CreatorID, &o.SellerID, &o.BuyerID, &o.CommunityID,
		&o.Amount, &o.FiatAmount, &o.MinAmount, &o.MaxAmount, &o.FiatCode, &o.PaymentMethod,
		&o.PriceMargin, &o.PriceFromAPI, &o.Fee, &o.BotFee, &o.CommunityFee, &o.RoutingFee,
		&o.IsGoldenHoneyBadger, &o.Hash, &o.Secret, &o.HoldInvoice, &o.BuyerInvoice, &status,
		&o.BuyerDispute, &o.SellerDispute, &o.BuyerDisputeToken, &o.SellerDisputeToken,
		&prev, &o.BuyerCooperativeCancel, &o.SellerCooperativeCancel,
		&o.CreatedAt, &o.TakenAt, &o.InvoiceHeldAt, &o.Calculated, &o.AdminWarned,
		&o.PaidHoldBuyerInvoiceUpdated,
	)
	if err != nil {
		return domain.Order{}, err
	}
	o.Type = domain.OrderType(typ)
	o.Status = domain.OrderStatus(status)
	o.PreviousDisputeStatus = domain.OrderStatus(prev)
	return o, nil
}

func collectOrders(rows pgx.Rows) ([]domain.Order, error) {
	defer rows.Close()
	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// Create inserts a new order. A hold invoice already linked to another order
// yields domain.ErrDuplicateInvoice.
func (s *OrderStore) Create(ctx context.Context, o domain.Order) error {
	query := `INSERT INTO orders (` + orderCols + `) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19,
		$20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33, $34, $35, $36,
		$37, $38)`
	if _, err := s.pool.Exec(ctx, query, orderArgs(o)...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: create order %s: %w", o.ID, domain.ErrDuplicateInvoice)
		}
		return fmt.Errorf("postgres: create order %s: %w", o.ID, err)
	}
	return nil
}

// GetByID retrieves a single order by ID.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, domain.ErrNotFound)
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// Update rewrites every mutable column provided the stored status still
// equals expected.
func (s *OrderStore) Update(ctx context.Context, o domain.Order, expected domain.OrderStatus) error {
	const query = `
		UPDATE orders SET
			description = $2, seller_id = $3, buyer_id = $4, community_id = $5,
			amount = $6, fiat_amount = $7, fee = $8, routing_fee = $9,
			is_golden_honey_badger = $10, hash = $11, secret = $12, hold_invoice = $13,
			buyer_invoice = $14, status = $15, buyer_dispute = $16, seller_dispute = $17,
			buyer_dispute_token = $18, seller_dispute_token = $19,
			previous_dispute_status = $20, buyer_cooperative_cancel = $21,
			seller_cooperative_cancel = $22, taken_at = $23, invoice_held_at = $24,
			calculated = $25, admin_warned = $26, paid_hold_buyer_invoice_updated = $27,
			updated_at = NOW()
		WHERE id = $1 AND status = $28`

	tag, err := s.pool.Exec(ctx, query,
		o.ID, o.Description, o.SellerID, o.BuyerID, o.CommunityID,
		o.Amount, o.FiatAmount, o.Fee, o.RoutingFee,
		o.IsGoldenHoneyBadger, o.Hash, o.Secret, o.HoldInvoice,
		o.BuyerInvoice, string(o.Status), o.BuyerDispute, o.SellerDispute,
		o.BuyerDisputeToken, o.SellerDisputeToken,
		string(o.PreviousDisputeStatus), o.BuyerCooperativeCancel,
		o.SellerCooperativeCancel, o.TakenAt, o.InvoiceHeldAt,
		o.Calculated, o.AdminWarned, o.PaidHoldBuyerInvoiceUpdated,
		string(expected),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: update order %s: %w", o.ID, domain.ErrDuplicateInvoice)
		}
		return fmt.Errorf("postgres: update order %s: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return s.missOrStale(ctx, "update", o.ID)
	}
	return nil
}

// Delete removes an order provided its status still equals expected.
func (s *OrderStore) Delete(ctx context.Context, id string, expected domain.OrderStatus) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM orders WHERE id = $1 AND status = $2`, id, string(expected))
	if err != nil {
		return fmt.Errorf("postgres: delete order %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.missOrStale(ctx, "delete", id)
	}
	return nil
}

// missOrStale tells a missing order from one whose status moved on.
func (s *OrderStore) missOrStale(ctx context.Context, op, id string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("postgres: %s order %s: %w", op, id, err)
	}
	if !exists {
		return fmt.Errorf("postgres: %s order %s: %w", op, id, domain.ErrNotFound)
	}
	return fmt.Errorf("postgres: %s order %s: %w", op, id, domain.ErrStaleOrder)
}

// ListByStatus returns orders in any of statuses, oldest first.
func (s *OrderStore) ListByStatus(ctx context.Context, statuses []domain.OrderStatus, opts domain.ListOpts) ([]domain.Order, error) {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}

	query := `SELECT ` + orderCols + ` FROM orders WHERE status = ANY($1)`
	args := []any{names}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at ASC"

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
		return nil, fmt.Errorf("postgres: list orders by status: %w", err)
	}
	orders, err := collectOrders(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan orders by status: %w", err)
	}
	return orders, nil
}

// CountBySeller counts the seller's orders in status.
func (s *OrderStore) CountBySeller(ctx context.Context, sellerID string, status domain.OrderStatus) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM orders WHERE seller_id = $1 AND status = $2`,
		sellerID, string(status),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count seller orders: %w", err)
	}
	return n, nil
}

// ListCompletedBetween returns SUCCESS orders where buyerID bought from
// sellerID taken since the given time, most recent first.
func (s *OrderStore) ListCompletedBetween(ctx context.Context, buyerID, sellerID string, since time.Time) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderCols+` FROM orders
		 WHERE status = 'SUCCESS' AND buyer_id = $1 AND seller_id = $2 AND taken_at >= $3
		 ORDER BY taken_at DESC`,
		buyerID, sellerID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list completed between: %w", err)
	}
	orders, err := collectOrders(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan completed between: %w", err)
	}
	return orders, nil
}

// ListUncalculated returns SUCCESS community orders not yet rolled into
// earnings, oldest first.
func (s *OrderStore) ListUncalculated(ctx context.Context, limit int) ([]domain.Order, error) {
	query := `SELECT ` + orderCols + ` FROM orders
		WHERE status = 'SUCCESS' AND calculated = FALSE AND community_id <> ''
		ORDER BY created_at ASC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list uncalculated orders: %w", err)
	}
	orders, err := collectOrders(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan uncalculated orders: %w", err)
	}
	return orders, nil
}

var _ domain.OrderStore = (*OrderStore)(nil)
