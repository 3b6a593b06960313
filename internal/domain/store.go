package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// OrderStore persists the order aggregate. Writes are guarded: Update and
// Delete only apply when the stored status still equals expected, otherwise
// they return ErrStaleOrder and change nothing.
type OrderStore interface {
	Create(ctx context.Context, order Order) error
	GetByID(ctx context.Context, id string) (Order, error)
	Update(ctx context.Context, order Order, expected OrderStatus) error
	Delete(ctx context.Context, id string, expected OrderStatus) error
	ListByStatus(ctx context.Context, statuses []OrderStatus, opts ListOpts) ([]Order, error)
	CountBySeller(ctx context.Context, sellerID string, status OrderStatus) (int, error)
	// ListCompletedBetween returns SUCCESS orders where buyerID bought from
	// sellerID and that were taken since the given time, most recent first.
	ListCompletedBetween(ctx context.Context, buyerID, sellerID string, since time.Time) ([]Order, error)
	// ListUncalculated returns SUCCESS community orders whose fee share has
	// not been rolled into community earnings yet.
	ListUncalculated(ctx context.Context, limit int) ([]Order, error)
}

// PendingPaymentStore persists payouts awaiting retry.
type PendingPaymentStore interface {
	Create(ctx context.Context, p PendingPayment) error
	GetByID(ctx context.Context, id string) (PendingPayment, error)
	ListByOrder(ctx context.Context, orderID string) ([]PendingPayment, error)
	ListByCommunity(ctx context.Context, communityID string) ([]PendingPayment, error)
	// ListRetriable returns unresolved payments with attempts below max.
	// community selects community withdrawals instead of order payouts.
	ListRetriable(ctx context.Context, maxAttempts int, community bool) ([]PendingPayment, error)
	// ClaimAttempt increments attempts iff it still equals expected and the
	// payment is unresolved; ErrPreconditionFailed otherwise.
	ClaimAttempt(ctx context.Context, id string, expected int) error
	MarkPaid(ctx context.Context, id string, paidAt time.Time) error
	MarkExpired(ctx context.Context, id string) error
}

// DisputeStore persists disputes. Update is guarded on the expected status.
type DisputeStore interface {
	Create(ctx context.Context, d Dispute) error
	GetOpenByOrder(ctx context.Context, orderID string) (Dispute, error)
	Update(ctx context.Context, d Dispute, expected DisputeStatus) error
	ListOpen(ctx context.Context, opts ListOpts) ([]Dispute, error)
}

// CommunityStore persists communities and their earnings.
type CommunityStore interface {
	Create(ctx context.Context, c Community) error
	GetByID(ctx context.Context, id string) (Community, error)
	// CreditOrderEarnings atomically marks the order calculated and adds
	// amount to the community earnings. applied is false when the order was
	// already calculated.
	CreditOrderEarnings(ctx context.Context, orderID, communityID string, amount int64) (applied bool, err error)
	// SettleWithdrawal atomically marks the withdrawal payment paid,
	// subtracts its amount from the community earnings and resets
	// orders_to_redeem. applied is false when the payment was already paid.
	SettleWithdrawal(ctx context.Context, paymentID, communityID string, amount int64, paidAt time.Time) (applied bool, err error)
}

// UserStore persists traders.
type UserStore interface {
	Create(ctx context.Context, u User) error
	GetByID(ctx context.Context, id string) (User, error)
	// AdjustReputation adds the deltas to trades_completed and volume_traded,
	// flooring both at zero.
	AdjustReputation(ctx context.Context, userID string, trades int, volume int64) error
	// AddDispute increments the dispute counter and bans the user once it
	// reaches maxDisputes.
	AddDispute(ctx context.Context, userID string, maxDisputes int) (User, error)
}

// FinancialStore persists per-order financial records.
type FinancialStore interface {
	Create(ctx context.Context, tx FinancialTransaction) error
	ListBetween(ctx context.Context, from, to time.Time) ([]FinancialTransaction, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	// ListByOrder returns the entries whose detail names orderID, oldest
	// first.
	ListByOrder(ctx context.Context, orderID string) ([]AuditEntry, error)
}

// Stores bundles every store the engine and jobs need.
type Stores struct {
	Orders      OrderStore
	Payments    PendingPaymentStore
	Disputes    DisputeStore
	Communities CommunityStore
	Users       UserStore
	Financial   FinancialStore
	Audit       AuditStore
}
