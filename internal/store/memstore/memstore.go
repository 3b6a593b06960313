// Package memstore is an in-process implementation of the domain stores. It
// honours the same guarded-write and uniqueness contracts as the Postgres
// stores and backs the "memory" storage driver and unit tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lnp2pbot/escrowd/internal/domain"
)

// Store holds every entity behind a single mutex.
type Store struct {
	mu          sync.Mutex
	orders      map[string]domain.Order
	payments    map[string]domain.PendingPayment
	disputes    map[string]domain.Dispute
	communities map[string]domain.Community
	users       map[string]domain.User
	financial   []domain.FinancialTransaction
	audit       []domain.AuditEntry
}

// New creates an empty store.
func New() *Store {
	return &Store{
		orders:      make(map[string]domain.Order),
		payments:    make(map[string]domain.PendingPayment),
		disputes:    make(map[string]domain.Dispute),
		communities: make(map[string]domain.Community),
		users:       make(map[string]domain.User),
	}
}

// Stores returns the domain store bundle backed by s.
func (s *Store) Stores() domain.Stores {
	return domain.Stores{
		Orders:      (*OrderStore)(s),
		Payments:    (*PaymentStore)(s),
		Disputes:    (*DisputeStore)(s),
		Communities: (*CommunityStore)(s),
		Users:       (*UserStore)(s),
		Financial:   (*FinancialStore)(s),
		Audit:       (*AuditStore)(s),
	}
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

// OrderStore implements domain.OrderStore.
type OrderStore Store

var _ domain.OrderStore = (*OrderStore)(nil)

func (o *OrderStore) checkUnique(order domain.Order) error {
	for id, other := range o.orders {
		if id == order.ID {
			continue
		}
		if order.Hash != "" && other.Hash == order.Hash {
			return domain.ErrDuplicateInvoice
		}
		if order.Secret != "" && other.Secret == order.Secret {
			return domain.ErrDuplicateInvoice
		}
	}
	return nil
}

func (o *OrderStore) Create(_ context.Context, order domain.Order) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.orders[order.ID]; ok {
		return fmt.Errorf("memstore: create order %s: %w", order.ID, domain.ErrAlreadyExists)
	}
	if err := o.checkUnique(order); err != nil {
		return fmt.Errorf("memstore: create order %s: %w", order.ID, err)
	}
	o.orders[order.ID] = order
	return nil
}

func (o *OrderStore) GetByID(_ context.Context, id string) (domain.Order, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	order, ok := o.orders[id]
	if !ok {
		return domain.Order{}, fmt.Errorf("memstore: get order %s: %w", id, domain.ErrNotFound)
	}
	return order, nil
}

func (o *OrderStore) Update(_ context.Context, order domain.Order, expected domain.OrderStatus) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	cur, ok := o.orders[order.ID]
	if !ok {
		return fmt.Errorf("memstore: update order %s: %w", order.ID, domain.ErrNotFound)
	}
	if cur.Status != expected {
		return fmt.Errorf("memstore: update order %s: %w", order.ID, domain.ErrStaleOrder)
	}
	if err := o.checkUnique(order); err != nil {
		return fmt.Errorf("memstore: update order %s: %w", order.ID, err)
	}
	o.orders[order.ID] = order
	return nil
}

func (o *OrderStore) Delete(_ context.Context, id string, expected domain.OrderStatus) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	cur, ok := o.orders[id]
	if !ok {
		return fmt.Errorf("memstore: delete order %s: %w", id, domain.ErrNotFound)
	}
	if cur.Status != expected {
		return fmt.Errorf("memstore: delete order %s: %w", id, domain.ErrStaleOrder)
	}
	delete(o.orders, id)
	return nil
}

func (o *OrderStore) ListByStatus(_ context.Context, statuses []domain.OrderStatus, opts domain.ListOpts) ([]domain.Order, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	want := make(map[domain.OrderStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	var out []domain.Order
	for _, order := range o.orders {
		if !want[order.Status] {
			continue
		}
		if opts.Since != nil && order.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && order.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, order)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return paginate(out, opts), nil
}

func (o *OrderStore) CountBySeller(_ context.Context, sellerID string, status domain.OrderStatus) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, order := range o.orders {
		if order.SellerID == sellerID && order.Status == status {
			n++
		}
	}
	return n, nil
}

func (o *OrderStore) ListCompletedBetween(_ context.Context, buyerID, sellerID string, since time.Time) ([]domain.Order, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []domain.Order
	for _, order := range o.orders {
		if order.Status != domain.OrderStatusSuccess || order.BuyerID != buyerID || order.SellerID != sellerID {
			continue
		}
		if order.TakenAt == nil || order.TakenAt.Before(since) {
			continue
		}
		out = append(out, order)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TakenAt.After(*out[j].TakenAt) })
	return out, nil
}

func (o *OrderStore) ListUncalculated(_ context.Context, limit int) ([]domain.Order, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []domain.Order
	for _, order := range o.orders {
		if order.Status == domain.OrderStatusSuccess && !order.Calculated && order.CommunityID != "" {
			out = append(out, order)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return paginate(out, domain.ListOpts{Limit: limit}), nil
}

// ---------------------------------------------------------------------------
// Pending payments
// ---------------------------------------------------------------------------

// PaymentStore implements domain.PendingPaymentStore.
type PaymentStore Store

var _ domain.PendingPaymentStore = (*PaymentStore)(nil)

func (p *PaymentStore) Create(_ context.Context, pp domain.PendingPayment) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.payments[pp.ID]; ok {
		return fmt.Errorf("memstore: create pending payment %s: %w", pp.ID, domain.ErrAlreadyExists)
	}
	p.payments[pp.ID] = pp
	return nil
}

func (p *PaymentStore) GetByID(_ context.Context, id string) (domain.PendingPayment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pp, ok := p.payments[id]
	if !ok {
		return domain.PendingPayment{}, fmt.Errorf("memstore: get pending payment %s: %w", id, domain.ErrNotFound)
	}
	return pp, nil
}

func (p *PaymentStore) list(match func(domain.PendingPayment) bool) []domain.PendingPayment {
	var out []domain.PendingPayment
	for _, pp := range p.payments {
		if match(pp) {
			out = append(out, pp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (p *PaymentStore) ListByOrder(_ context.Context, orderID string) ([]domain.PendingPayment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.list(func(pp domain.PendingPayment) bool { return pp.OrderID == orderID }), nil
}

func (p *PaymentStore) ListByCommunity(_ context.Context, communityID string) ([]domain.PendingPayment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.list(func(pp domain.PendingPayment) bool { return pp.CommunityID == communityID }), nil
}

func (p *PaymentStore) ListRetriable(_ context.Context, maxAttempts int, community bool) ([]domain.PendingPayment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.list(func(pp domain.PendingPayment) bool {
		if community != (pp.CommunityID != "") {
			return false
		}
		return pp.Retriable(maxAttempts)
	}), nil
}

func (p *PaymentStore) ClaimAttempt(_ context.Context, id string, expected int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	pp, ok := p.payments[id]
	if !ok {
		return fmt.Errorf("memstore: claim attempt %s: %w", id, domain.ErrNotFound)
	}
	if pp.Attempts != expected || pp.Resolved() {
		return fmt.Errorf("memstore: claim attempt %s: %w", id, domain.ErrPreconditionFailed)
	}
	pp.Attempts++
	p.payments[id] = pp
	return nil
}

func (p *PaymentStore) MarkPaid(_ context.Context, id string, paidAt time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	pp, ok := p.payments[id]
	if !ok {
		return fmt.Errorf("memstore: mark paid %s: %w", id, domain.ErrNotFound)
	}
	if pp.Paid {
		return fmt.Errorf("memstore: mark paid %s: %w", id, domain.ErrPreconditionFailed)
	}
	pp.Paid = true
	pp.PaidAt = &paidAt
	p.payments[id] = pp
	return nil
}

func (p *PaymentStore) MarkExpired(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	pp, ok := p.payments[id]
	if !ok {
		return fmt.Errorf("memstore: mark expired %s: %w", id, domain.ErrNotFound)
	}
	if pp.Resolved() {
		return fmt.Errorf("memstore: mark expired %s: %w", id, domain.ErrPreconditionFailed)
	}
	pp.IsInvoiceExpired = true
	p.payments[id] = pp
	return nil
}

// ---------------------------------------------------------------------------
// Disputes
// ---------------------------------------------------------------------------

// DisputeStore implements domain.DisputeStore.
type DisputeStore Store

var _ domain.DisputeStore = (*DisputeStore)(nil)

func (d *DisputeStore) Create(_ context.Context, dispute domain.Dispute) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.disputes[dispute.ID]; ok {
		return fmt.Errorf("memstore: create dispute %s: %w", dispute.ID, domain.ErrAlreadyExists)
	}
	for _, other := range d.disputes {
		if other.OrderID == dispute.OrderID && other.Status.Open() && dispute.Status.Open() {
			return fmt.Errorf("memstore: create dispute %s: open dispute for order %s: %w", dispute.ID, dispute.OrderID, domain.ErrAlreadyExists)
		}
	}
	d.disputes[dispute.ID] = dispute
	return nil
}

func (d *DisputeStore) GetOpenByOrder(_ context.Context, orderID string) (domain.Dispute, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, dispute := range d.disputes {
		if dispute.OrderID == orderID && dispute.Status.Open() {
			return dispute, nil
		}
	}
	return domain.Dispute{}, fmt.Errorf("memstore: open dispute for order %s: %w", orderID, domain.ErrNotFound)
}

func (d *DisputeStore) Update(_ context.Context, dispute domain.Dispute, expected domain.DisputeStatus) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cur, ok := d.disputes[dispute.ID]
	if !ok {
		return fmt.Errorf("memstore: update dispute %s: %w", dispute.ID, domain.ErrNotFound)
	}
	if cur.Status != expected {
		return fmt.Errorf("memstore: update dispute %s: %w", dispute.ID, domain.ErrPreconditionFailed)
	}
	d.disputes[dispute.ID] = dispute
	return nil
}

func (d *DisputeStore) ListOpen(_ context.Context, opts domain.ListOpts) ([]domain.Dispute, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []domain.Dispute
	for _, dispute := range d.disputes {
		if dispute.Status.Open() {
			out = append(out, dispute)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return paginate(out, opts), nil
}

// ---------------------------------------------------------------------------
// Communities
// ---------------------------------------------------------------------------

// CommunityStore implements domain.CommunityStore.
type CommunityStore Store

var _ domain.CommunityStore = (*CommunityStore)(nil)

func (c *CommunityStore) Create(_ context.Context, community domain.Community) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.communities[community.ID]; ok {
		return fmt.Errorf("memstore: create community %s: %w", community.ID, domain.ErrAlreadyExists)
	}
	c.communities[community.ID] = community
	return nil
}

func (c *CommunityStore) GetByID(_ context.Context, id string) (domain.Community, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	community, ok := c.communities[id]
	if !ok {
		return domain.Community{}, fmt.Errorf("memstore: get community %s: %w", id, domain.ErrNotFound)
	}
	return community, nil
}

func (c *CommunityStore) CreditOrderEarnings(_ context.Context, orderID, communityID string, amount int64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	order, ok := c.orders[orderID]
	if !ok {
		return false, fmt.Errorf("memstore: credit earnings order %s: %w", orderID, domain.ErrNotFound)
	}
	community, ok := c.communities[communityID]
	if !ok {
		return false, fmt.Errorf("memstore: credit earnings community %s: %w", communityID, domain.ErrNotFound)
	}
	if order.Calculated {
		return false, nil
	}
	order.Calculated = true
	community.Earnings += amount
	community.OrdersToRedeem++
	c.orders[orderID] = order
	c.communities[communityID] = community
	return true, nil
}

func (c *CommunityStore) SettleWithdrawal(_ context.Context, paymentID, communityID string, amount int64, paidAt time.Time) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pp, ok := c.payments[paymentID]
	if !ok {
		return false, fmt.Errorf("memstore: settle withdrawal %s: %w", paymentID, domain.ErrNotFound)
	}
	community, ok := c.communities[communityID]
	if !ok {
		return false, fmt.Errorf("memstore: settle withdrawal community %s: %w", communityID, domain.ErrNotFound)
	}
	if pp.Paid {
		return false, nil
	}
	pp.Paid = true
	pp.PaidAt = &paidAt
	community.Earnings = max(community.Earnings-amount, 0)
	community.OrdersToRedeem = 0
	c.payments[paymentID] = pp
	c.communities[communityID] = community
	return true, nil
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// UserStore implements domain.UserStore.
type UserStore Store

var _ domain.UserStore = (*UserStore)(nil)

func (u *UserStore) Create(_ context.Context, user domain.User) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.users[user.ID]; ok {
		return fmt.Errorf("memstore: create user %s: %w", user.ID, domain.ErrAlreadyExists)
	}
	u.users[user.ID] = user
	return nil
}

func (u *UserStore) GetByID(_ context.Context, id string) (domain.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	user, ok := u.users[id]
	if !ok {
		return domain.User{}, fmt.Errorf("memstore: get user %s: %w", id, domain.ErrNotFound)
	}
	return user, nil
}

func (u *UserStore) AdjustReputation(_ context.Context, userID string, trades int, volume int64) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	user, ok := u.users[userID]
	if !ok {
		return fmt.Errorf("memstore: adjust reputation %s: %w", userID, domain.ErrNotFound)
	}
	user.TradesCompleted = max(user.TradesCompleted+trades, 0)
	user.VolumeTraded = max(user.VolumeTraded+volume, 0)
	u.users[userID] = user
	return nil
}

func (u *UserStore) AddDispute(_ context.Context, userID string, maxDisputes int) (domain.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	user, ok := u.users[userID]
	if !ok {
		return domain.User{}, fmt.Errorf("memstore: add dispute %s: %w", userID, domain.ErrNotFound)
	}
	user.Disputes++
	if maxDisputes > 0 && user.Disputes >= maxDisputes {
		user.Banned = true
	}
	u.users[userID] = user
	return user, nil
}

// ---------------------------------------------------------------------------
// Financial transactions and audit
// ---------------------------------------------------------------------------

// FinancialStore implements domain.FinancialStore.
type FinancialStore Store

var _ domain.FinancialStore = (*FinancialStore)(nil)

func (f *FinancialStore) Create(_ context.Context, tx domain.FinancialTransaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.financial {
		if existing.OrderID != "" && existing.OrderID == tx.OrderID {
			return fmt.Errorf("memstore: financial transaction for order %s: %w", tx.OrderID, domain.ErrAlreadyExists)
		}
	}
	f.financial = append(f.financial, tx)
	return nil
}

func (f *FinancialStore) ListBetween(_ context.Context, from, to time.Time) ([]domain.FinancialTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.FinancialTransaction
	for _, tx := range f.financial {
		if !tx.CreatedAt.Before(from) && tx.CreatedAt.Before(to) {
			out = append(out, tx)
		}
	}
	return out, nil
}

// AuditStore implements domain.AuditStore.
type AuditStore Store

var _ domain.AuditStore = (*AuditStore)(nil)

func (a *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.audit = append(a.audit, domain.AuditEntry{
		ID:        int64(len(a.audit) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (a *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.AuditEntry, 0, len(a.audit))
	for i := len(a.audit) - 1; i >= 0; i-- {
		out = append(out, a.audit[i])
	}
	return paginate(out, opts), nil
}

func (a *AuditStore) ListByOrder(_ context.Context, orderID string) ([]domain.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []domain.AuditEntry
	for _, e := range a.audit {
		if id, _ := e.Detail["order_id"].(string); id != "" && id == orderID {
			out = append(out, e)
		}
	}
	return out, nil
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}
