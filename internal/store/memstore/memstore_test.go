package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lnp2pbot/escrowd/internal/domain"
)

func TestOrderUpdateIsGuardedByStatus(t *testing.T) {
	ctx := context.Background()
	st := New().Stores()
	o := domain.Order{ID: "o1", Status: domain.OrderStatusPending, CreatedAt: time.Now()}
	if err := st.Orders.Create(ctx, o); err != nil {
		t.Fatalf("Create: %v", err)
	}

	o.Status = domain.OrderStatusWaitingPayment
	if err := st.Orders.Update(ctx, o, domain.OrderStatusPending); err != nil {
		t.Fatalf("Update: %v", err)
	}

	o.Status = domain.OrderStatusCanceled
	err := st.Orders.Update(ctx, o, domain.OrderStatusPending)
	if !errors.Is(err, domain.ErrStaleOrder) {
		t.Fatalf("stale update err = %v, want ErrStaleOrder", err)
	}
	got, _ := st.Orders.GetByID(ctx, "o1")
	if got.Status != domain.OrderStatusWaitingPayment {
		t.Errorf("status = %s, stale write leaked", got.Status)
	}
}

func TestOrderHashIsUnique(t *testing.T) {
	ctx := context.Background()
	st := New().Stores()
	if err := st.Orders.Create(ctx, domain.Order{ID: "a", Hash: "h1", Secret: "s1"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	err := st.Orders.Create(ctx, domain.Order{ID: "b", Hash: "h1", Secret: "s2"})
	if !errors.Is(err, domain.ErrDuplicateInvoice) {
		t.Errorf("err = %v, want ErrDuplicateInvoice", err)
	}
	if err := st.Orders.Create(ctx, domain.Order{ID: "c"}); err != nil {
		t.Errorf("orders without invoice must not collide: %v", err)
	}
	if err := st.Orders.Create(ctx, domain.Order{ID: "d"}); err != nil {
		t.Errorf("orders without invoice must not collide: %v", err)
	}
}

func TestClaimAttemptCompareAndSet(t *testing.T) {
	ctx := context.Background()
	st := New().Stores()
	if err := st.Payments.Create(ctx, domain.PendingPayment{ID: "p1", OrderID: "o1"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := st.Payments.ClaimAttempt(ctx, "p1", 0); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := st.Payments.ClaimAttempt(ctx, "p1", 0); !errors.Is(err, domain.ErrPreconditionFailed) {
		t.Fatalf("second claim with stale count: err = %v", err)
	}
	if err := st.Payments.MarkPaid(ctx, "p1", time.Now()); err != nil {
		t.Fatalf("MarkPaid: %v", err)
	}
	if err := st.Payments.ClaimAttempt(ctx, "p1", 1); !errors.Is(err, domain.ErrPreconditionFailed) {
		t.Fatalf("claim on paid payment: err = %v", err)
	}
	retriable, _ := st.Payments.ListRetriable(ctx, 3, false)
	if len(retriable) != 0 {
		t.Errorf("paid payment listed as retriable")
	}
}

func TestCreditOrderEarningsOnce(t *testing.T) {
	ctx := context.Background()
	st := New().Stores()
	_ = st.Communities.Create(ctx, domain.Community{ID: "c1"})
	_ = st.Orders.Create(ctx, domain.Order{ID: "o1", CommunityID: "c1", Status: domain.OrderStatusSuccess})

	applied, err := st.Communities.CreditOrderEarnings(ctx, "o1", "c1", 150)
	if err != nil || !applied {
		t.Fatalf("first credit: applied=%v err=%v", applied, err)
	}
	applied, err = st.Communities.CreditOrderEarnings(ctx, "o1", "c1", 150)
	if err != nil || applied {
		t.Fatalf("second credit: applied=%v err=%v", applied, err)
	}
	c, _ := st.Communities.GetByID(ctx, "c1")
	if c.Earnings != 150 || c.OrdersToRedeem != 1 {
		t.Errorf("community = %+v", c)
	}
}

func TestSettleWithdrawalOnce(t *testing.T) {
	ctx := context.Background()
	st := New().Stores()
	if err := st.Communities.Create(ctx, domain.Community{ID: "c1", Earnings: 90, OrdersToRedeem: 2}); err != nil {
		t.Fatalf("Create community: %v", err)
	}
	if err := st.Payments.Create(ctx, domain.PendingPayment{ID: "w1", CommunityID: "c1", Amount: 60}); err != nil {
		t.Fatalf("Create payment: %v", err)
	}

	for i, want := range []bool{true, false} {
		applied, err := st.Communities.SettleWithdrawal(ctx, "w1", "c1", 60, time.Now())
		if err != nil || applied != want {
			t.Fatalf("call %d: applied=%v err=%v, want %v", i, applied, err, want)
		}
	}
	c, _ := st.Communities.GetByID(ctx, "c1")
	if c.Earnings != 30 || c.OrdersToRedeem != 0 {
		t.Errorf("community = %d/%d, want 30/0", c.Earnings, c.OrdersToRedeem)
	}
	if pp, _ := st.Payments.GetByID(ctx, "w1"); !pp.Paid || pp.PaidAt == nil {
		t.Errorf("payment = %+v, want paid", pp)
	}
	if _, err := st.Communities.SettleWithdrawal(ctx, "missing", "c1", 1, time.Now()); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing payment err = %v, want ErrNotFound", err)
	}
}

func TestAdjustReputationFloorsAtZero(t *testing.T) {
	ctx := context.Background()
	st := New().Stores()
	_ = st.Users.Create(ctx, domain.User{ID: "u1", TradesCompleted: 1, VolumeTraded: 100})
	if err := st.Users.AdjustReputation(ctx, "u1", -5, -1000); err != nil {
		t.Fatalf("AdjustReputation: %v", err)
	}
	u, _ := st.Users.GetByID(ctx, "u1")
	if u.TradesCompleted != 0 || u.VolumeTraded != 0 {
		t.Errorf("user = %+v, want counters floored at zero", u)
	}
}
