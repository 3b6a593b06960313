package service

import (
	"errors"
	"testing"
	"time"

	"github.com/lnp2pbot/escrowd/internal/domain"
)

func (h *harness) disputedOrder(t *testing.T, community string) domain.Order {
	t.Helper()
	o := h.activeSellOrder(t, community, h.payable("lndispute", time.Hour))
	o, err := h.orders.Dispute(h.ctx, h.buyer, o.ID)
	if err != nil {
		t.Fatalf("Dispute: %v", err)
	}
	if o.Status != domain.OrderStatusDispute {
		t.Fatalf("status = %s, want DISPUTE", o.Status)
	}
	return o
}

func TestDisputeOpensCase(t *testing.T) {
	h := newHarness(t)
	o := h.disputedOrder(t, "c1")

	if !o.BuyerDispute || o.SellerDispute {
		t.Errorf("flags buyer=%v seller=%v", o.BuyerDispute, o.SellerDispute)
	}
	if o.BuyerDisputeToken == "" || o.SellerDisputeToken == "" {
		t.Error("dispute tokens not issued")
	}
	if o.PreviousDisputeStatus != domain.OrderStatusActive {
		t.Errorf("previous status = %s", o.PreviousDisputeStatus)
	}
	d, err := h.st.Disputes.GetOpenByOrder(h.ctx, o.ID)
	if err != nil {
		t.Fatalf("GetOpenByOrder: %v", err)
	}
	if d.Status != domain.DisputeWaitingForSolver || d.Initiator != domain.RoleBuyer {
		t.Errorf("dispute = %+v", d)
	}
	u, _ := h.st.Users.GetByID(h.ctx, h.buyer.ID)
	if u.Disputes != 1 || u.Banned {
		t.Errorf("buyer disputes=%d banned=%v", u.Disputes, u.Banned)
	}
	if h.published(domain.TopicDisputeAdminRouted) {
		t.Error("community with solvers must not route to admins")
	}
}

func TestDisputeWithoutSolversGoesToAdmins(t *testing.T) {
	h := newHarness(t)
	o := h.disputedOrder(t, "")
	if !h.published(domain.TopicDisputeAdminRouted) {
		t.Error("dispute.admin_routed not published")
	}
	if _, err := h.orders.Dispute(h.ctx, h.seller, o.ID); !errors.Is(err, domain.ErrIllegalTransition) {
		t.Errorf("second dispute err = %v", err)
	}
}

func TestDisputeBansAtLimit(t *testing.T) {
	h := newHarness(t)
	if _, err := h.st.Users.AddDispute(h.ctx, h.buyer.ID, 0); err != nil {
		t.Fatalf("AddDispute: %v", err)
	}
	h.disputedOrder(t, "")
	u, _ := h.st.Users.GetByID(h.ctx, h.buyer.ID)
	if !u.Banned {
		t.Errorf("buyer with %d disputes not banned", u.Disputes)
	}
}

func TestDisputeRequiresParty(t *testing.T) {
	h := newHarness(t)
	o := h.activeSellOrder(t, "", h.payable("lnparty", time.Hour))
	if _, err := h.orders.Dispute(h.ctx, h.stranger, o.ID); !errors.Is(err, domain.ErrNotParticipant) {
		t.Errorf("err = %v, want ErrNotParticipant", err)
	}
}

func TestTakeDispute(t *testing.T) {
	h := newHarness(t)
	o := h.disputedOrder(t, "c1")

	if _, err := h.disputes.TakeDispute(h.ctx, h.stranger, o.ID); !errors.Is(err, domain.ErrNotSolver) {
		t.Errorf("stranger err = %v, want ErrNotSolver", err)
	}
	if _, err := h.disputes.TakeDispute(h.ctx, h.seller, o.ID); !errors.Is(err, domain.ErrNotSolver) {
		t.Errorf("party err = %v, want ErrNotSolver", err)
	}
	d, err := h.disputes.TakeDispute(h.ctx, h.solver, o.ID)
	if err != nil {
		t.Fatalf("TakeDispute: %v", err)
	}
	if d.Status != domain.DisputeInProgress || d.SolverID != h.solver.ID {
		t.Errorf("dispute = %+v", d)
	}
	if _, err := h.disputes.TakeDispute(h.ctx, h.admin, o.ID); !errors.Is(err, domain.ErrDisputeTaken) {
		t.Errorf("second take err = %v, want ErrDisputeTaken", err)
	}
}

func TestResolveDispute(t *testing.T) {
	tests := []struct {
		outcome     domain.DisputeOutcome
		wantOrder   domain.OrderStatus
		wantDispute domain.DisputeStatus
		wantInvoice domain.InvoiceState
	}{
		{domain.OutcomeSettle, domain.OrderStatusSuccess, domain.DisputeSettled, domain.InvoiceSettled},
		{domain.OutcomeRefund, domain.OrderStatusCanceledByAdmin, domain.DisputeSellerRefunded, domain.InvoiceCanceled},
		{domain.OutcomeRelease, domain.OrderStatusActive, domain.DisputeReleased, domain.InvoiceAccepted},
	}
	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			h := newHarness(t)
			o := h.disputedOrder(t, "c1")
			if _, err := h.disputes.TakeDispute(h.ctx, h.solver, o.ID); err != nil {
				t.Fatalf("TakeDispute: %v", err)
			}

			o, err := h.disputes.ResolveDispute(h.ctx, h.solver, o.ID, tt.outcome)
			if err != nil {
				t.Fatalf("ResolveDispute: %v", err)
			}
			if o.Status != tt.wantOrder {
				t.Errorf("order status = %s, want %s", o.Status, tt.wantOrder)
			}
			if got := h.node.InvoiceState(o.Hash); got != tt.wantInvoice {
				t.Errorf("hold invoice = %s, want %s", got, tt.wantInvoice)
			}
			if _, err := h.st.Disputes.GetOpenByOrder(h.ctx, o.ID); !errors.Is(err, domain.ErrNotFound) {
				t.Errorf("dispute still open: %v", err)
			}
			if !h.published(domain.TopicDisputeResolved) {
				t.Error("dispute.resolved not published")
			}
			if tt.outcome == domain.OutcomeRelease && (o.BuyerDispute || o.SellerDispute) {
				t.Error("dispute flags not cleared")
			}
		})
	}
}

func TestResolveDisputeRejectsOtherSolver(t *testing.T) {
	h := newHarness(t)
	o := h.disputedOrder(t, "c1")
	if _, err := h.disputes.TakeDispute(h.ctx, h.admin, o.ID); err != nil {
		t.Fatalf("TakeDispute: %v", err)
	}
	if _, err := h.disputes.ResolveDispute(h.ctx, h.solver, o.ID, domain.OutcomeSettle); !errors.Is(err, domain.ErrDisputeTaken) {
		t.Errorf("err = %v, want ErrDisputeTaken", err)
	}
	if _, err := h.disputes.ResolveDispute(h.ctx, h.admin, o.ID, "split"); !errors.Is(err, domain.ErrInvalidOrder) {
		t.Errorf("unknown outcome err = %v", err)
	}
}

func TestSellerReleaseClosesDispute(t *testing.T) {
	h := newHarness(t)
	o := h.disputedOrder(t, "c1")
	o, err := h.orders.Release(h.ctx, h.seller, o.ID)
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if o.Status != domain.OrderStatusSuccess {
		t.Errorf("status = %s, want SUCCESS", o.Status)
	}
	if _, err := h.st.Disputes.GetOpenByOrder(h.ctx, o.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("dispute still open: %v", err)
	}
}

func TestAdminSettlesExpiredOrder(t *testing.T) {
	h := newHarness(t)
	o := h.activeSellOrder(t, "", h.payable("lnexpired", time.Hour))
	o.Status = domain.OrderStatusExpired
	if err := h.st.Orders.Update(h.ctx, o, domain.OrderStatusActive); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if _, err := h.disputes.ResolveDispute(h.ctx, h.solver, o.ID, domain.OutcomeSettle); !errors.Is(err, domain.ErrNotSolver) {
		t.Errorf("non-admin err = %v, want ErrNotSolver", err)
	}
	o, err := h.disputes.ResolveDispute(h.ctx, h.admin, o.ID, domain.OutcomeSettle)
	if err != nil {
		t.Fatalf("ResolveDispute: %v", err)
	}
	if o.Status != domain.OrderStatusSuccess {
		t.Errorf("status = %s, want SUCCESS", o.Status)
	}
}
