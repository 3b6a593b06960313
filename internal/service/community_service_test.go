package service

import (
	"errors"
	"testing"
	"time"

	"github.com/lnp2pbot/escrowd/internal/domain"
)

func TestWithdrawEarnings(t *testing.T) {
	h := newHarness(t)
	creator := h.stranger
	invoice := h.payable("lncommunity", time.Hour)

	if _, err := h.communities.WithdrawEarnings(h.ctx, creator, "c1", invoice); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("empty balance err = %v, want ErrInvalidAmount", err)
	}

	seedTrade(t, h.st, "done", h.buyer.ID, h.seller.ID, 100_000, time.Now())
	if _, err := h.st.Communities.CreditOrderEarnings(h.ctx, "done", "c1", 90); err != nil {
		t.Fatalf("CreditOrderEarnings: %v", err)
	}

	if _, err := h.communities.WithdrawEarnings(h.ctx, h.seller, "c1", invoice); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("non-creator err = %v, want ErrUnauthorized", err)
	}
	pp, err := h.communities.WithdrawEarnings(h.ctx, creator, "c1", invoice)
	if err != nil {
		t.Fatalf("WithdrawEarnings: %v", err)
	}
	if pp.Amount != 90 || pp.CommunityID != "c1" || pp.OrderID != "" {
		t.Errorf("pending payment = %+v", pp)
	}
	if _, err := h.communities.WithdrawEarnings(h.ctx, creator, "c1", invoice); !errors.Is(err, domain.ErrPayoutInProgress) {
		t.Errorf("second withdrawal err = %v, want ErrPayoutInProgress", err)
	}

	c, _ := h.st.Communities.GetByID(h.ctx, "c1")
	if c.Earnings != 90 {
		t.Errorf("earnings debited before payout: %d", c.Earnings)
	}
}

func TestWithdrawAfterExhaustedWithdrawal(t *testing.T) {
	h := newHarness(t)
	creator := h.stranger
	seedTrade(t, h.st, "done", h.buyer.ID, h.seller.ID, 100_000, time.Now())
	if _, err := h.st.Communities.CreditOrderEarnings(h.ctx, "done", "c1", 90); err != nil {
		t.Fatalf("CreditOrderEarnings: %v", err)
	}
	first := h.payable("lnfirst", time.Hour)
	pp, err := h.communities.WithdrawEarnings(h.ctx, creator, "c1", first)
	if err != nil {
		t.Fatalf("WithdrawEarnings: %v", err)
	}
	for i := range 3 {
		if err := h.st.Payments.ClaimAttempt(h.ctx, pp.ID, i); err != nil {
			t.Fatalf("ClaimAttempt: %v", err)
		}
	}

	// Retries ran out without a payment: a new withdrawal is accepted.
	second := h.payable("lnsecond", time.Hour)
	next, err := h.communities.WithdrawEarnings(h.ctx, creator, "c1", second)
	if err != nil {
		t.Fatalf("WithdrawEarnings after exhaustion: %v", err)
	}
	for i := range 3 {
		if err := h.st.Payments.ClaimAttempt(h.ctx, next.ID, i); err != nil {
			t.Fatalf("ClaimAttempt: %v", err)
		}
	}

	// The node did pay the second one in the end.
	if _, err := h.node.PayInvoice(h.ctx, second, next.Amount); err != nil {
		t.Fatalf("PayInvoice: %v", err)
	}
	if _, err := h.communities.WithdrawEarnings(h.ctx, creator, "c1", h.payable("lnthird", time.Hour)); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("withdrawal after paid exhaustion err = %v, want ErrInvalidAmount", err)
	}
	c, _ := h.st.Communities.GetByID(h.ctx, "c1")
	if c.Earnings != 0 {
		t.Errorf("earnings = %d, want 0", c.Earnings)
	}
	if got, _ := h.st.Payments.GetByID(h.ctx, next.ID); !got.Paid {
		t.Error("paid withdrawal not resolved")
	}
}
