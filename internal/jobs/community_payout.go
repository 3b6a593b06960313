package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lnp2pbot/escrowd/internal/domain"
)

// CommunityPayouts pays queued community withdrawals. Earnings are debited
// only after the node confirms the payment, in the same write that resolves
// the withdrawal.
type CommunityPayouts struct {
	stores      domain.Stores
	gateway     domain.Gateway
	events      domain.EventPublisher
	maxAttempts int
	logger      *slog.Logger
}

// NewCommunityPayouts creates a CommunityPayouts job.
func NewCommunityPayouts(stores domain.Stores, gateway domain.Gateway, events domain.EventPublisher, maxAttempts int, logger *slog.Logger) *CommunityPayouts {
	return &CommunityPayouts{
		stores:      stores,
		gateway:     gateway,
		events:      events,
		maxAttempts: maxAttempts,
		logger:      logger.With(slog.String("component", "community_payouts")),
	}
}

// Run makes one attempt for every retriable withdrawal.
func (c *CommunityPayouts) Run(ctx context.Context) error {
	pending, err := c.stores.Payments.ListRetriable(ctx, c.maxAttempts, true)
	if err != nil {
		return fmt.Errorf("community payouts: list pending: %w", err)
	}
	for _, pp := range pending {
		if err := c.pay(ctx, pp); err != nil {
			c.logger.WarnContext(ctx, "community payouts: skipped",
				slog.String("pending_payment_id", pp.ID),
				slog.String("community_id", pp.CommunityID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func (c *CommunityPayouts) pay(ctx context.Context, pp domain.PendingPayment) error {
	community, err := c.stores.Communities.GetByID(ctx, pp.CommunityID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: withdrawal for missing community", domain.ErrAccountingInvariant)
		}
		return err
	}

	inFlight, err := c.gateway.IsPaymentPending(ctx, pp.PaymentRequest)
	if err != nil {
		return fmt.Errorf("payment status: %w", err)
	}
	if inFlight {
		return nil
	}
	if err := c.stores.Payments.ClaimAttempt(ctx, pp.ID, pp.Attempts); err != nil {
		if errors.Is(err, domain.ErrPreconditionFailed) {
			return nil
		}
		return err
	}
	attempt := pp.Attempts + 1

	payment, err := c.gateway.PayInvoice(ctx, pp.PaymentRequest, pp.Amount)
	switch {
	case err == nil && payment.IsExpired:
		if err := c.stores.Payments.MarkExpired(ctx, pp.ID); err != nil {
			return err
		}
		c.events.Publish(ctx, domain.Event{
			Type:   domain.TopicCommunityPayoutFail,
			UserID: community.CreatorID,
			Data:   map[string]any{"community_id": community.ID, "reason": "invoice expired"},
		})
		return nil

	case err == nil && payment.Confirmed():
		applied, err := c.stores.Communities.SettleWithdrawal(ctx, pp.ID, community.ID, pp.Amount, *payment.ConfirmedAt)
		if err != nil {
			return fmt.Errorf("settle withdrawal: %w", err)
		}
		if !applied {
			return nil
		}
		c.logger.InfoContext(ctx, "community payouts: earnings paid",
			slog.String("community_id", community.ID),
			slog.Int64("amount", pp.Amount),
			slog.Int64("routing_fee", payment.Fee),
		)
		c.events.Publish(ctx, domain.Event{
			Type:   domain.TopicCommunityPaid,
			UserID: community.CreatorID,
			Data:   map[string]any{"community_id": community.ID, "amount": pp.Amount},
		})
		return nil

	default:
		if err != nil {
			c.logger.InfoContext(ctx, "community payouts: attempt failed",
				slog.String("community_id", community.ID),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		}
		if attempt >= c.maxAttempts {
			c.events.Publish(ctx, domain.Event{
				Type:   domain.TopicCommunityPayoutFail,
				UserID: community.CreatorID,
				Data:   map[string]any{"community_id": community.ID, "reason": "attempts exhausted"},
			})
		}
		return nil
	}
}
