package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lnp2pbot/escrowd/internal/domain"
	"github.com/lnp2pbot/escrowd/internal/service"
)

// PayoutRetrier retries buyer payouts that did not confirm at release time.
// Each attempt is claimed with a compare-and-swap on the attempt counter and
// skipped while the node still has a payment in flight, so a payout is never
// sent twice.
type PayoutRetrier struct {
	stores      domain.Stores
	gateway     domain.Gateway
	payouts     *service.PayoutService
	transitions *service.Transitioner
	events      domain.EventPublisher
	maxAttempts int
	logger      *slog.Logger
	now         func() time.Time
}

// NewPayoutRetrier creates a PayoutRetrier.
func NewPayoutRetrier(
	stores domain.Stores,
	gateway domain.Gateway,
	payouts *service.PayoutService,
	transitions *service.Transitioner,
	events domain.EventPublisher,
	maxAttempts int,
	logger *slog.Logger,
) *PayoutRetrier {
	return &PayoutRetrier{
		stores:      stores,
		gateway:     gateway,
		payouts:     payouts,
		transitions: transitions,
		events:      events,
		maxAttempts: maxAttempts,
		logger:      logger.With(slog.String("component", "payout_retrier")),
		now:         time.Now,
	}
}

// Run makes one attempt for every retriable pending payout.
func (r *PayoutRetrier) Run(ctx context.Context) error {
	pending, err := r.stores.Payments.ListRetriable(ctx, r.maxAttempts, false)
	if err != nil {
		return fmt.Errorf("payout retry: list pending: %w", err)
	}
	for _, pp := range pending {
		if err := r.retry(ctx, pp); err != nil {
			r.logger.WarnContext(ctx, "payout retry: skipped",
				slog.String("pending_payment_id", pp.ID),
				slog.String("order_id", pp.OrderID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func (r *PayoutRetrier) retry(ctx context.Context, pp domain.PendingPayment) error {
	o, err := r.stores.Orders.GetByID(ctx, pp.OrderID)
	if err != nil {
		return err
	}
	switch o.Status {
	case domain.OrderStatusSuccess:
		// The order was completed by another payout; this one is stray.
		return r.stores.Payments.MarkPaid(ctx, pp.ID, r.now().UTC())
	case domain.OrderStatusPaidHoldInvoice, domain.OrderStatusCompletedByAdmin:
	default:
		return fmt.Errorf("order in %s: %w", o.Status, domain.ErrPreconditionFailed)
	}

	for _, req := range []string{o.BuyerInvoice, pp.PaymentRequest} {
		if req == "" {
			continue
		}
		inFlight, err := r.gateway.IsPaymentPending(ctx, req)
		if err != nil {
			return fmt.Errorf("payment status: %w", err)
		}
		if inFlight {
			r.logger.InfoContext(ctx, "payout retry: payment in flight, waiting",
				slog.String("order_id", o.ID),
			)
			return nil
		}
	}

	if err := r.stores.Payments.ClaimAttempt(ctx, pp.ID, pp.Attempts); err != nil {
		if errors.Is(err, domain.ErrPreconditionFailed) {
			return nil
		}
		return err
	}
	attempt := pp.Attempts + 1

	payment, err := r.gateway.PayInvoice(ctx, pp.PaymentRequest, pp.Amount)
	switch {
	case err == nil && payment.IsExpired:
		if err := r.stores.Payments.MarkExpired(ctx, pp.ID); err != nil {
			return err
		}
		o.PaidHoldBuyerInvoiceUpdated = false
		if err := r.transitions.Save(ctx, &o); err != nil {
			return err
		}
		r.events.Publish(ctx, domain.Event{
			Type:   domain.TopicPayoutInvoiceExpired,
			Order:  &o,
			UserID: o.BuyerID,
		})
		return nil

	case err == nil && payment.Confirmed():
		// The order is completed first. If that fails the payment stays
		// unresolved and the next attempt gets the same confirmation back
		// from the node.
		if err := r.payouts.Complete(ctx, &o, payment); err != nil {
			return err
		}
		return r.stores.Payments.MarkPaid(ctx, pp.ID, *payment.ConfirmedAt)

	default:
		if err != nil {
			r.logger.InfoContext(ctx, "payout retry: attempt failed",
				slog.String("order_id", o.ID),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		}
		if attempt >= r.maxAttempts {
			r.events.Publish(ctx, domain.Event{
				Type:   domain.TopicPayoutExhausted,
				Order:  &o,
				UserID: o.BuyerID,
				Data:   map[string]any{"attempts": attempt},
			})
		}
		return nil
	}
}
