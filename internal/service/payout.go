package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lnp2pbot/escrowd/internal/domain"
	"github.com/lnp2pbot/escrowd/internal/fee"
)

// PayoutService pays the buyer once the hold invoice has been settled and
// finalizes the order when the node confirms the payment. A payout that does
// not confirm is queued as a PendingPayment; the funds already left escrow,
// so the order never goes back.
type PayoutService struct {
	stores      domain.Stores
	gateway     domain.Gateway
	transitions *Transitioner
	reputation  *Reputation
	events      domain.EventPublisher
	logger      *slog.Logger
	now         func() time.Time
}

// NewPayoutService creates a PayoutService.
func NewPayoutService(
	stores domain.Stores,
	gateway domain.Gateway,
	transitions *Transitioner,
	reputation *Reputation,
	events domain.EventPublisher,
	logger *slog.Logger,
) *PayoutService {
	return &PayoutService{
		stores:      stores,
		gateway:     gateway,
		transitions: transitions,
		reputation:  reputation,
		events:      events,
		logger:      logger.With(slog.String("component", "payout_service")),
		now:         time.Now,
	}
}

// PayBuyer pays o.BuyerInvoice. o must be PAID_HOLD_INVOICE or
// COMPLETED_BY_ADMIN. Only store failures are returned; payment failures,
// and confirmed payments the order could not record, are queued for the
// retry job.
func (s *PayoutService) PayBuyer(ctx context.Context, o *domain.Order) error {
	payment, err := s.gateway.PayInvoice(ctx, o.BuyerInvoice, o.Amount)
	switch {
	case err == nil && payment.IsExpired:
		return s.queueExpired(ctx, o)
	case err == nil && payment.Confirmed():
		cerr := s.Complete(ctx, o, payment)
		if cerr == nil {
			return nil
		}
		// The buyer has the funds; the retry job finds the completed payment
		// on the node and finishes the order.
		s.logger.ErrorContext(ctx, "buyer paid but order not completed, queued for reconciliation",
			slog.String("order_id", o.ID),
			slog.String("error", cerr.Error()),
		)
		if _, err := s.queue(ctx, o, false); err != nil {
			return errors.Join(cerr, err)
		}
		return nil
	case err != nil:
		s.logger.WarnContext(ctx, "buyer payout failed, queued for retry",
			slog.String("order_id", o.ID),
			slog.String("error", err.Error()),
			slog.Bool("retriable", domain.IsRetriable(err)),
		)
	default:
		s.logger.WarnContext(ctx, "buyer payout not confirmed, queued for retry",
			slog.String("order_id", o.ID),
		)
	}

	if _, err := s.queue(ctx, o, false); err != nil {
		return err
	}
	s.events.Publish(ctx, domain.Event{
		Type:   domain.TopicPayoutFailed,
		Order:  o,
		UserID: o.BuyerID,
	})
	return nil
}

// Complete marks o SUCCESS after a confirmed payment, records the routing
// fee, credits reputation and writes the financial transaction. Completing
// an order that is already SUCCESS is a no-op.
func (s *PayoutService) Complete(ctx context.Context, o *domain.Order, payment domain.Payment) error {
	if o.Status == domain.OrderStatusSuccess {
		return nil
	}
	o.RoutingFee = payment.Fee
	if err := s.transitions.Apply(ctx, o, domain.EventPayoutConfirmed); err != nil {
		return fmt.Errorf("payout_service: complete: %w", err)
	}

	if err := s.reputation.HandleReputationItems(ctx, o.BuyerID, o.SellerID, o.Amount); err != nil {
		s.logger.ErrorContext(ctx, "reputation update failed",
			slog.String("order_id", o.ID),
			slog.String("error", err.Error()),
		)
	}

	split := fee.Split(*o)
	tx := domain.FinancialTransaction{
		ID:           uuid.NewString(),
		OrderID:      o.ID,
		CommunityID:  o.CommunityID,
		Amount:       o.Amount,
		BotFee:       split.BotFee,
		CommunityFee: split.CommunityFee,
		RoutingFee:   o.RoutingFee,
		NetProfit:    split.BotFee - o.RoutingFee,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.stores.Financial.Create(ctx, tx); err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
		s.logger.ErrorContext(ctx, "financial transaction not recorded",
			slog.String("order_id", o.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "order completed",
		slog.String("order_id", o.ID),
		slog.Int64("amount", o.Amount),
		slog.Int64("routing_fee", o.RoutingFee),
	)
	s.events.Publish(ctx, domain.Event{Type: domain.TopicOrderSuccess, Order: o})
	return nil
}

const settleRecoveryAttempts = 3

// RecordSettled moves o with ev after its hold invoice was settled but the
// guarded write lost to a concurrent change. The order is reloaded and ev is
// applied again while it is still legal. When it no longer is, the settled
// escrow is written to the audit log and admins are warned. from is the
// status the recorded transition started at.
func (s *PayoutService) RecordSettled(ctx context.Context, o *domain.Order, ev domain.OrderEvent, cause error) (from domain.OrderStatus, err error) {
	for range settleRecoveryAttempts {
		if !errors.Is(cause, domain.ErrStaleOrder) {
			break
		}
		fresh, err := s.stores.Orders.GetByID(ctx, o.ID)
		if err != nil {
			cause = err
			break
		}
		if !domain.CanApply(fresh.Status, ev) {
			cause = fmt.Errorf("order moved to %s: %w", fresh.Status, domain.ErrIllegalTransition)
			break
		}
		from = fresh.Status
		if cause = s.transitions.Apply(ctx, &fresh, ev); cause == nil {
			*o = fresh
			s.logger.WarnContext(ctx, "settled order recorded after concurrent change",
				slog.String("order_id", o.ID),
				slog.String("from", string(from)),
			)
			return from, nil
		}
	}

	s.logger.ErrorContext(ctx, "hold invoice settled but order not recorded",
		slog.String("order_id", o.ID),
		slog.String("event", string(ev)),
		slog.String("error", cause.Error()),
	)
	if err := s.stores.Audit.Log(ctx, "hold_invoice_settled_unrecorded", map[string]any{
		"order_id": o.ID,
		"event":    string(ev),
		"error":    cause.Error(),
	}); err != nil {
		s.logger.ErrorContext(ctx, "audit log failed",
			slog.String("order_id", o.ID),
			slog.String("error", err.Error()),
		)
	}
	s.events.Publish(ctx, domain.Event{
		Type:  domain.TopicAdminWarning,
		Order: o,
		Data:  map[string]any{"reason": "hold invoice settled but the order could not be updated, pay the buyer manually"},
	})
	return "", fmt.Errorf("payout_service: record settled order %s: %w", o.ID, cause)
}

// queueExpired records that the buyer invoice expired before it could be
// paid and asks the buyer for a new one.
func (s *PayoutService) queueExpired(ctx context.Context, o *domain.Order) error {
	if _, err := s.queue(ctx, o, true); err != nil {
		return err
	}
	o.PaidHoldBuyerInvoiceUpdated = false
	if err := s.transitions.Save(ctx, o); err != nil {
		return fmt.Errorf("payout_service: %w", err)
	}
	s.logger.InfoContext(ctx, "buyer invoice expired, asking for a new one",
		slog.String("order_id", o.ID),
	)
	s.events.Publish(ctx, domain.Event{
		Type:   domain.TopicPayoutInvoiceExpired,
		Order:  o,
		UserID: o.BuyerID,
	})
	return nil
}

func (s *PayoutService) queue(ctx context.Context, o *domain.Order, expired bool) (domain.PendingPayment, error) {
	pp := domain.PendingPayment{
		ID:               uuid.NewString(),
		OrderID:          o.ID,
		UserID:           o.BuyerID,
		Description:      fmt.Sprintf("Payout for order %s", o.ID),
		Amount:           o.Amount,
		PaymentRequest:   o.BuyerInvoice,
		IsInvoiceExpired: expired,
		CreatedAt:        s.now().UTC(),
	}
	if err := s.stores.Payments.Create(ctx, pp); err != nil {
		return domain.PendingPayment{}, fmt.Errorf("payout_service: queue pending payment for %s: %w", o.ID, err)
	}
	return pp, nil
}
