package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lnp2pbot/escrowd/internal/domain"
	"github.com/lnp2pbot/escrowd/internal/fee"
)

// CommunityService handles community earnings withdrawals. The payout itself
// is made by the community payout job; earnings are only debited once the
// node confirms it.
type CommunityService struct {
	stores      domain.Stores
	gateway     domain.Gateway
	maxAttempts int
	logger      *slog.Logger
	now         func() time.Time
}

// NewCommunityService creates a CommunityService. maxAttempts is the retry
// budget of the payout job; a withdrawal that used it up no longer blocks a
// new one.
func NewCommunityService(stores domain.Stores, gateway domain.Gateway, maxAttempts int, logger *slog.Logger) *CommunityService {
	return &CommunityService{
		stores:      stores,
		gateway:     gateway,
		maxAttempts: maxAttempts,
		logger:      logger.With(slog.String("component", "community_service")),
		now:         time.Now,
	}
}

// WithdrawEarnings queues a payout of the community's whole balance to
// request. Only the community creator may withdraw, and only one withdrawal
// can be outstanding at a time.
func (s *CommunityService) WithdrawEarnings(ctx context.Context, actor domain.User, communityID, request string) (domain.PendingPayment, error) {
	c, err := s.stores.Communities.GetByID(ctx, communityID)
	if err != nil {
		return domain.PendingPayment{}, fmt.Errorf("community_service: withdraw: %w", err)
	}
	if c.CreatorID != actor.ID {
		return domain.PendingPayment{}, domain.ErrUnauthorized
	}

	existing, err := s.stores.Payments.ListByCommunity(ctx, communityID)
	if err != nil {
		return domain.PendingPayment{}, fmt.Errorf("community_service: withdraw: %w", err)
	}
	for _, pp := range existing {
		if pp.Resolved() {
			continue
		}
		if pp.Retriable(s.maxAttempts) {
			return domain.PendingPayment{}, domain.ErrPayoutInProgress
		}
		settled, err := s.settleExhausted(ctx, pp)
		if err != nil {
			return domain.PendingPayment{}, err
		}
		if settled {
			if c, err = s.stores.Communities.GetByID(ctx, communityID); err != nil {
				return domain.PendingPayment{}, fmt.Errorf("community_service: withdraw: %w", err)
			}
		}
	}
	if c.Earnings <= 0 {
		return domain.PendingPayment{}, domain.Invalid("earnings", domain.ErrInvalidAmount)
	}
	if err := validateInvoice(ctx, s.gateway, s.now(), request, c.Earnings); err != nil {
		return domain.PendingPayment{}, err
	}

	pp := domain.PendingPayment{
		ID:             uuid.NewString(),
		CommunityID:    communityID,
		UserID:         actor.ID,
		Description:    fmt.Sprintf("%s earnings: %s", c.Name, fee.Format(c.Earnings)),
		Amount:         c.Earnings,
		PaymentRequest: request,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.stores.Payments.Create(ctx, pp); err != nil {
		return domain.PendingPayment{}, fmt.Errorf("community_service: withdraw: %w", err)
	}
	s.logger.InfoContext(ctx, "community_service: withdrawal queued",
		slog.String("community_id", communityID),
		slog.Int64("amount", pp.Amount),
	)
	return pp, nil
}

// settleExhausted debits a withdrawal whose retries ran out if the node did
// pay it in the end.
func (s *CommunityService) settleExhausted(ctx context.Context, pp domain.PendingPayment) (bool, error) {
	payment, err := s.gateway.LookupPayment(ctx, pp.PaymentRequest)
	if err != nil {
		if domain.IsRetriable(err) {
			return false, fmt.Errorf("community_service: withdraw: %w", err)
		}
		return false, nil
	}
	if !payment.Confirmed() {
		return false, nil
	}
	applied, err := s.stores.Communities.SettleWithdrawal(ctx, pp.ID, pp.CommunityID, pp.Amount, *payment.ConfirmedAt)
	if err != nil {
		return false, fmt.Errorf("community_service: withdraw: %w", err)
	}
	if applied {
		s.logger.WarnContext(ctx, "community_service: exhausted withdrawal was paid, earnings debited",
			slog.String("community_id", pp.CommunityID),
			slog.Int64("amount", pp.Amount),
		)
	}
	return applied, nil
}
