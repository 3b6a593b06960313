package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lnp2pbot/escrowd/internal/domain"
)

// DisputeService lets solvers take and resolve disputed orders. Admins can
// also settle or refund orders that expired without a dispute.
type DisputeService struct {
	stores      domain.Stores
	gateway     domain.Gateway
	transitions *Transitioner
	payouts     *PayoutService
	events      domain.EventPublisher
	logger      *slog.Logger
	now         func() time.Time
}

// NewDisputeService creates a DisputeService.
func NewDisputeService(
	stores domain.Stores,
	gateway domain.Gateway,
	transitions *Transitioner,
	payouts *PayoutService,
	events domain.EventPublisher,
	logger *slog.Logger,
) *DisputeService {
	return &DisputeService{
		stores:      stores,
		gateway:     gateway,
		transitions: transitions,
		payouts:     payouts,
		events:      events,
		logger:      logger.With(slog.String("component", "dispute_service")),
		now:         time.Now,
	}
}

// IsDisputeSolver reports whether user may resolve disputes of communityID.
// Admins solve everything; orders without a community go to admins only.
func (s *DisputeService) IsDisputeSolver(ctx context.Context, communityID string, user domain.User) (bool, error) {
	if user.Admin {
		return true, nil
	}
	if communityID == "" {
		return false, nil
	}
	c, err := s.stores.Communities.GetByID(ctx, communityID)
	if err != nil {
		return false, fmt.Errorf("dispute_service: community %s: %w", communityID, err)
	}
	return c.IsSolver(user.ID), nil
}

func (s *DisputeService) authorize(ctx context.Context, solver domain.User, o domain.Order) error {
	if o.RoleOf(solver.ID) != domain.RoleNone {
		return domain.ErrNotSolver
	}
	ok, err := s.IsDisputeSolver(ctx, o.CommunityID, solver)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotSolver
	}
	return nil
}

// openDispute returns the open dispute of o. A disputed order whose record
// was never written gets one rebuilt from the order.
func (s *DisputeService) openDispute(ctx context.Context, o domain.Order) (domain.Dispute, error) {
	d, err := s.stores.Disputes.GetOpenByOrder(ctx, o.ID)
	if err == nil || !errors.Is(err, domain.ErrNotFound) || o.Status != domain.OrderStatusDispute {
		return d, err
	}

	d = newDispute(o, s.now())
	if err := s.stores.Disputes.Create(ctx, d); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return s.stores.Disputes.GetOpenByOrder(ctx, o.ID)
		}
		return domain.Dispute{}, err
	}
	s.logger.WarnContext(ctx, "dispute_service: missing dispute record recreated",
		slog.String("order_id", o.ID),
		slog.String("dispute_id", d.ID),
	)
	return d, nil
}

// TakeDispute assigns the open dispute of an order to solver.
func (s *DisputeService) TakeDispute(ctx context.Context, solver domain.User, orderID string) (domain.Dispute, error) {
	o, err := s.stores.Orders.GetByID(ctx, orderID)
	if err != nil {
		return domain.Dispute{}, fmt.Errorf("dispute_service: take: %w", err)
	}
	if err := s.authorize(ctx, solver, o); err != nil {
		return domain.Dispute{}, err
	}
	d, err := s.openDispute(ctx, o)
	if err != nil {
		return domain.Dispute{}, fmt.Errorf("dispute_service: take: %w", err)
	}
	if d.Status != domain.DisputeWaitingForSolver {
		return domain.Dispute{}, domain.ErrDisputeTaken
	}

	d.Status = domain.DisputeInProgress
	d.SolverID = solver.ID
	d.UpdatedAt = s.now().UTC()
	if err := s.stores.Disputes.Update(ctx, d, domain.DisputeWaitingForSolver); err != nil {
		if errors.Is(err, domain.ErrPreconditionFailed) {
			return domain.Dispute{}, domain.ErrDisputeTaken
		}
		return domain.Dispute{}, fmt.Errorf("dispute_service: take: %w", err)
	}

	s.logger.InfoContext(ctx, "dispute_service: dispute taken",
		slog.String("order_id", orderID),
		slog.String("dispute_id", d.ID),
		slog.String("solver_id", solver.ID),
	)
	s.events.Publish(ctx, domain.Event{
		Type:    domain.TopicDisputeTaken,
		OrderID: orderID,
		UserID:  solver.ID,
		Order:   &o,
		Data:    map[string]any{"dispute_id": d.ID},
	})
	return d, nil
}

// ResolveDispute applies the solver's decision. settle pays the buyer,
// refund returns the escrow to the seller and release hands the order back
// to its parties in the status it had before the dispute.
func (s *DisputeService) ResolveDispute(ctx context.Context, solver domain.User, orderID string, outcome domain.DisputeOutcome) (domain.Order, error) {
	o, err := s.stores.Orders.GetByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("dispute_service: resolve: %w", err)
	}
	if err := s.authorize(ctx, solver, o); err != nil {
		return domain.Order{}, err
	}

	var dispute *domain.Dispute
	switch o.Status {
	case domain.OrderStatusExpired:
		if !solver.Admin {
			return domain.Order{}, domain.ErrNotSolver
		}
	case domain.OrderStatusDispute:
		d, err := s.openDispute(ctx, o)
		if err != nil {
			return domain.Order{}, fmt.Errorf("dispute_service: resolve: %w", err)
		}
		if d.Status == domain.DisputeInProgress && d.SolverID != solver.ID && !solver.Admin {
			return domain.Order{}, domain.ErrDisputeTaken
		}
		dispute = &d
	default:
		return domain.Order{}, fmt.Errorf("dispute_service: resolve in %s: %w", o.Status, domain.ErrIllegalTransition)
	}

	var final domain.DisputeStatus
	switch outcome {
	case domain.OutcomeSettle:
		if o.BuyerInvoice == "" {
			return domain.Order{}, domain.Invalid("buyer_invoice", domain.ErrInvalidInvoice)
		}
		if !domain.CanApply(o.Status, domain.EventAdminSettle) {
			return domain.Order{}, domain.ErrIllegalTransition
		}
		if err := s.gateway.SettleHoldInvoice(ctx, o.Secret); err != nil {
			return domain.Order{}, fmt.Errorf("dispute_service: settle hold invoice: %w", err)
		}
		if err := s.transitions.Apply(ctx, &o, domain.EventAdminSettle); err != nil {
			if _, err := s.payouts.RecordSettled(ctx, &o, domain.EventAdminSettle, err); err != nil {
				return domain.Order{}, fmt.Errorf("dispute_service: resolve: %w", err)
			}
		}
		final = domain.DisputeSettled

	case domain.OutcomeRefund:
		if !domain.CanApply(o.Status, domain.EventAdminCancel) {
			return domain.Order{}, domain.ErrIllegalTransition
		}
		if err := s.gateway.CancelHoldInvoice(ctx, o.Hash); err != nil {
			return domain.Order{}, fmt.Errorf("dispute_service: cancel hold invoice: %w", err)
		}
		if err := s.transitions.Apply(ctx, &o, domain.EventAdminCancel); err != nil {
			return domain.Order{}, fmt.Errorf("dispute_service: resolve: %w", err)
		}
		final = domain.DisputeSellerRefunded

	case domain.OutcomeRelease:
		o.BuyerDispute = false
		o.SellerDispute = false
		o.BuyerDisputeToken = ""
		o.SellerDisputeToken = ""
		if err := s.transitions.Apply(ctx, &o, domain.EventDisputeRelease); err != nil {
			return domain.Order{}, fmt.Errorf("dispute_service: resolve: %w", err)
		}
		final = domain.DisputeReleased

	default:
		return domain.Order{}, domain.Invalid("outcome", domain.ErrInvalidOrder)
	}

	if dispute != nil {
		closeDispute(ctx, s.stores.Disputes, s.logger, *dispute, final, solver.ID, s.now())
	}
	s.logger.InfoContext(ctx, "dispute_service: dispute resolved",
		slog.String("order_id", o.ID),
		slog.String("outcome", string(outcome)),
		slog.String("solver_id", solver.ID),
		slog.String("status", string(o.Status)),
	)
	s.events.Publish(ctx, domain.Event{
		Type:   domain.TopicDisputeResolved,
		Order:  &o,
		UserID: solver.ID,
		Data:   map[string]any{"outcome": string(outcome)},
	})

	if outcome == domain.OutcomeSettle {
		if err := s.payouts.PayBuyer(ctx, &o); err != nil {
			return o, err
		}
	}
	return o, nil
}
