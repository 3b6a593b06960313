package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lnp2pbot/escrowd/internal/domain"
	"github.com/lnp2pbot/escrowd/internal/service"
)

// ExpiryConfig holds the windows after which orders are swept.
type ExpiryConfig struct {
	// PublicationWindow is how long an untaken order stays listed.
	PublicationWindow time.Duration
	// HoldInvoiceWindow is how long a taken order may wait for the seller's
	// payment or the buyer's invoice.
	HoldInvoiceWindow time.Duration
	// CltvDelta and SafetyWindow are in blocks. An accepted hold invoice must
	// be settled or canceled SafetyWindow blocks before it would time out.
	CltvDelta    int
	SafetyWindow int
	BlockTime    time.Duration
}

// HoldDeadline is how long after acceptance a hold invoice can safely be
// kept open.
func (c ExpiryConfig) HoldDeadline() time.Duration {
	blocks := c.CltvDelta - c.SafetyWindow
	if blocks < 0 {
		blocks = 0
	}
	return time.Duration(blocks) * c.BlockTime
}

// ExpirySweeper cancels, deletes or expires orders that ran out of time.
type ExpirySweeper struct {
	stores      domain.Stores
	gateway     domain.Gateway
	transitions *service.Transitioner
	events      domain.EventPublisher
	cfg         ExpiryConfig
	logger      *slog.Logger
	now         func() time.Time
}

// NewExpirySweeper creates an ExpirySweeper.
func NewExpirySweeper(
	stores domain.Stores,
	gateway domain.Gateway,
	transitions *service.Transitioner,
	events domain.EventPublisher,
	cfg ExpiryConfig,
	logger *slog.Logger,
) *ExpirySweeper {
	return &ExpirySweeper{
		stores:      stores,
		gateway:     gateway,
		transitions: transitions,
		events:      events,
		cfg:         cfg,
		logger:      logger.With(slog.String("component", "expiry_sweeper")),
		now:         time.Now,
	}
}

// Run performs one sweep. Failures on a single order are logged and the order
// is retried on the next sweep.
func (s *ExpirySweeper) Run(ctx context.Context) error {
	now := s.now().UTC()

	waiting, err := s.stores.Orders.ListByStatus(ctx, []domain.OrderStatus{
		domain.OrderStatusWaitingPayment,
		domain.OrderStatusWaitingBuyerInvoice,
	}, domain.ListOpts{})
	if err != nil {
		return fmt.Errorf("expiry: list waiting orders: %w", err)
	}
	for _, o := range waiting {
		if o.TakenAt == nil || now.Sub(*o.TakenAt) < s.cfg.HoldInvoiceWindow {
			continue
		}
		s.timeout(ctx, o)
	}

	pending, err := s.stores.Orders.ListByStatus(ctx, []domain.OrderStatus{domain.OrderStatusPending}, domain.ListOpts{})
	if err != nil {
		return fmt.Errorf("expiry: list pending orders: %w", err)
	}
	for _, o := range pending {
		if now.Sub(o.CreatedAt) < s.cfg.PublicationWindow {
			continue
		}
		s.unpublish(ctx, o)
	}

	held, err := s.stores.Orders.ListByStatus(ctx, []domain.OrderStatus{
		domain.OrderStatusActive,
		domain.OrderStatusFiatSent,
		domain.OrderStatusDispute,
	}, domain.ListOpts{})
	if err != nil {
		return fmt.Errorf("expiry: list held orders: %w", err)
	}
	deadline := s.cfg.HoldDeadline()
	for _, o := range held {
		if o.InvoiceHeldAt == nil || now.Sub(*o.InvoiceHeldAt) < deadline {
			continue
		}
		if o.Status == domain.OrderStatusDispute {
			s.warnDispute(ctx, o)
			continue
		}
		s.expire(ctx, o)
	}
	return nil
}

// timeout cancels a taken order whose counterparty never showed up.
func (s *ExpirySweeper) timeout(ctx context.Context, o domain.Order) {
	if o.HasHoldInvoice() {
		if err := s.gateway.CancelHoldInvoice(ctx, o.Hash); err != nil {
			s.logger.WarnContext(ctx, "expiry: cancel hold invoice failed",
				slog.String("order_id", o.ID),
				slog.String("error", err.Error()),
			)
			return
		}
	}
	from := o.Status
	if err := s.transitions.Apply(ctx, &o, domain.EventTimeout); err != nil {
		s.logger.WarnContext(ctx, "expiry: timeout not saved",
			slog.String("order_id", o.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.events.Publish(ctx, domain.Event{
		Type:  domain.TopicOrderCanceled,
		Order: &o,
		Data:  map[string]any{"reason": "timeout", "from": string(from)},
	})
}

// unpublish removes an order nobody took.
func (s *ExpirySweeper) unpublish(ctx context.Context, o domain.Order) {
	if o.HasHoldInvoice() {
		if err := s.gateway.CancelHoldInvoice(ctx, o.Hash); err != nil {
			s.logger.WarnContext(ctx, "expiry: cancel hold invoice failed",
				slog.String("order_id", o.ID),
				slog.String("error", err.Error()),
			)
			return
		}
	}
	if err := s.stores.Orders.Delete(ctx, o.ID, domain.OrderStatusPending); err != nil {
		s.logger.WarnContext(ctx, "expiry: delete order failed",
			slog.String("order_id", o.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.InfoContext(ctx, "expiry: untaken order deleted", slog.String("order_id", o.ID))
	s.events.Publish(ctx, domain.Event{Type: domain.TopicOrderDeleted, Order: &o, UserID: o.CreatorID})
}

// expire freezes an active trade whose hold invoice is about to time out
// and hands it to the admins.
func (s *ExpirySweeper) expire(ctx context.Context, o domain.Order) {
	o.AdminWarned = true
	if err := s.transitions.Apply(ctx, &o, domain.EventExpire); err != nil {
		s.logger.WarnContext(ctx, "expiry: expire not saved",
			slog.String("order_id", o.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.events.Publish(ctx, domain.Event{Type: domain.TopicOrderExpired, Order: &o})
	s.events.Publish(ctx, domain.Event{
		Type:  domain.TopicAdminWarning,
		Order: &o,
		Data:  map[string]any{"reason": "hold invoice about to time out"},
	})
}

func (s *ExpirySweeper) warnDispute(ctx context.Context, o domain.Order) {
	if o.AdminWarned {
		return
	}
	o.AdminWarned = true
	if err := s.transitions.Save(ctx, &o); err != nil {
		s.logger.WarnContext(ctx, "expiry: admin warning not saved",
			slog.String("order_id", o.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.events.Publish(ctx, domain.Event{
		Type:  domain.TopicAdminWarning,
		Order: &o,
		Data:  map[string]any{"reason": "disputed hold invoice about to time out"},
	})
}
