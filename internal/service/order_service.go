package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lnp2pbot/escrowd/internal/domain"
	"github.com/lnp2pbot/escrowd/internal/fee"
)

const (
	createLimit  = 10
	createWindow = time.Minute
)

// OrderService drives an order from publication to completion or
// cancellation. Every mutation re-reads the order and is saved with a status
// precondition, so two concurrent commands on the same order cannot both win.
type OrderService struct {
	cfg         EngineConfig
	stores      domain.Stores
	gateway     domain.Gateway
	rates       domain.RatesProvider
	limiter     domain.RateLimiter
	events      domain.EventPublisher
	transitions *Transitioner
	payouts     *PayoutService
	logger      *slog.Logger
	now         func() time.Time
	intn        func(int) int
}

// NewOrderService creates an OrderService with all required dependencies.
func NewOrderService(
	cfg EngineConfig,
	stores domain.Stores,
	gateway domain.Gateway,
	rates domain.RatesProvider,
	events domain.EventPublisher,
	transitions *Transitioner,
	payouts *PayoutService,
	logger *slog.Logger,
) *OrderService {
	return &OrderService{
		cfg:         cfg,
		stores:      stores,
		gateway:     gateway,
		rates:       rates,
		events:      events,
		transitions: transitions,
		payouts:     payouts,
		logger:      logger.With(slog.String("component", "order_service")),
		now:         time.Now,
		intn:        rand.IntN,
	}
}

// WithRateLimiter throttles order creation per user. Without a limiter
// creation is unthrottled.
func (s *OrderService) WithRateLimiter(l domain.RateLimiter) *OrderService {
	s.limiter = l
	return s
}

// WithRandom replaces the source used for the golden honey badger draw.
func (s *OrderService) WithRandom(intn func(int) int) *OrderService {
	s.intn = intn
	return s
}

// GetOrder returns an order. Taken orders are only visible to their parties
// and admins. The preimage is never returned.
func (s *OrderService) GetOrder(ctx context.Context, actor domain.User, orderID string) (domain.Order, error) {
	o, err := s.stores.Orders.GetByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order_service: get order: %w", err)
	}
	if o.Status != domain.OrderStatusPending && !actor.Admin &&
		o.RoleOf(actor.ID) == domain.RoleNone && o.CreatorID != actor.ID {
		return domain.Order{}, domain.ErrNotParticipant
	}
	o.Secret = ""
	return o, nil
}

// CreateOrder validates and publishes a new order. Fixed-amount sell orders
// are persisted only once their hold invoice exists.
func (s *OrderService) CreateOrder(ctx context.Context, actor domain.User, p domain.CreateOrderParams) (domain.Order, error) {
	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, "orders:"+actor.ID, createLimit, createWindow)
		if err != nil {
			return domain.Order{}, fmt.Errorf("order_service: rate limiter: %w", err)
		}
		if !allowed {
			return domain.Order{}, domain.ErrRateLimited
		}
	}
	if err := s.checkTrader(ctx, actor); err != nil {
		return domain.Order{}, err
	}

	p.FiatCode = strings.ToUpper(strings.TrimSpace(p.FiatCode))
	p.PaymentMethod = strings.TrimSpace(p.PaymentMethod)
	if err := s.validateParams(p); err != nil {
		return domain.Order{}, err
	}

	var community *domain.Community
	if p.CommunityID != "" {
		c, err := s.stores.Communities.GetByID(ctx, p.CommunityID)
		if err != nil {
			return domain.Order{}, fmt.Errorf("order_service: community %s: %w", p.CommunityID, err)
		}
		if len(c.Currencies) > 0 && !slices.Contains(c.Currencies, p.FiatCode) {
			return domain.Order{}, domain.Invalid("fiat_code", domain.ErrInvalidCurrency)
		}
		community = &c
	}

	if p.Amount == 0 {
		if _, err := s.rate(ctx, p.FiatCode); err != nil {
			return domain.Order{}, err
		}
	}
	if p.BuyerInvoice != "" {
		if p.Type != domain.OrderTypeBuy {
			return domain.Order{}, domain.Invalid("buyer_invoice", domain.ErrInvalidOrder)
		}
		if err := validateInvoice(ctx, s.gateway, s.now(), p.BuyerInvoice, p.Amount); err != nil {
			return domain.Order{}, err
		}
	}

	o := domain.Order{
		ID:                  uuid.NewString(),
		Type:                p.Type,
		CreatorID:           actor.ID,
		CommunityID:         p.CommunityID,
		Amount:              p.Amount,
		FiatAmount:          p.FiatAmount,
		MinAmount:           p.MinAmount,
		MaxAmount:           p.MaxAmount,
		FiatCode:            p.FiatCode,
		PaymentMethod:       p.PaymentMethod,
		PriceMargin:         p.PriceMargin,
		PriceFromAPI:        p.Amount == 0,
		BotFee:              s.cfg.BotFee,
		CommunityFee:        s.cfg.FeeSplit,
		IsGoldenHoneyBadger: fee.Golden(s.cfg.GoldenHoneyBadgerProbability, s.intn),
		BuyerInvoice:        p.BuyerInvoice,
		Status:              domain.OrderStatusPending,
		CreatedAt:           s.now().UTC(),
	}
	if o.Type == domain.OrderTypeSell {
		o.SellerID = actor.ID
	} else {
		o.BuyerID = actor.ID
	}
	o.Fee = fee.ForOrder(o, community)
	o.Description = describe(o)

	if o.Type == domain.OrderTypeSell && o.Amount > 0 {
		if err := s.attachHoldInvoice(ctx, &o); err != nil {
			return domain.Order{}, err
		}
	}
	if err := s.stores.Orders.Create(ctx, o); err != nil {
		if o.HasHoldInvoice() {
			s.cancelInvoiceQuietly(ctx, o)
		}
		return domain.Order{}, fmt.Errorf("order_service: create order: %w", err)
	}

	s.logger.InfoContext(ctx, "order_service: order created",
		slog.String("order_id", o.ID),
		slog.String("type", string(o.Type)),
		slog.Int64("amount", o.Amount),
		slog.Int64("fee", o.Fee),
		slog.String("fiat", o.FiatCode),
	)
	s.events.Publish(ctx, domain.Event{Type: domain.TopicOrderCreated, Order: &o, UserID: actor.ID})
	return o, nil
}

// TakeOrder assigns the counterparty. kind is the order type the taker
// expects (empty skips the check); fiatAmount selects the amount of a range
// order and is ignored otherwise.
func (s *OrderService) TakeOrder(ctx context.Context, actor domain.User, orderID string, kind domain.OrderType, fiatAmount int64) (domain.Order, error) {
	if err := s.checkTrader(ctx, actor); err != nil {
		return domain.Order{}, err
	}
	o, err := s.stores.Orders.GetByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order_service: take order: %w", err)
	}
	if o.CreatorID == actor.ID {
		return domain.Order{}, domain.ErrCannotTakeOwnOrder
	}
	if kind != "" && kind != o.Type {
		return domain.Order{}, domain.ErrTypeMismatch
	}
	if o.Status != domain.OrderStatusPending {
		return domain.Order{}, domain.ErrAlreadyTaken
	}

	if o.IsRangeOrder() {
		if fiatAmount < o.MinAmount || fiatAmount > o.MaxAmount {
			return domain.Order{}, domain.Invalid("fiat_amount", domain.ErrInvalidAmount)
		}
		o.FiatAmount = fiatAmount
	}
	if o.Amount == 0 {
		if err := s.priceAtMarket(ctx, &o); err != nil {
			return domain.Order{}, err
		}
	}

	if o.Type == domain.OrderTypeSell {
		o.BuyerID = actor.ID
	} else {
		o.SellerID = actor.ID
	}
	takenAt := s.now().UTC()
	o.TakenAt = &takenAt

	funded, err := s.holdInvoiceFunded(ctx, &o)
	if err != nil {
		return domain.Order{}, err
	}
	ev := domain.EventTakeFunded
	created := false
	if !funded {
		ev = domain.EventTakeUnfunded
		if !o.HasHoldInvoice() {
			if err := s.attachHoldInvoice(ctx, &o); err != nil {
				return domain.Order{}, err
			}
			created = true
		}
	}

	if err := s.transitions.Apply(ctx, &o, ev); err != nil {
		if created {
			s.cancelInvoiceQuietly(ctx, o)
		}
		if errors.Is(err, domain.ErrStaleOrder) {
			return domain.Order{}, domain.ErrAlreadyTaken
		}
		return domain.Order{}, fmt.Errorf("order_service: take order: %w", err)
	}

	s.events.Publish(ctx, domain.Event{Type: domain.TopicOrderTaken, Order: &o, UserID: actor.ID})
	return o, nil
}

// AddBuyerInvoice sets the invoice the buyer wants to be paid on. After the
// escrow has been released it replaces a failed or expired payout invoice
// and queues a new payout attempt.
func (s *OrderService) AddBuyerInvoice(ctx context.Context, actor domain.User, orderID, request string) (domain.Order, error) {
	o, err := s.stores.Orders.GetByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order_service: add invoice: %w", err)
	}
	if o.RoleOf(actor.ID) != domain.RoleBuyer {
		return domain.Order{}, domain.ErrNotParticipant
	}
	request = strings.TrimSpace(request)

	switch o.Status {
	case domain.OrderStatusWaitingBuyerInvoice:
		if err := validateInvoice(ctx, s.gateway, s.now(), request, o.Amount); err != nil {
			return domain.Order{}, err
		}
		o.BuyerInvoice = request
		if err := s.transitions.Apply(ctx, &o, domain.EventPayoutInvoiceSet); err != nil {
			return domain.Order{}, fmt.Errorf("order_service: add invoice: %w", err)
		}
		s.events.Publish(ctx, domain.Event{Type: domain.TopicOrderActive, Order: &o})

	case domain.OrderStatusPending, domain.OrderStatusWaitingPayment,
		domain.OrderStatusActive, domain.OrderStatusFiatSent:
		if err := validateInvoice(ctx, s.gateway, s.now(), request, o.Amount); err != nil {
			return domain.Order{}, err
		}
		o.BuyerInvoice = request
		if err := s.transitions.Save(ctx, &o); err != nil {
			return domain.Order{}, fmt.Errorf("order_service: add invoice: %w", err)
		}

	case domain.OrderStatusPaidHoldInvoice, domain.OrderStatusCompletedByAdmin:
		if err := s.payoutSettled(ctx, &o); err != nil {
			return domain.Order{}, err
		}
		if err := validateInvoice(ctx, s.gateway, s.now(), request, o.Amount); err != nil {
			return domain.Order{}, err
		}
		o.BuyerInvoice = request
		o.PaidHoldBuyerInvoiceUpdated = true
		if err := s.transitions.Save(ctx, &o); err != nil {
			return domain.Order{}, fmt.Errorf("order_service: add invoice: %w", err)
		}
		if _, err := s.payouts.queue(ctx, &o, false); err != nil {
			return domain.Order{}, err
		}
		s.logger.InfoContext(ctx, "order_service: payout invoice replaced",
			slog.String("order_id", o.ID),
		)

	default:
		return domain.Order{}, fmt.Errorf("order_service: add invoice in %s: %w", o.Status, domain.ErrIllegalTransition)
	}
	return o, nil
}

// payoutSettled refuses a replacement payout invoice while the buyer may
// still be paid on the current one: a retry with attempts left, a payment
// the node has in flight or one it already completed. A completed payment
// the order does not reflect yet is reconciled here.
func (s *OrderService) payoutSettled(ctx context.Context, o *domain.Order) error {
	pending, err := s.stores.Payments.ListByOrder(ctx, o.ID)
	if err != nil {
		return fmt.Errorf("order_service: add invoice: %w", err)
	}
	for _, pp := range pending {
		if pp.Paid || pp.Retriable(s.cfg.MaxAttempts) {
			return domain.ErrPayoutInProgress
		}
	}
	if o.BuyerInvoice == "" {
		return nil
	}

	inFlight, err := s.gateway.IsPaymentPending(ctx, o.BuyerInvoice)
	if err == nil && inFlight {
		return domain.ErrPayoutInProgress
	}
	payment, lookupErr := s.gateway.LookupPayment(ctx, o.BuyerInvoice)
	if err := errors.Join(err, lookupErr); err != nil {
		if domain.IsRetriable(err) {
			return fmt.Errorf("order_service: add invoice: %w", err)
		}
		// The current invoice cannot even be decoded, so it was never paid.
		return nil
	}
	if !payment.Confirmed() {
		return nil
	}
	s.logger.WarnContext(ctx, "order_service: buyer already paid, completing order",
		slog.String("order_id", o.ID),
	)
	if err := s.payouts.Complete(ctx, o, payment); err != nil {
		return err
	}
	return fmt.Errorf("order_service: add invoice in %s: %w", o.Status, domain.ErrIllegalTransition)
}

// OnHoldInvoiceAccepted records that the seller paid the hold invoice. It is
// idempotent: an order already past WAITING_PAYMENT is returned unchanged.
func (s *OrderService) OnHoldInvoiceAccepted(ctx context.Context, orderID string) (domain.Order, error) {
	o, err := s.stores.Orders.GetByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order_service: invoice accepted: %w", err)
	}
	if o.InvoiceHeldAt != nil && o.Status != domain.OrderStatusWaitingPayment {
		return o, nil
	}
	heldAt := s.now().UTC()
	o.InvoiceHeldAt = &heldAt

	switch o.Status {
	case domain.OrderStatusWaitingPayment:
		ev := domain.EventFunded
		if o.BuyerInvoice != "" {
			ev = domain.EventFundedWithPayout
		}
		if err := s.transitions.Apply(ctx, &o, ev); err != nil {
			return domain.Order{}, fmt.Errorf("order_service: invoice accepted: %w", err)
		}
		s.events.Publish(ctx, domain.Event{Type: domain.TopicOrderFunded, Order: &o})
		if o.Status == domain.OrderStatusActive {
			s.events.Publish(ctx, domain.Event{Type: domain.TopicOrderActive, Order: &o})
		}
	case domain.OrderStatusPending:
		if err := s.transitions.Save(ctx, &o); err != nil {
			return domain.Order{}, fmt.Errorf("order_service: invoice accepted: %w", err)
		}
		s.logger.InfoContext(ctx, "order_service: sell order funded before take",
			slog.String("order_id", o.ID),
		)
	default:
		return domain.Order{}, fmt.Errorf("order_service: invoice accepted in %s: %w", o.Status, domain.ErrIllegalTransition)
	}
	return o, nil
}

// MarkFiatSent is the buyer stating the fiat payment was made.
func (s *OrderService) MarkFiatSent(ctx context.Context, actor domain.User, orderID string) (domain.Order, error) {
	o, err := s.stores.Orders.GetByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order_service: fiat sent: %w", err)
	}
	if o.RoleOf(actor.ID) != domain.RoleBuyer {
		return domain.Order{}, domain.ErrNotParticipant
	}
	if o.BuyerInvoice == "" {
		return domain.Order{}, domain.Invalid("buyer_invoice", domain.ErrInvalidInvoice)
	}
	if err := s.transitions.Apply(ctx, &o, domain.EventFiatSent); err != nil {
		return domain.Order{}, fmt.Errorf("order_service: fiat sent: %w", err)
	}
	s.events.Publish(ctx, domain.Event{Type: domain.TopicOrderFiatSent, Order: &o, UserID: o.SellerID})
	return o, nil
}

// Release settles the hold invoice and pays the buyer. The order is
// PAID_HOLD_INVOICE as soon as the preimage is revealed; a payout that does
// not confirm is left to the retry job.
func (s *OrderService) Release(ctx context.Context, actor domain.User, orderID string) (domain.Order, error) {
	o, err := s.stores.Orders.GetByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order_service: release: %w", err)
	}
	if o.RoleOf(actor.ID) != domain.RoleSeller {
		return domain.Order{}, domain.ErrNotParticipant
	}
	if !domain.CanApply(o.Status, domain.EventRelease) {
		return domain.Order{}, fmt.Errorf("order_service: release in %s: %w", o.Status, domain.ErrIllegalTransition)
	}
	if o.BuyerInvoice == "" {
		return domain.Order{}, domain.Invalid("buyer_invoice", domain.ErrInvalidInvoice)
	}

	var dispute *domain.Dispute
	if o.Status == domain.OrderStatusDispute {
		d, err := s.stores.Disputes.GetOpenByOrder(ctx, o.ID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return domain.Order{}, fmt.Errorf("order_service: release: %w", err)
		}
		if err == nil {
			dispute = &d
		}
	}

	if err := s.gateway.SettleHoldInvoice(ctx, o.Secret); err != nil {
		return domain.Order{}, fmt.Errorf("order_service: settle hold invoice: %w", err)
	}
	if err := s.transitions.Apply(ctx, &o, domain.EventRelease); err != nil {
		from, err := s.payouts.RecordSettled(ctx, &o, domain.EventRelease, err)
		if err != nil {
			return domain.Order{}, fmt.Errorf("order_service: release: %w", err)
		}
		if from == domain.OrderStatusDispute && dispute == nil {
			// A dispute was opened while the invoice was being settled.
			if d, err := s.stores.Disputes.GetOpenByOrder(ctx, o.ID); err == nil {
				dispute = &d
			}
		}
	}
	if dispute != nil {
		closeDispute(ctx, s.stores.Disputes, s.logger, *dispute, domain.DisputeReleased, "", s.now())
	}

	s.events.Publish(ctx, domain.Event{Type: domain.TopicOrderReleased, Order: &o, UserID: o.BuyerID})
	if err := s.payouts.PayBuyer(ctx, &o); err != nil {
		return o, err
	}
	return o, nil
}

// CooperativeCancel cancels an order. The creator withdraws an untaken order
// alone; once the order is taken both parties must ask, and the second
// request refunds the seller.
func (s *OrderService) CooperativeCancel(ctx context.Context, actor domain.User, orderID string) (domain.Order, error) {
	o, err := s.stores.Orders.GetByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order_service: cancel: %w", err)
	}

	switch o.Status {
	case domain.OrderStatusPending:
		if o.CreatorID != actor.ID {
			return domain.Order{}, domain.ErrNotParticipant
		}
		return s.cancel(ctx, o)

	case domain.OrderStatusWaitingPayment, domain.OrderStatusWaitingBuyerInvoice,
		domain.OrderStatusActive, domain.OrderStatusFiatSent:
		role := o.RoleOf(actor.ID)
		counterparty := o.SellerID
		switch role {
		case domain.RoleBuyer:
			if o.BuyerCooperativeCancel {
				return o, nil
			}
			o.BuyerCooperativeCancel = true
		case domain.RoleSeller:
			if o.SellerCooperativeCancel {
				return o, nil
			}
			o.SellerCooperativeCancel = true
			counterparty = o.BuyerID
		default:
			return domain.Order{}, domain.ErrNotParticipant
		}
		if o.BuyerCooperativeCancel && o.SellerCooperativeCancel {
			return s.cancel(ctx, o)
		}
		if err := s.transitions.Save(ctx, &o); err != nil {
			return domain.Order{}, fmt.Errorf("order_service: cancel: %w", err)
		}
		s.events.Publish(ctx, domain.Event{
			Type:   domain.TopicOrderCancelRequested,
			Order:  &o,
			UserID: counterparty,
			Data:   map[string]any{"requested_by": string(role)},
		})
		return o, nil

	default:
		return domain.Order{}, fmt.Errorf("order_service: cancel in %s: %w", o.Status, domain.ErrIllegalTransition)
	}
}

// cancel refunds the hold invoice, if any, and moves o to CANCELED.
func (s *OrderService) cancel(ctx context.Context, o domain.Order) (domain.Order, error) {
	if o.HasHoldInvoice() {
		if err := s.gateway.CancelHoldInvoice(ctx, o.Hash); err != nil {
			return domain.Order{}, fmt.Errorf("order_service: cancel hold invoice: %w", err)
		}
	}
	if err := s.transitions.Apply(ctx, &o, domain.EventCancel); err != nil {
		return domain.Order{}, fmt.Errorf("order_service: cancel: %w", err)
	}
	s.events.Publish(ctx, domain.Event{Type: domain.TopicOrderCanceled, Order: &o})
	return o, nil
}

// Dispute escalates an active trade to a solver.
func (s *OrderService) Dispute(ctx context.Context, actor domain.User, orderID string) (domain.Order, error) {
	if actor.Banned {
		return domain.Order{}, domain.ErrUserBanned
	}
	o, err := s.stores.Orders.GetByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order_service: dispute: %w", err)
	}
	role := o.RoleOf(actor.ID)
	if role == domain.RoleNone {
		return domain.Order{}, domain.ErrNotParticipant
	}
	if !domain.CanApply(o.Status, domain.EventDispute) {
		return domain.Order{}, fmt.Errorf("order_service: dispute in %s: %w", o.Status, domain.ErrIllegalTransition)
	}

	if role == domain.RoleBuyer {
		o.BuyerDispute = true
	} else {
		o.SellerDispute = true
	}
	o.BuyerDisputeToken = uuid.NewString()
	o.SellerDisputeToken = uuid.NewString()
	o.PreviousDisputeStatus = o.Status
	if err := s.transitions.Apply(ctx, &o, domain.EventDispute); err != nil {
		return domain.Order{}, fmt.Errorf("order_service: dispute: %w", err)
	}

	d := newDispute(o, s.now())
	d.Initiator = role
	if err := s.stores.Disputes.Create(ctx, d); err != nil {
		// The order is already in DISPUTE; solvers recreate the record when
		// they take or resolve it.
		s.logger.ErrorContext(ctx, "order_service: dispute record not created",
			slog.String("order_id", o.ID),
			slog.String("error", err.Error()),
		)
	}

	user, err := s.stores.Users.AddDispute(ctx, actor.ID, s.cfg.MaxDisputes)
	if err != nil {
		s.logger.WarnContext(ctx, "order_service: dispute counter not updated",
			slog.String("user_id", actor.ID),
			slog.String("error", err.Error()),
		)
	} else if user.Banned {
		s.logger.WarnContext(ctx, "order_service: user banned after too many disputes",
			slog.String("user_id", actor.ID),
			slog.Int("disputes", user.Disputes),
		)
	}

	s.events.Publish(ctx, domain.Event{
		Type:   domain.TopicOrderDispute,
		Order:  &o,
		UserID: actor.ID,
		Data:   map[string]any{"initiator": string(role), "dispute_id": d.ID},
	})
	if !s.hasSolvers(ctx, o.CommunityID) {
		s.events.Publish(ctx, domain.Event{
			Type:  domain.TopicDisputeAdminRouted,
			Order: &o,
			Data:  map[string]any{"dispute_id": d.ID},
		})
	}
	return o, nil
}

// newDispute builds the dispute record of an order that just entered
// DISPUTE. The initiator is taken from the dispute flags.
func newDispute(o domain.Order, now time.Time) domain.Dispute {
	initiator := domain.RoleSeller
	if o.BuyerDispute {
		initiator = domain.RoleBuyer
	}
	now = now.UTC()
	return domain.Dispute{
		ID:          uuid.NewString(),
		OrderID:     o.ID,
		CommunityID: o.CommunityID,
		Initiator:   initiator,
		SellerID:    o.SellerID,
		BuyerID:     o.BuyerID,
		Status:      domain.DisputeWaitingForSolver,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (s *OrderService) hasSolvers(ctx context.Context, communityID string) bool {
	if communityID == "" {
		return false
	}
	c, err := s.stores.Communities.GetByID(ctx, communityID)
	if err != nil {
		s.logger.WarnContext(ctx, "order_service: community lookup failed",
			slog.String("community_id", communityID),
			slog.String("error", err.Error()),
		)
		return false
	}
	return len(c.Solvers) > 0
}

func (s *OrderService) checkTrader(ctx context.Context, actor domain.User) error {
	if actor.Banned {
		return domain.ErrUserBanned
	}
	n, err := s.stores.Orders.CountBySeller(ctx, actor.ID, domain.OrderStatusFiatSent)
	if err != nil {
		return fmt.Errorf("order_service: pending releases: %w", err)
	}
	if n > 0 {
		return domain.ErrBlockedByPendingRelease
	}
	return nil
}

func (s *OrderService) validateParams(p domain.CreateOrderParams) error {
	if !p.Type.Valid() {
		return domain.Invalid("type", domain.ErrInvalidOrder)
	}
	if p.Amount < 0 || (s.cfg.MaxAmount > 0 && p.Amount > s.cfg.MaxAmount) {
		return domain.Invalid("amount", domain.ErrInvalidAmount)
	}
	if p.MinAmount != 0 || p.MaxAmount != 0 {
		if p.MinAmount <= 0 || p.MaxAmount <= p.MinAmount {
			return domain.Invalid("fiat_amount", domain.ErrInvalidAmount)
		}
		// A range is always priced at take time.
		if p.Amount != 0 {
			return domain.Invalid("amount", domain.ErrInvalidAmount)
		}
	} else if p.FiatAmount <= 0 {
		return domain.Invalid("fiat_amount", domain.ErrInvalidAmount)
	}
	if !validFiatCode(p.FiatCode) {
		return domain.Invalid("fiat_code", domain.ErrInvalidCurrency)
	}
	if len(s.cfg.Currencies) > 0 && !slices.Contains(s.cfg.Currencies, p.FiatCode) {
		return domain.Invalid("fiat_code", domain.ErrInvalidCurrency)
	}
	if p.PaymentMethod == "" {
		return domain.Invalid("payment_method", domain.ErrInvalidOrder)
	}
	return nil
}

func validFiatCode(code string) bool {
	if len(code) < 3 || len(code) > 5 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

func (s *OrderService) rate(ctx context.Context, fiatCode string) (float64, error) {
	if s.rates == nil {
		return 0, domain.ErrRateUnavailable
	}
	r, err := s.rates.Rate(ctx, fiatCode)
	if err != nil {
		return 0, fmt.Errorf("order_service: rate %s: %w: %v", fiatCode, domain.ErrRateUnavailable, err)
	}
	if r <= 0 {
		return 0, domain.ErrRateUnavailable
	}
	return r, nil
}

// priceAtMarket fixes the sat amount and fee of a market-priced order.
func (s *OrderService) priceAtMarket(ctx context.Context, o *domain.Order) error {
	r, err := s.rate(ctx, o.FiatCode)
	if err != nil {
		return err
	}
	amount, err := fee.SatsForFiat(o.FiatAmount, r, o.PriceMargin)
	if err != nil {
		return err
	}
	if amount <= 0 || (s.cfg.MaxAmount > 0 && amount > s.cfg.MaxAmount) {
		return domain.Invalid("amount", domain.ErrInvalidAmount)
	}

	var community *domain.Community
	if o.CommunityID != "" {
		c, err := s.stores.Communities.GetByID(ctx, o.CommunityID)
		if err != nil {
			return fmt.Errorf("order_service: community %s: %w", o.CommunityID, err)
		}
		community = &c
	}
	o.Amount = amount
	o.Fee = fee.ForOrder(*o, community)
	o.Description = describe(*o)
	return nil
}

// holdInvoiceFunded reports whether a sell order's hold invoice was paid
// before the order was taken.
func (s *OrderService) holdInvoiceFunded(ctx context.Context, o *domain.Order) (bool, error) {
	if o.Type != domain.OrderTypeSell || !o.HasHoldInvoice() {
		return false, nil
	}
	if o.InvoiceHeldAt != nil {
		return true, nil
	}
	inv, err := s.gateway.GetInvoice(ctx, o.Hash)
	if err != nil {
		return false, fmt.Errorf("order_service: lookup hold invoice: %w", err)
	}
	if inv.State != domain.InvoiceAccepted {
		return false, nil
	}
	heldAt := s.now().UTC()
	o.InvoiceHeldAt = &heldAt
	return true, nil
}

func (s *OrderService) attachHoldInvoice(ctx context.Context, o *domain.Order) error {
	inv, err := s.gateway.CreateHoldInvoice(ctx, o.SellerAmount(), o.Description)
	if err != nil {
		return fmt.Errorf("order_service: create hold invoice: %w", err)
	}
	o.Hash = inv.Hash
	o.Secret = inv.Secret
	o.HoldInvoice = inv.Request
	return nil
}

func (s *OrderService) cancelInvoiceQuietly(ctx context.Context, o domain.Order) {
	if err := s.gateway.CancelHoldInvoice(ctx, o.Hash); err != nil {
		s.logger.WarnContext(ctx, "order_service: orphan hold invoice not canceled",
			slog.String("order_id", o.ID),
			slog.String("hash", o.Hash),
			slog.String("error", err.Error()),
		)
	}
}

func describe(o domain.Order) string {
	amount := "market price"
	if o.Amount > 0 {
		amount = fee.Format(o.Amount)
	}
	fiat := fmt.Sprintf("%d %s", o.FiatAmount, o.FiatCode)
	if o.IsRangeOrder() && o.FiatAmount == 0 {
		fiat = fmt.Sprintf("%d-%d %s", o.MinAmount, o.MaxAmount, o.FiatCode)
	}
	verb := "Selling"
	if o.Type == domain.OrderTypeBuy {
		verb = "Buying"
	}
	return fmt.Sprintf("%s %s for %s via %s", verb, amount, fiat, o.PaymentMethod)
}

// validateInvoice checks a payout invoice: it must decode, must not be
// expired and must be either amountless or for exactly amount sats.
func validateInvoice(ctx context.Context, gw domain.Gateway, now time.Time, request string, amount int64) error {
	if request == "" {
		return domain.Invalid("invoice", domain.ErrInvalidInvoice)
	}
	d, err := gw.DecodeInvoice(ctx, request)
	if err != nil {
		if domain.IsRetriable(err) {
			return fmt.Errorf("decode invoice: %w", err)
		}
		return domain.Invalid("invoice", domain.ErrInvalidInvoice)
	}
	if d.Expired(now) {
		return domain.Invalid("invoice", domain.ErrInvoiceExpired)
	}
	if d.Amount != 0 && d.Amount != amount {
		return domain.Invalid("invoice", domain.ErrInvalidAmount)
	}
	return nil
}

// closeDispute moves an open dispute to a final status, logging instead of
// failing since the order outcome has already been committed.
func closeDispute(ctx context.Context, disputes domain.DisputeStore, logger *slog.Logger, d domain.Dispute, status domain.DisputeStatus, solverID string, now time.Time) {
	expected := d.Status
	d.Status = status
	if d.SolverID == "" {
		d.SolverID = solverID
	}
	d.UpdatedAt = now.UTC()
	if err := disputes.Update(ctx, d, expected); err != nil {
		logger.WarnContext(ctx, "dispute status not updated",
			slog.String("dispute_id", d.ID),
			slog.String("order_id", d.OrderID),
			slog.String("error", err.Error()),
		)
	}
}
