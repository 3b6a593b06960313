package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lnp2pbot/escrowd/internal/domain"
)

// FundingHandler is told when a seller's hold invoice has been paid.
type FundingHandler interface {
	OnHoldInvoiceAccepted(ctx context.Context, orderID string) (domain.Order, error)
}

// InvoiceWatcher polls the node for hold invoices the seller has paid.
type InvoiceWatcher struct {
	orders  domain.OrderStore
	gateway domain.Gateway
	handler FundingHandler
	logger  *slog.Logger
}

// NewInvoiceWatcher creates an InvoiceWatcher.
func NewInvoiceWatcher(orders domain.OrderStore, gateway domain.Gateway, handler FundingHandler, logger *slog.Logger) *InvoiceWatcher {
	return &InvoiceWatcher{
		orders:  orders,
		gateway: gateway,
		handler: handler,
		logger:  logger.With(slog.String("component", "invoice_watcher")),
	}
}

// Run checks every order still waiting for the seller's payment.
func (w *InvoiceWatcher) Run(ctx context.Context) error {
	orders, err := w.orders.ListByStatus(ctx, []domain.OrderStatus{
		domain.OrderStatusWaitingPayment,
		domain.OrderStatusPending,
	}, domain.ListOpts{})
	if err != nil {
		return fmt.Errorf("invoice watcher: list orders: %w", err)
	}

	for _, o := range orders {
		if !o.HasHoldInvoice() || o.InvoiceHeldAt != nil {
			continue
		}
		inv, err := w.gateway.GetInvoice(ctx, o.Hash)
		if err != nil {
			w.logger.WarnContext(ctx, "invoice watcher: lookup failed",
				slog.String("order_id", o.ID),
				slog.String("error", err.Error()),
			)
			if domain.IsRetriable(err) {
				// The node is down; the rest would fail the same way.
				return nil
			}
			continue
		}
		if inv.State != domain.InvoiceAccepted {
			continue
		}
		if _, err := w.handler.OnHoldInvoiceAccepted(ctx, o.ID); err != nil {
			w.logger.WarnContext(ctx, "invoice watcher: funding not recorded",
				slog.String("order_id", o.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}
