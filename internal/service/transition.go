// Package service implements the order lifecycle engine: order creation and
// taking, escrow funding, release and payout, cooperative cancellation,
// disputes and reputation.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lnp2pbot/escrowd/internal/domain"
)

// EngineConfig is the immutable policy the engine runs with. It is built once
// at startup and never read from the environment afterwards.
type EngineConfig struct {
	BotFee                       float64
	FeeSplit                     float64
	GoldenHoneyBadgerProbability int
	MaxAmount                    int64
	Currencies                   []string
	MaxDisputes                  int
	ReputationWindow             time.Duration
	// MaxAttempts bounds the payout retries; a payout below it is still live.
	MaxAttempts int
}

// Transitioner applies state machine events to orders and persists them with
// a status precondition. It is shared by the services and the jobs.
type Transitioner struct {
	orders domain.OrderStore
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewTransitioner creates a Transitioner.
func NewTransitioner(orders domain.OrderStore, audit domain.AuditStore, logger *slog.Logger) *Transitioner {
	return &Transitioner{
		orders: orders,
		audit:  audit,
		logger: logger.With(slog.String("component", "transitioner")),
	}
}

// Apply moves o through ev and saves it, guarded on the status o was loaded
// with. On failure o is left unchanged.
func (t *Transitioner) Apply(ctx context.Context, o *domain.Order, ev domain.OrderEvent) error {
	next, err := domain.Transition(*o, ev)
	if err != nil {
		return err
	}
	prev := o.Status
	o.Status = next
	if err := t.orders.Update(ctx, *o, prev); err != nil {
		o.Status = prev
		return fmt.Errorf("transition %s on order %s: %w", ev, o.ID, err)
	}

	t.logger.InfoContext(ctx, "order transitioned",
		slog.String("order_id", o.ID),
		slog.String("event", string(ev)),
		slog.String("from", string(prev)),
		slog.String("to", string(next)),
	)
	if t.audit != nil {
		if err := t.audit.Log(ctx, "order_"+string(ev), map[string]any{
			"order_id": o.ID,
			"from":     string(prev),
			"to":       string(next),
		}); err != nil {
			t.logger.WarnContext(ctx, "audit log failed",
				slog.String("order_id", o.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// Save persists field changes that do not move the order to another status.
func (t *Transitioner) Save(ctx context.Context, o *domain.Order) error {
	if err := t.orders.Update(ctx, *o, o.Status); err != nil {
		return fmt.Errorf("save order %s: %w", o.ID, err)
	}
	return nil
}
