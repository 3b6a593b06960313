package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lnp2pbot/escrowd/internal/domain"
)

// Reputation credits completed trades to both parties, unless the pair looks
// like it is trading back and forth to inflate its numbers.
type Reputation struct {
	orders domain.OrderStore
	users  domain.UserStore
	window time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewReputation creates a Reputation. window defaults to 24h.
func NewReputation(orders domain.OrderStore, users domain.UserStore, window time.Duration, logger *slog.Logger) *Reputation {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &Reputation{
		orders: orders,
		users:  users,
		window: window,
		logger: logger.With(slog.String("component", "reputation")),
		now:    time.Now,
	}
}

// HandleReputationItems updates trades_completed and volume_traded for a
// finished trade of amount sats. When the same two users completed trades
// with the roles reversed inside the window, both are decremented instead:
// by every matching trade and its volume when amount exceeds the most recent
// match, otherwise by one trade and amount. Counters never go below zero.
//
// Wash trades routed through a third account are not detected.
func (r *Reputation) HandleReputationItems(ctx context.Context, buyerID, sellerID string, amount int64) error {
	since := r.now().Add(-r.window)
	reversed, err := r.orders.ListCompletedBetween(ctx, sellerID, buyerID, since)
	if err != nil {
		return fmt.Errorf("reputation: list reversed orders: %w", err)
	}

	trades, volume := 1, amount
	if len(reversed) > 0 {
		var total int64
		for _, o := range reversed {
			total += o.Amount
		}
		latest := reversed[0]
		if amount > latest.Amount {
			trades, volume = -len(reversed), -total
		} else {
			trades, volume = -1, -amount
		}
		r.logger.WarnContext(ctx, "circular trade pattern detected",
			slog.String("buyer_id", buyerID),
			slog.String("seller_id", sellerID),
			slog.Int("matches", len(reversed)),
			slog.Int64("amount", amount),
		)
	}

	for _, id := range []string{buyerID, sellerID} {
		if err := r.users.AdjustReputation(ctx, id, trades, volume); err != nil {
			return fmt.Errorf("reputation: adjust %s: %w", id, err)
		}
	}
	return nil
}
