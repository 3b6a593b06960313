package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lnp2pbot/escrowd/internal/domain"
	"github.com/lnp2pbot/escrowd/internal/fee"
)

const rollupBatch = 200

// EarningsRollup credits each completed community order's fee share to the
// community exactly once.
type EarningsRollup struct {
	stores domain.Stores
	logger *slog.Logger
}

// NewEarningsRollup creates an EarningsRollup.
func NewEarningsRollup(stores domain.Stores, logger *slog.Logger) *EarningsRollup {
	return &EarningsRollup{
		stores: stores,
		logger: logger.With(slog.String("component", "earnings_rollup")),
	}
}

// Run credits one batch of uncalculated orders.
func (e *EarningsRollup) Run(ctx context.Context) error {
	orders, err := e.stores.Orders.ListUncalculated(ctx, rollupBatch)
	if err != nil {
		return fmt.Errorf("earnings: list uncalculated: %w", err)
	}

	var credited int64
	applied := 0
	for _, o := range orders {
		if _, err := e.stores.Communities.GetByID(ctx, o.CommunityID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				err = fmt.Errorf("%w: order %s references missing community %s", domain.ErrAccountingInvariant, o.ID, o.CommunityID)
			}
			e.logger.ErrorContext(ctx, "earnings: order skipped",
				slog.String("order_id", o.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		share := fee.Split(o).CommunityFee
		ok, err := e.stores.Communities.CreditOrderEarnings(ctx, o.ID, o.CommunityID, share)
		if err != nil {
			e.logger.ErrorContext(ctx, "earnings: credit failed",
				slog.String("order_id", o.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if ok {
			applied++
			credited += share
		}
	}

	if applied > 0 {
		e.logger.InfoContext(ctx, "earnings: rollup complete",
			slog.Int("orders", applied),
			slog.Int64("credited", credited),
		)
	}
	return nil
}
