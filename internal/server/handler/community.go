package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/lnp2pbot/escrowd/internal/domain"
)

// EarningsWithdrawer queues community earnings payouts.
type EarningsWithdrawer interface {
	WithdrawEarnings(ctx context.Context, actor domain.User, communityID, request string) (domain.PendingPayment, error)
}

// CommunityHandler serves community commands.
type CommunityHandler struct {
	communities EarningsWithdrawer
	logger      *slog.Logger
}

// NewCommunityHandler creates a CommunityHandler.
func NewCommunityHandler(communities EarningsWithdrawer, logger *slog.Logger) *CommunityHandler {
	return &CommunityHandler{
		communities: communities,
		logger:      logHandler(logger, "community"),
	}
}

// Withdraw queues a payout of the community's earnings to the given invoice.
// POST /api/communities/{id}/withdraw
func (h *CommunityHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	user, ok := actor(w, r)
	if !ok {
		return
	}
	var req invoiceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Invoice) == "" {
		writeError(w, http.StatusBadRequest, "invoice is required")
		return
	}
	pp, err := h.communities.WithdrawEarnings(r.Context(), user, pathParam(r, "id"), strings.TrimSpace(req.Invoice))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"pending_payment_id": pp.ID,
		"community_id":       pp.CommunityID,
		"amount":             pp.Amount,
	})
}
