package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lnp2pbot/escrowd/internal/domain"
)

// DisputeEngine is the part of dispute handling the API drives.
type DisputeEngine interface {
	TakeDispute(ctx context.Context, solver domain.User, orderID string) (domain.Dispute, error)
	ResolveDispute(ctx context.Context, solver domain.User, orderID string, outcome domain.DisputeOutcome) (domain.Order, error)
}

// DisputeHandler serves solver commands.
type DisputeHandler struct {
	engine DisputeEngine
	logger *slog.Logger
}

// NewDisputeHandler creates a DisputeHandler.
func NewDisputeHandler(engine DisputeEngine, logger *slog.Logger) *DisputeHandler {
	return &DisputeHandler{
		engine: engine,
		logger: logHandler(logger, "dispute"),
	}
}

type disputeView struct {
	ID          string    `json:"id"`
	OrderID     string    `json:"order_id"`
	CommunityID string    `json:"community_id,omitempty"`
	Initiator   string    `json:"initiator"`
	SellerID    string    `json:"seller_id"`
	BuyerID     string    `json:"buyer_id"`
	Status      string    `json:"status"`
	SolverID    string    `json:"solver_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func newDisputeView(d domain.Dispute) disputeView {
	return disputeView{
		ID:          d.ID,
		OrderID:     d.OrderID,
		CommunityID: d.CommunityID,
		Initiator:   string(d.Initiator),
		SellerID:    d.SellerID,
		BuyerID:     d.BuyerID,
		Status:      string(d.Status),
		SolverID:    d.SolverID,
		CreatedAt:   d.CreatedAt,
	}
}

// TakeDispute assigns the caller as solver.
// POST /api/disputes/{order_id}/take
func (h *DisputeHandler) TakeDispute(w http.ResponseWriter, r *http.Request) {
	user, ok := actor(w, r)
	if !ok {
		return
	}
	d, err := h.engine.TakeDispute(r.Context(), user, pathParam(r, "order_id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newDisputeView(d))
}

type resolveRequest struct {
	Outcome string `json:"outcome"`
}

// ResolveDispute applies the solver's decision: settle, refund or release.
// POST /api/disputes/{order_id}/resolve
func (h *DisputeHandler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	user, ok := actor(w, r)
	if !ok {
		return
	}
	var req resolveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	outcome := domain.DisputeOutcome(strings.ToLower(strings.TrimSpace(req.Outcome)))
	switch outcome {
	case domain.OutcomeSettle, domain.OutcomeRefund, domain.OutcomeRelease:
	default:
		writeError(w, http.StatusBadRequest, "outcome must be settle, refund or release")
		return
	}
	o, err := h.engine.ResolveDispute(r.Context(), user, pathParam(r, "order_id"), outcome)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderView(o))
}
