package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lnp2pbot/escrowd/internal/domain"
)

// OrderEngine is the part of the order lifecycle the API drives.
type OrderEngine interface {
	GetOrder(ctx context.Context, actor domain.User, orderID string) (domain.Order, error)
	CreateOrder(ctx context.Context, actor domain.User, p domain.CreateOrderParams) (domain.Order, error)
	TakeOrder(ctx context.Context, actor domain.User, orderID string, kind domain.OrderType, fiatAmount int64) (domain.Order, error)
	AddBuyerInvoice(ctx context.Context, actor domain.User, orderID, request string) (domain.Order, error)
	MarkFiatSent(ctx context.Context, actor domain.User, orderID string) (domain.Order, error)
	Release(ctx context.Context, actor domain.User, orderID string) (domain.Order, error)
	CooperativeCancel(ctx context.Context, actor domain.User, orderID string) (domain.Order, error)
	Dispute(ctx context.Context, actor domain.User, orderID string) (domain.Order, error)
}

// OrderHandler serves order lifecycle commands.
type OrderHandler struct {
	engine OrderEngine
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler.
func NewOrderHandler(engine OrderEngine, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		engine: engine,
		logger: logHandler(logger, "order"),
	}
}

// orderView is the wire form of an order. The preimage and dispute tokens
// never leave the engine.
type orderView struct {
	ID            string     `json:"id"`
	Type          string     `json:"type"`
	Status        string     `json:"status"`
	Description   string     `json:"description,omitempty"`
	CreatorID     string     `json:"creator_id"`
	SellerID      string     `json:"seller_id,omitempty"`
	BuyerID       string     `json:"buyer_id,omitempty"`
	CommunityID   string     `json:"community_id,omitempty"`
	Amount        int64      `json:"amount"`
	Fee           int64      `json:"fee"`
	FiatAmount    int64      `json:"fiat_amount"`
	MinAmount     int64      `json:"min_amount,omitempty"`
	MaxAmount     int64      `json:"max_amount,omitempty"`
	FiatCode      string     `json:"fiat_code"`
	PaymentMethod string     `json:"payment_method"`
	PriceMargin   float64    `json:"price_margin,omitempty"`
	PriceFromAPI  bool       `json:"price_from_api"`
	Hash          string     `json:"hash,omitempty"`
	HoldInvoice   string     `json:"hold_invoice,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	TakenAt       *time.Time `json:"taken_at,omitempty"`
}

func newOrderView(o domain.Order) orderView {
	return orderView{
		ID:            o.ID,
		Type:          string(o.Type),
		Status:        string(o.Status),
		Description:   o.Description,
		CreatorID:     o.CreatorID,
		SellerID:      o.SellerID,
		BuyerID:       o.BuyerID,
		CommunityID:   o.CommunityID,
		Amount:        o.Amount,
		Fee:           o.Fee,
		FiatAmount:    o.FiatAmount,
		MinAmount:     o.MinAmount,
		MaxAmount:     o.MaxAmount,
		FiatCode:      o.FiatCode,
		PaymentMethod: o.PaymentMethod,
		PriceMargin:   o.PriceMargin,
		PriceFromAPI:  o.PriceFromAPI,
		Hash:          o.Hash,
		HoldInvoice:   o.HoldInvoice,
		CreatedAt:     o.CreatedAt,
		TakenAt:       o.TakenAt,
	}
}

type createOrderRequest struct {
	Type          string  `json:"type"`
	Amount        int64   `json:"amount"`
	FiatAmount    int64   `json:"fiat_amount"`
	MinAmount     int64   `json:"min_amount"`
	MaxAmount     int64   `json:"max_amount"`
	FiatCode      string  `json:"fiat_code"`
	PaymentMethod string  `json:"payment_method"`
	PriceMargin   float64 `json:"price_margin"`
	CommunityID   string  `json:"community_id"`
	BuyerInvoice  string  `json:"buyer_invoice"`
}

// CreateOrder publishes a new order.
// POST /api/orders
func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	user, ok := actor(w, r)
	if !ok {
		return
	}
	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	o, err := h.engine.CreateOrder(r.Context(), user, domain.CreateOrderParams{
		Type:          domain.OrderType(strings.ToLower(req.Type)),
		Amount:        req.Amount,
		FiatAmount:    req.FiatAmount,
		MinAmount:     req.MinAmount,
		MaxAmount:     req.MaxAmount,
		FiatCode:      req.FiatCode,
		PaymentMethod: req.PaymentMethod,
		PriceMargin:   req.PriceMargin,
		CommunityID:   req.CommunityID,
		BuyerInvoice:  req.BuyerInvoice,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, newOrderView(o))
}

// GetOrder returns one order.
// GET /api/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	user, ok := actor(w, r)
	if !ok {
		return
	}
	o, err := h.engine.GetOrder(r.Context(), user, pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderView(o))
}

type takeOrderRequest struct {
	Type       string `json:"type"`
	FiatAmount int64  `json:"fiat_amount"`
}

// TakeOrder assigns the caller as counterparty.
// POST /api/orders/{id}/take
func (h *OrderHandler) TakeOrder(w http.ResponseWriter, r *http.Request) {
	user, ok := actor(w, r)
	if !ok {
		return
	}
	var req takeOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	o, err := h.engine.TakeOrder(r.Context(), user, pathParam(r, "id"),
		domain.OrderType(strings.ToLower(req.Type)), req.FiatAmount)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderView(o))
}

type invoiceRequest struct {
	Invoice string `json:"invoice"`
}

// AddInvoice attaches the buyer's payout invoice.
// POST /api/orders/{id}/invoice
func (h *OrderHandler) AddInvoice(w http.ResponseWriter, r *http.Request) {
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
	o, err := h.engine.AddBuyerInvoice(r.Context(), user, pathParam(r, "id"), strings.TrimSpace(req.Invoice))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderView(o))
}

// FiatSent records that the buyer sent the fiat payment.
// POST /api/orders/{id}/fiat-sent
func (h *OrderHandler) FiatSent(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.engine.MarkFiatSent)
}

// Release settles the hold invoice.
// POST /api/orders/{id}/release
func (h *OrderHandler) Release(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.engine.Release)
}

// Cancel requests cancellation, unilateral or cooperative depending on the
// order status.
// POST /api/orders/{id}/cancel
func (h *OrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.engine.CooperativeCancel)
}

// Dispute opens a dispute.
// POST /api/orders/{id}/dispute
func (h *OrderHandler) Dispute(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.engine.Dispute)
}

func (h *OrderHandler) command(w http.ResponseWriter, r *http.Request,
	fn func(context.Context, domain.User, string) (domain.Order, error)) {
	user, ok := actor(w, r)
	if !ok {
		return
	}
	o, err := fn(r.Context(), user, pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderView(o))
}
