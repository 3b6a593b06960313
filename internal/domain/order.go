package domain

import "time"

// OrderType is the side the creator of an order is on.
type OrderType string

const (
	OrderTypeSell OrderType = "sell"
	OrderTypeBuy  OrderType = "buy"
)

// Valid reports whether t is a known order type.
func (t OrderType) Valid() bool {
	return t == OrderTypeSell || t == OrderTypeBuy
}

// OrderStatus tracks the trade lifecycle.
type OrderStatus string

const (
	OrderStatusPending             OrderStatus = "PENDING"
	OrderStatusWaitingPayment      OrderStatus = "WAITING_PAYMENT"
	OrderStatusWaitingBuyerInvoice OrderStatus = "WAITING_BUYER_INVOICE"
	OrderStatusActive              OrderStatus = "ACTIVE"
	OrderStatusFiatSent            OrderStatus = "FIAT_SENT"
	OrderStatusDispute             OrderStatus = "DISPUTE"
	OrderStatusPaidHoldInvoice     OrderStatus = "PAID_HOLD_INVOICE"
	OrderStatusSuccess             OrderStatus = "SUCCESS"
	OrderStatusCanceled            OrderStatus = "CANCELED"
	OrderStatusCanceledByAdmin     OrderStatus = "CANCELED_BY_ADMIN"
	OrderStatusExpired             OrderStatus = "EXPIRED"
	OrderStatusCompletedByAdmin    OrderStatus = "COMPLETED_BY_ADMIN"
	OrderStatusFrozen              OrderStatus = "FROZEN"
	OrderStatusClosed              OrderStatus = "CLOSED"
)

// Order is the trade aggregate. Seller and buyer are only both known once the
// order has been taken; Hash and Secret are set iff a hold invoice exists.
type Order struct {
	ID            string
	Type          OrderType
	Description   string
	CreatorID     string
	SellerID      string
	BuyerID       string
	CommunityID   string
	Amount        int64 // sats; 0 means priced from the market rate at take time
	FiatAmount    int64
	MinAmount     int64
	MaxAmount     int64
	FiatCode      string
	PaymentMethod string
	PriceMargin   float64
	PriceFromAPI  bool

	// Accounting. BotFee and CommunityFee are rate snapshots taken at
	// creation: BotFee is the bot fee rate applied to Amount, CommunityFee is
	// the share of that fee kept by the bot when a community is involved.
	Fee                 int64
	BotFee              float64
	CommunityFee        float64
	RoutingFee          int64
	IsGoldenHoneyBadger bool

	// Escrow linkage.
	Hash         string
	Secret       string
	HoldInvoice  string
	BuyerInvoice string

	Status OrderStatus

	BuyerDispute          bool
	SellerDispute         bool
	BuyerDisputeToken     string
	SellerDisputeToken    string
	PreviousDisputeStatus OrderStatus

	BuyerCooperativeCancel  bool
	SellerCooperativeCancel bool

	CreatedAt     time.Time
	TakenAt       *time.Time
	InvoiceHeldAt *time.Time

	Calculated                  bool
	AdminWarned                 bool
	PaidHoldBuyerInvoiceUpdated bool
}

// Role is the part a user plays in an order.
type Role string

const (
	RoleNone   Role = ""
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// RoleOf returns the role userID plays in the order, or RoleNone.
func (o Order) RoleOf(userID string) Role {
	switch {
	case userID == "":
		return RoleNone
	case userID == o.BuyerID:
		return RoleBuyer
	case userID == o.SellerID:
		return RoleSeller
	default:
		return RoleNone
	}
}

// HasHoldInvoice reports whether an escrow invoice is linked to the order.
func (o Order) HasHoldInvoice() bool {
	return o.Hash != ""
}

// IsRangeOrder reports whether the fiat amount is expressed as a range.
func (o Order) IsRangeOrder() bool {
	return o.MinAmount > 0 && o.MaxAmount > 0
}

// SellerAmount is what the seller locks in the hold invoice.
func (o Order) SellerAmount() int64 {
	return o.Amount + o.Fee
}

// CreateOrderParams carries validated front-end input for a new order.
type CreateOrderParams struct {
	Type          OrderType
	Amount        int64
	FiatAmount    int64
	MinAmount     int64
	MaxAmount     int64
	FiatCode      string
	PaymentMethod string
	PriceMargin   float64
	CommunityID   string
	BuyerInvoice  string
}
