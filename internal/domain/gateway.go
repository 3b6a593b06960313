package domain

import (
	"context"
	"errors"
	"time"
)

// ErrPaymentFailed is returned when the node gave up on a payment.
var ErrPaymentFailed = errors.New("payment failed")

// HoldInvoice is an escrow invoice created for the seller to pay.
type HoldInvoice struct {
	Request   string
	Hash      string
	Secret    string
	Amount    int64
	ExpiresAt time.Time
}

// Payment is the result of paying a regular invoice. A nil ConfirmedAt means
// the payment did not complete within the call.
type Payment struct {
	Hash        string
	ConfirmedAt *time.Time
	Fee         int64
	IsExpired   bool
}

// Confirmed reports whether the node confirmed the payment.
func (p Payment) Confirmed() bool {
	return p.ConfirmedAt != nil
}

// InvoiceState mirrors the node's view of an invoice.
type InvoiceState string

const (
	InvoiceOpen     InvoiceState = "OPEN"
	InvoiceAccepted InvoiceState = "ACCEPTED"
	InvoiceSettled  InvoiceState = "SETTLED"
	InvoiceCanceled InvoiceState = "CANCELED"
)

// Invoice is a lookup result for one of our own invoices.
type Invoice struct {
	Hash   string
	State  InvoiceState
	Amount int64
}

// DecodedInvoice is a parsed payment request.
type DecodedInvoice struct {
	Hash        string
	Destination string
	Description string
	Amount      int64
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the invoice can no longer be paid at now.
func (d DecodedInvoice) Expired(now time.Time) bool {
	return !d.ExpiresAt.IsZero() && !now.Before(d.ExpiresAt)
}

// NodeInfo is a snapshot of the Lightning node state.
type NodeInfo struct {
	Alias          string    `json:"alias"`
	PubKey         string    `json:"pub_key"`
	BlockHeight    uint32    `json:"block_height"`
	SyncedToChain  bool      `json:"synced_to_chain"`
	ActiveChannels int       `json:"active_channels"`
	CheckedAt      time.Time `json:"checked_at"`
}

// Gateway is the escrow payment network. Implementations return a
// *GatewayError for node failures.
type Gateway interface {
	CreateHoldInvoice(ctx context.Context, amount int64, description string) (HoldInvoice, error)
	SettleHoldInvoice(ctx context.Context, secret string) error
	CancelHoldInvoice(ctx context.Context, hash string) error
	GetInvoice(ctx context.Context, hash string) (Invoice, error)
	// PayInvoice pays request. amount is only used for zero-amount invoices.
	PayInvoice(ctx context.Context, request string, amount int64) (Payment, error)
	IsPaymentPending(ctx context.Context, request string) (bool, error)
	// LookupPayment returns the completed outgoing payment for request, or a
	// zero Payment when the node never paid it.
	LookupPayment(ctx context.Context, request string) (Payment, error)
	DecodeInvoice(ctx context.Context, request string) (DecodedInvoice, error)
	NodeInfo(ctx context.Context) (NodeInfo, error)
}

// RatesProvider returns the fiat price of one bitcoin.
type RatesProvider interface {
	Rate(ctx context.Context, fiatCode string) (float64, error)
}
