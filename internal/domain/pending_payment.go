package domain

import "time"

// PendingPayment is a payout that still has to be made, either to the buyer
// of an order (OrderID set) or to a community withdrawing its earnings
// (CommunityID set). It is resolved by Paid or IsInvoiceExpired and never
// deleted while unresolved.
type PendingPayment struct {
	ID               string
	OrderID          string
	CommunityID      string
	UserID           string
	Description      string
	Amount           int64
	PaymentRequest   string
	Hash             string
	Attempts         int
	Paid             bool
	IsInvoiceExpired bool
	PaidAt           *time.Time
	CreatedAt        time.Time
}

// Resolved reports whether the payment needs no further attempts.
func (p PendingPayment) Resolved() bool {
	return p.Paid || p.IsInvoiceExpired
}

// Retriable reports whether the payment should be attempted again.
func (p PendingPayment) Retriable(maxAttempts int) bool {
	return !p.Resolved() && p.Attempts < maxAttempts
}
