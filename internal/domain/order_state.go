package domain

import "fmt"

// OrderEvent is an input to the order state machine.
type OrderEvent string

const (
	EventTakeUnfunded     OrderEvent = "take_unfunded"
	EventTakeFunded       OrderEvent = "take_funded"
	EventFunded           OrderEvent = "funded"
	EventFundedWithPayout OrderEvent = "funded_with_payout"
	EventPayoutInvoiceSet OrderEvent = "payout_invoice_set"
	EventFiatSent         OrderEvent = "fiat_sent"
	EventRelease          OrderEvent = "release"
	EventPayoutConfirmed  OrderEvent = "payout_confirmed"
	EventCancel           OrderEvent = "cancel"
	EventTimeout          OrderEvent = "timeout"
	EventExpire           OrderEvent = "expire"
	EventDispute          OrderEvent = "dispute"
	EventAdminSettle      OrderEvent = "admin_settle"
	EventAdminCancel      OrderEvent = "admin_cancel"
	EventDisputeRelease   OrderEvent = "dispute_release"
)

// restoreStatus marks a transition whose target is the order's
// PreviousDisputeStatus.
const restoreStatus OrderStatus = "<restore>"

type transitionKey struct {
	from  OrderStatus
	event OrderEvent
}

// transitions is the complete order state machine. Any pair not listed is
// illegal.
var transitions = map[transitionKey]OrderStatus{
	{OrderStatusPending, EventTakeUnfunded}: OrderStatusWaitingPayment,
	{OrderStatusPending, EventTakeFunded}:   OrderStatusWaitingBuyerInvoice,
	{OrderStatusPending, EventCancel}:       OrderStatusCanceled,

	{OrderStatusWaitingPayment, EventFunded}:           OrderStatusWaitingBuyerInvoice,
	{OrderStatusWaitingPayment, EventFundedWithPayout}: OrderStatusActive,
	{OrderStatusWaitingPayment, EventCancel}:           OrderStatusCanceled,
	{OrderStatusWaitingPayment, EventTimeout}:          OrderStatusCanceled,

	{OrderStatusWaitingBuyerInvoice, EventPayoutInvoiceSet}: OrderStatusActive,
	{OrderStatusWaitingBuyerInvoice, EventCancel}:           OrderStatusCanceled,
	{OrderStatusWaitingBuyerInvoice, EventTimeout}:          OrderStatusCanceled,

	{OrderStatusActive, EventFiatSent}: OrderStatusFiatSent,
	{OrderStatusActive, EventRelease}:  OrderStatusPaidHoldInvoice,
	{OrderStatusActive, EventCancel}:   OrderStatusCanceled,
	{OrderStatusActive, EventDispute}:  OrderStatusDispute,
	{OrderStatusActive, EventExpire}:   OrderStatusExpired,

	{OrderStatusFiatSent, EventRelease}: OrderStatusPaidHoldInvoice,
	{OrderStatusFiatSent, EventCancel}:  OrderStatusCanceled,
	{OrderStatusFiatSent, EventDispute}: OrderStatusDispute,
	{OrderStatusFiatSent, EventExpire}:  OrderStatusExpired,

	{OrderStatusDispute, EventRelease}:        OrderStatusPaidHoldInvoice,
	{OrderStatusDispute, EventAdminSettle}:    OrderStatusCompletedByAdmin,
	{OrderStatusDispute, EventAdminCancel}:    OrderStatusCanceledByAdmin,
	{OrderStatusDispute, EventDisputeRelease}: restoreStatus,

	{OrderStatusExpired, EventAdminSettle}: OrderStatusCompletedByAdmin,
	{OrderStatusExpired, EventAdminCancel}: OrderStatusCanceledByAdmin,

	{OrderStatusPaidHoldInvoice, EventPayoutConfirmed}:  OrderStatusSuccess,
	{OrderStatusCompletedByAdmin, EventPayoutConfirmed}: OrderStatusSuccess,
}

// Transition returns the status the order moves to when ev is applied, or
// ErrIllegalTransition.
func Transition(o Order, ev OrderEvent) (OrderStatus, error) {
	next, ok := transitions[transitionKey{o.Status, ev}]
	if !ok {
		return "", fmt.Errorf("%w: %s on %s", ErrIllegalTransition, ev, o.Status)
	}
	if next == restoreStatus {
		switch o.PreviousDisputeStatus {
		case OrderStatusActive, OrderStatusFiatSent:
			return o.PreviousDisputeStatus, nil
		default:
			return "", fmt.Errorf("%w: no status to restore for order %s", ErrIllegalTransition, o.ID)
		}
	}
	return next, nil
}

// CanApply reports whether ev is legal for an order in status s.
func CanApply(s OrderStatus, ev OrderEvent) bool {
	_, ok := transitions[transitionKey{s, ev}]
	return ok
}

// IsTerminal reports whether no further lifecycle events apply to s.
func IsTerminal(s OrderStatus) bool {
	switch s {
	case OrderStatusSuccess, OrderStatusCanceled, OrderStatusCanceledByAdmin,
		OrderStatusFrozen, OrderStatusClosed:
		return true
	default:
		return false
	}
}
