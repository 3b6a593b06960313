package domain

import (
	"context"
	"time"
)

// EventType names a domain event published on the bus.
type EventType string

const (
	TopicOrderCreated         EventType = "order.created"
	TopicOrderTaken           EventType = "order.taken"
	TopicOrderFunded          EventType = "order.funded"
	TopicOrderActive          EventType = "order.active"
	TopicOrderFiatSent        EventType = "order.fiat_sent"
	TopicOrderReleased        EventType = "order.released"
	TopicOrderSuccess         EventType = "order.success"
	TopicOrderCancelRequested EventType = "order.cancel_requested"
	TopicOrderCanceled        EventType = "order.canceled"
	TopicOrderExpired         EventType = "order.expired"
	TopicOrderDeleted         EventType = "order.deleted"
	TopicOrderDispute         EventType = "order.dispute"
	TopicDisputeAdminRouted   EventType = "dispute.admin_routed"
	TopicDisputeTaken         EventType = "dispute.taken"
	TopicDisputeResolved      EventType = "dispute.resolved"
	TopicPayoutFailed         EventType = "payout.failed"
	TopicPayoutInvoiceExpired EventType = "payout.invoice_expired"
	TopicPayoutExhausted      EventType = "payout.attempts_exhausted"
	TopicCommunityPaid        EventType = "community.payout_paid"
	TopicCommunityPayoutFail  EventType = "community.payout_failed"
	TopicAdminWarning         EventType = "admin.warning"
	TopicRoutingFeeAlert      EventType = "report.routing_fee_alert"
	TopicReportGenerated      EventType = "report.generated"
)

// Event is a fact emitted by the engine or a job. Subscribers should
// re-read state from the store rather than trust Order beyond display.
type Event struct {
	Type    EventType      `json:"type"`
	OrderID string         `json:"order_id,omitempty"`
	UserID  string         `json:"user_id,omitempty"`
	Order   *Order         `json:"-"`
	Data    map[string]any `json:"data,omitempty"`
	At      time.Time      `json:"at"`
}

// EventPublisher emits domain events. Publishing never fails the caller.
type EventPublisher interface {
	Publish(ctx context.Context, ev Event)
}
