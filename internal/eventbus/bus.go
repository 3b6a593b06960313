// Package eventbus is the in-process publish/subscribe bus that decouples the
// order engine from notification and announcement side effects. Delivery is
// synchronous and best effort: handler errors and panics are logged and never
// reach the publisher.
package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lnp2pbot/escrowd/internal/domain"
)

// Handler consumes one event.
type Handler func(ctx context.Context, ev domain.Event) error

// Bus fans events out to subscribers registered at startup.
type Bus struct {
	mu       sync.RWMutex
	handlers map[domain.EventType][]Handler
	all      []Handler
	logger   *slog.Logger
	now      func() time.Time
}

var _ domain.EventPublisher = (*Bus)(nil)

// New creates an empty bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		handlers: make(map[domain.EventType][]Handler),
		logger:   logger.With(slog.String("component", "eventbus")),
		now:      time.Now,
	}
}

// Subscribe registers h for events of type t.
func (b *Bus) Subscribe(t domain.EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// SubscribeAll registers h for every event.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// Publish delivers ev to every matching handler in registration order.
func (b *Bus) Publish(ctx context.Context, ev domain.Event) {
	if ev.At.IsZero() {
		ev.At = b.now()
	}
	if ev.OrderID == "" && ev.Order != nil {
		ev.OrderID = ev.Order.ID
	}

	b.mu.RLock()
	hs := make([]Handler, 0, len(b.handlers[ev.Type])+len(b.all))
	hs = append(hs, b.handlers[ev.Type]...)
	hs = append(hs, b.all...)
	b.mu.RUnlock()

	for _, h := range hs {
		if err := b.deliver(ctx, h, ev); err != nil {
			b.logger.WarnContext(ctx, "event handler failed",
				slog.String("event", string(ev.Type)),
				slog.String("order_id", ev.OrderID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (b *Bus) deliver(ctx context.Context, h Handler, ev domain.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, ev)
}
