// Package notify turns domain events into messages for traders and admins.
// Traders are reached through a DirectSender (the Telegram bot, keyed by
// user id); admin alerts fan out to every configured Sender. Delivery is one
// way: failures are logged and reported to the event bus, never to the engine.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lnp2pbot/escrowd/internal/domain"
)

// Sender delivers to a fixed admin channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// DirectSender delivers to a single user.
type DirectSender interface {
	SendTo(ctx context.Context, recipient, title, message string) error
	Name() string
}

// Notifier renders events and dispatches them. events filters which event
// types reach the admin channels; traders always get their own messages.
type Notifier struct {
	admin  []Sender
	direct DirectSender
	events map[string]bool
	logger *slog.Logger
}

// NewNotifier creates a Notifier. direct may be nil when traders are served
// by another front end. An empty events list allows every event type.
func NewNotifier(admin []Sender, direct DirectSender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		admin:  admin,
		direct: direct,
		events: allowed,
		logger: logger.With(slog.String("component", "notifier")),
	}
}

// HandleEvent is an event bus handler.
func (n *Notifier) HandleEvent(ctx context.Context, ev domain.Event) error {
	msg, ok := render(ev)
	if !ok {
		return nil
	}

	var errs []string
	if n.direct != nil {
		for _, user := range msg.users {
			if err := n.direct.SendTo(ctx, user, msg.title, msg.text); err != nil {
				errs = append(errs, fmt.Sprintf("%s to %s: %v", n.direct.Name(), user, err))
			}
		}
	}
	if msg.admin && (len(n.events) == 0 || n.events[string(ev.Type)]) {
		if err := n.NotifyAdmins(ctx, msg.title, msg.text); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %s: %s", ev.Type, strings.Join(errs, "; "))
	}
	return nil
}

// NotifyAdmins sends to every admin channel. One failing sender does not
// stop the others.
func (n *Notifier) NotifyAdmins(ctx context.Context, title, message string) error {
	var errs []string
	for _, s := range n.admin {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
