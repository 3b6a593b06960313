package ws

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/lnp2pbot/escrowd/internal/domain"
)

func TestMatches(t *testing.T) {
	tests := []struct {
		patterns  []string
		eventType string
		want      bool
	}{
		{[]string{"*"}, "order.taken", true},
		{[]string{"order.*"}, "order.taken", true},
		{[]string{"order.*"}, "dispute.taken", false},
		{[]string{"dispute.taken"}, "dispute.taken", true},
		{[]string{"dispute.taken"}, "dispute.resolved", false},
		{nil, "order.taken", false},
	}
	for _, tt := range tests {
		set := map[string]bool{}
		for _, p := range tt.patterns {
			set[p] = true
		}
		if got := matches(set, tt.eventType); got != tt.want {
			t.Errorf("matches(%v, %q) = %v, want %v", tt.patterns, tt.eventType, got, tt.want)
		}
	}
}

func TestHandleEventDropsWhenSaturated(t *testing.T) {
	h := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)), Config{Mode: "full"})
	for i := 0; i < cap(h.broadcast)+10; i++ {
		if err := h.HandleEvent(context.Background(), domain.Event{Type: domain.TopicOrderTaken, OrderID: "o1"}); err != nil {
			t.Fatalf("HandleEvent: %v", err)
		}
	}
	if got := len(h.broadcast); got != cap(h.broadcast) {
		t.Errorf("queued %d events, want %d", got, cap(h.broadcast))
	}
	msg := <-h.broadcast
	if msg.eventType != string(domain.TopicOrderTaken) {
		t.Errorf("event type = %q", msg.eventType)
	}
	if got := eventType(msg.data); got != string(domain.TopicOrderTaken) {
		t.Errorf("encoded type = %q", got)
	}
}
