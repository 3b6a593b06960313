package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/lnp2pbot/escrowd/internal/domain"
)

type sent struct {
	to, title, text string
}

type recorder struct {
	mu   sync.Mutex
	msgs []sent
	err  error
}

func (r *recorder) Send(_ context.Context, title, text string) error {
	return r.SendTo(context.Background(), "admin", title, text)
}

func (r *recorder) SendTo(_ context.Context, to, title, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, sent{to, title, text})
	return r.err
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) recipients() []string {
	var out []string
	for _, m := range r.msgs {
		out = append(out, m.to)
	}
	return out
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestHandleEventRouting(t *testing.T) {
	order := &domain.Order{ID: "o1", CreatorID: "s", SellerID: "s", BuyerID: "b", Amount: 100_000, Description: "Selling 100,000 sats"}
	tests := []struct {
		name      string
		ev        domain.Event
		wantUsers []string
		wantAdmin bool
	}{
		{"active goes to both parties", domain.Event{Type: domain.TopicOrderActive, Order: order}, []string{"s", "b"}, false},
		{"fiat sent goes to seller", domain.Event{Type: domain.TopicOrderFiatSent, Order: order, UserID: "s"}, []string{"s"}, false},
		{"expired also warns admins", domain.Event{Type: domain.TopicOrderExpired, Order: order}, []string{"s", "b"}, true},
		{"admin warning", domain.Event{Type: domain.TopicAdminWarning, Data: map[string]any{"reason": "node down"}}, nil, true},
		{"created is silent", domain.Event{Type: domain.TopicOrderCreated, Order: order}, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			direct, admin := &recorder{}, &recorder{}
			n := NewNotifier([]Sender{admin}, direct, nil, discard())
			if err := n.HandleEvent(context.Background(), tt.ev); err != nil {
				t.Fatalf("HandleEvent: %v", err)
			}
			if got := strings.Join(direct.recipients(), ","); got != strings.Join(tt.wantUsers, ",") {
				t.Errorf("users = %q, want %q", got, strings.Join(tt.wantUsers, ","))
			}
			if got := len(admin.msgs) > 0; got != tt.wantAdmin {
				t.Errorf("admin notified = %v, want %v", got, tt.wantAdmin)
			}
		})
	}
}

func TestAdminFilterAndErrors(t *testing.T) {
	admin := &recorder{err: errors.New("down")}
	n := NewNotifier([]Sender{admin}, nil, []string{string(domain.TopicRoutingFeeAlert)}, discard())
	ctx := context.Background()

	if err := n.HandleEvent(ctx, domain.Event{Type: domain.TopicAdminWarning, Data: map[string]any{"reason": "x"}}); err != nil {
		t.Fatalf("filtered event returned %v", err)
	}
	if len(admin.msgs) != 0 {
		t.Fatalf("filtered event was sent")
	}
	err := n.HandleEvent(ctx, domain.Event{Type: domain.TopicRoutingFeeAlert, Data: map[string]any{"ratio": 0.5, "threshold": 0.2}})
	if err == nil {
		t.Fatal("sender failure not reported")
	}
	if !strings.Contains(admin.msgs[0].text, "50.0%") {
		t.Errorf("text = %q", admin.msgs[0].text)
	}
}

func TestTelegramSendTo(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/botTOKEN/sendMessage" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	tg := NewTelegramSender("TOKEN", "-100")
	tg.baseURL = srv.URL
	if err := tg.SendTo(context.Background(), "42", "Hi", "there"); err != nil {
		t.Fatalf("SendTo: %v", err)
	}
	if got["chat_id"] != "42" || got["text"] != "*Hi*\nthere" {
		t.Errorf("payload = %v", got)
	}
	if err := tg.Send(context.Background(), "A", "B"); err != nil || got["chat_id"] != "-100" {
		t.Errorf("admin send: err=%v chat=%s", err, got["chat_id"])
	}
}
