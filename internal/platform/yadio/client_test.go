package yadio

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lnp2pbot/escrowd/internal/domain"
)

func TestRate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rate/USD":
			_, _ = w.Write([]byte(`{"rate":0.0000156,"btc":64000.5,"timestamp":1700000000000}`))
		case "/rate/XXX":
			_, _ = w.Write([]byte(`{"error":"Currency not found"}`))
		default:
			http.Error(w, "boom", http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL + "/")
	ctx := context.Background()

	got, err := c.Rate(ctx, "usd")
	if err != nil {
		t.Fatalf("Rate: %v", err)
	}
	if got != 64000.5 {
		t.Errorf("rate = %v, want 64000.5", got)
	}

	for _, code := range []string{"XXX", "EUR"} {
		if _, err := c.Rate(ctx, code); !errors.Is(err, domain.ErrRateUnavailable) {
			t.Errorf("Rate(%s) err = %v, want ErrRateUnavailable", code, err)
		}
	}
}
