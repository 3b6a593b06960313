package lightning

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lnp2pbot/escrowd/internal/domain"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{
		RESTHost:          srv.URL,
		Macaroon:          []byte{0xab, 0xcd},
		InvoiceExpiry:     time.Hour,
		CltvExpiry:        144,
		MaxRoutingFeeRate: 0.002,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestCreateHoldInvoice(t *testing.T) {
	var got addHoldInvoiceRequest
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/invoices/hodl" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Grpc-Metadata-macaroon") != "abcd" {
			t.Errorf("macaroon header = %q", r.Header.Get("Grpc-Metadata-macaroon"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		fmt.Fprint(w, `{"payment_request":"lnbc1hold","add_index":"7"}`)
	}))

	inv, err := c.CreateHoldInvoice(context.Background(), 101000, "escrow")
	if err != nil {
		t.Fatalf("CreateHoldInvoice: %v", err)
	}
	if inv.Request != "lnbc1hold" || inv.Amount != 101000 {
		t.Errorf("invoice = %+v", inv)
	}
	secret, _ := hex.DecodeString(inv.Secret)
	sum := sha256.Sum256(secret)
	if hex.EncodeToString(sum[:]) != inv.Hash {
		t.Errorf("hash %s is not sha256(secret)", inv.Hash)
	}
	if hex.EncodeToString(got.Hash) != inv.Hash {
		t.Errorf("request hash %x, want %s", got.Hash, inv.Hash)
	}
	if got.Value != 101000 || got.CltvExpiry != 144 || got.Expiry != 3600 || got.Memo != "escrow" {
		t.Errorf("request = %+v", got)
	}
}

func payReqHandler(expiry int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"payment_hash":"aa11","num_satoshis":"5000","timestamp":"%d","expiry":"%d"}`,
			time.Now().Add(-time.Minute).Unix(), expiry)
	}
}

func TestPayInvoice(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("GET /v1/payreq/{req}", payReqHandler(3600))
	mux.HandleFunc("POST /v1/channels/transactions", func(w http.ResponseWriter, r *http.Request) {
		var req sendPaymentRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Amt != 0 {
			t.Errorf("amt = %d for an invoice with an amount", req.Amt)
		}
		if req.FeeLimit == nil || req.FeeLimit.Fixed != 10 {
			t.Errorf("fee limit = %+v, want minimum of 10", req.FeeLimit)
		}
		fmt.Fprint(w, `{"payment_preimage":"AQID","payment_route":{"total_fees":"3"}}`)
	})
	c := newTestClient(t, mux)

	p, err := c.PayInvoice(context.Background(), "lnbc1buyer", 5000)
	if err != nil {
		t.Fatalf("PayInvoice: %v", err)
	}
	if !p.Confirmed() || p.Fee != 3 || p.IsExpired {
		t.Errorf("payment = %+v", p)
	}
}

func TestPayInvoiceExpired(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("GET /v1/payreq/{req}", payReqHandler(1))
	mux.HandleFunc("POST /v1/channels/transactions", func(w http.ResponseWriter, r *http.Request) {
		t.Error("expired invoice must not be sent")
	})
	c := newTestClient(t, mux)

	p, err := c.PayInvoice(context.Background(), "lnbc1old", 0)
	if err != nil {
		t.Fatalf("PayInvoice: %v", err)
	}
	if !p.IsExpired || p.Confirmed() {
		t.Errorf("payment = %+v, want expired", p)
	}
}

func TestPayInvoiceFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("GET /v1/payreq/{req}", payReqHandler(3600))
	mux.HandleFunc("POST /v1/channels/transactions", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"payment_error":"unable to find a path to destination"}`)
	})
	c := newTestClient(t, mux)

	_, err := c.PayInvoice(context.Background(), "lnbc1buyer", 0)
	if !errors.Is(err, domain.ErrPaymentFailed) {
		t.Fatalf("err = %v, want ErrPaymentFailed", err)
	}
	if domain.IsRetriable(err) {
		t.Error("route failure should not be classified as a transient node error")
	}
}

func TestPayInvoiceAlreadyPaidReportsRouterFee(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("GET /v1/payreq/{req}", payReqHandler(3600))
	mux.HandleFunc("POST /v1/channels/transactions", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"payment_error":"invoice is already paid"}`)
	})
	mux.HandleFunc("GET /v2/router/track/{hash}", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result":{"status":"SUCCEEDED","fee_sat":"7"}}`+"\n")
	})
	c := newTestClient(t, mux)

	p, err := c.PayInvoice(context.Background(), "lnbc1buyer", 0)
	if err != nil {
		t.Fatalf("PayInvoice: %v", err)
	}
	if !p.Confirmed() || p.Fee != 7 {
		t.Errorf("payment = %+v, want confirmed with fee 7", p)
	}

	looked, err := c.LookupPayment(context.Background(), "lnbc1buyer")
	if err != nil || !looked.Confirmed() || looked.Fee != 7 {
		t.Errorf("LookupPayment = %+v, %v", looked, err)
	}
}

func TestLookupPaymentNotSent(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("GET /v1/payreq/{req}", payReqHandler(3600))
	mux.HandleFunc("GET /v2/router/track/{hash}", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":{"code":5,"message":"payment isn't initiated"}}`+"\n")
	})
	c := newTestClient(t, mux)

	p, err := c.LookupPayment(context.Background(), "lnbc1buyer")
	if err != nil || p.Confirmed() {
		t.Errorf("LookupPayment = %+v, %v; want zero payment", p, err)
	}
}

func TestIsPaymentPending(t *testing.T) {
	status := "IN_FLIGHT"
	mux := http.NewServeMux()
	mux.Handle("GET /v1/payreq/{req}", payReqHandler(3600))
	mux.HandleFunc("GET /v2/router/track/{hash}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("hash") != "aa11" {
			t.Errorf("tracking hash = %s", r.PathValue("hash"))
		}
		if status == "" {
			fmt.Fprint(w, `{"error":{"code":5,"message":"payment isn't initiated"}}`+"\n")
			return
		}
		fmt.Fprintf(w, `{"result":{"status":%q}}`+"\n"+`{"result":{"status":"SUCCEEDED"}}`+"\n", status)
	})
	c := newTestClient(t, mux)

	pending, err := c.IsPaymentPending(context.Background(), "lnbc1buyer")
	if err != nil || !pending {
		t.Fatalf("in flight: pending=%v err=%v", pending, err)
	}

	status = "SUCCEEDED"
	pending, err = c.IsPaymentPending(context.Background(), "lnbc1buyer")
	if err != nil || pending {
		t.Fatalf("succeeded: pending=%v err=%v", pending, err)
	}

	status = ""
	pending, err = c.IsPaymentPending(context.Background(), "lnbc1buyer")
	if err != nil || pending {
		t.Fatalf("never initiated: pending=%v err=%v", pending, err)
	}
}

func TestGatewayErrorClassification(t *testing.T) {
	code := http.StatusServiceUnavailable
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
		fmt.Fprint(w, `{"code":2,"message":"server is still starting"}`)
	}))

	err := c.SettleHoldInvoice(context.Background(), strings.Repeat("00", 32))
	if !domain.IsRetriable(err) {
		t.Errorf("5xx: err = %v, want retriable", err)
	}

	code = http.StatusNotFound
	_, err = c.GetInvoice(context.Background(), "ff")
	if err == nil || domain.IsRetriable(err) {
		t.Errorf("4xx: err = %v, want terminal", err)
	}
}
