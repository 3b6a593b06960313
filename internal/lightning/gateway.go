package lightning

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/lnp2pbot/escrowd/internal/domain"
)

var _ domain.Gateway = (*Client)(nil)

// minRoutingFee keeps tiny payments routable.
const minRoutingFee = 10

// NewPreimage returns a random 32-byte preimage and its payment hash, both
// hex encoded.
func NewPreimage() (secret, hash string, err error) {
	preimage := make([]byte, 32)
	if _, err := rand.Read(preimage); err != nil {
		return "", "", fmt.Errorf("lightning: generate preimage: %w", err)
	}
	return hex.EncodeToString(preimage), hex.EncodeToString(chainhash.HashB(preimage)), nil
}

// gatewayErr classifies err for callers: node 4xx replies are terminal,
// everything else (network failures, timeouts, 5xx) is retried next cycle.
func gatewayErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *apiError
	retriable := true
	if errors.As(err, &ae) && ae.Status < http.StatusInternalServerError {
		retriable = false
	}
	return &domain.GatewayError{Op: op, Err: err, Retriable: retriable}
}

func (c *Client) CreateHoldInvoice(ctx context.Context, amount int64, description string) (domain.HoldInvoice, error) {
	secret, hash, err := NewPreimage()
	if err != nil {
		return domain.HoldInvoice{}, err
	}
	hashBytes, _ := hex.DecodeString(hash)

	req := addHoldInvoiceRequest{
		Memo:       description,
		Hash:       hashBytes,
		Value:      amount,
		Expiry:     int64(c.cfg.InvoiceExpiry / time.Second),
		CltvExpiry: c.cfg.CltvExpiry,
	}
	var resp addHoldInvoiceResponse
	if err := c.do(ctx, c.httpClient, http.MethodPost, "/v2/invoices/hodl", req, &resp); err != nil {
		return domain.HoldInvoice{}, gatewayErr("create hold invoice", err)
	}

	return domain.HoldInvoice{
		Request:   resp.PaymentRequest,
		Hash:      hash,
		Secret:    secret,
		Amount:    amount,
		ExpiresAt: c.now().Add(c.cfg.InvoiceExpiry),
	}, nil
}

func (c *Client) SettleHoldInvoice(ctx context.Context, secret string) error {
	preimage, err := hex.DecodeString(secret)
	if err != nil {
		return fmt.Errorf("lightning: settle: invalid secret: %w", err)
	}
	err = c.do(ctx, c.httpClient, http.MethodPost, "/v2/invoices/settle", settleInvoiceRequest{Preimage: preimage}, nil)
	return gatewayErr("settle hold invoice", err)
}

func (c *Client) CancelHoldInvoice(ctx context.Context, hash string) error {
	h, err := hex.DecodeString(hash)
	if err != nil {
		return fmt.Errorf("lightning: cancel: invalid hash: %w", err)
	}
	err = c.do(ctx, c.httpClient, http.MethodPost, "/v2/invoices/cancel", cancelInvoiceRequest{PaymentHash: h}, nil)
	return gatewayErr("cancel hold invoice", err)
}

func (c *Client) GetInvoice(ctx context.Context, hash string) (domain.Invoice, error) {
	var resp lookupInvoiceResponse
	if err := c.do(ctx, c.httpClient, http.MethodGet, "/v1/invoice/"+url.PathEscape(hash), nil, &resp); err != nil {
		return domain.Invoice{}, gatewayErr("lookup invoice", err)
	}
	return domain.Invoice{
		Hash:   hash,
		State:  domain.InvoiceState(resp.State),
		Amount: resp.Value,
	}, nil
}

func (c *Client) DecodeInvoice(ctx context.Context, request string) (domain.DecodedInvoice, error) {
	var resp payReqResponse
	if err := c.do(ctx, c.httpClient, http.MethodGet, "/v1/payreq/"+url.PathEscape(request), nil, &resp); err != nil {
		var ae *apiError
		if errors.As(err, &ae) && ae.Status < http.StatusInternalServerError {
			return domain.DecodedInvoice{}, fmt.Errorf("%w: %s", domain.ErrInvalidInvoice, ae.Message)
		}
		return domain.DecodedInvoice{}, gatewayErr("decode invoice", err)
	}
	created := time.Unix(resp.Timestamp, 0).UTC()
	return domain.DecodedInvoice{
		Hash:        resp.PaymentHash,
		Destination: resp.Destination,
		Description: resp.Description,
		Amount:      resp.NumSatoshis,
		CreatedAt:   created,
		ExpiresAt:   created.Add(time.Duration(resp.Expiry) * time.Second),
	}, nil
}

// PayInvoice pays request synchronously. An expired invoice yields a Payment
// with IsExpired set and no error; a payment the node already completed
// earlier is reported as confirmed with the fee the router recorded for it.
func (c *Client) PayInvoice(ctx context.Context, request string, amount int64) (domain.Payment, error) {
	decoded, err := c.DecodeInvoice(ctx, request)
	if err != nil {
		return domain.Payment{}, err
	}
	if decoded.Expired(c.now()) {
		return domain.Payment{Hash: decoded.Hash, IsExpired: true}, nil
	}

	req := sendPaymentRequest{PaymentRequest: request}
	paying := decoded.Amount
	if paying == 0 {
		req.Amt = amount
		paying = amount
	}
	req.FeeLimit = &feeLimit{Fixed: c.feeLimit(paying)}

	var resp sendPaymentResponse
	if err := c.do(ctx, c.payClient, http.MethodPost, "/v1/channels/transactions", req, &resp); err != nil {
		return domain.Payment{}, gatewayErr("pay invoice", err)
	}

	now := c.now().UTC()
	if msg := resp.PaymentError; msg != "" {
		lower := strings.ToLower(msg)
		switch {
		case strings.Contains(lower, "invoice expired"):
			return domain.Payment{Hash: decoded.Hash, IsExpired: true}, nil
		case strings.Contains(lower, "already paid"):
			// The fee of the earlier payment is only known to the router.
			if p, err := c.succeededPayment(ctx, decoded.Hash); err == nil && p.Confirmed() {
				return p, nil
			}
			return domain.Payment{Hash: decoded.Hash, ConfirmedAt: &now}, nil
		case strings.Contains(lower, "in transition"):
			return domain.Payment{}, &domain.GatewayError{Op: "pay invoice", Err: errors.New(msg), Retriable: true}
		default:
			return domain.Payment{}, &domain.GatewayError{
				Op:  "pay invoice",
				Err: fmt.Errorf("%w: %s", domain.ErrPaymentFailed, msg),
			}
		}
	}
	if len(resp.PaymentPreimage) == 0 {
		return domain.Payment{Hash: decoded.Hash}, nil
	}

	var fee int64
	if resp.PaymentRoute != nil {
		fee = resp.PaymentRoute.TotalFees
	}
	return domain.Payment{Hash: decoded.Hash, ConfirmedAt: &now, Fee: fee}, nil
}

// IsPaymentPending reports whether the node has an outgoing payment for
// request that is still in flight.
func (c *Client) IsPaymentPending(ctx context.Context, request string) (bool, error) {
	decoded, err := c.DecodeInvoice(ctx, request)
	if err != nil {
		return false, err
	}
	tracked, err := c.trackPayment(ctx, decoded.Hash)
	if err != nil || tracked == nil {
		return false, err
	}
	switch tracked.Status {
	case "IN_FLIGHT", "INITIATED":
		return true, nil
	default:
		return false, nil
	}
}

// LookupPayment returns the outgoing payment for request if the node
// completed one. A zero Payment means nothing was paid.
func (c *Client) LookupPayment(ctx context.Context, request string) (domain.Payment, error) {
	decoded, err := c.DecodeInvoice(ctx, request)
	if err != nil {
		return domain.Payment{}, err
	}
	return c.succeededPayment(ctx, decoded.Hash)
}

func (c *Client) succeededPayment(ctx context.Context, hash string) (domain.Payment, error) {
	tracked, err := c.trackPayment(ctx, hash)
	if err != nil || tracked == nil || tracked.Status != "SUCCEEDED" {
		return domain.Payment{}, err
	}
	now := c.now().UTC()
	return domain.Payment{Hash: hash, ConfirmedAt: &now, Fee: tracked.FeeSat}, nil
}

// trackPayment reads the current state of the outgoing payment for hash. It
// returns nil when the node never sent one.
func (c *Client) trackPayment(ctx context.Context, hash string) (*trackedPayment, error) {
	var update trackPaymentUpdate
	err := c.firstLine(ctx, "/v2/router/track/"+url.PathEscape(hash), &update)
	if err != nil {
		var ae *apiError
		if errors.As(err, &ae) && (ae.Status == http.StatusNotFound || notInitiated(ae.Message)) {
			return nil, nil
		}
		return nil, gatewayErr("track payment", err)
	}
	if update.Error != nil {
		if notInitiated(update.Error.Message) {
			return nil, nil
		}
		return nil, gatewayErr("track payment", errors.New(update.Error.Message))
	}
	return update.Result, nil
}

func notInitiated(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "isn't initiated") || strings.Contains(m, "not found")
}

func (c *Client) NodeInfo(ctx context.Context) (domain.NodeInfo, error) {
	var resp getInfoResponse
	if err := c.do(ctx, c.httpClient, http.MethodGet, "/v1/getinfo", nil, &resp); err != nil {
		return domain.NodeInfo{}, gatewayErr("get info", err)
	}
	return domain.NodeInfo{
		Alias:          resp.Alias,
		PubKey:         resp.IdentityPubkey,
		BlockHeight:    resp.BlockHeight,
		SyncedToChain:  resp.SyncedToChain,
		ActiveChannels: resp.NumActiveChannels,
		CheckedAt:      c.now().UTC(),
	}, nil
}

func (c *Client) feeLimit(amount int64) int64 {
	limit := int64(math.Ceil(float64(amount) * c.cfg.MaxRoutingFeeRate))
	return max(limit, minRoutingFee)
}
