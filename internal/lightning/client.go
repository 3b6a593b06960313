// Package lightning implements the escrow payment gateway on top of an LND
// node's REST interface, plus an in-memory node for local development and
// tests.
package lightning

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Config holds the node connection and payment policy.
type Config struct {
	// RESTHost is the node REST endpoint, e.g. "https://127.0.0.1:8080".
	RESTHost    string
	TLSCertPath string
	Macaroon    []byte
	// Timeout bounds regular calls.
	Timeout time.Duration
	// PaymentTimeout bounds SendPaymentSync, which blocks until the payment
	// resolves.
	PaymentTimeout time.Duration
	InvoiceExpiry  time.Duration
	CltvExpiry     uint64
	// MaxRoutingFeeRate caps routing fees as a fraction of the amount paid.
	MaxRoutingFeeRate float64
}

// Client talks to LND over REST.
type Client struct {
	cfg         Config
	baseURL     string
	macaroonHex string
	httpClient  *http.Client
	payClient   *http.Client
	now         func() time.Time
}

// New creates a client. The TLS certificate, when configured, is the only
// trusted root.
func New(cfg Config) (*Client, error) {
	if cfg.RESTHost == "" {
		return nil, errors.New("lightning: rest_host must not be empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.PaymentTimeout <= 0 {
		cfg.PaymentTimeout = 90 * time.Second
	}
	if cfg.InvoiceExpiry <= 0 {
		cfg.InvoiceExpiry = time.Hour
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.TLSCertPath != "" {
		pem, err := os.ReadFile(cfg.TLSCertPath)
		if err != nil {
			return nil, fmt.Errorf("lightning: read tls cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("lightning: no certificates in %s", cfg.TLSCertPath)
		}
		transport.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}

	return &Client{
		cfg:         cfg,
		baseURL:     strings.TrimRight(cfg.RESTHost, "/"),
		macaroonHex: hex.EncodeToString(cfg.Macaroon),
		httpClient:  &http.Client{Timeout: cfg.Timeout, Transport: transport},
		payClient:   &http.Client{Timeout: cfg.PaymentTimeout, Transport: transport},
		now:         time.Now,
	}, nil
}

// apiError is a non-2xx response from the node.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("lnd api error (status %d): %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, hc *http.Client, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.macaroonHex != "" {
		req.Header.Set("Grpc-Metadata-macaroon", c.macaroonHex)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return err
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// firstLine reads a single JSON object from a streaming endpoint and closes
// the stream.
func (c *Client) firstLine(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.macaroonHex != "" {
		req.Header.Set("Grpc-Metadata-macaroon", c.macaroonHex)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return checkHTTPStatus(resp.StatusCode, body)
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return fmt.Errorf("read stream: %w", err)
		}
		return errors.New("read stream: empty response")
	}
	if err := json.Unmarshal(sc.Bytes(), out); err != nil {
		return fmt.Errorf("decode stream line: %w", err)
	}
	return nil
}

func checkHTTPStatus(status int, body []byte) error {
	if status >= 200 && status <= 299 {
		return nil
	}
	var er errorResponse
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &er) == nil {
		switch {
		case er.Message != "":
			msg = er.Message
		case er.Error != "":
			msg = er.Error
		}
	}
	return &apiError{Status: status, Message: msg}
}
