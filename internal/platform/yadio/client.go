// Package yadio fetches BTC fiat exchange rates from the yadio.io API.
package yadio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lnp2pbot/escrowd/internal/domain"
)

// DefaultBaseURL is the public yadio.io API root.
const DefaultBaseURL = "https://api.yadio.io"

// Client is the REST client for the yadio rate endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new rates client. An empty baseURL selects
// DefaultBaseURL.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// rateResponse is the body of GET /rate/{code}. BTC holds the fiat price of
// one bitcoin.
type rateResponse struct {
	Rate      float64 `json:"rate"`
	BTC       float64 `json:"btc"`
	Timestamp int64   `json:"timestamp"`
	Error     string  `json:"error"`
}

// Rate returns the price of one bitcoin in fiatCode. Any failure is reported
// as domain.ErrRateUnavailable so callers can reject market-priced orders.
func (c *Client) Rate(ctx context.Context, fiatCode string) (float64, error) {
	code := strings.ToUpper(strings.TrimSpace(fiatCode))
	body, err := c.doGet(ctx, "/rate/"+url.PathEscape(code))
	if err != nil {
		return 0, fmt.Errorf("yadio: get rate %s: %w: %v", code, domain.ErrRateUnavailable, err)
	}

	var resp rateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("yadio: decode rate %s: %w: %v", code, domain.ErrRateUnavailable, err)
	}
	if resp.Error != "" {
		return 0, fmt.Errorf("yadio: rate %s: %w: %s", code, domain.ErrRateUnavailable, resp.Error)
	}
	if resp.BTC <= 0 {
		return 0, fmt.Errorf("yadio: rate %s: %w", code, domain.ErrRateUnavailable)
	}
	return resp.BTC, nil
}

// doGet sends an unauthenticated GET request to the API.
func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

var _ domain.RatesProvider = (*Client)(nil)
