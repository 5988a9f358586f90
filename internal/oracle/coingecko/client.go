// Package coingecko implements the price oracle against the CoinGecko
// token-price API.
package coingecko

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rcldev/tokenarena/internal/domain"
)

// rateLimitKey identifies the shared request budget across all workers.
const rateLimitKey = "coingecko"

// Client fetches current USD token prices from the CoinGecko simple
// token-price endpoint. Token IDs are on-chain contract addresses on the
// configured network.
type Client struct {
	baseURL    string
	apiKey     string
	network    string
	httpClient *http.Client

	limiter     domain.RateLimiter
	limit       int
	limitWindow time.Duration
}

// NewClient creates a CoinGecko client.
//
// baseURL is the API root, e.g. "https://api.coingecko.com/api/v3". network
// selects the asset platform, e.g. "solana".
func NewClient(baseURL, apiKey, network string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		network: network,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// SetRateLimiter installs a shared rate limiter applied before every request.
// CoinGecko's demo tier allows roughly 30 calls/minute; settlement bursts
// (many predictions expiring together) would blow through that without one.
func (c *Client) SetRateLimiter(rl domain.RateLimiter, limit int, window time.Duration) {
	c.limiter = rl
	c.limit = limit
	c.limitWindow = window
}

// tokenPriceEntry is the per-address object in the API response.
type tokenPriceEntry struct {
	USD *float64 `json:"usd"`
}

// GetPrice returns the current USD price for the token. Every failure mode --
// transport error, non-2xx status, missing or null price -- surfaces as
// domain.ErrPriceUnavailable so settlement callers have a single condition to
// branch on.
func (c *Client) GetPrice(ctx context.Context, tokenID string) (float64, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, rateLimitKey, c.limit, c.limitWindow); err != nil {
			return 0, fmt.Errorf("coingecko: rate limit: %w", err)
		}
	}

	params := url.Values{}
	params.Set("contract_addresses", tokenID)
	params.Set("vs_currencies", "usd")

	reqURL := fmt.Sprintf("%s/simple/token_price/%s?%s",
		c.baseURL, url.PathEscape(c.network), params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, fmt.Errorf("coingecko: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("coingecko: get price %s: %w: %v", tokenID, domain.ErrPriceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("coingecko: get price %s: %w: status %d: %s",
			tokenID, domain.ErrPriceUnavailable, resp.StatusCode, string(body))
	}

	var payload map[string]tokenPriceEntry
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("coingecko: get price %s: %w: decode: %v", tokenID, domain.ErrPriceUnavailable, err)
	}

	entry, ok := payload[tokenID]
	if !ok || entry.USD == nil {
		return 0, fmt.Errorf("coingecko: get price %s: %w: no usd quote", tokenID, domain.ErrPriceUnavailable)
	}

	return *entry.USD, nil
}

// Compile-time interface check.
var _ domain.PriceOracle = (*Client)(nil)
