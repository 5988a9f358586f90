package coingecko

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcldev/tokenarena/internal/domain"
)

func TestGetPrice_ReturnsUSDQuote(t *testing.T) {
	var gotPath, gotQuery, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotKey = r.Header.Get("x-cg-demo-api-key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"0xabc":{"usd":1.2345}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "demo-key", "solana")
	price, err := c.GetPrice(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Equal(t, 1.2345, price)
	assert.Equal(t, "/simple/token_price/solana", gotPath)
	assert.Contains(t, gotQuery, "contract_addresses=0xabc")
	assert.Contains(t, gotQuery, "vs_currencies=usd")
	assert.Equal(t, "demo-key", gotKey)
}

func TestGetPrice_ServerErrorIsPriceUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "solana")
	_, err := c.GetPrice(context.Background(), "0xabc")
	require.ErrorIs(t, err, domain.ErrPriceUnavailable)
}

func TestGetPrice_MissingQuoteIsPriceUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Token known but without a USD quote.
		_, _ = w.Write([]byte(`{"0xabc":{}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "solana")
	_, err := c.GetPrice(context.Background(), "0xabc")
	require.ErrorIs(t, err, domain.ErrPriceUnavailable)
}

func TestGetPrice_UnknownTokenIsPriceUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "solana")
	_, err := c.GetPrice(context.Background(), "0xdead")
	require.ErrorIs(t, err, domain.ErrPriceUnavailable)
}
