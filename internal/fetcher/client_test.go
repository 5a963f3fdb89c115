package fetcher

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPrimary(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/ticker/price", r.URL.Path)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newSecondary(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/data/pricemulti", r.URL.Path)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchPricesPrimary(t *testing.T) {
	primary := newPrimary(t, http.StatusOK,
		`[{"symbol":"BTCUSDT","price":"64000.5"},{"symbol":"ETHUSDT","price":"3300"}]`)
	secondary := newSecondary(t, http.StatusInternalServerError, "")

	c := NewClient(ClientConfig{
		PrimaryURL:   primary.URL,
		SecondaryURL: secondary.URL,
		RateLimit:    1000,
	})

	prices, err := c.FetchPrices(t.Context(), []string{"btc", "ETH"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"BTC": 64000.5, "ETH": 3300}, prices)
}

func TestFetchPricesFallsBackToSecondary(t *testing.T) {
	primary := newPrimary(t, http.StatusBadGateway, "upstream down")
	secondary := newSecondary(t, http.StatusOK, `{"BTC":{"USD":64100},"ETH":{"USD":3310}}`)

	c := NewClient(ClientConfig{
		PrimaryURL:   primary.URL,
		SecondaryURL: secondary.URL,
		RateLimit:    1000,
	})

	prices, err := c.FetchPrices(t.Context(), []string{"BTC", "ETH"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"BTC": 64100, "ETH": 3310}, prices)
}

func TestFetchPricesBothSourcesFail(t *testing.T) {
	primary := newPrimary(t, http.StatusBadGateway, "down")
	secondary := newSecondary(t, http.StatusOK, `{}`)

	c := NewClient(ClientConfig{
		PrimaryURL:   primary.URL,
		SecondaryURL: secondary.URL,
		RateLimit:    1000,
	})

	_, err := c.FetchPrices(t.Context(), []string{"BTC"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all sources failed")
}

func TestFetchPricesSkipsUnparsableTickers(t *testing.T) {
	primary := newPrimary(t, http.StatusOK,
		`[{"symbol":"BTCUSDT","price":"64000"},{"symbol":"ETHUSDT","price":"not-a-number"}]`)
	secondary := newSecondary(t, http.StatusInternalServerError, "")

	c := NewClient(ClientConfig{
		PrimaryURL:   primary.URL,
		SecondaryURL: secondary.URL,
		RateLimit:    1000,
	})

	prices, err := c.FetchPrices(t.Context(), []string{"BTC", "ETH"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"BTC": 64000}, prices)
}

func TestFetchPricesEmptySymbolList(t *testing.T) {
	c := NewClient(ClientConfig{PrimaryURL: "http://unused", SecondaryURL: "http://unused"})

	prices, err := c.FetchPrices(t.Context(), nil)
	require.NoError(t, err)
	assert.Empty(t, prices)
}
