// Package fetcher pulls spot prices from external market-data REST APIs and
// feeds them into the live state. A primary exchange endpoint is tried first
// and a secondary aggregator covers its outages.
package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Client is the REST client for the price sources. Both sources return USD
// quotes keyed by symbol; the client normalizes them to a symbol->price map.
type Client struct {
	primaryURL   string
	secondaryURL string
	httpClient   *http.Client
	limiter      *rate.Limiter
}

// ClientConfig holds the price source endpoints and request budget.
type ClientConfig struct {
	PrimaryURL   string
	SecondaryURL string
	Timeout      time.Duration
	RateLimit    float64 // requests per second across both sources
}

// NewClient creates a price source client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = 5
	}
	return &Client{
		primaryURL:   strings.TrimRight(cfg.PrimaryURL, "/"),
		secondaryURL: strings.TrimRight(cfg.SecondaryURL, "/"),
		httpClient:   &http.Client{Timeout: timeout},
		limiter:      rate.NewLimiter(rate.Limit(limit), 1),
	}
}

// FetchPrices returns the latest USD price per symbol. The primary source is
// tried first; on any failure the secondary source is consulted. The error
// from the primary is wrapped into the secondary's error when both fail.
func (c *Client) FetchPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	if len(symbols) == 0 {
		return map[string]float64{}, nil
	}

	prices, primaryErr := c.fetchPrimary(ctx, symbols)
	if primaryErr == nil {
		return prices, nil
	}

	prices, secondaryErr := c.fetchSecondary(ctx, symbols)
	if secondaryErr != nil {
		return nil, fmt.Errorf("fetcher: all sources failed: %v; %w", primaryErr, secondaryErr)
	}
	return prices, nil
}

// fetchPrimary queries the exchange ticker endpoint. The response is an
// array of {"symbol": "BTCUSDT", "price": "109000.10"} objects.
func (c *Client) fetchPrimary(ctx context.Context, symbols []string) (map[string]float64, error) {
	quoted := make([]string, len(symbols))
	for i, s := range symbols {
		quoted[i] = strconv.Quote(strings.ToUpper(s) + "USDT")
	}
	params := url.Values{}
	params.Set("symbols", "["+strings.Join(quoted, ",")+"]")

	body, err := c.get(ctx, c.primaryURL+"/api/v3/ticker/price?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("fetcher: primary: %w", err)
	}

	var tickers []struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.Unmarshal(body, &tickers); err != nil {
		return nil, fmt.Errorf("fetcher: primary: decode: %w", err)
	}

	prices := make(map[string]float64, len(tickers))
	for _, t := range tickers {
		price, err := strconv.ParseFloat(t.Price, 64)
		if err != nil {
			continue
		}
		prices[strings.TrimSuffix(t.Symbol, "USDT")] = price
	}
	return prices, nil
}

// fetchSecondary queries the aggregator multi-price endpoint. The response
// maps symbol to a currency->price object: {"BTC": {"USD": 109000.10}}.
func (c *Client) fetchSecondary(ctx context.Context, symbols []string) (map[string]float64, error) {
	upper := make([]string, len(symbols))
	for i, s := range symbols {
		upper[i] = strings.ToUpper(s)
	}
	params := url.Values{}
	params.Set("fsyms", strings.Join(upper, ","))
	params.Set("tsyms", "USD")

	body, err := c.get(ctx, c.secondaryURL+"/data/pricemulti?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("fetcher: secondary: %w", err)
	}

	var quotes map[string]map[string]float64
	if err := json.Unmarshal(body, &quotes); err != nil {
		return nil, fmt.Errorf("fetcher: secondary: decode: %w", err)
	}

	prices := make(map[string]float64, len(quotes))
	for symbol, currencies := range quotes {
		if usd, ok := currencies["USD"]; ok {
			prices[symbol] = usd
		}
	}
	if len(prices) == 0 {
		return nil, fmt.Errorf("fetcher: secondary: empty response")
	}
	return prices, nil
}

func (c *Client) get(ctx context.Context, fullURL string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
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
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
