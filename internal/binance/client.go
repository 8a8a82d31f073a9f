// Package binance is a stateless client for the Binance USDⓈ-M futures
// REST API. Numeric fields arrive as strings and are kept exact.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"binance-market-pipeline/internal/decimals"
	"binance-market-pipeline/internal/logging"
)

type Client struct {
	baseURL       string
	httpClient    *http.Client
	limiter       *rate.Limiter
	retryAfter429 time.Duration
	logger        zerolog.Logger
}

// NewClient creates a futures REST client. requestsPerSecond bounds the
// request rate; 429 responses trigger one retry after retryAfter429.
func NewClient(baseURL string, timeout time.Duration, requestsPerSecond float64, retryAfter429 time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if requestsPerSecond <= 0 {
		requestsPerSecond = 10
	}
	if retryAfter429 <= 0 {
		retryAfter429 = 60 * time.Second
	}
	return &Client{
		baseURL:       baseURL,
		httpClient:    &http.Client{Timeout: timeout},
		limiter:       rate.NewLimiter(rate.Limit(requestsPerSecond), int(requestsPerSecond)),
		retryAfter429: retryAfter429,
		logger:        logging.Component("binance"),
	}
}

// Kline represents a candlestick with exact-decimal prices
type Kline struct {
	OpenTime  int64
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	CloseTime int64
}

// Ticker24hr represents 24hr ticker price change statistics
type Ticker24hr struct {
	Symbol      string  `json:"symbol"`
	LastPrice   float64 `json:"lastPrice,string"`
	Volume      float64 `json:"volume,string"`
	QuoteVolume float64 `json:"quoteVolume,string"`
}

// SymbolInfo represents basic contract information
type SymbolInfo struct {
	Symbol       string `json:"symbol"`
	ContractType string `json:"contractType"`
	Status       string `json:"status"`
	BaseAsset    string `json:"baseAsset"`
	QuoteAsset   string `json:"quoteAsset"`
}

// ExchangeInfo represents exchange information response
type ExchangeInfo struct {
	Symbols []SymbolInfo `json:"symbols"`
}

// GetKlines fetches candlestick data for a symbol and interval
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	body, err := c.get(ctx, "/fapi/v1/klines?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var rawKlines [][]interface{}
	if err := json.Unmarshal(body, &rawKlines); err != nil {
		return nil, fmt.Errorf("error parsing klines: %w", err)
	}

	klines := make([]Kline, 0, len(rawKlines))
	for _, raw := range rawKlines {
		if len(raw) < 7 {
			continue
		}
		k := Kline{
			OpenTime:  toInt64(raw[0]),
			CloseTime: toInt64(raw[6]),
		}
		var ok bool
		if k.Open, ok = decimals.ToDecimal(raw[1]); !ok {
			continue
		}
		if k.High, ok = decimals.ToDecimal(raw[2]); !ok {
			continue
		}
		if k.Low, ok = decimals.ToDecimal(raw[3]); !ok {
			continue
		}
		if k.Close, ok = decimals.ToDecimal(raw[4]); !ok {
			continue
		}
		if k.Volume, ok = decimals.ToDecimal(raw[5]); !ok {
			continue
		}
		klines = append(klines, k)
	}

	return klines, nil
}

// Get24hrTickers fetches 24hr ticker data for all symbols
func (c *Client) Get24hrTickers(ctx context.Context) (map[string]Ticker24hr, error) {
	body, err := c.get(ctx, "/fapi/v1/ticker/24hr")
	if err != nil {
		return nil, err
	}

	var tickers []Ticker24hr
	if err := json.Unmarshal(body, &tickers); err != nil {
		return nil, fmt.Errorf("error parsing tickers: %w", err)
	}

	out := make(map[string]Ticker24hr, len(tickers))
	for _, t := range tickers {
		out[t.Symbol] = t
	}
	return out, nil
}

// GetExchangeInfo fetches exchange information including all contracts
func (c *Client) GetExchangeInfo(ctx context.Context) (*ExchangeInfo, error) {
	body, err := c.get(ctx, "/fapi/v1/exchangeInfo")
	if err != nil {
		return nil, err
	}

	var exchangeInfo ExchangeInfo
	if err := json.Unmarshal(body, &exchangeInfo); err != nil {
		return nil, fmt.Errorf("error parsing exchange info: %w", err)
	}

	return &exchangeInfo, nil
}

// GetPerpetualSymbols returns symbols tradable as perpetual contracts
func (c *Client) GetPerpetualSymbols(ctx context.Context) ([]string, error) {
	info, err := c.GetExchangeInfo(ctx)
	if err != nil {
		return nil, err
	}
	return FilterPerpetuals(info.Symbols), nil
}

// FilterPerpetuals keeps symbols where contractType is PERPETUAL and
// status is TRADING
func FilterPerpetuals(symbols []SymbolInfo) []string {
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s.ContractType == "PERPETUAL" && s.Status == "TRADING" {
			out = append(out, s.Symbol)
		}
	}
	return out
}

// get performs a rate-limited GET with a single retry on 429
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	body, status, err := c.doGet(ctx, path)
	if err != nil {
		return nil, err
	}
	if status == http.StatusTooManyRequests {
		c.logger.Warn().Str("path", path).Dur("sleep", c.retryAfter429).Msg("rate limited, retrying once")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.retryAfter429):
		}
		body, status, err = c.doGet(ctx, path)
		if err != nil {
			return nil, err
		}
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", status, string(body))
	}
	return body, nil
}

func (c *Client) doGet(ctx context.Context, path string) ([]byte, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, 0, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("error reading response: %w", err)
	}

	return body, resp.StatusCode, nil
}

func toInt64(val interface{}) int64 {
	switch v := val.(type) {
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	default:
		return 0
	}
}

