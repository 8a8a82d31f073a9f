// Package coingecko is a client for the CoinGecko-compatible market
// metrics API used to rank symbols by market capitalization.
package coingecko

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

	"github.com/rs/zerolog"

	"binance-market-pipeline/internal/logging"
)

const maxPageSize = 250

type Client struct {
	baseURL       string
	httpClient    *http.Client
	pageSize      int
	retryAfter429 time.Duration
	logger        zerolog.Logger
}

// Market is one row of the /coins/markets response. Metric fields are
// nullable upstream and stay pointers here.
type Market struct {
	ID                string   `json:"id"`
	Symbol            string   `json:"symbol"`
	Name              string   `json:"name"`
	Image             string   `json:"image"`
	CurrentPrice      *float64 `json:"current_price"`
	MarketCap         *float64 `json:"market_cap"`
	TotalVolume       *float64 `json:"total_volume"`
	CirculatingSupply *float64 `json:"circulating_supply"`
}

func NewClient(baseURL string, timeout time.Duration, pageSize int, retryAfter429 time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	if retryAfter429 <= 0 {
		retryAfter429 = 60 * time.Second
	}
	return &Client{
		baseURL:       baseURL,
		httpClient:    &http.Client{Timeout: timeout},
		pageSize:      pageSize,
		retryAfter429: retryAfter429,
		logger:        logging.Component("coingecko"),
	}
}

// GetTopMarkets fetches the top markets by market cap, paging until
// limit rows are collected or a page comes back short or failed.
// per_page stays constant across pages because the API's offset is
// (page-1)*per_page; the final page is truncated client-side instead.
func (c *Client) GetTopMarkets(ctx context.Context, limit int) ([]Market, error) {
	var out []Market
	page := 1
	for len(out) < limit {
		markets, err := c.fetchPage(ctx, c.pageSize, page, nil)
		if err != nil {
			if len(out) > 0 {
				// Keep what earlier pages yielded
				c.logger.Warn().Err(err).Int("page", page).Msg("stopping pagination on page failure")
				break
			}
			return nil, err
		}
		if len(markets) == 0 {
			break
		}

		out = append(out, markets...)
		if len(markets) < c.pageSize {
			break
		}
		page++
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetMarketsByIDs fetches metrics for the given CoinGecko coin ids
func (c *Client) GetMarketsByIDs(ctx context.Context, ids []string) ([]Market, error) {
	var out []Market
	for start := 0; start < len(ids); start += c.pageSize {
		end := start + c.pageSize
		if end > len(ids) {
			end = len(ids)
		}
		markets, err := c.fetchPage(ctx, c.pageSize, 1, ids[start:end])
		if err != nil {
			return out, err
		}
		out = append(out, markets...)
	}
	return out, nil
}

// fetchPage performs one /coins/markets request with a single retry on 429
func (c *Client) fetchPage(ctx context.Context, perPage, page int, ids []string) ([]Market, error) {
	params := url.Values{}
	params.Set("vs_currency", "usd")
	params.Set("order", "market_cap_desc")
	params.Set("per_page", strconv.Itoa(perPage))
	params.Set("page", strconv.Itoa(page))
	params.Set("sparkline", "false")
	if len(ids) > 0 {
		params.Set("ids", strings.Join(ids, ","))
	}

	endpoint := c.baseURL + "/coins/markets?" + params.Encode()

	body, status, err := c.doGet(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	if status == http.StatusTooManyRequests {
		c.logger.Warn().Int("page", page).Dur("sleep", c.retryAfter429).Msg("rate limited, retrying page once")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.retryAfter429):
		}
		body, status, err = c.doGet(ctx, endpoint)
		if err != nil {
			return nil, err
		}
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("metrics API error (status %d): %s", status, string(body))
	}

	var markets []Market
	if err := json.Unmarshal(body, &markets); err != nil {
		return nil, fmt.Errorf("error parsing markets: %w", err)
	}
	return markets, nil
}

func (c *Client) doGet(ctx context.Context, endpoint string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
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
