// Package comed fetches 5-minute spot prices from the ComEd hourly
// pricing API.
package comed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/chargewatch/chargewatch/internal/models"
)

// Client queries the public price feed. Prices are cents per kWh.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// feedRow is one element of the feed response. The API returns both the
// timestamp and the price as JSON strings.
type feedRow struct {
	MillisUTC json.Number `json:"millisUTC"`
	Price     json.Number `json:"price"`
}

func (c *Client) fetch(ctx context.Context, query url.Values) ([]models.PriceSample, error) {
	u := c.baseURL + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch price feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("price feed status %d: %s", resp.StatusCode, body)
	}

	var rows []feedRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode price feed: %w", err)
	}

	samples := make([]models.PriceSample, 0, len(rows))
	for _, row := range rows {
		millis, err := row.MillisUTC.Int64()
		if err != nil {
			continue
		}
		price, err := row.Price.Float64()
		if err != nil {
			continue
		}
		samples = append(samples, models.PriceSample{
			Timestamp:  time.UnixMilli(millis).UTC(),
			PriceCents: price,
		})
	}
	return samples, nil
}

// CurrentPrices returns the feed's rolling window of recent 5-minute prices.
func (c *Client) CurrentPrices(ctx context.Context) ([]models.PriceSample, error) {
	q := url.Values{}
	q.Set("type", "5minutefeed")
	return c.fetch(ctx, q)
}

// PricesForRange returns historical prices between start and end. The feed
// caps range queries, so callers should request at most a few days at a time.
func (c *Client) PricesForRange(ctx context.Context, start, end time.Time) ([]models.PriceSample, error) {
	const layout = "200601021504"
	q := url.Values{}
	q.Set("type", "5minutefeed")
	q.Set("datestart", start.Format(layout))
	q.Set("dateend", end.Format(layout))
	return c.fetch(ctx, q)
}
