// Package twc talks to a Tesla Wall Connector Gen 3 over its local HTTP API.
package twc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client queries the wall connector's unauthenticated local endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the connector at host (IP or hostname).
func NewClient(host string) *Client {
	return &Client{
		baseURL: "http://" + host,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("request %s: status %d: %s", path, resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Vitals returns the live electrical state of the connector.
func (c *Client) Vitals(ctx context.Context) (*Vitals, error) {
	var v Vitals
	if err := c.get(ctx, "/api/1/vitals", &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Lifetime returns the connector's lifetime counters.
func (c *Client) Lifetime(ctx context.Context) (*Lifetime, error) {
	var l Lifetime
	if err := c.get(ctx, "/api/1/lifetime", &l); err != nil {
		return nil, err
	}
	return &l, nil
}

// Version returns firmware and hardware identification.
func (c *Client) Version(ctx context.Context) (*Version, error) {
	var v Version
	if err := c.get(ctx, "/api/1/version", &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// WifiStatus returns the connector's network status.
func (c *Client) WifiStatus(ctx context.Context) (*WifiStatus, error) {
	var w WifiStatus
	if err := c.get(ctx, "/api/1/wifi_status", &w); err != nil {
		return nil, err
	}
	return &w, nil
}
