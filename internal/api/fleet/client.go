// Package fleet talks to the vehicle cloud API for vehicle state, charge
// commands, energy site status and charge history.
package fleet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/chargewatch/chargewatch/internal/models"
)

var (
	// ErrVehicleAsleep is returned when the cloud reports the vehicle
	// offline or asleep and no fresh state is available.
	ErrVehicleAsleep = errors.New("vehicle is asleep")

	// ErrCommandRejected is returned when a charge command reaches the
	// vehicle but is refused.
	ErrCommandRejected = errors.New("command rejected by vehicle")
)

// Client is an authenticated cloud API client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) doRequest(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusServiceUnavailable:
		return ErrVehicleAsleep
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("request %s: status %d: %s", path, resp.StatusCode, body)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Vehicles lists the account's vehicles with their last known state.
func (c *Client) Vehicles(ctx context.Context) ([]*models.Vehicle, error) {
	var resp struct {
		Results []vehicleState `json:"results"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/vehicles", &resp); err != nil {
		return nil, err
	}
	vehicles := make([]*models.Vehicle, 0, len(resp.Results))
	for i := range resp.Results {
		vehicles = append(vehicles, resp.Results[i].toModel())
	}
	return vehicles, nil
}

// VehicleState returns the current state of one vehicle without waking it.
func (c *Client) VehicleState(ctx context.Context, vin string) (*models.Vehicle, error) {
	var vs vehicleState
	if err := c.doRequest(ctx, http.MethodGet, "/"+vin+"/state", &vs); err != nil {
		return nil, err
	}
	return vs.toModel(), nil
}

func (c *Client) command(ctx context.Context, vin, cmd string) error {
	var resp struct {
		Result bool   `json:"result"`
		Reason string `json:"reason"`
	}
	if err := c.doRequest(ctx, http.MethodPost, "/"+vin+"/command/"+cmd, &resp); err != nil {
		return err
	}
	if !resp.Result {
		return fmt.Errorf("%w: %s", ErrCommandRejected, resp.Reason)
	}
	return nil
}

// StopCharging halts an active charge.
func (c *Client) StopCharging(ctx context.Context, vin string) error {
	return c.command(ctx, vin, "stop_charging")
}

// StartCharging resumes a charge on a plugged-in vehicle.
func (c *Client) StartCharging(ctx context.Context, vin string) error {
	return c.command(ctx, vin, "start_charging")
}

// EnergySiteLiveStatus returns the wall connectors attached to an energy
// site, with instantaneous power per unit.
func (c *Client) EnergySiteLiveStatus(ctx context.Context, siteID string) ([]*models.WallConnectorStatus, error) {
	var resp struct {
		WallConnectors []*models.WallConnectorStatus `json:"wall_connectors"`
	}
	path := "/api/1/energy_sites/" + siteID + "/live_status"
	if err := c.doRequest(ctx, http.MethodGet, path, &resp); err != nil {
		return nil, err
	}
	return resp.WallConnectors, nil
}

// ChargeSessions returns the vehicle's cloud-recorded charge history since
// the given time.
func (c *Client) ChargeSessions(ctx context.Context, vin string, since time.Time) ([]*models.VehicleSession, error) {
	q := url.Values{}
	if !since.IsZero() {
		q.Set("from", strconv.FormatInt(since.Unix(), 10))
	}
	path := "/" + vin + "/charges"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp struct {
		Results []chargeRecord `json:"results"`
	}
	if err := c.doRequest(ctx, http.MethodGet, path, &resp); err != nil {
		return nil, err
	}

	sessions := make([]*models.VehicleSession, 0, len(resp.Results))
	for i := range resp.Results {
		sessions = append(sessions, resp.Results[i].toModel(vin))
	}
	return sessions, nil
}
