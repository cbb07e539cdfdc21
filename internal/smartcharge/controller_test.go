package smartcharge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chargewatch/chargewatch/internal/models"
	"github.com/chargewatch/chargewatch/internal/pricing"
	"github.com/chargewatch/chargewatch/internal/state"
)

type fakeStats struct {
	stats *models.PriceStatistics
	err   error
}

func (f *fakeStats) Get(_ context.Context, _ bool) (*models.PriceStatistics, error) {
	return f.stats, f.err
}

type fakeCommander struct {
	stops, starts int
	stopErr       error
	startErr      error
}

func (f *fakeCommander) StopCharging(_ context.Context, _ string) error {
	f.stops++
	return f.stopErr
}

func (f *fakeCommander) StartCharging(_ context.Context, _ string) error {
	f.starts++
	return f.startErr
}

type fakeActionSink struct {
	actions []*models.ActionRecord
}

func (f *fakeActionSink) InsertAction(_ context.Context, a *models.ActionRecord) error {
	f.actions = append(f.actions, a)
	return nil
}

func testStats() *models.PriceStatistics {
	return &models.PriceStatistics{
		P10: 1, P25: 2, P50: 4, P75: 6, P90: 9, P95: 12,
		SampleCount: 500,
	}
}

func newTestController(dryRun bool) (*Controller, *fakeCommander, *fakeActionSink, *time.Time) {
	clock := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)
	commander := &fakeCommander{}
	sink := &fakeActionSink{}
	c := NewController(
		&fakeStats{stats: testStats()},
		commander,
		sink,
		nil,
		state.NewManager(zap.NewNop()),
		Config{
			DryRun:            dryRun,
			StopPercentile:    90,
			ResumePercentile:  75,
			MinActionInterval: 10 * time.Minute,
		},
		zap.NewNop(),
	)
	c.now = func() time.Time { return clock }
	return c, commander, sink, &clock
}

func chargingVehicle(vin string) *models.Vehicle {
	return &models.Vehicle{VIN: vin, ChargingState: "Charging", ChargerPowerKw: 7}
}

func idleVehicle(vin string) *models.Vehicle {
	return &models.Vehicle{VIN: vin, ChargingState: "Stopped"}
}

func TestControllerPausesOnHighPrice(t *testing.T) {
	c, commander, sink, _ := newTestController(false)
	ctx := context.Background()

	action, err := c.Evaluate(ctx, chargingVehicle("VIN1"), 10.0)
	require.NoError(t, err)
	require.NotNil(t, action)

	assert.Equal(t, models.ActionStop, action.Action)
	assert.True(t, action.Success)
	assert.False(t, action.DryRun)
	assert.InDelta(t, 9.0, action.Threshold, 1e-9)
	assert.Equal(t, 1, commander.stops)
	assert.Len(t, sink.actions, 1)

	status := c.Status()
	require.Len(t, status, 1)
	assert.Equal(t, state.StatePausedByPrice, status[0].State)
}

func TestControllerHysteresis(t *testing.T) {
	c, commander, _, clock := newTestController(false)
	ctx := context.Background()

	action, err := c.Evaluate(ctx, chargingVehicle("VIN1"), 10.0)
	require.NoError(t, err)
	require.NotNil(t, action)

	// Price between the resume and stop thresholds keeps the pause.
	*clock = clock.Add(2 * time.Minute)
	action, err = c.Evaluate(ctx, idleVehicle("VIN1"), 7.0)
	require.NoError(t, err)
	assert.Nil(t, action)

	// Cheap again, but still inside the minimum action interval.
	*clock = clock.Add(3 * time.Minute)
	action, err = c.Evaluate(ctx, idleVehicle("VIN1"), 5.0)
	require.NoError(t, err)
	assert.Nil(t, action)

	*clock = clock.Add(6 * time.Minute)
	action, err = c.Evaluate(ctx, idleVehicle("VIN1"), 5.0)
	require.NoError(t, err)
	require.NotNil(t, action)

	assert.Equal(t, models.ActionResume, action.Action)
	assert.Equal(t, 1, commander.starts)
}

func TestControllerPriceAtThresholdDoesNothing(t *testing.T) {
	c, commander, _, _ := newTestController(false)

	action, err := c.Evaluate(context.Background(), chargingVehicle("VIN1"), 9.0)
	require.NoError(t, err)
	assert.Nil(t, action)
	assert.Zero(t, commander.stops)
}

func TestControllerDryRunSimulates(t *testing.T) {
	c, commander, sink, clock := newTestController(true)
	ctx := context.Background()

	action, err := c.Evaluate(ctx, chargingVehicle("VIN1"), 10.0)
	require.NoError(t, err)
	require.NotNil(t, action)

	assert.Equal(t, models.ActionSimulatedStop, action.Action)
	assert.True(t, action.DryRun)
	assert.Zero(t, commander.stops)

	status := c.Status()
	require.Len(t, status, 1)
	assert.Equal(t, state.StateWouldPause, status[0].State)

	// The vehicle keeps charging in dry run. The observed status must not
	// override the simulated pause.
	*clock = clock.Add(11 * time.Minute)
	action, err = c.Evaluate(ctx, chargingVehicle("VIN1"), 5.0)
	require.NoError(t, err)
	require.NotNil(t, action)

	assert.Equal(t, models.ActionSimulatedStart, action.Action)
	assert.Zero(t, commander.starts)
	assert.Len(t, sink.actions, 2)
}

func TestControllerFailsOpenWithoutStatistics(t *testing.T) {
	c, commander, sink, _ := newTestController(false)
	c.stats = &fakeStats{err: pricing.ErrInsufficientData}

	action, err := c.Evaluate(context.Background(), chargingVehicle("VIN1"), 50.0)
	require.NoError(t, err)
	assert.Nil(t, action)
	assert.Zero(t, commander.stops)
	assert.Empty(t, sink.actions)
}

func TestControllerStopFailureLeavesStateCharging(t *testing.T) {
	c, commander, sink, clock := newTestController(false)
	commander.stopErr = errors.New("vehicle unreachable")
	ctx := context.Background()

	action, err := c.Evaluate(ctx, chargingVehicle("VIN1"), 10.0)
	require.NoError(t, err)
	require.NotNil(t, action)

	assert.False(t, action.Success)
	assert.Equal(t, "vehicle unreachable", action.Reason)
	require.Len(t, sink.actions, 1)

	status := c.Status()
	require.Len(t, status, 1)
	assert.Equal(t, state.StateCharging, status[0].State)

	// Failed attempts do not start the action interval, so the next
	// evaluation can retry immediately.
	commander.stopErr = nil
	*clock = clock.Add(time.Second)
	action, err = c.Evaluate(ctx, chargingVehicle("VIN1"), 10.0)
	require.NoError(t, err)
	require.NotNil(t, action)
	assert.True(t, action.Success)
}

func TestControllerThresholds(t *testing.T) {
	c, _, _, _ := newTestController(false)

	stop, resume, percentile, ok := c.Thresholds(context.Background(), 6.0)
	require.True(t, ok)
	assert.InDelta(t, 9.0, stop, 1e-9)
	assert.InDelta(t, 6.0, resume, 1e-9)
	assert.Equal(t, 75, percentile)

	c.stats = &fakeStats{err: pricing.ErrInsufficientData}
	_, _, _, ok = c.Thresholds(context.Background(), 6.0)
	assert.False(t, ok)
}

func TestControllerTracksVehiclesIndependently(t *testing.T) {
	c, commander, _, _ := newTestController(false)
	ctx := context.Background()

	action, err := c.Evaluate(ctx, chargingVehicle("VIN1"), 10.0)
	require.NoError(t, err)
	require.NotNil(t, action)

	action, err = c.Evaluate(ctx, idleVehicle("VIN2"), 10.0)
	require.NoError(t, err)
	assert.Nil(t, action)

	assert.Equal(t, 1, commander.stops)
	assert.Len(t, c.Status(), 2)
}
