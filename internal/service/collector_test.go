package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chargewatch/chargewatch/internal/config"
	"github.com/chargewatch/chargewatch/internal/models"
	"github.com/chargewatch/chargewatch/internal/smartcharge"
	"github.com/chargewatch/chargewatch/internal/state"
)

type recordedPoint struct {
	measurement string
	tags        map[string]string
	fields      map[string]any
	ts          time.Time
}

type fakeSink struct {
	mu     sync.Mutex
	points []recordedPoint
}

func (f *fakeSink) AppendAsync(measurement string, tags map[string]string, fields map[string]any, ts time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points = append(f.points, recordedPoint{measurement, tags, fields, ts})
}

func (f *fakeSink) InsertPrices(context.Context, []models.PriceSample) (int, error) {
	return 0, nil
}

func (f *fakeSink) OldestPriceTime(context.Context) (time.Time, error) {
	return time.Time{}, nil
}

func (f *fakeSink) HasPricesForPeriod(context.Context, time.Time, time.Time) (bool, error) {
	return false, nil
}

func (f *fakeSink) AveragePriceForPeriod(context.Context, time.Time, time.Time) (float64, error) {
	return 0, nil
}

func (f *fakeSink) PriceDaysAvailable(context.Context, int) (int, error) {
	return 0, nil
}

func (f *fakeSink) byMeasurement(name string) []recordedPoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedPoint
	for _, p := range f.points {
		if p.measurement == name {
			out = append(out, p)
		}
	}
	return out
}

func TestDueGatesPerSource(t *testing.T) {
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c := NewCollector(&config.Config{
		CorrelationWindow: 5 * time.Minute,
	}, Deps{}, zap.NewNop())
	c.now = func() time.Time { return clock }

	assert.True(t, c.due("vitals", 30*time.Second))
	assert.False(t, c.due("vitals", 30*time.Second))

	// Another source has its own schedule.
	assert.True(t, c.due("price", 5*time.Minute))

	clock = clock.Add(29 * time.Second)
	assert.False(t, c.due("vitals", 30*time.Second))

	clock = clock.Add(time.Second)
	assert.True(t, c.due("vitals", 30*time.Second))
	assert.False(t, c.due("price", 5*time.Minute))
}

func TestSnapshotStartsEmpty(t *testing.T) {
	c := NewCollector(&config.Config{
		CorrelationWindow: 5 * time.Minute,
	}, Deps{}, zap.NewNop())

	c.rebuildSnapshot()
	assert.Empty(t, c.LiveSessions())
	assert.Empty(t, c.Vehicles())
	assert.Zero(t, c.CurrentPrice())
}

func TestWritesOpenSessionState(t *testing.T) {
	sink := &fakeSink{}
	c := NewCollector(&config.Config{
		TWCID:             "twc",
		DeliveryRateCents: 3,
		CorrelationWindow: 5 * time.Minute,
	}, Deps{Telemetry: sink}, zap.NewNop())
	c.currentPrice = 5

	c.counterTracker.Update(0, 7000, true, c.currentPrice)
	c.counterTracker.Update(1000, 7000, true, c.currentPrice)

	st := c.counterTracker.State()
	require.NotNil(t, st)
	c.writeSessionState(st)

	points := sink.byMeasurement("session_state")
	require.Len(t, points, 1)
	assert.Equal(t, "twc", points[0].tags["entity_id"])
	assert.Equal(t, "twc_local", points[0].tags["source"])
	assert.Equal(t, 1000.0, points[0].fields["energy_wh"])
	assert.Equal(t, 7000.0, points[0].fields["peak_power_w"])
	assert.Equal(t, 5.0, points[0].fields["supply_cost_cents"])
	assert.Equal(t, 8.0, points[0].fields["full_cost_cents"])
}

type stubStats struct {
	stats *models.PriceStatistics
}

func (s stubStats) Get(context.Context, bool) (*models.PriceStatistics, error) {
	return s.stats, nil
}

type stubCommander struct{}

func (stubCommander) StopCharging(context.Context, string) error  { return nil }
func (stubCommander) StartCharging(context.Context, string) error { return nil }

func TestWritesSmartChargingState(t *testing.T) {
	stats := &models.PriceStatistics{
		P10: 1, P25: 2, P50: 4, P75: 6, P90: 9, P95: 12,
		SampleCount: 500,
	}
	controller := smartcharge.NewController(stubStats{stats}, stubCommander{}, nil, nil,
		state.NewManager(zap.NewNop()), smartcharge.Config{
			StopPercentile:    90,
			ResumePercentile:  75,
			MinActionInterval: 10 * time.Minute,
		}, zap.NewNop())

	sink := &fakeSink{}
	c := NewCollector(&config.Config{
		CorrelationWindow: 5 * time.Minute,
	}, Deps{Telemetry: sink, Controller: controller}, zap.NewNop())
	c.currentPrice = 11

	// Price above the stop threshold pauses the vehicle.
	vehicle := &models.Vehicle{VIN: "VIN1", ChargingState: "Charging"}
	action, err := controller.Evaluate(context.Background(), vehicle, c.currentPrice)
	require.NoError(t, err)
	require.NotNil(t, action)

	c.writeSmartChargingState(context.Background())

	points := sink.byMeasurement("smart_charging_state")
	require.Len(t, points, 1)
	assert.Equal(t, "VIN1", points[0].tags["vin"])
	assert.Equal(t, state.StatePausedByPrice, points[0].tags["state"])
	assert.Equal(t, true, points[0].fields["paused_by_us"])
	assert.Equal(t, false, points[0].fields["simulated_pause"])
	assert.Equal(t, 9.0, points[0].fields["stop_threshold"])
	assert.Equal(t, 6.0, points[0].fields["resume_threshold"])
	assert.Equal(t, 11.0, points[0].fields["price_cents"])
}
