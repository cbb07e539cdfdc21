package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterTrackerFullSession(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := NewCounterTracker("twc-1", "twc_local", 7.5)
	tr.now = func() time.Time { return clock }

	require.Nil(t, tr.Update(0, 7000, true, 4.0))
	require.True(t, tr.Active())

	clock = clock.Add(time.Minute)
	require.Nil(t, tr.Update(1000, 7200, true, 4.0))

	clock = clock.Add(time.Minute)
	require.Nil(t, tr.Update(2000, 7100, true, 6.0))

	state := tr.State()
	require.NotNil(t, state)
	assert.InDelta(t, 2000, state.EnergyWh, 1e-9)
	assert.InDelta(t, 7200, state.PeakPowerW, 1e-9)
	assert.InDelta(t, 10.0, state.SupplyCostCents, 1e-9)
	assert.InDelta(t, 25.0, state.FullCostCents, 1e-9)

	clock = clock.Add(time.Minute)
	s := tr.Update(2500, 0, false, 5.0)
	require.NotNil(t, s)
	assert.False(t, tr.Active())
	assert.Nil(t, tr.State())

	// The charger's own counter wins over the tracked total.
	assert.InDelta(t, 2500, s.EnergyWh, 1e-9)
	assert.InDelta(t, 180, s.DurationS, 1e-9)
	assert.InDelta(t, 7200, s.PeakPowerW, 1e-9)

	// Costs are recomputed from the final energy at the mean observed price.
	assert.InDelta(t, 5.0, s.AvgPriceCents, 1e-9)
	assert.InDelta(t, 12.5, s.SupplyCostCents, 1e-9)
	assert.InDelta(t, 31.25, s.FullCostCents, 1e-9)
}

func TestCounterTrackerResetMidSession(t *testing.T) {
	tr := NewCounterTracker("twc-1", "twc_local", 7.5)

	require.Nil(t, tr.Update(0, 5000, true, 3.0))
	require.Nil(t, tr.Update(100, 5000, true, 3.0))
	require.Nil(t, tr.Update(150, 5000, true, 3.0))

	// Counter dropped back, so the new value counts from the reset.
	// Increments are 100, 50, 40 and never negative.
	require.Nil(t, tr.Update(40, 5000, true, 3.0))

	s := tr.Update(0, 0, false, 3.0)
	require.NotNil(t, s)
	assert.InDelta(t, 190, s.EnergyWh, 1e-9)
}

func TestCounterTrackerFallsBackToTrackedTotal(t *testing.T) {
	tr := NewCounterTracker("twc-1", "twc_local", 7.5)

	require.Nil(t, tr.Update(0, 4000, true, 2.0))
	require.Nil(t, tr.Update(800, 4000, true, 2.0))

	// Closing reading reports no counter, so the tracked total is used.
	s := tr.Update(0, 0, false, 2.0)
	require.NotNil(t, s)
	assert.InDelta(t, 800, s.EnergyWh, 1e-9)
}

func TestCounterTrackerZeroPricesKeepAccumulatedCosts(t *testing.T) {
	tr := NewCounterTracker("twc-1", "twc_local", 7.5)

	require.Nil(t, tr.Update(0, 4000, true, 0))
	require.Nil(t, tr.Update(1000, 4000, true, 0))
	require.Nil(t, tr.Update(2000, 4000, true, 0))

	s := tr.Update(2000, 0, false, 0)
	require.NotNil(t, s)

	// No positive price samples, so the per-delta accumulation stands.
	assert.InDelta(t, 0, s.AvgPriceCents, 1e-9)
	assert.InDelta(t, 0, s.SupplyCostCents, 1e-9)
	assert.InDelta(t, 15.0, s.FullCostCents, 1e-9)
}

func TestCounterTrackerIdleReadingsProduceNothing(t *testing.T) {
	tr := NewCounterTracker("twc-1", "twc_local", 7.5)

	assert.Nil(t, tr.Update(0, 0, false, 3.0))
	assert.Nil(t, tr.Update(0, 0, false, 3.0))
	assert.False(t, tr.Active())
}
