package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegratingTrackerTrapezoid(t *testing.T) {
	clock := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	tr := NewIntegratingTracker("fleet_twc", 7.5, 0.1, time.Minute)
	tr.now = func() time.Time { return clock }

	require.Nil(t, tr.Update("din-1", "", 6000, true, 4.0))

	for i := 0; i < 10; i++ {
		clock = clock.Add(time.Minute)
		require.Nil(t, tr.Update("din-1", "", 6000, true, 4.0))
	}

	clock = clock.Add(time.Minute)
	s := tr.Update("din-1", "", 0, true, 4.0)
	require.Nil(t, s)

	clock = clock.Add(time.Minute)
	s = tr.Update("din-1", "", 0, false, 4.0)
	require.NotNil(t, s)

	// Ten full-power minutes at 6 kW plus one ramp-down minute averaging
	// 3 kW, then one minute at zero.
	assert.InDelta(t, 1050, s.EnergyWh, 1e-6)
	assert.InDelta(t, 720, s.DurationS, 1e-9)
	assert.InDelta(t, 6000, s.PeakPowerW, 1e-9)
	assert.InDelta(t, 4.0, s.AvgPriceCents, 1e-9)
	assert.InDelta(t, 1.05*4.0, s.SupplyCostCents, 1e-6)
	assert.InDelta(t, 1.05*11.5, s.FullCostCents, 1e-6)
}

func TestIntegratingTrackerDiscardsShortSessions(t *testing.T) {
	clock := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	tr := NewIntegratingTracker("fleet_twc", 7.5, 0.1, time.Minute)
	tr.now = func() time.Time { return clock }

	require.Nil(t, tr.Update("din-1", "", 7000, true, 4.0))
	clock = clock.Add(30 * time.Second)

	assert.Nil(t, tr.Update("din-1", "", 0, false, 4.0))
	assert.Empty(t, tr.States())
}

func TestIntegratingTrackerDiscardsTinySessions(t *testing.T) {
	clock := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	tr := NewIntegratingTracker("fleet_twc", 7.5, 0.1, time.Minute)
	tr.now = func() time.Time { return clock }

	require.Nil(t, tr.Update("din-1", "", 50, true, 4.0))
	for i := 0; i < 5; i++ {
		clock = clock.Add(time.Minute)
		require.Nil(t, tr.Update("din-1", "", 50, true, 4.0))
	}

	clock = clock.Add(time.Minute)
	assert.Nil(t, tr.Update("din-1", "", 0, false, 4.0))
}

func TestIntegratingTrackerPicksUpVINMidSession(t *testing.T) {
	clock := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	tr := NewIntegratingTracker("fleet_twc", 7.5, 0.1, time.Minute)
	tr.now = func() time.Time { return clock }

	require.Nil(t, tr.Update("din-1", "", 6000, true, 4.0))
	for i := 0; i < 5; i++ {
		clock = clock.Add(time.Minute)
		require.Nil(t, tr.Update("din-1", "5YJ3E1EA1PF000001", 6000, true, 4.0))
	}

	clock = clock.Add(time.Minute)
	s := tr.Update("din-1", "", 0, false, 4.0)
	require.NotNil(t, s)
	assert.Equal(t, "5YJ3E1EA1PF000001", s.VIN)
}

func TestIntegratingTrackerTracksUnitsIndependently(t *testing.T) {
	clock := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	tr := NewIntegratingTracker("fleet_twc", 7.5, 0.1, time.Minute)
	tr.now = func() time.Time { return clock }

	require.Nil(t, tr.Update("din-1", "", 6000, true, 4.0))
	require.Nil(t, tr.Update("din-2", "", 8000, true, 4.0))

	for i := 0; i < 5; i++ {
		clock = clock.Add(time.Minute)
		require.Nil(t, tr.Update("din-1", "", 6000, true, 4.0))
		require.Nil(t, tr.Update("din-2", "", 8000, true, 4.0))
	}
	assert.Len(t, tr.States(), 2)

	clock = clock.Add(time.Minute)
	s := tr.Update("din-2", "", 0, false, 4.0)
	require.NotNil(t, s)
	assert.Equal(t, "din-2", s.EntityID)

	// The other unit keeps charging.
	assert.Len(t, tr.States(), 1)
	assert.Equal(t, "din-1", tr.States()[0].EntityID)
}
