package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chargewatch/chargewatch/internal/models"
)

func TestVehicleTrackerFullSession(t *testing.T) {
	clock := time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)
	tr := NewVehicleTracker()
	tr.now = func() time.Time { return clock }

	vin := "5YJ3E1EA1PF000001"
	charging := func(level int, energy, power float64) *models.Vehicle {
		return &models.Vehicle{
			VIN:               vin,
			DisplayName:       "Daily Driver",
			BatteryLevel:      level,
			BatteryRangeKm:    float64(level) * 5,
			ChargingState:     "Charging",
			ChargerPowerKw:    power,
			ChargeEnergyAdded: energy,
			ConnChargeCable:   "SAE",
		}
	}

	require.Nil(t, tr.Update(charging(40, 0, 7)))
	require.True(t, tr.Charging(vin))

	clock = clock.Add(time.Hour)
	require.Nil(t, tr.Update(charging(60, 7.0, 7.2)))

	clock = clock.Add(time.Hour)
	s := tr.Update(&models.Vehicle{
		VIN:               vin,
		BatteryLevel:      80,
		BatteryRangeKm:    400,
		ChargingState:     "Complete",
		ChargeEnergyAdded: 14.0,
	})
	require.NotNil(t, s)
	assert.False(t, tr.Charging(vin))

	assert.Equal(t, vin, s.VIN)
	assert.Equal(t, "Daily Driver", s.DisplayName)
	assert.Equal(t, 40, s.StartingBattery)
	assert.Equal(t, 80, s.EndingBattery)
	assert.InDelta(t, 14.0, s.EnergyAddedKWh, 1e-9)
	assert.InDelta(t, 7.2, s.PeakPowerKw, 1e-9)
	assert.InDelta(t, 7.0, s.AvgPowerKw, 1e-9)
	assert.Equal(t, "Wall Connector", s.ChargerType)
	assert.True(t, s.IsHomeCharge)
}

func TestVehicleTrackerFallsBackToLastEnergy(t *testing.T) {
	tr := NewVehicleTracker()

	v := &models.Vehicle{VIN: "VIN1", ChargingState: "Charging", ChargeEnergyAdded: 0}
	require.Nil(t, tr.Update(v))

	v.ChargeEnergyAdded = 5.5
	require.Nil(t, tr.Update(v))

	// The disconnect reading carries no energy, so use the last seen value.
	s := tr.Update(&models.Vehicle{VIN: "VIN1", ChargingState: "Disconnected"})
	require.NotNil(t, s)
	assert.InDelta(t, 5.5, s.EnergyAddedKWh, 1e-9)
}

func TestVehicleTrackerIgnoresIdleVehicles(t *testing.T) {
	tr := NewVehicleTracker()
	assert.Nil(t, tr.Update(&models.Vehicle{VIN: "VIN1", ChargingState: "Disconnected"}))
	assert.False(t, tr.Charging("VIN1"))
}
