package session

import (
	"time"

	"github.com/chargewatch/chargewatch/internal/models"
)

// VehicleTracker tracks sessions from the vehicle's point of view, using
// the cumulative charge_energy_added the cloud reports during a charge.
// One tracker handles many vehicles, keyed by VIN.
type VehicleTracker struct {
	now    func() time.Time
	active map[string]*vehicleSession
}

type vehicleSession struct {
	startTime       time.Time
	displayName     string
	startingBattery int
	startingRangeKm float64
	lastBattery     int
	lastRangeKm     float64
	lastEnergyAdded float64
	peakPowerKw     float64
	chargerType     string
	latitude        float64
	longitude       float64
}

func NewVehicleTracker() *VehicleTracker {
	return &VehicleTracker{
		now:    time.Now,
		active: make(map[string]*vehicleSession),
	}
}

// Update feeds one vehicle state reading. It returns a completed session
// when the vehicle just stopped charging, else nil.
func (t *VehicleTracker) Update(v *models.Vehicle) *models.VehicleSession {
	if v.IsCharging() {
		s, ok := t.active[v.VIN]
		if !ok {
			t.active[v.VIN] = &vehicleSession{
				startTime:       t.now(),
				displayName:     v.DisplayName,
				startingBattery: v.BatteryLevel,
				startingRangeKm: v.BatteryRangeKm,
				lastBattery:     v.BatteryLevel,
				lastRangeKm:     v.BatteryRangeKm,
				lastEnergyAdded: v.ChargeEnergyAdded,
				peakPowerKw:     v.ChargerPowerKw,
				chargerType:     v.ChargerTypeName(),
				latitude:        v.Latitude,
				longitude:       v.Longitude,
			}
			return nil
		}
		s.lastBattery = v.BatteryLevel
		s.lastRangeKm = v.BatteryRangeKm
		s.lastEnergyAdded = v.ChargeEnergyAdded
		if v.ChargerPowerKw > s.peakPowerKw {
			s.peakPowerKw = v.ChargerPowerKw
		}
		return nil
	}

	s, ok := t.active[v.VIN]
	if !ok {
		return nil
	}
	delete(t.active, v.VIN)

	end := t.now()

	// The reading that ends the session may still carry the final
	// cumulative energy. Prefer it over the last mid-session value.
	energy := v.ChargeEnergyAdded
	if energy <= 0 {
		energy = s.lastEnergyAdded
	}

	endBattery := v.BatteryLevel
	if endBattery == 0 {
		endBattery = s.lastBattery
	}
	endRange := v.BatteryRangeKm
	if endRange == 0 {
		endRange = s.lastRangeKm
	}

	out := &models.VehicleSession{
		VIN:             v.VIN,
		DisplayName:     s.displayName,
		StartTime:       s.startTime,
		EndTime:         end,
		StartingBattery: s.startingBattery,
		EndingBattery:   endBattery,
		StartingRangeKm: s.startingRangeKm,
		EndingRangeKm:   endRange,
		EnergyAddedKWh:  energy,
		PeakPowerKw:     s.peakPowerKw,
		ChargerType:     s.chargerType,
		IsHomeCharge:    s.chargerType == "Wall Connector",
		Latitude:        s.latitude,
		Longitude:       s.longitude,
	}
	if d := end.Sub(s.startTime).Hours(); d > 0 {
		out.AvgPowerKw = energy / d
	}
	return out
}

// Charging reports whether a session is in progress for the VIN.
func (t *VehicleTracker) Charging(vin string) bool {
	_, ok := t.active[vin]
	return ok
}
