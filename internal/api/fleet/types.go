package fleet

import (
	"time"

	"github.com/chargewatch/chargewatch/internal/models"
)

// vehicleState is the cloud API's nested vehicle payload.
type vehicleState struct {
	VIN         string `json:"vin"`
	DisplayName string `json:"display_name"`
	State       string `json:"state"`
	ChargeState struct {
		BatteryLevel       int     `json:"battery_level"`
		BatteryRange       float64 `json:"battery_range"`
		ChargingState      string  `json:"charging_state"`
		ChargerPower       float64 `json:"charger_power"`
		ChargeAmps         int     `json:"charge_amps"`
		ChargeEnergyAdded  float64 `json:"charge_energy_added"`
		TimeToFullCharge   float64 `json:"time_to_full_charge"`
		FastChargerPresent bool    `json:"fast_charger_present"`
		ConnChargeCable    string  `json:"conn_charge_cable"`
	} `json:"charge_state"`
	DriveState struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"drive_state"`
}

const milesToKm = 1.609344

func (v *vehicleState) toModel() *models.Vehicle {
	return &models.Vehicle{
		VIN:               v.VIN,
		DisplayName:       v.DisplayName,
		State:             v.State,
		BatteryLevel:      v.ChargeState.BatteryLevel,
		BatteryRangeKm:    v.ChargeState.BatteryRange * milesToKm,
		ChargingState:     v.ChargeState.ChargingState,
		ChargerPowerKw:    v.ChargeState.ChargerPower,
		ChargeAmps:        v.ChargeState.ChargeAmps,
		ChargeEnergyAdded: v.ChargeState.ChargeEnergyAdded,
		TimeToFullCharge:  v.ChargeState.TimeToFullCharge,
		FastCharger:       v.ChargeState.FastChargerPresent,
		ConnChargeCable:   v.ChargeState.ConnChargeCable,
		Latitude:          v.DriveState.Latitude,
		Longitude:         v.DriveState.Longitude,
	}
}

// chargeRecord is one entry of the cloud charge history.
type chargeRecord struct {
	StartedAt       int64   `json:"started_at"`
	EndedAt         int64   `json:"ended_at"`
	StartingBattery int     `json:"starting_battery"`
	EndingBattery   int     `json:"ending_battery"`
	StartingRange   float64 `json:"starting_range"`
	EndingRange     float64 `json:"ending_range"`
	EnergyAdded     float64 `json:"energy_added"`
	MaxPower        float64 `json:"max_power"`
	ChargerType     string  `json:"charger_type"`
	IsSupercharger  bool    `json:"is_supercharger"`
	Latitude        float64 `json:"latitude"`
	Longitude       float64 `json:"longitude"`
}

func (r *chargeRecord) toModel(vin string) *models.VehicleSession {
	start := time.Unix(r.StartedAt, 0).UTC()
	end := time.Unix(r.EndedAt, 0).UTC()
	s := &models.VehicleSession{
		VIN:             vin,
		StartTime:       start,
		EndTime:         end,
		StartingBattery: r.StartingBattery,
		EndingBattery:   r.EndingBattery,
		StartingRangeKm: r.StartingRange * milesToKm,
		EndingRangeKm:   r.EndingRange * milesToKm,
		EnergyAddedKWh:  r.EnergyAdded,
		PeakPowerKw:     r.MaxPower,
		ChargerType:     r.ChargerType,
		Latitude:        r.Latitude,
		Longitude:       r.Longitude,
	}
	if r.IsSupercharger {
		s.ChargerType = "Supercharger"
	}
	if d := end.Sub(start).Hours(); d > 0 {
		s.AvgPowerKw = r.EnergyAdded / d
	}
	return s
}
